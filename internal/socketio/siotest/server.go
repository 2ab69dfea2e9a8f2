// Package siotest provides an in-process Socket.IO server for tests.
package siotest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/socketio"
)

// Message is an event emitted by a client.
type Message struct {
	Event   string
	Payload json.RawMessage
}

// Server speaks enough Engine.IO v4 / Socket.IO v5 to drive a client:
// open handshake, pings, namespace connect, events both ways.
type Server struct {
	*httptest.Server

	PingInterval time.Duration
	PingTimeout  time.Duration
	// Greeting, when set, is emitted as a "status" event after each
	// namespace connect.
	Greeting any

	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*serverConn]struct{}
	rejected bool
	silent   bool

	connects atomic.Int64
	pongs    atomic.Int64
	received chan Message
	joined   chan string
}

type serverConn struct {
	ws      *websocket.Conn
	sid     string
	writeMu sync.Mutex
	ready   bool
	done    chan struct{}
}

// NewServer starts a server on a random local port.
func NewServer() *Server {
	s := &Server{
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		conns:        make(map[*serverConn]struct{}),
		received:     make(chan Message, 64),
		joined:       make(chan string, 16),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Received delivers events emitted by clients.
func (s *Server) Received() <-chan Message { return s.received }

// Joined delivers the sid of every namespace connect.
func (s *Server) Joined() <-chan string { return s.joined }

// Connects returns the number of namespace connects so far.
func (s *Server) Connects() int64 { return s.connects.Load() }

// Pongs returns the number of pongs received.
func (s *Server) Pongs() int64 { return s.pongs.Load() }

// Reject makes the server refuse new websocket upgrades while on is true.
func (s *Server) Reject(on bool) {
	s.mu.Lock()
	s.rejected = on
	s.mu.Unlock()
}

// Silence stops the server from sending pings, so clients hit their ping
// timeout.
func (s *Server) Silence(on bool) {
	s.mu.Lock()
	s.silent = on
	s.mu.Unlock()
}

// Emit sends an event to every connected client and returns how many
// received it.
func (s *Server) Emit(event string, payload any) (int, error) {
	msg, err := socketio.EncodeEvent("/", event, payload)
	if err != nil {
		return 0, err
	}
	return s.broadcast(msg), nil
}

// EmitRaw sends a raw Engine.IO frame to every connected client.
func (s *Server) EmitRaw(frame string) int {
	return s.broadcast(frame)
}

// DropAll closes every client connection without a close handshake.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
}

// Clients returns the number of namespace-connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for c := range s.conns {
		if c.ready {
			n++
		}
	}
	return n
}

// Close drops every client and shuts the listener down.
func (s *Server) Close() {
	s.DropAll()
	s.Server.Close()
}

func (s *Server) broadcast(frame string) int {
	s.mu.Lock()
	var targets []*serverConn
	for c := range s.conns {
		if c.ready {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, c := range targets {
		if c.write(frame) == nil {
			n++
		}
	}
	return n
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rejected := s.rejected
	s.mu.Unlock()
	if rejected {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.URL.Query().Get("EIO") != "4" || r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "bad transport", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &serverConn{ws: ws, sid: uuid.NewString(), done: make(chan struct{})}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		close(c.done)
		ws.Close()
	}()

	open, _ := json.Marshal(socketio.OpenInfo{
		SID:          c.sid,
		Upgrades:     []string{},
		PingInterval: int(s.PingInterval / time.Millisecond),
		PingTimeout:  int(s.PingTimeout / time.Millisecond),
		MaxPayload:   1000000,
	})
	if err := c.write(string(socketio.EngineOpen) + string(open)); err != nil {
		return
	}

	go s.pingLoop(c)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		switch data[0] {
		case socketio.EnginePong:
			s.pongs.Add(1)
		case socketio.EngineClose:
			return
		case socketio.EngineMessage:
			if !s.handlePacket(c, string(data[1:])) {
				return
			}
		}
	}
}

func (s *Server) handlePacket(c *serverConn, raw string) bool {
	p, err := socketio.ParsePacket(raw)
	if err != nil {
		return true
	}
	switch p.Type {
	case socketio.PacketConnect:
		sid := uuid.NewString()
		ack := fmt.Sprintf(`%c%c{"sid":%q}`, socketio.EngineMessage, socketio.PacketConnect, sid)
		if err := c.write(ack); err != nil {
			return false
		}
		s.mu.Lock()
		c.ready = true
		s.mu.Unlock()
		s.connects.Add(1)
		select {
		case s.joined <- sid:
		default:
		}
		if s.Greeting != nil {
			if msg, err := socketio.EncodeEvent("/", "status", s.Greeting); err == nil {
				_ = c.write(msg)
			}
		}
	case socketio.PacketDisconnect:
		return false
	case socketio.PacketEvent:
		name, payload, err := socketio.DecodeEvent(p.Data)
		if err != nil {
			return true
		}
		select {
		case s.received <- Message{Event: name, Payload: payload}:
		default:
		}
	}
	return true
}

func (s *Server) pingLoop(c *serverConn) {
	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			silent := s.silent
			s.mu.Unlock()
			if silent {
				continue
			}
			if err := c.write(string(socketio.EnginePing)); err != nil {
				return
			}
		}
	}
}

func (c *serverConn) write(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

// Package socketio is a minimal Socket.IO v5 client over the Engine.IO v4
// websocket transport, with socket.io-client style automatic reconnection.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/logger"
)

var (
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("socketio: client closed")
	// ErrNotConnected is returned by Emit while no namespace session is up.
	ErrNotConnected = errors.New("socketio: not connected")
	// ErrReconnectFailed ends Run after MaxAttempts consecutive failures.
	ErrReconnectFailed = errors.New("socketio: reconnect attempts exhausted")

	errServerClose   = errors.New("socketio: server closed the engine session")
	errNamespaceDown = errors.New("socketio: server disconnected the namespace")
)

const writeWait = 5 * time.Second

// Handler receives connection lifecycle and event callbacks. All callbacks
// run on the client's connection goroutine, one at a time. Nil fields are
// skipped.
type Handler struct {
	OnConnect func(sid string)
	// OnDisconnect fires when an established session drops. It is not
	// called for Close or context cancellation.
	OnDisconnect func(err error)
	// OnConnectError fires for each failed connection attempt.
	OnConnectError func(attempt int, err error)
	OnEvent        func(event string, payload json.RawMessage)
}

// Options configures a Client.
type Options struct {
	// URL is the server base, http(s):// or ws(s)://.
	URL       string
	Path      string
	Namespace string
	Header    http.Header
	Dialer    *websocket.Dialer

	HandshakeTimeout    time.Duration
	ReconnectDelay      time.Duration
	ReconnectDelayMax   time.Duration
	RandomizationFactor float64
	// MaxAttempts bounds consecutive failed attempts; 0 is unlimited.
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = "/socket.io/"
	}
	o.Namespace = normalizeNamespace(o.Namespace)
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.ReconnectDelayMax < o.ReconnectDelay {
		o.ReconnectDelayMax = 5 * time.Second
		if o.ReconnectDelayMax < o.ReconnectDelay {
			o.ReconnectDelayMax = o.ReconnectDelay
		}
	}
	return o
}

// Endpoint builds the websocket transport URL for base and path.
func Endpoint(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("socketio: parse url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("socketio: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("socketio: url %q has no host", base)
	}
	if path == "" {
		path = "/socket.io/"
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	u.Path = path
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client is one Socket.IO connection that reconnects until closed.
type Client struct {
	opts     Options
	handler  Handler
	endpoint string

	mu      sync.Mutex
	conn    *websocket.Conn
	sid     string
	started bool
	err     error

	writeMu sync.Mutex

	closed chan struct{}
	done   chan struct{}
}

// New validates opts and returns an idle client. Call Start to connect.
func New(opts Options, h Handler) (*Client, error) {
	opts = opts.withDefaults()
	endpoint, err := Endpoint(opts.URL, opts.Path)
	if err != nil {
		return nil, err
	}
	return &Client{
		opts:     opts,
		handler:  h,
		endpoint: endpoint,
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the connection goroutine. It connects immediately and
// keeps reconnecting until ctx is cancelled, Close is called, or
// MaxAttempts consecutive attempts fail.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true
	go c.run(ctx)
	return nil
}

// Done is closed when the connection goroutine has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection goroutine exited.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Connected reports whether a namespace session is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.sid != ""
}

// SID returns the namespace session id, empty while disconnected.
func (c *Client) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// Emit sends an event on the namespace.
func (c *Client) Emit(event string, payload any) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.mu.Lock()
	conn, sid := c.conn, c.sid
	c.mu.Unlock()
	if conn == nil || sid == "" {
		return ErrNotConnected
	}
	msg, err := EncodeEvent(c.opts.Namespace, event, payload)
	if err != nil {
		return fmt.Errorf("socketio: encode %s: %w", event, err)
	}
	return c.write(conn, msg)
}

// Close disconnects, stops reconnecting and waits for the connection
// goroutine to exit. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.isClosed() {
		close(c.closed)
	}
	conn, sid, started := c.conn, c.sid, c.started
	c.mu.Unlock()

	if conn != nil {
		if sid != "" {
			_ = c.write(conn, DisconnectPacket(c.opts.Namespace))
		}
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if started {
		<-c.done
	}
	return nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) stopping(ctx context.Context) bool {
	return c.isClosed() || ctx.Err() != nil
}

func (c *Client) run(parent context.Context) {
	defer close(c.done)

	// Close must also abort a dial or upgrade in flight.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.ReconnectDelay
	bo.MaxInterval = c.opts.ReconnectDelayMax
	bo.Multiplier = 2
	bo.RandomizationFactor = c.opts.RandomizationFactor
	bo.Reset()

	failures := 0
	for {
		connected, err := c.session(ctx)
		if c.stopping(ctx) {
			c.finish(ctx, ErrClosed)
			return
		}

		if connected {
			logger.Warn("SocketIO", "Connection lost: %v", err)
			if c.handler.OnDisconnect != nil {
				c.handler.OnDisconnect(err)
			}
			bo.Reset()
			failures = 0
		} else {
			failures++
			logger.Debug("SocketIO", "Connect attempt %d failed: %v", failures, err)
			if c.handler.OnConnectError != nil {
				c.handler.OnConnectError(failures, err)
			}
			if c.opts.MaxAttempts > 0 && failures >= c.opts.MaxAttempts {
				c.finish(ctx, fmt.Errorf("%w after %d attempts: %v", ErrReconnectFailed, failures, err))
				return
			}
		}

		delay := bo.NextBackOff()
		if delay < 0 {
			delay = c.opts.ReconnectDelayMax
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.finish(ctx, ErrClosed)
			return
		case <-c.closed:
			timer.Stop()
			c.finish(ctx, ErrClosed)
			return
		case <-timer.C:
		}
	}
}

func (c *Client) finish(ctx context.Context, err error) {
	if ctx.Err() != nil && !c.isClosed() {
		err = ctx.Err()
	}
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// session runs one connection from dial to drop. connected reports whether
// the namespace handshake completed.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	conn, resp, err := c.opts.Dialer.DialContext(dialCtx, c.endpoint, c.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	if !c.attach(conn) {
		conn.Close()
		return false, ErrClosed
	}
	defer c.detach(conn)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	open, err := c.handshake(conn)
	if err != nil {
		return false, err
	}

	logger.Info("SocketIO", "Connected to %s (sid=%s)", c.opts.URL, c.SID())
	if c.handler.OnConnect != nil {
		c.handler.OnConnect(c.SID())
	}

	return true, c.readLoop(conn, open)
}

func (c *Client) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return false
	}
	c.conn = conn
	c.sid = ""
	return true
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.sid = ""
	}
	c.mu.Unlock()
	conn.Close()
}

// handshake reads the Engine.IO open packet, requests the namespace and
// waits for its acknowledgement.
func (c *Client) handshake(conn *websocket.Conn) (OpenInfo, error) {
	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return OpenInfo{}, err
	}

	msg, err := readText(conn)
	if err != nil {
		return OpenInfo{}, fmt.Errorf("read open packet: %w", err)
	}
	if msg == "" || msg[0] != EngineOpen {
		return OpenInfo{}, fmt.Errorf("expected open packet, got %q", msg)
	}
	var open OpenInfo
	if err := json.Unmarshal([]byte(msg[1:]), &open); err != nil {
		return OpenInfo{}, fmt.Errorf("decode open packet: %w", err)
	}

	if err := c.write(conn, ConnectPacket(c.opts.Namespace, nil)); err != nil {
		return OpenInfo{}, fmt.Errorf("send connect: %w", err)
	}

	for {
		msg, err := readText(conn)
		if err != nil {
			return OpenInfo{}, fmt.Errorf("await connect: %w", err)
		}
		switch msg[0] {
		case EnginePing:
			if err := c.write(conn, string(EnginePong)+msg[1:]); err != nil {
				return OpenInfo{}, err
			}
			continue
		case EngineClose:
			return OpenInfo{}, errServerClose
		case EngineMessage:
		default:
			continue
		}

		p, err := ParsePacket(msg[1:])
		if err != nil || p.Namespace != c.opts.Namespace {
			continue
		}
		switch p.Type {
		case PacketConnect:
			var ack struct {
				SID string `json:"sid"`
			}
			if len(p.Data) > 0 {
				_ = json.Unmarshal(p.Data, &ack)
			}
			if ack.SID == "" {
				ack.SID = open.SID
			}
			c.mu.Lock()
			c.sid = ack.SID
			c.mu.Unlock()
			return open, nil
		case PacketConnectError:
			return OpenInfo{}, fmt.Errorf("namespace %s refused: %s", c.opts.Namespace, p.Data)
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, open OpenInfo) error {
	timeout := time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		msg, err := readText(conn)
		if err != nil {
			return err
		}

		switch msg[0] {
		case EnginePing:
			if err := c.write(conn, string(EnginePong)+msg[1:]); err != nil {
				return err
			}
		case EngineClose:
			return errServerClose
		case EngineMessage:
			if err := c.handlePacket(msg[1:]); err != nil {
				return err
			}
		}
	}
}

func (c *Client) handlePacket(raw string) error {
	p, err := ParsePacket(raw)
	if err != nil {
		logger.Warn("SocketIO", "Dropping malformed packet: %v", err)
		return nil
	}
	if p.Namespace != c.opts.Namespace {
		return nil
	}

	switch p.Type {
	case PacketDisconnect:
		return errNamespaceDown
	case PacketEvent:
		name, payload, err := DecodeEvent(p.Data)
		if err != nil {
			logger.Warn("SocketIO", "Dropping malformed event: %v", err)
			return nil
		}
		if c.handler.OnEvent != nil {
			c.handler.OnEvent(name, payload)
		}
	case PacketBinaryEvent:
		logger.Debug("SocketIO", "Ignoring binary event")
	}
	return nil
}

// readText returns the next non-empty text frame.
func readText(conn *websocket.Conn) (string, error) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if mt == websocket.TextMessage && len(data) > 0 {
			return string(data), nil
		}
	}
}

func (c *Client) write(conn *websocket.Conn, msg string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

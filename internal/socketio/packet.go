package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types (first byte of every websocket text frame).
const (
	EngineOpen    = '0'
	EngineClose   = '1'
	EnginePing    = '2'
	EnginePong    = '3'
	EngineMessage = '4'
	EngineUpgrade = '5'
	EngineNoop    = '6'
)

// Socket.IO v5 packet types, carried inside an Engine.IO message.
const (
	PacketConnect      = '0'
	PacketDisconnect   = '1'
	PacketEvent        = '2'
	PacketAck          = '3'
	PacketConnectError = '4'
	PacketBinaryEvent  = '5'
	PacketBinaryAck    = '6'
)

// OpenInfo is the payload of the Engine.IO open packet. Intervals are in
// milliseconds on the wire.
type OpenInfo struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// Packet is a decoded Socket.IO packet.
type Packet struct {
	Type      byte
	Namespace string
	// ID is the ack id, or -1 when the packet carries none.
	ID   int64
	Data json.RawMessage
}

var errEmptyPacket = errors.New("socketio: empty packet")

// ParsePacket decodes a Socket.IO packet with the Engine.IO message prefix
// already stripped, e.g. `2/admin,17["event",{}]`.
func ParsePacket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, errEmptyPacket
	}
	p := Packet{Type: s[0], Namespace: "/", ID: -1}
	if p.Type < PacketConnect || p.Type > PacketBinaryAck {
		return Packet{}, fmt.Errorf("socketio: unknown packet type %q", p.Type)
	}
	rest := s[1:]

	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		i := strings.IndexByte(rest, '-')
		if i < 0 {
			return Packet{}, fmt.Errorf("socketio: malformed binary packet %q", s)
		}
		rest = rest[i+1:]
	}

	if strings.HasPrefix(rest, "/") {
		if i := strings.IndexByte(rest, ','); i >= 0 {
			p.Namespace, rest = rest[:i], rest[i+1:]
		} else {
			p.Namespace, rest = rest, ""
		}
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.ParseInt(rest[:i], 10, 64)
		if err != nil {
			return Packet{}, fmt.Errorf("socketio: bad ack id: %w", err)
		}
		p.ID, rest = id, rest[i:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return Packet{}, fmt.Errorf("socketio: invalid packet data %q", rest)
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// DecodeEvent splits event packet data into the event name and its first
// argument. A missing argument yields a nil payload.
func DecodeEvent(data json.RawMessage) (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil {
		return "", nil, fmt.Errorf("socketio: event is not an array: %w", err)
	}
	if len(args) == 0 {
		return "", nil, errors.New("socketio: event without name")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil || name == "" {
		return "", nil, fmt.Errorf("socketio: event name %s is not a string", args[0])
	}
	if len(args) == 1 {
		return name, nil, nil
	}
	return name, args[1], nil
}

// EncodeEvent renders an Engine.IO message carrying a Socket.IO event.
func EncodeEvent(namespace, event string, payload any) (string, error) {
	args := []any{event}
	if payload != nil {
		args = append(args, payload)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string([]byte{EngineMessage, PacketEvent}) + nsPrefix(namespace) + string(data), nil
}

// ConnectPacket renders the namespace connect request. Data may be nil.
func ConnectPacket(namespace string, data json.RawMessage) string {
	return string([]byte{EngineMessage, PacketConnect}) + nsPrefix(namespace) + string(data)
}

// DisconnectPacket renders the namespace disconnect notice.
func DisconnectPacket(namespace string) string {
	return string([]byte{EngineMessage, PacketDisconnect}) + nsPrefix(namespace)
}

func nsPrefix(namespace string) string {
	if namespace == "" || namespace == "/" {
		return ""
	}
	return namespace + ","
}

func normalizeNamespace(ns string) string {
	if ns == "" {
		return "/"
	}
	if !strings.HasPrefix(ns, "/") {
		return "/" + ns
	}
	return ns
}

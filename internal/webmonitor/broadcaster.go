package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/logger"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/metrics"
)

// SerializedEvent is one SSE event, serialized once in both formats.
type SerializedEvent struct {
	Name         string
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // structpb.Struct, base64 encoded for SSE
}

// Broadcaster fans serialized events out to SSE clients. Slow clients skip
// events rather than block the publisher.
type Broadcaster struct {
	name    string
	replay  bool
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	last    *SerializedEvent
	stopped bool
}

// NewBroadcaster creates a broadcaster. With replay set, a new client first
// receives the most recent event.
func NewBroadcaster(name string, replay bool, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		name:    name,
		replay:  replay,
		metrics: m,
		clients: make(map[int]chan *SerializedEvent),
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (b *Broadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *SerializedEvent, 4)
	if b.stopped {
		close(ch)
		return id, ch
	}
	if b.replay && b.last != nil {
		ch <- b.last
	}
	b.clients[id] = ch
	b.metrics.ClientConnected()

	logger.Debug(b.name, "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		b.metrics.ClientDisconnected()
		logger.Debug(b.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// Clients returns the number of subscribed clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Publish serializes payload and sends it to every client.
func (b *Broadcaster) Publish(event string, payload any) error {
	ev, err := serializeEvent(event, payload)
	if err != nil {
		logger.Error(b.name, "Serialize %s: %v", event, err)
		return err
	}
	b.broadcast(ev)
	return nil
}

// Stop closes every client channel. Later subscribers get a closed channel.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
		b.metrics.ClientDisconnected()
	}
}

func (b *Broadcaster) broadcast(event *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.last = event

	for id, ch := range b.clients {
		select {
		case ch <- event:
		default:
			logger.Debug(b.name, "Client #%d is behind, skipping %s", id, event.Name)
		}
	}
}

// serializeEvent renders payload as JSON and as a protobuf Struct built
// from that JSON. payload must marshal to a JSON object.
func serializeEvent(event string, payload any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return nil, fmt.Errorf("%s payload is not an object: %w", event, err)
	}
	st, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, fmt.Errorf("protobuf struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		Name:         event,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

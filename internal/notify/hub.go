// Package notify delivers user-visible notifications to the display layer
// and to optional relay channels.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/logger"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/metrics"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/ring"
	"github.com/dj-oyu/facemask-monitor/dashboard/pkg/types"
)

// Level is the notification severity shown to the user.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Source tags what raised a notification.
const (
	SourceConnection = "connection"
	SourceAlert      = "alert"
	SourceControl    = "control"
	SourceSettings   = "settings"
)

// Notification is one user-visible message.
type Notification struct {
	ID      string       `json:"id"`
	Level   Level        `json:"level"`
	Title   string       `json:"title"`
	Message string       `json:"message"`
	Source  string       `json:"source"`
	At      time.Time    `json:"at"`
	Alert   *types.Alert `json:"alert,omitempty"`
}

// Channel relays notifications outside the process.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Clock provides time for stamping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures the hub.
type Option func(*Hub)

// WithChannels adds relay channels.
func WithChannels(channels ...Channel) Option {
	return func(h *Hub) {
		for _, c := range channels {
			if c != nil {
				h.channels = append(h.channels, c)
			}
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(h *Hub) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithMetrics counts notifications per level.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// WithSendTimeout bounds each relay delivery.
func WithSendTimeout(timeout time.Duration) Option {
	return func(h *Hub) {
		if timeout > 0 {
			h.sendTimeout = timeout
		}
	}
}

// Hub keeps a bounded notification history, fans notifications out to
// subscribers and forwards them to relay channels in the background.
type Hub struct {
	mu       sync.Mutex
	history  *ring.Buffer[Notification]
	clients  map[int]chan Notification
	nextID   int
	stopped  bool
	channels []Channel

	clock       Clock
	metrics     *metrics.Metrics
	sendTimeout time.Duration
	relays      sync.WaitGroup
}

// NewHub creates a hub that remembers the last historySize notifications.
func NewHub(historySize int, opts ...Option) *Hub {
	h := &Hub{
		history:     ring.New(historySize, func(n Notification) string { return n.ID }),
		clients:     make(map[int]chan Notification),
		clock:       systemClock{},
		sendTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Notify stamps n, records it and delivers it. It never blocks on slow
// subscribers or relays.
func (h *Hub) Notify(n Notification) Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.At.IsZero() {
		n.At = h.clock.Now()
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return n
	}
	h.history.Push(n)
	for _, ch := range h.clients {
		select {
		case ch <- n:
		default:
			// Slow subscriber; it can resync from History.
		}
	}
	channels := h.channels
	if len(channels) > 0 {
		h.relays.Add(1)
	}
	h.mu.Unlock()

	h.metrics.Notification(string(n.Level))
	logger.Info("Notify", "[%s] %s: %s", n.Level, n.Title, n.Message)

	if len(channels) > 0 {
		go h.relay(channels, n)
	}
	return n
}

func (h *Hub) relay(channels []Channel, n Notification) {
	defer h.relays.Done()
	for _, c := range channels {
		ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
		if err := c.Send(ctx, n); err != nil {
			logger.Warn("Notify", "Relay %s failed for %s: %v", c.Name(), n.ID, err)
		}
		cancel()
	}
}

// History returns the remembered notifications, newest first.
func (h *Hub) History() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.history.Items()
}

// Subscribe registers a subscriber channel.
func (h *Hub) Subscribe() (int, <-chan Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Notification, 16)
	if h.stopped {
		close(ch)
		return id, ch
	}
	h.clients[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber channel.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
}

// Close waits for in-flight relays and closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
	h.mu.Unlock()
	h.relays.Wait()
}

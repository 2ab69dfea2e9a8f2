// Package stream is the dashboard's push event client. It owns the single
// Socket.IO connection of a session, tracks its connection state and
// dispatches inbound events by name.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/logger"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/metrics"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/notify"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/socketio"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/view"
	"github.com/dj-oyu/facemask-monitor/dashboard/pkg/types"
)

// Inbound event names.
const (
	EventDetection    = "detection_update"
	EventAlert        = "alert"
	EventCameraStatus = "camera_status"
	EventStatus       = "status"
)

// DefaultSubscriptions are emitted after every connect.
var DefaultSubscriptions = []string{"subscribe_detections", "subscribe_camera_status"}

// Sink receives state changes and decoded events. Calls arrive from the
// connection goroutine, one at a time.
type Sink interface {
	ConnectionChanged(state view.ConnectionState)
	DetectionPushed(d types.Detection)
	AlertPushed(a types.Alert)
}

// Notifier emits user-visible notifications. *notify.Hub implements it.
type Notifier interface {
	Notify(n notify.Notification) notify.Notification
}

// Options configures a Client.
type Options struct {
	Socket socketio.Options
	// Subscribe lists the events emitted after each connect; nil selects
	// DefaultSubscriptions.
	Subscribe []string
	Metrics   *metrics.Metrics
}

// Client is the push connection of one dashboard session.
type Client struct {
	sock      *socketio.Client
	sink      Sink
	notifier  Notifier
	subscribe []string
	metrics   *metrics.Metrics

	mu        sync.Mutex
	state     view.ConnectionState
	connected bool // at least once
}

// New creates a client in the connecting state.
func New(opts Options, sink Sink, notifier Notifier) (*Client, error) {
	subs := opts.Subscribe
	if subs == nil {
		subs = DefaultSubscriptions
	}
	c := &Client{
		sink:      sink,
		notifier:  notifier,
		subscribe: subs,
		metrics:   opts.Metrics,
		state:     view.Connecting,
	}
	sock, err := socketio.New(opts.Socket, socketio.Handler{
		OnConnect:      c.onConnect,
		OnDisconnect:   c.onDisconnect,
		OnConnectError: c.onConnectError,
		OnEvent:        c.onEvent,
	})
	if err != nil {
		return nil, err
	}
	c.sock = sock
	return c, nil
}

// Start opens the connection.
func (c *Client) Start(ctx context.Context) error {
	return c.sock.Start(ctx)
}

// Close closes the connection and waits for its goroutine. No
// notification is emitted.
func (c *Client) Close() error {
	return c.sock.Close()
}

// State returns the connection state.
func (c *Client) State() view.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Emit sends a client event on the connection.
func (c *Client) Emit(event string, payload any) error {
	return c.sock.Emit(event, payload)
}

// transition moves to state to. reconnect is set when a previously
// established connection comes back.
func (c *Client) transition(to view.ConnectionState) (from view.ConnectionState, changed, reconnect bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	from = c.state
	if from == to {
		return from, false, false
	}
	c.state = to
	if to == view.Connected {
		reconnect = c.connected
		c.connected = true
	}
	return from, true, reconnect
}

func (c *Client) onConnect(sid string) {
	_, changed, reconnect := c.transition(view.Connected)
	if !changed {
		return
	}
	c.metrics.SetConnectionState(view.Connected.Ordinal())
	if reconnect {
		c.metrics.Reconnected()
	}
	c.sink.ConnectionChanged(view.Connected)
	c.notifier.Notify(notify.Notification{
		Level:   notify.LevelSuccess,
		Title:   "Connected",
		Message: "Real-time updates connected",
		Source:  notify.SourceConnection,
	})

	for _, event := range c.subscribe {
		if err := c.sock.Emit(event, nil); err != nil {
			logger.Warn("Stream", "Subscribe %s failed: %v", event, err)
		}
	}
	logger.Info("Stream", "Connected (sid=%s), subscribed to %s", sid, strings.Join(c.subscribe, ","))
}

func (c *Client) onDisconnect(err error) {
	from, changed, _ := c.transition(view.Disconnected)
	if !changed || from != view.Connected {
		return
	}
	c.metrics.SetConnectionState(view.Disconnected.Ordinal())
	c.sink.ConnectionChanged(view.Disconnected)
	c.notifier.Notify(notify.Notification{
		Level:   notify.LevelError,
		Title:   "Disconnected",
		Message: fmt.Sprintf("Real-time updates lost, reconnecting: %v", err),
		Source:  notify.SourceConnection,
	})
}

// onConnectError marks a failed attempt. Only a failure out of the
// connecting state changes anything, and it is never announced.
func (c *Client) onConnectError(attempt int, err error) {
	logger.Warn("Stream", "Connect attempt %d failed: %v", attempt, err)
	if _, changed, _ := c.transition(view.Disconnected); changed {
		c.metrics.SetConnectionState(view.Disconnected.Ordinal())
		c.sink.ConnectionChanged(view.Disconnected)
	}
}

func (c *Client) onEvent(event string, payload json.RawMessage) {
	switch event {
	case EventDetection:
		var d types.Detection
		if err := decode(payload, &d); err != nil {
			c.malformed(event, err)
			return
		}
		c.metrics.PushEvent(event, "dispatched")
		c.sink.DetectionPushed(d)

	case EventAlert:
		var a types.Alert
		if err := decode(payload, &a); err != nil {
			c.malformed(event, err)
			return
		}
		c.metrics.PushEvent(event, "dispatched")
		c.sink.AlertPushed(a)
		c.notifier.Notify(alertNotification(a))

	case EventCameraStatus:
		c.metrics.PushEvent(event, "logged")
		zl := logger.Module("Stream")
		ev := zl.Info()
		if json.Valid(payload) {
			ev = ev.RawJSON("payload", payload)
		}
		ev.Msg("Camera status")

	case EventStatus:
		c.metrics.PushEvent(event, "logged")
		logger.Debug("Stream", "Server status: %s", compact(payload))

	default:
		c.metrics.PushEvent(event, "ignored")
		logger.Debug("Stream", "Ignoring event %s", event)
	}
}

func (c *Client) malformed(event string, err error) {
	c.metrics.PushEvent(event, "malformed")
	logger.Warn("Stream", "Dropping malformed %s: %v", event, err)
}

func decode(payload json.RawMessage, out any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(payload, out)
}

func alertNotification(a types.Alert) notify.Notification {
	level := notify.LevelWarning
	switch a.Severity {
	case "high", "critical":
		level = notify.LevelError
	}
	title := "Alert"
	if a.AlertType != "" {
		title = "Alert: " + a.AlertType
	}
	msg := a.Message
	if msg == "" {
		msg = fmt.Sprintf("%s severity alert", a.Severity)
	}
	if a.CameraID != "" {
		msg = fmt.Sprintf("[camera %s] %s", a.CameraID, msg)
	}
	return notify.Notification{
		Level:   level,
		Title:   title,
		Message: msg,
		Source:  notify.SourceAlert,
		Alert:   &a,
	}
}

func compact(payload json.RawMessage) string {
	const max = 256
	s := string(payload)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all dashboard synchronization metrics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Push connection
	ConnectionState atomic.Uint64 // 0 = connecting, 1 = connected, 2 = disconnected
	Reconnects      atomic.Uint64

	// Merged view buffers
	DetectionsBuffered atomic.Uint64
	AlertsBuffered     atomic.Uint64
	ViewVersion        atomic.Uint64

	// Display API clients
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64

	fetches       *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	staleDropped  *prometheus.CounterVec
	pushEvents    *prometheus.CounterVec
	notifications *prometheus.CounterVec
	controls      *prometheus.CounterVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.fetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_snapshot_fetches_total",
		Help: "Snapshot fetches by resource kind and result",
	}, []string{"kind", "result"})

	m.fetchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashboard_snapshot_fetch_seconds",
		Help:    "Snapshot fetch latency by resource kind",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	m.staleDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_snapshot_stale_dropped_total",
		Help: "Snapshot responses dropped because a newer request already resolved",
	}, []string{"kind"})

	m.pushEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_push_events_total",
		Help: "Push events received by event name and outcome",
	}, []string{"event", "outcome"})

	m.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_notifications_total",
		Help: "User-visible notifications emitted by level",
	}, []string{"level"})

	m.controls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_control_actions_total",
		Help: "Control actions relayed to the backend by action and result",
	}, []string{"action", "result"})

	m.registry.MustRegister(m.fetches, m.fetchLatency, m.staleDropped, m.pushEvents, m.notifications, m.controls)

	// Connection metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dashboard_connection_state",
			Help: "Push connection state (0=connecting, 1=connected, 2=disconnected)",
		},
		func() float64 { return float64(m.ConnectionState.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dashboard_reconnects_total",
			Help: "Successful push reconnects after a drop",
		},
		func() float64 { return float64(m.Reconnects.Load()) },
	))

	// Buffer metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dashboard_detections_buffered",
			Help: "Detections held in the merged view",
		},
		func() float64 { return float64(m.DetectionsBuffered.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dashboard_alerts_buffered",
			Help: "Alerts held in the merged view",
		},
		func() float64 { return float64(m.AlertsBuffered.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dashboard_view_version",
			Help: "Number of merged view mutations applied",
		},
		func() float64 { return float64(m.ViewVersion.Load()) },
	))

	// Client metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dashboard_active_clients",
			Help: "Number of active display stream clients",
		},
		func() float64 { return float64(m.ActiveClients.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dashboard_total_clients",
			Help: "Total display stream clients connected",
		},
		func() float64 { return float64(m.TotalClients.Load()) },
	))
}

// ObserveFetch records one snapshot fetch outcome.
func (m *Metrics) ObserveFetch(kind string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(kind, result).Inc()
	m.fetchLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// StaleDropped counts a snapshot response discarded as out of order.
func (m *Metrics) StaleDropped(kind string) {
	if m == nil {
		return
	}
	m.staleDropped.WithLabelValues(kind).Inc()
}

// PushEvent counts one inbound push event.
func (m *Metrics) PushEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.pushEvents.WithLabelValues(event, outcome).Inc()
}

// Notification counts one emitted notification.
func (m *Metrics) Notification(level string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(level).Inc()
}

// ControlAction counts one control action relayed to the backend.
func (m *Metrics) ControlAction(action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.controls.WithLabelValues(action, result).Inc()
}

// SetConnectionState stores the numeric connection state.
func (m *Metrics) SetConnectionState(state uint64) {
	if m == nil {
		return
	}
	m.ConnectionState.Store(state)
}

// Reconnected counts a reconnect after a drop.
func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.Reconnects.Add(1)
}

// UpdateBuffers stores the merged view buffer lengths and version.
func (m *Metrics) UpdateBuffers(detections, alerts int, version uint64) {
	if m == nil {
		return
	}
	m.DetectionsBuffered.Store(uint64(detections))
	m.AlertsBuffered.Store(uint64(alerts))
	m.ViewVersion.Store(version)
}

// ClientConnected tracks a display stream subscriber.
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.ActiveClients.Add(1)
	m.TotalClients.Add(1)
}

// ClientDisconnected releases a display stream subscriber.
func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.ActiveClients.Add(^uint64(0))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

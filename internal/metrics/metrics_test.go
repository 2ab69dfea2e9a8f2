package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("status", time.Millisecond, nil)
		m.StaleDropped("status")
		m.PushEvent("alert", "applied")
		m.Notification("error")
		m.ControlAction("start", errors.New("boom"))
		m.SetConnectionState(1)
		m.Reconnected()
		m.UpdateBuffers(1, 2, 3)
		m.ClientConnected()
		m.ClientDisconnected()
	})
}

func TestCountersByLabel(t *testing.T) {
	m := New()
	m.ObserveFetch("status", 10*time.Millisecond, nil)
	m.ObserveFetch("status", 10*time.Millisecond, errors.New("timeout"))
	m.ObserveFetch("status", 10*time.Millisecond, errors.New("timeout"))
	m.ControlAction("stop", errors.New("502"))

	body := scrape(t, m)
	assert.Contains(t, body, `dashboard_snapshot_fetches_total{kind="status",result="ok"} 1`)
	assert.Contains(t, body, `dashboard_snapshot_fetches_total{kind="status",result="error"} 2`)
	assert.Contains(t, body, `dashboard_control_actions_total{action="stop",result="error"} 1`)
}

func TestClientGauges(t *testing.T) {
	m := New()
	m.ClientConnected()
	m.ClientConnected()
	m.ClientDisconnected()

	assert.Equal(t, uint64(1), m.ActiveClients.Load())
	assert.Equal(t, uint64(2), m.TotalClients.Load())
}

func TestHandlerExposesGauges(t *testing.T) {
	m := New()
	m.UpdateBuffers(7, 3, 12)
	m.SetConnectionState(2)

	body := scrape(t, m)
	assert.Contains(t, body, "dashboard_detections_buffered 7")
	assert.Contains(t, body, "dashboard_alerts_buffered 3")
	assert.Contains(t, body, "dashboard_connection_state 2")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

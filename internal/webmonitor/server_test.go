package webmonitor

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/backend"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/dashboard"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/metrics"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/notify"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/view"
	"github.com/dj-oyu/facemask-monitor/dashboard/pkg/types"
)

type fakeDashboard struct {
	mu        sync.Mutex
	state     *view.State
	observers map[int]chan view.View
	nextID    int
	hub       *notify.Hub
	mounted   bool

	controlErr error
	settings   []types.Settings
	refreshed  []view.Kind
}

func newFakeDashboard() *fakeDashboard {
	st := view.New(view.Options{})
	_, _ = st.ApplySnapshot(view.Snapshot{Kind: view.KindCameras, Seq: 1, Payload: []types.Camera{{ID: "1", Name: "Entrance"}}})
	_, _ = st.ApplySnapshot(view.Snapshot{Kind: view.KindSettings, Seq: 1, Payload: types.Settings{FrameRate: 30}})
	st.SetConnection(view.Connected)
	return &fakeDashboard{
		state:     st,
		observers: make(map[int]chan view.View),
		hub:       notify.NewHub(10),
		mounted:   true,
	}
}

func (f *fakeDashboard) Mounted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounted
}

func (f *fakeDashboard) View() view.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.View()
}

func (f *fakeDashboard) Subscribe() (int, <-chan view.View) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan view.View, 1)
	ch <- f.state.View()
	f.observers[id] = ch
	return id, ch
}

func (f *fakeDashboard) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.observers[id]; ok {
		close(ch)
		delete(f.observers, id)
	}
}

// push applies a detection and hands the new view to every observer.
func (f *fakeDashboard) push(d types.Detection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.PushDetection(d)
	v := f.state.View()
	for _, ch := range f.observers {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func (f *fakeDashboard) Notifications() *notify.Hub { return f.hub }

func (f *fakeDashboard) ControlCamera(_ context.Context, id string, action types.CameraAction) (backend.ControlResult, error) {
	if !f.Mounted() {
		return backend.ControlResult{}, dashboard.ErrNotMounted
	}
	if _, err := types.ParseCameraAction(string(action)); err != nil {
		return backend.ControlResult{}, err
	}
	f.mu.Lock()
	err := f.controlErr
	f.mu.Unlock()
	if err != nil {
		return backend.ControlResult{}, err
	}
	return backend.ControlResult{Message: "Camera " + id + " " + string(action) + "ed successfully"}, nil
}

func (f *fakeDashboard) SaveSettings(_ context.Context, s types.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = append(f.settings, s)
	return nil
}

func (f *fakeDashboard) SetAnalyticsPeriod(period string) error {
	p, err := types.ParsePeriod(period)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.SetPeriod(p)
	return nil
}

func (f *fakeDashboard) recorded() ([]types.Settings, []view.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Settings(nil), f.settings...), append([]view.Kind(nil), f.refreshed...)
}

func (f *fakeDashboard) Refresh(kind view.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, kind)
	return nil
}

func newTestServer(t *testing.T) (*fakeDashboard, *Server, *httptest.Server) {
	t.Helper()
	dash := newFakeDashboard()
	srv := NewServer(Config{KeepAlive: 20 * time.Millisecond}, dash, metrics.New())
	srv.Start()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
		dash.hub.Close()
	})
	return dash, srv, ts
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestViewEndpoints(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/view")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var whole map[string]any
	decodeJSON(t, resp, &whole)
	assert.Equal(t, "connected", whole["connection"])
	assert.Contains(t, whole, "detections")

	resp, err = http.Get(ts.URL + "/api/view/cameras")
	require.NoError(t, err)
	var res struct {
		Kind     string `json:"kind"`
		Resource struct {
			Value   []types.Camera `json:"value"`
			Loading bool           `json:"loading"`
		} `json:"resource"`
	}
	decodeJSON(t, resp, &res)
	assert.Equal(t, "cameras", res.Kind)
	require.Len(t, res.Resource.Value, 1)
	assert.False(t, res.Resource.Loading)

	resp, err = http.Get(ts.URL + "/api/view/frames")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/connection")
	require.NoError(t, err)
	var conn ConnectionResponse
	decodeJSON(t, resp, &conn)
	assert.Equal(t, view.Connected, conn.State)
}

func TestCameraControl(t *testing.T) {
	dash, _, ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/cameras/1/control", `{"action":"start"}`)
	var ok MessageResponse
	decodeJSON(t, resp, &ok)
	assert.Equal(t, "Camera 1 started successfully", ok.Message)

	resp = post(t, ts.URL+"/api/cameras/1/control", `{"action":"pause"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/api/cameras/1/control", `not json`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	dash.mu.Lock()
	dash.controlErr = &backend.HTTPError{Method: "POST", Path: "/api/cameras/1/control", Status: 500, Message: "camera offline"}
	dash.mu.Unlock()
	resp = post(t, ts.URL+"/api/cameras/1/control", `{"action":"stop"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var failed ErrorResponse
	decodeJSON(t, resp, &failed)
	assert.Contains(t, failed.Error, "camera offline")
}

func TestSettingsPeriodAndRefresh(t *testing.T) {
	dash, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/settings")
	require.NoError(t, err)
	var current struct {
		Value types.Settings `json:"value"`
	}
	decodeJSON(t, resp, &current)
	assert.Equal(t, 30, current.Value.FrameRate)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/settings", strings.NewReader(`{"frame_rate":15}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	saved, _ := dash.recorded()
	require.Len(t, saved, 1)
	assert.Equal(t, 15, saved[0].FrameRate)

	resp = post(t, ts.URL+"/api/analytics/period", `{"period":"week"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.PeriodWeek, dash.View().AnalyticsPeriod)

	resp = post(t, ts.URL+"/api/analytics/period", `{"period":"year"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/api/refresh/alerts", ``)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	_, refreshed := dash.recorded()
	assert.Equal(t, []view.Kind{view.KindAlerts}, refreshed)

	resp = post(t, ts.URL+"/api/refresh/frames", ``)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	dash, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var health HealthResponse
	decodeJSON(t, resp, &health)
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.Mounted)

	dash.mu.Lock()
	dash.mounted = false
	dash.mu.Unlock()
	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = post(t, ts.URL+"/api/cameras/1/control", `{"action":"start"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "dashboard_connection_state")
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && ev.data != "":
			return ev
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, url, accept string) (*http.Response, *bufio.Reader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

func TestViewStreamJSON(t *testing.T) {
	dash, _, ts := newTestServer(t)

	resp, r := openStream(t, ts.URL+"/api/view/stream", "")
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, contentJSON, resp.Header.Get("X-Content-Format"))

	first := readEvent(t, r)
	assert.Equal(t, "view", first.name)

	dash.push(types.Detection{ID: 42, CameraID: "1"})
	for {
		ev := readEvent(t, r)
		var v view.View
		require.NoError(t, json.Unmarshal([]byte(ev.data), &v))
		if len(v.Detections.Value) == 1 {
			assert.Equal(t, int64(42), v.Detections.Value[0].ID)
			return
		}
	}
}

func TestViewStreamProtobuf(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, r := openStream(t, ts.URL+"/api/view/stream", "application/protobuf")
	assert.Equal(t, contentProtobuf, resp.Header.Get("X-Content-Format"))

	ev := readEvent(t, r)
	raw, err := base64.StdEncoding.DecodeString(ev.data)
	require.NoError(t, err)
	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(raw, &st))
	assert.Equal(t, "connected", st.GetFields()["connection"].GetStringValue())
}

func TestNotificationStreamAndHistory(t *testing.T) {
	dash, _, ts := newTestServer(t)

	_, r := openStream(t, ts.URL+"/api/notifications/stream", "")
	dash.hub.Notify(notify.Notification{Level: notify.LevelError, Title: "Connection lost"})

	ev := readEvent(t, r)
	assert.Equal(t, "notification", ev.name)
	var n notify.Notification
	require.NoError(t, json.Unmarshal([]byte(ev.data), &n))
	assert.Equal(t, notify.LevelError, n.Level)

	resp, err := http.Get(ts.URL + "/api/notifications")
	require.NoError(t, err)
	var history []notify.Notification
	decodeJSON(t, resp, &history)
	assert.NotEmpty(t, history)
}

func TestStreamKeepAlive(t *testing.T) {
	_, _, ts := newTestServer(t)
	_, r := openStream(t, ts.URL+"/api/notifications/stream", "")

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": keepalive\n", line)
}

func TestStopClosesStreams(t *testing.T) {
	_, srv, ts := newTestServer(t)
	_, r := openStream(t, ts.URL+"/api/view/stream", "")
	readEvent(t, r)

	srv.Stop()
	_, err := io.ReadAll(r)
	assert.True(t, err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF))
}

func TestActionStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, actionStatus(types.ErrInvalidAction))
	assert.Equal(t, http.StatusServiceUnavailable, actionStatus(dashboard.ErrNotMounted))
	assert.Equal(t, http.StatusGatewayTimeout, actionStatus(context.DeadlineExceeded))
	assert.Equal(t, http.StatusBadGateway, actionStatus(&backend.HTTPError{Status: 500}))
	assert.Equal(t, http.StatusBadGateway, actionStatus(errors.New("connection refused")))
}

func TestConcurrentStartSubscribesOnce(t *testing.T) {
	dash, srv, _ := newTestServer(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.Start()
		}()
	}
	wg.Wait()

	dash.mu.Lock()
	defer dash.mu.Unlock()
	assert.Len(t, dash.observers, 1)
	assert.Equal(t, 1, dash.nextID)
}

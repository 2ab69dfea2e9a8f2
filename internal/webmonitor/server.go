// Package webmonitor serves the merged dashboard view to display clients:
// JSON snapshots, SSE streams and the user actions relayed to the backend.
package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/backend"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/dashboard"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/logger"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/metrics"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/notify"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/poller"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/view"
	"github.com/dj-oyu/facemask-monitor/dashboard/pkg/types"
)

// Dashboard is the session behind the display API. *dashboard.Session
// implements it.
type Dashboard interface {
	Mounted() bool
	View() view.View
	Subscribe() (int, <-chan view.View)
	Unsubscribe(id int)
	Notifications() *notify.Hub
	ControlCamera(ctx context.Context, cameraID string, action types.CameraAction) (backend.ControlResult, error)
	SaveSettings(ctx context.Context, settings types.Settings) error
	SetAnalyticsPeriod(period string) error
	Refresh(kind view.Kind) error
}

// Server serves the display API endpoints.
type Server struct {
	cfg     Config
	dash    Dashboard
	metrics *metrics.Metrics

	views         *Broadcaster
	notifications *Broadcaster

	stop      chan struct{}
	startOnce sync.Once
	once      sync.Once
	relays    sync.WaitGroup
}

// NewServer returns a configured display server. m may be nil, in which
// case /metrics is not served.
func NewServer(cfg Config, dash Dashboard, m *metrics.Metrics) *Server {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultConfig().KeepAlive
	}
	return &Server{
		cfg:           cfg,
		dash:          dash,
		metrics:       m,
		views:         NewBroadcaster("ViewBroadcaster", true, m),
		notifications: NewBroadcaster("NotificationBroadcaster", false, m),
		stop:          make(chan struct{}),
	}
}

// Start relays view changes and notifications to the broadcasters. Calls
// after the first are no-ops.
func (s *Server) Start() {
	s.startOnce.Do(s.startRelays)
}

func (s *Server) startRelays() {
	viewID, viewCh := s.dash.Subscribe()
	hub := s.dash.Notifications()
	noteID, noteCh := hub.Subscribe()

	s.relays.Add(2)
	go func() {
		defer s.relays.Done()
		defer s.dash.Unsubscribe(viewID)
		for {
			select {
			case <-s.stop:
				return
			case v, ok := <-viewCh:
				if !ok {
					return
				}
				_ = s.views.Publish("view", v)
			}
		}
	}()
	go func() {
		defer s.relays.Done()
		defer hub.Unsubscribe(noteID)
		for {
			select {
			case <-s.stop:
				return
			case n, ok := <-noteCh:
				if !ok {
					return
				}
				_ = s.notifications.Publish("notification", n)
			}
		}
	}()
}

// Stop ends the relays and disconnects every stream client.
func (s *Server) Stop() {
	s.once.Do(func() {
		close(s.stop)
		s.relays.Wait()
		s.views.Stop()
		s.notifications.Stop()
	})
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/view", s.handleView)
	mux.HandleFunc("GET /api/view/stream", s.handleViewStream)
	mux.HandleFunc("GET /api/view/{kind}", s.handleResource)
	mux.HandleFunc("GET /api/connection", s.handleConnection)
	mux.HandleFunc("GET /api/notifications", s.handleNotifications)
	mux.HandleFunc("GET /api/notifications/stream", s.handleNotificationStream)
	mux.HandleFunc("POST /api/cameras/{id}/control", s.handleCameraControl)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("POST /api/analytics/period", s.handleAnalyticsPeriod)
	mux.HandleFunc("POST /api/refresh/{kind}", s.handleRefresh)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return mux
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.dash.View())
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	kind, err := view.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, err, http.StatusNotFound)
		return
	}
	resource, _ := s.dash.View().Slice(kind)
	writeJSON(w, ResourceResponse{Kind: kind, Resource: resource})
}

func (s *Server) handleViewStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.views.Subscribe()
	defer s.views.Unsubscribe(id)
	streamEvents(w, r, eventCh, s.cfg.KeepAlive)
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	v := s.dash.View()
	writeJSON(w, ConnectionResponse{State: v.Connection, Version: v.Version})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.dash.Notifications().History())
}

func (s *Server) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.notifications.Subscribe()
	defer s.notifications.Unsubscribe(id)
	streamEvents(w, r, eventCh, s.cfg.KeepAlive)
}

func (s *Server) handleCameraControl(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, ErrorResponse{Error: "Invalid request body"}, http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	res, err := s.dash.ControlCamera(r.Context(), id, types.CameraAction(req.Action))
	if err != nil {
		logger.Warn("WebMonitor", "Camera %s %s failed: %v", id, req.Action, err)
		writeError(w, err, actionStatus(err))
		return
	}
	writeJSON(w, MessageResponse{Message: res.Message})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.dash.View().Settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings types.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSONWithStatus(w, ErrorResponse{Error: "Invalid settings"}, http.StatusBadRequest)
		return
	}
	if err := s.dash.SaveSettings(r.Context(), settings); err != nil {
		writeError(w, err, actionStatus(err))
		return
	}
	writeJSON(w, MessageResponse{Message: "Settings updated successfully"})
}

func (s *Server) handleAnalyticsPeriod(w http.ResponseWriter, r *http.Request) {
	var req PeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, ErrorResponse{Error: "Invalid request body"}, http.StatusBadRequest)
		return
	}
	if err := s.dash.SetAnalyticsPeriod(req.Period); err != nil {
		writeError(w, err, actionStatus(err))
		return
	}
	period, _ := types.ParsePeriod(req.Period)
	writeJSON(w, MessageResponse{Message: fmt.Sprintf("Analytics period set to %s", period)})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	kind, err := view.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, err, http.StatusNotFound)
		return
	}
	if err := s.dash.Refresh(kind); err != nil {
		writeError(w, err, actionStatus(err))
		return
	}
	writeJSONWithStatus(w, MessageResponse{Message: "Refresh of " + string(kind) + " requested"}, http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	v := s.dash.View()
	status, code := "ok", http.StatusOK
	if !s.dash.Mounted() {
		status, code = "unmounted", http.StatusServiceUnavailable
	}
	writeJSONWithStatus(w, HealthResponse{
		Status:     status,
		Mounted:    s.dash.Mounted(),
		Connection: v.Connection,
		Loading:    v.Loading(),
	}, code)
}

// actionStatus maps an action error onto the display API status code.
// Backend failures, including *backend.HTTPError, become 502.
func actionStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidAction),
		errors.Is(err, types.ErrInvalidPeriod),
		errors.Is(err, view.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, dashboard.ErrNotMounted), errors.Is(err, poller.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, err error, status int) {
	writeJSONWithStatus(w, ErrorResponse{Error: err.Error()}, status)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}

// NewHTTPServer wraps the handler in an http.Server for cfg.Addr.
func (s *Server) NewHTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

package webmonitor

import "github.com/dj-oyu/facemask-monitor/dashboard/internal/view"

// ControlRequest is the body of POST /api/cameras/{id}/control.
type ControlRequest struct {
	Action string `json:"action"`
}

// PeriodRequest is the body of POST /api/analytics/period.
type PeriodRequest struct {
	Period string `json:"period"`
}

// MessageResponse carries a success message.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse mirrors the backend's error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConnectionResponse is the payload of GET /api/connection.
type ConnectionResponse struct {
	State   view.ConnectionState `json:"state"`
	Version uint64               `json:"version"`
}

// ResourceResponse is the payload of GET /api/view/{kind}.
type ResourceResponse struct {
	Kind     view.Kind `json:"kind"`
	Resource any       `json:"resource"`
}

// HealthResponse is the payload of GET /health.
type HealthResponse struct {
	Status     string               `json:"status"`
	Mounted    bool                 `json:"mounted"`
	Connection view.ConnectionState `json:"connection"`
	Loading    bool                 `json:"loading"`
}

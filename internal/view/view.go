package view

import (
	"github.com/dj-oyu/facemask-monitor/dashboard/pkg/types"
)

// Resource is the display-layer value of one snapshot-driven kind.
type Resource[T any] struct {
	Value     T          `json:"value"`
	Loading   bool       `json:"loading"`
	UpdatedAt types.Time `json:"updated_at"`
	Error     string     `json:"error,omitempty"`
}

// Buffer is a push-driven ring buffer as seen by the display layer.
type Buffer[T any] struct {
	Resource[[]T]
	Cap int `json:"cap"`
	// PushAuthoritative is set once snapshots can no longer replace the
	// buffer.
	PushAuthoritative bool `json:"push_authoritative"`
}

// View is an immutable copy of the merged view. Nested maps and slices are
// shared with the owning State's replaced values and must not be mutated.
type View struct {
	Version         uint64                       `json:"version"`
	Connection      ConnectionState              `json:"connection"`
	AnalyticsPeriod types.Period                 `json:"analytics_period"`
	Status          Resource[types.SystemStatus] `json:"status"`
	Cameras         Resource[[]types.Camera]     `json:"cameras"`
	Detections      Buffer[types.Detection]      `json:"detections"`
	Alerts          Buffer[types.Alert]          `json:"alerts"`
	Analytics       Resource[types.Analytics]    `json:"analytics"`
	Settings        Resource[types.Settings]     `json:"settings"`
}

// Slice returns the display value for one kind.
func (v View) Slice(k Kind) (any, bool) {
	switch k {
	case KindStatus:
		return v.Status, true
	case KindCameras:
		return v.Cameras, true
	case KindDetections:
		return v.Detections, true
	case KindAlerts:
		return v.Alerts, true
	case KindAnalytics:
		return v.Analytics, true
	case KindSettings:
		return v.Settings, true
	default:
		return nil, false
	}
}

// Loading reports whether any kind is still waiting for its first fetch.
func (v View) Loading() bool {
	return v.Status.Loading || v.Cameras.Loading || v.Detections.Loading ||
		v.Alerts.Loading || v.Analytics.Loading || v.Settings.Loading
}

// Camera finds a camera by id.
func (v View) Camera(id string) (types.Camera, bool) {
	for _, c := range v.Cameras.Value {
		if c.ID == id {
			return c, true
		}
	}
	return types.Camera{}, false
}

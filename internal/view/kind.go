package view

import (
	"errors"
	"fmt"
	"time"
)

// Kind names one resource slice of the merged view.
type Kind string

const (
	KindStatus     Kind = "status"
	KindCameras    Kind = "cameras"
	KindDetections Kind = "detections"
	KindAlerts     Kind = "alerts"
	KindAnalytics  Kind = "analytics"
	KindSettings   Kind = "settings"
)

// Kinds lists every resource kind in display order.
var Kinds = []Kind{KindStatus, KindCameras, KindDetections, KindAlerts, KindAnalytics, KindSettings}

// ErrUnknownKind is returned by ParseKind.
var ErrUnknownKind = errors.New("unknown resource kind")

// ParseKind validates s.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Buffered reports whether k is held in a push-driven ring buffer.
func (k Kind) Buffered() bool {
	return k == KindDetections || k == KindAlerts
}

// ConnectionState is the push connection lifecycle.
type ConnectionState string

const (
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	Disconnected ConnectionState = "disconnected"
)

// Ordinal maps the state onto a gauge value.
func (c ConnectionState) Ordinal() uint64 {
	switch c {
	case Connected:
		return 1
	case Disconnected:
		return 2
	default:
		return 0
	}
}

// Snapshot is the outcome of one fetch for one kind. Exactly one of Payload
// and Err is meaningful. Payload holds the typed record for the kind:
// types.SystemStatus, []types.Camera, []types.Detection, []types.Alert,
// types.Analytics or types.Settings.
type Snapshot struct {
	Kind      Kind
	Seq       uint64
	FetchedAt time.Time
	Payload   any
	Err       error
}

// Outcome describes what applying a snapshot did.
type Outcome int

const (
	// Applied replaced the slice.
	Applied Outcome = iota
	// Failed recorded the fetch error and kept the last good value.
	Failed
	// Retained settled the slice without touching a push-authoritative buffer.
	Retained
	// Stale dropped a response superseded by a newer one.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Failed:
		return "failed"
	case Retained:
		return "retained"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

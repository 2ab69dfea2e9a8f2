// Package view holds the merged view state that reconciles polled
// snapshots with pushed events.
//
// State is owned by a single goroutine and is not safe for concurrent use.
// Readers get immutable copies through State.View.
package view

import (
	"fmt"
	"time"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/ring"
	"github.com/dj-oyu/facemask-monitor/dashboard/pkg/types"
)

// Options configures a State.
type Options struct {
	DetectionCap int
	AlertCap     int
	// StrictOrder drops snapshot responses older than the newest one
	// already applied for the same kind.
	StrictOrder bool
	Period      types.Period
	Now         func() time.Time
}

type meta struct {
	loading   bool
	updatedAt time.Time
	err       string
	seq       uint64
}

// State is the merged view.
type State struct {
	strict bool
	now    func() time.Time

	status    types.SystemStatus
	cameras   []types.Camera
	analytics types.Analytics
	settings  types.Settings
	period    types.Period

	detections *ring.Buffer[types.Detection]
	alerts     *ring.Buffer[types.Alert]
	// Once set, the buffer only changes through push events.
	detectionsPushed bool
	alertsPushed     bool

	meta       map[Kind]*meta
	connection ConnectionState
	version    uint64
}

// New returns a state with every kind loading and the connection connecting.
func New(opts Options) *State {
	if opts.DetectionCap <= 0 {
		opts.DetectionCap = 10
	}
	if opts.AlertCap <= 0 {
		opts.AlertCap = 5
	}
	if opts.Period == "" {
		opts.Period = types.PeriodToday
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &State{
		strict:     opts.StrictOrder,
		now:        opts.Now,
		cameras:    []types.Camera{},
		period:     opts.Period,
		detections: ring.New(opts.DetectionCap, types.Detection.Key),
		alerts:     ring.New(opts.AlertCap, types.Alert.Key),
		meta:       make(map[Kind]*meta, len(Kinds)),
		connection: Connecting,
	}
	s.status.Normalize()
	s.analytics.Period = opts.Period
	s.analytics.Normalize()
	for _, k := range Kinds {
		s.meta[k] = &meta{loading: true}
	}
	return s
}

// ApplySnapshot folds one fetch result into the view. Status, cameras,
// analytics and settings are overwritten by every successful snapshot. The
// detection and alert buffers accept a snapshot only until they have been
// handed off to push events; the first applied snapshot or push event
// latches the handoff.
func (s *State) ApplySnapshot(snap Snapshot) (Outcome, error) {
	m, ok := s.meta[snap.Kind]
	if !ok {
		return Stale, fmt.Errorf("%w: %q", ErrUnknownKind, snap.Kind)
	}

	if s.strict && snap.Seq != 0 && snap.Seq < m.seq {
		return Stale, nil
	}
	if snap.Kind == KindAnalytics && snap.Err == nil {
		if a, ok := snap.Payload.(types.Analytics); ok && a.Period != "" && a.Period != s.period {
			return Stale, nil
		}
	}
	if snap.Seq > m.seq {
		m.seq = snap.Seq
	}

	if snap.Err != nil {
		m.loading = false
		m.err = snap.Err.Error()
		s.version++
		return Failed, nil
	}

	outcome := Applied
	switch snap.Kind {
	case KindStatus:
		v, err := payload[types.SystemStatus](snap)
		if err != nil {
			return Stale, err
		}
		v.Normalize()
		s.status = v
	case KindCameras:
		v, err := payload[[]types.Camera](snap)
		if err != nil {
			return Stale, err
		}
		s.cameras = types.NormalizeCameras(v)
	case KindDetections:
		v, err := payload[[]types.Detection](snap)
		if err != nil {
			return Stale, err
		}
		if s.detectionsPushed {
			outcome = Retained
		} else {
			s.detections.Seed(v)
			s.detectionsPushed = true
		}
	case KindAlerts:
		v, err := payload[[]types.Alert](snap)
		if err != nil {
			return Stale, err
		}
		if s.alertsPushed {
			outcome = Retained
		} else {
			s.alerts.Seed(v)
			s.alertsPushed = true
		}
	case KindAnalytics:
		v, err := payload[types.Analytics](snap)
		if err != nil {
			return Stale, err
		}
		if v.Period == "" {
			v.Period = s.period
		}
		v.Normalize()
		s.analytics = v
	case KindSettings:
		v, err := payload[types.Settings](snap)
		if err != nil {
			return Stale, err
		}
		s.settings = v
	}

	m.loading = false
	m.err = ""
	if outcome == Applied {
		m.updatedAt = s.stamp(snap.FetchedAt)
	}
	s.version++
	return outcome, nil
}

func payload[T any](snap Snapshot) (T, error) {
	v, ok := snap.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("view: %s snapshot carries %T, want %T", snap.Kind, snap.Payload, zero)
	}
	return v, nil
}

// PushDetection prepends a pushed detection. It reports false when the
// detection was already buffered.
func (s *State) PushDetection(d types.Detection) bool {
	s.detectionsPushed = true
	if !s.detections.Push(d) {
		return false
	}
	s.meta[KindDetections].updatedAt = s.now()
	s.version++
	return true
}

// PushAlert prepends a pushed alert. It reports false when the alert was
// already buffered.
func (s *State) PushAlert(a types.Alert) bool {
	s.alertsPushed = true
	if !s.alerts.Push(a) {
		return false
	}
	s.meta[KindAlerts].updatedAt = s.now()
	s.version++
	return true
}

// SetConnection records the push connection state. It never touches the
// buffers and reports whether the state changed.
func (s *State) SetConnection(c ConnectionState) bool {
	if s.connection == c {
		return false
	}
	s.connection = c
	s.version++
	return true
}

// Connection returns the push connection state.
func (s *State) Connection() ConnectionState {
	return s.connection
}

// SetPeriod switches the analytics window. Analytics snapshots for any other
// window are dropped from then on, and the slice loads again.
func (s *State) SetPeriod(p types.Period) bool {
	if s.period == p {
		return false
	}
	s.period = p
	s.meta[KindAnalytics].loading = true
	s.version++
	return true
}

// Period returns the selected analytics window.
func (s *State) Period() types.Period {
	return s.period
}

// Version counts mutations.
func (s *State) Version() uint64 {
	return s.version
}

// Lens returns the buffered detection and alert counts.
func (s *State) Lens() (detections, alerts int) {
	return s.detections.Len(), s.alerts.Len()
}

func (s *State) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

// View returns an immutable copy of the merged view.
func (s *State) View() View {
	v := View{
		Version:         s.version,
		Connection:      s.connection,
		AnalyticsPeriod: s.period,
		Status:          resource(s.status, s.meta[KindStatus]),
		Cameras:         resource(append([]types.Camera{}, s.cameras...), s.meta[KindCameras]),
		Analytics:       resource(s.analytics, s.meta[KindAnalytics]),
		Settings:        resource(s.settings, s.meta[KindSettings]),
		Detections: Buffer[types.Detection]{
			Resource:          resource(s.detections.Items(), s.meta[KindDetections]),
			Cap:               s.detections.Cap(),
			PushAuthoritative: s.detectionsPushed,
		},
		Alerts: Buffer[types.Alert]{
			Resource:          resource(s.alerts.Items(), s.meta[KindAlerts]),
			Cap:               s.alerts.Cap(),
			PushAuthoritative: s.alertsPushed,
		},
	}
	return v
}

func resource[T any](value T, m *meta) Resource[T] {
	return Resource[T]{
		Value:     value,
		Loading:   m.loading,
		UpdatedAt: types.NewTime(m.updatedAt),
		Error:     m.err,
	}
}

// Package dashboard runs one mounted dashboard session: the snapshot poller,
// the push connection and the merged view they feed.
//
// All view mutations happen on a single loop goroutine. Fetch and socket
// goroutines only post closures to it; readers get immutable copies.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/backend"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/logger"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/metrics"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/notify"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/poller"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/stream"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/view"
	"github.com/dj-oyu/facemask-monitor/dashboard/pkg/types"
)

var (
	// ErrNotMounted is returned by operations on a session that has not
	// been started or has been closed.
	ErrNotMounted = errors.New("dashboard: session not mounted")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("dashboard: session already started")
)

// Backend is everything the session needs from the detection backend.
// *backend.Client implements it.
type Backend interface {
	poller.Source
	UpdateSettings(ctx context.Context, s types.Settings) error
	ControlCamera(ctx context.Context, cameraID string, action types.CameraAction) (backend.ControlResult, error)
}

type phase int

const (
	idle phase = iota
	mounted
	closed
)

// Session is one mounted dashboard.
type Session struct {
	backend Backend
	hub     *notify.Hub
	metrics *metrics.Metrics
	timeout time.Duration

	state  *view.State // loop-owned
	poller *poller.Poller
	stream *stream.Client

	mu       sync.Mutex
	phase    phase
	live     atomic.Bool
	ops      chan func() bool
	quit     chan struct{}
	loopDone chan struct{}

	current atomic.Pointer[view.View]

	obsMu     sync.Mutex
	observers map[int]chan view.View
	nextObs   int
}

// New wires a session. Nothing runs until Start.
func New(be Backend, hub *notify.Hub, opts Options) (*Session, error) {
	if opts.Period != "" {
		opts.Poll.Period = opts.Period
		opts.View.Period = opts.Period
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Second
	}
	if opts.Stream.Metrics == nil {
		opts.Stream.Metrics = opts.Metrics
	}

	s := &Session{
		backend:   be,
		hub:       hub,
		metrics:   opts.Metrics,
		timeout:   opts.ActionTimeout,
		state:     view.New(opts.View),
		ops:       make(chan func() bool, 64),
		quit:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		observers: make(map[int]chan view.View),
	}
	s.poller = poller.New(be, s.applySnapshot, opts.Poll, opts.Metrics)

	sc, err := stream.New(opts.Stream, pushSink{s}, hub)
	if err != nil {
		return nil, fmt.Errorf("dashboard: stream client: %w", err)
	}
	s.stream = sc

	v := s.state.View()
	s.current.Store(&v)
	return s, nil
}

// Start mounts the session: the loop starts, every kind is fetched and the
// push connection opens.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case mounted:
		s.mu.Unlock()
		return ErrAlreadyStarted
	case closed:
		s.mu.Unlock()
		return ErrNotMounted
	}
	s.phase = mounted
	s.live.Store(true)
	s.mu.Unlock()

	go s.loop()
	s.poller.Start()
	if err := s.stream.Start(ctx); err != nil {
		s.Close()
		return fmt.Errorf("dashboard: start stream: %w", err)
	}
	logger.Info("Dashboard", "Session mounted")
	return nil
}

// Close unmounts the session. Timers stop, the push connection closes
// without a notification, and results that arrive afterwards are dropped.
// It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	was := s.phase
	s.phase = closed
	s.live.Store(false)
	s.mu.Unlock()
	if was == closed {
		return
	}

	s.poller.Stop()
	if err := s.stream.Close(); err != nil {
		logger.Warn("Dashboard", "Closing stream: %v", err)
	}
	close(s.quit)
	if was == mounted {
		<-s.loopDone
	}

	s.obsMu.Lock()
	for id, ch := range s.observers {
		close(ch)
		delete(s.observers, id)
	}
	s.obsMu.Unlock()
	logger.Info("Dashboard", "Session unmounted")
}

// Mounted reports whether the session is running.
func (s *Session) Mounted() bool {
	return s.live.Load()
}

// View returns the latest merged view.
func (s *Session) View() view.View {
	return *s.current.Load()
}

// Notifications returns the session's notification hub.
func (s *Session) Notifications() *notify.Hub {
	return s.hub
}

// Subscribe registers a view observer. The channel holds at most one
// pending view; a slow observer only sees the newest.
func (s *Session) Subscribe() (int, <-chan view.View) {
	ch := make(chan view.View, 1)
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	if s.phaseIs(closed) {
		close(ch)
		return id, ch
	}
	ch <- s.View()
	s.observers[id] = ch
	return id, ch
}

// Unsubscribe removes a view observer.
func (s *Session) Unsubscribe(id int) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	if ch, ok := s.observers[id]; ok {
		close(ch)
		delete(s.observers, id)
	}
}

func (s *Session) phaseIs(p phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == p
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.quit:
			return
		case op := <-s.ops:
			if !s.live.Load() {
				continue
			}
			if op() {
				s.publish()
			}
		}
	}
}

// post queues op on the loop. op reports whether it changed the view.
func (s *Session) post(op func() bool) bool {
	if !s.live.Load() {
		return false
	}
	select {
	case s.ops <- op:
		return true
	case <-s.quit:
		return false
	}
}

// do runs op on the loop and waits until its change is published.
func (s *Session) do(op func() bool) error {
	done := make(chan struct{})
	if !s.post(func() bool {
		defer close(done)
		if op() {
			s.publish()
		}
		return false
	}) {
		return ErrNotMounted
	}
	select {
	case <-done:
		return nil
	case <-s.quit:
		return ErrNotMounted
	}
}

func (s *Session) publish() {
	v := s.state.View()
	s.current.Store(&v)
	d, a := s.state.Lens()
	s.metrics.UpdateBuffers(d, a, v.Version)

	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for _, ch := range s.observers {
		select {
		case ch <- v:
			continue
		default:
		}
		// Replace the pending view with the newer one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

func (s *Session) applySnapshot(snap view.Snapshot) {
	s.post(func() bool {
		outcome, err := s.state.ApplySnapshot(snap)
		if err != nil {
			logger.Error("Dashboard", "Rejected %s snapshot #%d: %v", snap.Kind, snap.Seq, err)
			return false
		}
		switch outcome {
		case view.Stale:
			s.metrics.StaleDropped(string(snap.Kind))
			logger.Debug("Dashboard", "Dropped stale %s snapshot #%d", snap.Kind, snap.Seq)
			return false
		case view.Retained:
			logger.Debug("Dashboard", "%s is push-authoritative, snapshot #%d not applied", snap.Kind, snap.Seq)
		}
		return true
	})
}

// pushSink feeds stream events into the loop.
type pushSink struct{ s *Session }

func (p pushSink) ConnectionChanged(c view.ConnectionState) {
	p.s.post(func() bool { return p.s.state.SetConnection(c) })
}

func (p pushSink) DetectionPushed(d types.Detection) {
	p.s.post(func() bool {
		if !p.s.state.PushDetection(d) {
			logger.Debug("Dashboard", "Duplicate detection %s", d.Key())
			return false
		}
		return true
	})
}

func (p pushSink) AlertPushed(a types.Alert) {
	p.s.post(func() bool {
		if !p.s.state.PushAlert(a) {
			logger.Debug("Dashboard", "Duplicate alert %s", a.Key())
			return false
		}
		return true
	})
}

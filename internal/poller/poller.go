// Package poller fetches full-state snapshots from the backend on one fixed
// schedule per resource kind.
//
// Every tick launches its own request. Overlapping requests for the same
// kind race and are never cancelled; each carries only its own timeout.
// Failures are reported to the sink and retried on the next tick.
package poller

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
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/view"
	"github.com/dj-oyu/facemask-monitor/dashboard/pkg/types"
)

// ErrStopped is returned by Trigger after Stop.
var ErrStopped = errors.New("poller: stopped")

// Source is the snapshot backend. *backend.Client implements it.
type Source interface {
	Status(ctx context.Context) (types.SystemStatus, error)
	Cameras(ctx context.Context) ([]types.Camera, error)
	Detections(ctx context.Context, q backend.PageQuery) ([]types.Detection, error)
	Alerts(ctx context.Context, q backend.PageQuery) ([]types.Alert, error)
	Analytics(ctx context.Context, period types.Period) (types.Analytics, error)
	Settings(ctx context.Context) (types.Settings, error)
}

// Sink receives every fetch result, successful or not. It is called from
// fetch goroutines and must not block for long.
type Sink func(view.Snapshot)

// Config sets the schedule.
type Config struct {
	// Intervals per kind. A kind that is absent or zero is fetched once at
	// Start and afterwards only through Trigger.
	Intervals map[view.Kind]time.Duration
	// Timeout bounds each request.
	Timeout       time.Duration
	DetectionsCap int
	AlertsCap     int
	Period        types.Period
}

// Poller runs the per-kind schedules.
type Poller struct {
	src     Source
	sink    Sink
	cfg     Config
	metrics *metrics.Metrics

	mu     sync.Mutex
	period types.Period

	seq map[view.Kind]*atomic.Uint64

	started  atomic.Bool
	stopped  atomic.Bool
	stop     chan struct{}
	tickers  sync.WaitGroup
	inflight sync.WaitGroup
}

// New creates a poller. m may be nil.
func New(src Source, sink Sink, cfg Config, m *metrics.Metrics) *Poller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Period == "" {
		cfg.Period = types.PeriodToday
	}
	p := &Poller{
		src:     src,
		sink:    sink,
		cfg:     cfg,
		metrics: m,
		period:  cfg.Period,
		seq:     make(map[view.Kind]*atomic.Uint64, len(view.Kinds)),
		stop:    make(chan struct{}),
	}
	for _, k := range view.Kinds {
		p.seq[k] = new(atomic.Uint64)
	}
	return p
}

// Start fetches every kind immediately and starts the tickers.
func (p *Poller) Start() {
	if p.stopped.Load() || !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, k := range view.Kinds {
		p.fetch(k)
		if d := p.cfg.Intervals[k]; d > 0 {
			p.tickers.Add(1)
			go p.loop(k, d)
		}
	}
	logger.Info("Poller", "Started (status=%s cameras=%s detections=%s alerts=%s analytics=%s)",
		p.cfg.Intervals[view.KindStatus], p.cfg.Intervals[view.KindCameras],
		p.cfg.Intervals[view.KindDetections], p.cfg.Intervals[view.KindAlerts],
		p.cfg.Intervals[view.KindAnalytics])
}

func (p *Poller) loop(kind view.Kind, interval time.Duration) {
	defer p.tickers.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.fetch(kind)
		}
	}
}

// Trigger fetches kind now, outside its schedule.
func (p *Poller) Trigger(kind view.Kind) error {
	if p.stopped.Load() {
		return ErrStopped
	}
	if _, ok := p.seq[kind]; !ok {
		return fmt.Errorf("%w: %q", view.ErrUnknownKind, kind)
	}
	p.fetch(kind)
	return nil
}

// SetPeriod changes the analytics window used by later fetches.
func (p *Poller) SetPeriod(period types.Period) {
	p.mu.Lock()
	p.period = period
	p.mu.Unlock()
}

// Period returns the analytics window used by fetches.
func (p *Poller) Period() types.Period {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.period
}

// Stop halts the tickers. Requests already in flight keep running; their
// results are dropped.
func (p *Poller) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.stop)
	p.tickers.Wait()
	logger.Info("Poller", "Stopped")
}

// Wait blocks until every in-flight request has resolved.
func (p *Poller) Wait() {
	p.inflight.Wait()
}

func (p *Poller) fetch(kind view.Kind) {
	seq := p.seq[kind].Add(1)
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
		defer cancel()

		start := time.Now()
		payload, err := p.request(ctx, kind)
		p.metrics.ObserveFetch(string(kind), time.Since(start), err)

		if p.stopped.Load() {
			logger.Debug("Poller", "Dropping %s #%d resolved after stop", kind, seq)
			return
		}
		if err != nil {
			logger.Warn("Poller", "Fetch %s #%d failed: %v", kind, seq, err)
		} else {
			logger.Debug("Poller", "Fetched %s #%d in %s", kind, seq, time.Since(start))
		}
		p.sink(view.Snapshot{
			Kind:      kind,
			Seq:       seq,
			FetchedAt: time.Now(),
			Payload:   payload,
			Err:       err,
		})
	}()
}

func (p *Poller) request(ctx context.Context, kind view.Kind) (any, error) {
	switch kind {
	case view.KindStatus:
		return p.src.Status(ctx)
	case view.KindCameras:
		return p.src.Cameras(ctx)
	case view.KindDetections:
		return p.src.Detections(ctx, backend.PageQuery{PerPage: p.cfg.DetectionsCap})
	case view.KindAlerts:
		return p.src.Alerts(ctx, backend.PageQuery{PerPage: p.cfg.AlertsCap})
	case view.KindAnalytics:
		return p.src.Analytics(ctx, p.Period())
	case view.KindSettings:
		return p.src.Settings(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", view.ErrUnknownKind, kind)
	}
}

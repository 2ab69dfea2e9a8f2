package dashboard

import (
	"time"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/config"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/metrics"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/poller"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/socketio"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/stream"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/view"
	"github.com/dj-oyu/facemask-monitor/dashboard/pkg/types"
)

// Options configures a Session.
type Options struct {
	Poll   poller.Config
	View   view.Options
	Stream stream.Options
	// Period is the initial analytics window for both the poller and the
	// view. Empty selects today.
	Period types.Period
	// ActionTimeout bounds each control request.
	ActionTimeout time.Duration
	Metrics       *metrics.Metrics
}

// OptionsFromConfig maps the file configuration onto session options.
func OptionsFromConfig(cfg *config.Config, m *metrics.Metrics) (Options, error) {
	period, err := types.ParsePeriod(cfg.Analytics.Period)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Poll: poller.Config{
			Intervals: map[view.Kind]time.Duration{
				view.KindStatus:     cfg.Poll.Status,
				view.KindCameras:    cfg.Poll.Cameras,
				view.KindDetections: cfg.Poll.Detections,
				view.KindAlerts:     cfg.Poll.Alerts,
				view.KindAnalytics:  cfg.Poll.Analytics,
				view.KindSettings:   cfg.Poll.Settings,
			},
			Timeout:       cfg.Backend.Timeout,
			DetectionsCap: cfg.Buffers.Detections,
			AlertsCap:     cfg.Buffers.Alerts,
		},
		View: view.Options{
			DetectionCap: cfg.Buffers.Detections,
			AlertCap:     cfg.Buffers.Alerts,
			StrictOrder:  cfg.Poll.StrictOrder,
		},
		Stream: stream.Options{
			Socket: socketio.Options{
				URL:                 cfg.StreamURL(),
				Path:                cfg.Stream.Path,
				Namespace:           cfg.Stream.Namespace,
				HandshakeTimeout:    cfg.Stream.HandshakeTimeout,
				ReconnectDelay:      cfg.Stream.ReconnectDelay,
				ReconnectDelayMax:   cfg.Stream.ReconnectDelayMax,
				RandomizationFactor: cfg.Stream.RandomizationFactor,
				MaxAttempts:         cfg.Stream.MaxAttempts,
			},
			Subscribe: cfg.Stream.Subscribe,
			Metrics:   m,
		},
		Period:        period,
		ActionTimeout: cfg.Backend.Timeout,
		Metrics:       m,
	}, nil
}

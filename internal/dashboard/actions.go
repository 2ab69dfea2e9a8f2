package dashboard

import (
	"context"
	"fmt"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/backend"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/logger"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/notify"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/view"
	"github.com/dj-oyu/facemask-monitor/dashboard/pkg/types"
)

// Control actions go straight to the backend. The view changes only through
// the refetch a success triggers; a failure leaves it untouched and raises
// one error notification. Nothing is retried.

// ControlCamera starts, stops or restarts a camera.
func (s *Session) ControlCamera(ctx context.Context, cameraID string, action types.CameraAction) (backend.ControlResult, error) {
	if !s.Mounted() {
		return backend.ControlResult{}, ErrNotMounted
	}
	if _, err := types.ParseCameraAction(string(action)); err != nil {
		s.failed(notify.SourceControl, fmt.Sprintf("Failed to %s camera %s", action, cameraID), err)
		s.metrics.ControlAction(string(action), err)
		return backend.ControlResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.backend.ControlCamera(ctx, cameraID, action)
	s.metrics.ControlAction(string(action), err)
	if err != nil {
		s.failed(notify.SourceControl, fmt.Sprintf("Failed to %s camera %s", action, cameraID), err)
		return backend.ControlResult{}, fmt.Errorf("control camera %s: %w", cameraID, err)
	}

	msg := res.Message
	if msg == "" {
		msg = fmt.Sprintf("Camera %s %s requested", cameraID, action)
	}
	s.hub.Notify(notify.Notification{
		Level:   notify.LevelSuccess,
		Title:   "Camera " + string(action),
		Message: msg,
		Source:  notify.SourceControl,
	})
	s.refresh(view.KindCameras, view.KindStatus)
	return res, nil
}

// SaveSettings writes the settings to the backend.
func (s *Session) SaveSettings(ctx context.Context, settings types.Settings) error {
	if !s.Mounted() {
		return ErrNotMounted
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.backend.UpdateSettings(ctx, settings)
	s.metrics.ControlAction("save_settings", err)
	if err != nil {
		s.failed(notify.SourceSettings, "Failed to save settings", err)
		return fmt.Errorf("save settings: %w", err)
	}
	s.hub.Notify(notify.Notification{
		Level:   notify.LevelSuccess,
		Title:   "Settings saved",
		Message: "Settings updated successfully",
		Source:  notify.SourceSettings,
	})
	s.refresh(view.KindSettings)
	return nil
}

// SetAnalyticsPeriod switches the analytics window and refetches it.
// Responses for the previous window that resolve later are dropped.
func (s *Session) SetAnalyticsPeriod(period string) error {
	if !s.Mounted() {
		return ErrNotMounted
	}
	p, err := types.ParsePeriod(period)
	if err != nil {
		s.failed(notify.SourceControl, "Failed to change analytics period", err)
		return err
	}
	if err := s.do(func() bool { return s.state.SetPeriod(p) }); err != nil {
		return err
	}
	s.poller.SetPeriod(p)
	s.refresh(view.KindAnalytics)
	return nil
}

// Refresh fetches kind now.
func (s *Session) Refresh(kind view.Kind) error {
	if !s.Mounted() {
		return ErrNotMounted
	}
	return s.poller.Trigger(kind)
}

func (s *Session) refresh(kinds ...view.Kind) {
	for _, k := range kinds {
		if err := s.poller.Trigger(k); err != nil {
			logger.Debug("Dashboard", "Refetch %s skipped: %v", k, err)
		}
	}
}

func (s *Session) failed(source, title string, err error) {
	s.hub.Notify(notify.Notification{
		Level:   notify.LevelError,
		Title:   title,
		Message: err.Error(),
		Source:  source,
	})
}

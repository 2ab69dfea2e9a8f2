package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/notify"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/view"
	"github.com/dj-oyu/facemask-monitor/dashboard/pkg/types"
)

func renderView(w io.Writer, v view.View, now time.Time) {
	fmt.Fprintf(w, "view v%s  connection=%s  period=%s\n", humanize.Comma(int64(v.Version)), v.Connection, v.AnalyticsPeriod)

	st := v.Status.Value
	fmt.Fprintf(w, "status     %-12s %s\n", orDash(st.Status), since(v.Status.UpdatedAt, now))
	fmt.Fprintf(w, "  cameras %d/%d active  detections today %s  violations today %s\n",
		st.Cameras.Active, st.Cameras.Total,
		humanize.Comma(int64(st.Detections.TotalToday)),
		humanize.Comma(int64(st.Detections.ViolationsToday)))
	errorLine(w, v.Status.Error)

	fmt.Fprintf(w, "cameras    %-12d %s\n", len(v.Cameras.Value), since(v.Cameras.UpdatedAt, now))
	for _, c := range v.Cameras.Value {
		state := "inactive"
		if c.IsActive {
			state = "active"
		}
		fmt.Fprintf(w, "  %-6s %-20s %-4s %s\n", c.ID, c.Name, c.Type, state)
	}
	errorLine(w, v.Cameras.Error)

	fmt.Fprintf(w, "detections %-12s %s\n", fmt.Sprintf("%d/%d", len(v.Detections.Value), v.Detections.Cap), since(v.Detections.UpdatedAt, now))
	for _, d := range v.Detections.Value {
		fmt.Fprintf(w, "  cam %-6s faces %d  masks %d  no-mask %d  %s\n",
			d.CameraID, d.FaceCount, d.MaskCount, d.NoMaskCount, since(d.Timestamp, now))
	}
	errorLine(w, v.Detections.Error)

	fmt.Fprintf(w, "alerts     %-12s %s\n", fmt.Sprintf("%d/%d", len(v.Alerts.Value), v.Alerts.Cap), since(v.Alerts.UpdatedAt, now))
	for _, a := range v.Alerts.Value {
		fmt.Fprintf(w, "  [%s] cam %s %s  %s\n", a.Severity, a.CameraID, a.Message, since(a.Timestamp, now))
	}
	errorLine(w, v.Alerts.Error)

	sum := v.Analytics.Value.Summary
	fmt.Fprintf(w, "analytics  %-12s %s\n", orDash(string(v.Analytics.Value.Period)), since(v.Analytics.UpdatedAt, now))
	fmt.Fprintf(w, "  detections %s  faces %s  mask rate %s%%  violation rate %s%%\n",
		humanize.Comma(int64(sum.TotalDetections)),
		humanize.Comma(int64(sum.TotalFaces)),
		humanize.FtoaWithDigits(sum.MaskRate, 2),
		humanize.FtoaWithDigits(sum.ViolationRate, 2))
	errorLine(w, v.Analytics.Error)

	s := v.Settings.Value
	fmt.Fprintf(w, "settings   %-12s %s\n", "", since(v.Settings.UpdatedAt, now))
	fmt.Fprintf(w, "  confidence %s  interval %ss  fps %d\n",
		humanize.FtoaWithDigits(s.ConfidenceThreshold, 2),
		humanize.FtoaWithDigits(s.ProcessingInterval, 2),
		s.FrameRate)
	errorLine(w, v.Settings.Error)
}

func renderNotification(w io.Writer, n notify.Notification, now time.Time) {
	fmt.Fprintf(w, "%-7s %-10s %s: %s (%s)\n",
		strings.ToUpper(string(n.Level)), n.Source, n.Title, n.Message, humanize.RelTime(n.At, now, "ago", "from now"))
}

func since(t types.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t.Time, now, "ago", "from now")
}

func errorLine(w io.Writer, msg string) {
	if msg != "" {
		fmt.Fprintf(w, "  error: %s\n", msg)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

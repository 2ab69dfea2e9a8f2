// Package types holds the backend record shapes consumed by the dashboard.
//
// Every record mirrors the JSON produced by the detection backend. Optional
// fields are explicit: numbers default to 0, collections to empty, and
// Normalize fills in the empty collections after decoding.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrInvalidAction is returned for camera actions the backend does not accept.
	ErrInvalidAction = errors.New("invalid camera action")
	// ErrInvalidPeriod is returned for unknown analytics periods.
	ErrInvalidPeriod = errors.New("invalid analytics period")
)

// CameraAction is a camera control command.
type CameraAction string

const (
	ActionStart   CameraAction = "start"
	ActionStop    CameraAction = "stop"
	ActionRestart CameraAction = "restart"
)

// ParseCameraAction validates s.
func ParseCameraAction(s string) (CameraAction, error) {
	switch a := CameraAction(s); a {
	case ActionStart, ActionStop, ActionRestart:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
}

// Period selects the analytics window.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod validates s. The empty string selects today.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case "":
		return PeriodToday, nil
	case PeriodToday, PeriodWeek, PeriodMonth:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
}

// Camera mirrors an entry of GET /api/cameras.
type Camera struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"` // "ip" or "rpi"
	URL       string `json:"url,omitempty"`
	DeviceID  int    `json:"device_id,omitempty"`
	Location  string `json:"location,omitempty"`
	IsActive  bool   `json:"is_active"`
	CreatedAt Time   `json:"created_at"`
	UpdatedAt Time   `json:"updated_at"`
}

// UnmarshalJSON accepts numeric camera ids as well as strings.
func (c *Camera) UnmarshalJSON(data []byte) error {
	type plain Camera
	aux := struct {
		*plain
		ID json.RawMessage `json:"id"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.ID = flexibleID(aux.ID)
	return nil
}

// Detection mirrors a detection record. It is produced both by
// GET /api/detections and by the detection_update push event; the push side
// spells the counters faces_detected/masks_detected/no_masks_detected.
type Detection struct {
	ID              int64   `json:"id,omitempty"`
	CameraID        string  `json:"camera_id"`
	Timestamp       Time    `json:"timestamp"`
	FaceCount       int     `json:"face_count"`
	MaskCount       int     `json:"mask_count"`
	NoMaskCount     int     `json:"no_mask_count"`
	ConfidenceScore float64 `json:"confidence_score"`
	ImagePath       string  `json:"image_path,omitempty"`
	Processed       bool    `json:"processed"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Detection) UnmarshalJSON(data []byte) error {
	type plain Detection
	aux := struct {
		*plain
		CameraID        json.RawMessage `json:"camera_id"`
		FacesDetected   *int            `json:"faces_detected"`
		MasksDetected   *int            `json:"masks_detected"`
		NoMasksDetected *int            `json:"no_masks_detected"`
	}{plain: (*plain)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d.CameraID = flexibleID(aux.CameraID)
	if d.FaceCount == 0 && aux.FacesDetected != nil {
		d.FaceCount = *aux.FacesDetected
	}
	if d.MaskCount == 0 && aux.MasksDetected != nil {
		d.MaskCount = *aux.MasksDetected
	}
	if d.NoMaskCount == 0 && aux.NoMasksDetected != nil {
		d.NoMaskCount = *aux.NoMasksDetected
	}
	return nil
}

// Key identifies the detection for de-duplication. It is empty when the
// record carries neither an id nor a timestamp, as live engine pushes do.
func (d Detection) Key() string {
	if d.ID != 0 {
		return "id:" + strconv.FormatInt(d.ID, 10)
	}
	if d.Timestamp.IsZero() {
		return ""
	}
	return d.CameraID + "@" + d.Timestamp.UTC().Format("2006-01-02T15:04:05.999999999")
}

// IsViolation reports whether anyone in the frame was unmasked.
func (d Detection) IsViolation() bool {
	return d.NoMaskCount > 0
}

// Alert mirrors an alert record from GET /api/alerts or the alert push event.
type Alert struct {
	ID             int64  `json:"id,omitempty"`
	CameraID       string `json:"camera_id"`
	AlertType      string `json:"alert_type"` // violation, system, camera
	Severity       string `json:"severity"`   // low, medium, high, critical
	Message        string `json:"message"`
	Timestamp      Time   `json:"timestamp"`
	Acknowledged   bool   `json:"acknowledged"`
	AcknowledgedBy string `json:"acknowledged_by,omitempty"`
	AcknowledgedAt Time   `json:"acknowledged_at"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Alert) UnmarshalJSON(data []byte) error {
	type plain Alert
	aux := struct {
		*plain
		CameraID json.RawMessage `json:"camera_id"`
		Type     string          `json:"type"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.CameraID = flexibleID(aux.CameraID)
	if a.AlertType == "" {
		a.AlertType = aux.Type
	}
	if a.Severity == "" {
		a.Severity = "medium"
	}
	return nil
}

// Key identifies the alert for de-duplication. It is empty without an id
// or a timestamp.
func (a Alert) Key() string {
	if a.ID != 0 {
		return "id:" + strconv.FormatInt(a.ID, 10)
	}
	if a.Timestamp.IsZero() {
		return ""
	}
	return a.CameraID + "@" + a.Timestamp.UTC().Format("2006-01-02T15:04:05.999999999") + "#" + a.AlertType
}

// CameraCounts is the cameras block of the status payload.
type CameraCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// DetectionCounts is the detections block of the status payload.
type DetectionCounts struct {
	TotalToday      int `json:"total_today"`
	ViolationsToday int `json:"violations_today"`
}

// SystemStatus mirrors GET /api/status.
type SystemStatus struct {
	Status     string          `json:"status"`
	Timestamp  Time            `json:"timestamp"`
	Cameras    CameraCounts    `json:"cameras"`
	Detections DetectionCounts `json:"detections"`
	Services   map[string]bool `json:"services"`
}

// Normalize replaces missing collections with empty ones.
func (s *SystemStatus) Normalize() {
	if s.Services == nil {
		s.Services = map[string]bool{}
	}
}

// Running reports whether the backend considers itself up.
func (s SystemStatus) Running() bool {
	return s.Status == "running"
}

// AnalyticsSummary is the summary block of the analytics payload.
type AnalyticsSummary struct {
	TotalDetections int     `json:"total_detections"`
	TotalFaces      int     `json:"total_faces"`
	TotalMasks      int     `json:"total_masks"`
	TotalViolations int     `json:"total_violations"`
	MaskRate        float64 `json:"mask_rate"`
	ViolationRate   float64 `json:"violation_rate"`
}

// CameraStatistics is one row of the per-camera analytics breakdown.
type CameraStatistics struct {
	CameraID        string  `json:"camera_id"`
	Name            string  `json:"name"`
	Detections      int     `json:"detections"`
	TotalFaces      int     `json:"total_faces"`
	TotalMasks      int     `json:"total_masks"`
	TotalViolations int     `json:"total_violations"`
	MaskRate        float64 `json:"mask_rate"`
	ViolationRate   float64 `json:"violation_rate"`
}

// HourlyStatistics is one row of the hourly analytics breakdown.
type HourlyStatistics struct {
	Hour            int     `json:"hour"`
	Detections      int     `json:"detections"`
	TotalFaces      int     `json:"total_faces"`
	TotalMasks      int     `json:"total_masks"`
	TotalViolations int     `json:"total_violations"`
	MaskRate        float64 `json:"mask_rate"`
	ViolationRate   float64 `json:"violation_rate"`
}

// AlertStatistics groups the alerts raised within the analytics window.
type AlertStatistics struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"by_type"`
	BySeverity map[string]int `json:"by_severity"`
}

// Analytics mirrors GET /api/analytics. The backend answers {} when its
// analytics engine fails; that decodes to the zero value.
type Analytics struct {
	Period           Period             `json:"period"`
	StartDate        Time               `json:"start_date"`
	EndDate          Time               `json:"end_date"`
	Summary          AnalyticsSummary   `json:"summary"`
	CameraStatistics []CameraStatistics `json:"camera_statistics"`
	HourlyBreakdown  []HourlyStatistics `json:"hourly_breakdown"`
	Alerts           AlertStatistics    `json:"alerts"`
}

// Normalize replaces missing collections with empty ones.
func (a *Analytics) Normalize() {
	if a.CameraStatistics == nil {
		a.CameraStatistics = []CameraStatistics{}
	}
	if a.HourlyBreakdown == nil {
		a.HourlyBreakdown = []HourlyStatistics{}
	}
	if a.Alerts.ByType == nil {
		a.Alerts.ByType = map[string]int{}
	}
	if a.Alerts.BySeverity == nil {
		a.Alerts.BySeverity = map[string]int{}
	}
}

// Settings mirrors GET/PUT /api/settings.
type Settings struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	ProcessingInterval  float64 `json:"processing_interval"`
	FrameRate           int     `json:"frame_rate"`
	AlertCooldown       int     `json:"alert_cooldown"`
	ViolationThreshold  int     `json:"violation_threshold"`
	TelegramEnabled     bool    `json:"telegram_enabled"`
	EmailEnabled        bool    `json:"email_enabled"`
	MQTTEnabled         bool    `json:"mqtt_enabled"`
}

// NormalizeCameras returns cameras, or an empty slice when it is nil.
func NormalizeCameras(cameras []Camera) []Camera {
	if cameras == nil {
		return []Camera{}
	}
	return cameras
}

// flexibleID renders a JSON string or number as a string id.
func flexibleID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

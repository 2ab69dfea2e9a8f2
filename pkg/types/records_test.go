package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectionDecodesBackendRecord(t *testing.T) {
	body := `{"id": 42, "camera_id": "cam1", "timestamp": "2024-05-01T10:15:30.123456",
		"face_count": 3, "mask_count": 2, "no_mask_count": 1,
		"confidence_score": null, "image_path": null, "processed": false}`

	var d Detection
	require.NoError(t, json.Unmarshal([]byte(body), &d))

	assert.Equal(t, int64(42), d.ID)
	assert.Equal(t, "cam1", d.CameraID)
	assert.Equal(t, 3, d.FaceCount)
	assert.Equal(t, 1, d.NoMaskCount)
	assert.Zero(t, d.ConfidenceScore)
	assert.True(t, d.IsViolation())
	assert.Equal(t, time.Date(2024, 5, 1, 10, 15, 30, 123456000, time.UTC), d.Timestamp.Time)
	assert.Equal(t, "id:42", d.Key())
}

func TestDetectionDecodesPushPayload(t *testing.T) {
	body := `{"faces_detected": 4, "masks_detected": 3, "no_masks_detected": 1,
		"detections": [{"bbox": [10, 20, 40, 40], "label": "mask", "confidence": 0.9}],
		"confidence_score": 0.91}`

	var d Detection
	require.NoError(t, json.Unmarshal([]byte(body), &d))

	assert.Empty(t, d.CameraID)
	assert.Equal(t, 4, d.FaceCount)
	assert.Equal(t, 3, d.MaskCount)
	assert.Equal(t, 1, d.NoMaskCount)
	assert.Equal(t, 0.91, d.ConfidenceScore)
	assert.True(t, d.IsViolation())
	assert.True(t, d.Timestamp.IsZero())
	assert.Empty(t, d.Key())
}

func TestDetectionKeyFromCameraAndTime(t *testing.T) {
	var d Detection
	require.NoError(t, json.Unmarshal([]byte(`{"camera_id": 7, "timestamp": 1714558530.5, "face_count": 1}`), &d))

	assert.Equal(t, "7", d.CameraID)
	assert.Equal(t, int64(1714558530), d.Timestamp.Unix())
	assert.Equal(t, "7@2024-05-01T10:15:30.5", d.Key())
}

func TestDetectionMissingFieldsDefault(t *testing.T) {
	var d Detection
	require.NoError(t, json.Unmarshal([]byte(`{}`), &d))

	assert.Zero(t, d.FaceCount)
	assert.Zero(t, d.MaskCount)
	assert.True(t, d.Timestamp.IsZero())
	assert.Empty(t, d.Key())
}

func TestAlertDefaults(t *testing.T) {
	var a Alert
	require.NoError(t, json.Unmarshal([]byte(`{"camera_id": "cam2", "type": "violation", "message": "no mask"}`), &a))

	assert.Equal(t, "violation", a.AlertType)
	assert.Equal(t, "medium", a.Severity)
	assert.True(t, a.AcknowledgedAt.IsZero())
	assert.Empty(t, a.Key())
}

func TestCameraNumericID(t *testing.T) {
	var cams []Camera
	body := `[{"id": 1, "name": "Lobby", "type": "ip", "is_active": true, "created_at": null},
		{"id": "rpi-0", "name": "Door", "type": "rpi", "device_id": 0, "is_active": false}]`
	require.NoError(t, json.Unmarshal([]byte(body), &cams))

	require.Len(t, cams, 2)
	assert.Equal(t, "1", cams[0].ID)
	assert.True(t, cams[0].IsActive)
	assert.Equal(t, "rpi-0", cams[1].ID)
}

func TestAnalyticsNormalizeEmptyPayload(t *testing.T) {
	var a Analytics
	require.NoError(t, json.Unmarshal([]byte(`{}`), &a))
	a.Normalize()

	assert.NotNil(t, a.CameraStatistics)
	assert.NotNil(t, a.HourlyBreakdown)
	assert.NotNil(t, a.Alerts.ByType)
	assert.NotNil(t, a.Alerts.BySeverity)
	assert.Zero(t, a.Summary.TotalFaces)

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"camera_statistics":[]`)
	assert.Contains(t, string(out), `"start_date":null`)
}

func TestStatusNormalize(t *testing.T) {
	var s SystemStatus
	require.NoError(t, json.Unmarshal([]byte(`{"status": "running", "cameras": {"total": 2}}`), &s))
	s.Normalize()

	assert.True(t, s.Running())
	assert.Equal(t, 2, s.Cameras.Total)
	assert.Zero(t, s.Cameras.Active)
	assert.NotNil(t, s.Services)
}

func TestParseCameraAction(t *testing.T) {
	for _, valid := range []string{"start", "stop", "restart"} {
		action, err := ParseCameraAction(valid)
		require.NoError(t, err)
		assert.Equal(t, CameraAction(valid), action)
	}

	_, err := ParseCameraAction("reboot")
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, PeriodToday, p)

	p, err = ParsePeriod("month")
	require.NoError(t, err)
	assert.Equal(t, PeriodMonth, p)

	_, err = ParsePeriod("year")
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestTimeRoundTrip(t *testing.T) {
	in := NewTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	out, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-02T03:04:05Z"`, string(out))

	var back Time
	require.NoError(t, json.Unmarshal(out, &back))
	assert.True(t, in.Equal(back.Time))

	var empty Time
	require.NoError(t, json.Unmarshal([]byte(`""`), &empty))
	assert.True(t, empty.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &empty))
}

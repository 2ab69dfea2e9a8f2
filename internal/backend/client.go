// Package backend is the REST client for the detection backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dj-oyu/facemask-monitor/dashboard/pkg/types"
)

// HTTPError is returned for non-2xx backend responses.
type HTTPError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend: %s %s: http %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("backend: %s %s: http %d", e.Method, e.Path, e.Status)
}

// PageQuery selects a page of detections or alerts. Zero fields are omitted
// and the backend applies its own defaults.
type PageQuery struct {
	Page     int
	PerPage  int
	CameraID string
}

func (q PageQuery) values() url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.CameraID != "" {
		v.Set("camera_id", q.CameraID)
	}
	return v
}

// ControlResult is the backend's reply to a camera control request.
type ControlResult struct {
	Message string `json:"message"`
}

// Client is a minimal detection backend REST client.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient constructs a backend client. timeout bounds every request.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("backend: empty base url")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// BaseURL returns the normalized backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (types.SystemStatus, error) {
	var resp types.SystemStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return types.SystemStatus{}, err
	}
	resp.Normalize()
	return resp, nil
}

// Cameras fetches GET /api/cameras.
func (c *Client) Cameras(ctx context.Context) ([]types.Camera, error) {
	var resp []types.Camera
	if err := c.doJSON(ctx, http.MethodGet, "/api/cameras", nil, &resp); err != nil {
		return nil, err
	}
	return types.NormalizeCameras(resp), nil
}

// Detections fetches a page of detections, newest first.
func (c *Client) Detections(ctx context.Context, q PageQuery) ([]types.Detection, error) {
	resp := []types.Detection{}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/api/detections", q.values()), nil, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		resp = []types.Detection{}
	}
	return resp, nil
}

// Alerts fetches a page of alerts, newest first.
func (c *Client) Alerts(ctx context.Context, q PageQuery) ([]types.Alert, error) {
	resp := []types.Alert{}
	q.CameraID = ""
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/api/alerts", q.values()), nil, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		resp = []types.Alert{}
	}
	return resp, nil
}

// Analytics fetches GET /api/analytics for period.
func (c *Client) Analytics(ctx context.Context, period types.Period) (types.Analytics, error) {
	if period == "" {
		period = types.PeriodToday
	}
	var resp types.Analytics
	path := withQuery("/api/analytics", url.Values{"period": {string(period)}})
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return types.Analytics{}, err
	}
	if resp.Period == "" {
		resp.Period = period
	}
	resp.Normalize()
	return resp, nil
}

// Settings fetches GET /api/settings.
func (c *Client) Settings(ctx context.Context) (types.Settings, error) {
	var resp types.Settings
	if err := c.doJSON(ctx, http.MethodGet, "/api/settings", nil, &resp); err != nil {
		return types.Settings{}, err
	}
	return resp, nil
}

// UpdateSettings sends PUT /api/settings.
func (c *Client) UpdateSettings(ctx context.Context, s types.Settings) error {
	return c.doJSON(ctx, http.MethodPut, "/api/settings", s, nil)
}

// ControlCamera sends POST /api/cameras/{id}/control.
func (c *Client) ControlCamera(ctx context.Context, cameraID string, action types.CameraAction) (ControlResult, error) {
	if cameraID == "" {
		return ControlResult{}, errors.New("backend: empty camera id")
	}
	if _, err := types.ParseCameraAction(string(action)); err != nil {
		return ControlResult{}, err
	}
	path := "/api/cameras/" + url.PathEscape(cameraID) + "/control"
	var resp ControlResult
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]any{"action": action}, &resp); err != nil {
		return ControlResult{}, err
	}
	return resp, nil
}

func withQuery(path string, v url.Values) string {
	if len(v) == 0 {
		return path
	}
	return path + "?" + v.Encode()
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		herr := &HTTPError{Method: method, Path: path, Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			herr.Message = eb.Error
		} else {
			herr.Message = strings.TrimSpace(string(raw))
		}
		return herr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}

package dashcompat

import (
	"net/http"
	"strings"
	"testing"
)

func TestDashCompatHealth(t *testing.T) {
	client := newCompatClient(t)
	resp, body := client.get(t, "/health")
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("GET /health status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	status := requireString(t, payload["status"], "status")
	if mounted, _ := payload["mounted"].(bool); mounted != (status == "ok") {
		t.Fatalf("health status %q disagrees with mounted=%v", status, mounted)
	}
}

func TestDashCompatView(t *testing.T) {
	client := newCompatClient(t)
	resp, body := client.get(t, "/api/view")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/view status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		t.Fatalf("GET /api/view content-type = %q", resp.Header.Get("Content-Type"))
	}
	assertViewPayload(t, decodeJSONMap(t, body))
}

func TestDashCompatResourceKinds(t *testing.T) {
	client := newCompatClient(t)
	for _, kind := range []string{"status", "cameras", "detections", "alerts", "analytics", "settings"} {
		resp, body := client.get(t, "/api/view/"+kind)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET /api/view/%s status = %d", kind, resp.StatusCode)
		}
		payload := decodeJSONMap(t, body)
		if got := requireString(t, payload["kind"], "kind"); got != kind {
			t.Fatalf("kind = %q, want %q", got, kind)
		}
		requireMap(t, payload["resource"], "resource")
	}

	resp, _ := client.get(t, "/api/view/frames")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET /api/view/frames status = %d", resp.StatusCode)
	}
}

func TestDashCompatConnection(t *testing.T) {
	client := newCompatClient(t)
	resp, body := client.get(t, "/api/connection")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/connection status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	requireString(t, payload["state"], "state")
	requireNumber(t, payload["version"], "version")
}

func TestDashCompatRejectsInvalidActions(t *testing.T) {
	client := newCompatClient(t)

	resp, body := client.postJSON(t, "/api/cameras/1/control", map[string]string{"action": "explode"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid control status = %d", resp.StatusCode)
	}
	requireString(t, decodeJSONMap(t, body)["error"], "error")

	resp, _ = client.postJSON(t, "/api/analytics/period", map[string]string{"period": "decade"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid period status = %d", resp.StatusCode)
	}

	resp, _ = client.postJSON(t, "/api/refresh/frames", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown refresh kind status = %d", resp.StatusCode)
	}
}

func TestDashCompatRefresh(t *testing.T) {
	client := newCompatClient(t)
	resp, body := client.postJSON(t, "/api/refresh/status", nil)
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("POST /api/refresh/status status = %d", resp.StatusCode)
	}
	decodeJSONMap(t, body)
}

func TestDashCompatNotificationHistory(t *testing.T) {
	client := newCompatClient(t)
	resp, body := client.get(t, "/api/notifications")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/notifications status = %d", resp.StatusCode)
	}
	if !strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		t.Fatalf("notification history is not an array: %s", body)
	}
}

package dashcompat

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestDashCompatViewStream(t *testing.T) {
	client := newCompatClient(t)
	event, headers, err := readSSEEvent(client.baseURL+"/api/view/stream", "", 3*time.Second)
	if err != nil {
		t.Fatalf("view stream error: %v", err)
	}
	if !strings.Contains(headers.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("view stream content-type = %q", headers.Get("Content-Type"))
	}
	if got := headers.Get("X-Content-Format"); got != "application/json" {
		t.Fatalf("view stream format = %q", got)
	}
	name, data := parseSSE(t, event)
	if name != "view" {
		t.Fatalf("first event = %q, want view", name)
	}
	assertViewPayload(t, decodeJSONMap(t, []byte(data)))
}

func TestDashCompatViewStreamProtobuf(t *testing.T) {
	client := newCompatClient(t)
	event, headers, err := readSSEEvent(client.baseURL+"/api/view/stream", "application/protobuf", 3*time.Second)
	if err != nil {
		t.Fatalf("view stream error: %v", err)
	}
	if got := headers.Get("X-Content-Format"); got != "application/protobuf" {
		t.Fatalf("view stream format = %q", got)
	}
	_, data := parseSSE(t, event)
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		t.Fatalf("decode protobuf: %v", err)
	}
	assertViewPayload(t, st.AsMap())
}

package webmonitor

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/logger"
)

const (
	contentJSON     = "application/json"
	contentProtobuf = "application/protobuf"
)

// wantsProtobuf checks whether the client prefers protobuf payloads.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

// streamEvents writes events from eventCh to an SSE client until the
// channel closes or the client goes away. Idle gaps longer than keepAlive
// are filled with a comment line.
func streamEvents(w http.ResponseWriter, r *http.Request, eventCh <-chan *SerializedEvent, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	useProtobuf := wantsProtobuf(r)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", contentProtobuf)
	} else {
		w.Header().Set("X-Content-Format", contentJSON)
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	timer := time.NewTimer(keepAlive)
	defer timer.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, data); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()

		case <-timer.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}

		timer.Reset(keepAlive)
	}
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Refresh stream event names.
const (
	eventProgress = "progress"
	eventDone     = "done"
	eventError    = "error"
)

const sseWriteTimeout = 3 * time.Second

var errStreamingUnsupported = errors.New("streaming not supported")

// SSEStream writes Server-Sent Events to one client.
type SSEStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewSSEStream sends the event-stream headers. It fails when w
// cannot flush, so the caller can fall back to a plain response.
func NewSSEStream(w http.ResponseWriter) (*SSEStream, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, errStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("flushing stream headers: %w", err)
	}
	return &SSEStream{w: w, rc: rc}, nil
}

// Send writes one event. A stalled client gets sseWriteTimeout
// before the write fails; it returns false on failure.
func (s *SSEStream) Send(event, data string) bool {
	_ = s.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))
	defer func() { _ = s.rc.SetWriteDeadline(time.Time{}) }()

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		log.Printf("SSE write error for %q: %v", event, err)
		return false
	}
	_ = s.rc.Flush()
	return true
}

// SendJSON writes one event with v encoded as JSON.
func (s *SSEStream) SendJSON(event string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("SSE marshal error for %q: %v", event, err)
		return false
	}
	return s.Send(event, string(data))
}

// SendError writes an error event carrying msg.
func (s *SSEStream) SendError(msg string) bool {
	return s.SendJSON(eventError, errorBody{Error: msg})
}

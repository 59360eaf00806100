package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rhuss/codeact/pkg/api"
)

// terminalEvents are the event types that end a streamed reply.
var terminalEvents = map[api.StreamEventType]bool{
	api.EventMessageCompleted: true,
	api.EventMessageFailed:    true,
}

// sseWriter writes reply events as server-sent events. Each event is
// formatted as:
//
//	event: {type}\n
//	data: {json}\n
//	\n
//
// After a terminal event, it also sends:
//
//	data: [DONE]\n
//	\n
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	done    bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

// WriteEvent sends a single event and flushes it.
func (s *sseWriter) WriteEvent(event api.StreamEvent) error {
	if s.done {
		return errors.New("cannot write event: stream is completed")
	}

	// First event: set SSE headers.
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	if terminalEvents[event.Type] {
		if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
			return fmt.Errorf("failed to write [DONE]: %w", err)
		}
		if err := s.rc.Flush(); err != nil {
			return fmt.Errorf("failed to flush [DONE]: %w", err)
		}
		s.done = true
	}

	return nil
}

package sink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// SSE streams events as `data: {...}\n\n` frames over a chunked HTTP
// response, flushing after every frame. Write failures after a client
// disconnect are logged once and further writes become no-ops.
type SSE struct {
	w       http.ResponseWriter
	flusher http.Flusher
	broken  bool
}

// NewSSE prepares w for event streaming and writes the SSE response headers.
// It fails only when the underlying ResponseWriter cannot flush, which would
// silently defeat incremental delivery.
func NewSSE(w http.ResponseWriter) (*SSE, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &SSE{w: w, flusher: flusher}, nil
}

// Send writes one event frame. A failed write marks the sink broken and is
// swallowed; the fan-out must keep draining provider results regardless of
// whether anyone is still listening.
func (s *SSE) Send(event Event) error {
	if s.broken {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		slog.Debug("SSE write failed, client likely disconnected", "error", err)
		s.broken = true
		return nil
	}
	s.flusher.Flush()
	return nil
}

// Close emits the terminal sentinel. The HTTP layer closes the connection
// when the handler returns.
func (s *SSE) Close() error {
	if s.broken {
		return nil
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", Terminal); err != nil {
		slog.Debug("SSE terminal write failed", "error", err)
		return nil
	}
	s.flusher.Flush()
	return nil
}

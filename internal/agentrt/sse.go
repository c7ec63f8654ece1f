package agentrt

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HTTPSink writes Events as `data: <json>\n\n` frames to an http.Flusher,
// serializing concurrent writes (the keepalive goroutine and the agent loop
// both write) behind one mutex — grounded on the teacher's agentd SSE
// handler shape.
type HTTPSink struct {
	w  http.ResponseWriter
	fl http.Flusher
	mu sync.Mutex
}

// NewHTTPSink sets the SSE response headers and wraps w. Returns an error if
// the underlying ResponseWriter does not support flushing.
func NewHTTPSink(w http.ResponseWriter) (*HTTPSink, error) {
	fl, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("agentrt: response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &HTTPSink{w: w, fl: fl}, nil
}

// Emit writes one SSE data frame.
func (s *HTTPSink) Emit(event any) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.fl.Flush()
	return nil
}

// Keepalive writes an SSE comment line, ignored by clients, to stop idle
// proxies and browsers from closing the connection during long tool calls.
func (s *HTTPSink) keepalive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.w, ": keepalive\n\n")
	s.fl.Flush()
}

// RunKeepalive writes a keepalive comment every interval until stop is
// closed. Callers run this in its own goroutine alongside ChatStream.
func (s *HTTPSink) RunKeepalive(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.keepalive()
		}
	}
}

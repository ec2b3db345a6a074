package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"mercator-hq/switchboard/pkg/proxy/types"
)

// ErrTransportClosed is returned by writes after the transport was closed.
var ErrTransportClosed = errors.New("sse transport is closed")

// SetSSEHeaders sets the headers of an event stream response.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// SSETransport writes relay frames to an HTTP response. Headers and the 200
// status are sent with the first write, so a turn that fails before its
// session opens can still answer with an error status.
type SSETransport struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewSSETransport wraps w.
func NewSSETransport(w http.ResponseWriter) *SSETransport {
	return &SSETransport{w: w, rc: http.NewResponseController(w)}
}

// Write writes encoded frames to the response.
func (t *SSETransport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if !t.started {
		SetSSEHeaders(t.w)
		t.w.WriteHeader(http.StatusOK)
		t.started = true
	}
	if _, err := t.w.Write(p); err != nil {
		return fmt.Errorf("failed to write SSE frame: %w", err)
	}
	return nil
}

// Flush pushes buffered bytes to the client.
func (t *SSETransport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if !t.started {
		return nil
	}
	if err := t.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush SSE stream: %w", err)
	}
	return nil
}

// Close marks the transport closed. The response itself ends when the
// handler returns.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Started reports whether anything was written.
func (t *SSETransport) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// WriteJSONResponse writes a JSON response to the HTTP response writer.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}
	return nil
}

// WriteErrorResponse writes an error response with the status code of its
// type and a Retry-After header when the error carries a hint.
func WriteErrorResponse(w http.ResponseWriter, errResp *types.ErrorResponse) error {
	if errResp.Error.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(errResp.Error.RetryAfter))
	}
	return WriteJSONResponse(w, errResp.Error.HTTPStatusCode(), errResp)
}

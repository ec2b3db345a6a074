package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mercator-hq/switchboard/pkg/admission"
	"mercator-hq/switchboard/pkg/relay"
	"mercator-hq/switchboard/pkg/resilience"
	"mercator-hq/switchboard/pkg/upstream"
)

// ErrorKind classifies a failure that happened before streaming started.
type ErrorKind string

const (
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindCapacityExceeded    ErrorKind = "capacity_exceeded"
	KindQueueTimeout        ErrorKind = "queue_timeout"
	KindShuttingDown        ErrorKind = "shutting_down"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindRateLimited         ErrorKind = "rate_limited"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindUpstream            ErrorKind = "upstream_error"
	KindCancelled           ErrorKind = "cancelled"
)

// Error is returned by Service.Stream when the turn failed before the
// session opened, so the caller can still answer with a status code.
type Error struct {
	Kind    ErrorKind
	Message string

	// RetryAfter is a hint for capacity and rate-limit failures.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// admissionError maps an admission failure.
func admissionError(err error) *Error {
	switch {
	case errors.Is(err, admission.ErrCapacityExceeded):
		return &Error{Kind: KindCapacityExceeded, Message: "too many requests are waiting", RetryAfter: time.Second, Err: err}
	case errors.Is(err, admission.ErrQueueTimeout):
		return &Error{Kind: KindQueueTimeout, Message: "timed out waiting for capacity", RetryAfter: time.Second, Err: err}
	case errors.Is(err, admission.ErrClosed):
		return &Error{Kind: KindShuttingDown, Message: "server is shutting down", Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindCancelled, Message: "request cancelled while queued", Err: err}
	default:
		return &Error{Kind: KindUpstream, Message: "admission failed", Err: err}
	}
}

// upstreamError maps a failure of a guarded upstream call.
func upstreamError(op string, err error) *Error {
	var (
		authErr *upstream.AuthError
		rateErr *upstream.RateLimitError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Message: op + " cancelled", Err: err}
	case resilience.IsCircuitOpen(err):
		e := &Error{Kind: KindUpstreamUnavailable, Message: "upstream temporarily unavailable", Err: err}
		var open *resilience.CircuitOpenError
		if errors.As(err, &open) {
			e.RetryAfter = open.RetryIn
		}
		return e
	case errors.As(err, &authErr):
		return &Error{Kind: KindUnauthorized, Message: "upstream rejected the credential", Err: err}
	case errors.As(err, &rateErr):
		return &Error{Kind: KindRateLimited, Message: "upstream rate limit reached", RetryAfter: rateErr.RetryAfter, Err: err}
	default:
		return &Error{Kind: KindUpstream, Message: op + " failed", Err: err}
	}
}

// frameError picks the code and message of the error frame for a failure
// after streaming started.
func frameError(err error) (code, message string) {
	var streamErr *upstream.StreamError
	switch {
	case errors.As(err, &streamErr):
		msg := streamErr.Message
		if msg == "" {
			msg = "upstream reported a failure"
		}
		return "upstream_stream_error", msg
	case errors.Is(err, relay.ErrIncompleteStream):
		return "incomplete_stream", "the answer stream ended unexpectedly"
	default:
		return "stream_error", "the answer stream failed"
	}
}

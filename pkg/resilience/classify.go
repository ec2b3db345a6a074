package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Classification is the retry verdict for an error.
type Classification struct {
	Retryable bool
}

// Classifier decides whether a failed attempt may be retried.
type Classifier func(err error) Classification

// statusCoder is implemented by errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// transient is implemented by errors that know they are transport-level.
type transient interface {
	Transient() bool
}

type timeout interface {
	Timeout() bool
}

// DefaultClassifier retries network-level failures (connection reset or
// refused, DNS failure, timeouts) and HTTP 5xx, 429 and 408. Other 4xx,
// malformed responses and caller cancellation are not retried.
func DefaultClassifier(err error) Classification {
	if err == nil {
		return Classification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{}
	}

	var sc statusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() > 0 {
		return Classification{Retryable: RetryableStatus(sc.HTTPStatus())}
	}

	var tr transient
	if errors.As(err, &tr) && tr.Transient() {
		return Classification{Retryable: true}
	}

	var to timeout
	if errors.As(err, &to) && to.Timeout() {
		return Classification{Retryable: true}
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return Classification{Retryable: true}
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return Classification{Retryable: true}
	}

	return Classification{}
}

// RetryableStatus reports whether an HTTP status is transient.
func RetryableStatus(status int) bool {
	switch {
	case status >= 500:
		return true
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

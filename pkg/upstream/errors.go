package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ProviderError is an upstream failure reported through an HTTP status or
// an application-level error code.
type ProviderError struct {
	// Provider is the name of the upstream that returned the error
	Provider string

	// StatusCode is the HTTP status code (0 for application-level errors
	// returned with a 2xx status)
	StatusCode int

	// Code is the upstream application error code (0 if not applicable)
	Code int

	// Message is the error message
	Message string

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("upstream %q error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	case e.Code != 0:
		return fmt.Sprintf("upstream %q error (code %d): %s", e.Provider, e.Code, e.Message)
	default:
		return fmt.Sprintf("upstream %q error: %s", e.Provider, e.Message)
	}
}

// Unwrap returns the underlying error for error chain support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status code of the failure.
func (e *ProviderError) HTTPStatus() int {
	return e.StatusCode
}

// AuthError represents a rejected credential (HTTP 401 or 403).
type AuthError struct {
	// Provider is the name of the upstream that rejected the credential
	Provider string

	// StatusCode is 401 or 403
	StatusCode int

	// Message is the error message from the upstream
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream %q authentication failed: %s", e.Provider, e.Message)
}

// HTTPStatus returns the HTTP status code of the failure.
func (e *AuthError) HTTPStatus() int {
	if e.StatusCode == 0 {
		return http.StatusUnauthorized
	}
	return e.StatusCode
}

// RateLimitError represents a rate limit exceeded error (HTTP 429).
// It includes the retry-after duration if provided by the upstream.
type RateLimitError struct {
	// Provider is the name of the upstream that rate limited the request
	Provider string

	// RetryAfter is the duration to wait before retrying (if provided)
	RetryAfter time.Duration

	// Message is the error message from the upstream
	Message string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream %q rate limit exceeded (retry after %s): %s",
			e.Provider, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("upstream %q rate limit exceeded: %s", e.Provider, e.Message)
}

// HTTPStatus returns http.StatusTooManyRequests.
func (e *RateLimitError) HTTPStatus() int {
	return http.StatusTooManyRequests
}

// TimeoutError represents a request that exceeded its configured timeout.
type TimeoutError struct {
	// Provider is the name of the upstream where the timeout occurred
	Provider string

	// Operation is the upstream call that timed out
	Operation string

	// Duration is the configured timeout that elapsed
	Duration time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upstream %q %s timeout after %s", e.Provider, e.Operation, e.Duration)
}

// Timeout always reports true.
func (e *TimeoutError) Timeout() bool {
	return true
}

// NetworkError represents a transport-level failure (connection refused or
// reset, DNS failure) before any response was received.
type NetworkError struct {
	// Provider is the name of the upstream that could not be reached
	Provider string

	// Cause is the underlying transport error
	Cause error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("upstream %q unreachable: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// Transient always reports true.
func (e *NetworkError) Transient() bool {
	return true
}

// ParseError represents a malformed upstream response or event payload.
type ParseError struct {
	// Provider is the name of the upstream that returned the malformed data
	Provider string

	// RawResponse is the payload that failed to parse
	RawResponse string

	// Cause is the underlying parse error
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("upstream %q response parse error: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// StreamError represents a failure after the stream was opened: a read error
// or an error event emitted by the upstream.
type StreamError struct {
	// Provider is the name of the upstream where the error occurred
	Provider string

	// Code is the upstream error code carried by an error event (0 if none)
	Code int

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream %q stream error: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("upstream %q stream error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *StreamError) Unwrap() error {
	return e.Cause
}

// IsParseError reports whether err is a malformed-payload error.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

package resilience

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen matches any *CircuitOpenError with errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned without invoking the operation when the
// breaker of its class is open.
type CircuitOpenError struct {
	// Class is the operation class whose breaker is open
	Class string

	// RetryIn is the remaining time until a half-open probe is allowed
	RetryIn time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %q is open (retry in %s)", e.Class, e.RetryIn.Round(time.Millisecond))
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// ExhaustedError wraps the last error of a call that used all its attempts.
type ExhaustedError struct {
	// Class is the operation class
	Class string

	// Attempts is the number of attempts made
	Attempts int

	// Cause is the error of the last attempt
	Cause error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Class, e.Attempts, e.Cause)
}

// Unwrap returns the last attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

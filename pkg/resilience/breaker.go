package resilience

import (
	"sync"
	"time"

	"mercator-hq/switchboard/pkg/config"
)

// State is a circuit breaker state.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota

	// StateHalfOpen lets calls through as probes after the reset timeout.
	StateHalfOpen

	// StateOpen rejects every call without invoking it.
	StateOpen
)

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerSettings configures a circuit breaker.
type BreakerSettings struct {
	// FailureThreshold consecutive failures open a closed breaker.
	FailureThreshold int

	// ResetTimeout is measured from the last failure; once it elapsed an
	// open breaker admits a half-open probe.
	ResetTimeout time.Duration

	// SuccessThreshold consecutive half-open successes close the breaker.
	SuccessThreshold int
}

// BreakerSettingsFromConfig builds BreakerSettings from configuration.
func BreakerSettingsFromConfig(cfg config.BreakerConfig) BreakerSettings {
	return BreakerSettings{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		SuccessThreshold: cfg.SuccessThreshold,
	}
}

// Breaker is a three-state circuit breaker for one upstream operation
// class. The only transitions are closed→open, open→half-open,
// half-open→closed and half-open→open.
type Breaker struct {
	class    string
	settings BreakerSettings
	now      func() time.Time
	onChange func(class string, from, to State)

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

// BreakerSnapshot is a point-in-time copy of a breaker's counters.
type BreakerSnapshot struct {
	Class       string
	State       State
	Failures    int
	Successes   int
	LastFailure time.Time
}

// NewBreaker creates a closed breaker. now and onChange may be nil.
func NewBreaker(class string, settings BreakerSettings, now func() time.Time, onChange func(class string, from, to State)) *Breaker {
	if settings.FailureThreshold < 1 {
		settings.FailureThreshold = 1
	}
	if settings.SuccessThreshold < 1 {
		settings.SuccessThreshold = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		class:    class,
		settings: settings,
		now:      now,
		onChange: onChange,
	}
}

// Class returns the operation class guarded by the breaker.
func (b *Breaker) Class() string {
	return b.class
}

// Allow reports whether a call may proceed. An open breaker whose reset
// timeout elapsed moves to half-open and admits the call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	if b.state != StateOpen {
		b.mu.Unlock()
		return nil
	}

	elapsed := b.now().Sub(b.lastFailure)
	if elapsed < b.settings.ResetTimeout {
		b.mu.Unlock()
		return &CircuitOpenError{Class: b.class, RetryIn: b.settings.ResetTimeout - elapsed}
	}

	from := b.transition(StateHalfOpen)
	b.mu.Unlock()
	b.notify(from, StateHalfOpen)
	return nil
}

// RecordSuccess records a successful guarded call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.failures = 0
		b.mu.Unlock()
		return
	case StateHalfOpen:
		b.successes++
		if b.successes < b.settings.SuccessThreshold {
			b.mu.Unlock()
			return
		}
		from := b.transition(StateClosed)
		b.mu.Unlock()
		b.notify(from, StateClosed)
		return
	default:
		// A call admitted before the breaker opened finished late.
		b.mu.Unlock()
	}
}

// RecordFailure records a failed guarded call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures < b.settings.FailureThreshold {
			b.mu.Unlock()
			return
		}
	case StateHalfOpen:
	default:
		b.mu.Unlock()
		return
	}

	from := b.transition(StateOpen)
	b.mu.Unlock()
	b.notify(from, StateOpen)
}

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker counters.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Class:       b.class,
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFailure,
	}
}

// transition changes state and resets counters. Callers hold b.mu.
func (b *Breaker) transition(to State) State {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	return from
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil && from != to {
		b.onChange(b.class, from, to)
	}
}

package resilience

import (
	"time"

	"mercator-hq/switchboard/pkg/config"

	"github.com/cenkalti/backoff/v4"
)

// Policy is the retry policy of a guarded call.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay after the first failed attempt.
	BaseDelay time.Duration

	// MaxDelay caps the jitter-free delay.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor.
	Multiplier float64

	// Jitter is the randomization factor (0.25 means ±25%).
	Jitter float64
}

// PolicyFromConfig builds a Policy from the retry configuration.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Multiplier:  cfg.Multiplier,
		Jitter:      cfg.Jitter,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = config.DefaultRetryBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Delay returns the jitter-free delay that follows the given failed attempt
// (1-based): BaseDelay × Multiplier^(attempt-1), capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	p = p.normalized()
	p.Jitter = 0

	b := p.newBackOff()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// newBackOff returns an exponential backoff stepped once per failed
// attempt. Each step draws a fresh jittered delay around the current
// interval.
func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

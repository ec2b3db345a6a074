package metrics

import (
	"time"

	"mercator-hq/switchboard/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Breaker state values exported by the breaker_state gauge.
const (
	breakerClosed   = 0
	breakerHalfOpen = 1
	breakerOpen     = 2
)

// UpstreamMetrics tracks calls to the upstream provider made through the
// resilience guard.
//
// Metrics:
//   - switchboard_relay_upstream_attempts_total: attempts by class and outcome
//   - switchboard_relay_upstream_attempt_duration_seconds: attempt latency
//   - switchboard_relay_upstream_retries_total: retries by class
//   - switchboard_relay_upstream_fallbacks_total: fallback results by class
//   - switchboard_relay_breaker_state: 0=closed, 1=half-open, 2=open
//   - switchboard_relay_breaker_transitions_total: transitions by class and target state
type UpstreamMetrics struct {
	attempts    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

// NewUpstreamMetrics creates and registers upstream metrics with the provided registry.
func NewUpstreamMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *UpstreamMetrics {
	um := &UpstreamMetrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_attempts_total",
				Help:      "Upstream call attempts by operation class and outcome",
			},
			[]string{"class", "outcome"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_attempt_duration_seconds",
				Help:      "Duration of upstream call attempts in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"class"},
		),

		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_retries_total",
				Help:      "Upstream call retries by operation class",
			},
			[]string{"class"},
		),

		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_fallbacks_total",
				Help:      "Upstream calls answered by a fallback",
			},
			[]string{"class"},
		),

		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"class"},
		),

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"class", "to"},
		),
	}

	registry.MustRegister(
		um.attempts,
		um.duration,
		um.retries,
		um.fallbacks,
		um.state,
		um.transitions,
	)

	return um
}

// RecordAttempt records one attempt and its latency.
func (um *UpstreamMetrics) RecordAttempt(class, outcome string, duration time.Duration) {
	um.attempts.WithLabelValues(class, outcome).Inc()
	um.duration.WithLabelValues(class).Observe(duration.Seconds())
}

// RecordTransition records a breaker transition and updates the state gauge.
func (um *UpstreamMetrics) RecordTransition(class, from, to string) {
	um.transitions.WithLabelValues(class, to).Inc()

	switch to {
	case "open":
		um.state.WithLabelValues(class).Set(breakerOpen)
	case "half-open":
		um.state.WithLabelValues(class).Set(breakerHalfOpen)
	default:
		um.state.WithLabelValues(class).Set(breakerClosed)
	}
}

package metrics

import (
	"time"

	"mercator-hq/switchboard/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics tracks client stream sessions and the frames written to them.
//
// Metrics:
//   - switchboard_relay_sessions_active: open sessions
//   - switchboard_relay_sessions_opened_total: sessions opened
//   - switchboard_relay_sessions_closed_total: sessions closed by outcome
//   - switchboard_relay_session_duration_seconds: session lifetime
//   - switchboard_relay_frames_total: frames written by kind
//   - switchboard_relay_client_disconnects_total: clients gone before the terminal frame
//   - switchboard_relay_follow_ups_total: final frames by follow-up source
//   - switchboard_relay_follow_up_questions_total: follow-up questions delivered
type StreamMetrics struct {
	active            prometheus.Gauge
	opened            prometheus.Counter
	closed            *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	frames            *prometheus.CounterVec
	disconnects       prometheus.Counter
	followUps         *prometheus.CounterVec
	followUpQuestions prometheus.Counter
}

// NewStreamMetrics creates and registers stream metrics.
func NewStreamMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *StreamMetrics {
	sm := &StreamMetrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "sessions_active",
			Help:      "Number of open stream sessions",
		}),
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "sessions_opened_total",
			Help:      "Stream sessions opened",
		}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "sessions_closed_total",
			Help:      "Stream sessions closed by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of stream sessions in seconds",
			Buckets:   cfg.DurationBuckets,
		}, []string{"outcome"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "frames_total",
			Help:      "Frames written to clients by kind",
		}, []string{"kind"}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "client_disconnects_total",
			Help:      "Clients that disconnected before the terminal frame",
		}),
		followUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "follow_ups_total",
			Help:      "Final frames by follow-up question source",
		}, []string{"source"}),
		followUpQuestions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "follow_up_questions_total",
			Help:      "Follow-up questions delivered to clients",
		}),
	}

	registry.MustRegister(
		sm.active,
		sm.opened,
		sm.closed,
		sm.duration,
		sm.frames,
		sm.disconnects,
		sm.followUps,
		sm.followUpQuestions,
	)

	return sm
}

// RecordClosed records a closed session.
func (sm *StreamMetrics) RecordClosed(outcome string, duration time.Duration) {
	sm.active.Dec()
	sm.closed.WithLabelValues(outcome).Inc()
	sm.duration.WithLabelValues(outcome).Observe(duration.Seconds())
}

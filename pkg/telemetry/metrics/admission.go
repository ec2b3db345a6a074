package metrics

import (
	"time"

	"mercator-hq/switchboard/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// AdmissionMetrics tracks the admission controller.
//
// Metrics:
//   - switchboard_relay_admission_in_flight: admitted operations not yet released
//   - switchboard_relay_admission_queue_depth: submissions waiting for a slot
//   - switchboard_relay_admission_decisions_total: decisions by priority and result
//   - switchboard_relay_admission_wait_seconds: time spent queued
type AdmissionMetrics struct {
	inFlight   prometheus.Gauge
	queueDepth prometheus.Gauge
	decisions  *prometheus.CounterVec
	wait       *prometheus.HistogramVec
}

// NewAdmissionMetrics creates and registers admission metrics with the provided registry.
func NewAdmissionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AdmissionMetrics {
	am := &AdmissionMetrics{
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "admission_in_flight",
				Help:      "Number of admitted operations not yet released",
			},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "admission_queue_depth",
				Help:      "Number of submissions waiting for admission",
			},
		),

		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "admission_decisions_total",
				Help:      "Admission decisions by priority and result",
			},
			[]string{"priority", "result"},
		),

		wait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "admission_wait_seconds",
				Help:      "Time submissions spent queued before a decision",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"priority"},
		),
	}

	registry.MustRegister(
		am.inFlight,
		am.queueDepth,
		am.decisions,
		am.wait,
	)

	return am
}

// RecordDecision records an admission decision and its queue wait.
func (am *AdmissionMetrics) RecordDecision(priority, result string, wait time.Duration) {
	am.decisions.WithLabelValues(priority, result).Inc()
	am.wait.WithLabelValues(priority).Observe(wait.Seconds())
}

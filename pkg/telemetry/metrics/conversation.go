package metrics

import (
	"mercator-hq/switchboard/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// ConversationMetrics tracks the conversation affinity cache.
//
// Metrics:
//   - switchboard_relay_conversations_resolved_total: resolutions by source
//   - switchboard_relay_conversation_cache_size: cached handles
//   - switchboard_relay_conversations_pruned_total: persisted handles pruned
type ConversationMetrics struct {
	resolved  *prometheus.CounterVec
	cacheSize prometheus.Gauge
	pruned    prometheus.Counter
}

// NewConversationMetrics creates and registers conversation metrics.
func NewConversationMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ConversationMetrics {
	cm := &ConversationMetrics{
		resolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "conversations_resolved_total",
				Help:      "Conversation handle resolutions by source",
			},
			[]string{"source"},
		),

		cacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "conversation_cache_size",
				Help:      "Number of cached conversation handles",
			},
		),

		pruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "conversations_pruned_total",
				Help:      "Persisted conversation handles removed by maintenance",
			},
		),
	}

	registry.MustRegister(
		cm.resolved,
		cm.cacheSize,
		cm.pruned,
	)

	return cm
}

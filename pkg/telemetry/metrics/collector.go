package metrics

import (
	"strconv"
	"time"

	"mercator-hq/switchboard/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is the main orchestrator for all Prometheus metrics in Switchboard.
// It owns the registry and implements the small metrics interfaces declared by
// the admission, resilience, conversation, relay and follow-up packages, so
// each component depends only on the methods it records.
//
// When metrics are disabled every Record method returns immediately.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	admission    *AdmissionMetrics
	upstream     *UpstreamMetrics
	conversation *ConversationMetrics
	stream       *StreamMetrics
	http         *HTTPMetrics
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a fresh registry is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{
//		Enabled:   true,
//		Namespace: "switchboard",
//		Subsystem: "relay",
//	}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = append([]float64(nil), config.DefaultDurationBuckets...)
	}

	return &Collector{
		config:       cfg,
		registry:     registry,
		admission:    NewAdmissionMetrics(cfg, registry),
		upstream:     NewUpstreamMetrics(cfg, registry),
		conversation: NewConversationMetrics(cfg, registry),
		stream:       NewStreamMetrics(cfg, registry),
		http:         NewHTTPMetrics(cfg, registry),
	}
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Enabled reports whether metrics are being recorded.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// AdmissionInFlight sets the number of in-flight admitted operations.
func (c *Collector) AdmissionInFlight(n int) {
	if !c.config.Enabled {
		return
	}
	c.admission.inFlight.Set(float64(n))
}

// AdmissionQueueDepth sets the number of queued submissions.
func (c *Collector) AdmissionQueueDepth(n int) {
	if !c.config.Enabled {
		return
	}
	c.admission.queueDepth.Set(float64(n))
}

// AdmissionDecision records the outcome of an admission request.
//
// Parameters:
//   - priority: "normal" or "high"
//   - result: "admitted", "rejected", "timeout", "cancelled"
//   - wait: time spent queued (zero for immediate decisions)
func (c *Collector) AdmissionDecision(priority, result string, wait time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.admission.RecordDecision(priority, result, wait)
}

// UpstreamAttempt records a single attempt of a guarded upstream call.
//
// Parameters:
//   - class: operation class (e.g., "open_stream")
//   - outcome: "success", "retryable", "permanent", "rejected"
//   - duration: attempt duration
func (c *Collector) UpstreamAttempt(class, outcome string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.upstream.RecordAttempt(class, outcome, duration)
}

// UpstreamRetry records that a guarded call is about to be retried.
func (c *Collector) UpstreamRetry(class string) {
	if !c.config.Enabled {
		return
	}
	c.upstream.retries.WithLabelValues(class).Inc()
}

// UpstreamFallback records that a fallback supplied the result of a call.
func (c *Collector) UpstreamFallback(class string) {
	if !c.config.Enabled {
		return
	}
	c.upstream.fallbacks.WithLabelValues(class).Inc()
}

// BreakerTransition records a circuit breaker state change.
func (c *Collector) BreakerTransition(class, from, to string) {
	if !c.config.Enabled {
		return
	}
	c.upstream.RecordTransition(class, from, to)
}

// ConversationResolved records how a conversation handle was obtained.
//
// Parameters:
//   - source: "cache", "store", "discovered", "created", "error"
func (c *Collector) ConversationResolved(source string) {
	if !c.config.Enabled {
		return
	}
	c.conversation.resolved.WithLabelValues(source).Inc()
}

// ConversationCacheSize sets the number of cached conversation handles.
func (c *Collector) ConversationCacheSize(n int) {
	if !c.config.Enabled {
		return
	}
	c.conversation.cacheSize.Set(float64(n))
}

// ConversationPruned records persisted handles removed by maintenance.
func (c *Collector) ConversationPruned(n int) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.conversation.pruned.Add(float64(n))
}

// SessionOpened records a new stream session.
func (c *Collector) SessionOpened() {
	if !c.config.Enabled {
		return
	}
	c.stream.active.Inc()
	c.stream.opened.Inc()
}

// SessionClosed records the end of a stream session.
//
// Parameters:
//   - outcome: "completed", "failed", "disconnected"
//   - duration: lifetime of the session
func (c *Collector) SessionClosed(outcome string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.stream.RecordClosed(outcome, duration)
}

// FrameSent records a frame written to a client.
func (c *Collector) FrameSent(kind string) {
	if !c.config.Enabled {
		return
	}
	c.stream.frames.WithLabelValues(kind).Inc()
}

// ClientDisconnected records a client that went away before the terminal frame.
func (c *Collector) ClientDisconnected() {
	if !c.config.Enabled {
		return
	}
	c.stream.disconnects.Inc()
}

// FollowUpsReconciled records the source and count of follow-up questions
// attached to a final frame.
func (c *Collector) FollowUpsReconciled(source string, count int) {
	if !c.config.Enabled {
		return
	}
	c.stream.followUps.WithLabelValues(source).Inc()
	if count > 0 {
		c.stream.followUpQuestions.Add(float64(count))
	}
}

// HTTPRequest records a completed HTTP request.
func (c *Collector) HTTPRequest(route string, status int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.http.RecordRequest(route, strconv.Itoa(status), duration)
}

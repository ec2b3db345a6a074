// Package metrics provides Prometheus metrics collection for Switchboard.
//
// # Metrics Categories
//
//   - Admission: in-flight gauge, queue depth, decisions and queue wait
//   - Upstream: attempts, retries, fallbacks and circuit breaker state
//   - Conversation: handle resolutions by source and cache size
//   - Stream: sessions, frames by kind, disconnects and follow-ups
//   - HTTP: requests by route and status
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	// Components take the collector through their own Metrics interfaces.
//	controller := admission.New(cfg.Admission, admission.WithMetrics(collector))
//
//	http.Handle("/metrics", collector.Handler())
//
// Recording never blocks and never fails; with metrics disabled every
// method is a no-op.
package metrics

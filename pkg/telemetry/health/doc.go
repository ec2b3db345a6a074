// Package health serves the liveness, readiness and version endpoints.
//
// Readiness aggregates named checks registered at startup (the upstream
// stream breaker, the conversation store) and fails while the process is
// draining for shutdown.
package health

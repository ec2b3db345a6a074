// Package telemetry groups Switchboard's observability packages.
//
//   - logging: slog-based structured logging with credential redaction
//   - metrics: Prometheus collector for admission, upstream, stream and HTTP
//   - tracing: OpenTelemetry spans exported over OTLP/gRPC
//   - health: liveness, readiness and version endpoints
package telemetry

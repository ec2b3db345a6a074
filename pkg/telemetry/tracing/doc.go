// Package tracing provides OpenTelemetry distributed tracing for Switchboard.
//
// A chat turn is one span ("chat.turn") with events for admission,
// conversation resolution, stream open and finalization. Incoming W3C
// trace context is honored through HTTPMiddleware and propagated to the
// upstream provider through Inject.
//
// Spans are exported over OTLP/gRPC. When tracing is disabled a noop tracer
// is used and span creation costs almost nothing.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "chat.turn")
//	defer span.End()
package tracing

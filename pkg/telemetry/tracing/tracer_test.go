package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mercator-hq/switchboard/pkg/config"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tr, err := newWithExporter("test", "v0", sdktrace.AlwaysSample(), exporter)
	if err != nil {
		t.Fatalf("newWithExporter failed: %v", err)
	}
	t.Cleanup(func() { _ = tr.Shutdown(context.Background()) })
	return tr, exporter
}

func TestNew_Disabled(t *testing.T) {
	tr, err := New(&config.TracingConfig{Enabled: false}, "v1")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if tr.Enabled() {
		t.Error("expected disabled tracer")
	}

	ctx, span := tr.Start(context.Background(), "noop")
	span.End()
	if TraceID(ctx) != "" {
		t.Error("noop span should carry no trace id")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of noop tracer failed: %v", err)
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil, ""); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{SamplerAlways, 0, false},
		{SamplerNever, 0, false},
		{SamplerRatio, 0.25, false},
		{SamplerRatio, 1.5, true},
		{"sometimes", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			s, err := createSampler(tt.strategy, tt.ratio)
			if (err != nil) != tt.wantErr {
				t.Fatalf("createSampler(%q, %v) error = %v, wantErr %v", tt.strategy, tt.ratio, err, tt.wantErr)
			}
			if !tt.wantErr && s == nil {
				t.Error("expected sampler")
			}
		})
	}
}

func TestTracer_RecordsSpans(t *testing.T) {
	tr, exporter := newRecordingTracer(t)

	ctx, span := tr.Start(context.Background(), "chat.turn")
	SetTurnAttributes(span, "req-1", "user-1", "normal")
	AddEvent(span, "admitted")
	if TraceID(ctx) == "" {
		t.Error("expected trace id on recording span")
	}
	SetStatus(span, errors.New("upstream unavailable"))
	span.End()

	if err := tr.provider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	got := spans[0]
	if got.Name != "chat.turn" {
		t.Errorf("span name = %q", got.Name)
	}
	if got.Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", got.Status.Code)
	}
	if len(got.Events) < 2 {
		t.Errorf("expected admitted and exception events, got %d", len(got.Events))
	}

	found := false
	for _, kv := range got.Attributes {
		if kv.Key == AttrClientID && kv.Value.AsString() == "user-1" {
			found = true
		}
	}
	if !found {
		t.Error("expected client id attribute")
	}
}

func TestHTTPMiddleware_JoinsIncomingTrace(t *testing.T) {
	tr, _ := newRecordingTracer(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var seen string
	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tr.Start(r.Context(), "handler")
		defer span.End()
		seen = TraceID(ctx)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != traceID {
		t.Errorf("expected handler span in trace %s, got %q", traceID, seen)
	}

	out := http.Header{}
	ctx, span := tr.Start(context.Background(), "outgoing")
	Inject(ctx, out)
	span.End()
	if out.Get("traceparent") == "" {
		t.Error("expected traceparent to be injected")
	}
}

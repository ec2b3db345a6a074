package logging

import (
	"context"
	"log/slog"
)

// handler decorates records with request-scoped context fields and, when a
// redactor is configured, masks credentials before they reach the output.
type handler struct {
	next     slog.Handler
	redactor *Redactor
}

func newHandler(next slog.Handler, redactor *Redactor) *handler {
	return &handler{next: next, redactor: redactor}
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *handler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)

	for _, attr := range contextAttrs(ctx) {
		out.AddAttrs(attr)
	}

	record.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(h.redact(attr))
		return true
	})

	return h.next.Handle(ctx, out)
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = h.redact(attr)
	}
	return &handler{next: h.next.WithAttrs(redacted), redactor: h.redactor}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return &handler{next: h.next.WithGroup(name), redactor: h.redactor}
}

func (h *handler) redact(attr slog.Attr) slog.Attr {
	if h.redactor == nil {
		return attr
	}
	return h.redactor.RedactAttr(attr)
}

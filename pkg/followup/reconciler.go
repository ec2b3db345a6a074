package followup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/switchboard/pkg/config"
	"mercator-hq/switchboard/pkg/resilience"
	"mercator-hq/switchboard/pkg/upstream"
)

// Provenance of a Result.
const (
	SourceStream      = "from-stream"
	SourceSideChannel = "from-side-channel"
	SourceNone        = "none"
)

// clearTimeout bounds the detached variable cleanup.
const clearTimeout = 10 * time.Second

// clearAttempts is how often the cleanup is tried, whatever the error.
const clearAttempts = 2

// clearRetryDelay separates the cleanup attempts.
const clearRetryDelay = 100 * time.Millisecond

// Result is the reconciled list of suggested questions.
type Result struct {
	Questions []string
	Source    string
}

// Metrics receives reconciliation observations.
type Metrics interface {
	FollowUpsReconciled(source string, count int)
}

type nopMetrics struct{}

func (nopMetrics) FollowUpsReconciled(string, int) {}

// Reconciler merges follow-up questions embedded in the answer stream with
// the ones the upstream stores in conversation variables.
type Reconciler struct {
	client       upstream.Client
	guard        *resilience.Guard
	enabled      bool
	variables    []string
	timeout      time.Duration
	maxQuestions int
	metrics      Metrics
	logger       *slog.Logger

	cleanups sync.WaitGroup
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a Reconciler from configuration.
func NewReconciler(client upstream.Client, guard *resilience.Guard, cfg config.FollowUpConfig, opts ...Option) *Reconciler {
	r := &Reconciler{
		client:       client,
		guard:        guard,
		enabled:      cfg.Enabled,
		variables:    cfg.Variables,
		timeout:      cfg.Timeout,
		maxQuestions: cfg.MaxQuestions,
		metrics:      nopMetrics{},
		logger:       slog.Default(),
	}
	if r.timeout <= 0 {
		r.timeout = config.DefaultFollowUpTimeout
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "followup")
	return r
}

// Reconcile returns the questions to attach to the final frame. Questions
// embedded in the stream win; otherwise the side channel is read once
// within the configured timeout and cleared afterwards. Failures yield an
// empty result, never an error.
func (r *Reconciler) Reconcile(ctx context.Context, id upstream.Identity, embedded []string) Result {
	if qs := Normalize(embedded, r.maxQuestions); len(qs) > 0 {
		return r.result(ctx, qs, SourceStream)
	}
	if !r.enabled || len(r.variables) == 0 {
		return r.result(ctx, nil, SourceNone)
	}

	readCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	values, err := resilience.Do(readCtx, r.guard, resilience.ClassGetVariables,
		func(ctx context.Context) (map[string]string, error) {
			return r.client.GetVariables(ctx, id, r.variables)
		}, resilience.WithMaxAttempts(1))
	if err != nil {
		r.logger.WarnContext(ctx, "follow-up side channel read failed", "client_id", id.ClientID, "error", err)
		return r.result(ctx, nil, SourceNone)
	}

	var raw []string
	populated := false
	for _, name := range r.variables {
		v := values[name]
		if v == "" {
			continue
		}
		populated = true
		raw = append(raw, Parse(v)...)
	}
	if populated {
		r.clear(ctx, id)
	}

	qs := Normalize(raw, r.maxQuestions)
	if len(qs) == 0 {
		return r.result(ctx, nil, SourceNone)
	}
	return r.result(ctx, qs, SourceSideChannel)
}

func (r *Reconciler) result(ctx context.Context, qs []string, source string) Result {
	if qs == nil {
		qs = []string{}
	}
	r.metrics.FollowUpsReconciled(source, len(qs))
	r.logger.DebugContext(ctx, "follow-ups reconciled", "source", source, "count", len(qs))
	return Result{Questions: qs, Source: source}
}

// clear empties the side-channel variables so they are not served again
// with the next answer. It runs detached from ctx and is tried twice
// regardless of the error kind or breaker state.
func (r *Reconciler) clear(ctx context.Context, id upstream.Identity) {
	empty := make(map[string]string, len(r.variables))
	for _, name := range r.variables {
		empty[name] = ""
	}

	r.cleanups.Add(1)
	go func() {
		defer r.cleanups.Done()

		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
		defer cancel()

		var err error
	attempts:
		for attempt := 1; ; attempt++ {
			if err = r.client.SetVariables(clearCtx, id, empty); err == nil {
				return
			}
			r.logger.DebugContext(clearCtx, "follow-up variable clear attempt failed", "attempt", attempt, "error", err)
			if attempt == clearAttempts {
				break
			}
			select {
			case <-time.After(clearRetryDelay):
			case <-clearCtx.Done():
				break attempts
			}
		}
		r.logger.WarnContext(clearCtx, "failed to clear follow-up variables", "client_id", id.ClientID, "error", err)
	}()
}

// Wait blocks until pending variable cleanups finish or ctx is done.
func (r *Reconciler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.cleanups.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

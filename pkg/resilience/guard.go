package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mercator-hq/switchboard/pkg/telemetry/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Upstream operation classes. Each class has its own breaker.
const (
	ClassCreateConversation = "create_conversation"
	ClassListConversations  = "list_conversations"
	ClassOpenStream         = "open_stream"
	ClassGetVariables       = "get_variables"
	ClassSetVariables       = "set_variables"
)

// Attempt outcomes reported to Metrics.
const (
	OutcomeSuccess   = "success"
	OutcomeRetryable = "retryable"
	OutcomePermanent = "permanent"
	OutcomeRejected  = "rejected"
)

// Metrics receives retry and breaker observations. Implementations must not
// block.
type Metrics interface {
	UpstreamAttempt(class, outcome string, duration time.Duration)
	UpstreamRetry(class string)
	UpstreamFallback(class string)
	BreakerTransition(class, from, to string)
}

type nopMetrics struct{}

func (nopMetrics) UpstreamAttempt(string, string, time.Duration) {}
func (nopMetrics) UpstreamRetry(string)                          {}
func (nopMetrics) UpstreamFallback(string)                       {}
func (nopMetrics) BreakerTransition(string, string, string)      {}

// Guard applies the retry policy and the per-class circuit breakers to
// upstream calls. A Guard is shared by all requests.
type Guard struct {
	policy     Policy
	settings   BreakerSettings
	classifier Classifier
	metrics    Metrics
	logger     *slog.Logger
	tracer     *tracing.Tracer
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithClassifier replaces DefaultClassifier.
func WithClassifier(c Classifier) GuardOption {
	return func(g *Guard) { g.classifier = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// WithTracer wraps every guarded call in a span.
func WithTracer(t *tracing.Tracer) GuardOption {
	return func(g *Guard) { g.tracer = t }
}

// WithClock sets the clock used by the breakers.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) GuardOption {
	return func(g *Guard) { g.sleep = sleep }
}

// NewGuard creates a Guard.
func NewGuard(policy Policy, settings BreakerSettings, opts ...GuardOption) *Guard {
	g := &Guard{
		policy:     policy.normalized(),
		settings:   settings,
		classifier: DefaultClassifier,
		metrics:    nopMetrics{},
		logger:     slog.Default(),
		tracer:     tracing.Noop(),
		now:        time.Now,
		sleep:      sleepContext,
		breakers:   make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "resilience")
	return g
}

// Policy returns the retry policy.
func (g *Guard) Policy() Policy {
	return g.policy
}

// Breaker returns the breaker of a class, creating it on first use.
func (g *Guard) Breaker(class string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[class]
	if !ok {
		b = NewBreaker(class, g.settings, g.now, g.onTransition)
		g.breakers[class] = b
	}
	return b
}

// Snapshots returns the state of every breaker created so far, sorted by
// class.
func (g *Guard) Snapshots() []BreakerSnapshot {
	g.mu.Lock()
	breakers := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		breakers = append(breakers, b)
	}
	g.mu.Unlock()

	out := make([]BreakerSnapshot, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}

func (g *Guard) onTransition(class string, from, to State) {
	g.metrics.BreakerTransition(class, from.String(), to.String())
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	g.logger.Log(context.Background(), level, "circuit breaker state changed",
		"class", class,
		"from", from.String(),
		"to", to.String(),
	)
}

// CallOption configures a single guarded call.
type CallOption func(*callOptions)

type callOptions struct {
	maxAttempts int
	fallback    func(ctx context.Context, err error) (any, error)
}

// WithMaxAttempts overrides the policy's attempt count for one call.
func WithMaxAttempts(n int) CallOption {
	return func(o *callOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithFallback supplies a result once every attempt failed transiently.
// Permanent errors, an open circuit and caller cancellation are returned as
// they are. If the fallback fails too, the original error is returned.
func WithFallback[T any](fn func(ctx context.Context, err error) (T, error)) CallOption {
	return func(o *callOptions) {
		o.fallback = func(ctx context.Context, err error) (any, error) {
			return fn(ctx, err)
		}
	}
}

// Do runs op under the class breaker with retries. The breaker sees the
// whole retry loop as one call: an open breaker rejects it before op runs,
// and only a final transient failure counts against it.
func Do[T any](ctx context.Context, g *Guard, class string, op func(context.Context) (T, error), opts ...CallOption) (T, error) {
	options := callOptions{maxAttempts: g.policy.MaxAttempts}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, span := g.tracer.Start(ctx, "upstream."+class, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(tracing.AttrOperationClass.String(class))

	result, attempts, exhausted, err := run(ctx, g, class, op, options.maxAttempts)
	span.SetAttributes(tracing.AttrAttempts.Int(attempts))
	if err == nil {
		return result, nil
	}

	if options.fallback != nil && exhausted && ctx.Err() == nil {
		if v, ferr := options.fallback(ctx, err); ferr == nil {
			if typed, ok := v.(T); ok {
				g.metrics.UpstreamFallback(class)
				tracing.AddEvent(span, "fallback", attribute.String("error", err.Error()))
				g.logger.InfoContext(ctx, "fallback supplied result", "class", class, "error", err)
				return typed, nil
			}
		} else {
			g.logger.WarnContext(ctx, "fallback failed", "class", class, "error", err, "fallback_error", ferr)
		}
	}

	tracing.SetError(span, err)
	var zero T
	return zero, err
}

// run reports exhausted when the loop ended on a transient failure with no
// attempts left.
func run[T any](ctx context.Context, g *Guard, class string, op func(context.Context) (T, error), maxAttempts int) (T, int, bool, error) {
	var zero T
	breaker := g.Breaker(class)

	if err := breaker.Allow(); err != nil {
		g.metrics.UpstreamAttempt(class, OutcomeRejected, 0)
		return zero, 0, false, err
	}

	bo := g.policy.newBackOff()
	var lastErr error
	attempt := 0

	for attempt < maxAttempts {
		attempt++

		start := time.Now()
		result, err := op(ctx)
		elapsed := time.Since(start)

		if err == nil {
			g.metrics.UpstreamAttempt(class, OutcomeSuccess, elapsed)
			breaker.RecordSuccess()
			if attempt > 1 {
				g.logger.InfoContext(ctx, "upstream call succeeded after retry", "class", class, "attempts", attempt)
			}
			return result, attempt, false, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, attempt, false, err
		}

		if !g.classifier(err).Retryable {
			g.metrics.UpstreamAttempt(class, OutcomePermanent, elapsed)
			g.logger.DebugContext(ctx, "upstream call failed permanently", "class", class, "attempt", attempt, "error", err)
			return zero, attempt, false, err
		}
		g.metrics.UpstreamAttempt(class, OutcomeRetryable, elapsed)

		if attempt >= maxAttempts {
			break
		}

		delay := bo.NextBackOff()
		g.metrics.UpstreamRetry(class)
		g.logger.WarnContext(ctx, "upstream call failed, will retry",
			"class", class,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff", delay,
			"error", err,
		)
		if err := g.sleep(ctx, delay); err != nil {
			return zero, attempt, false, lastErr
		}
	}

	breaker.RecordFailure()
	if attempt > 1 {
		return zero, attempt, true, &ExhaustedError{Class: class, Attempts: attempt, Cause: lastErr}
	}
	return zero, attempt, true, lastErr
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsCircuitOpen reports whether err came from an open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

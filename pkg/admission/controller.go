package admission

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/switchboard/pkg/config"
)

var (
	// ErrCapacityExceeded is returned immediately when the wait queue is
	// full. It is never retried.
	ErrCapacityExceeded = errors.New("admission queue is full")

	// ErrQueueTimeout is returned when a queued request waited longer than
	// its timeout. The request is removed without running.
	ErrQueueTimeout = errors.New("timed out waiting for admission")

	// ErrClosed is returned once the controller stopped admitting work.
	ErrClosed = errors.New("admission controller is closed")
)

// Decision results reported to Metrics.
const (
	ResultAdmitted  = "admitted"
	ResultRejected  = "rejected"
	ResultTimeout   = "timeout"
	ResultCancelled = "cancelled"
)

// Metrics receives admission observations. Implementations must not block.
type Metrics interface {
	AdmissionInFlight(n int)
	AdmissionQueueDepth(n int)
	AdmissionDecision(priority, result string, wait time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) AdmissionInFlight(int)                           {}
func (nopMetrics) AdmissionQueueDepth(int)                         {}
func (nopMetrics) AdmissionDecision(string, string, time.Duration) {}

// Limits are the admission ceilings. Zero means unlimited.
type Limits struct {
	MaxConcurrent int
	MaxPerSecond  int
	MaxPerMinute  int
	MaxQueueSize  int

	// QueueTimeout is the default wait bound for requests that do not set
	// their own.
	QueueTimeout time.Duration
}

// LimitsFromConfig builds Limits from configuration.
func LimitsFromConfig(cfg config.AdmissionConfig) Limits {
	return Limits{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxPerSecond:  cfg.MaxPerSecond,
		MaxPerMinute:  cfg.MaxPerMinute,
		MaxQueueSize:  cfg.MaxQueueSize,
		QueueTimeout:  cfg.QueueTimeout,
	}
}

// Options describe one admission request.
type Options struct {
	RequestID string
	Priority  Priority

	// Timeout bounds the queue wait. Zero uses Limits.QueueTimeout.
	Timeout time.Duration
}

// Stats is a point-in-time view of the controller.
type Stats struct {
	InFlight     int
	Queued       int
	QueuedHigh   int
	SecondWindow int
	MinuteWindow int
}

// Controller bounds concurrent and per-window load on the upstream.
//
// Requests are admitted immediately while the in-flight count and both
// fixed-window counters are below their ceilings and nobody is queued.
// Otherwise they wait in a bounded queue where high priority requests are
// served before normal ones and each class is FIFO.
type Controller struct {
	limits  Limits
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time

	// inFlight mirrors active for lock-free reads.
	inFlight atomic.Int64

	mu         sync.Mutex
	active     int
	second     window
	minute     window
	high       *list.List
	normal     *list.List
	drainTimer *time.Timer
	closed     bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock sets the clock used for the fixed windows.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a Controller.
func NewController(limits Limits, opts ...Option) *Controller {
	if limits.QueueTimeout <= 0 {
		limits.QueueTimeout = config.DefaultAdmissionQueueTimeout
	}
	c := &Controller{
		limits:  limits,
		metrics: nopMetrics{},
		logger:  slog.Default(),
		now:     time.Now,
		second:  window{size: time.Second, limit: limits.MaxPerSecond},
		minute:  window{size: time.Minute, limit: limits.MaxPerMinute},
		high:    list.New(),
		normal:  list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "admission")
	return c
}

// waiter is a queued admission request.
type waiter struct {
	opts     Options
	enqueued time.Time
	ready    chan struct{}
	slot     *Slot
	elem     *list.Element
	queue    *list.List
}

// Acquire returns a Slot once the request is admitted. The slot must be
// released exactly once; Release is idempotent.
func (c *Controller) Acquire(ctx context.Context, opts Options) (*Slot, error) {
	if opts.Priority == "" {
		opts.Priority = PriorityNormal
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := c.now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	if c.queuedLocked() == 0 && c.canAdmitLocked(now) {
		slot := c.admitLocked(opts, now, now)
		inFlight := c.active
		c.mu.Unlock()

		c.metrics.AdmissionInFlight(inFlight)
		c.metrics.AdmissionDecision(string(opts.Priority), ResultAdmitted, 0)
		return slot, nil
	}

	if c.limits.MaxQueueSize > 0 && c.queuedLocked() >= c.limits.MaxQueueSize {
		depth := c.queuedLocked()
		c.mu.Unlock()

		c.metrics.AdmissionDecision(string(opts.Priority), ResultRejected, 0)
		c.logger.WarnContext(ctx, "admission queue full",
			"request_id", opts.RequestID,
			"priority", string(opts.Priority),
			"queue_depth", depth,
		)
		return nil, ErrCapacityExceeded
	}

	w := &waiter{opts: opts, enqueued: now, ready: make(chan struct{})}
	if opts.Priority == PriorityHigh {
		w.queue = c.high
	} else {
		w.queue = c.normal
	}
	w.elem = w.queue.PushBack(w)
	depth := c.queuedLocked()
	c.armDrainTimerLocked(now)
	c.mu.Unlock()

	c.metrics.AdmissionQueueDepth(depth)
	c.logger.DebugContext(ctx, "request queued",
		"request_id", opts.RequestID,
		"priority", string(opts.Priority),
		"queue_depth", depth,
	)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.limits.QueueTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		return c.granted(w)
	case <-timer.C:
		return c.abandon(ctx, w, ResultTimeout, ErrQueueTimeout)
	case <-ctx.Done():
		return c.abandon(ctx, w, ResultCancelled, ctx.Err())
	}
}

// Submit acquires a slot, runs op and releases the slot whatever op returns.
func (c *Controller) Submit(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	slot, err := c.Acquire(ctx, opts)
	if err != nil {
		return err
	}
	defer slot.Release()
	return op(ctx)
}

func (c *Controller) granted(w *waiter) (*Slot, error) {
	if w.slot == nil {
		return nil, ErrClosed
	}
	c.metrics.AdmissionDecision(string(w.opts.Priority), ResultAdmitted, w.slot.Wait())
	return w.slot, nil
}

// abandon removes a waiter that gave up. A grant that raced with the
// timeout or cancellation wins and is returned.
func (c *Controller) abandon(ctx context.Context, w *waiter, result string, err error) (*Slot, error) {
	c.mu.Lock()
	select {
	case <-w.ready:
		c.mu.Unlock()
		return c.granted(w)
	default:
	}
	w.queue.Remove(w.elem)
	depth := c.queuedLocked()
	c.mu.Unlock()

	wait := c.now().Sub(w.enqueued)
	c.metrics.AdmissionQueueDepth(depth)
	c.metrics.AdmissionDecision(string(w.opts.Priority), result, wait)
	c.logger.InfoContext(ctx, "request left admission queue",
		"request_id", w.opts.RequestID,
		"priority", string(w.opts.Priority),
		"result", result,
		"waited", wait,
	)
	return nil, err
}

// release returns a slot's capacity and drains the queue.
func (c *Controller) release() {
	c.mu.Lock()
	c.active--
	c.inFlight.Store(int64(c.active))
	c.drainLocked(c.now())
	inFlight, depth := c.active, c.queuedLocked()
	c.mu.Unlock()

	c.metrics.AdmissionInFlight(inFlight)
	c.metrics.AdmissionQueueDepth(depth)
}

// drainLocked admits queued requests in priority order while capacity
// allows, then arms the window timer if waiters remain blocked by a rate
// window. Callers hold c.mu.
func (c *Controller) drainLocked(now time.Time) {
	for c.queuedLocked() > 0 && c.canAdmitLocked(now) {
		queue := c.high
		if queue.Len() == 0 {
			queue = c.normal
		}
		w := queue.Remove(queue.Front()).(*waiter)
		w.slot = c.admitLocked(w.opts, w.enqueued, now)
		close(w.ready)
	}
	c.armDrainTimerLocked(now)
}

func (c *Controller) onDrainTimer() {
	c.mu.Lock()
	c.drainTimer = nil
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.drainLocked(c.now())
	inFlight, depth := c.active, c.queuedLocked()
	c.mu.Unlock()

	c.metrics.AdmissionInFlight(inFlight)
	c.metrics.AdmissionQueueDepth(depth)
}

// armDrainTimerLocked schedules a drain at the next window boundary when
// queued work is held back by a rate window rather than by concurrency.
// Releases drain the queue themselves. Callers hold c.mu.
func (c *Controller) armDrainTimerLocked(now time.Time) {
	if c.queuedLocked() == 0 || c.drainTimer != nil {
		return
	}
	if c.limits.MaxConcurrent > 0 && c.active >= c.limits.MaxConcurrent {
		return
	}

	var next time.Time
	for _, w := range []*window{&c.second, &c.minute} {
		if !w.allows(now) {
			if b := w.boundary(); next.IsZero() || b.After(next) {
				next = b
			}
		}
	}
	if next.IsZero() {
		return
	}
	c.drainTimer = time.AfterFunc(next.Sub(now), c.onDrainTimer)
}

func (c *Controller) canAdmitLocked(now time.Time) bool {
	if c.limits.MaxConcurrent > 0 && c.active >= c.limits.MaxConcurrent {
		return false
	}
	return c.second.allows(now) && c.minute.allows(now)
}

func (c *Controller) admitLocked(opts Options, enqueued, now time.Time) *Slot {
	c.active++
	c.inFlight.Store(int64(c.active))
	c.second.add(now)
	c.minute.add(now)
	return &Slot{
		RequestID:  opts.RequestID,
		Priority:   opts.Priority,
		EnqueuedAt: enqueued,
		AdmittedAt: now,
		controller: c,
	}
}

func (c *Controller) queuedLocked() int {
	return c.high.Len() + c.normal.Len()
}

// InFlight returns the number of admitted, unreleased slots.
func (c *Controller) InFlight() int {
	return int(c.inFlight.Load())
}

// Stats returns a snapshot of the controller state.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.second.roll(now)
	c.minute.roll(now)
	return Stats{
		InFlight:     c.active,
		Queued:       c.queuedLocked(),
		QueuedHigh:   c.high.Len(),
		SecondWindow: c.second.count,
		MinuteWindow: c.minute.count,
	}
}

// Close stops admitting work. Queued requests fail with ErrClosed; slots
// already granted stay valid until released.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if c.drainTimer != nil {
		c.drainTimer.Stop()
		c.drainTimer = nil
	}
	for _, queue := range []*list.List{c.high, c.normal} {
		for e := queue.Front(); e != nil; e = queue.Front() {
			w := queue.Remove(e).(*waiter)
			close(w.ready)
		}
	}
}

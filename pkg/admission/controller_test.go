package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recordingMetrics struct {
	mu        sync.Mutex
	decisions map[string]int
}

func (m *recordingMetrics) AdmissionInFlight(int)   {}
func (m *recordingMetrics) AdmissionQueueDepth(int) {}
func (m *recordingMetrics) AdmissionDecision(_, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decisions == nil {
		m.decisions = make(map[string]int)
	}
	m.decisions[result]++
}

func (m *recordingMetrics) count(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decisions[result]
}

func TestController_ConcurrencyBound(t *testing.T) {
	c := NewController(Limits{MaxConcurrent: 3, QueueTimeout: 5 * time.Second}, WithLogger(quietLogger()))

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	errs := make(chan error, 30)

	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Submit(context.Background(), func(ctx context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				current.Add(-1)
				return nil
			}, Options{})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if p := peak.Load(); p > 3 {
		t.Fatalf("observed %d concurrent operations, ceiling is 3", p)
	}
	if c.InFlight() != 0 {
		t.Errorf("expected no in-flight slots, got %d", c.InFlight())
	}
}

func TestController_ThirdRequestQueuesUntilRelease(t *testing.T) {
	c := NewController(Limits{MaxConcurrent: 2, QueueTimeout: 5 * time.Second}, WithLogger(quietLogger()))
	ctx := context.Background()

	first, err := c.Acquire(ctx, Options{RequestID: "1"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Acquire(ctx, Options{RequestID: "2"})
	if err != nil {
		t.Fatal(err)
	}

	admitted := make(chan *Slot, 1)
	go func() {
		slot, err := c.Acquire(ctx, Options{RequestID: "3"})
		if err != nil {
			t.Errorf("third request failed: %v", err)
			close(admitted)
			return
		}
		admitted <- slot
	}()

	waitFor(t, "third request to queue", func() bool { return c.Stats().Queued == 1 })
	select {
	case <-admitted:
		t.Fatal("third request admitted above the ceiling")
	case <-time.After(20 * time.Millisecond):
	}

	first.Release()

	select {
	case slot := <-admitted:
		if slot == nil || slot.RequestID != "3" {
			t.Fatalf("unexpected slot %+v", slot)
		}
		if slot.Wait() <= 0 {
			t.Error("queued slot should report a wait time")
		}
		slot.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("third request not admitted after release")
	}
	second.Release()

	if s := c.Stats(); s.InFlight != 0 || s.Queued != 0 {
		t.Errorf("unexpected final stats %+v", s)
	}
}

func TestController_HighPriorityFirst(t *testing.T) {
	c := NewController(Limits{MaxConcurrent: 1, QueueTimeout: 5 * time.Second}, WithLogger(quietLogger()))
	ctx := context.Background()

	holder, err := c.Acquire(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}

	order := make(chan string, 3)
	enqueue := func(id string, p Priority) {
		go func() {
			slot, err := c.Acquire(ctx, Options{RequestID: id, Priority: p})
			if err != nil {
				t.Errorf("%s failed: %v", id, err)
				return
			}
			order <- id
			slot.Release()
		}()
	}

	enqueue("normal-1", PriorityNormal)
	waitFor(t, "normal-1 queued", func() bool { return c.Stats().Queued == 1 })
	enqueue("normal-2", PriorityNormal)
	waitFor(t, "normal-2 queued", func() bool { return c.Stats().Queued == 2 })
	enqueue("high", PriorityHigh)
	waitFor(t, "high queued", func() bool { return c.Stats().QueuedHigh == 1 })

	holder.Release()

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case id := <-order:
			got = append(got, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %v admitted", got)
		}
	}

	want := []string{"high", "normal-1", "normal-2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("admission order = %v, want %v", got, want)
		}
	}
}

func TestController_CapacityExceeded(t *testing.T) {
	metrics := &recordingMetrics{}
	c := NewController(Limits{MaxConcurrent: 1, MaxQueueSize: 1, QueueTimeout: 5 * time.Second},
		WithLogger(quietLogger()), WithMetrics(metrics))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	holder, err := c.Acquire(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Release()

	go func() { _, _ = c.Acquire(ctx, Options{}) }()
	waitFor(t, "queue to fill", func() bool { return c.Stats().Queued == 1 })

	start := time.Now()
	_, err = c.Acquire(ctx, Options{})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("capacity rejection should be immediate")
	}
	if metrics.count(ResultRejected) != 1 {
		t.Errorf("expected one rejection metric, got %d", metrics.count(ResultRejected))
	}
}

func TestController_QueueTimeout(t *testing.T) {
	metrics := &recordingMetrics{}
	c := NewController(Limits{MaxConcurrent: 1, QueueTimeout: time.Minute}, WithLogger(quietLogger()), WithMetrics(metrics))

	holder, err := c.Acquire(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	ran := false
	err = c.Submit(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	}, Options{Timeout: 20 * time.Millisecond})
	if !errors.Is(err, ErrQueueTimeout) {
		t.Fatalf("expected ErrQueueTimeout, got %v", err)
	}
	if ran {
		t.Fatal("timed out operation must not run")
	}
	if c.Stats().Queued != 0 {
		t.Error("timed out request must leave the queue")
	}
	if metrics.count(ResultTimeout) != 1 {
		t.Errorf("expected timeout metric, got %d", metrics.count(ResultTimeout))
	}

	holder.Release()
	if c.InFlight() != 0 {
		t.Errorf("expected 0 in flight, got %d", c.InFlight())
	}
}

func TestController_CallerCancellation(t *testing.T) {
	c := NewController(Limits{MaxConcurrent: 1, QueueTimeout: time.Minute}, WithLogger(quietLogger()))
	holder, _ := c.Acquire(context.Background(), Options{})
	defer holder.Release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Acquire(ctx, Options{})
		done <- err
	}()
	waitFor(t, "request to queue", func() bool { return c.Stats().Queued == 1 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request still waiting")
	}
	if c.Stats().Queued != 0 {
		t.Error("cancelled request must leave the queue")
	}
}

func TestController_PerSecondWindow(t *testing.T) {
	c := NewController(Limits{MaxPerSecond: 1, QueueTimeout: 3 * time.Second}, WithLogger(quietLogger()))
	ctx := context.Background()

	first, err := c.Acquire(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	first.Release()

	// In-flight capacity is free; only the window holds the second request
	// back, so the boundary timer must admit it.
	second, err := c.Acquire(ctx, Options{})
	if err != nil {
		t.Fatalf("second request not admitted at the next window: %v", err)
	}
	defer second.Release()

	if !second.AdmittedAt.Truncate(time.Second).After(first.AdmittedAt.Truncate(time.Second)) {
		t.Errorf("second admission %s in the same window as first %s", second.AdmittedAt, first.AdmittedAt)
	}
}

func TestWindow_FixedBoundaries(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	w := window{size: time.Second, limit: 2}

	late := base.Add(900 * time.Millisecond)
	w.add(late)
	w.add(late)
	if w.allows(late) {
		t.Fatal("window should be exhausted")
	}

	next := base.Add(time.Second)
	if !w.allows(next) {
		t.Fatal("window must reset exactly at the wall-clock boundary")
	}
	if w.boundary() != base.Add(2*time.Second) {
		t.Errorf("unexpected boundary %s", w.boundary())
	}

	unlimited := window{size: time.Second}
	for i := 0; i < 100; i++ {
		unlimited.add(base)
	}
	if !unlimited.allows(base) {
		t.Error("zero limit means unlimited")
	}
}

func TestSlot_ReleaseIdempotent(t *testing.T) {
	c := NewController(Limits{MaxConcurrent: 2}, WithLogger(quietLogger()))
	a, _ := c.Acquire(context.Background(), Options{})
	b, _ := c.Acquire(context.Background(), Options{})

	a.Release()
	a.Release()
	if c.InFlight() != 1 {
		t.Fatalf("double release changed accounting: in flight %d", c.InFlight())
	}
	b.Release()

	var nilSlot *Slot
	nilSlot.Release()
}

func TestController_Close(t *testing.T) {
	c := NewController(Limits{MaxConcurrent: 1, QueueTimeout: time.Minute}, WithLogger(quietLogger()))
	holder, _ := c.Acquire(context.Background(), Options{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Acquire(context.Background(), Options{})
		done <- err
	}()
	waitFor(t, "request to queue", func() bool { return c.Stats().Queued == 1 })

	c.Close()
	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed for queued request, got %v", err)
	}
	if _, err := c.Acquire(context.Background(), Options{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
	holder.Release()
}

func TestParsePriority(t *testing.T) {
	tests := map[string]Priority{
		"high":   PriorityHigh,
		" HIGH ": PriorityHigh,
		"normal": PriorityNormal,
		"":       PriorityNormal,
		"urgent": PriorityNormal,
	}
	for in, want := range tests {
		if got := ParsePriority(in); got != want {
			t.Errorf("ParsePriority(%q) = %s, want %s", in, got, want)
		}
	}
}

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Maintainer periodically writes cache activity back to the store and
// prunes handles that have not been used within the retention period.
type Maintainer struct {
	cache     *Cache
	store     Store
	schedule  string
	retention time.Duration
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewMaintainer creates a Maintainer. An empty schedule disables it.
func NewMaintainer(cache *Cache, store Store, schedule string, retention time.Duration, metrics Metrics, logger *slog.Logger) *Maintainer {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{
		cache:     cache,
		store:     store,
		schedule:  schedule,
		retention: retention,
		metrics:   metrics,
		logger:    logger.With("component", "conversation.maintenance"),
		now:       time.Now,
		cron:      cron.New(),
	}
}

// Start schedules maintenance runs. It stops when ctx is cancelled.
func (m *Maintainer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.schedule == "" || m.store == nil {
		m.logger.Info("conversation maintenance not configured, skipping scheduler")
		return nil
	}
	if _, err := cron.ParseStandard(m.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", m.schedule, err)
	}
	if _, err := m.cron.AddFunc(m.schedule, func() {
		if _, err := m.RunOnce(ctx); err != nil {
			m.logger.Error("scheduled conversation maintenance failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}

	m.cron.Start()
	m.running = true
	m.logger.Info("conversation maintenance scheduled", "schedule", m.schedule, "retention", m.retention)

	go func() {
		<-ctx.Done()
		m.Stop()
	}()
	return nil
}

// RunOnce performs one maintenance pass and returns the number of pruned
// handles.
func (m *Maintainer) RunOnce(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}

	if m.cache != nil {
		for _, e := range m.cache.Entries() {
			if err := m.store.Touch(ctx, e.ClientID, e.LastAccess); err != nil {
				m.logger.WarnContext(ctx, "failed to record conversation activity", "client_id", e.ClientID, "error", err)
			}
		}
		m.metrics.ConversationCacheSize(m.cache.Len())
	}

	if m.retention <= 0 {
		return 0, nil
	}

	pruned, err := m.store.Prune(ctx, m.now().Add(-m.retention))
	if err != nil {
		return 0, err
	}
	m.metrics.ConversationPruned(pruned)
	if pruned > 0 {
		m.logger.InfoContext(ctx, "pruned idle conversation handles", "deleted_count", pruned)
	} else {
		m.logger.DebugContext(ctx, "conversation maintenance completed, nothing pruned")
	}
	return pruned, nil
}

// Stop stops the scheduler and waits for a running pass to finish.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		<-m.cron.Stop().Done()
		m.running = false
		m.logger.Info("conversation maintenance stopped")
	}
}

// NextRun returns the next scheduled run, or nil when not scheduled.
func (m *Maintainer) NextRun() *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

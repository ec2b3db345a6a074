package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mercator-hq/switchboard/pkg/config"
	"mercator-hq/switchboard/pkg/resilience"
	"mercator-hq/switchboard/pkg/upstream"
)

// Cache maps client identities to reusable upstream conversations.
//
// A miss is resolved once per client at a time: concurrent resolves for the
// same client join the same resolution and all receive the same handle.
// Resolution runs under a context detached from the callers, so a caller
// that gives up never abandons a conversation being created; the result is
// cached regardless. Entries are never expired; Invalidate removes one.
type Cache struct {
	client  upstream.Client
	guard   *resilience.Guard
	store   Store
	metrics Metrics
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	entries  map[string]*Entry
	inflight map[string]*resolution
	hits     int64
	misses   int64
}

// resolution is an in-progress miss for one client.
type resolution struct {
	done   chan struct{}
	handle Handle
	err    error
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore persists handles in s.
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithOperationTimeout bounds one detached resolution.
func WithOperationTimeout(d time.Duration) Option {
	return func(c *Cache) { c.timeout = d }
}

// WithClock sets the clock used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a Cache. Upstream calls go through guard.
func NewCache(client upstream.Client, guard *resilience.Guard, opts ...Option) *Cache {
	c := &Cache{
		client:   client,
		guard:    guard,
		metrics:  nopMetrics{},
		logger:   slog.Default(),
		timeout:  config.DefaultConversationOperationTimeout,
		now:      time.Now,
		entries:  make(map[string]*Entry),
		inflight: make(map[string]*resolution),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "conversation")
	return c
}

// Resolve returns the conversation handle of a client, discovering or
// creating one on a miss.
func (c *Cache) Resolve(ctx context.Context, id upstream.Identity) (Handle, error) {
	if id.ClientID == "" {
		return Handle{}, errors.New("client id is required")
	}

	c.mu.Lock()
	if e, ok := c.entries[id.ClientID]; ok {
		e.LastAccess = c.now()
		e.AccessCount++
		c.hits++
		handle := Handle{ID: e.ConversationID, Source: SourceCache}
		c.mu.Unlock()

		c.metrics.ConversationResolved(SourceCache)
		return handle, nil
	}

	c.misses++
	r, ok := c.inflight[id.ClientID]
	if !ok {
		r = &resolution{done: make(chan struct{})}
		c.inflight[id.ClientID] = r
		go c.resolve(context.WithoutCancel(ctx), id, r)
	}
	c.mu.Unlock()

	select {
	case <-r.done:
		return r.handle, r.err
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	}
}

// resolve performs the miss path. Waiters are released once the result is
// cached and reported.
func (c *Cache) resolve(ctx context.Context, id upstream.Identity, r *resolution) {
	defer close(r.done)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conv, source, err := c.lookupUpstream(ctx, id)
	now := c.now()

	if err == nil && c.store != nil && source != SourceStore {
		rec := Record{ClientID: id.ClientID, ConversationID: conv.ID, CreatedAt: now, LastUsed: now}
		if serr := c.store.Save(ctx, rec); serr != nil {
			c.logger.WarnContext(ctx, "failed to persist conversation handle", "client_id", id.ClientID, "error", serr)
		}
	}

	c.mu.Lock()
	delete(c.inflight, id.ClientID)
	if err == nil {
		created := conv.CreatedAt
		if created.IsZero() {
			created = now
		}
		c.entries[id.ClientID] = &Entry{
			ClientID:       id.ClientID,
			ConversationID: conv.ID,
			CreatedAt:      created,
			LastAccess:     now,
			AccessCount:    1,
		}
		r.handle = Handle{ID: conv.ID, Source: source}
	}
	r.err = err
	size := len(c.entries)
	c.mu.Unlock()

	if err != nil {
		c.metrics.ConversationResolved(SourceError)
		c.logger.ErrorContext(ctx, "conversation resolution failed", "client_id", id.ClientID, "error", err)
		return
	}

	c.metrics.ConversationResolved(source)
	c.metrics.ConversationCacheSize(size)
	c.logger.InfoContext(ctx, "conversation resolved",
		"client_id", id.ClientID,
		"conversation_id", conv.ID,
		"source", source,
	)
}

// lookupUpstream tries the store, then the client's most recent upstream
// conversation, then creates a new one.
func (c *Cache) lookupUpstream(ctx context.Context, id upstream.Identity) (upstream.Conversation, string, error) {
	if c.store != nil {
		rec, err := c.store.Load(ctx, id.ClientID)
		if err != nil {
			c.logger.WarnContext(ctx, "conversation store lookup failed", "client_id", id.ClientID, "error", err)
		} else if rec != nil && rec.ConversationID != "" {
			return upstream.Conversation{ID: rec.ConversationID, CreatedAt: rec.CreatedAt}, SourceStore, nil
		}
	}

	recent, err := resilience.Do(ctx, c.guard, resilience.ClassListConversations,
		func(ctx context.Context) ([]upstream.Conversation, error) {
			return c.client.ListRecentConversations(ctx, id, 1)
		})
	switch {
	case err != nil:
		c.logger.WarnContext(ctx, "conversation discovery failed, creating a new one", "client_id", id.ClientID, "error", err)
	case len(recent) > 0:
		return recent[0], SourceDiscovered, nil
	}

	conv, err := resilience.Do(ctx, c.guard, resilience.ClassCreateConversation,
		func(ctx context.Context) (upstream.Conversation, error) {
			return c.client.CreateConversation(ctx, id)
		})
	if err != nil {
		return upstream.Conversation{}, "", err
	}
	return conv, SourceCreated, nil
}

// Get returns the cached entry of a client.
func (c *Cache) Get(clientID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[clientID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Invalidate forgets the handle of a client, in memory and in the store.
// The next Resolve starts over. It reports whether an entry existed.
func (c *Cache) Invalidate(ctx context.Context, clientID string) (bool, error) {
	c.mu.Lock()
	_, existed := c.entries[clientID]
	delete(c.entries, clientID)
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.ConversationCacheSize(size)

	if c.store != nil {
		if err := c.store.Delete(ctx, clientID); err != nil {
			return existed, err
		}
	}
	if existed {
		c.logger.InfoContext(ctx, "conversation invalidated", "client_id", clientID)
	}
	return existed, nil
}

// Entries returns a copy of all cached entries ordered by client ID.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Resolving: len(c.inflight),
	}
}

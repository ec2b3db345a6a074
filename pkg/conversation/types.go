package conversation

import (
	"context"
	"time"
)

// Resolution sources reported to Metrics and returned in Handle.Source.
const (
	SourceCache      = "cache"
	SourceStore      = "store"
	SourceDiscovered = "discovered"
	SourceCreated    = "created"
	SourceError      = "error"
)

// Handle is a resolved upstream conversation.
type Handle struct {
	// ID is the upstream conversation identifier.
	ID string

	// Source tells how the handle was obtained.
	Source string
}

// Entry is a cached conversation handle for one client.
type Entry struct {
	ClientID       string    `json:"client_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccess     time.Time `json:"last_access"`
	AccessCount    int64     `json:"access_count"`
}

// Stats summarizes cache activity.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Resolving int   `json:"resolving"`
}

// Record is a persisted conversation handle.
type Record struct {
	ClientID       string
	ConversationID string
	CreatedAt      time.Time
	LastUsed       time.Time
}

// Store persists conversation handles so affinity survives restarts.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the record of a client, or nil if none exists.
	Load(ctx context.Context, clientID string) (*Record, error)

	// Save inserts or replaces the record of a client.
	Save(ctx context.Context, rec Record) error

	// Touch updates the last-used time of a client's record.
	Touch(ctx context.Context, clientID string, lastUsed time.Time) error

	// Delete removes the record of a client. Deleting a missing record is
	// not an error.
	Delete(ctx context.Context, clientID string) error

	// List returns all records ordered by client ID.
	List(ctx context.Context) ([]Record, error)

	// Prune removes records last used before olderThan and returns how many
	// were removed.
	Prune(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases the store.
	Close() error
}

// Metrics receives cache observations. Implementations must not block.
type Metrics interface {
	ConversationResolved(source string)
	ConversationCacheSize(n int)
	ConversationPruned(n int)
}

type nopMetrics struct{}

func (nopMetrics) ConversationResolved(string) {}
func (nopMetrics) ConversationCacheSize(int)   {}
func (nopMetrics) ConversationPruned(int)      {}

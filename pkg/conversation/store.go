package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/switchboard/pkg/config"
)

// MemoryStore is a Store held in process memory. Handles are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, clientID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[clientID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	if rec.ClientID == "" {
		return errors.New("client id cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ClientID] = rec
	return nil
}

// Touch implements Store.
func (m *MemoryStore) Touch(_ context.Context, clientID string, lastUsed time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[clientID]; ok && lastUsed.After(rec.LastUsed) {
		rec.LastUsed = lastUsed
		m.records[clientID] = rec
	}
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, clientID)
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

// Prune implements Store.
func (m *MemoryStore) Prune(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.records {
		if rec.LastUsed.Before(olderThan) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// NewStore builds the Store selected by configuration.
func NewStore(cfg config.ConversationConfig) (Store, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, 0)
	default:
		return nil, fmt.Errorf("unknown conversation store %q", cfg.Store)
	}
}

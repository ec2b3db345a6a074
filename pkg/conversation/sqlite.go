package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists conversation handles in a SQLite database so client
// affinity survives restarts of a single-instance deployment.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	closeOnce sync.Once

	saveStmt  *sql.Stmt
	loadStmt  *sql.Stmt
	touchStmt *sql.Stmt
	delStmt   *sql.Stmt
	listStmt  *sql.Stmt
	pruneStmt *sql.Stmt
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversations (
		client_id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_used INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_last_used ON conversations(last_used);
	`)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error
	prepare := func(dst **sql.Stmt, name, query string) {
		if err != nil {
			return
		}
		*dst, err = s.db.Prepare(query)
		if err != nil {
			err = fmt.Errorf("failed to prepare %s statement: %w", name, err)
		}
	}

	prepare(&s.saveStmt, "save", `
		INSERT INTO conversations (client_id, conversation_id, created_at, last_used)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (client_id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			created_at = excluded.created_at,
			last_used = excluded.last_used
	`)
	prepare(&s.loadStmt, "load", `
		SELECT conversation_id, created_at, last_used FROM conversations WHERE client_id = ?
	`)
	prepare(&s.touchStmt, "touch", `
		UPDATE conversations SET last_used = ? WHERE client_id = ? AND last_used < ?
	`)
	prepare(&s.delStmt, "delete", `DELETE FROM conversations WHERE client_id = ?`)
	prepare(&s.listStmt, "list", `
		SELECT client_id, conversation_id, created_at, last_used FROM conversations ORDER BY client_id
	`)
	prepare(&s.pruneStmt, "prune", `DELETE FROM conversations WHERE last_used < ?`)
	return err
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, clientID string) (*Record, error) {
	if clientID == "" {
		return nil, errors.New("client id cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		conversationID      string
		createdAt, lastUsed int64
	)
	err := s.loadStmt.QueryRowContext(ctx, clientID).Scan(&conversationID, &createdAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &Record{
		ClientID:       clientID,
		ConversationID: conversationID,
		CreatedAt:      time.UnixMilli(createdAt),
		LastUsed:       time.UnixMilli(lastUsed),
	}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	if rec.ClientID == "" {
		return errors.New("client id cannot be empty")
	}
	if rec.ConversationID == "" {
		return errors.New("conversation id cannot be empty")
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastUsed.IsZero() {
		rec.LastUsed = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.saveStmt.ExecContext(ctx, rec.ClientID, rec.ConversationID,
		rec.CreatedAt.UnixMilli(), rec.LastUsed.UnixMilli()); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// Touch implements Store. It never moves last_used backwards.
func (s *SQLiteStore) Touch(ctx context.Context, clientID string, lastUsed time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := lastUsed.UnixMilli()
	if _, err := s.touchStmt.ExecContext(ctx, ms, clientID, ms); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.delStmt.ExecContext(ctx, clientID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec                 Record
			createdAt, lastUsed int64
		)
		if err := rows.Scan(&rec.ClientID, &rec.ConversationID, &createdAt, &lastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		rec.LastUsed = time.UnixMilli(lastUsed)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// Prune implements Store.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.pruneStmt.ExecContext(ctx, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune conversations: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(deleted), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		for _, stmt := range []*sql.Stmt{s.saveStmt, s.loadStmt, s.touchStmt, s.delStmt, s.listStmt, s.pruneStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = s.db.Close()
	})
	return err
}

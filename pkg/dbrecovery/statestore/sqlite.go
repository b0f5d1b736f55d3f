package statestore

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists the corruption state in a sidecar SQLite file.
// The path must never be the database being repaired.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite state store.
// The path should be a file path (e.g., "./recovery-state.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	// A single connection keeps ":memory:" stores coherent.
	db.SetMaxOpenConns(1)

	// Rollback journal with full sync: a committed write is on disk.
	for _, pragma := range []string{
		"PRAGMA journal_mode=DELETE",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure state database: %w", err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS corruption_state (
			key TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Read implements Store.
func (s *SQLiteStore) Read() (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, ErrStoreClosed
	}

	var (
		status    string
		rec       Record
		updatedAt string
	)
	err := s.db.QueryRow(`
		SELECT status, count, updated_at FROM corruption_state
		WHERE key = ?
	`, StateKey).Scan(&status, &rec.Count, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return Record{Status: NotCorrupted}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("read corruption state: %w", err)
	}

	rec.Status, err = ParseStatus(status)
	if err != nil {
		return Record{}, fmt.Errorf("read corruption state: %w", err)
	}
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return rec, nil
}

// Write implements Store.
func (s *SQLiteStore) Write(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO corruption_state (key, status, count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			status = excluded.status,
			count = excluded.count,
			updated_at = excluded.updated_at
	`, StateKey, rec.Status.String(), rec.Count, rec.UpdatedAt.Format(time.RFC3339Nano))

	if err != nil {
		return fmt.Errorf("write corruption state: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

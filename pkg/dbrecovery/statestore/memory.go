package statestore

import (
	"sync"
	"time"
)

// MemoryStore is an in-memory state store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	current Record
	history []Record
	closed  bool

	// failWrites, when set, is returned from every Write.
	failWrites error
}

// NewMemoryStore creates a new in-memory state store holding rec.
func NewMemoryStore(rec Record) *MemoryStore {
	return &MemoryStore{current: rec}
}

// Read implements Store.
func (m *MemoryStore) Read() (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, ErrStoreClosed
	}
	return m.current, nil
}

// Write implements Store.
func (m *MemoryStore) Write(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if m.failWrites != nil {
		return m.failWrites
	}

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	m.current = rec
	m.history = append(m.history, rec)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// History returns the statuses written so far, in order.
// Useful for testing.
func (m *MemoryStore) History() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]Status, len(m.history))
	for i, rec := range m.history {
		statuses[i] = rec.Status
	}
	return statuses
}

// FailWrites makes every subsequent Write return err.
// Pass nil to make writes succeed again.
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failWrites = err
}

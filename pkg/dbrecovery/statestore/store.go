// Package statestore provides durable storage for the database corruption
// state. The state must live outside the database file being repaired so it
// survives both process death and loss of that file.
package statestore

import (
	"errors"
	"time"
)

// StateKey is the well-known key under which the corruption state is stored.
const StateKey = "database_corruption_state"

// Store persists the corruption state record.
// Implementations must be safe for concurrent use.
type Store interface {
	// Read returns the current record.
	// Returns a NotCorrupted record (not an error) if nothing was ever written.
	Read() (Record, error)

	// Write replaces the current record.
	// Write must not return until the record is durable: a caller that
	// proceeds after a successful Write relies on the record surviving a crash.
	Write(rec Record) error

	// Close releases any resources (connections, files).
	Close() error
}

// Record is the persisted corruption state.
type Record struct {
	// Status is the recovery checkpoint that has been reached.
	Status Status

	// Count is how many times corruption was flagged since the last
	// successful recovery.
	Count int

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time
}

// Sentinel errors for state store operations.
var (
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("state store closed")

	// ErrUnknownStatus indicates a persisted status name could not be parsed.
	ErrUnknownStatus = errors.New("unknown corruption status")
)

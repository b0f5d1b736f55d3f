package dbrecovery

import "github.com/randalmurphal/dbrecovery/pkg/dbrecovery/statestore"

// Preflight defaults.
const (
	// DefaultMaxCorruptionCount is how many times corruption may be flagged
	// before recovery is no longer attempted.
	DefaultMaxCorruptionCount = 3

	// DefaultFreeHeadroom is the free space required beyond the database size.
	DefaultFreeHeadroom int64 = 100 << 20
)

// Decision is the outcome of a preflight assessment.
type Decision int

const (
	// DecisionNotNeeded means the database is not flagged as corrupted.
	DecisionNotNeeded Decision = iota
	// DecisionRecoverable means a recovery should be started.
	DecisionRecoverable
	// DecisionUnrecoverable means recovery was already attempted too often.
	DecisionUnrecoverable
	// DecisionInsufficientSpace means the user must free space first.
	DecisionInsufficientSpace
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case DecisionNotNeeded:
		return "not_needed"
	case DecisionRecoverable:
		return "recoverable"
	case DecisionUnrecoverable:
		return "unrecoverable"
	case DecisionInsufficientSpace:
		return "insufficient_space"
	default:
		return "unknown"
	}
}

// PreflightOptions are the inputs of Assess.
type PreflightOptions struct {
	// MaxCorruptionCount defaults to DefaultMaxCorruptionCount when zero.
	MaxCorruptionCount int
	// DatabaseSize is the size of the database file in bytes.
	DatabaseSize int64
	// FreeSpace is the free space on the database's filesystem in bytes.
	// Negative means unknown and skips the space check.
	FreeSpace int64
	// Headroom defaults to DefaultFreeHeadroom when zero.
	Headroom int64
}

// Assess decides, before any stage runs, whether a recovery should start.
func Assess(rec statestore.Record, opts PreflightOptions) Decision {
	if !rec.Status.IsCorrupted() {
		return DecisionNotNeeded
	}

	maxCount := opts.MaxCorruptionCount
	if maxCount <= 0 {
		maxCount = DefaultMaxCorruptionCount
	}
	if rec.Count > maxCount {
		return DecisionUnrecoverable
	}

	headroom := opts.Headroom
	if headroom == 0 {
		headroom = DefaultFreeHeadroom
	}
	if opts.FreeSpace >= 0 && opts.FreeSpace < opts.DatabaseSize+headroom {
		return DecisionInsufficientSpace
	}
	return DecisionRecoverable
}

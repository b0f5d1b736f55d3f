package dbrecovery

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/statestore"
)

// Sentinel errors for orchestrator preconditions.
var (
	// ErrNotCorrupted indicates Recover was called while the persisted state
	// says no recovery is needed. This is a caller bug.
	ErrNotCorrupted = errors.New("database is not flagged as corrupted")

	// ErrAlreadyStarted indicates Recover was called more than once on the
	// same orchestrator.
	ErrAlreadyStarted = errors.New("recovery already started")

	// ErrStateUnavailable indicates the corruption state could not be read.
	ErrStateUnavailable = errors.New("corruption state unavailable")

	// ErrLocked indicates another process is recovering the same database.
	ErrLocked = errors.New("database is locked by another recovery")
)

// Sentinel errors for failure classification.
var (
	// ErrDiskFull marks an adapter error caused by insufficient storage.
	// Adapters wrap it so Classify can recognise disk exhaustion without
	// knowing engine-specific error codes.
	ErrDiskFull = errors.New("disk full")

	// ErrRanOutOfDiskSpace matches any *Error of kind RanOutOfDiskSpace.
	ErrRanOutOfDiskSpace = errors.New("ran out of disk space")

	// ErrUnrecoverablyCorrupted matches any *Error of kind UnrecoverablyCorrupted.
	ErrUnrecoverablyCorrupted = errors.New("database is unrecoverably corrupted")
)

// Kind is the terminal failure category of a recovery run.
type Kind int

const (
	// UnrecoverablyCorrupted is terminal: the user must reset and start fresh.
	UnrecoverablyCorrupted Kind = iota

	// RanOutOfDiskSpace is transient: the user can free space and retry.
	RanOutOfDiskSpace
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case RanOutOfDiskSpace:
		return "ran_out_of_disk_space"
	case UnrecoverablyCorrupted:
		return "unrecoverably_corrupted"
	default:
		return "unknown"
	}
}

// UserAction describes what the user should do about a failure of this kind.
func (k Kind) UserAction() string {
	switch k {
	case RanOutOfDiskSpace:
		return "Free up storage space and retry the recovery. No data has been lost."
	default:
		return "The database cannot be repaired. Reset it and start fresh. " +
			"This is not a security problem."
	}
}

// Retryable reports whether a retry can succeed without user data loss.
func (k Kind) Retryable() bool {
	return k == RanOutOfDiskSpace
}

func (k Kind) sentinel() error {
	if k == RanOutOfDiskSpace {
		return ErrRanOutOfDiskSpace
	}
	return ErrUnrecoverablyCorrupted
}

// Error is a classified recovery failure.
type Error struct {
	// Kind is the failure category.
	Kind Kind
	// Stage is the stage that failed.
	Stage Stage
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("recovery failed at %s: %s", e.Stage, e.Kind.sentinel())
	}
	return fmt.Sprintf("recovery failed at %s: %s: %v", e.Stage, e.Kind.sentinel(), e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// CancellationError reports a run that stopped because its context was
// cancelled before any irreversible stage began. The persisted state is
// unchanged.
type CancellationError struct {
	// Stage is the stage that was about to run.
	Stage Stage
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("recovery cancelled before %s: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// StateWriteError wraps a failed corruption state write.
type StateWriteError struct {
	// To is the status that could not be persisted.
	To statestore.Status
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StateWriteError) Error() string {
	return fmt.Sprintf("persist corruption state %s: %v", e.To, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StateWriteError) Unwrap() error {
	return e.Err
}

// Classify maps an error to a failure kind.
// A classified *Error keeps its kind; disk exhaustion maps to
// RanOutOfDiskSpace; everything else is UnrecoverablyCorrupted.
func Classify(err error) Kind {
	var recErr *Error
	if errors.As(err, &recErr) {
		return recErr.Kind
	}
	if IsDiskFull(err) {
		return RanOutOfDiskSpace
	}
	return UnrecoverablyCorrupted
}

// IsDiskFull reports whether err was caused by insufficient storage.
func IsDiskFull(err error) bool {
	return errors.Is(err, ErrDiskFull) ||
		errors.Is(err, ErrRanOutOfDiskSpace) ||
		errors.Is(err, syscall.ENOSPC)
}

// classified wraps err as an *Error for stage, keeping an existing kind.
func classified(stage Stage, err error) *Error {
	var recErr *Error
	if errors.As(err, &recErr) {
		if recErr.Stage == StageNone {
			recErr.Stage = stage
		}
		return recErr
	}
	return &Error{Kind: Classify(err), Stage: stage, Err: err}
}

package dbrecovery

import "context"

// Phase is the lifecycle phase of an orchestrator.
type Phase int

const (
	// PhaseAwaitingStart is the initial phase.
	PhaseAwaitingStart Phase = iota
	// PhaseRunning means stages are executing.
	PhaseRunning
	// PhaseSucceeded is terminal: the database is repaired and the setup payload is available.
	PhaseSucceeded
	// PhaseFailed is terminal: see the returned *Error.
	PhaseFailed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseAwaitingStart:
		return "awaiting_start"
	case PhaseRunning:
		return "running"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events follow this phase.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Stage identifies one step of the recovery chain.
type Stage int

const (
	// StageNone is reported before the first stage starts.
	StageNone Stage = iota
	StageRebuild
	StageIntegrityCheck
	StageDumpAndRestore
	StageEnvironmentSetup
	StageManualRecreation
	StageFinalize

	// stageDone terminates the driving loop.
	stageDone
)

var stageNames = [...]string{
	StageNone:             "none",
	StageRebuild:          "rebuild",
	StageIntegrityCheck:   "integrity_check",
	StageDumpAndRestore:   "dump_and_restore",
	StageEnvironmentSetup: "environment_setup",
	StageManualRecreation: "manual_recreation",
	StageFinalize:         "finalize",
	stageDone:             "done",
}

// String returns the stage name.
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// IntegrityResult is the outcome of an integrity check.
type IntegrityResult int

const (
	// IntegrityOk means the engine found no problems.
	IntegrityOk IntegrityResult = iota
	// IntegrityNotOk means the engine reported at least one problem.
	IntegrityNotOk
)

// String returns the result name.
func (r IntegrityResult) String() string {
	if r == IntegrityOk {
		return "ok"
	}
	return "not_ok"
}

// IntegrityReport is returned by an IntegrityChecker.
type IntegrityReport struct {
	Result IntegrityResult
	// Problems holds the engine's diagnostic lines when Result is IntegrityNotOk.
	Problems []string
}

// IntegrityChecker runs the engine's consistency check on a database file.
// Check must not modify the file.
type IntegrityChecker interface {
	Check(ctx context.Context, path string) (IntegrityReport, error)
}

// Rebuilder performs in-place repair that may fix simple corruption such as
// stale indexes. Its errors never fail a recovery.
type Rebuilder interface {
	Rebuild(ctx context.Context, path string) error
}

// Dumper copies every recoverable row of the database at path into a fresh
// file and atomically installs it at path.
type Dumper interface {
	Run(ctx context.Context, path string, progress *Progress) error
}

// Recreator rebuilds derived state in the restored database.
type Recreator interface {
	Run(ctx context.Context, progress *Progress) error
}

// Locker grants exclusive ownership of the database path for a run.
// Lock returns an error wrapping ErrLocked if another owner holds it.
type Locker interface {
	Lock() error
	Unlock() error
}

// Backend opens the corrupted database for reading and creates the
// replacement file.
type Backend interface {
	// OpenSource opens the database at path in the engine's most tolerant
	// read mode.
	OpenSource(ctx context.Context, path string) (Source, error)

	// CreateTarget creates an empty database with the current schema at a
	// temporary location on the same filesystem as path.
	CreateTarget(ctx context.Context, path string, src Source) (Target, error)
}

// Source is a read-only view of the corrupted database.
type Source interface {
	// Tables lists the tables holding user data.
	Tables(ctx context.Context) ([]string, error)
	// Rows streams the rows of one table.
	Rows(ctx context.Context, table string) (RowIterator, error)
	Close() error
}

// RowIterator streams rows. Values may fail for one row without ending the
// iteration; Next returning false with Err set means the rest of the table
// is unreadable.
type RowIterator interface {
	Columns() []string
	Next() bool
	Values() ([]any, error)
	Err() error
	Close() error
}

// Target is the replacement database being filled.
type Target interface {
	OpenTable(ctx context.Context, table string, columns []string) (TableWriter, error)
	// Install atomically replaces the database at the canonical path.
	Install(ctx context.Context) error
	// Discard removes the temporary file. It is a no-op after Install.
	Discard() error
}

// TableWriter inserts rows into one table of a Target.
type TableWriter interface {
	Insert(values []any) error
	Commit() error
	Rollback() error
}

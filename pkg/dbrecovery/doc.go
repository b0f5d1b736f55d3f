// Package dbrecovery recovers a corrupted single-file database.
//
// When an application detects corruption it flags it in a state store kept
// outside the database (see the statestore package). On the next launch,
// before the database is opened for normal use, an Orchestrator runs the
// recovery chain:
//
//  1. Rebuild: cheap in-place repair (reindex). Errors are ignored.
//  2. Integrity check: if the database is now consistent, skip to setup.
//  3. Dump and restore: copy every readable row into a fresh file and
//     atomically rename it over the original.
//  4. Environment setup: a caller callback that makes the database usable.
//  5. Manual recreation: rebuild derived state (indexes, search tables)
//     after a dump.
//  6. Finalize: mark the database healthy.
//
// The state store is advanced after step 3 and after step 6. A recovery
// interrupted between them resumes at step 4 without dumping again.
//
// # Quick Start
//
//	store, _ := statestore.NewFileStore(afero.NewOsFs(), stateDir)
//	backend := sqlitedb.NewBackend(sqlitedb.BackendOptions{})
//
//	orch := dbrecovery.NewOrchestrator(dbPath, store, dbrecovery.Stages{
//	    Checker:   sqlitedb.NewChecker(sqlitedb.CheckQuick),
//	    Rebuilder: sqlitedb.NewRebuilder(),
//	    Dumper:    dbrecovery.NewDumpAndRestore(backend),
//	    Recreator: dbrecovery.NewRecreation(logger,
//	        sqlitedb.ReindexStep(dbPath),
//	        sqlitedb.RebuildSearchStep(dbPath)),
//	}, openDatabase)
//
//	err := orch.RecoverAndLaunch(ctx, func(db *sql.DB) {
//	    runApp(db)
//	})
//
// # Failures
//
// A failed run returns an *Error whose Kind is either RanOutOfDiskSpace
// (free space and retry, nothing was lost) or UnrecoverablyCorrupted (reset
// the database). Use errors.Is with ErrRanOutOfDiskSpace or
// ErrUnrecoverablyCorrupted, or Kind.UserAction for the message to show.
//
// Assess can be called before starting a run to refuse recoveries that
// cannot succeed: too many corruption events, or too little free space for
// a copy of the database.
//
// # Progress
//
// Progress is reported to a Sink as Events carrying the phase, the current
// stage, and a fraction in [0, 1] that never decreases. The fraction reaches
// 1.0 only together with PhaseSucceeded. ChannelSink delivers events to a UI
// goroutine, keeping only the latest Running event.
package dbrecovery

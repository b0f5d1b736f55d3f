package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery"
	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/config"
	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/sqlitedb"
)

func newRecoverCmd(e *env) *cobra.Command {
	var (
		quiet   bool
		metrics bool
		tracing bool
	)

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Repair the database if it was flagged as corrupted",
		Long: `Repair the database if it was flagged as corrupted.

Exit status is 0 on success or when no recovery is needed, 2 when the disk
is too full to recover (free space and run again), and 3 when the database
cannot be repaired (run reset).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := e.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Read()
			if err != nil {
				return fmt.Errorf("read corruption state: %w", err)
			}

			out := cmd.OutOrStdout()
			switch decision := e.assess(rec); decision {
			case dbrecovery.DecisionNotNeeded:
				fmt.Fprintln(out, "database is not flagged as corrupted; nothing to do")
				return nil
			case dbrecovery.DecisionUnrecoverable:
				printAction(cmd.ErrOrStderr(), dbrecovery.UnrecoverablyCorrupted)
				return withExitCode(exitUnrecoverable,
					fmt.Errorf("corruption flagged %d times, giving up", rec.Count))
			case dbrecovery.DecisionInsufficientSpace:
				printAction(cmd.ErrOrStderr(), dbrecovery.RanOutOfDiskSpace)
				return withExitCode(exitDiskSpace, errors.New("not enough free space to recover"))
			}

			sink := dbrecovery.NewChannelSink()
			opts := []dbrecovery.Option{
				dbrecovery.WithLogger(e.logger),
				dbrecovery.WithLocker(sqlitedb.NewFileLock(e.settings.DatabasePath)),
				dbrecovery.WithWeights(weights(e.settings.Progress)),
				dbrecovery.WithMetrics(metrics),
				dbrecovery.WithTracing(tracing),
			}
			if !quiet {
				opts = append(opts, dbrecovery.WithSink(sink))
			}

			opened := &trackedSetup{open: e.setup}
			orch := dbrecovery.NewOrchestrator(e.settings.DatabasePath, store, e.stages(), opened.setup, opts...)

			var wg sync.WaitGroup
			if !quiet {
				wg.Add(1)
				go func() {
					defer wg.Done()
					printProgress(out, sink)
				}()
			}

			stopProgress := func() {
				sink.Close()
				wg.Wait()
			}
			err = orch.RecoverAndLaunch(cmd.Context(), func(db *sql.DB) {
				opened.launched()
				defer db.Close()
				stopProgress()
				summarize(cmd.Context(), out, db)
			})
			stopProgress()

			if err != nil {
				opened.closeUnlaunched()
				var recErr *dbrecovery.Error
				if errors.As(err, &recErr) {
					printAction(cmd.ErrOrStderr(), recErr.Kind)
				}
				return err
			}
			fmt.Fprintf(out, "recovered %s\n", e.settings.DatabasePath)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "record OpenTelemetry metrics with the global meter provider")
	cmd.Flags().BoolVar(&tracing, "tracing", false, "record OpenTelemetry spans with the global tracer provider")
	return cmd
}

// stages builds the SQLite stage implementations from the settings.
func (e *env) stages() dbrecovery.Stages {
	path := e.settings.DatabasePath
	mode, err := sqlitedb.ParseCheckMode(e.settings.IntegrityMode)
	if err != nil {
		mode = sqlitedb.CheckQuick
	}
	withLogger := sqlitedb.WithLogger(e.logger)

	backend := sqlitedb.NewBackend(sqlitedb.BackendOptions{
		KeepCorruptCopy: e.settings.KeepCorruptCopy,
		Logger:          e.logger,
	})
	tables := e.settings.Tables

	return dbrecovery.Stages{
		Checker:   sqlitedb.NewChecker(mode, withLogger),
		Rebuilder: sqlitedb.NewRebuilder(withLogger),
		Dumper: dbrecovery.NewDumpAndRestore(backend,
			dbrecovery.WithDumpLogger(e.logger),
			dbrecovery.WithTablePlan(dbrecovery.TablePlan{
				Flawless:   tables.Flawless,
				BestEffort: tables.BestEffort,
				Skip:       tables.Skip,
			}),
		),
		Recreator: dbrecovery.NewRecreation(e.logger,
			sqlitedb.ReindexStep(path, withLogger),
			sqlitedb.RebuildSearchStep(path, withLogger),
			sqlitedb.AnalyzeStep(path, withLogger),
		),
	}
}

// setup opens the recovered database and confirms it passes a quick check.
func (e *env) setup(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(sqlitedb.SQLite.Name, "file:"+e.settings.DatabasePath)
	if err != nil {
		return nil, err
	}
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check(1)").Scan(&result); err != nil {
		db.Close()
		return nil, fmt.Errorf("open recovered database: %w", err)
	}
	if result != "ok" {
		db.Close()
		return nil, fmt.Errorf("recovered database failed quick check: %s", result)
	}
	return db, nil
}

// trackedSetup remembers the handle opened by setup. A run can still fail
// after setup (recreation, the final state write), and the handle never
// reaches launch in that case.
type trackedSetup struct {
	open func(context.Context) (*sql.DB, error)
	db   *sql.DB
}

func (s *trackedSetup) setup(ctx context.Context) (*sql.DB, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.db = db
	return db, nil
}

// launched hands ownership of the handle to the launch callback.
func (s *trackedSetup) launched() {
	s.db = nil
}

func (s *trackedSetup) closeUnlaunched() {
	if s.db == nil {
		return
	}
	s.db.Close()
	s.db = nil
}

func weights(w config.WeightSettings) dbrecovery.Weights {
	out := dbrecovery.DefaultWeights()
	for _, p := range []struct {
		dst *int64
		src int64
	}{
		{&out.Integrity, w.Integrity},
		{&out.Dump, w.Dump},
		{&out.Setup, w.Setup},
		{&out.Recreation, w.Recreation},
	} {
		if p.src > 0 {
			*p.dst = p.src
		}
	}
	return out
}

func printProgress(w io.Writer, sink *dbrecovery.ChannelSink) {
	for {
		ev, err := sink.Receive(context.Background())
		if err != nil {
			return
		}
		fmt.Fprintf(w, "[%3.0f%%] %-16s %s\n", ev.Progress*100, ev.Stage, ev.Phase)
	}
}

// summarize prints the row count of each table in the recovered database.
func summarize(ctx context.Context, w io.Writer, db *sql.DB) {
	rows, err := db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		fmt.Fprintf(w, "summary unavailable: %v\n", err)
		return
	}
	var tables []string
	for rows.Next() {
		var name string
		if rows.Scan(&name) == nil {
			tables = append(tables, name)
		}
	}
	rows.Close()

	for _, table := range tables {
		var n int64
		q := fmt.Sprintf(`SELECT count(*) FROM "%s"`, strings.ReplaceAll(table, `"`, `""`))
		if err := db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			fmt.Fprintf(w, "  %-24s unreadable: %v\n", table, err)
			continue
		}
		fmt.Fprintf(w, "  %-24s %d rows\n", table, n)
	}
}

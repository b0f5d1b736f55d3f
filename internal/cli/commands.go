package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery"
	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/sqlitedb"
	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/statestore"
)

func newStatusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the corruption state and whether a recovery would start",
		Args:  cobra.NoArgs,
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
			fmt.Fprintf(out, "database:  %s\n", e.settings.DatabasePath)
			fmt.Fprintf(out, "status:    %s\n", rec.Status)
			fmt.Fprintf(out, "count:     %d\n", rec.Count)
			if !rec.UpdatedAt.IsZero() {
				fmt.Fprintf(out, "updated:   %s\n", rec.UpdatedAt.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "decision:  %s\n", e.assess(rec))
			return nil
		},
	}
}

func newCheckCmd(e *env) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run an integrity check without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mode == "" {
				mode = e.settings.IntegrityMode
			}
			checkMode, err := sqlitedb.ParseCheckMode(mode)
			if err != nil {
				return err
			}

			report, err := sqlitedb.NewChecker(checkMode, sqlitedb.WithLogger(e.logger)).
				Check(cmd.Context(), e.settings.DatabasePath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if report.Result == dbrecovery.IntegrityOk {
				fmt.Fprintln(out, "ok")
				return nil
			}
			for _, problem := range report.Problems {
				fmt.Fprintln(out, problem)
			}
			return fmt.Errorf("integrity check failed: %d problem(s)", len(report.Problems))
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "check mode: quick or full (default from integrity_mode)")
	return cmd
}

func newFlagCmd(e *env) *cobra.Command {
	var read bool

	cmd := &cobra.Command{
		Use:   "flag",
		Short: "Record that the database was found corrupted",
		Long: `Record that the database was found corrupted so the next recover run
repairs it. Use --read when only reads failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := e.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			flag := statestore.FlagCorruption
			if read {
				flag = statestore.FlagReadCorruption
			}
			rec, err := flag(store)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "flagged: %s (count %d)\n", rec.Status, rec.Count)
			return nil
		},
	}

	cmd.Flags().BoolVar(&read, "read", false, "the corruption was found while reading")
	return cmd
}

func newResetCmd(e *env) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the database and clear the corruption state",
		Long: `Delete the database with its journal and write-ahead log, then clear the
corruption state. The application starts with an empty database. This is the
way out when recovery reports the database as unrecoverable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("reset deletes the database; pass --yes to confirm")
			}

			store, err := e.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := sqlitedb.RemoveDatabase(e.settings.DatabasePath); err != nil {
				return fmt.Errorf("remove database: %w", err)
			}
			rec := statestore.Record{Status: statestore.NotCorrupted, UpdatedAt: time.Now().UTC()}
			if err := store.Write(rec); err != nil {
				return fmt.Errorf("clear corruption state: %w", err)
			}

			e.logger.Warn("database reset", "path", e.settings.DatabasePath)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", e.settings.DatabasePath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting the database")
	return cmd
}

// assess runs the preflight decision for rec against the database on disk.
func (e *env) assess(rec statestore.Record) dbrecovery.Decision {
	var size int64
	if info, err := os.Stat(e.settings.DatabasePath); err == nil {
		size = info.Size()
	}
	free, err := sqlitedb.FreeSpaceBytes(e.settings.DatabasePath)
	if err != nil {
		e.logger.Debug("free space unknown", "error", err)
		free = -1
	}

	return dbrecovery.Assess(rec, dbrecovery.PreflightOptions{
		MaxCorruptionCount: e.settings.MaxCorruptionCount,
		DatabaseSize:       size,
		FreeSpace:          free,
		Headroom:           e.settings.MinFreeHeadroomBytes,
	})
}

func printAction(w io.Writer, kind dbrecovery.Kind) {
	fmt.Fprintln(w, strings.TrimSpace(kind.UserAction()))
}

// Package cli implements the dbrecover command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/config"
	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/statestore"
)

// sqliteStateFile is the state database name for the sqlite backend.
const sqliteStateFile = "corruption_state.db"

// env is shared by all commands once flags and settings are loaded.
type env struct {
	configPath string
	dbPath     string
	stateDir   string

	settings config.Settings
	logger   *slog.Logger
}

// Execute runs the dbrecover command with the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	e := &env{}

	cmd := &cobra.Command{
		Use:   "dbrecover",
		Short: "Recover a corrupted SQLite database",
		Long: `dbrecover repairs a SQLite database that an application flagged as corrupted.

Recovery first tries an in-place rebuild. If the database is still damaged,
every readable row is copied into a fresh file that atomically replaces the
original. Progress is checkpointed in a state store kept outside the
database, so an interrupted recovery resumes without copying twice.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.load(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVar(&e.configPath, "config", "", "settings file (.yaml, .yml, .json or .ini)")
	cmd.PersistentFlags().StringVar(&e.dbPath, "db", "", "database path (overrides database_path)")
	cmd.PersistentFlags().StringVar(&e.stateDir, "state-dir", "", "corruption state directory (overrides state_dir)")

	cmd.AddCommand(
		newStatusCmd(e),
		newCheckCmd(e),
		newFlagCmd(e),
		newRecoverCmd(e),
		newResetCmd(e),
	)
	return cmd
}

func (e *env) load(logOut io.Writer) error {
	cfg := config.New(nil)
	if e.configPath != "" {
		var err error
		if cfg, err = config.FromFile(e.configPath); err != nil {
			return err
		}
	}

	settings, err := config.LoadSettings(cfg)
	if err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if e.dbPath != "" {
		settings.DatabasePath = e.dbPath
	}
	if e.stateDir != "" {
		settings.StateDir = e.stateDir
	}
	if settings.DatabasePath == "" {
		return fmt.Errorf("no database: set database_path or pass --db")
	}
	e.settings = settings

	level, _ := settings.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if settings.LogFormat == "json" {
		e.logger = slog.New(slog.NewJSONHandler(logOut, opts))
	} else {
		e.logger = slog.New(slog.NewTextHandler(logOut, opts))
	}
	return nil
}

// openStore opens the configured corruption state store.
func (e *env) openStore() (statestore.Store, error) {
	if e.settings.StateBackend == config.BackendSQLite {
		if err := os.MkdirAll(e.settings.StateDir, 0o700); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
		return statestore.NewSQLiteStore(filepath.Join(e.settings.StateDir, sqliteStateFile))
	}
	return statestore.NewFileStore(afero.NewOsFs(), e.settings.StateDir)
}

package cli

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery"
	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/config"
)

type workspace struct {
	dir    string
	db     string
	config string
}

// newWorkspace creates a healthy database and a settings file that keeps
// the free space check satisfiable on small test filesystems.
func newWorkspace(t *testing.T, settings ...string) workspace {
	t.Helper()

	dir := t.TempDir()
	w := workspace{
		dir:    dir,
		db:     filepath.Join(dir, "app.db"),
		config: filepath.Join(dir, "dbrecover.yaml"),
	}

	db, err := sql.Open("sqlite", w.db)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = db.Exec(`INSERT INTO items (name) VALUES (?)`, fmt.Sprintf("item-%d", i))
		require.NoError(t, err)
	}

	yaml := "state_dir: " + filepath.Join(dir, "state") + "\nmin_free_headroom_bytes: 1\nlog_level: error\n" +
		strings.Join(settings, "\n")
	require.NoError(t, os.WriteFile(w.config, []byte(yaml), 0o644))
	return w
}

// run executes one dbrecover command and returns stdout and stderr.
func (w workspace) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", w.config, "--db", w.db}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func (w workspace) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := w.run(t, args...)
	require.NoError(t, err, stderr)
	return out
}

func TestRecover_NotFlagged(t *testing.T) {
	w := newWorkspace(t)

	out := w.mustRun(t, "recover")
	assert.Contains(t, out, "nothing to do")
}

func TestFlagStatusRecover(t *testing.T) {
	w := newWorkspace(t)

	assert.Contains(t, w.mustRun(t, "flag", "--read"), "flagged: read_corrupted (count 1)")
	assert.Contains(t, w.mustRun(t, "flag"), "flagged: corrupted (count 2)")

	status := w.mustRun(t, "status")
	assert.Contains(t, status, "status:    corrupted")
	assert.Contains(t, status, "count:     2")
	assert.Contains(t, status, "decision:  recoverable")

	out := w.mustRun(t, "recover")
	assert.Contains(t, out, "items")
	assert.Contains(t, out, "3 rows")
	assert.Contains(t, out, "[100%]")
	assert.Contains(t, out, "recovered "+w.db)

	status = w.mustRun(t, "status")
	assert.Contains(t, status, "status:    not_corrupted")
	assert.Contains(t, status, "count:     0")
	assert.Contains(t, status, "decision:  not_needed")
}

func TestRecover_SQLiteStateBackend(t *testing.T) {
	w := newWorkspace(t, "state_backend: sqlite")

	w.mustRun(t, "flag")
	out := w.mustRun(t, "recover", "--quiet")
	assert.NotContains(t, out, "[100%]")
	assert.Contains(t, out, "recovered")
	assert.FileExists(t, filepath.Join(w.dir, "state", sqliteStateFile))
}

func TestRecover_FlaggedTooOften(t *testing.T) {
	w := newWorkspace(t, "max_corruption_count: 2")
	for i := 0; i < 3; i++ {
		w.mustRun(t, "flag")
	}

	assert.Contains(t, w.mustRun(t, "status"), "decision:  unrecoverable")

	_, stderr, err := w.run(t, "recover")
	require.Error(t, err)
	assert.Equal(t, exitUnrecoverable, ExitCode(err))
	assert.Contains(t, stderr, "Reset it and start fresh")
}

func TestRecover_InsufficientSpace(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "flag")

	_, stderr, err := w.run(t, "recover", "--state-dir", filepath.Join(w.dir, "state"),
		"--config", writeConfig(t, w.dir, "min_free_headroom_bytes: 1152921504606846976"))
	require.Error(t, err)
	assert.Equal(t, exitDiskSpace, ExitCode(err))
	assert.Contains(t, stderr, "Free up storage space")
}

func TestRecover_GarbageFile(t *testing.T) {
	w := newWorkspace(t)
	require.NoError(t, os.WriteFile(w.db, bytes.Repeat([]byte("x"), 4096), 0o644))
	w.mustRun(t, "flag")

	_, stderr, err := w.run(t, "recover", "--quiet")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dbrecovery.ErrUnrecoverablyCorrupted))
	assert.Equal(t, exitUnrecoverable, ExitCode(err))
	assert.Contains(t, stderr, "Reset it and start fresh")

	status := w.mustRun(t, "status")
	assert.Contains(t, status, "status:    corrupted")
}

func TestCheck(t *testing.T) {
	w := newWorkspace(t)

	assert.Equal(t, "ok\n", w.mustRun(t, "check"))
	assert.Equal(t, "ok\n", w.mustRun(t, "check", "--mode", "full"))

	_, _, err := w.run(t, "check", "--mode", "paranoid")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(w.db, bytes.Repeat([]byte("x"), 4096), 0o644))
	out, _, err := w.run(t, "check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integrity check failed")
	assert.NotEmpty(t, out)
	assert.Equal(t, exitError, ExitCode(err))
}

func TestReset(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "flag")

	_, _, err := w.run(t, "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
	assert.FileExists(t, w.db)

	assert.Contains(t, w.mustRun(t, "reset", "--yes"), "removed")
	assert.NoFileExists(t, w.db)
	assert.Contains(t, w.mustRun(t, "status"), "status:    not_corrupted")
}

func TestSettingsErrors(t *testing.T) {
	dir := t.TempDir()

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--state-dir", dir, "status"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database")

	cmd = NewRootCmd()
	cmd.SetArgs([]string{"--config", writeConfig(t, dir, "log_format: xml"), "--db", "x.db", "status"})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_format")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"plain", errors.New("boom"), exitError},
		{"explicit", withExitCode(exitDiskSpace, errors.New("full")), exitDiskSpace},
		{"disk space", &dbrecovery.Error{Kind: dbrecovery.RanOutOfDiskSpace, Stage: dbrecovery.StageDumpAndRestore}, exitDiskSpace},
		{"unrecoverable", &dbrecovery.Error{Kind: dbrecovery.UnrecoverablyCorrupted}, exitUnrecoverable},
		{"wrapped", fmt.Errorf("recover: %w", &dbrecovery.Error{Kind: dbrecovery.UnrecoverablyCorrupted}), exitUnrecoverable},
		{"cancelled", &dbrecovery.CancellationError{Stage: dbrecovery.StageRebuild, Cause: context.Canceled}, exitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestTrackedSetup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	e := &env{settings: config.Settings{DatabasePath: path}}

	t.Run("failed run closes the handle", func(t *testing.T) {
		s := &trackedSetup{open: e.setup}
		db, err := s.setup(context.Background())
		require.NoError(t, err)

		s.closeUnlaunched()
		assert.ErrorContains(t, db.Ping(), "closed")
	})

	t.Run("launched handle is left to the caller", func(t *testing.T) {
		s := &trackedSetup{open: e.setup}
		db, err := s.setup(context.Background())
		require.NoError(t, err)
		defer db.Close()

		s.launched()
		s.closeUnlaunched()
		assert.NoError(t, db.Ping())
	})

	t.Run("setup error leaves nothing to close", func(t *testing.T) {
		s := &trackedSetup{open: func(context.Context) (*sql.DB, error) {
			return nil, errors.New("quick check failed")
		}}
		_, err := s.setup(context.Background())
		require.Error(t, err)
		assert.Nil(t, s.db)
		s.closeUnlaunched()
	})
}

func TestWeights(t *testing.T) {
	w := weights(config.WeightSettings{Dump: 20, Recreation: 5})
	want := dbrecovery.DefaultWeights()
	want.Dump = 20
	want.Recreation = 5
	assert.Equal(t, want, w)
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	f, err := os.CreateTemp(dir, "override-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

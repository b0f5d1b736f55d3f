package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery"
	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/statestore"
)

func newRecovery(t *testing.T, path string, store statestore.Store) *dbrecovery.Orchestrator[*sql.DB] {
	t.Helper()

	stages := dbrecovery.Stages{
		Checker:   NewChecker(CheckFull),
		Rebuilder: NewRebuilder(),
		Dumper:    dbrecovery.NewDumpAndRestore(NewBackend(BackendOptions{})),
		Recreator: dbrecovery.NewRecreation(nil,
			ReindexStep(path),
			RebuildSearchStep(path),
			AnalyzeStep(path),
		),
	}
	setup := func(ctx context.Context) (*sql.DB, error) {
		return sql.Open("sqlite", path)
	}
	return dbrecovery.NewOrchestrator(path, store, stages, setup,
		dbrecovery.WithLogger(nil),
		dbrecovery.WithLocker(NewFileLock(path)),
	)
}

func TestRecovery_DamagedDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.db")
	createItemsDB(t, path, 25)
	corruptPage(t, path, 3)

	store, err := statestore.NewFileStore(afero.NewOsFs(), filepath.Join(dir, "state"))
	require.NoError(t, err)
	_, err = statestore.FlagCorruption(store)
	require.NoError(t, err)

	var launched *sql.DB
	err = newRecovery(t, path, store).RecoverAndLaunch(context.Background(), func(db *sql.DB) {
		launched = db
	})
	require.NoError(t, err)
	require.NotNil(t, launched)
	defer launched.Close()

	var n int
	require.NoError(t, launched.QueryRow("SELECT count(*) FROM items").Scan(&n))
	assert.Equal(t, 25, n)

	report, err := NewChecker(CheckFull).Check(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, dbrecovery.IntegrityOk, report.Result)

	rec, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, statestore.NotCorrupted, rec.Status)
	assert.Zero(t, rec.Count)
	assert.Empty(t, tempFiles(t, dir))
}

func TestRecovery_HealthyAfterFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.db")
	createItemsDB(t, path, 5)

	store, err := statestore.NewSQLiteStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	defer store.Close()
	_, err = statestore.FlagReadCorruption(store)
	require.NoError(t, err)

	db, err := newRecovery(t, path, store).Recover(context.Background())
	require.NoError(t, err)
	defer db.Close()

	rec, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, statestore.NotCorrupted, rec.Status)
}

func TestRecovery_ResumesAfterDump(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.db")
	createDB(t, path,
		"CREATE TABLE docs (id INTEGER PRIMARY KEY, body TEXT)",
		"CREATE VIRTUAL TABLE docs_fts USING fts5(body, content='docs', content_rowid='id')",
		"INSERT INTO docs (id, body) VALUES (1, 'hello world')",
	)

	store := statestore.NewMemoryStore(statestore.Record{
		Status: statestore.CorruptedButAlreadyDumpedAndRestored,
		Count:  1,
	})

	db, err := newRecovery(t, path, store).Recover(context.Background())
	require.NoError(t, err)
	defer db.Close()

	// Recreation rebuilt the search index.
	assert.EqualValues(t, 1, queryInt(t, path, "SELECT count(*) FROM docs_fts WHERE docs_fts MATCH 'hello'"))
	assert.Equal(t, []statestore.Status{statestore.NotCorrupted}, store.History())
}

// notOkChecker reports damage the integrity check cannot see, such as a
// corrupted freelist that only shows up at query time.
type notOkChecker struct{}

func (notOkChecker) Check(context.Context, string) (dbrecovery.IntegrityReport, error) {
	return dbrecovery.IntegrityReport{Result: dbrecovery.IntegrityNotOk}, nil
}

func TestRecovery_UnrecordedDumpStillRebuildsSearch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.db")
	createDB(t, path,
		"CREATE TABLE docs (id INTEGER PRIMARY KEY, body TEXT)",
		"CREATE VIRTUAL TABLE docs_fts USING fts5(body, content='docs', content_rowid='id')",
		"INSERT INTO docs (id, body) VALUES (1, 'hello world')",
		"INSERT INTO docs_fts (docs_fts) VALUES ('rebuild')",
	)

	store := statestore.NewMemoryStore(statestore.Record{Status: statestore.Corrupted, Count: 1})
	store.FailWrites(errors.New("read-only filesystem"))

	stages := dbrecovery.Stages{
		Checker:   notOkChecker{},
		Rebuilder: NewRebuilder(),
		Dumper:    dbrecovery.NewDumpAndRestore(NewBackend(BackendOptions{})),
		Recreator: dbrecovery.NewRecreation(nil, RebuildSearchStep(path)),
	}
	setup := func(ctx context.Context) (*sql.DB, error) {
		return sql.Open("sqlite", path)
	}
	_, err := dbrecovery.NewOrchestrator(path, store, stages, setup, dbrecovery.WithLogger(nil)).
		Recover(context.Background())
	require.Error(t, err)

	// The replacement is installed and its search index already rebuilt.
	assert.EqualValues(t, 1, queryInt(t, path, "SELECT count(*) FROM docs_fts WHERE docs_fts MATCH 'hello'"))
	assert.Empty(t, store.History())

	// The retry finds a healthy file and skips the dump.
	store.FailWrites(nil)
	db, err := newRecovery(t, path, store).Recover(context.Background())
	require.NoError(t, err)
	defer db.Close()

	assert.EqualValues(t, 1, queryInt(t, path, "SELECT count(*) FROM docs_fts WHERE docs_fts MATCH 'hello'"))
	assert.Equal(t, []statestore.Status{statestore.NotCorrupted}, store.History())
}

package sqlitedb

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testPageSize = 4096

// createDB creates a database at path and runs stmts on it.
func createDB(t *testing.T, path string, stmts ...string) {
	t.Helper()

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(fmt.Sprintf("PRAGMA page_size = %d", testPageSize))
	require.NoError(t, err)
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
}

// createItemsDB creates a database whose items table lives on page 2 and
// whose name index lives on page 3.
func createItemsDB(t *testing.T, path string, n int, extra ...string) {
	t.Helper()

	stmts := []string{"CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)"}
	for i := 0; i < n; i++ {
		stmts = append(stmts, fmt.Sprintf("INSERT INTO items (id, name) VALUES (%d, 'item-%d')", i+1, i+1))
	}
	stmts = append(stmts, "CREATE INDEX idx_items_name ON items(name)")
	createDB(t, path, append(stmts, extra...)...)
}

// corruptPage overwrites a 1-based page of the file at path with garbage.
func corruptPage(t *testing.T, path string, page int) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	garbage := bytes.Repeat([]byte{0xff}, testPageSize)
	_, err = f.WriteAt(garbage, int64(page-1)*testPageSize)
	require.NoError(t, err)
}

func queryInt(t *testing.T, path, query string) int64 {
	t.Helper()

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var n int64
	require.NoError(t, db.QueryRow(query).Scan(&n))
	return n
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, ".*.recovery-*.tmp*"))
	require.NoError(t, err)
	return matches
}

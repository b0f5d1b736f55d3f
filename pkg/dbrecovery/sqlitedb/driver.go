// Package sqlitedb implements the dbrecovery stages for SQLite databases.
//
// It provides an IntegrityChecker (quick_check or integrity_check), an
// in-place Rebuilder (WAL checkpoint and REINDEX), a dump Backend that reads
// a damaged file in its most tolerant mode and installs a fresh copy with a
// single rename, and recreation steps for derived state such as full-text
// indexes.
//
// The default engine is the pure-Go modernc.org/sqlite driver. Building with
// the sqlcipher tag adds SQLCipher for encrypted databases.
package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery"
)

// Driver describes a SQLite-compatible database/sql driver.
type Driver struct {
	// Name is the registered database/sql driver name.
	Name string

	// Prelude runs on the connection before any other statement,
	// e.g. PRAGMA key for an encrypted database.
	Prelude []string

	// ExtraChecks are integrity pragmas run after the main check.
	// Each passes when it returns no rows.
	ExtraChecks []string

	// IsDiskFull reports whether an engine error means storage ran out.
	IsDiskFull func(error) bool

	// IsCorrupt reports whether an engine error means the file is damaged.
	IsCorrupt func(error) bool
}

// SQLite is the pure-Go modernc.org/sqlite driver.
var SQLite = Driver{
	Name:       "sqlite",
	IsDiskFull: moderncDiskFull,
	IsCorrupt:  moderncCorrupt,
}

func moderncCode(err error) (int, bool) {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return 0, false
	}
	// Extended codes carry the primary code in the low byte.
	return sqliteErr.Code() & 0xff, true
}

func moderncDiskFull(err error) bool {
	code, ok := moderncCode(err)
	if ok && code == sqlite3.SQLITE_FULL {
		return true
	}
	return errors.Is(err, syscall.ENOSPC)
}

func moderncCorrupt(err error) bool {
	code, ok := moderncCode(err)
	return ok && (code == sqlite3.SQLITE_CORRUPT || code == sqlite3.SQLITE_NOTADB)
}

// orDefault fills unset fields from SQLite.
func (d Driver) orDefault() Driver {
	if d.Name == "" {
		return SQLite
	}
	if d.IsDiskFull == nil {
		d.IsDiskFull = func(err error) bool { return errors.Is(err, syscall.ENOSPC) }
	}
	if d.IsCorrupt == nil {
		d.IsCorrupt = func(error) bool { return false }
	}
	return d
}

func dsn(path string, readOnly bool) string {
	if readOnly {
		return "file:" + path + "?mode=ro"
	}
	return "file:" + path
}

// open opens path on a single connection and runs the prelude.
func (d Driver) open(ctx context.Context, path string, readOnly bool) (*sql.DB, error) {
	db, err := sql.Open(d.Name, dsn(path, readOnly))
	if err != nil {
		return nil, err
	}
	// One connection: the prelude and session pragmas apply to every statement.
	db.SetMaxOpenConns(1)

	for _, stmt := range d.Prelude {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// openExisting opens path read-write, refusing to create it.
func (d Driver) openExisting(ctx context.Context, path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return d.open(ctx, path, false)
}

// wrap annotates err with op and marks disk exhaustion with
// dbrecovery.ErrDiskFull.
func (d Driver) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if d.IsDiskFull(err) {
		return fmt.Errorf("%s: %w: %w", op, dbrecovery.ErrDiskFull, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Option configures the SQLite stages.
type Option func(*options)

type options struct {
	driver Driver
	logger *slog.Logger
}

func buildOptions(opts []Option) options {
	o := options{driver: SQLite}
	for _, opt := range opts {
		opt(&o)
	}
	o.driver = o.driver.orDefault()
	return o
}

// WithDriver selects the database/sql driver. Default: SQLite.
func WithDriver(d Driver) Option {
	return func(o *options) {
		o.driver = d
	}
}

// WithLogger sets the logger for best-effort failures. Nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery"
)

// SchemaFunc creates the current application schema in an empty database.
type SchemaFunc func(ctx context.Context, db *sql.DB) error

// BackendOptions configures a Backend.
type BackendOptions struct {
	// Driver defaults to SQLite.
	Driver Driver

	// Schema creates the replacement's schema, typically by running the
	// application's migrations. When nil the schema is copied from the
	// damaged file's sqlite_master.
	Schema SchemaFunc

	// KeepCorruptCopy hard-links the damaged file to
	// <path>.corrupt-<unix seconds> before it is replaced.
	KeepCorruptCopy bool

	Logger *slog.Logger
}

// Backend is a dbrecovery.Backend for SQLite files.
type Backend struct {
	driver          Driver
	schema          SchemaFunc
	keepCorruptCopy bool
	logger          *slog.Logger

	// maxPageCount caps the replacement's size. Tests use it to run out of space.
	maxPageCount int64
}

var _ dbrecovery.Backend = (*Backend)(nil)

// NewBackend creates a Backend.
func NewBackend(opts BackendOptions) *Backend {
	return &Backend{
		driver:          opts.Driver.orDefault(),
		schema:          opts.Schema,
		keepCorruptCopy: opts.KeepCorruptCopy,
		logger:          opts.Logger,
	}
}

// OpenSource checkpoints the write-ahead log of path (best effort) and opens
// it read-only with query_only set.
func (b *Backend) OpenSource(ctx context.Context, path string) (dbrecovery.Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat database: %w", err)
	}
	if info, err := os.Stat(path + "-wal"); err == nil && info.Size() > 0 {
		checkpoint(ctx, b.driver, path, b.logger)
	}

	db, err := b.driver.open(ctx, path, true)
	if err != nil {
		return nil, b.driver.wrap("open source", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA query_only = 1"); err != nil {
		db.Close()
		return nil, b.driver.wrap("open source", err)
	}
	return &source{db: db, logger: b.logger}, nil
}

// source is the damaged database opened read-only.
type source struct {
	db     *sql.DB
	logger *slog.Logger

	objects []schemaObject
	kinds   map[string]tableKind
}

func (s *source) load(ctx context.Context) error {
	if s.objects != nil {
		return nil
	}
	objects, err := readSchema(ctx, s.db)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	s.objects = objects
	s.kinds = tableKinds(objects)
	return nil
}

// Tables lists tables holding user data in schema order. Derived tables
// are left out and rebuilt by recreation steps.
func (s *source) Tables(ctx context.Context) ([]string, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}

	var tables, derived []string
	for _, obj := range s.objects {
		if obj.Type != "table" {
			continue
		}
		if s.kinds[obj.Name] == kindDerived {
			derived = append(derived, obj.Name)
			continue
		}
		tables = append(tables, obj.Name)
	}
	if len(derived) > 0 && s.logger != nil {
		s.logger.Debug("derived tables not copied", slog.Any("tables", derived))
	}
	return tables, nil
}

// Rows streams a table. Ordinary tables are scanned NOT INDEXED so damaged
// indexes are never consulted.
func (s *source) Rows(ctx context.Context, table string) (dbrecovery.RowIterator, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}

	query := "SELECT * FROM " + quoteIdent(table)
	if s.kinds[table] == kindOrdinary {
		query += " NOT INDEXED"
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	return &rowIterator{rows: rows, columns: columns}, nil
}

func (s *source) userVersion(ctx context.Context) (version, appID int64, err error) {
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, 0, err
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA application_id").Scan(&appID); err != nil {
		return 0, 0, err
	}
	return version, appID, nil
}

func (s *source) Close() error {
	return s.db.Close()
}

type rowIterator struct {
	rows    *sql.Rows
	columns []string
}

func (it *rowIterator) Columns() []string { return it.columns }
func (it *rowIterator) Next() bool        { return it.rows.Next() }
func (it *rowIterator) Err() error        { return it.rows.Err() }
func (it *rowIterator) Close() error      { return it.rows.Close() }

func (it *rowIterator) Values() ([]any, error) {
	values := make([]any, len(it.columns))
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}

// CreateTarget creates an empty database next to path with the schema of
// src (or of the Schema hook) and the same user_version and application_id.
// Triggers and views are created at install time so they do not fire while
// rows are copied.
func (b *Backend) CreateTarget(ctx context.Context, path string, src dbrecovery.Source) (dbrecovery.Target, error) {
	s, ok := src.(*source)
	if !ok {
		return nil, fmt.Errorf("create target: source %T was not opened by this backend", src)
	}

	tmp := filepath.Join(filepath.Dir(path),
		fmt.Sprintf(".%s.recovery-%s.tmp", filepath.Base(path), uuid.NewString()))

	db, err := b.driver.open(ctx, tmp, false)
	if err != nil {
		return nil, b.driver.wrap("create target", err)
	}
	t := &target{
		b:      b,
		db:     db,
		path:   path,
		tmp:    tmp,
		logger: b.logger,
	}

	if err := t.init(ctx, s); err != nil {
		_ = t.Discard()
		return nil, err
	}
	return t, nil
}

// target is the replacement database being filled.
type target struct {
	b      *Backend
	db     *sql.DB
	path   string
	tmp    string
	logger *slog.Logger

	deferred  []string
	installed bool
}

func (t *target) exec(ctx context.Context, op, query string) error {
	if _, err := t.db.ExecContext(ctx, query); err != nil {
		return t.b.driver.wrap(op, err)
	}
	return nil
}

func (t *target) init(ctx context.Context, s *source) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = DELETE",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = OFF",
	} {
		if err := t.exec(ctx, "configure target", pragma); err != nil {
			return err
		}
	}

	if t.b.schema != nil {
		if err := t.b.schema(ctx, t.db); err != nil {
			return t.b.driver.wrap("create schema", err)
		}
	} else if err := t.copySchema(ctx, s); err != nil {
		return err
	}

	version, appID, err := s.userVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if err := t.exec(ctx, "set schema version", fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return err
	}
	if err := t.exec(ctx, "set application id", fmt.Sprintf("PRAGMA application_id = %d", appID)); err != nil {
		return err
	}

	if t.b.maxPageCount > 0 {
		return t.exec(ctx, "limit target size", fmt.Sprintf("PRAGMA max_page_count = %d", t.b.maxPageCount))
	}
	return nil
}

func (t *target) copySchema(ctx context.Context, s *source) error {
	if err := s.load(ctx); err != nil {
		return err
	}

	var indexes []string
	for _, obj := range s.objects {
		if obj.SQL == "" {
			continue
		}
		switch obj.Type {
		case "table":
			if strings.HasPrefix(strings.ToLower(obj.Name), "sqlite_") || isShadow(s.kinds, obj) {
				continue
			}
			if err := t.exec(ctx, "create table "+obj.Name, obj.SQL); err != nil {
				return err
			}
		case "index":
			indexes = append(indexes, obj.SQL)
		case "trigger", "view":
			t.deferred = append(t.deferred, obj.SQL)
		}
	}
	for _, stmt := range indexes {
		if err := t.exec(ctx, "create index", stmt); err != nil {
			return err
		}
	}
	return nil
}

// isShadow reports a table created implicitly by a virtual table.
func isShadow(kinds map[string]tableKind, obj schemaObject) bool {
	if _, virtual := virtualModule(obj.SQL); virtual {
		return false
	}
	return kinds[obj.Name] == kindDerived
}

func (t *target) OpenTable(ctx context.Context, table string, columns []string) (dbrecovery.TableWriter, error) {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, t.b.driver.wrap("begin copy", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return nil, t.b.driver.wrap("prepare insert into "+table, err)
	}
	return &tableWriter{ctx: ctx, driver: t.b.driver, tx: tx, stmt: stmt}, nil
}

// Install finishes the replacement and renames it over path.
//
// The old write-ahead log is set aside as <path>-wal.pre-recovery (and a
// rollback journal as <path>-journal.pre-recovery) so the engine never
// replays it onto the new file; the shared-memory file is removed.
func (t *target) Install(ctx context.Context) error {
	if t.installed {
		return nil
	}
	for _, stmt := range t.deferred {
		if err := t.exec(ctx, "create trigger or view", stmt); err != nil {
			return err
		}
	}
	if err := t.db.Close(); err != nil {
		return t.b.driver.wrap("close target", err)
	}
	t.db = nil

	if err := syncFile(t.tmp); err != nil {
		return t.b.driver.wrap("sync target", err)
	}

	restore, err := setAside(t.path)
	if err != nil {
		return fmt.Errorf("set aside old journal: %w", err)
	}

	if t.b.keepCorruptCopy {
		keep := fmt.Sprintf("%s.corrupt-%d", t.path, time.Now().Unix())
		if err := os.Link(t.path, keep); err != nil && t.logger != nil {
			t.logger.Warn("keep corrupt copy failed", slog.String("error", err.Error()))
		}
	}

	if err := os.Rename(t.tmp, t.path); err != nil {
		restore()
		return t.b.driver.wrap("install replacement", err)
	}
	t.installed = true

	if err := syncDir(filepath.Dir(t.path)); err != nil {
		return t.b.driver.wrap("sync directory", err)
	}
	return nil
}

// Discard removes the temporary file. It is a no-op after Install.
func (t *target) Discard() error {
	if t.installed {
		return nil
	}
	var errs []error
	if t.db != nil {
		errs = append(errs, t.db.Close())
		t.db = nil
	}
	for _, name := range []string{t.tmp, t.tmp + "-journal"} {
		if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type tableWriter struct {
	ctx    context.Context
	driver Driver
	tx     *sql.Tx
	stmt   *sql.Stmt
}

func (w *tableWriter) Insert(values []any) error {
	if _, err := w.stmt.ExecContext(w.ctx, values...); err != nil {
		return w.driver.wrap("insert", err)
	}
	return nil
}

func (w *tableWriter) Commit() error {
	_ = w.stmt.Close()
	if err := w.tx.Commit(); err != nil {
		return w.driver.wrap("commit", err)
	}
	return nil
}

func (w *tableWriter) Rollback() error {
	_ = w.stmt.Close()
	err := w.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

package sqlitedb

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery"
)

// Rebuilder repairs a SQLite file in place by rebuilding every index.
type Rebuilder struct {
	opts options
}

var _ dbrecovery.Rebuilder = (*Rebuilder)(nil)

// NewRebuilder creates a Rebuilder.
func NewRebuilder(opts ...Option) *Rebuilder {
	return &Rebuilder{opts: buildOptions(opts)}
}

// Rebuild checkpoints the write-ahead log (best effort) and runs REINDEX in
// a transaction that is rolled back on failure.
func (r *Rebuilder) Rebuild(ctx context.Context, path string) error {
	d := r.opts.driver
	db, err := d.openExisting(ctx, path)
	if err != nil {
		return d.wrap("open database", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil && r.opts.logger != nil {
		r.opts.logger.Debug("wal checkpoint failed", slog.String("error", err.Error()))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return d.wrap("begin reindex", err)
	}
	if _, err := tx.ExecContext(ctx, "REINDEX"); err != nil {
		_ = tx.Rollback()
		return d.wrap("reindex", err)
	}
	if err := tx.Commit(); err != nil {
		return d.wrap("commit reindex", err)
	}
	return nil
}

// checkpoint runs a truncating WAL checkpoint on path, ignoring failures.
func checkpoint(ctx context.Context, d Driver, path string, logger *slog.Logger) {
	db, err := d.openExisting(ctx, path)
	if err == nil {
		defer db.Close()
		_, err = db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	}
	if err != nil && logger != nil {
		logger.Warn("checkpoint before dump failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

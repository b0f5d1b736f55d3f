package sqlitedb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery"
)

// ReindexStep rebuilds every index of the database at path.
func ReindexStep(path string, opts ...Option) dbrecovery.RecreationStep {
	o := buildOptions(opts)
	return dbrecovery.RecreationStep{
		Name: "reindex",
		Run: func(ctx context.Context) error {
			return execOn(ctx, o.driver, path, "reindex", "REINDEX")
		},
	}
}

// RebuildSearchStep rebuilds the index of every full-text table from its
// content. Contentless tables are skipped.
func RebuildSearchStep(path string, opts ...Option) dbrecovery.RecreationStep {
	o := buildOptions(opts)
	return dbrecovery.RecreationStep{
		Name: "rebuild_search",
		Run: func(ctx context.Context) error {
			db, err := o.driver.openExisting(ctx, path)
			if err != nil {
				return o.driver.wrap("open database", err)
			}
			defer db.Close()

			objects, err := readSchema(ctx, db)
			if err != nil {
				return o.driver.wrap("read schema", err)
			}
			for _, table := range searchTables(objects) {
				q := quoteIdent(table)
				if _, err := db.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s(%s) VALUES('rebuild')", q, q)); err != nil {
					return o.driver.wrap("rebuild "+table, err)
				}
				if o.logger != nil {
					o.logger.Debug("search index rebuilt", slog.String("table", table))
				}
			}
			return nil
		},
	}
}

// AnalyzeStep refreshes query planner statistics. It is best effort.
func AnalyzeStep(path string, opts ...Option) dbrecovery.RecreationStep {
	o := buildOptions(opts)
	return dbrecovery.RecreationStep{
		Name:       "analyze",
		BestEffort: true,
		Run: func(ctx context.Context) error {
			return execOn(ctx, o.driver, path, "analyze", "ANALYZE")
		},
	}
}

func execOn(ctx context.Context, d Driver, path, op, query string) error {
	db, err := d.openExisting(ctx, path)
	if err != nil {
		return d.wrap("open database", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, query); err != nil {
		return d.wrap(op, err)
	}
	return nil
}

package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery"
)

// CheckMode selects the integrity pragma.
type CheckMode int

const (
	// CheckQuick runs PRAGMA quick_check: page structure without index
	// content cross-checks.
	CheckQuick CheckMode = iota
	// CheckFull runs PRAGMA integrity_check.
	CheckFull
)

// String returns the mode name used in configuration.
func (m CheckMode) String() string {
	if m == CheckFull {
		return "full"
	}
	return "quick"
}

// ParseCheckMode parses "quick" or "full". Empty means quick.
func ParseCheckMode(s string) (CheckMode, error) {
	switch strings.ToLower(s) {
	case "", "quick":
		return CheckQuick, nil
	case "full":
		return CheckFull, nil
	default:
		return CheckQuick, fmt.Errorf("unknown integrity mode %q", s)
	}
}

func (m CheckMode) pragma() string {
	if m == CheckFull {
		return "PRAGMA integrity_check"
	}
	return "PRAGMA quick_check"
}

// Checker is a dbrecovery.IntegrityChecker for SQLite files.
type Checker struct {
	mode CheckMode
	opts options
}

var _ dbrecovery.IntegrityChecker = (*Checker)(nil)

// NewChecker creates a checker running the given mode.
func NewChecker(mode CheckMode, opts ...Option) *Checker {
	return &Checker{mode: mode, opts: buildOptions(opts)}
}

// Check opens path read-only and runs the integrity pragmas. The result is
// IntegrityOk only if the main check returns exactly one row "ok" and every
// extra check returns no rows. A file the engine refuses as damaged is
// reported as IntegrityNotOk rather than as an error.
func (c *Checker) Check(ctx context.Context, path string) (dbrecovery.IntegrityReport, error) {
	d := c.opts.driver
	db, err := d.open(ctx, path, true)
	if err != nil {
		return c.failed(err, "open database")
	}
	defer db.Close()

	results, err := queryStrings(ctx, db, c.mode.pragma())
	if err != nil {
		return c.failed(err, "integrity check")
	}

	var problems []string
	if len(results) != 1 || !strings.EqualFold(results[0], "ok") {
		problems = append(problems, results...)
		if len(results) == 0 {
			problems = append(problems, "no results returned from integrity check")
		}
	}

	for _, pragma := range d.ExtraChecks {
		extra, err := queryStrings(ctx, db, pragma)
		if err != nil {
			return c.failed(err, pragma)
		}
		problems = append(problems, extra...)
	}

	if len(problems) > 0 {
		return dbrecovery.IntegrityReport{Result: dbrecovery.IntegrityNotOk, Problems: problems}, nil
	}
	return dbrecovery.IntegrityReport{Result: dbrecovery.IntegrityOk}, nil
}

func (c *Checker) failed(err error, op string) (dbrecovery.IntegrityReport, error) {
	if c.opts.driver.IsCorrupt(err) {
		return dbrecovery.IntegrityReport{
			Result:   dbrecovery.IntegrityNotOk,
			Problems: []string{err.Error()},
		}, nil
	}
	return dbrecovery.IntegrityReport{}, fmt.Errorf("%s: %w", op, err)
}

// queryStrings runs a pragma and returns its first column as strings.
func queryStrings(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v.String)
	}
	return out, rows.Err()
}

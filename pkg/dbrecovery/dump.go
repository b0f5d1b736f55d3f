package dbrecovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/observability"
)

// Progress units of a dump besides one unit per copied table.
const (
	dumpOpenUnits    = 1
	dumpCreateUnits  = 1
	dumpInstallUnits = 3
)

// Effort is how strictly a table's copy is judged.
type Effort int

const (
	// EffortBestEffort accepts partial copies. This is the default.
	EffortBestEffort Effort = iota
	// EffortFlawless fails the whole dump if any row is lost.
	EffortFlawless
	// EffortSkip does not copy the table. Use for derived data that is
	// rebuilt after the dump.
	EffortSkip
)

// String returns the effort name.
func (e Effort) String() string {
	switch e {
	case EffortBestEffort:
		return "best_effort"
	case EffortFlawless:
		return "flawless"
	case EffortSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// TablePlan assigns an Effort to each table.
type TablePlan struct {
	// Flawless tables must copy without losing a row.
	Flawless []string
	// BestEffort tables are copied as far as they can be read.
	BestEffort []string
	// Skip tables are left empty in the replacement database.
	Skip []string
	// Default applies to tables not listed above.
	Default Effort
}

// EffortFor returns the effort for table.
func (p TablePlan) EffortFor(table string) Effort {
	for _, t := range p.Skip {
		if t == table {
			return EffortSkip
		}
	}
	for _, t := range p.Flawless {
		if t == table {
			return EffortFlawless
		}
	}
	for _, t := range p.BestEffort {
		if t == table {
			return EffortBestEffort
		}
	}
	return p.Default
}

// order returns best-effort tables followed by flawless tables, each in
// source order, and the skipped tables.
func (p TablePlan) order(tables []string) (copyOrder []tableJob, skipped []string) {
	var flawless []tableJob
	for _, table := range tables {
		switch effort := p.EffortFor(table); effort {
		case EffortSkip:
			skipped = append(skipped, table)
		case EffortFlawless:
			flawless = append(flawless, tableJob{table: table, effort: effort})
		default:
			copyOrder = append(copyOrder, tableJob{table: table, effort: EffortBestEffort})
		}
	}
	return append(copyOrder, flawless...), skipped
}

type tableJob struct {
	table  string
	effort Effort
}

// Outcome is the result of copying one table.
type Outcome int

const (
	// CopiedFlawlessly means every row was read and written.
	CopiedFlawlessly Outcome = iota
	// CopiedWithTrouble means some rows were copied and some were lost.
	CopiedWithTrouble
	// TotalFailure means no row of the table was copied.
	TotalFailure
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case CopiedFlawlessly:
		return "copied_flawlessly"
	case CopiedWithTrouble:
		return "copied_with_trouble"
	case TotalFailure:
		return "total_failure"
	default:
		return "unknown"
	}
}

// TableReport describes how one table was copied.
type TableReport struct {
	Table       string
	Effort      Effort
	Outcome     Outcome
	RowsCopied  int64
	RowsSkipped int64
	// Err is the first error seen while copying, if any.
	Err error
}

// DumpAndRestore copies every recoverable row of a corrupted database into a
// fresh file and atomically installs that file in place of the original.
type DumpAndRestore struct {
	backend Backend
	plan    TablePlan
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	mu      sync.Mutex
	reports []TableReport
}

// DumpOption configures a DumpAndRestore.
type DumpOption func(*DumpAndRestore)

// WithTablePlan sets the table plan. The zero plan copies every table best effort.
func WithTablePlan(plan TablePlan) DumpOption {
	return func(d *DumpAndRestore) {
		d.plan = plan
	}
}

// WithDumpLogger sets the logger for per-table outcomes.
func WithDumpLogger(logger *slog.Logger) DumpOption {
	return func(d *DumpAndRestore) {
		d.logger = logger
	}
}

// WithDumpMetrics sets the metrics recorder for per-table row counts.
func WithDumpMetrics(metrics observability.MetricsRecorder) DumpOption {
	return func(d *DumpAndRestore) {
		if metrics != nil {
			d.metrics = metrics
		}
	}
}

// NewDumpAndRestore creates a DumpAndRestore over backend.
func NewDumpAndRestore(backend Backend, opts ...DumpOption) *DumpAndRestore {
	d := &DumpAndRestore{
		backend: backend,
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Reports returns the per-table reports of the last Run.
func (d *DumpAndRestore) Reports() []TableReport {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]TableReport, len(d.reports))
	copy(out, d.reports)
	return out
}

// Run dumps the database at path and installs the replacement.
//
// On error the canonical file is untouched. The error is an *Error of kind
// RanOutOfDiskSpace when storage ran out at any point, and
// UnrecoverablyCorrupted when nothing usable could be read or a flawless
// table lost rows.
func (d *DumpAndRestore) Run(ctx context.Context, path string, progress *Progress) error {
	d.mu.Lock()
	d.reports = nil
	d.mu.Unlock()

	if progress == nil {
		progress = NewProgress(1, nil)
	}
	progress.SetTotal(dumpOpenUnits + dumpCreateUnits + dumpInstallUnits)

	src, err := d.backend.OpenSource(ctx, path)
	if err != nil {
		return d.fail(fmt.Errorf("open source: %w", err))
	}
	defer src.Close()
	progress.Add(dumpOpenUnits)

	tables, err := src.Tables(ctx)
	if err != nil {
		return d.fail(fmt.Errorf("list tables: %w", err))
	}
	jobs, skipped := d.plan.order(tables)
	if len(skipped) > 0 && d.logger != nil {
		d.logger.Info("tables not copied", slog.Any("tables", skipped))
	}
	progress.SetTotal(dumpOpenUnits + dumpCreateUnits + int64(len(jobs)) + dumpInstallUnits)

	target, err := d.backend.CreateTarget(ctx, path, src)
	if err != nil {
		return d.fail(fmt.Errorf("create target: %w", err))
	}
	installed := false
	defer func() {
		if !installed {
			if discardErr := target.Discard(); discardErr != nil && d.logger != nil {
				d.logger.Warn("discard replacement database failed",
					slog.String("error", discardErr.Error()))
			}
		}
	}()
	progress.Add(dumpCreateUnits)

	totalFailures := 0
	for _, job := range jobs {
		report := d.copyTable(ctx, src, target, job)
		d.record(ctx, report)
		progress.Add(1)

		if report.Err != nil && IsDiskFull(report.Err) {
			return d.fail(fmt.Errorf("copy table %s: %w", report.Table, report.Err))
		}
		if report.Effort == EffortFlawless && report.Outcome != CopiedFlawlessly {
			cause := report.Err
			if cause == nil {
				cause = errors.New("rows could not be copied")
			}
			return d.fail(fmt.Errorf("copy flawless table %s: %w", report.Table, cause))
		}
		if report.Outcome == TotalFailure {
			totalFailures++
		}
	}
	if len(jobs) > 0 && totalFailures == len(jobs) {
		return &Error{
			Kind:  UnrecoverablyCorrupted,
			Stage: StageDumpAndRestore,
			Err:   errors.New("no table could be copied"),
		}
	}

	if err := target.Install(ctx); err != nil {
		return d.fail(fmt.Errorf("install replacement: %w", err))
	}
	installed = true
	progress.Add(dumpInstallUnits)
	return nil
}

func (d *DumpAndRestore) copyTable(ctx context.Context, src Source, target Target, job tableJob) TableReport {
	report := TableReport{Table: job.table, Effort: job.effort, Outcome: TotalFailure}
	trouble := func(err error) {
		if report.Err == nil {
			report.Err = err
		}
	}

	rows, err := src.Rows(ctx, job.table)
	if err != nil {
		trouble(err)
		return report
	}
	defer rows.Close()

	w, err := target.OpenTable(ctx, job.table, rows.Columns())
	if err != nil {
		trouble(err)
		return report
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			report.RowsSkipped++
			trouble(err)
			continue
		}
		if err := w.Insert(values); err != nil {
			if IsDiskFull(err) {
				_ = w.Rollback()
				report.Err = err
				report.RowsCopied = 0
				return report
			}
			report.RowsSkipped++
			trouble(err)
			continue
		}
		report.RowsCopied++
	}
	// An unreadable page ends the table, not the dump.
	if err := rows.Err(); err != nil {
		trouble(err)
	}

	if err := w.Commit(); err != nil {
		_ = w.Rollback()
		report.Err = err
		report.RowsCopied = 0
		return report
	}

	switch {
	case report.Err == nil:
		report.Outcome = CopiedFlawlessly
	case report.RowsCopied > 0:
		report.Outcome = CopiedWithTrouble
	}
	return report
}

func (d *DumpAndRestore) record(ctx context.Context, report TableReport) {
	d.mu.Lock()
	d.reports = append(d.reports, report)
	d.mu.Unlock()

	observability.LogTableCopy(d.logger, report.Table, report.Effort.String(), report.Outcome.String(),
		report.RowsCopied, report.RowsSkipped)
	d.metrics.RecordTableCopy(ctx, report.Outcome.String(), report.RowsCopied, report.RowsSkipped)
}

func (d *DumpAndRestore) fail(err error) error {
	return classified(StageDumpAndRestore, err)
}

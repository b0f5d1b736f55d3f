// Package observability provides structured logging, metrics, and tracing
// for database recovery runs.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every logging helper accepts a nil logger.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// EnrichLogger adds recovery context to a logger.
// Returns a new logger with run_id and db_path fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "run-123", "/data/app.db")
//	enriched.Info("doing work") // includes run_id, db_path
func EnrichLogger(logger *slog.Logger, runID, dbPath string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("db_path", dbPath),
	)
}

// LogRecoveryStart logs the start of a recovery run.
func LogRecoveryStart(logger *slog.Logger, runID, status string, count int) {
	if logger == nil {
		return
	}
	logger.Info("database recovery starting",
		slog.String("run_id", runID),
		slog.String("status", status),
		slog.Int("corruption_count", count),
	)
}

// LogRecoveryComplete logs successful recovery completion.
func LogRecoveryComplete(logger *slog.Logger, runID string, durationMs float64, stagesRun int) {
	if logger == nil {
		return
	}
	logger.Info("database recovery completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("stages_run", stagesRun),
	)
}

// LogRecoveryError logs recovery failure.
func LogRecoveryError(logger *slog.Logger, runID string, err error, durationMs float64, lastStage string) {
	if logger == nil {
		return
	}
	logger.Error("database recovery failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_stage", lastStage),
	)
}

// LogStageStart logs stage start.
func LogStageStart(logger *slog.Logger, stage string) {
	if logger == nil {
		return
	}
	logger.Debug("stage starting",
		slog.String("stage", stage),
	)
}

// LogStageComplete logs successful stage completion.
func LogStageComplete(logger *slog.Logger, stage string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("stage completed",
		slog.String("stage", stage),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStageSkipped logs a stage whose progress was credited without running it.
func LogStageSkipped(logger *slog.Logger, stage, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("stage skipped",
		slog.String("stage", stage),
		slog.String("reason", reason),
	)
}

// LogStageError logs a stage failure.
// Pass fatal=false for best-effort stages whose errors are accepted.
func LogStageError(logger *slog.Logger, stage string, err error, fatal bool) {
	if logger == nil {
		return
	}
	level := slog.LevelError
	if !fatal {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "stage failed",
		slog.String("stage", stage),
		slog.String("error", err.Error()),
		slog.Bool("fatal", fatal),
	)
}

// LogStateWrite logs a durable corruption state transition.
func LogStateWrite(logger *slog.Logger, from, to string) {
	if logger == nil {
		return
	}
	logger.Info("corruption state written",
		slog.String("from", from),
		slog.String("to", to),
	)
}

// LogStateWriteError logs a failed corruption state write.
func LogStateWriteError(logger *slog.Logger, to string, err error) {
	if logger == nil {
		return
	}
	logger.Error("corruption state write failed",
		slog.String("to", to),
		slog.String("error", err.Error()),
	)
}

// LogTableCopy logs the outcome of copying one table during a dump.
func LogTableCopy(logger *slog.Logger, table, effort, outcome string, rowsCopied, rowsSkipped int64) {
	if logger == nil {
		return
	}
	level := slog.LevelDebug
	if rowsSkipped > 0 || outcome != "copied_flawlessly" {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "table copied",
		slog.String("table", table),
		slog.String("effort", effort),
		slog.String("outcome", outcome),
		slog.Int64("rows_copied", rowsCopied),
		slog.Int64("rows_skipped", rowsSkipped),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}

package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records recovery metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStage records a stage execution with its duration and error status.
	RecordStage(ctx context.Context, stage string, duration time.Duration, err error)

	// RecordRecovery records a recovery run completion.
	// Outcome is "succeeded", "cancelled", or the failure kind.
	RecordRecovery(ctx context.Context, outcome string, duration time.Duration)

	// RecordTableCopy records the rows copied and skipped for one table.
	RecordTableCopy(ctx context.Context, outcome string, rowsCopied, rowsSkipped int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	stageExecutions metric.Int64Counter
	stageLatency    metric.Float64Histogram
	stageErrors     metric.Int64Counter
	recoveryRuns    metric.Int64Counter
	recoveryLatency metric.Float64Histogram
	tableCopies     metric.Int64Counter
	rowsCopied      metric.Int64Counter
	rowsSkipped     metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("dbrecovery")

	stageExecutions, err := meter.Int64Counter("dbrecovery.stage.executions",
		metric.WithDescription("Number of recovery stage executions"),
	)
	if err != nil {
		return nil, err
	}

	stageLatency, err := meter.Float64Histogram("dbrecovery.stage.latency_ms",
		metric.WithDescription("Recovery stage latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stageErrors, err := meter.Int64Counter("dbrecovery.stage.errors",
		metric.WithDescription("Number of recovery stage errors"),
	)
	if err != nil {
		return nil, err
	}

	recoveryRuns, err := meter.Int64Counter("dbrecovery.recovery.runs",
		metric.WithDescription("Number of recovery runs"),
	)
	if err != nil {
		return nil, err
	}

	recoveryLatency, err := meter.Float64Histogram("dbrecovery.recovery.latency_ms",
		metric.WithDescription("Recovery run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	tableCopies, err := meter.Int64Counter("dbrecovery.table.copies",
		metric.WithDescription("Number of tables copied during dump and restore"),
	)
	if err != nil {
		return nil, err
	}

	rowsCopied, err := meter.Int64Counter("dbrecovery.table.rows_copied",
		metric.WithDescription("Rows copied into the replacement database"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	rowsSkipped, err := meter.Int64Counter("dbrecovery.table.rows_skipped",
		metric.WithDescription("Rows that could not be recovered"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		stageExecutions: stageExecutions,
		stageLatency:    stageLatency,
		stageErrors:     stageErrors,
		recoveryRuns:    recoveryRuns,
		recoveryLatency: recoveryLatency,
		tableCopies:     tableCopies,
		rowsCopied:      rowsCopied,
		rowsSkipped:     rowsSkipped,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordStage records a stage execution.
func (m *otelMetrics) RecordStage(ctx context.Context, stage string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("stage", stage),
	}

	m.stageExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.stageLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.stageErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordRecovery records a recovery run.
func (m *otelMetrics) RecordRecovery(ctx context.Context, outcome string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("outcome", outcome),
	}
	m.recoveryRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.recoveryLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordTableCopy records one table copy.
func (m *otelMetrics) RecordTableCopy(ctx context.Context, outcome string, rowsCopied, rowsSkipped int64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.tableCopies.Add(ctx, 1, attrs)
	m.rowsCopied.Add(ctx, rowsCopied, attrs)
	m.rowsSkipped.Add(ctx, rowsSkipped, attrs)
}

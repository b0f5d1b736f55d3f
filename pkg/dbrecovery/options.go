package dbrecovery

import (
	"log/slog"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/observability"
)

// Weights are the progress units allotted to each part of a recovery.
type Weights struct {
	// Integrity covers the in-place rebuild and the integrity check.
	Integrity int64
	Dump      int64
	Setup     int64
	// Recreation covers the manual recreation steps.
	Recreation int64
	// Finalize is credited when the run succeeds. It is at least 1 so the
	// fraction reaches 1.0 only at success.
	Finalize int64
}

// DefaultWeights returns the default progress allocation.
func DefaultWeights() Weights {
	return Weights{
		Integrity:  2,
		Dump:       10,
		Setup:      2,
		Recreation: 3,
		Finalize:   1,
	}
}

func (w Weights) total() int64 {
	return w.Integrity + w.Dump + w.Setup + w.Recreation + w.Finalize
}

// orchestratorConfig holds configuration for a recovery run.
type orchestratorConfig struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	sink    Sink
	locker  Locker
	weights Weights
	runID   string
}

// defaultOrchestratorConfig returns the default configuration.
func defaultOrchestratorConfig() orchestratorConfig {
	return orchestratorConfig{
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		sink:    discardSink{},
		weights: DefaultWeights(),
	}
}

// Option configures an Orchestrator.
type Option func(*orchestratorConfig)

// WithLogger sets the logger. Default: slog.Default(). Nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *orchestratorConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics using the global meter provider.
func WithMetrics(enabled bool) Option {
	return func(c *orchestratorConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry spans using the global tracer provider.
func WithTracing(enabled bool) Option {
	return func(c *orchestratorConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithSink sets the receiver of progress and phase events.
func WithSink(sink Sink) Option {
	return func(c *orchestratorConfig) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithLocker makes the run hold locker for its whole duration.
//
// Example:
//
//	orch := dbrecovery.NewOrchestrator(path, store, stages, setup,
//	    dbrecovery.WithLocker(sqlitedb.NewFileLock(path)))
func WithLocker(locker Locker) Option {
	return func(c *orchestratorConfig) {
		c.locker = locker
	}
}

// WithWeights sets the progress allocation. Negative weights are treated as
// zero and Finalize is raised to 1 if needed.
func WithWeights(w Weights) Option {
	return func(c *orchestratorConfig) {
		for _, v := range []*int64{&w.Integrity, &w.Dump, &w.Setup, &w.Recreation, &w.Finalize} {
			if *v < 0 {
				*v = 0
			}
		}
		if w.Finalize < 1 {
			w.Finalize = 1
		}
		c.weights = w
	}
}

// WithRunID sets the run identifier used in logs and spans.
// Default: a random UUID.
func WithRunID(id string) Option {
	return func(c *orchestratorConfig) {
		c.runID = id
	}
}

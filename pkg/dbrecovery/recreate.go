package dbrecovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/observability"
)

// RecreationStep rebuilds one piece of derived state.
// Run must be idempotent: an interrupted recreation re-runs every step.
type RecreationStep struct {
	Name string
	Run  func(ctx context.Context) error
	// BestEffort steps log their errors instead of failing the recreation.
	BestEffort bool
}

// Recreation runs recreation steps in order.
type Recreation struct {
	steps  []RecreationStep
	logger *slog.Logger
}

// NewRecreation creates a Recreation of steps. A nil logger disables step logging.
func NewRecreation(logger *slog.Logger, steps ...RecreationStep) *Recreation {
	return &Recreation{steps: steps, logger: logger}
}

// Steps returns the step names in run order.
func (r *Recreation) Steps() []string {
	names := make([]string, len(r.steps))
	for i, step := range r.steps {
		names[i] = step.Name
	}
	return names
}

// Run executes every step, crediting one progress unit per step.
func (r *Recreation) Run(ctx context.Context, progress *Progress) error {
	if progress == nil {
		progress = NewProgress(1, nil)
	}
	progress.SetTotal(int64(len(r.steps)))

	for _, step := range r.steps {
		done := observability.TimedOperation()
		if err := step.Run(ctx); err != nil {
			if !step.BestEffort {
				return fmt.Errorf("recreation step %s: %w", step.Name, err)
			}
			if r.logger != nil {
				r.logger.Warn("best-effort recreation step failed",
					slog.String("step", step.Name),
					slog.String("error", err.Error()))
			}
		} else if r.logger != nil {
			r.logger.Debug("recreation step completed",
				slog.String("step", step.Name),
				slog.Float64("duration_ms", done()))
		}
		progress.Add(1)
	}
	progress.Complete()
	return nil
}

package dbrecovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/observability"
	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/statestore"
)

// SetupFunc prepares the application environment once the database is
// usable again and returns what the launch callback needs.
type SetupFunc[T any] func(ctx context.Context) (T, error)

// Stages are the stage implementations an Orchestrator drives.
// Checker and Dumper are required; Rebuilder and Recreator are optional.
type Stages struct {
	Checker   IntegrityChecker
	Rebuilder Rebuilder
	Dumper    Dumper
	Recreator Recreator
}

// Orchestrator drives one recovery of the database at a path.
//
// The decision tree depends on the persisted corruption state:
//
//	corrupted, read_corrupted:
//	    rebuild -> integrity check -> [dump and restore] -> setup -> [recreation] -> finalize
//	corrupted_but_already_dumped_and_restored:
//	    setup -> recreation -> finalize
//
// The dump only runs when the integrity check fails; recreation only runs
// when a dump happened in this run or an earlier one. The state store is
// advanced after the replacement database is installed and again after
// recreation, so an interrupted run resumes without dumping twice.
//
// An Orchestrator is single-use.
type Orchestrator[T any] struct {
	path   string
	store  statestore.Store
	stages Stages
	setup  SetupFunc[T]
	cfg    orchestratorConfig

	mu       sync.Mutex
	phase    Phase
	stage    Stage
	progress *Progress
}

// NewOrchestrator creates an orchestrator for the database at path.
func NewOrchestrator[T any](path string, store statestore.Store, stages Stages, setup SetupFunc[T], opts ...Option) *Orchestrator[T] {
	cfg := defaultOrchestratorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.runID == "" {
		cfg.runID = uuid.NewString()
	}
	return &Orchestrator[T]{
		path:   path,
		store:  store,
		stages: stages,
		setup:  setup,
		cfg:    cfg,
	}
}

// RunID returns the run identifier used in logs and spans.
func (o *Orchestrator[T]) RunID() string {
	return o.cfg.runID
}

// Phase returns the current lifecycle phase.
func (o *Orchestrator[T]) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Stage returns the stage that is running or last ran.
func (o *Orchestrator[T]) Stage() Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

// Progress returns the overall completed fraction.
func (o *Orchestrator[T]) Progress() float64 {
	o.mu.Lock()
	p := o.progress
	o.mu.Unlock()

	if p == nil {
		return 0
	}
	return p.Fraction()
}

// Recover runs the recovery and returns the setup payload.
//
// Precondition failures (ErrNotCorrupted, ErrStateUnavailable, ErrLocked,
// ErrAlreadyStarted) are returned before anything runs and leave the
// orchestrator awaiting start. Otherwise the run ends in PhaseSucceeded, or
// in PhaseFailed with an *Error or *CancellationError.
//
// The context is honoured between stages until the dump begins. From then
// on the run ignores cancellation: stopping mid-dump would only waste the
// work already done.
func (o *Orchestrator[T]) Recover(ctx context.Context) (result T, runErr error) {
	rec, err := o.begin()
	if err != nil {
		return result, err
	}
	defer o.release()

	runID := o.cfg.runID
	logger := observability.EnrichLogger(o.cfg.logger, runID, o.path)
	start := time.Now()
	observability.LogRecoveryStart(logger, runID, rec.Status.String(), rec.Count)

	ctx, span := o.cfg.spans.StartRecoverySpan(ctx, o.path, runID)
	defer func() {
		o.cfg.spans.EndSpanWithError(span, runErr)
	}()

	run := o.newRun(rec, logger)
	o.publish(0, nil)

	lastStage, err := run.drive(ctx)
	duration := time.Since(start)
	durationMs := float64(duration.Milliseconds())

	if err != nil {
		o.fail(err)
		o.cfg.metrics.RecordRecovery(ctx, outcomeOf(err), duration)
		observability.LogRecoveryError(logger, runID, err, durationMs, lastStage.String())
		return result, err
	}

	o.cfg.metrics.RecordRecovery(ctx, "succeeded", duration)
	observability.LogRecoveryComplete(logger, runID, durationMs, run.stagesRun)
	return run.payload, nil
}

// RecoverAndLaunch runs the recovery and, only on success, calls launch
// with the setup payload.
func (o *Orchestrator[T]) RecoverAndLaunch(ctx context.Context, launch func(T)) error {
	payload, err := o.Recover(ctx)
	if err != nil {
		return err
	}
	if launch != nil {
		launch(payload)
	}
	return nil
}

// begin validates preconditions and moves to PhaseRunning.
func (o *Orchestrator[T]) begin() (statestore.Record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.phase != PhaseAwaitingStart {
		return statestore.Record{}, ErrAlreadyStarted
	}

	rec, err := o.store.Read()
	if err != nil {
		return statestore.Record{}, fmt.Errorf("%w: %w", ErrStateUnavailable, err)
	}
	if !rec.Status.IsCorrupted() {
		return statestore.Record{}, ErrNotCorrupted
	}

	if o.cfg.locker != nil {
		if err := o.cfg.locker.Lock(); err != nil {
			return statestore.Record{}, fmt.Errorf("acquire recovery lock: %w", err)
		}
	}

	o.phase = PhaseRunning
	return rec, nil
}

func (o *Orchestrator[T]) release() {
	if o.cfg.locker == nil {
		return
	}
	if err := o.cfg.locker.Unlock(); err != nil && o.cfg.logger != nil {
		o.cfg.logger.Warn("release recovery lock failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator[T]) setStage(stage Stage) {
	o.mu.Lock()
	o.stage = stage
	o.mu.Unlock()
}

func (o *Orchestrator[T]) succeed() {
	o.mu.Lock()
	o.phase = PhaseSucceeded
	o.mu.Unlock()
}

func (o *Orchestrator[T]) fail(err error) {
	o.mu.Lock()
	o.phase = PhaseFailed
	p := o.progress
	o.mu.Unlock()

	o.publish(p.Fraction(), err)
}

func (o *Orchestrator[T]) publish(progress float64, err error) {
	o.mu.Lock()
	ev := Event{Phase: o.phase, Stage: o.stage, Progress: progress, Err: err}
	o.mu.Unlock()

	o.cfg.sink.Publish(ev)
}

func outcomeOf(err error) string {
	var cancelErr *CancellationError
	if errors.As(err, &cancelErr) {
		return "cancelled"
	}
	return Classify(err).String()
}

// recoveryRun is the mutable state of one Recover call.
type recoveryRun[T any] struct {
	o      *Orchestrator[T]
	logger *slog.Logger
	record statestore.Record

	// dumped is set once a replacement database is installed, in this run
	// or an earlier one.
	dumped bool
	// irreversible is set when the dump begins; cancellation is ignored after.
	irreversible bool

	payload   T
	stagesRun int

	root       *Progress
	integrity  *Progress
	dump       *Progress
	setup      *Progress
	recreation *Progress
}

func (o *Orchestrator[T]) newRun(rec statestore.Record, logger *slog.Logger) *recoveryRun[T] {
	w := o.cfg.weights
	root := NewProgress(w.total(), func(f float64) {
		o.publish(f, nil)
	})

	run := &recoveryRun[T]{
		o:          o,
		logger:     logger,
		record:     rec,
		root:       root,
		integrity:  root.Child(w.Integrity),
		dump:       root.Child(w.Dump),
		setup:      root.Child(w.Setup),
		recreation: root.Child(w.Recreation),
	}
	// Rebuild and check are one unit each.
	run.integrity.SetTotal(2)

	o.mu.Lock()
	o.progress = root
	o.mu.Unlock()
	return run
}

// drive runs stages until done or failed. It returns the last stage entered.
func (r *recoveryRun[T]) drive(ctx context.Context) (Stage, error) {
	stage := StageRebuild
	if r.record.Status == statestore.CorruptedButAlreadyDumpedAndRestored {
		r.dumped = true
		r.integrity.Complete()
		r.dump.Complete()
		observability.LogStageSkipped(r.logger, StageDumpAndRestore.String(), "already dumped and restored")
		stage = StageEnvironmentSetup
	}

	for stage != stageDone {
		if !r.irreversible {
			if err := ctx.Err(); err != nil {
				return stage, &CancellationError{Stage: stage, Cause: err}
			}
		}
		if stage == StageDumpAndRestore {
			r.irreversible = true
			ctx = context.WithoutCancel(ctx)
		}

		r.o.setStage(stage)
		next, err := r.execute(ctx, stage)
		if err != nil {
			return stage, err
		}
		stage = next
	}
	return StageFinalize, nil
}

// execute runs one stage with logging, metrics, and tracing.
func (r *recoveryRun[T]) execute(ctx context.Context, stage Stage) (Stage, error) {
	cfg := &r.o.cfg
	name := stage.String()

	observability.LogStageStart(r.logger, name)
	stageCtx, span := cfg.spans.StartStageSpan(ctx, name)
	start := time.Now()

	next, err := r.runStage(stageCtx, stage)
	if err != nil && !r.irreversible && ctx.Err() != nil {
		err = &CancellationError{Stage: stage, Cause: ctx.Err()}
	}

	duration := time.Since(start)
	cfg.metrics.RecordStage(stageCtx, name, duration, err)
	cfg.spans.EndSpanWithError(span, err)

	if err != nil {
		observability.LogStageError(r.logger, name, err, true)
		return stage, err
	}
	observability.LogStageComplete(r.logger, name, float64(duration.Milliseconds()))
	r.stagesRun++
	return next, nil
}

func (r *recoveryRun[T]) runStage(ctx context.Context, stage Stage) (Stage, error) {
	stages := r.o.stages
	path := r.o.path

	switch stage {
	case StageRebuild:
		if stages.Rebuilder != nil {
			if err := stages.Rebuilder.Rebuild(ctx, path); err != nil {
				observability.LogStageError(r.logger, stage.String(), err, false)
			}
		}
		r.integrity.Add(1)
		return StageIntegrityCheck, nil

	case StageIntegrityCheck:
		report, err := stages.Checker.Check(ctx, path)
		if err != nil {
			observability.LogStageError(r.logger, stage.String(), err, false)
			report = IntegrityReport{Result: IntegrityNotOk}
		}
		r.integrity.Complete()

		if report.Result == IntegrityOk {
			r.dump.Complete()
			observability.LogStageSkipped(r.logger, StageDumpAndRestore.String(), "integrity check passed")
			return StageEnvironmentSetup, nil
		}
		if r.logger != nil && len(report.Problems) > 0 {
			r.logger.Warn("integrity check found problems",
				slog.Int("problems", len(report.Problems)),
				slog.String("first", report.Problems[0]))
		}
		return StageDumpAndRestore, nil

	case StageDumpAndRestore:
		if err := stages.Dumper.Run(ctx, path, r.dump); err != nil {
			return stage, classified(stage, err)
		}
		r.dump.Complete()
		r.dumped = true
		if err := r.writeState(statestore.CorruptedButAlreadyDumpedAndRestored); err != nil {
			r.recreateUnrecorded(ctx)
			return stage, classified(stage, err)
		}
		return StageEnvironmentSetup, nil

	case StageEnvironmentSetup:
		payload, err := r.o.setup(ctx)
		if err != nil {
			return stage, classified(stage, err)
		}
		r.payload = payload
		r.setup.Complete()

		if r.dumped {
			return StageManualRecreation, nil
		}
		r.recreation.Complete()
		observability.LogStageSkipped(r.logger, StageManualRecreation.String(), "no dump performed")
		return StageFinalize, nil

	case StageManualRecreation:
		if stages.Recreator != nil {
			if err := stages.Recreator.Run(ctx, r.recreation); err != nil {
				return stage, classified(stage, err)
			}
		}
		r.recreation.Complete()
		return StageFinalize, nil

	case StageFinalize:
		if err := r.writeState(statestore.NotCorrupted); err != nil {
			return stage, classified(stage, err)
		}
		// 1.0 is published together with PhaseSucceeded.
		r.o.succeed()
		r.root.Complete()
		return stageDone, nil

	default:
		return stage, fmt.Errorf("unknown stage %d", stage)
	}
}

// recreateUnrecorded runs recreation over a replacement database whose
// install could not be recorded. A retry finds the new file healthy and
// skips both the dump and recreation, so derived state must be rebuilt now.
func (r *recoveryRun[T]) recreateUnrecorded(ctx context.Context) {
	if r.o.stages.Recreator == nil {
		return
	}
	if err := r.o.stages.Recreator.Run(ctx, r.recreation); err != nil {
		observability.LogStageError(r.logger, StageManualRecreation.String(), err, false)
	}
}

// writeState durably persists a new status before the run moves on.
func (r *recoveryRun[T]) writeState(to statestore.Status) error {
	rec := statestore.Record{Status: to, Count: r.record.Count}
	if to == statestore.NotCorrupted {
		rec.Count = 0
	}

	if err := r.o.store.Write(rec); err != nil {
		observability.LogStateWriteError(r.logger, to.String(), err)
		return &StateWriteError{To: to, Err: err}
	}
	observability.LogStateWrite(r.logger, r.record.Status.String(), to.String())
	r.record = rec
	return nil
}

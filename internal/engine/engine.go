// Package engine wires the arithmetic, the reducer, checkpointing and digit
// extraction into one computation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"pidigits/internal/arena"
	"pidigits/internal/dag"
	"pidigits/internal/digits"
	"pidigits/internal/recovery/state"
	"pidigits/internal/series"
	"pidigits/internal/trace"
)

// ErrInvalidArgument is matched by every *InvalidArgumentError.
var ErrInvalidArgument = errors.New("invalid argument")

// InvalidArgumentError reports a request rejected before any computation.
type InvalidArgumentError struct {
	Err error
}

func (e *InvalidArgumentError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", ErrInvalidArgument.Error(), e.Err)
}

func (e *InvalidArgumentError) Unwrap() error { return e.Err }

func (e *InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// Options holds the collaborators of an Engine. Every field is optional.
type Options struct {
	Progress dag.ProgressSink
	Trace    trace.Sink
	// Logger nil means discard.
	Logger *slog.Logger
	// Now stamps checkpoints; nil means time.Now.
	Now func() time.Time
}

// Engine computes digits of pi for one validated Config.
type Engine struct {
	cfg  Config
	opts Options
}

// New validates cfg. The error is an *InvalidArgumentError.
func New(cfg Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &InvalidArgumentError{Err: err}
	}
	return &Engine{cfg: cfg, opts: opts}, nil
}

// Config returns the configuration the engine runs with.
func (e *Engine) Config() Config { return e.cfg }

// Result is a finished computation. Digits is ready to stream.
//
// Compute also returns a partial Result next to every error: Digits is nil
// and GraphHash names the graph the run planned or reduced.
type Result struct {
	Digits    *digits.Stream
	Precision int
	Terms     int64

	// ResumedFrom is the end of the checkpoint prefix the run continued
	// from, 0 for a fresh run.
	ResumedFrom         int64
	CheckpointDiscarded bool

	// GraphHash identifies the reduced graph. A run resumed from a complete
	// checkpoint reduces nothing and carries the hash of the empty plan.
	GraphHash dag.GraphHash
	Graph     *dag.GraphResult
	Saves     state.SaverStats
	Elapsed   time.Duration
}

func (e *Engine) logger() *slog.Logger {
	if e.opts.Logger != nil {
		return e.opts.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Precision returns the number of decimal digits carried internally.
func (c Config) Precision() int { return int(c.Digits) + c.DigitGuard }

// Terms returns the series length for the configured precision.
func (c Config) Terms() int64 { return series.TermCount(int64(c.Precision()), c.TermGuard) }

// Compute runs the whole pipeline.
//
// With a checkpoint path configured, a usable checkpoint seeds the run and
// an unusable one is discarded (logged, traced) and the run restarts from
// term 0, unless ResumeOrFail is set, in which case the load error is
// returned. Progress is saved on the configured cadence. After the digits
// are extracted the checkpoint is removed unless KeepCheckpoint is set.
//
// Errors:
//   - ctx cancelled: matches dag.ErrCancelled; a final checkpoint was attempted
//   - arithmetic ceiling: matches arena.ErrOverflow; no checkpoint written after it
//   - task fault: *dag.TaskFailure
//   - ResumeOrFail: state.ErrCorrupt or state.ErrIneligible
func (e *Engine) Compute(ctx context.Context) (res *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := e.cfg
	log := e.logger().With("comp", "engine")
	start := time.Now()

	precision := cfg.Precision()
	terms := cfg.Terms()
	ar := cfg.Arena()
	ev := series.NewEvaluator(ar)
	log.Info("engine", "stage", "start", "digits", cfg.Digits, "precision", precision, "terms", terms, "workers", cfg.Workers)

	res = &Result{Precision: precision, Terms: terms}
	defer func() {
		if err != nil && res.GraphHash == "" {
			res.GraphHash = dag.PlanHash(series.Range{Lo: res.ResumedFrom, Hi: terms}, cfg.Granularity)
		}
	}()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%w: %w", dag.ErrCancelled, ctxErr)
	}

	var (
		store *state.Store
		seed  *dag.Seed
	)
	if cfg.CheckpointPath != "" {
		if store, err = state.NewStore(cfg.CheckpointPath); err != nil {
			return res, &InvalidArgumentError{Err: err}
		}
		seed, err = e.resume(store, ev, terms, res)
		if err != nil {
			log.Error("engine", "stage", "error", "code", "CheckpointUnusable", "err", err)
			return res, err
		}
	}

	final, saves, err := e.reduce(ctx, store, ev, seed, terms, res)
	res.Saves = saves
	if err != nil {
		e.recordFailure(store, err)
		log.Error("engine", "stage", "error", "code", errorCode(err), "err", err, "dur_ms", time.Since(start).Milliseconds())
		return res, err
	}

	ex := &digits.Extractor{Arena: ar, GroupSize: cfg.GroupSize}
	stream, err := ex.ExtractContext(ctx, final, precision, int(cfg.Digits))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", dag.ErrCancelled, err)
		}
		log.Error("engine", "stage", "error", "code", errorCode(err), "err", err)
		return res, err
	}
	res.Digits = stream

	if store != nil && !cfg.KeepCheckpoint {
		if rerr := store.Remove(); rerr != nil {
			log.Warn("engine", "stage", "cleanup", "err", rerr)
		}
	}

	res.Elapsed = time.Since(start)
	log.Info("engine", "stage", "finish", "dur_ms", res.Elapsed.Milliseconds(), "resumed_from", res.ResumedFrom, "saves", res.Saves.Saved)
	return res, nil
}

// resume loads the checkpoint and decides whether it seeds this run.
func (e *Engine) resume(store *state.Store, ev *series.Evaluator, terms int64, res *Result) (*dag.Seed, error) {
	cfg := e.cfg
	log := e.logger().With("comp", "engine")

	cp, err := store.Load()
	switch {
	case errors.Is(err, state.ErrNotFound):
		return nil, nil
	case err == nil:
		err = state.CheckResumeEligibility(cp, terms)
		if err == nil && cfg.VerifyCheckpoint {
			if verr := cp.VerifyTriple(ev); verr != nil {
				err = &state.CorruptCheckpointError{Path: store.Path(), Cause: verr}
			}
		}
	}

	if err == nil {
		seed, serr := cp.Seed()
		if serr != nil {
			err = &state.CorruptCheckpointError{Path: store.Path(), Cause: serr}
		} else {
			res.ResumedFrom = seed.Range.Hi
			trace.SafeRecord(e.opts.Trace, trace.TraceEvent{Kind: trace.EventResumed, TaskID: seed.Range.String()})
			log.Info("engine", "stage", "resume", "prefix", seed.Range.String(), "saved_at", cp.SavedAt)
			return seed, nil
		}
	}

	if !errors.Is(err, state.ErrCorrupt) && !errors.Is(err, state.ErrIneligible) {
		return nil, err
	}
	if cfg.ResumeOrFail {
		return nil, err
	}
	reason := "Corrupt"
	if errors.Is(err, state.ErrIneligible) {
		reason = "Stale"
	}
	log.Warn("engine", "stage", "discard", "code", reason, "path", store.Path(), "err", err)
	trace.SafeRecord(e.opts.Trace, trace.TraceEvent{Kind: trace.EventCheckpointDiscarded, Reason: reason})
	res.CheckpointDiscarded = true
	if rerr := store.Remove(); rerr != nil {
		log.Warn("engine", "stage", "discard", "err", rerr)
	}
	return nil, nil
}

// reduce evaluates [seedEnd, terms) and returns the triple for [0, terms).
func (e *Engine) reduce(ctx context.Context, store *state.Store, ev *series.Evaluator, seed *dag.Seed, terms int64, res *Result) (series.Triple, state.SaverStats, error) {
	cfg := e.cfg
	var from int64
	if seed != nil {
		from = seed.Range.Hi
	}
	if from == terms {
		res.GraphHash = dag.PlanHash(series.Range{Lo: from, Hi: terms}, cfg.Granularity)
		return seed.Triple, state.SaverStats{}, nil
	}

	g, err := dag.NewTaskGraph(series.Range{Lo: from, Hi: terms}, cfg.Granularity)
	if err != nil {
		return series.Triple{}, state.SaverStats{}, err
	}
	res.GraphHash = g.Hash()

	r := &dag.Reducer{
		Evaluator:      ev,
		Workers:        cfg.Workers,
		InFlightFactor: cfg.InFlightFactor,
		Progress:       e.opts.Progress,
		Trace:          e.opts.Trace,
		Logger:         e.opts.Logger,
	}
	var saver *state.Saver
	if store != nil {
		saver = state.NewSaver(store, ev, cfg.Digits, from)
		saver.Interval = time.Duration(cfg.CheckpointInterval)
		saver.EveryMerges = cfg.CheckpointEveryMerges
		saver.Trace = e.opts.Trace
		saver.Logger = e.opts.Logger
		saver.Now = e.opts.Now
		r.Checkpoints = saver
	}

	gr, err := r.Run(ctx, g, seed)
	var stats state.SaverStats
	if saver != nil {
		saver.Wait()
		stats = saver.Stats()
	}
	if err != nil {
		return series.Triple{}, stats, err
	}
	res.Graph = gr
	return gr.Triple, stats, nil
}

func (e *Engine) recordFailure(store *state.Store, err error) {
	if store == nil {
		return
	}
	rec := &state.FailureRecorder{Store: store}
	if rerr := rec.RecordFailure(err); rerr != nil {
		e.logger().Warn("engine", "stage", "failure_record", "err", rerr)
	}
}

func errorCode(err error) string {
	var tf *dag.TaskFailure
	switch {
	case errors.Is(err, arena.ErrOverflow):
		return "Overflow"
	case errors.Is(err, dag.ErrCancelled):
		return "Cancelled"
	case errors.As(err, &tf):
		return "TaskFailure"
	default:
		return "Internal"
	}
}

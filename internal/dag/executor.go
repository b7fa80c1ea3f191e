package dag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"pidigits/internal/arena"
	"pidigits/internal/series"
	"pidigits/internal/trace"
)

// DefaultInFlightFactor bounds in-flight tasks to this multiple of the pool
// size. Triples grow with their range, so the cap bounds peak memory.
const DefaultInFlightFactor = 2

// Evaluator is the arithmetic the reducer dispatches. *series.Evaluator
// implements it.
type Evaluator interface {
	Range(r series.Range) (series.Triple, error)
	Merge(left, right series.Triple) (series.Triple, error)
}

// ProgressSink receives progress from the goroutine that finished a leaf or
// merge. Implementations must not block; the reducer never waits on them and
// swallows their panics.
type ProgressSink interface {
	OnProgress(completedTerms, totalTerms int64, elapsed time.Duration)
}

// Checkpointer persists completed prefixes.
//
// Offer is called on the coordinator after every completed task. It must not
// block; snapshot may be called at most once, and only before Offer returns.
// Flush is the best-effort final save on cancellation.
type Checkpointer interface {
	Offer(completedMerges int64, snapshot func() Snapshot)
	Flush(snap Snapshot) error
}

// Reducer evaluates a TaskGraph on a fixed worker pool and merges results
// bottom-up. The zero value of every optional field is usable.
type Reducer struct {
	Evaluator Evaluator

	// Workers is the pool size; <= 0 means runtime.GOMAXPROCS(0).
	Workers int
	// InFlightFactor times Workers caps dispatched-but-unfinished tasks;
	// <= 0 means DefaultInFlightFactor.
	InFlightFactor int

	Progress    ProgressSink
	Trace       trace.Sink
	Checkpoints Checkpointer
	Logger      *slog.Logger
}

func (r *Reducer) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (r *Reducer) inFlightCap() int {
	f := r.InFlightFactor
	if f <= 0 {
		f = DefaultInFlightFactor
	}
	return f * r.workers()
}

func (r *Reducer) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type workItem struct {
	id    NodeID
	rng   series.Range
	merge bool
	left  series.Triple
	right series.Triple
}

type workResult struct {
	id     NodeID
	triple series.Triple
	err    error
}

// Run reduces g. When seed is non-nil it must cover exactly [0, start) of
// the graph's range, and the returned triple is Merge(seed, root); otherwise
// the graph must start at 0.
//
// Determinism strategy:
//   - A merge is dispatched only after both children completed.
//   - Operands of every merge are fixed by tree shape, never by completion order.
//
// On ctx cancellation no further task is dispatched, in-flight tasks drain,
// a final checkpoint is attempted and an error matching ErrCancelled is
// returned. The first failing task is returned as a *TaskFailure after
// in-flight tasks drain; no checkpoint is written after it.
func (r *Reducer) Run(ctx context.Context, g *TaskGraph, seed *Seed) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if r.Evaluator == nil {
		return nil, fmt.Errorf("nil evaluator")
	}
	root := g.Range()
	switch {
	case seed == nil && root.Lo != 0:
		return nil, invalidf("graph starts at %d without a seed", root.Lo)
	case seed != nil && (seed.Range.Lo != 0 || seed.Range.Hi != root.Lo):
		return nil, invalidf("seed %s does not precede graph %s", seed.Range, root)
	}

	log := r.logger().With("comp", "reducer")
	start := time.Now()
	workers := r.workers()
	capN := r.inFlightCap()
	log.Debug("reducer", "stage", "start", "range", root.String(), "nodes", g.Len(), "leaves", len(g.leaves), "workers", workers, "in_flight_cap", capN)

	completedTerms := &atomic.Int64{}
	completedTerms.Store(root.Lo)

	workCh := make(chan workItem, capN)
	doneCh := make(chan workResult, capN)

	var wg sync.WaitGroup
	var stopOnce sync.Once
	stopWorkers := func() {
		stopOnce.Do(func() {
			close(workCh)
			wg.Wait()
		})
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				res := r.execute(w)
				if res.err == nil {
					done := completedTerms.Load()
					if !w.merge {
						done = completedTerms.Add(w.rng.Len())
					}
					r.reportProgress(done, root.Hi, time.Since(start))
				}
				doneCh <- res
			}
		}()
	}

	state := NewExecutionState(g)
	results := make([]series.Triple, g.Len())
	sched := NewScheduler(g)
	order := make([]NodeID, 0, g.Len())

	var (
		failure   *TaskFailure
		cancelled bool
		inFlight  int
		leaves    int
		merges    int
	)
	done := ctx.Done()

	for {
		if failure == nil && !cancelled && ctx.Err() != nil {
			cancelled = true
		}
		for failure == nil && !cancelled && inFlight < capN {
			id, ok := sched.Next(state)
			if !ok {
				break
			}
			if err := Transition(state, id, TaskPending, TaskRunning); err != nil {
				stopWorkers()
				return nil, err
			}
			n := g.nodes[id]
			item := workItem{id: id, rng: n.Range}
			if !n.IsLeaf() {
				item.merge = true
				item.left = results[n.Left]
				item.right = results[n.Right]
			}
			order = append(order, id)
			inFlight++
			workCh <- item
		}

		if inFlight == 0 {
			break
		}

		select {
		case <-done:
			cancelled = true
			done = nil
			log.Info("reducer", "stage", "cancel", "in_flight", inFlight)
		case res := <-doneCh:
			inFlight--
			n := g.nodes[res.id]

			if res.err != nil {
				tf := &TaskFailure{Node: res.id, Range: n.Range, Merge: !n.IsLeaf(), Err: res.err}
				trace.SafeRecord(r.Trace, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: n.TaskID(), Reason: failureReason(res.err)})
				skipped, err := FailAndPropagate(g, state, res.id)
				if err != nil {
					stopWorkers()
					return nil, err
				}
				r.recordSkipped(g, skipped, n)
				if failure == nil {
					failure = tf
					log.Error("reducer", "stage", "error", "node", n.TaskID(), "err", res.err)
				}
				continue
			}

			if err := Transition(state, res.id, TaskRunning, TaskCompleted); err != nil {
				stopWorkers()
				return nil, err
			}
			results[res.id] = res.triple
			if n.IsLeaf() {
				leaves++
				trace.SafeRecord(r.Trace, trace.TraceEvent{Kind: trace.EventLeafEvaluated, TaskID: n.TaskID()})
			} else {
				merges++
				results[n.Left] = series.Triple{}
				results[n.Right] = series.Triple{}
				trace.SafeRecord(r.Trace, trace.TraceEvent{Kind: trace.EventNodeMerged, TaskID: n.TaskID()})
			}
			sched.Completed(state, res.id)

			if r.Checkpoints != nil && failure == nil && !cancelled {
				r.Checkpoints.Offer(int64(merges), func() Snapshot {
					return PrefixSnapshot(g, state, results, seed)
				})
			}
		}
	}
	stopWorkers()

	rootDone := state[g.root] == TaskCompleted
	switch {
	case failure != nil:
		for id, st := range state {
			if st == TaskPending {
				state[id] = TaskSkipped
			}
		}
		return nil, failure

	case cancelled && !rootDone:
		cause := ctx.Err()
		if cause == nil {
			cause = context.Canceled
		}
		if r.Checkpoints != nil {
			snap := PrefixSnapshot(g, state, results, seed)
			if err := r.Checkpoints.Flush(snap); err != nil {
				log.Warn("reducer", "stage", "final_save", "err", err)
			}
		}
		log.Info("reducer", "stage", "cancelled", "dur_ms", time.Since(start).Milliseconds(), "leaves", leaves, "merges", merges)
		return nil, fmt.Errorf("%w: %w", ErrCancelled, cause)

	case !rootDone:
		return nil, fmt.Errorf("no ready tasks but graph not finished")
	}

	final := results[g.root]
	full := root
	if seed != nil {
		merged, err := r.Evaluator.Merge(seed.Triple, final)
		if err != nil {
			return nil, &TaskFailure{Node: g.root, Range: series.Range{Lo: 0, Hi: root.Hi}, Merge: true, Err: err}
		}
		final = merged
		full = series.Range{Lo: 0, Hi: root.Hi}
	}

	elapsed := time.Since(start)
	log.Debug("reducer", "stage", "finish", "dur_ms", elapsed.Milliseconds(), "leaves", leaves, "merges", merges)
	return &GraphResult{
		GraphHash:      g.Hash(),
		Triple:         final,
		Range:          full,
		FinalState:     state.Clone(),
		ExecutionOrder: order,
		Leaves:         leaves,
		Merges:         merges,
		Elapsed:        elapsed,
	}, nil
}

func (r *Reducer) execute(w workItem) (res workResult) {
	res.id = w.id
	defer func() {
		if v := recover(); v != nil {
			res.err = &panicError{value: v}
		}
	}()
	if w.merge {
		res.triple, res.err = r.Evaluator.Merge(w.left, w.right)
	} else {
		res.triple, res.err = r.Evaluator.Range(w.rng)
	}
	return res
}

func (r *Reducer) reportProgress(done, total int64, elapsed time.Duration) {
	if r.Progress == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	r.Progress.OnProgress(done, total, elapsed)
}

func (r *Reducer) recordSkipped(g *TaskGraph, skipped []NodeID, cause Node) {
	for _, id := range skipped {
		trace.SafeRecord(r.Trace, trace.TraceEvent{
			Kind:        trace.EventTaskSkipped,
			TaskID:      g.nodes[id].TaskID(),
			Reason:      "UpstreamFailed",
			CauseTaskID: cause.TaskID(),
		})
	}
}

func failureReason(err error) string {
	var pe *panicError
	switch {
	case errors.Is(err, arena.ErrOverflow):
		return "Overflow"
	case errors.As(err, &pe):
		return "Panic"
	default:
		return "Error"
	}
}

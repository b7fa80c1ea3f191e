package dag

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pidigits/internal/arena"
	"pidigits/internal/series"
	"pidigits/internal/trace"
)

// gatedEvaluator wraps a real evaluator with hooks that let tests delay,
// count, and fail individual tasks.
type gatedEvaluator struct {
	inner *series.Evaluator

	ranges  atomic.Int64
	started chan struct{}
	release chan struct{}
	panicAt int64 // leaf containing this term panics; < 0 disables
}

func newGatedEvaluator() *gatedEvaluator {
	return &gatedEvaluator{inner: series.NewEvaluator(arena.DefaultArena()), panicAt: -1}
}

func (e *gatedEvaluator) Range(r series.Range) (series.Triple, error) {
	e.ranges.Add(1)
	if e.started != nil {
		select {
		case e.started <- struct{}{}:
		default:
		}
	}
	if e.release != nil {
		<-e.release
	}
	if e.panicAt >= r.Lo && e.panicAt < r.Hi {
		panic("injected leaf fault")
	}
	runtime.Gosched()
	return e.inner.Range(r)
}

func (e *gatedEvaluator) Merge(left, right series.Triple) (series.Triple, error) {
	return e.inner.Merge(left, right)
}

type recordingProgress struct {
	mu    sync.Mutex
	calls int
	last  int64
	total int64
	max   int64
}

func (p *recordingProgress) OnProgress(done, total int64, _ time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = done
	p.total = total
	if done > p.max {
		p.max = done
	}
}

type panickyProgress struct{}

func (panickyProgress) OnProgress(int64, int64, time.Duration) { panic("sink fault") }

type recordingCheckpointer struct {
	mu        sync.Mutex
	snapshots []Snapshot
	flushed   []Snapshot
}

func (c *recordingCheckpointer) Offer(_ int64, snapshot func() Snapshot) {
	snap := snapshot()
	c.mu.Lock()
	c.snapshots = append(c.snapshots, snap)
	c.mu.Unlock()
}

func (c *recordingCheckpointer) Flush(snap Snapshot) error {
	c.mu.Lock()
	c.flushed = append(c.flushed, snap)
	c.mu.Unlock()
	return nil
}

func directTriple(t *testing.T, r series.Range) series.Triple {
	t.Helper()
	want, err := series.NewEvaluator(arena.DefaultArena()).Range(r)
	if err != nil {
		t.Fatalf("direct evaluation: %v", err)
	}
	return want
}

func TestReducer_PoolSizesProduceIdenticalTriples(t *testing.T) {
	g, err := NewTaskGraph(series.Range{Lo: 0, Hi: 200}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := directTriple(t, series.Range{Lo: 0, Hi: 200})

	for _, workers := range []int{1, 2, 8} {
		r := &Reducer{Evaluator: newGatedEvaluator(), Workers: workers}
		res, err := r.Run(context.Background(), g, nil)
		if err != nil {
			t.Fatalf("workers=%d unexpected error: %v", workers, err)
		}
		if !res.Triple.Equal(want) {
			t.Fatalf("workers=%d: reduced triple differs from direct evaluation", workers)
		}
		if res.Leaves != len(g.Leaves()) || res.Leaves+res.Merges != g.Len() {
			t.Fatalf("workers=%d: leaves=%d merges=%d nodes=%d", workers, res.Leaves, res.Merges, g.Len())
		}
		if res.FinalState.Count(TaskCompleted) != g.Len() {
			t.Fatalf("workers=%d: not every node completed: %v", workers, res.FinalState)
		}
		if len(res.ExecutionOrder) != g.Len() || res.GraphHash != g.Hash() {
			t.Fatalf("workers=%d: unexpected result metadata", workers)
		}
	}
}

func TestReducer_ContinuesFromSeed(t *testing.T) {
	seedRange := series.Range{Lo: 0, Hi: 57}
	g, err := NewTaskGraph(series.Range{Lo: 57, Hi: 150}, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seed := &Seed{Range: seedRange, Triple: directTriple(t, seedRange)}

	r := &Reducer{Evaluator: newGatedEvaluator(), Workers: 4}
	res, err := r.Run(context.Background(), g, seed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Range != (series.Range{Lo: 0, Hi: 150}) {
		t.Fatalf("unexpected result range %s", res.Range)
	}
	if !res.Triple.Equal(directTriple(t, series.Range{Lo: 0, Hi: 150})) {
		t.Fatalf("seeded reduction differs from uninterrupted evaluation")
	}
}

func TestReducer_RejectsMisalignedSeed(t *testing.T) {
	g, _ := NewTaskGraph(series.Range{Lo: 10, Hi: 20}, 4)
	r := &Reducer{Evaluator: newGatedEvaluator()}

	if _, err := r.Run(context.Background(), g, nil); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph without seed, got %v", err)
	}
	seed := &Seed{Range: series.Range{Lo: 0, Hi: 9}}
	if _, err := r.Run(context.Background(), g, seed); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph for gap, got %v", err)
	}
}

func TestReducer_ReportsProgress(t *testing.T) {
	g, _ := NewTaskGraph(series.Range{Lo: 0, Hi: 64}, 4)
	p := &recordingProgress{}
	r := &Reducer{Evaluator: newGatedEvaluator(), Workers: 3, Progress: p}
	if _, err := r.Run(context.Background(), g, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls != g.Len() {
		t.Fatalf("expected one callback per task (%d), got %d", g.Len(), p.calls)
	}
	if p.max != 64 || p.total != 64 {
		t.Fatalf("expected completion 64/64, got max=%d total=%d", p.max, p.total)
	}

	r.Progress = panickyProgress{}
	if _, err := r.Run(context.Background(), g, nil); err != nil {
		t.Fatalf("panicking progress sink must not fail the run: %v", err)
	}
}

func TestReducer_OfferedSnapshotsAreValidPrefixes(t *testing.T) {
	g, _ := NewTaskGraph(series.Range{Lo: 0, Hi: 90}, 5)
	cp := &recordingCheckpointer{}
	r := &Reducer{Evaluator: newGatedEvaluator(), Workers: 4, Checkpoints: cp}
	if _, err := r.Run(context.Background(), g, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cp.snapshots) != g.Len() {
		t.Fatalf("expected an offer per completed task, got %d", len(cp.snapshots))
	}

	ev := series.NewEvaluator(arena.DefaultArena())
	for i, snap := range cp.snapshots {
		if snap.Empty() {
			continue
		}
		next := int64(0)
		for _, rg := range snap.Ranges {
			if rg.Lo != next {
				t.Fatalf("snapshot %d: range %s does not continue at %d", i, rg, next)
			}
			next = rg.Hi
		}
		merged, err := ev.MergeAll(snap.Parts)
		if err != nil {
			t.Fatalf("snapshot %d: %v", i, err)
		}
		if !merged.Equal(directTriple(t, series.Range{Lo: 0, Hi: snap.End()})) {
			t.Fatalf("snapshot %d: parts do not reduce to the prefix [0,%d)", i, snap.End())
		}
	}
	if last := cp.snapshots[len(cp.snapshots)-1]; last.End() != 90 {
		t.Fatalf("final offer should cover the whole range, got end %d", last.End())
	}
	if len(cp.flushed) != 0 {
		t.Fatalf("flush is reserved for cancellation")
	}
}

func TestReducer_LeafPanicBecomesTaskFailure(t *testing.T) {
	g, _ := NewTaskGraph(series.Range{Lo: 0, Hi: 80}, 4)
	ev := newGatedEvaluator()
	ev.panicAt = 41
	rec := trace.NewRecorder()
	cp := &recordingCheckpointer{}

	r := &Reducer{Evaluator: ev, Workers: 2, Trace: rec, Checkpoints: cp}
	res, err := r.Run(context.Background(), g, nil)
	if res != nil {
		t.Fatalf("partial result must not be returned")
	}
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}
	var tf *TaskFailure
	if !errors.As(err, &tf) {
		t.Fatalf("expected *TaskFailure, got %T", err)
	}
	if tf.Merge || tf.Range.Lo > 41 || tf.Range.Hi <= 41 {
		t.Fatalf("unexpected failure detail: %+v", tf)
	}

	tr := rec.Trace(string(g.Hash()))
	if tr.Count(trace.EventTaskFailed) != 1 {
		t.Fatalf("expected exactly one failure event, got %d", tr.Count(trace.EventTaskFailed))
	}
	if tr.Count(trace.EventTaskSkipped) == 0 {
		t.Fatalf("expected skipped ancestors in trace")
	}
	if len(cp.flushed) != 0 {
		t.Fatalf("no final save after a task failure")
	}
}

func TestReducer_OverflowSurfacesThroughTaskFailure(t *testing.T) {
	g, _ := NewTaskGraph(series.Range{Lo: 0, Hi: 300}, 8)
	r := &Reducer{Evaluator: series.NewEvaluator(arena.Arena{MaxLimbs: 64}), Workers: 4}

	_, err := r.Run(context.Background(), g, nil)
	var oe *arena.OverflowError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *arena.OverflowError in chain, got %v", err)
	}
	var tf *TaskFailure
	if !errors.As(err, &tf) {
		t.Fatalf("expected *TaskFailure, got %T", err)
	}
}

func TestReducer_CancellationStopsDispatchAndFlushes(t *testing.T) {
	g, _ := NewTaskGraph(series.Range{Lo: 0, Hi: 400}, 2)
	ev := newGatedEvaluator()
	ev.started = make(chan struct{}, 1)
	ev.release = make(chan struct{})
	cp := &recordingCheckpointer{}

	const workers = 2
	r := &Reducer{Evaluator: ev, Workers: workers, Checkpoints: cp}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, g, nil)
		errCh <- err
	}()

	<-ev.started
	cancel()
	close(ev.release)

	var err error
	select {
	case err = <-errCh:
	case <-time.After(10 * time.Second):
		t.Fatalf("reducer did not return after cancellation")
	}

	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrCancelled wrapping context.Canceled, got %v", err)
	}
	if got := ev.ranges.Load(); got > int64(workers*DefaultInFlightFactor) {
		t.Fatalf("dispatched %d leaves after cancellation, cap is %d", got, workers*DefaultInFlightFactor)
	}
	if len(cp.flushed) != 1 {
		t.Fatalf("expected one final flush, got %d", len(cp.flushed))
	}
	if end := cp.flushed[0].End(); end > 400 {
		t.Fatalf("flushed snapshot beyond graph: %d", end)
	}
}

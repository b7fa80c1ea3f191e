package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pidigits/internal/arena"
	"pidigits/internal/dag"
	"pidigits/internal/digits"
	"pidigits/internal/recovery/state"
	"pidigits/internal/series"
	"pidigits/internal/trace"
)

const pi50 = "3.14159265358979323846264338327950288419716939937510"

func testConfig(n int64) Config {
	cfg := Defaults()
	cfg.Digits = n
	cfg.Granularity = 1
	return cfg
}

func compute(t *testing.T, cfg Config, opts Options) (*Result, string) {
	t.Helper()
	eng, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := eng.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	out, err := digits.Collect(res.Digits)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return res, out
}

func writeCheckpoint(t *testing.T, path string, target int64, prefix series.Range) state.Checkpoint {
	t.Helper()
	tr, err := series.NewEvaluator(arena.DefaultArena()).Range(prefix)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	store, err := state.NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	cp := state.NewCheckpoint(target, []series.Range{prefix}, tr, time.Unix(1700000000, 0))
	if err := store.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return cp
}

func TestCompute_KnownAnswerAcrossPoolSizes(t *testing.T) {
	for _, workers := range []int{1, 2, 8} {
		cfg := testConfig(50)
		cfg.Workers = workers
		res, got := compute(t, cfg, Options{})
		if got != pi50 {
			t.Fatalf("workers=%d: got %s", workers, got)
		}
		if res.Terms != series.TermCount(60, series.DefaultTermGuard) || res.Precision != 60 {
			t.Fatalf("workers=%d: terms=%d precision=%d", workers, res.Terms, res.Precision)
		}
		if res.Graph == nil || res.Graph.Leaves != int(res.Terms) {
			t.Fatalf("workers=%d: expected one leaf per term", workers)
		}
	}
}

func TestCompute_LongerRunsAgreeOnCommonPrefix(t *testing.T) {
	_, short := compute(t, testConfig(120), Options{})
	cfg := testConfig(400)
	cfg.Granularity = 4
	cfg.Workers = 8
	_, long := compute(t, cfg, Options{})
	if !digits.VerifyPrefix(long, short) || len(long) != 402 {
		t.Fatalf("400-digit run disagrees with 120-digit run")
	}
}

func TestNew_RejectsInvalidArguments(t *testing.T) {
	cases := map[string]func(*Config){
		"zero":          func(c *Config) { c.Digits = 0 },
		"negative":      func(c *Config) { c.Digits = -5 },
		"above-ceiling": func(c *Config) { c.Digits = 11; c.MaxDigits = 10 },
		"granularity":   func(c *Config) { c.Granularity = 0 },
		"resume-no-path": func(c *Config) {
			c.ResumeOrFail = true
		},
	}
	for name, mutate := range cases {
		cfg := testConfig(50)
		mutate(&cfg)
		_, err := New(cfg, Options{})
		var iae *InvalidArgumentError
		if !errors.Is(err, ErrInvalidArgument) || !errors.As(err, &iae) {
			t.Fatalf("%s: expected *InvalidArgumentError, got %v", name, err)
		}
	}
}

func TestCompute_ResumeMatchesUninterruptedRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pi.ckpt")
	writeCheckpoint(t, path, 50, series.Range{Lo: 0, Hi: 4})

	rec := trace.NewRecorder()
	cfg := testConfig(50)
	cfg.CheckpointPath = path
	cfg.VerifyCheckpoint = true
	res, got := compute(t, cfg, Options{Trace: rec})
	if got != pi50 {
		t.Fatalf("resumed run: got %s", got)
	}
	if res.ResumedFrom != 4 || res.CheckpointDiscarded {
		t.Fatalf("expected resume from term 4, got %+v", res)
	}
	if res.Graph.Leaves != int(res.Terms)-4 {
		t.Fatalf("resumed run re-evaluated the prefix: %d leaves", res.Graph.Leaves)
	}
	if rec.Trace("").Count(trace.EventResumed) != 1 {
		t.Fatalf("expected a resume event")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("checkpoint should be removed after output, got %v", err)
	}
}

func TestCompute_ResumeFromCompletePrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pi.ckpt")
	cfg := testConfig(50)
	cfg.CheckpointPath = path
	writeCheckpoint(t, path, 50, series.Range{Lo: 0, Hi: cfg.Terms()})

	res, got := compute(t, cfg, Options{})
	if got != pi50 || res.Graph != nil || res.ResumedFrom != cfg.Terms() {
		t.Fatalf("complete prefix should skip the reducer: %s %+v", got, res)
	}
	want := dag.PlanHash(series.Range{Lo: cfg.Terms(), Hi: cfg.Terms()}, cfg.Granularity)
	if res.GraphHash == "" || res.GraphHash != want {
		t.Fatalf("graph hash = %q, want %q", res.GraphHash, want)
	}
}

type cancelAfterFirst struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (c *cancelAfterFirst) OnProgress(int64, int64, time.Duration) { c.once.Do(c.cancel) }

func TestCompute_CancelThenResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pi.ckpt")
	cfg := testConfig(50)
	cfg.CheckpointPath = path
	cfg.Workers = 1
	cfg.InFlightFactor = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng, err := New(cfg, Options{Progress: &cancelAfterFirst{cancel: cancel}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = eng.Compute(ctx)
	if !errors.Is(err, dag.ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	store, _ := state.NewStore(path)
	cp, err := store.Load()
	if err != nil {
		t.Fatalf("cancelled run should leave a valid checkpoint: %v", err)
	}
	if cp.End() < 1 || cp.End() >= cfg.Terms() {
		t.Fatalf("unexpected checkpoint prefix end %d", cp.End())
	}
	f, err := store.LoadFailure()
	if err != nil || f.FailureClass != state.FailureClassCancelled || !f.Resumable {
		t.Fatalf("expected resumable cancellation record, got %+v, %v", f, err)
	}

	cfg.Workers = 4
	res, got := compute(t, cfg, Options{})
	if got != pi50 {
		t.Fatalf("resumed run: got %s", got)
	}
	if res.ResumedFrom != cp.End() {
		t.Fatalf("resumed from %d, checkpoint ended at %d", res.ResumedFrom, cp.End())
	}
}

func TestCompute_CancelledBeforeStart(t *testing.T) {
	eng, err := New(testConfig(50), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := eng.Compute(ctx)
	if !errors.Is(err, dag.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	cfg := eng.Config()
	want := dag.PlanHash(series.Range{Lo: 0, Hi: cfg.Terms()}, cfg.Granularity)
	if res == nil || res.Digits != nil || res.GraphHash != want {
		t.Fatalf("expected a partial result naming the planned graph, got %+v", res)
	}
}

func TestCompute_CorruptCheckpointRestartsFromZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pi.ckpt")
	tr, err := series.NewEvaluator(arena.DefaultArena()).Range(series.Range{Lo: 0, Hi: 15})
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	// Everything but the overlap is consistent, including the digest.
	cp := state.NewCheckpoint(50, []series.Range{{Lo: 0, Hi: 15}}, tr, time.Unix(1700000000, 0))
	cp.CompletedRanges = []series.Range{{Lo: 0, Hi: 10}, {Lo: 5, Hi: 15}}
	cp.Digest = cp.ComputeDigest()
	body, err := json.Marshal(cp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := testConfig(50)
	cfg.CheckpointPath = path
	strict := cfg
	strict.ResumeOrFail = true
	eng, err := New(strict, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = eng.Compute(context.Background())
	if !errors.Is(err, state.ErrCorrupt) || !strings.Contains(err.Error(), "overlaps") {
		t.Fatalf("resume-or-fail: expected an overlap ErrCorrupt, got %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("resume-or-fail must leave the file alone: %v", err)
	}

	rec := trace.NewRecorder()
	res, got := compute(t, cfg, Options{Trace: rec})
	if got != pi50 {
		t.Fatalf("restarted run: got %s", got)
	}
	if !res.CheckpointDiscarded || res.ResumedFrom != 0 {
		t.Fatalf("expected discard and restart, got %+v", res)
	}
	events := rec.Trace("")
	if events.Count(trace.EventCheckpointDiscarded) != 1 || events.Count(trace.EventResumed) != 0 {
		t.Fatalf("unexpected checkpoint events: %+v", events.Events)
	}
}

func TestCompute_StaleCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pi.ckpt")
	cfg := testConfig(50)
	cfg.CheckpointPath = path
	writeCheckpoint(t, path, 500, series.Range{Lo: 0, Hi: cfg.Terms() + 3})

	strict := cfg
	strict.ResumeOrFail = true
	eng, _ := New(strict, Options{})
	if _, err := eng.Compute(context.Background()); !errors.Is(err, state.ErrIneligible) {
		t.Fatalf("expected ErrIneligible, got %v", err)
	}

	res, got := compute(t, cfg, Options{})
	if got != pi50 || !res.CheckpointDiscarded {
		t.Fatalf("stale checkpoint should be discarded: %s %+v", got, res)
	}
}

func TestCompute_ForgedTripleFailsVerification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pi.ckpt")
	cp := writeCheckpoint(t, path, 50, series.Range{Lo: 0, Hi: 3})
	other, err := series.NewEvaluator(arena.DefaultArena()).Range(series.Range{Lo: 0, Hi: 4})
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	cp.PartialT = other.T.String()
	cp.Digest = cp.ComputeDigest()
	store, _ := state.NewStore(path)
	if err := store.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cfg := testConfig(50)
	cfg.CheckpointPath = path
	cfg.VerifyCheckpoint = true
	res, got := compute(t, cfg, Options{})
	if got != pi50 || !res.CheckpointDiscarded || res.ResumedFrom != 0 {
		t.Fatalf("forged checkpoint must be discarded: %s %+v", got, res)
	}
}

func TestCompute_KeepCheckpointAndCadence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pi.ckpt")
	cfg := testConfig(50)
	cfg.CheckpointPath = path
	cfg.CheckpointEveryMerges = 1
	cfg.KeepCheckpoint = true
	cfg.Workers = 2

	res, got := compute(t, cfg, Options{})
	if got != pi50 {
		t.Fatalf("got %s", got)
	}
	if res.Saves.Saved == 0 {
		t.Fatalf("expected periodic saves, got %+v", res.Saves)
	}
	store, _ := state.NewStore(path)
	cp, err := store.Load()
	if err != nil {
		t.Fatalf("kept checkpoint unreadable: %v", err)
	}
	if err := cp.VerifyTriple(series.NewEvaluator(arena.DefaultArena())); err != nil {
		t.Fatalf("kept checkpoint inconsistent: %v", err)
	}
}

func TestCompute_OverflowIsFatalAndRecorded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pi.ckpt")
	cfg := testConfig(2000)
	cfg.CheckpointPath = path
	cfg.MaxLimbs = 64

	eng, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := eng.Compute(context.Background())
	var oe *arena.OverflowError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *arena.OverflowError, got %v", err)
	}
	if res == nil || res.GraphHash == "" || res.Digits != nil {
		t.Fatalf("expected a partial result with a graph hash, got %+v", res)
	}

	store, _ := state.NewStore(path)
	if _, err := store.Load(); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("no checkpoint may be written after overflow, got %v", err)
	}
	f, err := store.LoadFailure()
	if err != nil || f.FailureClass != state.FailureClassOverflow || f.Resumable {
		t.Fatalf("expected non-resumable overflow record, got %+v, %v", f, err)
	}
}

package state

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pidigits/internal/dag"
	"pidigits/internal/series"
	"pidigits/internal/trace"
)

// DefaultSaveInterval is the wall-clock save cadence.
const DefaultSaveInterval = 30 * time.Second

// Saver turns reducer snapshots into checkpoints on a bounded cadence. It
// implements dag.Checkpointer.
//
// At most one save runs at a time. A due request that arrives while a save
// is in flight is dropped, not queued. A failed save is logged and the next
// due request retries it.
type Saver struct {
	Store     *Store
	Evaluator *series.Evaluator
	Target    int64

	// Interval triggers a save once this much time passed since the last
	// one started; <= 0 disables the clock trigger.
	Interval time.Duration
	// EveryMerges triggers a save after this many merges; <= 0 disables it.
	EveryMerges int64

	Trace  trace.Sink
	Logger *slog.Logger
	Now    func() time.Time

	// Coordinator-owned cadence state.
	lastStart  time.Time
	lastMerges int64

	busy atomic.Bool
	wg   sync.WaitGroup

	mu      sync.Mutex
	lastEnd int64

	saved   atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

var _ dag.Checkpointer = (*Saver)(nil)

// SaverStats counts save outcomes.
type SaverStats struct {
	Saved   int64
	Dropped int64
	Failed  int64
}

// NewSaver returns a saver whose clock starts now. resumedEnd is the end of
// the prefix the run was seeded from, so an unchanged prefix is never
// rewritten.
func NewSaver(store *Store, ev *series.Evaluator, target int64, resumedEnd int64) *Saver {
	s := &Saver{
		Store:     store,
		Evaluator: ev,
		Target:    target,
		Interval:  DefaultSaveInterval,
		lastEnd:   resumedEnd,
	}
	s.lastStart = s.now()
	return s
}

func (s *Saver) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Saver) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *Saver) due(now time.Time, merges int64) bool {
	if s.Interval > 0 && now.Sub(s.lastStart) >= s.Interval {
		return true
	}
	return s.EveryMerges > 0 && merges-s.lastMerges >= s.EveryMerges
}

// Offer implements dag.Checkpointer. It never blocks: the prefix merge and
// the file write run on a separate goroutine.
func (s *Saver) Offer(completedMerges int64, snapshot func() dag.Snapshot) {
	now := s.now()
	if !s.due(now, completedMerges) {
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.dropped.Add(1)
		trace.SafeRecord(s.Trace, trace.TraceEvent{Kind: trace.EventCheckpointSkipped, Reason: "SaveInFlight"})
		return
	}

	snap := snapshot()
	if snap.Empty() || snap.End() <= s.savedEnd() {
		s.busy.Store(false)
		return
	}
	s.lastStart = now
	s.lastMerges = completedMerges

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		_ = s.save(snap)
	}()
}

// Flush waits for any in-flight save and then writes snap synchronously,
// unless it covers nothing new.
func (s *Saver) Flush(snap dag.Snapshot) error {
	s.wg.Wait()
	if snap.Empty() || snap.End() <= s.savedEnd() {
		return nil
	}
	return s.save(snap)
}

// Wait blocks until no save is in flight.
func (s *Saver) Wait() { s.wg.Wait() }

func (s *Saver) Stats() SaverStats {
	return SaverStats{Saved: s.saved.Load(), Dropped: s.dropped.Load(), Failed: s.failed.Load()}
}

func (s *Saver) savedEnd() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEnd
}

func (s *Saver) save(snap dag.Snapshot) error {
	log := s.logger().With("comp", "checkpoint")
	start := time.Now()
	prefix := series.Range{Lo: 0, Hi: snap.End()}

	err := s.write(snap)
	if err != nil {
		s.failed.Add(1)
		trace.SafeRecord(s.Trace, trace.TraceEvent{Kind: trace.EventCheckpointFailed, TaskID: prefix.String()})
		log.Warn("checkpoint", "stage", "error", "prefix", prefix.String(), "err", err)
		return err
	}

	s.mu.Lock()
	if snap.End() > s.lastEnd {
		s.lastEnd = snap.End()
	}
	s.mu.Unlock()
	s.saved.Add(1)
	trace.SafeRecord(s.Trace, trace.TraceEvent{Kind: trace.EventCheckpointSaved, TaskID: prefix.String()})
	log.Debug("checkpoint", "stage", "finish", "prefix", prefix.String(), "parts", len(snap.Parts), "dur_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *Saver) write(snap dag.Snapshot) error {
	if s.Store == nil || s.Evaluator == nil {
		return errors.New("saver needs a store and an evaluator")
	}
	t, err := s.Evaluator.MergeAll(snap.Parts)
	if err != nil {
		return err
	}
	return s.Store.Save(NewCheckpoint(s.Target, snap.Ranges, t, s.now()))
}

package dag

import (
	"reflect"
	"testing"

	"pidigits/internal/arena"
	"pidigits/internal/series"
)

func TestScheduler_ReadyTasks_MergesBeforeLeaves(t *testing.T) {
	g := fourLeafGraph(t)
	state := NewExecutionState(g)

	if got := GetReadyTasks(g, state); !reflect.DeepEqual(got, []NodeID{3, 4, 5, 6}) {
		t.Fatalf("initial ready list mismatch: %v", got)
	}

	state[3] = TaskCompleted
	state[4] = TaskCompleted
	if got := GetReadyTasks(g, state); !reflect.DeepEqual(got, []NodeID{1, 5, 6}) {
		t.Fatalf("ready list mismatch: %v", got)
	}

	state[5] = TaskRunning
	if got := GetReadyTasks(g, state); !reflect.DeepEqual(got, []NodeID{1, 6}) {
		t.Fatalf("running nodes must not be ready: %v", got)
	}
}

func TestScheduler_IncrementalAgreesWithPureScan(t *testing.T) {
	g, err := NewTaskGraph(series.Range{Lo: 0, Hi: 37}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := NewExecutionState(g)
	sched := NewScheduler(g)

	steps := 0
	for {
		want := GetReadyTasks(g, state)
		id, ok := sched.Next(state)
		if len(want) == 0 {
			if ok {
				t.Fatalf("scheduler returned %d but nothing is ready", id)
			}
			break
		}
		if !ok || id != want[0] {
			t.Fatalf("step %d: scheduler chose %d, pure scan chose %v", steps, id, want)
		}
		if err := Transition(state, id, TaskPending, TaskRunning); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := Transition(state, id, TaskRunning, TaskCompleted); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sched.Completed(state, id)
		steps++
	}

	if steps != g.Len() {
		t.Fatalf("expected %d dispatches, got %d", g.Len(), steps)
	}
	if state[g.Root()] != TaskCompleted {
		t.Fatalf("root not completed")
	}
}

func TestPrefixSnapshot_MaximalCompletedPrefix(t *testing.T) {
	g := fourLeafGraph(t)
	state := NewExecutionState(g)
	results := make([]series.Triple, g.Len())
	for i := range results {
		v := arena.NewInt(int64(i + 1))
		results[i] = series.Triple{P: v, Q: v, T: v}
	}

	if snap := PrefixSnapshot(g, state, results, nil); !snap.Empty() || snap.End() != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Ranges)
	}

	state[3] = TaskCompleted
	state[4] = TaskCompleted
	state[6] = TaskCompleted
	snap := PrefixSnapshot(g, state, results, nil)
	if want := []series.Range{{Lo: 0, Hi: 1}, {Lo: 1, Hi: 2}}; !reflect.DeepEqual(snap.Ranges, want) {
		t.Fatalf("ranges mismatch: got %v want %v", snap.Ranges, want)
	}

	state[1] = TaskCompleted
	state[5] = TaskCompleted
	snap = PrefixSnapshot(g, state, results, nil)
	if want := []series.Range{{Lo: 0, Hi: 2}, {Lo: 2, Hi: 3}, {Lo: 3, Hi: 4}}; !reflect.DeepEqual(snap.Ranges, want) {
		t.Fatalf("ranges mismatch: got %v want %v", snap.Ranges, want)
	}
	if !snap.Parts[0].Equal(results[1]) || snap.End() != 4 {
		t.Fatalf("unexpected parts or end %d", snap.End())
	}
}

func TestPrefixSnapshot_StartsWithSeed(t *testing.T) {
	g, err := NewTaskGraph(series.Range{Lo: 10, Hi: 14}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := NewExecutionState(g)
	results := make([]series.Triple, g.Len())
	seed := &Seed{Range: series.Range{Lo: 0, Hi: 10}}

	snap := PrefixSnapshot(g, state, results, seed)
	if want := []series.Range{{Lo: 0, Hi: 10}}; !reflect.DeepEqual(snap.Ranges, want) {
		t.Fatalf("ranges mismatch: got %v", snap.Ranges)
	}

	state[g.Root()] = TaskCompleted
	snap = PrefixSnapshot(g, state, results, seed)
	if snap.End() != 14 || len(snap.Parts) != 2 {
		t.Fatalf("unexpected snapshot %v", snap.Ranges)
	}
}

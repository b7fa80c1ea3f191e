package trace

import (
	"bytes"
	"sync"
	"testing"
)

func TestCanonicalTraceStability_ByteForByte(t *testing.T) {
	trace1 := ExecutionTrace{
		GraphHash: "graph-abc",
		Events: []TraceEvent{
			{Kind: EventNodeMerged, TaskID: "[0,32)"},
			{Kind: EventLeafEvaluated, TaskID: "[0,16)"},
			{Kind: EventTaskSkipped, TaskID: "[16,32)", Reason: "UpstreamFailed", CauseTaskID: "[0,16)"},
		},
	}

	trace2 := ExecutionTrace{
		GraphHash: "graph-abc",
		Events: []TraceEvent{
			{Kind: EventTaskSkipped, TaskID: "[16,32)", CauseTaskID: "[0,16)", Reason: "UpstreamFailed"},
			{Kind: EventLeafEvaluated, TaskID: "[0,16)"},
			{Kind: EventNodeMerged, TaskID: "[0,32)"},
		},
	}

	b1, err := trace1.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (1): %v", err)
	}
	b2, err := trace2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (2): %v", err)
	}

	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected identical bytes\n1=%s\n2=%s", string(b1), string(b2))
	}
}

func TestCanonicalOrdering_SortsByTaskIDThenKind(t *testing.T) {
	tr := ExecutionTrace{
		GraphHash: "g",
		Events: []TraceEvent{
			{Kind: EventNodeMerged, TaskID: "[1,2)"},
			{Kind: EventTaskFailed, TaskID: "[0,1)", Reason: "Overflow"},
			{Kind: EventLeafEvaluated, TaskID: "[0,1)"},
		},
	}
	b, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected := `{"graphHash":"g","events":[{"kind":"LeafEvaluated","taskId":"[0,1)"},{"kind":"TaskFailed","taskId":"[0,1)","reason":"Overflow"},{"kind":"NodeMerged","taskId":"[1,2)"}]}`
	if string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, string(b))
	}
}

func TestHash_IgnoresInsertionOrder(t *testing.T) {
	tr1 := ExecutionTrace{
		GraphHash: "g",
		Events: []TraceEvent{
			{Kind: EventLeafEvaluated, TaskID: "[2,4)"},
			{Kind: EventLeafEvaluated, TaskID: "[0,2)"},
		},
	}
	tr2 := ExecutionTrace{
		GraphHash: "g",
		Events: []TraceEvent{
			{Kind: EventLeafEvaluated, TaskID: "[0,2)"},
			{Kind: EventLeafEvaluated, TaskID: "[2,4)"},
		},
	}

	h1, err := tr1.Hash()
	if err != nil {
		t.Fatalf("hash (1): %v", err)
	}
	h2, err := tr2.Hash()
	if err != nil {
		t.Fatalf("hash (2): %v", err)
	}
	if h1 != h2 || len(h1) != 64 {
		t.Fatalf("expected equal 64-char hashes, got %q and %q", h1, h2)
	}
}

func TestValidate_RequiresTaskIDForNodeEvents(t *testing.T) {
	bad := ExecutionTrace{GraphHash: "g", Events: []TraceEvent{{Kind: EventNodeMerged}}}
	if _, err := bad.CanonicalJSON(); err == nil {
		t.Fatalf("expected validation error")
	}

	ok := ExecutionTrace{GraphHash: "g", Events: []TraceEvent{{Kind: EventCheckpointDiscarded, Reason: "Corrupt"}}}
	if _, err := ok.CanonicalJSON(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := (ExecutionTrace{}).CanonicalJSON(); err == nil {
		t.Fatalf("expected error for missing graph hash")
	}
}

func TestWithout_DropsTimingDependentEvents(t *testing.T) {
	tr := ExecutionTrace{
		GraphHash: "g",
		Events: []TraceEvent{
			{Kind: EventLeafEvaluated, TaskID: "[0,1)"},
			{Kind: EventCheckpointSaved, TaskID: "[0,1)"},
			{Kind: EventCheckpointSkipped, TaskID: "[0,1)"},
		},
	}
	got := tr.Without(EventCheckpointSaved, EventCheckpointSkipped)
	if len(got.Events) != 1 || got.Events[0].Kind != EventLeafEvaluated {
		t.Fatalf("unexpected events: %+v", got.Events)
	}
	if tr.Count(EventCheckpointSaved) != 1 {
		t.Fatalf("original trace was modified")
	}
}

type panickySink struct{}

func (panickySink) Record(TraceEvent) { panic("boom") }

func TestSafeRecord_SwallowsPanics(t *testing.T) {
	SafeRecord(panickySink{}, TraceEvent{Kind: EventLeafEvaluated, TaskID: "[0,1)"})
	SafeRecord(nil, TraceEvent{Kind: EventLeafEvaluated, TaskID: "[0,1)"})
}

func TestRecorder_ConcurrentRecord(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Record(TraceEvent{Kind: EventLeafEvaluated, TaskID: "[0,1)"})
			}
		}()
	}
	wg.Wait()

	tr := r.Trace("g")
	if tr.Count(EventLeafEvaluated) != 400 {
		t.Fatalf("expected 400 events, got %d", tr.Count(EventLeafEvaluated))
	}
}

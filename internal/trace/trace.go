package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the canonical record of a reduction.
//
// Invariants:
//   - Must capture GraphHash and an ordered list of events.
//   - Must contain logical transitions/decisions, not runtime-dependent details.
//   - Must not include timestamps, pointers, or any runtime-dependent values.
//
// GraphHash is a string to avoid coupling this package to the task graph.
//
// Canonical representation:
//   - Events are sorted via Canonicalize() using a fully-specified ordering.
//   - JSON serialization uses a custom marshaler to fix field order and omit absent optional fields.
//
// Node events are identical for every worker count. Checkpoint events depend
// on wall-clock cadence; use Without to compare traces across runs.
type ExecutionTrace struct {
	GraphHash string
	Events    []TraceEvent
}

// TraceEventKind is the stable, canonical discriminator for TraceEvent.
// The string values are part of the trace's canonical bytes; do not rename.
type TraceEventKind string

const (
	EventResumed             TraceEventKind = "Resumed"
	EventCheckpointDiscarded TraceEventKind = "CheckpointDiscarded"
	EventLeafEvaluated       TraceEventKind = "LeafEvaluated"
	EventNodeMerged          TraceEventKind = "NodeMerged"
	EventTaskFailed          TraceEventKind = "TaskFailed"
	EventTaskSkipped         TraceEventKind = "TaskSkipped"
	EventCheckpointSaved     TraceEventKind = "CheckpointSaved"
	EventCheckpointSkipped   TraceEventKind = "CheckpointSkipped"
	EventCheckpointFailed    TraceEventKind = "CheckpointFailed"
)

// TraceEvent is a single logical transition/decision.
//
// Determinism constraints:
//   - No timestamps.
//   - No error strings / stack traces.
//   - No fields derived from pointer identity or map iteration.
type TraceEvent struct {
	Kind TraceEventKind

	// TaskID identifies the term range this event refers to, e.g. "[0,16)".
	// Required for node events.
	TaskID string

	// Reason is a stable, logical reason code (e.g. "Overflow", "UpstreamFailed").
	Reason string

	// CauseTaskID records a related node (e.g. the failing node causing a skip).
	CauseTaskID string
}

// Validate checks basic invariants and returns a descriptive error.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i := range t.Events {
		e := t.Events[i]
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if isNodeEvent(e.Kind) && e.TaskID == "" {
			return fmt.Errorf("events[%d].taskId is required for kind %q", i, e.Kind)
		}
	}
	return nil
}

func isNodeEvent(kind TraceEventKind) bool {
	switch kind {
	case EventLeafEvaluated, EventNodeMerged, EventTaskFailed, EventTaskSkipped:
		return true
	default:
		return false
	}
}

// Canonicalize sorts the trace into its canonical form.
//
// Ordering is independent of execution timing or concurrency: events are
// stably sorted by (taskId, kindOrder, reason, causeTaskId).
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	sort.SliceStable(t.Events, func(i, j int) bool {
		a := t.Events[i]
		b := t.Events[j]

		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return a.CauseTaskID < b.CauseTaskID
	})
}

func kindOrder(k TraceEventKind) int {
	switch k {
	case EventResumed:
		return 10
	case EventCheckpointDiscarded:
		return 20
	case EventLeafEvaluated:
		return 30
	case EventNodeMerged:
		return 40
	case EventTaskFailed:
		return 50
	case EventTaskSkipped:
		return 60
	case EventCheckpointSaved:
		return 70
	case EventCheckpointSkipped:
		return 80
	case EventCheckpointFailed:
		return 90
	default:
		return 1000
	}
}

// Without returns a copy of the trace with every event of the given kinds removed.
func (t ExecutionTrace) Without(kinds ...TraceEventKind) ExecutionTrace {
	drop := make(map[TraceEventKind]bool, len(kinds))
	for _, k := range kinds {
		drop[k] = true
	}
	out := ExecutionTrace{GraphHash: t.GraphHash}
	for _, e := range t.Events {
		if !drop[e.Kind] {
			out.Events = append(out.Events, e)
		}
	}
	return out
}

// Count returns the number of events of kind k.
func (t ExecutionTrace) Count(k TraceEventKind) int {
	n := 0
	for _, e := range t.Events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// CanonicalJSON returns the canonical JSON encoding of the trace.
// It canonicalizes a copy of the trace to avoid mutating the caller's slices.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	copyTrace := ExecutionTrace{GraphHash: t.GraphHash}
	copyTrace.Events = make([]TraceEvent, len(t.Events))
	copy(copyTrace.Events, t.Events)
	copyTrace.Canonicalize()
	if err := copyTrace.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&copyTrace)
}

// Hash returns the deterministic trace hash (sha256 hex) of the canonical JSON bytes.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON ensures canonical field ordering and omission rules.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.GraphHash == "" {
		return nil, errors.New("graphHash is required")
	}
	var buf bytes.Buffer
	buf.WriteString("{\"graphHash\":")
	gh, _ := json.Marshal(t.GraphHash)
	buf.Write(gh)

	buf.WriteString(",\"events\":[")
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON ensures canonical field ordering and omission of empty optional fields.
func (e TraceEvent) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')

	writeField := func(name, value string, first bool) {
		if !first {
			buf.WriteByte(',')
		}
		buf.WriteString("\"" + name + "\":")
		vb, _ := json.Marshal(value)
		buf.Write(vb)
	}

	writeField("kind", string(e.Kind), true)
	if e.TaskID != "" {
		writeField("taskId", e.TaskID, false)
	}
	if e.Reason != "" {
		writeField("reason", e.Reason, false)
	}
	if e.CauseTaskID != "" {
		writeField("causeTaskId", e.CauseTaskID, false)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

package dag

// TaskState is the runtime execution state of a node.
//
// This is intentionally separated from TaskGraph, which is immutable.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
	TaskSkipped   TaskState = "SKIPPED"
)

// ExecutionState holds per-node state indexed by NodeID.
//
// It is a plain slice so the scheduling policy can stay a pure function of
// graph and state.
type ExecutionState []TaskState

// NewExecutionState returns a state with every node of g PENDING.
func NewExecutionState(g *TaskGraph) ExecutionState {
	st := make(ExecutionState, g.Len())
	for i := range st {
		st[i] = TaskPending
	}
	return st
}

// Clone returns an independent copy.
func (s ExecutionState) Clone() ExecutionState {
	out := make(ExecutionState, len(s))
	copy(out, s)
	return out
}

// Count returns how many nodes are in st.
func (s ExecutionState) Count(st TaskState) int {
	n := 0
	for _, v := range s {
		if v == st {
			n++
		}
	}
	return n
}

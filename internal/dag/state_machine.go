package dag

import (
	"container/heap"
	"fmt"
)

// IsTerminal reports whether the state is terminal (finished).
func IsTerminal(s TaskState) bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped:
		return true
	default:
		return false
	}
}

// Transition performs a validated transition for a single node.
//
// The caller supplies the expected prior state (from) to make races observable.
// The state slice is mutated if and only if the transition is valid.
func Transition(state ExecutionState, id NodeID, from, to TaskState) error {
	if id < 0 || int(id) >= len(state) {
		return fmt.Errorf("unknown node in state: %d", id)
	}
	cur := state[id]
	if cur != from {
		return fmt.Errorf("invalid transition for node %d: expected %s, got %s", id, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for node %d: %s -> %s", id, from, to)
	}
	state[id] = to
	return nil
}

func isAllowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning || to == TaskSkipped
	case TaskRunning:
		return to == TaskCompleted || to == TaskFailed
	default:
		return false
	}
}

// FailAndPropagate transitions id from RUNNING to FAILED and marks every
// PENDING node that can no longer complete as SKIPPED: all ancestors, and the
// sibling subtree that would have merged with the failed branch.
//
// Determinism:
//   - The skipped set is defined purely by tree shape.
//   - Skipped nodes are returned in ascending NodeID order.
//
// Siblings that are already RUNNING are left alone; they drain normally. A
// RUNNING ancestor is an invariant violation, since an ancestor is only
// dispatched after both children completed.
func FailAndPropagate(g *TaskGraph, state ExecutionState, id NodeID) ([]NodeID, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if !g.valid(id) {
		return nil, fmt.Errorf("unknown node: %d", id)
	}
	cur := state[id]
	if cur != TaskRunning && cur != TaskFailed {
		return nil, fmt.Errorf("cannot fail node %d from state %s", id, cur)
	}
	state[id] = TaskFailed

	hq := &intMinHeap{}
	heap.Init(hq)
	for child, p := id, g.nodes[id].Parent; p != NoNode; child, p = p, g.nodes[p].Parent {
		if state[p] == TaskRunning {
			return nil, fmt.Errorf("invariant violation: ancestor node %d is RUNNING during failure propagation", p)
		}
		heap.Push(hq, int(p))
		sib := g.nodes[p].Left
		if sib == child {
			sib = g.nodes[p].Right
		}
		if sib == NoNode {
			continue
		}
		stack := []NodeID{sib}
		for len(stack) > 0 {
			u := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			heap.Push(hq, int(u))
			if n := g.nodes[u]; !n.IsLeaf() {
				stack = append(stack, n.Left, n.Right)
			}
		}
	}

	var skipped []NodeID
	for hq.Len() > 0 {
		u := NodeID(heap.Pop(hq).(int))
		if state[u] == TaskPending {
			state[u] = TaskSkipped
			skipped = append(skipped, u)
		}
	}
	return skipped, nil
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

package dag

import "container/heap"

// GetReadyTasks returns the deterministically ordered list of nodes that are
// eligible to run.
//
// Policy:
//   - An internal node is ready iff it is PENDING and both children are COMPLETED.
//   - A leaf is ready iff it is PENDING.
//   - Ready merges come first in NodeID order (merging early releases the
//     children's triples), then ready leaves left to right.
//
// This function is pure: it does not mutate graph or state.
func GetReadyTasks(g *TaskGraph, state ExecutionState) []NodeID {
	if g == nil {
		return nil
	}
	var ready []NodeID
	for _, n := range g.nodes {
		if n.IsLeaf() || state[n.ID] != TaskPending {
			continue
		}
		if state[n.Left] == TaskCompleted && state[n.Right] == TaskCompleted {
			ready = append(ready, n.ID)
		}
	}
	for _, id := range g.leaves {
		if state[id] == TaskPending {
			ready = append(ready, id)
		}
	}
	return ready
}

// Scheduler is the incremental form of GetReadyTasks: Next always returns
// the first element GetReadyTasks would return, without rescanning the graph.
// It is owned by a single goroutine.
type Scheduler struct {
	g        *TaskGraph
	merges   intMinHeap
	nextLeaf int
}

func NewScheduler(g *TaskGraph) *Scheduler {
	return &Scheduler{g: g}
}

// Next returns the next node to dispatch, or false when nothing is ready.
func (s *Scheduler) Next(state ExecutionState) (NodeID, bool) {
	for s.merges.Len() > 0 {
		id := NodeID(s.merges[0])
		if state[id] == TaskPending {
			heap.Pop(&s.merges)
			return id, true
		}
		heap.Pop(&s.merges)
	}
	for s.nextLeaf < len(s.g.leaves) {
		id := s.g.leaves[s.nextLeaf]
		s.nextLeaf++
		if state[id] == TaskPending {
			return id, true
		}
	}
	return NoNode, false
}

// Completed must be called after id transitions to COMPLETED. It makes the
// parent ready once its other child has completed too.
func (s *Scheduler) Completed(state ExecutionState, id NodeID) {
	p := s.g.nodes[id].Parent
	if p == NoNode || state[p] != TaskPending {
		return
	}
	pn := s.g.nodes[p]
	if state[pn.Left] == TaskCompleted && state[pn.Right] == TaskCompleted {
		heap.Push(&s.merges, int(p))
	}
}

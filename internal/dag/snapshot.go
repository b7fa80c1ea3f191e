package dag

import "pidigits/internal/series"

// Seed is an already reduced prefix [0, Range.Hi) that the graph continues.
type Seed struct {
	Range  series.Range
	Triple series.Triple
}

// Snapshot is a contiguous completed prefix: Parts[i] is the triple of
// Ranges[i], the ranges are in order and Ranges[0] starts at 0. Merging the
// parts left to right gives the prefix triple.
type Snapshot struct {
	Ranges []series.Range
	Parts  []series.Triple
}

// End returns the first term not covered by the snapshot, 0 when empty.
func (s Snapshot) End() int64 {
	if len(s.Ranges) == 0 {
		return 0
	}
	return s.Ranges[len(s.Ranges)-1].Hi
}

// Empty reports whether nothing is covered.
func (s Snapshot) Empty() bool { return len(s.Ranges) == 0 }

// PrefixSnapshot returns the maximal completed nodes covering a contiguous
// prefix of the graph, preceded by the seed when present. It walks one path
// from the root, so it costs O(depth).
//
// A completed node's triple is only released once its parent has completed,
// and a completed parent is taken in preference to its children, so every
// part returned is still held in results.
func PrefixSnapshot(g *TaskGraph, state ExecutionState, results []series.Triple, seed *Seed) Snapshot {
	var snap Snapshot
	if seed != nil && seed.Range.Len() > 0 {
		snap.Ranges = append(snap.Ranges, seed.Range)
		snap.Parts = append(snap.Parts, seed.Triple)
	}

	cur := g.root
	for {
		n := g.nodes[cur]
		if state[cur] == TaskCompleted {
			snap.Ranges = append(snap.Ranges, n.Range)
			snap.Parts = append(snap.Parts, results[cur])
			return snap
		}
		if n.IsLeaf() {
			return snap
		}
		if state[n.Left] == TaskCompleted {
			snap.Ranges = append(snap.Ranges, g.nodes[n.Left].Range)
			snap.Parts = append(snap.Parts, results[n.Left])
			cur = n.Right
			continue
		}
		cur = n.Left
	}
}

package dag

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"pidigits/internal/series"
)

// DefaultGranularity is the largest term count evaluated as one leaf task.
const DefaultGranularity = 16

// TaskGraph is an immutable, validated bisection tree over a term range.
//
// It is safe for concurrent read access.
type TaskGraph struct {
	nodes       []Node
	leaves      []NodeID // left to right
	root        NodeID
	granularity int64

	hash GraphHash
}

// NewTaskGraph builds the bisection tree for root top-down without
// recursion: a node is split at its midpoint while it covers more than
// granularity terms.
//
// Validation runs immediately and rejects:
//   - empty or negative roots
//   - granularity < 1
func NewTaskGraph(root series.Range, granularity int64) (*TaskGraph, error) {
	if root.Lo < 0 {
		return nil, invalidf("negative root start %d", root.Lo)
	}
	if root.Len() <= 0 {
		return nil, invalidf("empty root range %s", root)
	}
	if granularity < 1 {
		return nil, invalidf("granularity must be >= 1, got %d", granularity)
	}

	leafEstimate := root.Len()/granularity + 1
	nodes := make([]Node, 0, 2*leafEstimate)
	nodes = append(nodes, Node{ID: 0, Range: root, Parent: NoNode, Left: NoNode, Right: NoNode})

	var leaves []NodeID
	stack := []NodeID{0}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := nodes[id]
		if n.Range.Len() <= granularity {
			leaves = append(leaves, id)
			continue
		}
		m := n.Range.Mid()
		left := NodeID(len(nodes))
		right := left + 1
		nodes = append(nodes,
			Node{ID: left, Range: series.Range{Lo: n.Range.Lo, Hi: m}, Parent: id, Left: NoNode, Right: NoNode, Depth: n.Depth + 1},
			Node{ID: right, Range: series.Range{Lo: m, Hi: n.Range.Hi}, Parent: id, Left: NoNode, Right: NoNode, Depth: n.Depth + 1},
		)
		nodes[id].Left = left
		nodes[id].Right = right
		// Right first so the left subtree is expanded first and leaves come out in order.
		stack = append(stack, right, left)
	}

	g := &TaskGraph{
		nodes:       nodes,
		leaves:      leaves,
		root:        0,
		granularity: granularity,
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	g.hash = g.computeGraphHash()
	return g, nil
}

// Hash returns the stable identity for this graph.
func (g *TaskGraph) Hash() GraphHash { return g.hash }

// Root returns the root node id.
func (g *TaskGraph) Root() NodeID { return g.root }

// Range returns the term range covered by the whole graph.
func (g *TaskGraph) Range() series.Range { return g.nodes[g.root].Range }

// Granularity returns the maximum leaf size.
func (g *TaskGraph) Granularity() int64 { return g.granularity }

// Len returns the number of nodes.
func (g *TaskGraph) Len() int { return len(g.nodes) }

// Node returns a node by id.
func (g *TaskGraph) Node(id NodeID) (Node, bool) {
	if !g.valid(id) {
		return Node{}, false
	}
	return g.nodes[id], true
}

// Leaves returns the leaf ids from left to right.
func (g *TaskGraph) Leaves() []NodeID {
	out := make([]NodeID, len(g.leaves))
	copy(out, g.leaves)
	return out
}

func (g *TaskGraph) valid(id NodeID) bool { return id >= 0 && int(id) < len(g.nodes) }

func (g *TaskGraph) computeGraphHash() GraphHash {
	ranges := make([]series.Range, len(g.nodes))
	for i, n := range g.nodes {
		ranges[i] = n.Range
	}
	return hashRanges(g.granularity, ranges)
}

// PlanHash returns the hash of the graph NewTaskGraph would build for root.
// A root NewTaskGraph rejects, such as the empty range left when a
// checkpoint already covers every term, still gets a stable identity.
func PlanHash(root series.Range, granularity int64) GraphHash {
	if g, err := NewTaskGraph(root, granularity); err == nil {
		return g.Hash()
	}
	return hashRanges(granularity, []series.Range{root})
}

func hashRanges(granularity int64, ranges []series.Range) GraphHash {
	h := sha256.New()
	var buf [8]byte
	writeInt := func(v int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}

	writeInt(granularity)
	writeInt(int64(len(ranges)))
	for _, r := range ranges {
		writeInt(r.Lo)
		writeInt(r.Hi)
	}

	sum := h.Sum(nil)
	return GraphHash(hex.EncodeToString(sum))
}

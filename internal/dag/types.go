package dag

import "pidigits/internal/series"

// GraphHash is the deterministic identity of a TaskGraph.
//
// It is computed solely from the root range, the granularity and the node
// ranges in index order.
type GraphHash string

func (h GraphHash) String() string { return string(h) }

// NodeID addresses a node in the graph arena.
type NodeID int

// NoNode marks an absent parent or child.
const NoNode NodeID = -1

// Node is an immutable node in the TaskGraph. Leaves have no children and
// are evaluated directly; internal nodes merge their two children.
type Node struct {
	ID     NodeID
	Range  series.Range
	Parent NodeID
	Left   NodeID
	Right  NodeID
	Depth  int
}

// IsLeaf reports whether n has no children.
func (n Node) IsLeaf() bool { return n.Left == NoNode }

// TaskID is the stable trace identifier of the node.
func (n Node) TaskID() string { return n.Range.String() }

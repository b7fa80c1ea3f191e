package dag

// validate proves the tree is a proper bisection of its root: every internal
// node splits exactly at its midpoint, leaves respect the granularity, and
// the leaves tile the root range left to right with no gap or overlap.
func (g *TaskGraph) validate() error {
	for _, n := range g.nodes {
		if n.IsLeaf() {
			if n.Right != NoNode {
				return invalidf("node %d has a right child but no left child", n.ID)
			}
			if n.Range.Len() > g.granularity {
				return invalidf("leaf %s exceeds granularity %d", n.Range, g.granularity)
			}
			continue
		}
		l, r := g.nodes[n.Left], g.nodes[n.Right]
		m := n.Range.Mid()
		if l.Range.Lo != n.Range.Lo || l.Range.Hi != m || r.Range.Lo != m || r.Range.Hi != n.Range.Hi {
			return invalidf("node %s is not bisected by %s and %s", n.Range, l.Range, r.Range)
		}
		if l.Parent != n.ID || r.Parent != n.ID {
			return invalidf("children of node %d do not point back to it", n.ID)
		}
	}

	next := g.nodes[g.root].Range.Lo
	for _, id := range g.leaves {
		lr := g.nodes[id].Range
		if lr.Lo != next {
			return invalidf("leaf %s does not start at %d", lr, next)
		}
		next = lr.Hi
	}
	if next != g.nodes[g.root].Range.Hi {
		return invalidf("leaves end at %d, root ends at %d", next, g.nodes[g.root].Range.Hi)
	}
	return nil
}

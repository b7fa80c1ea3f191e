// Package dag schedules the binary-splitting recursion as an explicit task graph.
//
// It is split into:
//   - Immutable graph definition (TaskGraph): an index-addressed arena of
//     bisected term ranges plus a stable GraphHash
//   - Mutable execution state (ExecutionState): per-node statuses owned by the
//     Reducer's coordinator loop
//
// Merge order is fixed by the tree shape, so the reduced triple is
// bit-identical for every worker count and completion order.
package dag

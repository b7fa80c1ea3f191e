package dag

import (
	"time"

	"pidigits/internal/series"
)

// GraphResult is the summary of a successful reduction.
type GraphResult struct {
	GraphHash GraphHash

	// Triple covers Range, which starts at 0 (the seed, if any, is merged in).
	Triple series.Triple
	Range  series.Range

	// FinalState is the terminal state of each node.
	FinalState ExecutionState

	// ExecutionOrder lists nodes in dispatch order. It depends on timing
	// when more than one worker runs.
	ExecutionOrder []NodeID

	Leaves  int
	Merges  int
	Elapsed time.Duration
}

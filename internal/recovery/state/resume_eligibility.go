package state

import (
	"errors"
	"fmt"

	"pidigits/internal/dag"
	"pidigits/internal/series"
)

// ErrIneligible is matched by every *IneligibleError.
var ErrIneligible = errors.New("checkpoint not eligible for resume")

// IneligibleError explains why a valid checkpoint cannot seed this run.
type IneligibleError struct {
	Reason string
}

func (e *IneligibleError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", ErrIneligible.Error(), e.Reason)
}

func (e *IneligibleError) Is(target error) bool { return target == ErrIneligible }

// CheckResumeEligibility decides whether a validated checkpoint can seed a
// run over [0, termCount).
//
// The prefix triple does not depend on the digit target, so a checkpoint
// written for a different target is reusable as long as its prefix does not
// extend past the terms this run needs. A longer prefix would change the
// result and is rejected.
func CheckResumeEligibility(cp Checkpoint, termCount int64) error {
	if termCount <= 0 {
		return &IneligibleError{Reason: fmt.Sprintf("term count %d", termCount)}
	}
	if end := cp.End(); end > termCount {
		return &IneligibleError{Reason: fmt.Sprintf("prefix ends at term %d, run needs only %d", end, termCount)}
	}
	return nil
}

// Seed converts the checkpoint into the reducer's prefix seed.
func (c Checkpoint) Seed() (*dag.Seed, error) {
	t, err := c.Triple()
	if err != nil {
		return nil, err
	}
	return &dag.Seed{Range: series.Range{Lo: 0, Hi: c.End()}, Triple: t}, nil
}

package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pidigits/internal/arena"
	"pidigits/internal/series"
)

// SchemaVersion is the only checkpoint layout this build reads and writes.
const SchemaVersion = 1

// Checkpoint is a durable snapshot of a reduced prefix [0, End()).
//
// Schema constraints: schema_version, target_digit_count, completed_ranges,
// partial_p, partial_q, partial_t, saved_at and digest must all be present.
// completed_ranges are sorted, disjoint and gap-free from 0, and the partial
// triple is the merge of exactly those ranges.
type Checkpoint struct {
	SchemaVersion    int            `json:"schema_version"`
	TargetDigitCount int64          `json:"target_digit_count"`
	CompletedRanges  []series.Range `json:"completed_ranges"`
	PartialP         string         `json:"partial_p"`
	PartialQ         string         `json:"partial_q"`
	PartialT         string         `json:"partial_t"`
	SavedAt          time.Time      `json:"saved_at"`
	Digest           string         `json:"digest"`
}

// NewCheckpoint builds a sealed checkpoint for the prefix covered by ranges.
func NewCheckpoint(target int64, ranges []series.Range, t series.Triple, savedAt time.Time) Checkpoint {
	cp := Checkpoint{
		SchemaVersion:    SchemaVersion,
		TargetDigitCount: target,
		CompletedRanges:  append([]series.Range(nil), ranges...),
		PartialP:         t.P.String(),
		PartialQ:         t.Q.String(),
		PartialT:         t.T.String(),
		SavedAt:          savedAt.UTC(),
	}
	cp.Digest = cp.ComputeDigest()
	return cp
}

// End returns the first term not covered, 0 for an empty checkpoint.
func (c Checkpoint) End() int64 {
	if len(c.CompletedRanges) == 0 {
		return 0
	}
	return c.CompletedRanges[len(c.CompletedRanges)-1].Hi
}

// Triple parses the partial integers.
func (c Checkpoint) Triple() (series.Triple, error) {
	p, err := arena.Parse(c.PartialP)
	if err != nil {
		return series.Triple{}, fmt.Errorf("partial_p: %w", err)
	}
	q, err := arena.Parse(c.PartialQ)
	if err != nil {
		return series.Triple{}, fmt.Errorf("partial_q: %w", err)
	}
	t, err := arena.Parse(c.PartialT)
	if err != nil {
		return series.Triple{}, fmt.Errorf("partial_t: %w", err)
	}
	return series.Triple{P: p, Q: q, T: t}, nil
}

// Validate checks every structural invariant and reports all violations
// together. It does not check schema_version; Load does that first so an
// unknown version surfaces as its own error kind.
func (c Checkpoint) Validate() error {
	var errs []error
	if c.TargetDigitCount <= 0 {
		errs = append(errs, fmt.Errorf("target_digit_count must be > 0, got %d", c.TargetDigitCount))
	}
	if len(c.CompletedRanges) == 0 {
		errs = append(errs, errors.New("completed_ranges must not be empty"))
	}
	next := int64(0)
	for i, r := range c.CompletedRanges {
		switch {
		case r.Len() <= 0:
			errs = append(errs, fmt.Errorf("completed_ranges[%d] %s is empty", i, r))
		case r.Lo < next:
			errs = append(errs, fmt.Errorf("completed_ranges[%d] %s overlaps or is out of order (expected start %d)", i, r, next))
		case r.Lo > next:
			errs = append(errs, fmt.Errorf("completed_ranges[%d] %s leaves a gap at %d", i, r, next))
		}
		if r.Hi > next {
			next = r.Hi
		}
	}

	t, err := c.Triple()
	if err != nil {
		errs = append(errs, err)
	} else {
		if t.Q.Sign() <= 0 {
			errs = append(errs, errors.New("partial_q must be positive"))
		}
		if t.P.Sign() <= 0 {
			errs = append(errs, errors.New("partial_p must be positive"))
		}
	}

	if c.SavedAt.IsZero() {
		errs = append(errs, errors.New("saved_at is required"))
	}
	if strings.TrimSpace(c.Digest) == "" {
		errs = append(errs, errors.New("digest is required"))
	} else if c.Digest != c.ComputeDigest() {
		errs = append(errs, errors.New("digest mismatch"))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Package digits turns the reduced Chudnovsky triple for [0,k) into decimal
// digits of pi.
//
// With the series coefficients folded into T, pi = 426880*sqrt(10005)*Q / T.
// The extractor evaluates that quotient scaled by 10^p in exact integer
// arithmetic once, then hands out its fractional digits lazily, most
// significant first, through a Stream.
package digits

import (
	"context"
	"errors"
	"fmt"

	"pidigits/internal/arena"
	"pidigits/internal/series"
)

// DefaultGroupSize is the number of digits a Stream yields per Next call.
const DefaultGroupSize = 64

const (
	outerFactor = 426880
	radicand    = 10005

	// chunkDigits decimal digits fit in one 32-bit limb.
	chunkDigits = 9
	chunkBase   = 1000000000
)

var ErrInvalidTriple = errors.New("digits: triple does not describe pi")

// Extractor derives digit streams with a given Arena.
type Extractor struct {
	Arena arena.Arena
	// GroupSize <= 0 means DefaultGroupSize.
	GroupSize int
}

func NewExtractor(a arena.Arena) *Extractor {
	return &Extractor{Arena: a, GroupSize: DefaultGroupSize}
}

func (e *Extractor) groupSize() int {
	if e.GroupSize > 0 {
		return e.GroupSize
	}
	return DefaultGroupSize
}

// Extract computes floor(pi * 10^precision) from t and returns a stream of
// the first emit fractional digits. precision must be at least emit; the
// digits between emit and precision are the guard margin and are never
// produced.
func (e *Extractor) Extract(t series.Triple, precision, emit int) (*Stream, error) {
	return e.ExtractContext(context.Background(), t, precision, emit)
}

// ExtractContext is Extract with cancellation checked between the
// full-size arithmetic steps. A cancelled extraction returns ctx.Err().
func (e *Extractor) ExtractContext(ctx context.Context, t series.Triple, precision, emit int) (*Stream, error) {
	switch {
	case emit < 1:
		return nil, fmt.Errorf("digits: emit must be >= 1, got %d", emit)
	case precision < emit:
		return nil, fmt.Errorf("digits: precision %d below emitted digits %d", precision, emit)
	case t.Q.Sign() <= 0 || t.T.Sign() <= 0:
		return nil, ErrInvalidTriple
	}
	ar := e.Arena

	var (
		scale, s, scaled, whole, frac arena.Int
		err                           error
	)
	steps := []func() error{
		func() (err error) {
			scale, err = ar.Pow10(precision)
			return err
		},
		func() error {
			scale2, err := ar.Mul(scale, scale)
			if err != nil {
				return err
			}
			rad, err := ar.MulWord(scale2, radicand)
			if err != nil {
				return err
			}
			// s = floor(sqrt(10005) * 10^precision)
			s, err = ar.Sqrt(rad)
			return err
		},
		func() error {
			num, err := ar.MulWord(s, outerFactor)
			if err != nil {
				return err
			}
			if num, err = ar.Mul(num, t.Q); err != nil {
				return err
			}
			scaled, err = ar.Quo(num, t.T)
			return err
		},
		func() (err error) {
			whole, frac, err = ar.QuoRem(scaled, scale)
			return err
		},
	}
	for _, step := range steps {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		if err = step(); err != nil {
			return nil, err
		}
	}
	if whole.Sign() <= 0 {
		return nil, ErrInvalidTriple
	}

	return &Stream{
		arena:     ar,
		integer:   whole.String(),
		frac:      frac,
		scale:     scale,
		fracLeft:  precision,
		remaining: emit,
		group:     e.groupSize(),
	}, nil
}

// Package series evaluates the Chudnovsky series for pi by binary splitting.
//
// For a half-open term range [a,b) the evaluator produces the exact integer
// triple (P, Q, T) with
//
//	sum over [a,b) = T(a,b) / Q(a,b)        (up to the common leading factor)
//
// Two adjacent ranges merge by
//
//	P = P1*P2, Q = Q1*Q2, T = T1*Q2 + P1*T2
//
// The merge is associative on exact integers, so any bracketing of the same
// ordered ranges yields bit-identical triples. The scheduler and the
// checkpoint prefix both rely on that.
package series

import (
	"fmt"
	"math"

	"pidigits/internal/arena"
)

const (
	// DigitsPerTerm is log10(640320^3 / (24*6*2*6)): each Chudnovsky term
	// contributes about this many correct decimal digits.
	DigitsPerTerm = 14.181647462

	// DefaultTermGuard is the number of extra terms computed beyond the
	// strict minimum to absorb rounding at the last requested digit.
	DefaultTermGuard = 5
)

// Chudnovsky constants.
const (
	coeffA = 13591409
	coeffB = 545140134
	// c3Over24 is 640320^3 / 24.
	c3Over24 = 10939058860032000
)

// Range is the half-open term interval [Lo, Hi).
type Range struct {
	Lo int64 `json:"start"`
	Hi int64 `json:"end"`
}

// Len returns the number of terms in r.
func (r Range) Len() int64 { return r.Hi - r.Lo }

// Mid returns the exact bisection point floor((Lo+Hi)/2).
func (r Range) Mid() int64 { return r.Lo + (r.Hi-r.Lo)/2 }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Lo, r.Hi) }

// Triple is the exact partial result for a term range. It is never mutated
// after construction.
type Triple struct {
	P, Q, T arena.Int
}

// Equal reports whether both triples hold the same integers.
func (t Triple) Equal(o Triple) bool {
	return t.P.Equal(o.P) && t.Q.Equal(o.Q) && t.T.Equal(o.T)
}

// TermCount returns the number of series terms needed for n decimal digits:
// ceil(n / DigitsPerTerm) + guard.
func TermCount(n int64, guard int) int64 {
	if n <= 0 {
		return int64(guard)
	}
	return int64(math.Ceil(float64(n)/DigitsPerTerm)) + int64(guard)
}

// Evaluator computes triples with a given Arena.
type Evaluator struct {
	Arena arena.Arena
}

// NewEvaluator returns an Evaluator using a.
func NewEvaluator(a arena.Arena) *Evaluator {
	return &Evaluator{Arena: a}
}

// Leaf returns the triple for the single term a, straight from the series'
// integer coefficients:
//
//	a = 0: P = Q = 1, T = 13591409
//	a > 0: P = (6a-5)(2a-1)(6a-1)
//	       Q = a^3 * 640320^3/24
//	       T = (-1)^a * P * (13591409 + 545140134a)
func (e *Evaluator) Leaf(a int64) (Triple, error) {
	if a < 0 {
		return Triple{}, fmt.Errorf("series: negative term index %d", a)
	}
	if a == 0 {
		one := arena.NewInt(1)
		return Triple{P: one, Q: one, T: arena.NewInt(coeffA)}, nil
	}
	ar := e.Arena

	p, err := product(ar, arena.NewInt(6*a-5), arena.NewInt(2*a-1), arena.NewInt(6*a-1))
	if err != nil {
		return Triple{}, err
	}
	ai := arena.NewInt(a)
	q, err := product(ar, ai, ai, ai, arena.NewUint(c3Over24))
	if err != nil {
		return Triple{}, err
	}
	bt, err := ar.Mul(arena.NewInt(coeffB), ai)
	if err != nil {
		return Triple{}, err
	}
	lin, err := ar.Add(arena.NewInt(coeffA), bt)
	if err != nil {
		return Triple{}, err
	}
	t, err := ar.Mul(p, lin)
	if err != nil {
		return Triple{}, err
	}
	if a%2 == 1 {
		t = t.Neg()
	}
	return Triple{P: p, Q: q, T: t}, nil
}

// Range evaluates [r.Lo, r.Hi) by recursive bisection. It is meant for the
// small leaf ranges of the task graph; the scheduler drives the large
// recursion explicitly.
func (e *Evaluator) Range(r Range) (Triple, error) {
	switch {
	case r.Len() <= 0:
		return Triple{}, fmt.Errorf("series: empty range %s", r)
	case r.Len() == 1:
		return e.Leaf(r.Lo)
	}
	m := r.Mid()
	left, err := e.Range(Range{Lo: r.Lo, Hi: m})
	if err != nil {
		return Triple{}, err
	}
	right, err := e.Range(Range{Lo: m, Hi: r.Hi})
	if err != nil {
		return Triple{}, err
	}
	return e.Merge(left, right)
}

// Merge combines the triple of [a,m) with the triple of [m,b).
func (e *Evaluator) Merge(left, right Triple) (Triple, error) {
	ar := e.Arena
	p, err := ar.Mul(left.P, right.P)
	if err != nil {
		return Triple{}, err
	}
	q, err := ar.Mul(left.Q, right.Q)
	if err != nil {
		return Triple{}, err
	}
	tq, err := ar.Mul(left.T, right.Q)
	if err != nil {
		return Triple{}, err
	}
	pt, err := ar.Mul(left.P, right.T)
	if err != nil {
		return Triple{}, err
	}
	t, err := ar.Add(tq, pt)
	if err != nil {
		return Triple{}, err
	}
	return Triple{P: p, Q: q, T: t}, nil
}

// MergeAll folds triples left to right. At least one triple is required.
func (e *Evaluator) MergeAll(ts []Triple) (Triple, error) {
	if len(ts) == 0 {
		return Triple{}, fmt.Errorf("series: nothing to merge")
	}
	acc := ts[0]
	for _, t := range ts[1:] {
		var err error
		if acc, err = e.Merge(acc, t); err != nil {
			return Triple{}, err
		}
	}
	return acc, nil
}

func product(ar arena.Arena, factors ...arena.Int) (arena.Int, error) {
	acc := arena.NewInt(1)
	for _, f := range factors {
		var err error
		if acc, err = ar.Mul(acc, f); err != nil {
			return arena.Int{}, err
		}
	}
	return acc, nil
}

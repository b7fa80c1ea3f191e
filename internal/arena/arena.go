package arena

import (
	"errors"
	"fmt"
	"math/bits"
)

// Tuning defaults. Thresholds are in limbs of the shorter operand
// (multiplication) or of the divisor and quotient (division).
const (
	// DefaultKaratsubaThreshold: below this the O(n*m) schoolbook product
	// beats Karatsuba's O(n^1.585) on typical 64-bit hardware.
	DefaultKaratsubaThreshold = 32

	// DefaultNewtonThreshold: divisors and quotients at least this long are
	// divided through a Newton-Raphson reciprocal instead of long division.
	DefaultNewtonThreshold = 64

	// DefaultMaxLimbs caps any single result at 256 MiB of limbs.
	DefaultMaxLimbs = 1 << 26

	minKaratsubaThreshold = 4
	minNewtonThreshold    = 4
)

var (
	// ErrOverflow is matched by every *OverflowError.
	ErrOverflow = errors.New("arena: limb ceiling exceeded")

	ErrDivisionByZero = errors.New("arena: division by zero")
	ErrNegativeSqrt   = errors.New("arena: square root of negative value")
)

// OverflowError reports a result that would exceed the configured limb
// ceiling.
type OverflowError struct {
	Op      string
	Limbs   int
	Ceiling int
}

func (e *OverflowError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("arena: %s needs %d limbs, ceiling is %d", e.Op, e.Limbs, e.Ceiling)
}

func (e *OverflowError) Is(target error) bool { return target == ErrOverflow }

// Arena holds the algorithm-selection thresholds and the limb ceiling.
// The zero value uses the defaults. An Arena is a plain value and safe for
// concurrent use.
type Arena struct {
	KaratsubaThreshold int
	NewtonThreshold    int
	// MaxLimbs is the hard ceiling on the size of any result; <= 0 means
	// DefaultMaxLimbs.
	MaxLimbs int
}

// DefaultArena returns an Arena with the default thresholds and ceiling.
func DefaultArena() Arena {
	return Arena{
		KaratsubaThreshold: DefaultKaratsubaThreshold,
		NewtonThreshold:    DefaultNewtonThreshold,
		MaxLimbs:           DefaultMaxLimbs,
	}
}

func (a Arena) karatsubaThreshold() int {
	if a.KaratsubaThreshold <= 0 {
		return DefaultKaratsubaThreshold
	}
	if a.KaratsubaThreshold < minKaratsubaThreshold {
		return minKaratsubaThreshold
	}
	return a.KaratsubaThreshold
}

func (a Arena) newtonThreshold() int {
	if a.NewtonThreshold <= 0 {
		return DefaultNewtonThreshold
	}
	if a.NewtonThreshold < minNewtonThreshold {
		return minNewtonThreshold
	}
	return a.NewtonThreshold
}

func (a Arena) maxLimbs() int {
	if a.MaxLimbs <= 0 {
		return DefaultMaxLimbs
	}
	return a.MaxLimbs
}

func (a Arena) check(op string, limbs int) error {
	if ceiling := a.maxLimbs(); limbs > ceiling {
		return &OverflowError{Op: op, Limbs: limbs, Ceiling: ceiling}
	}
	return nil
}

func (a Arena) checked(op string, z Int) (Int, error) {
	if err := a.check(op, len(z.abs)); err != nil {
		return Int{}, err
	}
	return z, nil
}

// Add returns x + y.
func (a Arena) Add(x, y Int) (Int, error) {
	return a.checked("add", addSigned(x, y))
}

// Sub returns x - y.
func (a Arena) Sub(x, y Int) (Int, error) {
	return a.checked("sub", addSigned(x, y.Neg()))
}

func addSigned(x, y Int) Int {
	if x.neg == y.neg {
		return makeInt(x.neg, addNat(x.abs, y.abs))
	}
	switch cmpNat(x.abs, y.abs) {
	case 0:
		return Int{}
	case 1:
		return makeInt(x.neg, subNat(x.abs, y.abs))
	default:
		return makeInt(y.neg, subNat(y.abs, x.abs))
	}
}

// Mul returns x * y. The ceiling is checked before any work is done.
func (a Arena) Mul(x, y Int) (Int, error) {
	if x.IsZero() || y.IsZero() {
		return Int{}, nil
	}
	if err := a.check("mul", len(x.abs)+len(y.abs)-1); err != nil {
		return Int{}, err
	}
	return a.checked("mul", makeInt(x.neg != y.neg, a.mulNat(x.abs, y.abs)))
}

// MulWord returns x * w.
func (a Arena) MulWord(x Int, w Word) (Int, error) {
	return a.checked("mul", makeInt(x.neg, mulAddWord(x.abs, w, 0)))
}

// QuoRem returns the truncated quotient and remainder of x / y:
// x = q*y + r with |r| < |y| and r carrying the sign of x.
func (a Arena) QuoRem(x, y Int) (q, r Int, err error) {
	if y.IsZero() {
		return Int{}, Int{}, ErrDivisionByZero
	}
	qa, ra := a.divNat(x.abs, y.abs)
	q = makeInt(x.neg != y.neg, qa)
	r = makeInt(x.neg, ra)
	if err := a.check("quo", len(q.abs)); err != nil {
		return Int{}, Int{}, err
	}
	return q, r, nil
}

// Quo returns the truncated quotient x / y.
func (a Arena) Quo(x, y Int) (Int, error) {
	q, _, err := a.QuoRem(x, y)
	return q, err
}

// Rem returns the remainder of truncated division, with the sign of x.
func (a Arena) Rem(x, y Int) (Int, error) {
	_, r, err := a.QuoRem(x, y)
	return r, err
}

// Pow10 returns 10^e for e >= 0.
func (a Arena) Pow10(e int) (Int, error) {
	if e < 0 {
		return Int{}, fmt.Errorf("arena: negative exponent %d", e)
	}
	result := NewInt(1)
	base := NewInt(10)
	for e > 0 {
		var err error
		if e&1 == 1 {
			if result, err = a.Mul(result, base); err != nil {
				return Int{}, err
			}
		}
		e >>= 1
		if e > 0 {
			if base, err = a.Mul(base, base); err != nil {
				return Int{}, err
			}
		}
	}
	return result, nil
}

// Sqrt returns floor(sqrt(x)) for x >= 0.
//
// The root is built from the top bits down: each step doubles the number of
// correct bits with one division sized to the bits known so far, so the
// whole root costs a few full-size divisions. The estimate is at most one
// too large and a final square fixes it.
func (a Arena) Sqrt(x Int) (Int, error) {
	if x.neg {
		return Int{}, ErrNegativeSqrt
	}
	if x.IsZero() {
		return Int{}, nil
	}
	if err := a.check("sqrt", len(x.abs)); err != nil {
		return Int{}, err
	}
	c := (bitLen(x.abs) - 1) / 2
	y := nat{1}
	d := 0
	for s := bits.Len(uint(c)) - 1; s >= 0; s-- {
		e := d
		d = c >> uint(s)
		q, _ := a.divNat(rsh(x.abs, 2*c-e-d+1), y)
		y = addNat(lsh(y, d-e-1), q)
	}
	if cmpNat(a.mulNat(y, y), x.abs) > 0 {
		y = subNat(y, nat{1})
	}
	return makeInt(false, y), nil
}

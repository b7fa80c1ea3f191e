package arena

// Int is an immutable signed integer of arbitrary size.
//
// The zero value is 0 and ready to use.
type Int struct {
	neg bool
	abs nat
}

func makeInt(neg bool, abs nat) Int {
	abs = abs.norm()
	if len(abs) == 0 {
		return Int{}
	}
	return Int{neg: neg, abs: abs}
}

// NewInt returns v as an Int.
func NewInt(v int64) Int {
	if v < 0 {
		return makeInt(true, natFromUint64(uint64(-(v + 1))+1))
	}
	return makeInt(false, natFromUint64(uint64(v)))
}

// NewUint returns v as an Int.
func NewUint(v uint64) Int {
	return makeInt(false, natFromUint64(v))
}

// FromLimbs builds an Int from a sign and little-endian limbs. The slice is
// copied.
func FromLimbs(neg bool, limbs []Word) Int {
	abs := make(nat, len(limbs))
	copy(abs, limbs)
	return makeInt(neg, abs)
}

// MustParse is Parse for constants known to be valid.
func MustParse(s string) Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Sign returns -1, 0 or +1.
func (x Int) Sign() int {
	switch {
	case len(x.abs) == 0:
		return 0
	case x.neg:
		return -1
	default:
		return 1
	}
}

// IsZero reports whether x == 0.
func (x Int) IsZero() bool { return len(x.abs) == 0 }

// Len returns the number of limbs in |x|.
func (x Int) Len() int { return len(x.abs) }

// BitLen returns the bit length of |x|.
func (x Int) BitLen() int { return bitLen(x.abs) }

// Limbs returns a copy of the little-endian limbs of |x|.
func (x Int) Limbs() []Word {
	out := make([]Word, len(x.abs))
	copy(out, x.abs)
	return out
}

// Neg returns -x.
func (x Int) Neg() Int { return makeInt(!x.neg, x.abs) }

// Abs returns |x|.
func (x Int) Abs() Int { return makeInt(false, x.abs) }

// Cmp compares x and y and returns -1, 0 or +1.
func (x Int) Cmp(y Int) int {
	switch {
	case x.neg && !y.neg:
		return -1
	case !x.neg && y.neg:
		return 1
	case x.neg:
		return -cmpNat(x.abs, y.abs)
	default:
		return cmpNat(x.abs, y.abs)
	}
}

// CmpAbs compares |x| and |y|.
func (x Int) CmpAbs(y Int) int { return cmpNat(x.abs, y.abs) }

// Equal reports whether x == y.
func (x Int) Equal(y Int) bool { return x.Cmp(y) == 0 }

// Int64 returns x as an int64 and whether it fits.
func (x Int) Int64() (int64, bool) {
	if len(x.abs) > 2 {
		return 0, false
	}
	var u uint64
	for i := len(x.abs) - 1; i >= 0; i-- {
		u = u<<wordBits | uint64(x.abs[i])
	}
	if x.neg {
		if u > 1<<63 {
			return 0, false
		}
		return -int64(u - 1) - 1, true
	}
	if u > 1<<63-1 {
		return 0, false
	}
	return int64(u), true
}

package arena

import "math/bits"

// Word is a single limb.
type Word uint32

const (
	wordBits = 32
	wordMask = 1<<wordBits - 1
)

// nat is an unsigned magnitude, little-endian, normalized so that the most
// significant limb is non-zero. The zero value (nil) is 0.
//
// Helpers in this file never modify their arguments.
type nat []Word

func (z nat) norm() nat {
	i := len(z)
	for i > 0 && z[i-1] == 0 {
		i--
	}
	return z[:i]
}

func natFromUint64(v uint64) nat {
	if v == 0 {
		return nil
	}
	if v>>wordBits == 0 {
		return nat{Word(v)}
	}
	return nat{Word(v), Word(v >> wordBits)}
}

func cmpNat(x, y nat) int {
	if len(x) != len(y) {
		if len(x) < len(y) {
			return -1
		}
		return 1
	}
	for i := len(x) - 1; i >= 0; i-- {
		if x[i] != y[i] {
			if x[i] < y[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func addNat(x, y nat) nat {
	if len(x) < len(y) {
		x, y = y, x
	}
	if len(y) == 0 {
		return x
	}
	z := make(nat, len(x)+1)
	var carry uint64
	for i := 0; i < len(x); i++ {
		s := uint64(x[i]) + carry
		if i < len(y) {
			s += uint64(y[i])
		}
		z[i] = Word(s)
		carry = s >> wordBits
	}
	z[len(x)] = Word(carry)
	return z.norm()
}

// subNat returns x - y. The caller guarantees x >= y.
func subNat(x, y nat) nat {
	if len(y) == 0 {
		return x
	}
	z := make(nat, len(x))
	var borrow uint64
	for i := 0; i < len(x); i++ {
		var yi uint64
		if i < len(y) {
			yi = uint64(y[i])
		}
		d := uint64(x[i]) - yi - borrow
		z[i] = Word(d)
		borrow = (d >> wordBits) & 1
	}
	return z.norm()
}

// shlWords returns x * B^n.
func shlWords(x nat, n int) nat {
	if len(x) == 0 {
		return nil
	}
	z := make(nat, len(x)+n)
	copy(z[n:], x)
	return z
}

// shrWords returns floor(x / B^n).
func shrWords(x nat, n int) nat {
	if n >= len(x) {
		return nil
	}
	z := make(nat, len(x)-n)
	copy(z, x[n:])
	return z
}

// shlBits returns x << s for 0 <= s < wordBits.
func shlBits(x nat, s uint) nat {
	if len(x) == 0 {
		return nil
	}
	z := make(nat, len(x)+1)
	var carry Word
	for i, w := range x {
		z[i] = w<<s | carry
		carry = w >> (wordBits - s)
	}
	z[len(x)] = carry
	return z.norm()
}

// shrBits returns x >> s for 0 <= s < wordBits.
func shrBits(x nat, s uint) nat {
	if len(x) == 0 {
		return nil
	}
	z := make(nat, len(x))
	for i := 0; i < len(x); i++ {
		w := x[i] >> s
		if i+1 < len(x) {
			w |= x[i+1] << (wordBits - s)
		}
		z[i] = w
	}
	return z.norm()
}

// lsh returns x << n for any n >= 0.
func lsh(x nat, n int) nat {
	return shlBits(shlWords(x, n/wordBits), uint(n%wordBits))
}

// rsh returns x >> n for any n >= 0.
func rsh(x nat, n int) nat {
	return shrBits(shrWords(x, n/wordBits), uint(n%wordBits))
}

func bitLen(x nat) int {
	if len(x) == 0 {
		return 0
	}
	return (len(x)-1)*wordBits + bits.Len32(uint32(x[len(x)-1]))
}

// mulAddWord returns x*m + a.
func mulAddWord(x nat, m, a Word) nat {
	z := make(nat, len(x)+1)
	carry := uint64(a)
	for i, w := range x {
		t := uint64(w)*uint64(m) + carry
		z[i] = Word(t)
		carry = t >> wordBits
	}
	z[len(x)] = Word(carry)
	return z.norm()
}

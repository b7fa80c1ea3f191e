package arena

import "math/bits"

const (
	// newtonGuardLimbs is the extra reciprocal precision beyond the
	// quotient length.
	newtonGuardLimbs = 2

	// newtonMaxFixups bounds the linear correction of the estimated
	// quotient; beyond it the Newton path gives up and long division is
	// used instead.
	newtonMaxFixups = 32
)

// divNat returns q, r with u = q*v + r and 0 <= r < v. v must be non-zero.
func (a Arena) divNat(u, v nat) (q, r nat) {
	if cmpNat(u, v) < 0 {
		return nil, u
	}
	if len(v) == 1 {
		q, rw := divWord(u, v[0])
		return q, natFromUint64(uint64(rw))
	}
	thr := a.newtonThreshold()
	if len(v) >= thr && len(u)-len(v) >= thr {
		if q, r, ok := a.divNewton(u, v); ok {
			return q, r
		}
	}
	return divKnuth(u, v)
}

// divWord is short division by a single limb.
func divWord(x nat, d Word) (nat, Word) {
	q := make(nat, len(x))
	var rem uint64
	for i := len(x) - 1; i >= 0; i-- {
		cur := rem<<wordBits | uint64(x[i])
		q[i] = Word(cur / uint64(d))
		rem = cur % uint64(d)
	}
	return q.norm(), Word(rem)
}

// divKnuth is Knuth's Algorithm D (TAOCP vol. 2, 4.3.1) on 32-bit limbs.
// It requires len(v) >= 2 and u >= v.
func divKnuth(u, v nat) (nat, nat) {
	const b = uint64(1) << wordBits

	n := len(v)
	m := len(u) - n
	s := uint(bits.LeadingZeros32(uint32(v[n-1])))

	vn := make(nat, n)
	for i := n - 1; i > 0; i-- {
		vn[i] = v[i]<<s | v[i-1]>>(wordBits-s)
	}
	vn[0] = v[0] << s

	un := make(nat, len(u)+1)
	un[len(u)] = u[len(u)-1] >> (wordBits - s)
	for i := len(u) - 1; i > 0; i-- {
		un[i] = u[i]<<s | u[i-1]>>(wordBits-s)
	}
	un[0] = u[0] << s

	q := make(nat, m+1)
	vTop := uint64(vn[n-1])
	vNext := uint64(vn[n-2])
	for j := m; j >= 0; j-- {
		num := uint64(un[j+n])<<wordBits | uint64(un[j+n-1])
		qhat := num / vTop
		rhat := num % vTop
		for qhat >= b || qhat*vNext > (rhat<<wordBits|uint64(un[j+n-2])) {
			qhat--
			rhat += vTop
			if rhat >= b {
				break
			}
		}

		var k int64
		for i := 0; i < n; i++ {
			p := qhat * uint64(vn[i])
			t := int64(un[i+j]) - k - int64(p&wordMask)
			un[i+j] = Word(t)
			k = int64(p>>wordBits) - (t >> wordBits)
		}
		t := int64(un[j+n]) - k
		un[j+n] = Word(t)

		q[j] = Word(qhat)
		if t < 0 {
			q[j]--
			var c uint64
			for i := 0; i < n; i++ {
				sum := uint64(un[i+j]) + uint64(vn[i]) + c
				un[i+j] = Word(sum)
				c = sum >> wordBits
			}
			un[j+n] = Word(uint64(un[j+n]) + c)
		}
	}

	r := make(nat, n)
	for i := 0; i < n-1; i++ {
		r[i] = un[i]>>s | un[i+1]<<(wordBits-s)
	}
	r[n-1] = un[n-1] >> s
	return q.norm(), r.norm()
}

// divNewton divides through an approximate fixed-point reciprocal and then
// corrects the quotient against the exact residual. Only the top limbs of u
// and v that can influence the quotient are used, so the cost tracks the
// quotient length rather than the dividend length.
//
// A quotient longer than the divisor is produced block by block, each block
// being a balanced division. ok is false when the estimate is off by more
// than newtonMaxFixups and the caller must fall back.
func (a Arena) divNewton(u, v nat) (q, r nat, ok bool) {
	n := len(v)
	m := len(u) - n
	if m > n {
		return a.divBlocks(u, v)
	}

	// k limbs of v are enough to pin down an m+1 limb quotient.
	k := m + 1 + newtonGuardLimbs
	if k > n {
		k = n
	}
	t := n - k
	y := a.reciprocal(v[t:])
	q = shrWords(a.mulNat(shrWords(u, t), y), 2*k)
	return a.fixQuotient(u, v, q)
}

// divBlocks is long division in base B^len(v): every step divides at most
// 2*len(v) limbs by v.
func (a Arena) divBlocks(u, v nat) (q, r nat, ok bool) {
	n := len(v)
	q = make(nat, len(u))
	for hi := len(u); hi > 0; hi -= n {
		lo := hi - n
		if lo < 0 {
			lo = 0
		}
		cur := addNat(shlWords(r, hi-lo), u[lo:hi].norm())
		qi, ri := a.divNat(cur, v)
		// r < v, so qi fits in hi-lo limbs.
		copy(q[lo:], qi)
		r = ri
	}
	return q.norm(), r, true
}

// reciprocal returns y ~ B^(2k) / w for a k-limb w, with a relative error
// of a few B^-k.
// The top half of w is inverted recursively and one Newton step
//
//	y' = y + y*(B^(2k) - w*y) / B^(2k)
//
// doubles the precision, so the total cost is a small multiple of one
// k-limb product.
func (a Arena) reciprocal(w nat) nat {
	k := len(w)
	one := shlWords(nat{1}, 2*k)
	if k <= a.newtonThreshold() {
		if k == 1 {
			y, _ := divWord(one, w[0])
			return y
		}
		y, _ := divKnuth(one, w)
		return y
	}

	// Two guard limbs keep the squared error of the half-size inverse below
	// one unit at this size.
	h := (k+1)/2 + 1
	y := shlWords(a.reciprocal(w[k-h:]), k-h)

	wy := a.mulNat(w, y)
	if cmpNat(one, wy) >= 0 {
		return addNat(y, shrWords(a.mulNat(y, subNat(one, wy)), 2*k))
	}
	return subNat(y, shrWords(a.mulNat(y, subNat(wy, one)), 2*k))
}

// fixQuotient moves an estimated quotient to the exact one, in either
// direction, and returns the matching remainder.
func (a Arena) fixQuotient(u, v, q nat) (nat, nat, bool) {
	qv := a.mulNat(q, v)
	for i := 0; cmpNat(qv, u) > 0; i++ {
		if i == newtonMaxFixups {
			return nil, nil, false
		}
		q = subNat(q, nat{1})
		qv = subNat(qv, v)
	}
	r := subNat(u, qv)
	for i := 0; cmpNat(r, v) >= 0; i++ {
		if i == newtonMaxFixups {
			return nil, nil, false
		}
		q = addNat(q, nat{1})
		r = subNat(r, v)
	}
	return q, r, true
}

package arena

// mulSchool is the O(n*m) grade-school product.
func mulSchool(x, y nat) nat {
	if len(x) == 0 || len(y) == 0 {
		return nil
	}
	z := make(nat, len(x)+len(y))
	for i, xi := range x {
		if xi == 0 {
			continue
		}
		var carry uint64
		for j, yj := range y {
			t := uint64(xi)*uint64(yj) + uint64(z[i+j]) + carry
			z[i+j] = Word(t)
			carry = t >> wordBits
		}
		z[i+len(y)] = Word(carry)
	}
	return z.norm()
}

// mulNat selects the multiplication algorithm by the size of the shorter
// operand.
func (a Arena) mulNat(x, y nat) nat {
	if len(x) < len(y) {
		x, y = y, x
	}
	if len(y) == 0 {
		return nil
	}
	if len(y) < a.karatsubaThreshold() {
		return mulSchool(x, y)
	}
	if len(x) >= 2*len(y) {
		return a.mulUnbalanced(x, y)
	}
	return a.karatsuba(x, y)
}

// mulUnbalanced multiplies by cutting the longer operand into pieces the size
// of the shorter one, so every partial product is balanced.
func (a Arena) mulUnbalanced(x, y nat) nat {
	var z nat
	for off := 0; off < len(x); off += len(y) {
		end := off + len(y)
		if end > len(x) {
			end = len(x)
		}
		p := a.mulNat(x[off:end].norm(), y)
		z = addNat(z, shlWords(p, off))
	}
	return z
}

// karatsuba computes x*y with three half-size products:
//
//	x = x1*B^h + x0, y = y1*B^h + y0
//	x*y = z2*B^2h + (z1-z2-z0)*B^h + z0
//
// where z0 = x0*y0, z2 = x1*y1, z1 = (x0+x1)*(y0+y1).
func (a Arena) karatsuba(x, y nat) nat {
	h := (len(x) + 1) / 2
	x0, x1 := split(x, h)
	y0, y1 := split(y, h)

	z0 := a.mulNat(x0, y0)
	z2 := a.mulNat(x1, y1)
	z1 := a.mulNat(addNat(x0, x1), addNat(y0, y1))
	z1 = subNat(subNat(z1, z0), z2)

	z := addNat(z0, shlWords(z1, h))
	return addNat(z, shlWords(z2, 2*h))
}

func split(x nat, h int) (lo, hi nat) {
	if len(x) <= h {
		return x, nil
	}
	return x[:h].norm(), x[h:]
}

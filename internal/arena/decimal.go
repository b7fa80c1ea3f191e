package arena

import (
	"fmt"
	"strconv"
)

const (
	// decimalChunk is the largest power of ten that fits in a Word.
	decimalChunk       Word = 1_000_000_000
	decimalChunkDigits      = 9

	// At or below decimalLeafLimbs, conversion goes chunk by chunk with
	// short division instead of splitting.
	decimalLeafLimbs = 32
)

// decimalPowers caches 10^(9*2^i), i = 0, 1, ..., for one conversion.
// Values are split on these powers so both halves of a split are about the
// same size and each level costs a few balanced products or divisions.
type decimalPowers struct {
	a    Arena
	pows []nat
}

func (d *decimalPowers) at(i int) nat {
	for len(d.pows) <= i {
		if len(d.pows) == 0 {
			d.pows = append(d.pows, nat{decimalChunk})
			continue
		}
		last := d.pows[len(d.pows)-1]
		d.pows = append(d.pows, d.a.mulNat(last, last))
	}
	return d.pows[i]
}

// Parse reads a base-10 integer with an optional leading sign.
func Parse(s string) (Int, error) {
	digits := s
	neg := false
	if len(digits) > 0 && (digits[0] == '-' || digits[0] == '+') {
		neg = digits[0] == '-'
		digits = digits[1:]
	}
	if digits == "" {
		return Int{}, fmt.Errorf("arena: parse %q: no digits", s)
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Int{}, fmt.Errorf("arena: parse %q: invalid digit %q at offset %d", s, digits[i], i)
		}
	}
	var d decimalPowers
	return makeInt(neg, d.parse(digits)), nil
}

// parse splits digits so the low part holds exactly 9*2^i digits:
// value = hi*10^(9*2^i) + lo.
func (d *decimalPowers) parse(digits string) nat {
	if len(digits) <= decimalLeafLimbs*decimalChunkDigits {
		return parseChunks(digits)
	}
	i := 0
	for decimalChunkDigits<<(i+1) < len(digits) {
		i++
	}
	cut := len(digits) - decimalChunkDigits<<i
	hi := d.parse(digits[:cut])
	lo := d.parse(digits[cut:])
	return addNat(d.a.mulNat(hi, d.at(i)), lo)
}

func parseChunks(digits string) nat {
	var abs nat
	head := len(digits) % decimalChunkDigits
	if head == 0 {
		head = decimalChunkDigits
	}
	for off, end := 0, head; off < len(digits); off, end = end, end+decimalChunkDigits {
		chunk, _ := strconv.ParseUint(digits[off:end], 10, 32)
		mul := decimalChunk
		if off == 0 {
			mul = 1
		}
		abs = mulAddWord(abs, mul, Word(chunk))
	}
	return abs
}

// String returns the base-10 representation of x.
func (x Int) String() string {
	if x.IsZero() {
		return "0"
	}
	var d decimalPowers
	// Pick the level whose square already exceeds x: a product of two
	// L-limb values has at least 2L-1 limbs.
	level := 0
	for 2*len(d.at(level))-1 <= len(x.abs) {
		level++
	}
	buf := make([]byte, 0, len(x.abs)*10+1)
	if x.neg {
		buf = append(buf, '-')
	}
	return string(d.format(buf, x.abs, level, 0))
}

// format appends x in base 10, left-padded with zeros to at least pad
// digits. x < 10^(9*2^(level+1)).
func (d *decimalPowers) format(buf []byte, x nat, level, pad int) []byte {
	if level < 0 || len(x) <= decimalLeafLimbs {
		return formatChunks(buf, x, pad)
	}
	hi, lo := d.a.divNat(x, d.at(level))
	width := decimalChunkDigits << level
	hiPad := pad - width
	if len(hi) == 0 && hiPad <= 0 {
		return d.format(buf, lo, level-1, pad)
	}
	buf = d.format(buf, hi, level-1, max(hiPad, 0))
	return d.format(buf, lo, level-1, width)
}

func formatChunks(buf []byte, x nat, pad int) []byte {
	var chunks []Word
	for rest := x; len(rest) > 0; {
		var r Word
		rest, r = divWord(rest, decimalChunk)
		chunks = append(chunks, r)
	}
	var top []byte
	n := 0
	if len(chunks) > 0 {
		top = strconv.AppendUint(nil, uint64(chunks[len(chunks)-1]), 10)
		n = len(top) + decimalChunkDigits*(len(chunks)-1)
	}
	for ; n < pad; n++ {
		buf = append(buf, '0')
	}
	buf = append(buf, top...)
	for i := len(chunks) - 2; i >= 0; i-- {
		buf = appendPadded(buf, chunks[i])
	}
	return buf
}

// appendPadded appends w as exactly nine digits.
func appendPadded(buf []byte, w Word) []byte {
	var b [decimalChunkDigits]byte
	for i := decimalChunkDigits - 1; i >= 0; i-- {
		b[i] = byte('0' + w%10)
		w /= 10
	}
	return append(buf, b[:]...)
}

package digits

import (
	"strings"
	"unicode"
)

// VerifyPrefix reports whether digits and reference agree on their common
// length. Whitespace in reference is ignored. Both must be non-empty.
func VerifyPrefix(digits, reference string) bool {
	ref := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, reference)
	if digits == "" || ref == "" {
		return false
	}
	if len(digits) < len(ref) {
		return strings.HasPrefix(ref, digits)
	}
	return strings.HasPrefix(digits, ref)
}

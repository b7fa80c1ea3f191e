// Package arena is the exact big-integer kernel used by the pi engine.
//
// An Int is a sign plus a little-endian sequence of 32-bit limbs. Values are
// immutable: every operation returns a new Int and never writes into the limb
// slice of an operand, so an Int can be shared between goroutines without
// locking.
//
// Arithmetic goes through an Arena, which carries the algorithm-selection
// thresholds and the hard limb ceiling:
//
//   - Mul uses schoolbook multiplication below KaratsubaThreshold limbs and
//     Karatsuba above it.
//   - QuoRem uses short division for single-limb divisors, Knuth long division
//     for ordinary divisors, and a Newton-Raphson reciprocal for large ones.
//     The Newton result is residual-checked before it is returned.
//   - Any result that would need more than MaxLimbs limbs fails with an
//     *OverflowError. Results are never truncated.
package arena

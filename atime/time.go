// Package atime implements the fixed-point acquisition-time type used
// throughout acqd: seconds in the upper 32 bits, a fractional part in
// the lower 32 bits. It is never a wall clock — only a way to date
// samples relative to a stream's own start.
package atime

// T is a fixed-point duration/timestamp: seconds in bits [63:32],
// fraction in bits [31:0]. Arithmetic wraps only past ~136 years.
type T uint64

// Zero is the additive identity.
const Zero T = 0

// FromSamples returns the time of the n-th sample at the given rate
// (samples per second), rounded down.
func FromSamples(rateHz uint32, n uint64) T {
	if rateHz == 0 {
		return 0
	}
	return T((n << 32) / uint64(rateHz))
}

// Samples returns how many whole samples at rateHz fit within t.
func (t T) Samples(rateHz uint32) uint64 {
	if rateHz == 0 {
		return 0
	}
	return (uint64(t) * uint64(rateHz)) >> 32
}

// Seconds returns t as a floating-point number of seconds.
func (t T) Seconds() float64 {
	return float64(uint64(t)) / float64(uint64(1)<<32)
}

// FromSeconds builds a T from a floating-point second count.
func FromSeconds(s float64) T {
	if s < 0 {
		s = 0
	}
	return T(s * float64(uint64(1)<<32))
}

// Add returns t + d.
func (t T) Add(d T) T { return t + d }

// Sub returns t - d, clamped to zero (T is unsigned).
func (t T) Sub(d T) T {
	if d > t {
		return 0
	}
	return t - d
}

// Less reports whether t < other.
func (t T) Less(other T) bool { return t < other }

// Max returns the larger of a and b.
func Max(a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b T) T {
	if a < b {
		return a
	}
	return b
}

package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MulDiv returns a*b/c with truncating division. It returns 0 when c is 0,
// which is what every caller wants for a missing voltage reading.
func MulDiv[T constraints.Signed](a, b, c T) T {
	if c == 0 {
		return 0
	}
	return a * b / c
}

package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// Min3 returns the smallest of three values.
func Min3[T constraints.Ordered](a, b, c T) T {
	return min(a, b, c)
}

// Max3 returns the largest of three values.
func Max3[T constraints.Ordered](a, b, c T) T {
	return max(a, b, c)
}

// ToUnorm8 converts a [0,1] channel value to an 8-bit unsigned normalized value.
func ToUnorm8(f float32) uint8 {
	return uint8(Clamp(f, 0, 1)*255 + 0.5)
}

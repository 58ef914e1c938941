package control

import "math"

// Control-law arithmetic is scaled-integer throughout. Gains carry fracBits
// fractional bits; MulQ multiplies a raw value by a gain and truncates back to
// integer units with an arithmetic shift, so results round toward negative
// infinity and are reproducible bit-for-bit. Overflow saturates, never wraps.

func MulQ(v, gain int64, fracBits uint) int64 {
	if v == 0 || gain == 0 {
		return 0
	}

	p := v * gain
	if p/gain != v {
		// saturate in the direction of the true product
		if (v < 0) != (gain < 0) {
			return math.MinInt64 >> fracBits
		}
		return math.MaxInt64 >> fracBits
	}

	return p >> fracBits
}

// Clamp bounds v to [min, max].
func Clamp(v, min, max int64) int64 {
	if v > max {
		return max
	}
	if v < min {
		return min
	}
	return v
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

package nn

// Sat clamps value to [min, max].
func Sat(value, max, min float64) float64 {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}

// MinMaxNormalize maps values onto [0, 1] using the slice's own range. A flat
// slice maps to 0.5 everywhere.
func MinMaxNormalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	for i, v := range values {
		out[i] = MinMaxValue(v, lo, hi)
	}
	return out
}

// MinMaxValue places value inside [lo, hi] as a fraction in [0, 1].
func MinMaxValue(value, lo, hi float64) float64 {
	if hi == lo {
		return 0.5
	}
	return Sat((value-lo)/(hi-lo), 1, 0)
}

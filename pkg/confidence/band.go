package confidence

// BandWidth returns the relative half-width of the sensitivity band
// associated with a confidence label: HARD values carry a narrow band,
// ASSUMED values a wide one. Quality-vocabulary labels normalize into
// the same three bands.
func BandWidth(label string) float64 {
	switch Normalize(label) {
	case "HARD":
		return 0.05
	case "ESTIMATED":
		return 0.15
	default:
		return 0.30
	}
}

// Band computes the [low, high] sensitivity envelope around a value.
// The half-width scales with the magnitude of the value, so a negative
// value still yields low <= value <= high.
func Band(value float64, label string) (low, high float64) {
	w := BandWidth(label)
	span := w * abs(value)
	return value - span, value + span
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

package input

// axisStep is the outcome of applying one raw delta to one axis.
type axisStep struct {
	newPos      float64
	crossedLow  bool // left or top edge
	crossedHigh bool // right or bottom edge
}

// stepAxis advances one axis by delta, clamping to [0, dim], and reports
// whether the position crossed the low or high edge threshold. A crossing
// replaces the plain move for that sample; at most one of crossedLow and
// crossedHigh is set.
func stepAxis(old, delta, dim, threshold float64) axisStep {
	pos := clamp(old+delta, 0, dim)

	step := axisStep{newPos: pos}
	switch {
	case old >= threshold && pos < threshold:
		step.crossedLow = true
	case old <= dim-threshold && pos > dim-threshold:
		step.crossedHigh = true
	}
	return step
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

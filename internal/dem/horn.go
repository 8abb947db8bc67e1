package dem

import "math"

// FlatAspect is the aspect reported for cells with no measurable gradient.
const FlatAspect = -1.0

// flatGradient is the gradient magnitude below which a cell counts as flat.
const flatGradient = 1e-8

// Horn computes slope (degrees) and aspect (compass bearing of the downhill
// direction, degrees in [0,360) or FlatAspect) from a 3×3 row-major window
// a..i with e at the centre. Missing neighbours take the centre value before
// the kernel runs. A missing centre yields ok=false and NaN outputs.
func Horn(win *[9]float64, cellW, cellH float64) (slope, aspect float64, ok bool) {
	e := win[4]
	if math.IsNaN(e) {
		return math.NaN(), math.NaN(), false
	}

	a, b, c := fill(win[0], e), fill(win[1], e), fill(win[2], e)
	d, f := fill(win[3], e), fill(win[5], e)
	g, h, i := fill(win[6], e), fill(win[7], e), fill(win[8], e)

	dzdx := ((c + 2*f + i) - (a + 2*d + g)) / (8 * cellW)
	dzdy := ((g + 2*h + i) - (a + 2*b + c)) / (8 * cellH)

	grad := math.Hypot(dzdx, dzdy)
	slope = math.Atan(grad) * 180 / math.Pi
	if grad < flatGradient {
		return 0, FlatAspect, true
	}

	aspect = math.Atan2(-dzdx, dzdy) * 180 / math.Pi
	if aspect < 0 {
		aspect += 360
	}
	if aspect >= 360 {
		aspect -= 360
	}
	return slope, aspect, true
}

func fill(v, centre float64) float64 {
	if math.IsNaN(v) {
		return centre
	}
	return v
}

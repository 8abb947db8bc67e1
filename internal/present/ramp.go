// Package present turns score rasters into colour images.
package present

import (
	"image/color"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
)

// rampSize is the number of palette entries a ramp precomputes.
const rampSize = 256

var ramps = map[string]func() palette.ColorMap{
	"blue_red":   func() palette.ColorMap { return moreland.SmoothBlueRed() },
	"black_body": moreland.ExtendedBlackBody,
	"kindlmann":  moreland.Kindlmann,
}

// RampNames lists the available colour ramps.
func RampNames() []string {
	names := make([]string, 0, len(ramps))
	for n := range ramps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Ramp is a perceptual colour ramp sampled into a fixed lookup table over
// [0,1].
type Ramp struct {
	name string
	lut  [rampSize]color.NRGBA
}

// NewRamp builds the named ramp. reverse flips it end to end.
func NewRamp(name string, reverse bool) (*Ramp, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	mk, ok := ramps[key]
	if !ok {
		return nil, eris.Errorf("present: unknown ramp %q (want one of %s)", name, strings.Join(RampNames(), ", "))
	}
	cm := mk()
	if reverse {
		cm = palette.Reverse(cm)
	}
	cm.SetMin(0)
	cm.SetMax(1)

	r := &Ramp{name: key}
	for i := range r.lut {
		c, err := cm.At(float64(i) / (rampSize - 1))
		if err != nil {
			return nil, eris.Wrapf(err, "present: sample ramp %s", key)
		}
		r.lut[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
	}
	return r, nil
}

// Name returns the ramp name.
func (r *Ramp) Name() string { return r.name }

// At returns the opaque colour for v, clamped to [0,1].
func (r *Ramp) At(v float64) color.NRGBA {
	return r.lut[rampIndex(v)]
}

func rampIndex(v float64) int {
	i := int(math.Round(v * (rampSize - 1)))
	return min(max(i, 0), rampSize-1)
}

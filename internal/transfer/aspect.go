package transfer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// FlatScore is the aspect score of terrain without a measurable bearing.
const FlatScore = 0.5

// AspectPreferences holds a preference in [0,1] for each compass direction
// a slope can face.
type AspectPreferences struct {
	N  float64 `json:"n" yaml:"n" mapstructure:"n"`
	NE float64 `json:"ne" yaml:"ne" mapstructure:"ne"`
	E  float64 `json:"e" yaml:"e" mapstructure:"e"`
	SE float64 `json:"se" yaml:"se" mapstructure:"se"`
	S  float64 `json:"s" yaml:"s" mapstructure:"s"`
	SW float64 `json:"sw" yaml:"sw" mapstructure:"sw"`
	W  float64 `json:"w" yaml:"w" mapstructure:"w"`
	NW float64 `json:"nw" yaml:"nw" mapstructure:"nw"`
}

// DefaultAspectPreferences favours south-facing slopes.
func DefaultAspectPreferences() AspectPreferences {
	return AspectPreferences{N: 0.2, NE: 0.3, E: 0.6, SE: 0.9, S: 1, SW: 0.9, W: 0.6, NW: 0.3}
}

// Directions returns the preferences clockwise from north.
func (a AspectPreferences) Directions() [8]float64 {
	return [8]float64{a.N, a.NE, a.E, a.SE, a.S, a.SW, a.W, a.NW}
}

// Validate reports preferences outside [0,1].
func (a AspectPreferences) Validate() error {
	names := [8]string{"n", "ne", "e", "se", "s", "sw", "w", "nw"}
	var errs []string
	for i, v := range a.Directions() {
		if math.IsNaN(v) || v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s must be in [0,1], got %g", names[i], v))
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("transfer: invalid aspect preferences: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Score interpolates the preference at bearing (degrees) with a cosine blend
// between the two bracketing directions. Negative bearings are flat terrain.
func (a AspectPreferences) Score(bearing float64) float64 {
	dirs := a.Directions()
	return scoreAspect(&dirs, bearing)
}

// ScoreGrid scores every bearing of xs into dst like EvaluateGrid.
func (a AspectPreferences) ScoreGrid(xs, dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(xs))
	}
	dst = dst[:len(xs)]
	dirs := a.Directions()
	for i, x := range xs {
		dst[i] = scoreAspect(&dirs, x)
	}
	return dst
}

func scoreAspect(dirs *[8]float64, bearing float64) float64 {
	switch {
	case math.IsNaN(bearing), math.IsInf(bearing, 0):
		return math.NaN()
	case bearing < 0:
		return FlatScore
	}
	bearing = math.Mod(bearing, 360)
	sector := bearing / 45
	i := int(sector)
	frac := sector - float64(i)
	t := 0.5 * (1 - math.Cos(frac*math.Pi))
	return dirs[i%8]*(1-t) + dirs[(i+1)%8]*t
}

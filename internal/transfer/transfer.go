// Package transfer maps raw measurements to desirability scores through
// configurable curves.
package transfer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Shape selects the curve between the plateau and the decay end.
type Shape int

const (
	// Sin holds ceiling up to the plateau and eases down to floor.
	Sin Shape = iota
	// InvertedSin mirrors Sin: floor up to the plateau, easing up to ceiling.
	InvertedSin
	// Linear falls in a straight line from ceiling to floor.
	Linear
	// InvertedLinear rises in a straight line from floor to ceiling.
	InvertedLinear
)

var shapeNames = [...]string{"sin", "inverted_sin", "linear", "inverted_linear"}

func (s Shape) String() string {
	if s < 0 || int(s) >= len(shapeNames) {
		return fmt.Sprintf("shape(%d)", int(s))
	}
	return shapeNames[s]
}

// Inverted reports whether the curve rises with its input.
func (s Shape) Inverted() bool { return s == InvertedSin || s == InvertedLinear }

// ParseShape accepts the shape names with either '_' or '-' separators.
func ParseShape(name string) (Shape, error) {
	n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for i, s := range shapeNames {
		if n == s {
			return Shape(i), nil
		}
	}
	return 0, eris.Errorf("transfer: unknown shape %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Shape) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(shapeNames) {
		return nil, eris.Errorf("transfer: invalid shape %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Shape) UnmarshalText(text []byte) error {
	v, err := ParseShape(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// DisqualifyEpsilon is the tolerance above floor within which a mandatory
// score disqualifies.
const DisqualifyEpsilon = 1e-6

// stepEpsilon is the plateau/decay separation below which a curve degrades
// to a step.
const stepEpsilon = 1e-9

// Function is one scoring curve. For Sin and Linear, inputs at or below
// PlateauStart score Ceiling and inputs at or above DecayEnd score Floor;
// inverted shapes swap the two ends.
type Function struct {
	PlateauStart float64 `json:"plateau_start" yaml:"plateau_start" mapstructure:"plateau_start"`
	DecayEnd     float64 `json:"decay_end" yaml:"decay_end" mapstructure:"decay_end"`
	Floor        float64 `json:"floor" yaml:"floor" mapstructure:"floor"`
	Ceiling      float64 `json:"ceiling" yaml:"ceiling" mapstructure:"ceiling"`
	Shape        Shape   `json:"shape" yaml:"shape" mapstructure:"shape"`
	Mandatory    bool    `json:"mandatory" yaml:"mandatory" mapstructure:"mandatory"`
}

// Problems lists every configuration error in f.
func (f Function) Problems() []string {
	var errs []string
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"plateau_start", f.PlateauStart},
		{"decay_end", f.DecayEnd},
		{"floor", f.Floor},
		{"ceiling", f.Ceiling},
	} {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			errs = append(errs, v.name+" must be finite")
		}
	}
	if f.DecayEnd < f.PlateauStart {
		errs = append(errs, fmt.Sprintf("decay_end %g must be >= plateau_start %g", f.DecayEnd, f.PlateauStart))
	}
	for _, v := range []struct {
		name  string
		value float64
	}{{"floor", f.Floor}, {"ceiling", f.Ceiling}} {
		if v.value < 0 || v.value > 1 {
			errs = append(errs, fmt.Sprintf("%s %g must be within [0,1]", v.name, v.value))
		}
	}
	if f.Floor > f.Ceiling {
		errs = append(errs, fmt.Sprintf("floor %g must be <= ceiling %g", f.Floor, f.Ceiling))
	}
	if f.Shape < Sin || f.Shape > InvertedLinear {
		errs = append(errs, fmt.Sprintf("invalid shape %d", int(f.Shape)))
	}
	return errs
}

// Validate returns all problems with f as one error.
func (f Function) Validate() error {
	if errs := f.Problems(); len(errs) > 0 {
		return eris.Errorf("transfer: invalid function: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Step reports whether the curve is a step at PlateauStart.
func (f Function) Step() bool {
	return math.Abs(f.DecayEnd-f.PlateauStart) < stepEpsilon
}

// Evaluate scores x. NaN in gives NaN out.
func (f Function) Evaluate(x float64) float64 {
	if math.IsNaN(x) {
		return math.NaN()
	}
	good, bad := f.Ceiling, f.Floor
	if f.Shape.Inverted() {
		good, bad = bad, good
	}

	if f.Step() {
		if x < f.PlateauStart {
			return good
		}
		return bad
	}
	if x <= f.PlateauStart {
		return good
	}
	if x >= f.DecayEnd {
		return bad
	}

	t := (x - f.PlateauStart) / (f.DecayEnd - f.PlateauStart)
	switch f.Shape {
	case Sin:
		return f.Floor + (f.Ceiling-f.Floor)*0.5*(1+math.Cos(math.Pi*t))
	case InvertedSin:
		return f.Floor + (f.Ceiling-f.Floor)*0.5*(1-math.Cos(math.Pi*t))
	case Linear:
		return f.Ceiling - (f.Ceiling-f.Floor)*t
	default:
		return f.Floor + (f.Ceiling-f.Floor)*t
	}
}

// EvaluateGrid scores every element of xs into dst, which must be at least
// as long as xs, and returns dst[:len(xs)]. A nil dst is allocated.
func (f Function) EvaluateGrid(xs, dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(xs))
	}
	dst = dst[:len(xs)]

	good, bad := f.Ceiling, f.Floor
	if f.Shape.Inverted() {
		good, bad = bad, good
	}
	m, n := f.PlateauStart, f.DecayEnd
	nan := math.NaN()

	if f.Step() {
		for i, x := range xs {
			switch {
			case math.IsNaN(x):
				dst[i] = nan
			case x < m:
				dst[i] = good
			default:
				dst[i] = bad
			}
		}
		return dst
	}

	span := n - m
	rng := f.Ceiling - f.Floor
	for i, x := range xs {
		switch {
		case math.IsNaN(x):
			dst[i] = nan
			continue
		case x <= m:
			dst[i] = good
			continue
		case x >= n:
			dst[i] = bad
			continue
		}
		t := (x - m) / span
		switch f.Shape {
		case Sin:
			dst[i] = f.Floor + rng*0.5*(1+math.Cos(math.Pi*t))
		case InvertedSin:
			dst[i] = f.Floor + rng*0.5*(1-math.Cos(math.Pi*t))
		case Linear:
			dst[i] = f.Ceiling - rng*t
		default:
			dst[i] = f.Floor + rng*t
		}
	}
	return dst
}

// Disqualifies reports whether score is at the floor. NaN never disqualifies.
func (f Function) Disqualifies(score float64) bool {
	return score <= f.Floor+DisqualifyEpsilon
}

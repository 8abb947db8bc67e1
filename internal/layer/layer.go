// Package layer describes the scoring layers a composite score combines.
package layer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/livability/internal/transfer"
)

// Kind is the closed set of layer kinds.
type Kind int

const (
	// KindSlope scores terrain slope in degrees.
	KindSlope Kind = iota
	// KindElevation scores terrain elevation in metres.
	KindElevation
	// KindAspect scores the compass direction a slope faces.
	KindAspect
	// KindAttribute scores one region attribute variable.
	KindAttribute

	numKinds
)

// Input names the buffer a layer reads.
type Input int

const (
	InputSlope Input = iota
	InputElevation
	InputAspect
	InputAttribute
)

// Resolver describes how a layer kind is fed and scored.
type Resolver struct {
	Name string
	// Terrain layers vary per pixel; the rest are constant per region.
	Terrain bool
	Input   Input
	// AspectMap layers score with AspectPreferences instead of a transfer
	// function.
	AspectMap bool
}

var resolvers = [numKinds]Resolver{
	KindSlope:     {Name: "slope", Terrain: true, Input: InputSlope},
	KindElevation: {Name: "elevation", Terrain: true, Input: InputElevation},
	KindAspect:    {Name: "aspect", Terrain: true, Input: InputAspect, AspectMap: true},
	KindAttribute: {Name: "attribute", Input: InputAttribute},
}

// Resolve returns the resolver of k. It panics on an invalid kind.
func (k Kind) Resolve() Resolver {
	return resolvers[k]
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k >= 0 && k < numKinds }

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return resolvers[k].Name
}

// ParseKind parses a kind name.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for k := Kind(0); k < numKinds; k++ {
		if resolvers[k].Name == n {
			return k, nil
		}
	}
	return 0, eris.Errorf("layer: unknown kind %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, eris.Errorf("layer: invalid kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Spec configures one layer.
type Spec struct {
	ID      string  `json:"id" yaml:"id" mapstructure:"id"`
	Kind    Kind    `json:"kind" yaml:"kind" mapstructure:"kind"`
	Enabled bool    `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Weight  float64 `json:"weight" yaml:"weight" mapstructure:"weight"`
	// Variable is the attribute variable an attribute layer scores.
	Variable string `json:"variable,omitempty" yaml:"variable,omitempty" mapstructure:"variable"`
	// SummaryVariable is the per-region attribute a terrain layer scores
	// when whole regions are ranked, e.g. "terrain.mean_slope".
	SummaryVariable string                      `json:"summary_variable,omitempty" yaml:"summary_variable,omitempty" mapstructure:"summary_variable"`
	Transfer        transfer.Function           `json:"transfer" yaml:"transfer" mapstructure:"transfer"`
	Aspect          *transfer.AspectPreferences `json:"aspect,omitempty" yaml:"aspect,omitempty" mapstructure:"aspect"`
}

// AspectPreferences returns the configured preferences or the defaults.
func (s Spec) AspectPreferences() transfer.AspectPreferences {
	if s.Aspect != nil {
		return *s.Aspect
	}
	return transfer.DefaultAspectPreferences()
}

// Problems lists every configuration error in s.
func (s Spec) Problems() []string {
	var errs []string
	if s.ID == "" {
		errs = append(errs, "id must be set")
	}
	if !s.Kind.Valid() {
		return append(errs, fmt.Sprintf("invalid kind %d", int(s.Kind)))
	}
	if math.IsNaN(s.Weight) || math.IsInf(s.Weight, 0) || s.Weight < 0 {
		errs = append(errs, "weight must be a finite number >= 0")
	}

	r := s.Kind.Resolve()
	if r.Input == InputAttribute && s.Variable == "" {
		errs = append(errs, "attribute layers need a variable")
	}
	if r.AspectMap {
		if s.Aspect != nil {
			if err := s.Aspect.Validate(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	} else {
		errs = append(errs, s.Transfer.Problems()...)
	}
	return errs
}

// Validate checks a layer list: every spec and ID uniqueness.
func Validate(specs []Spec) error {
	var errs []string
	seen := make(map[string]bool, len(specs))
	for i, s := range specs {
		name := s.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		for _, p := range s.Problems() {
			errs = append(errs, name+": "+p)
		}
		if s.ID != "" && seen[s.ID] {
			errs = append(errs, name+": duplicate id")
		}
		seen[s.ID] = true
	}
	if len(errs) > 0 {
		return eris.Errorf("layer: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DefaultSpecs returns the terrain layers enabled out of the box.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			ID: "slope", Kind: KindSlope, Enabled: true, Weight: 2,
			SummaryVariable: "terrain.mean_slope",
			Transfer: transfer.Function{
				PlateauStart: 5, DecayEnd: 30, Floor: 0, Ceiling: 1, Shape: transfer.Sin,
			},
		},
		{
			ID: "elevation", Kind: KindElevation, Enabled: true, Weight: 1,
			SummaryVariable: "terrain.mean_elevation",
			Transfer: transfer.Function{
				PlateauStart: 800, DecayEnd: 2000, Floor: 0, Ceiling: 1, Shape: transfer.Sin,
			},
		},
		{
			ID: "aspect", Kind: KindAspect, Enabled: true, Weight: 0.5,
		},
	}
}

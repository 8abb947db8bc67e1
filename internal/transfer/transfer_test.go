package transfer

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var allShapes = []Shape{Sin, InvertedSin, Linear, InvertedLinear}

func TestEvaluate_BoundsHold(t *testing.T) {
	for _, shape := range allShapes {
		t.Run(shape.String(), func(t *testing.T) {
			f := Function{PlateauStart: 5, DecayEnd: 15, Floor: 0.1, Ceiling: 0.9, Shape: shape}
			low, high := f.Ceiling, f.Floor
			if shape.Inverted() {
				low, high = high, low
			}
			for _, x := range []float64{-100, 0, 4.99, 5} {
				assert.Equal(t, low, f.Evaluate(x), "x=%v", x)
			}
			for _, x := range []float64{15, 15.01, 40, 1e9} {
				assert.Equal(t, high, f.Evaluate(x), "x=%v", x)
			}
		})
	}
}

func TestEvaluate_Monotonic(t *testing.T) {
	for _, shape := range allShapes {
		f := Function{PlateauStart: 0, DecayEnd: 1, Floor: 0, Ceiling: 1, Shape: shape}
		prev := f.Evaluate(0)
		for x := 0.01; x <= 1.0001; x += 0.01 {
			v := f.Evaluate(x)
			if shape.Inverted() {
				assert.GreaterOrEqual(t, v, prev, "%s at %v", shape, x)
			} else {
				assert.LessOrEqual(t, v, prev, "%s at %v", shape, x)
			}
			prev = v
		}
	}
}

func TestEvaluate_Midpoints(t *testing.T) {
	tests := []struct {
		shape Shape
		x     float64
		want  float64
	}{
		{Sin, 10, 0.5},
		{Sin, 7.5, 0.5 * (1 + math.Cos(math.Pi/4))},
		{InvertedSin, 7.5, 0.5 * (1 - math.Cos(math.Pi/4))},
		{Linear, 7.5, 0.75},
		{InvertedLinear, 7.5, 0.25},
	}
	for _, tt := range tests {
		f := Function{PlateauStart: 5, DecayEnd: 15, Floor: 0, Ceiling: 1, Shape: tt.shape}
		assert.InDelta(t, tt.want, f.Evaluate(tt.x), 1e-12, "%s at %v", tt.shape, tt.x)
	}
}

func TestEvaluate_NaNPropagates(t *testing.T) {
	for _, shape := range allShapes {
		f := Function{PlateauStart: 1, DecayEnd: 2, Ceiling: 1, Shape: shape}
		assert.True(t, math.IsNaN(f.Evaluate(math.NaN())))
		out := f.EvaluateGrid([]float64{math.NaN(), 0}, nil)
		assert.True(t, math.IsNaN(out[0]))
		assert.Equal(t, 1.0-boolFloat(shape.Inverted()), out[1])
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func TestEvaluate_DegenerateIsStep(t *testing.T) {
	f := Function{PlateauStart: 10, DecayEnd: 10, Floor: 0.2, Ceiling: 1, Shape: Sin}
	assert.True(t, f.Step())
	assert.Equal(t, 1.0, f.Evaluate(9.999))
	assert.Equal(t, 0.2, f.Evaluate(10))
	assert.Equal(t, 0.2, f.Evaluate(11))

	f.Shape = InvertedLinear
	assert.Equal(t, 0.2, f.Evaluate(9.999))
	assert.Equal(t, 1.0, f.Evaluate(10))

	grid := f.EvaluateGrid([]float64{9, 10, 11}, make([]float64, 5))
	assert.Equal(t, []float64{0.2, 1, 1}, grid)
}

func TestEvaluateGrid_MatchesScalar(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	xs := make([]float64, 1000)
	dst := make([]float64, len(xs))

	for _, shape := range allShapes {
		m := rng.Float64() * 50
		n := m + rng.Float64()*50
		floor := rng.Float64() * 0.5
		f := Function{PlateauStart: m, DecayEnd: n, Floor: floor, Ceiling: 1, Shape: shape}
		for i := range xs {
			xs[i] = rng.Float64()*120 - 10
		}

		got := f.EvaluateGrid(xs, dst)
		require.Len(t, got, len(xs))
		for i, x := range xs {
			assert.InDelta(t, f.Evaluate(x), got[i], 1e-5, "%s x=%v", shape, x)
		}
	}
}

func TestDisqualifies(t *testing.T) {
	f := Function{PlateauStart: 5, DecayEnd: 10, Floor: 0, Ceiling: 1, Shape: Sin, Mandatory: true}
	assert.True(t, f.Disqualifies(f.Evaluate(10)))
	assert.True(t, f.Disqualifies(f.Evaluate(50)))
	assert.True(t, f.Disqualifies(5e-7))
	assert.False(t, f.Disqualifies(f.Evaluate(9)))
	assert.False(t, f.Disqualifies(math.NaN()))
}

func TestValidate(t *testing.T) {
	good := Function{PlateauStart: 1, DecayEnd: 2, Floor: 0, Ceiling: 1}
	assert.NoError(t, good.Validate())

	bad := Function{PlateauStart: 3, DecayEnd: 2, Floor: 2, Ceiling: 1, Shape: Shape(9)}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decay_end")
	assert.Contains(t, err.Error(), "floor")
	assert.Contains(t, err.Error(), "invalid shape")
	assert.Len(t, bad.Problems(), 4)

	assert.Error(t, Function{DecayEnd: math.Inf(1)}.Validate())
}

func TestValidate_ScoreRange(t *testing.T) {
	tests := []struct {
		name           string
		floor, ceiling float64
		problem        string
	}{
		{"negative floor", -1, 0, "floor -1 must be within [0,1]"},
		{"ceiling above one", 0, 1.5, "ceiling 1.5 must be within [0,1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Function{PlateauStart: 0, DecayEnd: 10, Floor: tt.floor, Ceiling: tt.ceiling, Shape: Linear}
			err := f.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.problem)
		})
	}

	edge := Function{PlateauStart: 0, DecayEnd: 10, Floor: 0, Ceiling: 1, Shape: Linear}
	assert.NoError(t, edge.Validate())
}

func TestShape_Text(t *testing.T) {
	for _, shape := range allShapes {
		got, err := ParseShape(shape.String())
		require.NoError(t, err)
		assert.Equal(t, shape, got)
	}
	got, err := ParseShape("Inverted-Sin")
	require.NoError(t, err)
	assert.Equal(t, InvertedSin, got)

	_, err = ParseShape("cubic")
	assert.Error(t, err)

	var f Function
	require.NoError(t, yaml.Unmarshal([]byte("shape: inverted_linear\ndecay_end: 4\n"), &f))
	assert.Equal(t, InvertedLinear, f.Shape)
	assert.Equal(t, 4.0, f.DecayEnd)

	b, err := json.Marshal(Function{Shape: Linear})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"shape":"linear"`)
}

func TestAspect_CompassPoints(t *testing.T) {
	a := DefaultAspectPreferences()
	dirs := a.Directions()
	for i, want := range dirs {
		assert.InDelta(t, want, a.Score(float64(i)*45), 1e-12)
	}
	assert.InDelta(t, a.N, a.Score(360), 1e-12)
}

func TestAspect_CosineBlend(t *testing.T) {
	a := AspectPreferences{N: 0, NE: 1}
	assert.InDelta(t, 0.5, a.Score(22.5), 1e-12)
	assert.InDelta(t, 0.5*(1-math.Cos(math.Pi/4)), a.Score(11.25), 1e-12)

	wrap := AspectPreferences{N: 1, NW: 0}
	assert.InDelta(t, 0.5, wrap.Score(337.5), 1e-12)
}

func TestAspect_FlatAndMissing(t *testing.T) {
	a := AspectPreferences{}
	assert.Equal(t, FlatScore, a.Score(-1))
	assert.True(t, math.IsNaN(a.Score(math.NaN())))
	assert.True(t, math.IsNaN(a.Score(math.Inf(1))))
	assert.True(t, math.IsNaN(a.Score(math.Inf(-1))))

	out := a.ScoreGrid([]float64{-1, math.NaN(), 0}, nil)
	assert.Equal(t, FlatScore, out[0])
	assert.True(t, math.IsNaN(out[1]))
	assert.Equal(t, 0.0, out[2])
}

func TestAspect_GridMatchesScalar(t *testing.T) {
	a := DefaultAspectPreferences()
	xs := make([]float64, 720)
	for i := range xs {
		xs[i] = float64(i) / 2
	}
	got := a.ScoreGrid(xs, nil)
	for i, x := range xs {
		assert.InDelta(t, a.Score(x), got[i], 1e-12)
	}
}

func TestAspect_Validate(t *testing.T) {
	assert.NoError(t, DefaultAspectPreferences().Validate())
	bad := DefaultAspectPreferences()
	bad.SW = 1.5
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sw")
}

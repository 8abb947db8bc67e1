package dem

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

func TestHorn_Flat(t *testing.T) {
	win := [9]float64{50, 50, 50, 50, 50, 50, 50, 50, 50}
	slope, aspect, ok := Horn(&win, 30, 30)
	assert.True(t, ok)
	assert.Equal(t, 0.0, slope)
	assert.Equal(t, FlatAspect, aspect)
}

func TestHorn_EastWestGradient(t *testing.T) {
	const delta, cell = 10.0, 30.0
	// Rising to the east: the slope faces west.
	win := [9]float64{
		0, delta, 2 * delta,
		0, delta, 2 * delta,
		0, delta, 2 * delta,
	}
	slope, aspect, ok := Horn(&win, cell, cell)
	assert.True(t, ok)
	assert.InDelta(t, degrees(math.Atan(delta/cell)), slope, 1e-4)
	assert.InDelta(t, 270, aspect, 1e-9)
}

func TestHorn_NorthSouthGradient(t *testing.T) {
	const delta, cell = 10.0, 30.0
	// Rising to the south: the slope faces north.
	win := [9]float64{
		0, 0, 0,
		delta, delta, delta,
		2 * delta, 2 * delta, 2 * delta,
	}
	slope, aspect, ok := Horn(&win, cell, cell)
	assert.True(t, ok)
	assert.InDelta(t, degrees(math.Atan(delta/cell)), slope, 1e-4)
	assert.InDelta(t, 0, aspect, 1e-9)
}

func TestHorn_AnisotropicCells(t *testing.T) {
	win := [9]float64{
		0, 0, 0,
		5, 5, 5,
		10, 10, 10,
	}
	slope, _, ok := Horn(&win, 100, 20)
	assert.True(t, ok)
	assert.InDelta(t, degrees(math.Atan(5.0/20)), slope, 1e-4)
}

func TestHorn_MissingNeighboursFlatten(t *testing.T) {
	nan := math.NaN()
	full := [9]float64{
		0, 100, 100,
		0, 100, 100,
		0, 100, 100,
	}
	partial := full
	partial[3] = nan
	partial[6] = nan

	fullSlope, _, ok := Horn(&full, 30, 30)
	assert.True(t, ok)
	partialSlope, _, ok := Horn(&partial, 30, 30)
	assert.True(t, ok)
	assert.Less(t, partialSlope, fullSlope)
	assert.Greater(t, partialSlope, 0.0)
}

func TestHorn_MissingCentre(t *testing.T) {
	win := [9]float64{1, 2, 3, 4, math.NaN(), 6, 7, 8, 9}
	slope, aspect, ok := Horn(&win, 30, 30)
	assert.False(t, ok)
	assert.True(t, math.IsNaN(slope))
	assert.True(t, math.IsNaN(aspect))
}

func TestHorn_AllNeighboursMissingIsFlat(t *testing.T) {
	nan := math.NaN()
	win := [9]float64{nan, nan, nan, nan, 12, nan, nan, nan, nan}
	slope, aspect, ok := Horn(&win, 30, 30)
	assert.True(t, ok)
	assert.Equal(t, 0.0, slope)
	assert.Equal(t, FlatAspect, aspect)
}

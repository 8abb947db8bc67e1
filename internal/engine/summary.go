package engine

import (
	"github.com/sells-group/livability/internal/attribute"
	"github.com/sells-group/livability/internal/geo"
	"github.com/sells-group/livability/internal/region"
)

// Terrain summary variables written by SummarizeTerrain.
const (
	MeanSlopeVariable     = "terrain.mean_slope"
	MeanElevationVariable = "terrain.mean_elevation"
)

// SummarizeTerrain averages resident terrain over each region of the current
// set on a grid covering the extent at zoom, and returns the means as a
// table. Regions without valid terrain get no entry.
func (e *Engine) SummarizeTerrain(zoom int) *attribute.Table {
	st := e.snapshot()
	out := attribute.NewTable()
	if st.regions.Len() == 0 {
		return out
	}

	w, h := e.Dimensions(Request{Zoom: zoom}, e.cfg.Extent)
	grid := region.MembershipGrid(geo.NewGrid(e.cfg.Extent, w, h), e.cfg.MembershipMaxCells)
	membership, _ := e.membership.Get(e.indexes.Get(st.regions), grid)
	samples := e.provider.SampleGrid(grid)
	defer samples.Release()

	n := st.regions.Len()
	slope := make([]float64, n)
	elev := make([]float64, n)
	count := make([]int, n)
	for i, cell := range membership.Cells {
		if cell == region.Outside || !samples.Valid[i] {
			continue
		}
		slope[cell] += samples.Slope[i]
		elev[cell] += samples.Elevation[i]
		count[cell]++
	}

	for i, r := range st.regions.Regions() {
		if count[i] == 0 {
			continue
		}
		out.Set(r.Key, MeanSlopeVariable, slope[i]/float64(count[i]))
		out.Set(r.Key, MeanElevationVariable, elev[i]/float64(count[i]))
	}
	return out
}

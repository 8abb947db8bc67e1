package scorer

import (
	"math"
	"sort"
	"strconv"

	"github.com/sells-group/livability/internal/attribute"
	"github.com/sells-group/livability/internal/dem"
	"github.com/sells-group/livability/internal/geo"
	"github.com/sells-group/livability/internal/region"
)

// Value is a score that encodes NaN as JSON null.
type Value float64

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

// LayerScore is one layer's input and sub-score.
type LayerScore struct {
	ID    string `json:"id"`
	Input Value  `json:"input"`
	Score Value  `json:"score"`
	// Disqualifies is set when the layer is mandatory and rejects the input.
	Disqualifies bool `json:"disqualifies,omitempty"`
}

// PointInput describes one location to score.
type PointInput struct {
	Terrain dem.Sample
	// HasRegions is false when no region set is loaded.
	HasRegions bool
	Region     int32
	LUTs       *attribute.LUTSet
}

// PointScore is the composite and per-layer breakdown at one location.
type PointScore struct {
	Score        Value        `json:"score"`
	Disqualified bool         `json:"disqualified"`
	Layers       []LayerScore `json:"layers"`
}

// Point scores one location by running Score over a 1×1 input.
func (s *Scorer) Point(p PointInput) PointScore {
	t := p.Terrain
	in := Inputs{
		Width: 1, Height: 1,
		Terrain: &dem.Samples{
			Width: 1, Height: 1,
			Slope:     []float64{t.Slope},
			Elevation: []float64{t.Elevation},
			Aspect:    []float64{t.Aspect},
			Valid:     []bool{t.Valid},
			FineZoom:  -1,
		},
		LUTs: p.LUTs,
	}
	if p.HasRegions {
		in.Membership = &region.Raster{Grid: geo.NewGrid(geo.Bounds{}, 1, 1), Cells: []int32{p.Region}}
	}

	r := s.Score(in)
	v := r.Values[0]
	r.Release()

	out := PointScore{Score: Value(v), Disqualified: IsDisqualified(v)}
	if out.Disqualified {
		out.Score = Value(math.NaN())
	}
	for _, c := range append(append([]compiled(nil), s.terrain...), s.regional...) {
		x := math.NaN()
		if c.resolver.Terrain {
			x = terrainInput(in.Terrain, c.resolver.Input)[0]
		} else if p.HasRegions && p.LUTs != nil {
			x = p.LUTs.Value(c.spec.Variable, p.Region)
		}
		sc := c.eval.score(x)
		out.Layers = append(out.Layers, LayerScore{
			ID:           c.spec.ID,
			Input:        Value(x),
			Score:        Value(sc),
			Disqualifies: c.eval.mandatory() && !math.IsNaN(sc) && c.eval.disqualifies(sc),
		})
	}
	return out
}

// RegionScore is the composite of one whole region.
type RegionScore struct {
	Index        int     `json:"index"`
	Key          string  `json:"key"`
	Name         string  `json:"name"`
	Score        Value   `json:"score"`
	Disqualified bool    `json:"disqualified"`
	Weight       float64 `json:"weight"`
}

// RegionScores scores every region of set from its attributes. Terrain
// layers take part through their summary variable when one is configured.
// Results are ordered by descending score; disqualified regions come last.
func (s *Scorer) RegionScores(set *region.Set, luts *attribute.LUTSet) []RegionScore {
	n := set.Len()
	if luts != nil && luts.Regions() < n {
		n = luts.Regions()
	}
	layers := append(append([]compiled(nil), s.terrain...), s.regional...)
	rs := s.regionPass(n, luts, layers, summaryVariable)
	defer rs.release(s.bufs)

	out := make([]RegionScore, 0, set.Len())
	for i, r := range set.Regions() {
		sc := RegionScore{Index: r.Index, Key: r.Key, Name: r.Name, Score: Value(s.opts.Neutral)}
		if i < n {
			sc.Weight = rs.weight[i]
			switch {
			case rs.disq[i] != 0:
				sc.Disqualified = true
				sc.Score = Value(math.NaN())
			case rs.weight[i] > 0:
				sc.Score = Value(rs.sum[i] / rs.weight[i])
			}
		}
		out = append(out, sc)
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Disqualified != out[b].Disqualified {
			return !out[a].Disqualified
		}
		return out[a].Score > out[b].Score
	})
	return out
}

package scorer

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	_ "modernc.org/sqlite"

	"github.com/sells-group/livability/internal/attribute"
	"github.com/sells-group/livability/internal/bufpool"
	"github.com/sells-group/livability/internal/dem"
	"github.com/sells-group/livability/internal/geo"
	"github.com/sells-group/livability/internal/layer"
	"github.com/sells-group/livability/internal/region"
	"github.com/sells-group/livability/internal/transfer"
)

func linear(m, n float64) transfer.Function {
	return transfer.Function{PlateauStart: m, DecayEnd: n, Floor: 0, Ceiling: 1, Shape: transfer.Linear}
}

func slopeSpec(weight float64, mandatory bool) layer.Spec {
	fn := linear(0, 10)
	fn.Mandatory = mandatory
	return layer.Spec{ID: "slope", Kind: layer.KindSlope, Enabled: true, Weight: weight, Transfer: fn,
		SummaryVariable: "terrain.mean_slope"}
}

func elevationSpec(weight float64) layer.Spec {
	return layer.Spec{ID: "elevation", Kind: layer.KindElevation, Enabled: true, Weight: weight,
		Transfer: linear(0, 1000)}
}

func attrSpec(id, variable string, weight float64) layer.Spec {
	return layer.Spec{ID: id, Kind: layer.KindAttribute, Enabled: true, Weight: weight,
		Variable: variable, Transfer: linear(0, 1)}
}

func samples(slope, elevation []float64, valid []bool) *dem.Samples {
	aspect := make([]float64, len(slope))
	for i := range aspect {
		aspect[i] = dem.FlatAspect
	}
	return &dem.Samples{
		Width: len(slope), Height: 1,
		Slope: slope, Elevation: elevation, Aspect: aspect, Valid: valid,
		FineZoom: -1,
	}
}

func newScorer(t *testing.T, specs ...layer.Spec) *Scorer {
	t.Helper()
	s, err := New(specs, DefaultOptions(), nil)
	require.NoError(t, err)
	return s
}

func threeRegions(t *testing.T) (*region.Set, *attribute.LUTSet) {
	t.Helper()
	set := region.NewSet([]*region.Region{
		region.New("Alpha", "Alpha", nil),
		region.New("Beta", "Beta", nil),
		region.New("Gamma", "Gamma", nil),
	})
	tbl := attribute.NewTable()
	tbl.Set("alpha", "env.noise", 0.2)
	tbl.Set("alpha", "econ.rent", 0.6)
	tbl.Set("beta", "env.noise", 0.9)
	tbl.Set("beta", "terrain.mean_slope", 12)
	// gamma has no record
	return set, attribute.BuildLUTs(set, tbl)
}

func TestWeightedComposite(t *testing.T) {
	s := newScorer(t, slopeSpec(2, false), elevationSpec(1))

	// slope 2 → 0.8, elevation 600 → 0.4
	r := s.Score(Inputs{Width: 1, Height: 1,
		Terrain: samples([]float64{2}, []float64{600}, []bool{true})})
	defer r.Release()

	assert.InDelta(t, (0.8*2+0.4*1)/3.0, r.Values[0], 1e-9)
	assert.InDelta(t, 0.6667, r.Values[0], 1e-4)
}

func TestMandatoryDisqualifies(t *testing.T) {
	s := newScorer(t, slopeSpec(1, true), elevationSpec(5))

	r := s.Score(Inputs{Width: 2, Height: 1,
		Terrain: samples([]float64{15, 0}, []float64{0, 0}, []bool{true, true})})
	defer r.Release()

	assert.Equal(t, Disqualified, r.Values[0])
	assert.True(t, IsDisqualified(r.Values[0]))
	assert.InDelta(t, 1.0, r.Values[1], 1e-9)
}

func TestNoTerrainIsNaN(t *testing.T) {
	s := newScorer(t, slopeSpec(1, false))

	r := s.Score(Inputs{Width: 2, Height: 1,
		Terrain: samples([]float64{math.NaN(), 5}, []float64{math.NaN(), 0}, []bool{false, true})})
	assert.True(t, math.IsNaN(r.Values[0]))
	assert.InDelta(t, 0.5, r.Values[1], 1e-9)
	r.Release()

	r = s.Score(Inputs{Width: 3, Height: 1})
	for _, v := range r.Values {
		assert.True(t, math.IsNaN(v))
	}
	r.Release()
}

func TestRegionLayersBroadcast(t *testing.T) {
	set, luts := threeRegions(t)
	s := newScorer(t, attrSpec("noise", "env.noise", 1), attrSpec("rent", "econ.rent", 1))

	membership := &region.Raster{
		Grid:  geo.NewGrid(geo.Bounds{West: 0, South: 0, East: 4, North: 1}, 4, 1),
		Cells: []int32{0, 1, 2, region.Outside},
	}
	r := s.Score(Inputs{Width: 4, Height: 1, Membership: membership, LUTs: luts})
	defer r.Release()

	assert.Equal(t, 3, set.Len())
	assert.InDelta(t, (0.8+0.4)/2, r.Values[0], 1e-9)
	// rent missing for beta: skipped, not zero
	assert.InDelta(t, 0.1, r.Values[1], 1e-9)
	// no data at all: neutral
	assert.InDelta(t, 0.5, r.Values[2], 1e-9)
	assert.True(t, math.IsNaN(r.Values[3]))
}

func TestMembershipMapping(t *testing.T) {
	_, luts := threeRegions(t)
	s := newScorer(t, attrSpec("noise", "env.noise", 1))

	membership := &region.Raster{
		Grid:  geo.NewGrid(geo.Bounds{West: 0, South: 0, East: 4, North: 2}, 2, 1),
		Cells: []int32{0, 1},
	}
	mapping := membership.MapIndex(4, 2, nil)
	r := s.Score(Inputs{Width: 4, Height: 2, Membership: membership, Mapping: mapping, LUTs: luts})
	defer r.Release()

	want := []float64{0.8, 0.8, 0.1, 0.1, 0.8, 0.8, 0.1, 0.1}
	for i, w := range want {
		assert.InDelta(t, w, r.Values[i], 1e-9, "pixel %d", i)
	}
}

func TestTerrainAndRegionCombined(t *testing.T) {
	_, luts := threeRegions(t)
	s := newScorer(t, slopeSpec(1, false), attrSpec("noise", "env.noise", 1))

	membership := &region.Raster{
		Grid:  geo.NewGrid(geo.Bounds{West: 0, South: 0, East: 2, North: 1}, 2, 1),
		Cells: []int32{0, region.Outside},
	}
	r := s.Score(Inputs{Width: 2, Height: 1, Membership: membership, LUTs: luts,
		Terrain: samples([]float64{0, 0}, []float64{0, 0}, []bool{true, true})})
	defer r.Release()

	assert.InDelta(t, (1+0.8)/2, r.Values[0], 1e-9)
	assert.True(t, math.IsNaN(r.Values[1]), "outside stays NaN even with terrain")
}

func TestRegionMandatory(t *testing.T) {
	_, luts := threeRegions(t)
	noise := attrSpec("noise", "env.noise", 1)
	noise.Transfer = linear(0, 0.5)
	noise.Transfer.Mandatory = true
	s := newScorer(t, noise, slopeSpec(1, false))

	membership := &region.Raster{
		Grid:  geo.NewGrid(geo.Bounds{West: 0, South: 0, East: 3, North: 1}, 3, 1),
		Cells: []int32{0, 1, 2},
	}
	r := s.Score(Inputs{Width: 3, Height: 1, Membership: membership, LUTs: luts,
		Terrain: samples([]float64{0, 0, 0}, []float64{0, 0, 0}, []bool{true, true, true})})
	defer r.Release()

	assert.InDelta(t, (0.6+1)/2, r.Values[0], 1e-9)
	assert.Equal(t, Disqualified, r.Values[1])
	// missing data never disqualifies
	assert.InDelta(t, 1.0, r.Values[2], 1e-9)
}

func TestAspectWeightedAverage(t *testing.T) {
	aspect := layer.Spec{ID: "aspect", Kind: layer.KindAspect, Enabled: true, Weight: 1}
	s := newScorer(t, aspect, slopeSpec(1, false))

	in := samples([]float64{0, 0}, []float64{0, 0}, []bool{true, true})
	in.Aspect = []float64{180, dem.FlatAspect}
	r := s.Score(Inputs{Width: 2, Height: 1, Terrain: in})
	defer r.Release()

	assert.InDelta(t, 1.0, r.Values[0], 1e-9)
	assert.InDelta(t, (transfer.FlatScore+1)/2, r.Values[1], 1e-9)
}

func TestDisabledLayersIgnored(t *testing.T) {
	off := elevationSpec(100)
	off.Enabled = false
	s := newScorer(t, slopeSpec(1, false), off)

	assert.Len(t, s.Layers(), 2)
	r := s.Score(Inputs{Width: 1, Height: 1,
		Terrain: samples([]float64{5}, []float64{1000}, []bool{true})})
	defer r.Release()
	assert.InDelta(t, 0.5, r.Values[0], 1e-9)
}

func TestNewErrors(t *testing.T) {
	off := slopeSpec(1, false)
	off.Enabled = false
	_, err := New([]layer.Spec{off}, DefaultOptions(), nil)
	assert.ErrorContains(t, err, "no enabled layers")

	_, err = New([]layer.Spec{{Kind: layer.KindAttribute}}, DefaultOptions(), nil)
	assert.Error(t, err)

	_, err = New([]layer.Spec{slopeSpec(1, false)}, Options{Neutral: 2}, nil)
	assert.ErrorContains(t, err, "neutral_score")
}

func TestNewRejectsScoresOutsideUnitRange(t *testing.T) {
	spec := slopeSpec(1, false)
	spec.Transfer.Floor = Disqualified
	spec.Transfer.Ceiling = 0
	_, err := New([]layer.Spec{spec}, DefaultOptions(), nil)
	assert.ErrorContains(t, err, "floor -1 must be within [0,1]")
}

func TestMissingVariables(t *testing.T) {
	_, luts := threeRegions(t)
	s := newScorer(t, attrSpec("noise", "env.noise", 1), attrSpec("crime", "safety.crime", 1))

	assert.Equal(t, []string{"safety.crime"}, s.MissingVariables(luts))
	assert.Equal(t, []string{"env.noise", "safety.crime"}, s.MissingVariables(nil))
}

func TestPointMatchesScore(t *testing.T) {
	_, luts := threeRegions(t)
	s := newScorer(t, slopeSpec(2, false), elevationSpec(1), attrSpec("noise", "env.noise", 1))

	sample := dem.Sample{Slope: 3, Elevation: 250, Aspect: dem.FlatAspect, Valid: true}
	p := s.Point(PointInput{Terrain: sample, HasRegions: true, Region: 0, LUTs: luts})

	membership := &region.Raster{Grid: geo.NewGrid(geo.Bounds{}, 1, 1), Cells: []int32{0}}
	r := s.Score(Inputs{Width: 1, Height: 1, Membership: membership, LUTs: luts,
		Terrain: samples([]float64{3}, []float64{250}, []bool{true})})
	defer r.Release()

	assert.InDelta(t, r.Values[0], float64(p.Score), 1e-12)
	require.Len(t, p.Layers, 3)
	assert.Equal(t, "slope", p.Layers[0].ID)
	assert.InDelta(t, 0.7, float64(p.Layers[0].Score), 1e-9)
	assert.InDelta(t, 0.2, float64(p.Layers[2].Input), 1e-9)

	outside := s.Point(PointInput{Terrain: sample, HasRegions: true, Region: region.Outside, LUTs: luts})
	assert.True(t, math.IsNaN(float64(outside.Score)))

	noRegions := s.Point(PointInput{Terrain: sample})
	assert.InDelta(t, (0.7*2+0.75)/3, float64(noRegions.Score), 1e-9)
}

func TestPointDisqualified(t *testing.T) {
	s := newScorer(t, slopeSpec(1, true))
	p := s.Point(PointInput{Terrain: dem.Sample{Slope: 40, Elevation: 0, Aspect: 90, Valid: true}})

	assert.True(t, p.Disqualified)
	assert.True(t, math.IsNaN(float64(p.Score)))
	require.Len(t, p.Layers, 1)
	assert.True(t, p.Layers[0].Disqualifies)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"score":null`)
}

func TestRegionScores(t *testing.T) {
	set, luts := threeRegions(t)
	s := newScorer(t, slopeSpec(1, false), attrSpec("noise", "env.noise", 1))

	scores := s.RegionScores(set, luts)
	require.Len(t, scores, 3)

	// alpha: noise 0.8, no slope summary → 0.8
	// beta: noise 0.1, slope 12 → 0; mean 0.05
	// gamma: nothing → neutral 0.5
	assert.Equal(t, "alpha", scores[0].Key)
	assert.InDelta(t, 0.8, float64(scores[0].Score), 1e-9)
	assert.Equal(t, "gamma", scores[1].Key)
	assert.InDelta(t, 0.5, float64(scores[1].Score), 1e-9)
	assert.Equal(t, 0.0, scores[1].Weight)
	assert.Equal(t, "beta", scores[2].Key)
	assert.InDelta(t, 0.05, float64(scores[2].Score), 1e-9)
	assert.Equal(t, 2.0, scores[2].Weight)
}

func TestRegionScoresDisqualifiedLast(t *testing.T) {
	set, luts := threeRegions(t)
	s := newScorer(t, slopeSpec(1, true), attrSpec("noise", "env.noise", 1))

	scores := s.RegionScores(set, luts)
	require.Len(t, scores, 3)
	assert.Equal(t, "beta", scores[2].Key)
	assert.True(t, scores[2].Disqualified)
	assert.False(t, scores[0].Disqualified)
}

func TestStatsAndNormalize(t *testing.T) {
	r := &Raster{Width: 5, Height: 1, Values: []float64{0.2, 0.4, math.NaN(), Disqualified, 0.6}}

	st := r.Stats()
	assert.Equal(t, 3, st.Valid)
	assert.Equal(t, 1, st.NoData)
	assert.Equal(t, 1, st.Disqualified)
	assert.InDelta(t, 0.2, st.Min, 1e-12)
	assert.InDelta(t, 0.6, st.Max, 1e-12)
	assert.InDelta(t, 0.4, st.Mean, 1e-12)

	Normalize(r, NormalizeGlobal)
	assert.InDelta(t, 0.2, r.Values[0], 1e-12)

	Normalize(r, NormalizeFrame)
	assert.InDelta(t, 0, r.Values[0], 1e-12)
	assert.InDelta(t, 0.5, r.Values[1], 1e-12)
	assert.True(t, math.IsNaN(r.Values[2]))
	assert.Equal(t, Disqualified, r.Values[3])
	assert.InDelta(t, 1, r.Values[4], 1e-12)

	flat := &Raster{Width: 2, Height: 1, Values: []float64{0.3, 0.3}}
	Normalize(flat, NormalizeFrame)
	assert.Equal(t, []float64{0.3, 0.3}, flat.Values)

	empty := (&Raster{Values: []float64{math.NaN()}}).Stats()
	assert.True(t, math.IsNaN(empty.Mean))
}

func TestNormalizeModeText(t *testing.T) {
	var m NormalizeMode
	require.NoError(t, m.UnmarshalText([]byte("Frame")))
	assert.Equal(t, NormalizeFrame, m)
	assert.Equal(t, "global", NormalizeGlobal.String())
	assert.Error(t, m.UnmarshalText([]byte("stretch")))
}

func TestBuffersReturnedToPool(t *testing.T) {
	bufs := bufpool.NewBuffers()
	s, err := New([]layer.Spec{slopeSpec(1, false)}, DefaultOptions(), bufs)
	require.NoError(t, err)

	in := Inputs{Width: 4, Height: 1,
		Terrain: samples([]float64{1, 2, 3, 4}, []float64{0, 0, 0, 0}, []bool{true, true, true, true})}
	s.Score(in).Release()
	first := bufs.Float.Stats()

	r := s.Score(in)
	r.Release()
	second := bufs.Float.Stats()

	assert.Greater(t, second.Reuses, first.Reuses)
	assert.Nil(t, r.Values)
}

func TestValueJSON(t *testing.T) {
	data, err := json.Marshal([]Value{0.25, Value(math.NaN()), Value(math.Inf(1))})
	require.NoError(t, err)
	assert.Equal(t, "[0.25,null,null]", string(data))
}

func TestSaveRegionScores(t *testing.T) {
	set, luts := threeRegions(t)
	specs := []layer.Spec{slopeSpec(1, true), attrSpec("noise", "env.noise", 1)}
	s := newScorer(t, specs...)
	scores := s.RegionScores(set, luts)

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "scores.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	hash := ConfigHash(specs)
	assert.Len(t, hash, 32)
	require.NoError(t, SaveRegionScores(ctx, db, scores, hash))
	require.NoError(t, SaveRegionScores(ctx, db, scores, hash))

	var count, disq int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(disqualified) FROM region_scores`).Scan(&count, &disq))
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, disq)

	var score sql.NullFloat64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT score FROM region_scores WHERE region_key = 'beta'`).Scan(&score))
	assert.False(t, score.Valid)

	assert.NoError(t, SaveRegionScores(ctx, db, nil, hash))
}

func TestConfigHashChangesWithLayers(t *testing.T) {
	a := ConfigHash([]layer.Spec{slopeSpec(1, false)})
	b := ConfigHash([]layer.Spec{slopeSpec(2, false)})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, ConfigHash([]layer.Spec{slopeSpec(1, false)}))
}

func TestWriteRegionScoresXLSX(t *testing.T) {
	set, luts := threeRegions(t)
	s := newScorer(t, slopeSpec(1, true), attrSpec("noise", "env.noise", 1))
	path := filepath.Join(t.TempDir(), "scores.xlsx")
	require.NoError(t, WriteRegionScoresXLSX(path, s.RegionScores(set, luts)))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	rows := f.Sheets[0].Rows
	require.Len(t, rows, 4)
	assert.Equal(t, "key", rows[0].Cells[1].String())
	assert.Equal(t, "alpha", rows[1].Cells[1].String())
	require.GreaterOrEqual(t, len(rows[3].Cells), 4)
	assert.Equal(t, "beta", rows[3].Cells[1].String())
	assert.Equal(t, "", rows[3].Cells[3].String())
}

func TestStatsJSONWithoutValidPixels(t *testing.T) {
	r := &Raster{Width: 2, Height: 1, Values: []float64{math.NaN(), Disqualified}}
	data, err := json.Marshal(r.Stats())
	require.NoError(t, err)
	assert.JSONEq(t, `{"valid":0,"no_data":1,"disqualified":1,"min":null,"max":null,"mean":null}`, string(data))
}

package region

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/livability/internal/geo"
)

// rect returns a closed counter-clockwise ring.
func rect(w, s, e, n float64) []float64 {
	return []float64{w, s, e, s, e, n, w, n, w, s}
}

func polygon(rings ...[]float64) *geom.Polygon {
	p := geom.NewPolygon(geom.XY)
	for _, r := range rings {
		if err := p.Push(geom.NewLinearRingFlat(geom.XY, r)); err != nil {
			panic(err)
		}
	}
	return p
}

func multi(polys ...*geom.Polygon) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range polys {
		if err := mp.Push(p); err != nil {
			panic(err)
		}
	}
	return mp
}

func testSet() *Set {
	return NewSet([]*Region{
		New("Square", "Square", multi(polygon(rect(0, 0, 10, 10)))),
		New("Donut", "Donut", multi(polygon(rect(20, 0, 30, 10), rect(24, 4, 26, 6)))),
		New("Islands", "Islands", multi(
			polygon(rect(40, 0, 42, 2)),
			polygon(rect(46, 6, 48, 8)),
		)),
	})
}

func TestContainsPoint(t *testing.T) {
	set := testSet()
	square, donut, islands := set.At(0), set.At(1), set.At(2)

	assert.True(t, square.ContainsPoint(5, 5))
	assert.False(t, square.ContainsPoint(10.5, 5))

	assert.True(t, donut.ContainsPoint(22, 5))
	assert.False(t, donut.ContainsPoint(25, 5), "inside the hole")

	assert.True(t, islands.ContainsPoint(41, 1))
	assert.True(t, islands.ContainsPoint(47, 7))
	assert.False(t, islands.ContainsPoint(44, 4), "between the parts")
}

func TestRingContains_Concave(t *testing.T) {
	// An L shape.
	ring := []float64{0, 0, 4, 0, 4, 1, 1, 1, 1, 4, 0, 4}
	assert.True(t, ringContains(ring, 2, 0.5, 3))
	assert.True(t, ringContains(ring, 2, 3, 0.5))
	assert.False(t, ringContains(ring, 2, 3, 3))
	assert.False(t, ringContains(ring[:4], 2, 0.1, 0.1))
}

func TestSet(t *testing.T) {
	set := testSet()
	assert.Equal(t, 3, set.Len())
	for i, r := range set.Regions() {
		assert.Equal(t, i, r.Index)
	}

	r, ok := set.Lookup("  DONUT ")
	require.True(t, ok)
	assert.Equal(t, 1, r.Index)
	_, ok = set.Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, geo.Bounds{West: 0, South: 0, East: 48, North: 10}, set.Extent())
	assert.NotEqual(t, set.Generation(), testSet().Generation())

	var empty *Set
	assert.Zero(t, empty.Len())
	assert.Nil(t, empty.Regions())
}

func TestIndex_Locate(t *testing.T) {
	ix := NewIndex(testSet())
	assert.Equal(t, int32(0), ix.Locate(5, 5))
	assert.Equal(t, int32(1), ix.Locate(21, 1))
	assert.Equal(t, Outside, ix.Locate(25, 5))
	assert.Equal(t, int32(2), ix.Locate(47, 7))
	assert.Equal(t, Outside, ix.Locate(-5, -5))
}

func TestIndex_Candidates(t *testing.T) {
	ix := NewIndex(testSet())
	assert.Equal(t, []int{0, 1}, ix.Candidates(geo.Bounds{West: 5, South: 1, East: 25, North: 2}))
	assert.Equal(t, []int{0, 1, 2}, ix.Candidates(geo.Bounds{West: -1, South: -1, East: 50, North: 11}))
	assert.Empty(t, ix.Candidates(geo.Bounds{West: 11, South: 0, East: 19, North: 10}))
}

func TestIndex_EmptyGeometryIsNeverMatched(t *testing.T) {
	set := NewSet([]*Region{
		New("empty", "", geom.NewMultiPolygon(geom.XY)),
		New("square", "", multi(polygon(rect(0, 0, 1, 1)))),
	})
	ix := NewIndex(set)
	assert.Equal(t, int32(1), ix.Locate(0.5, 0.5))
	assert.Equal(t, geo.Bounds{West: 0, South: 0, East: 1, North: 1}, set.Extent())
}

func TestIndexCache(t *testing.T) {
	c := NewIndexCache()
	set := testSet()
	a := c.Get(set)
	assert.Same(t, a, c.Get(set))
	assert.Equal(t, 1, c.Builds())

	other := testSet()
	assert.NotSame(t, a, c.Get(other))
	assert.Equal(t, 2, c.Builds())
}

func TestBuild(t *testing.T) {
	ix := NewIndex(testSet())
	// One cell per degree over 0..50 x 0..10; near the equator Mercator
	// rows are close to linear in latitude.
	g := geo.NewGrid(geo.Bounds{West: 0, South: 0, East: 50, North: 10}, 50, 10)
	r := Build(ix, g)
	require.Len(t, r.Cells, 500)

	assert.Equal(t, int32(0), r.At(5, 5))
	assert.Equal(t, int32(1), r.At(21, 5))
	assert.Equal(t, Outside, r.At(25, 5), "hole")
	assert.Equal(t, Outside, r.At(15, 5))
	assert.Equal(t, int32(2), r.At(41, 9))

	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			assert.Equal(t, ix.Locate(g.Lon(col), g.Lat(row)), r.At(col, row), "cell %d,%d", col, row)
		}
	}

	perRegion, outside := r.Counts(3)
	assert.Equal(t, 100, perRegion[0])
	assert.Equal(t, 500, perRegion[0]+perRegion[1]+perRegion[2]+outside)
}

func TestBuild_FirstMatchWins(t *testing.T) {
	set := NewSet([]*Region{
		New("a", "", multi(polygon(rect(0, 0, 2, 2)))),
		New("b", "", multi(polygon(rect(1, 1, 3, 3)))),
	})
	r := Build(NewIndex(set), geo.NewGrid(geo.Bounds{West: 1.4, South: 1.4, East: 1.6, North: 1.6}, 1, 1))
	assert.Equal(t, []int32{0}, r.Cells)
}

func TestBuild_Empty(t *testing.T) {
	r := Build(nil, geo.NewGrid(geo.Bounds{West: 0, South: 0, East: 1, North: 1}, 2, 2))
	assert.Equal(t, []int32{Outside, Outside, Outside, Outside}, r.Cells)
}

func TestMembershipCache_Idempotent(t *testing.T) {
	ix := NewIndex(testSet())
	c := NewMembershipCache(4)
	g := geo.NewGrid(geo.Bounds{West: 0, South: 0, East: 50, North: 10}, 50, 10)

	first, hit := c.Get(ix, g)
	assert.False(t, hit)
	snapshot := append([]int32(nil), first.Cells...)

	again, hit := c.Get(ix, g)
	assert.True(t, hit)
	assert.Same(t, first, again)
	assert.Equal(t, snapshot, again.Cells)

	_, hit = c.Get(ix, g.Scaled(25, 5))
	assert.False(t, hit, "resolution is part of the key")

	_, hit = c.Get(NewIndex(testSet()), g)
	assert.False(t, hit, "a new region set is a new key")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(3), stats.Misses)
	assert.Equal(t, 3, stats.Entries)
}

func TestMembershipCache_Evicts(t *testing.T) {
	ix := NewIndex(testSet())
	c := NewMembershipCache(2)
	b := geo.Bounds{West: 0, South: 0, East: 50, North: 10}
	for w := 1; w <= 3; w++ {
		c.Get(ix, geo.NewGrid(b, w, 1))
	}
	assert.Equal(t, 2, c.Stats().Entries)
	_, hit := c.Get(ix, geo.NewGrid(b, 1, 1))
	assert.False(t, hit)

	c.Purge()
	assert.Zero(t, c.Stats().Entries)
}

func TestMembershipGrid(t *testing.T) {
	g := geo.NewGrid(geo.Bounds{West: 0, South: 0, East: 1, North: 1}, 1000, 500)
	assert.Equal(t, g, MembershipGrid(g, 0))
	assert.Equal(t, g, MembershipGrid(g, 500000))

	m := MembershipGrid(g, 40000)
	assert.LessOrEqual(t, m.Len(), 40000)
	assert.Equal(t, g.Bounds, m.Bounds)
	assert.Equal(t, 250, m.Width)
	assert.Equal(t, 125, m.Height)
}

func TestMapIndex(t *testing.T) {
	r := &Raster{Grid: geo.NewGrid(geo.Bounds{West: 0, South: 0, East: 1, North: 1}, 2, 2), Cells: []int32{0, 1, 2, 3}}
	got := r.MapIndex(4, 4, nil)
	assert.Equal(t, []int{
		0, 0, 1, 1,
		0, 0, 1, 1,
		2, 2, 3, 3,
		2, 2, 3, 3,
	}, got)
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Zürich", "zurich"},
		{"  ZURICH ", "zurich"},
		{"Saint-Gallen", "saint gallen"},
		{"St. Gallen (SG)", "st gallen sg"},
		{"Genève", "geneve"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeKey(tt.in), tt.in)
	}
}

func TestReadGeoJSON(t *testing.T) {
	doc := `{
	  "type": "FeatureCollection",
	  "features": [
	    {"type": "Feature", "properties": {"code": "Bern", "label": "Bern City"},
	     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
	    {"type": "Feature", "properties": {"code": 3203},
	     "geometry": {"type": "MultiPolygon", "coordinates": [[[[2,2],[3,2],[3,3],[2,3],[2,2]]]]}},
	    {"type": "Feature", "properties": {"code": "pt"},
	     "geometry": {"type": "Point", "coordinates": [5,5]}}
	  ]
	}`
	regions, err := ReadGeoJSON(strings.NewReader(doc), LoadOptions{KeyProperty: "code", NameProperty: "label"})
	require.NoError(t, err)
	require.Len(t, regions, 2)

	assert.Equal(t, "bern", regions[0].Key)
	assert.Equal(t, "Bern City", regions[0].Name)
	assert.True(t, regions[0].ContainsPoint(0.5, 0.5))

	assert.Equal(t, "3203", regions[1].Key)
	assert.Equal(t, "3203", regions[1].Name)
	assert.True(t, regions[1].ContainsPoint(2.5, 2.5))

	_, err = ReadGeoJSON(strings.NewReader("{"), LoadOptions{})
	assert.Error(t, err)
}

func TestShapePolygon_HolesByOrientation(t *testing.T) {
	// Outer ring clockwise, hole counter-clockwise, second outer clockwise.
	p := &shp.Polygon{
		NumParts: 3,
		Parts:    []int32{0, 5, 10},
		Points: []shp.Point{
			{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0},
			{X: 4, Y: 4}, {X: 6, Y: 4}, {X: 6, Y: 6}, {X: 4, Y: 6}, {X: 4, Y: 4},
			{X: 20, Y: 0}, {X: 20, Y: 2}, {X: 22, Y: 2}, {X: 22, Y: 0}, {X: 20, Y: 0},
		},
	}
	mp := shapePolygon(p)
	require.NotNil(t, mp)
	assert.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())

	r := New("x", "x", mp)
	assert.True(t, r.ContainsPoint(2, 2))
	assert.False(t, r.ContainsPoint(5, 5))
	assert.True(t, r.ContainsPoint(21, 1))
}

func TestLoadFile_Shapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 32)}))
	w.Write((*shp.Polygon)(shp.NewPolyLine([][]shp.Point{{
		{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 0},
	}})))
	require.NoError(t, w.WriteAttribute(0, 0, "Thun"))
	w.Close()

	set, err := LoadFile(path, LoadOptions{KeyProperty: "name"})
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, "thun", set.At(0).Key)
	assert.Equal(t, int32(0), NewIndex(set).Locate(0.5, 0.5))
}

func TestLoadFile_Unsupported(t *testing.T) {
	_, err := LoadFile("regions.kml", LoadOptions{})
	assert.Error(t, err)
}

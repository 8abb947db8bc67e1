// Package region assigns raster cells to the region polygons that contain
// them.
package region

import (
	"math"
	"sync/atomic"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/livability/internal/geo"
)

// Region is one polygon (possibly multi-part, possibly with holes) with the
// key attribute tables use to refer to it.
type Region struct {
	// Index is the region's position in its Set.
	Index int
	// Key is the normalized lookup key.
	Key string
	// Name is the display name.
	Name     string
	Geometry *geom.MultiPolygon

	bounds geo.Bounds
}

// New creates a region. The key is normalized with NormalizeKey.
func New(key, name string, g *geom.MultiPolygon) *Region {
	r := &Region{Key: NormalizeKey(key), Name: name, Geometry: g}
	r.bounds = multiPolygonBounds(g)
	return r
}

// Bounds returns the region's bounding box.
func (r *Region) Bounds() geo.Bounds { return r.bounds }

// ContainsPoint reports whether (lon, lat) lies inside any part of the
// region and outside that part's holes.
func (r *Region) ContainsPoint(lon, lat float64) bool {
	if r.Geometry == nil || !r.bounds.Contains(lon, lat) {
		return false
	}
	for i := 0; i < r.Geometry.NumPolygons(); i++ {
		if polygonContains(r.Geometry.Polygon(i), lon, lat) {
			return true
		}
	}
	return false
}

func multiPolygonBounds(g *geom.MultiPolygon) geo.Bounds {
	if g == nil || g.NumPolygons() == 0 {
		return geo.Bounds{West: math.NaN(), South: math.NaN(), East: math.NaN(), North: math.NaN()}
	}
	b := g.Bounds()
	return geo.Bounds{West: b.Min(0), South: b.Min(1), East: b.Max(0), North: b.Max(1)}
}

var generations atomic.Uint64

// Set is an immutable, indexed collection of regions. Every Set gets a
// process-unique generation so caches can tell sets apart even when they
// hold the same number of regions.
type Set struct {
	regions    []*Region
	byKey      map[string]int
	generation uint64
	extent     geo.Bounds
}

// NewSet indexes regions in order. Region.Index is overwritten with the
// region's position. When two regions share a key, lookups resolve to the
// first.
func NewSet(regions []*Region) *Set {
	s := &Set{
		regions:    regions,
		byKey:      make(map[string]int, len(regions)),
		generation: generations.Add(1),
	}
	first := true
	for i, r := range regions {
		r.Index = i
		if _, dup := s.byKey[r.Key]; dup {
			zap.L().Warn("region: duplicate key", zap.String("key", r.Key), zap.Int("index", i))
		} else {
			s.byKey[r.Key] = i
		}
		if math.IsNaN(r.bounds.West) {
			continue
		}
		if first {
			s.extent = r.bounds
			first = false
			continue
		}
		s.extent = geo.Bounds{
			West:  min(s.extent.West, r.bounds.West),
			South: min(s.extent.South, r.bounds.South),
			East:  max(s.extent.East, r.bounds.East),
			North: max(s.extent.North, r.bounds.North),
		}
	}
	return s
}

// Len returns the number of regions. A nil Set is empty.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.regions)
}

// At returns the region with index i.
func (s *Set) At(i int) *Region { return s.regions[i] }

// Regions returns the regions in index order. The slice must not be modified.
func (s *Set) Regions() []*Region {
	if s == nil {
		return nil
	}
	return s.regions
}

// Lookup finds a region by key. The key is normalized first.
func (s *Set) Lookup(key string) (*Region, bool) {
	if s == nil {
		return nil, false
	}
	i, ok := s.byKey[NormalizeKey(key)]
	if !ok {
		return nil, false
	}
	return s.regions[i], true
}

// Generation identifies this set.
func (s *Set) Generation() uint64 {
	if s == nil {
		return 0
	}
	return s.generation
}

// Extent returns the union of all region bounds.
func (s *Set) Extent() geo.Bounds {
	if s == nil {
		return geo.Bounds{}
	}
	return s.extent
}

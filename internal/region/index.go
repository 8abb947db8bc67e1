package region

import (
	"slices"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/rotisserie/eris"

	"github.com/sells-group/livability/internal/geo"
)

// minExtent pads zero-width boxes; the R-tree rejects empty rectangles.
const minExtent = 1e-9

// Index holds one bounding box per region, as flat arrays for the per-cell
// test and as an R-tree for viewport queries.
type Index struct {
	set                    *Set
	minX, minY, maxX, maxY []float64
	tree                   *rtreego.Rtree
}

type indexedRegion struct {
	index int
	rect  rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (r *indexedRegion) Bounds() rtreego.Rect { return r.rect }

func boundsRect(b geo.Bounds) (rtreego.Rect, error) {
	if !(b.West <= b.East && b.South <= b.North) {
		return rtreego.Rect{}, eris.Errorf("region: empty bounds %s", b)
	}
	return rtreego.NewRect(
		rtreego.Point{b.West, b.South},
		[]float64{max(b.East-b.West, minExtent), max(b.North-b.South, minExtent)},
	)
}

// NewIndex builds the bounding box index for set.
func NewIndex(set *Set) *Index {
	n := set.Len()
	ix := &Index{
		set:  set,
		minX: make([]float64, n),
		minY: make([]float64, n),
		maxX: make([]float64, n),
		maxY: make([]float64, n),
		tree: rtreego.NewTree(2, 25, 50),
	}
	for i, r := range set.Regions() {
		b := r.Bounds()
		ix.minX[i], ix.minY[i], ix.maxX[i], ix.maxY[i] = b.West, b.South, b.East, b.North
		rect, err := boundsRect(b)
		if err != nil {
			// Empty geometry: the NaN box never matches the flat test either.
			continue
		}
		ix.tree.Insert(&indexedRegion{index: i, rect: rect})
	}
	return ix
}

// Set returns the indexed set.
func (ix *Index) Set() *Set { return ix.set }

// Len returns the number of indexed regions.
func (ix *Index) Len() int { return len(ix.minX) }

func (ix *Index) boxContains(i int, lon, lat float64) bool {
	return lon >= ix.minX[i] && lon <= ix.maxX[i] && lat >= ix.minY[i] && lat <= ix.maxY[i]
}

// Candidates returns the indices of regions whose boxes intersect b, in
// ascending order.
func (ix *Index) Candidates(b geo.Bounds) []int {
	rect, err := boundsRect(b)
	if err != nil {
		return nil
	}
	hits := ix.tree.SearchIntersect(rect)
	out := make([]int, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*indexedRegion).index)
	}
	slices.Sort(out)
	return out
}

// Locate returns the index of the first region containing (lon, lat), or
// Outside.
func (ix *Index) Locate(lon, lat float64) int32 {
	for _, i := range ix.Candidates(geo.Bounds{West: lon, South: lat, East: lon, North: lat}) {
		if ix.boxContains(i, lon, lat) && ix.set.At(i).ContainsPoint(lon, lat) {
			return int32(i)
		}
	}
	return Outside
}

type indexKey struct {
	generation uint64
	count      int
}

// IndexCache keeps the index of the most recent region set. It rebuilds only
// when the set changes.
type IndexCache struct {
	mu     sync.Mutex
	key    indexKey
	index  *Index
	builds int
}

// NewIndexCache creates an empty IndexCache.
func NewIndexCache() *IndexCache { return &IndexCache{} }

// Get returns the index for set, building it on first use.
func (c *IndexCache) Get(set *Set) *Index {
	key := indexKey{generation: set.Generation(), count: set.Len()}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index != nil && c.key == key {
		return c.index
	}
	c.index = NewIndex(set)
	c.key = key
	c.builds++
	return c.index
}

// Builds returns how many indexes have been built.
func (c *IndexCache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}

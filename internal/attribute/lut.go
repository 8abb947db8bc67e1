package attribute

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/livability/internal/region"
)

// LUTSet holds one buffer per variable indexed by region index. Regions
// without a value hold NaN.
type LUTSet struct {
	regions int
	luts    map[string][]float64
	// Unmatched counts regions with no record in the table.
	Unmatched int
}

// BuildLUTs builds a LUT for every variable of table over set.
func BuildLUTs(set *region.Set, table *Table) *LUTSet {
	n := set.Len()
	l := &LUTSet{regions: n, luts: make(map[string][]float64)}
	if table == nil {
		l.Unmatched = n
		return l
	}

	table.mu.RLock()
	defer table.mu.RUnlock()

	for variable := range table.variables {
		lut := make([]float64, n)
		for i := range lut {
			lut[i] = math.NaN()
		}
		l.luts[variable] = lut
	}
	for i, r := range set.Regions() {
		rec, ok := table.records[r.Key]
		if !ok {
			l.Unmatched++
			continue
		}
		for variable, v := range rec {
			l.luts[variable][i] = v
		}
	}
	return l
}

// Regions returns the number of regions the LUTs cover.
func (l *LUTSet) Regions() int { return l.regions }

// LUT returns the buffer for variable. The buffer is shared.
func (l *LUTSet) LUT(variable string) ([]float64, bool) {
	lut, ok := l.luts[variable]
	return lut, ok
}

// Value returns variable for one region index, NaN when absent.
func (l *LUTSet) Value(variable string, idx int32) float64 {
	lut, ok := l.luts[variable]
	if !ok || idx < 0 || int(idx) >= len(lut) {
		return math.NaN()
	}
	return lut[idx]
}

// Expand writes lut[cells[mapping[i]]] into dst[i] for every element of dst.
// A nil mapping is the identity. Outside cells are NaN.
func Expand(lut []float64, cells []int32, mapping []int, dst []float64) []float64 {
	nan := math.NaN()
	n := int32(len(lut))
	if mapping == nil {
		for i, c := range cells[:len(dst)] {
			if c < 0 || c >= n {
				dst[i] = nan
				continue
			}
			dst[i] = lut[c]
		}
		return dst
	}
	for i, m := range mapping[:len(dst)] {
		c := cells[m]
		if c < 0 || c >= n {
			dst[i] = nan
			continue
		}
		dst[i] = lut[c]
	}
	return dst
}

type lutKey struct {
	generation uint64
	regions    int
	version    uint64
	table      *Table
}

// Cache keeps the LUT set of the most recent (region set, table) pair and
// rebuilds it only when either changes.
type Cache struct {
	mu     sync.Mutex
	key    lutKey
	luts   *LUTSet
	builds int
}

// NewCache creates an empty Cache.
func NewCache() *Cache { return &Cache{} }

// Get returns the LUTs for set and table.
func (c *Cache) Get(set *region.Set, table *Table) *LUTSet {
	key := lutKey{
		generation: set.Generation(),
		regions:    set.Len(),
		version:    table.Version(),
		table:      table,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.luts != nil && c.key == key {
		return c.luts
	}
	c.luts = BuildLUTs(set, table)
	c.key = key
	c.builds++

	if c.luts.Unmatched > 0 {
		zap.L().Debug("attribute: regions without table records",
			zap.Int("unmatched", c.luts.Unmatched),
			zap.Int("regions", set.Len()),
		)
	}
	return c.luts
}

// Builds returns how many LUT sets have been built.
func (c *Cache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}

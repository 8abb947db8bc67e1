package region

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/sells-group/livability/internal/geo"
)

// MembershipKey identifies one membership raster. Scoring configuration is
// not part of it.
type MembershipKey struct {
	Bounds     geo.Bounds
	Width      int
	Height     int
	Regions    int
	Generation uint64
}

// KeyFor returns the cache key of a membership raster for g over ix.
func KeyFor(ix *Index, g geo.Grid) MembershipKey {
	return MembershipKey{
		Bounds:     g.Bounds,
		Width:      g.Width,
		Height:     g.Height,
		Regions:    ix.Len(),
		Generation: ix.Set().Generation(),
	}
}

// CacheStats contains membership cache statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

type membershipEntry struct {
	key    MembershipKey
	raster *Raster
}

// MembershipCache is a small LRU of membership rasters.
type MembershipCache struct {
	mu         sync.Mutex
	entries    map[MembershipKey]*list.Element
	order      *list.List
	maxEntries int
	hits       atomic.Int64
	misses     atomic.Int64
}

// NewMembershipCache creates a cache holding at most maxEntries rasters.
func NewMembershipCache(maxEntries int) *MembershipCache {
	if maxEntries <= 0 {
		maxEntries = 8
	}
	return &MembershipCache{
		entries:    make(map[MembershipKey]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

// Get returns the membership raster of g, building it on a miss. The
// returned raster is shared and must not be modified.
func (c *MembershipCache) Get(ix *Index, g geo.Grid) (*Raster, bool) {
	key := KeyFor(ix, g)

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		c.mu.Unlock()
		c.hits.Add(1)
		return el.Value.(*membershipEntry).raster, true
	}
	c.mu.Unlock()

	c.misses.Add(1)
	r := Build(ix, g)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*membershipEntry).raster, false
	}
	for len(c.entries) >= c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*membershipEntry).key)
	}
	c.entries[key] = c.order.PushFront(&membershipEntry{key: key, raster: r})
	return r, false
}

// Purge drops every raster.
func (c *MembershipCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[MembershipKey]*list.Element)
	c.order.Init()
}

// Stats returns cache statistics.
func (c *MembershipCache) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    rate,
	}
}

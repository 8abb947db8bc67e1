package dem

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// TileCache is a concurrency-safe LRU of demand-loaded elevation tiles.
// Tiles never expire: they are immutable once fetched.
type TileCache struct {
	mu         sync.Mutex
	entries    map[TileKey]*list.Element
	order      *list.List // front = most recently used
	maxEntries int
	hits       atomic.Int64
	misses     atomic.Int64
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Bytes      int     `json:"bytes"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewTileCache creates a TileCache holding at most maxEntries tiles.
func NewTileCache(maxEntries int) *TileCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &TileCache{
		entries:    make(map[TileKey]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

// Get retrieves a tile and marks it recently used.
func (c *TileCache) Get(key TileKey) (*Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits.Add(1)
	return el.Value.(*Tile), true
}

// Contains reports whether key is cached without touching the LRU order or stats.
func (c *TileCache) Contains(key TileKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Put stores a tile, evicting the least recently used entry at capacity.
func (c *TileCache) Put(t *Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[t.Key]; ok {
		el.Value = t
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*Tile).Key)
	}

	c.entries[t.Key] = c.order.PushFront(t)
}

// Purge drops every tile. Used when the tile source changes.
func (c *TileCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[TileKey]*list.Element)
	c.order.Init()
}

// Len returns the number of cached tiles.
func (c *TileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache performance statistics.
func (c *TileCache) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	bytes := 0
	for el := c.order.Front(); el != nil; el = el.Next() {
		bytes += el.Value.(*Tile).bytes()
	}
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Bytes:      bytes,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

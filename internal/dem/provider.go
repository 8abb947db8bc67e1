package dem

import (
	"context"
	"math"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/livability/internal/bufpool"
	"github.com/sells-group/livability/internal/geo"
)

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	// Extent is the region the coarse grid must cover.
	Extent geo.Bounds
	// CoarseZoom is the zoom of the always-resident merged grid.
	CoarseZoom int
	// MaxZoom is the finest zoom demand-loaded for viewports.
	MaxZoom int
	// CacheEntries bounds the fine tile cache.
	CacheEntries int
	// Concurrency bounds parallel tile fetches.
	Concurrency int
	// MaxViewportTiles bounds how many fine tiles one viewport may need;
	// coarser zooms are tried until the viewport fits.
	MaxViewportTiles int
}

// Sample is the terrain at one point.
type Sample struct {
	Slope     float64 `json:"slope"`
	Elevation float64 `json:"elevation"`
	Aspect    float64 `json:"aspect"`
	Valid     bool    `json:"valid"`
	Zoom      int     `json:"zoom"`
}

// Samples holds batch terrain output addressed by row-major pixel index.
type Samples struct {
	Width, Height int
	Slope         []float64
	Elevation     []float64
	Aspect        []float64
	Valid         []bool
	// FineZoom is the demand-loaded zoom consulted, or -1 when only the
	// coarse grid was used.
	FineZoom int

	bufs *bufpool.Buffers
}

// Release returns the buffers to their pool. The Samples must not be used
// afterwards.
func (s *Samples) Release() {
	if s == nil || s.bufs == nil {
		return
	}
	s.bufs.Float.Put(s.Slope)
	s.bufs.Float.Put(s.Elevation)
	s.bufs.Float.Put(s.Aspect)
	s.bufs.Bool.Put(s.Valid)
	s.Slope, s.Elevation, s.Aspect, s.Valid = nil, nil, nil, nil
	s.bufs = nil
}

// Provider serves slope, elevation and aspect from a coarse merged grid plus
// demand-loaded finer tiles.
type Provider struct {
	cfg  ProviderConfig
	bufs *bufpool.Buffers

	mu     sync.RWMutex
	source Fetcher
	grid   *MergedGrid
	tiles  *TileCache
}

// NewProvider creates a Provider with no source configured. Every sample is
// no data until Configure succeeds.
func NewProvider(cfg ProviderConfig, bufs *bufpool.Buffers) *Provider {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxViewportTiles <= 0 {
		cfg.MaxViewportTiles = 64
	}
	if cfg.MaxZoom > MaxTileZoom {
		cfg.MaxZoom = MaxTileZoom
	}
	if cfg.MaxZoom < cfg.CoarseZoom {
		cfg.MaxZoom = cfg.CoarseZoom
	}
	if bufs == nil {
		bufs = bufpool.NewBuffers()
	}
	return &Provider{
		cfg:   cfg,
		bufs:  bufs,
		tiles: NewTileCache(cfg.CacheEntries),
	}
}

// Configure switches to src. The merged grid is rebuilt and fine tiles are
// purged only when the source key differs from the current one.
func (p *Provider) Configure(ctx context.Context, src Fetcher) error {
	p.mu.RLock()
	same := p.grid != nil && p.grid.Source() == src.Key()
	p.mu.RUnlock()
	if same {
		return nil
	}

	grid, err := BuildMergedGrid(ctx, src, p.cfg.Extent, p.cfg.CoarseZoom, p.cfg.Concurrency)
	if err != nil {
		return eris.Wrap(err, "dem: configure source")
	}

	p.mu.Lock()
	p.source = src
	p.grid = grid
	p.tiles.Purge()
	p.mu.Unlock()
	return nil
}

// Grid returns the current merged grid, or nil.
func (p *Provider) Grid() *MergedGrid {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.grid
}

// TileStats returns fine tile cache statistics.
func (p *Provider) TileStats() CacheStats {
	return p.tiles.Stats()
}

func (p *Provider) tileSize() int {
	if p.source == nil {
		return 256
	}
	return p.source.TileSize()
}

// FineZoom returns the demand-loaded zoom a grid needs, or -1 when the
// coarse grid is already fine enough.
func (p *Provider) FineZoom(g geo.Grid) int {
	p.mu.RLock()
	size := p.tileSize()
	p.mu.RUnlock()
	return p.fineZoom(g, size)
}

func (p *Provider) fineZoom(g geo.Grid, size int) int {
	_, lat := g.Bounds.Center()
	z := geo.ZoomForResolution(g.MetersPerPixel(), lat, size, p.cfg.CoarseZoom, p.cfg.MaxZoom)
	for z > p.cfg.CoarseZoom && len(geo.TilesCovering(g.Bounds, z)) > p.cfg.MaxViewportTiles {
		z--
	}
	if z <= p.cfg.CoarseZoom {
		return -1
	}
	return z
}

// EnsureViewport fetches the fine tiles g needs that are not yet resident.
// Failed fetches are cached as Missing so the area stays no data for this
// source. Only cancellation is reported as an error.
func (p *Provider) EnsureViewport(ctx context.Context, g geo.Grid) error {
	p.mu.RLock()
	src := p.source
	p.mu.RUnlock()
	if src == nil {
		return nil
	}

	z := p.fineZoom(g, src.TileSize())
	if z < 0 {
		return nil
	}

	var keys []TileKey
	for _, t := range geo.TilesCovering(g.Bounds, z) {
		key := NewTileKey(z, int(t.X), int(t.Y))
		if !p.tiles.Contains(key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.Concurrency)
	for _, key := range keys {
		eg.Go(func() error {
			tile, err := src.Fetch(ectx, key)
			if ectx.Err() != nil {
				return ectx.Err()
			}
			if err != nil {
				zap.L().Debug("dem: fine tile unavailable", zap.Stringer("tile", key), zap.Error(err))
				tile = MissingTile(key, src.TileSize())
			}
			p.tiles.Put(tile)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return eris.Wrap(err, "dem: ensure viewport")
	}

	zap.L().Debug("dem: viewport tiles loaded", zap.Int("zoom", z), zap.Int("fetched", len(keys)))
	return nil
}

// tileView resolves global pixel coordinates at one zoom through a fixed set
// of resident tiles, or through the cache when tiles is nil. It remembers the
// last tile hit so scanning a row costs one lookup per tile crossing.
type tileView struct {
	zoom, size int
	tiles      map[TileKey]*Tile
	cache      *TileCache
	lastKey    TileKey
	last       *Tile
	hasLast    bool
}

func (v *tileView) tile(tx, ty int) *Tile {
	key := NewTileKey(v.zoom, tx, ty)
	if v.hasLast && key == v.lastKey {
		return v.last
	}
	var t *Tile
	if v.tiles != nil {
		t = v.tiles[key]
	} else if v.cache != nil {
		t, _ = v.cache.Get(key)
	}
	if t != nil && t.Missing {
		t = nil
	}
	v.lastKey, v.last, v.hasLast = key, t, true
	return t
}

func (v *tileView) at(gx, gy int) float64 {
	if gx < 0 || gy < 0 {
		return math.NaN()
	}
	t := v.tile(gx/v.size, gy/v.size)
	if t == nil {
		return math.NaN()
	}
	return float64(t.Data[(gy%v.size)*t.Size+gx%v.size])
}

// window fills win around global pixel (gx, gy). Interior cells read the
// tile buffer directly; cells on a tile edge resolve each neighbour on its own.
func (v *tileView) window(gx, gy int, win *[9]float64) {
	if gx >= 0 && gy >= 0 {
		if t := v.tile(gx/v.size, gy/v.size); t != nil {
			lx, ly := gx%v.size, gy%v.size
			if lx >= 1 && ly >= 1 && lx < v.size-1 && ly < v.size-1 {
				fillWindow(t.Data, ly*v.size+lx, v.size, win)
				return
			}
		} else {
			win[4] = math.NaN()
			return
		}
	}
	k := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			win[k] = v.at(gx+dx, gy+dy)
			k++
		}
	}
}

// gridView is tileView's counterpart over the merged grid.
type gridView struct {
	g *MergedGrid
}

func (v gridView) window(gx, gy int, win *[9]float64) {
	g := v.g
	if g == nil {
		win[4] = math.NaN()
		return
	}
	lx, ly := gx-g.OriginX, gy-g.OriginY
	if lx >= 1 && ly >= 1 && lx < g.Width-1 && ly < g.Height-1 {
		fillWindow(g.Data, ly*g.Width+lx, g.Width, win)
		return
	}
	k := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			win[k] = g.At(gx+dx, gy+dy)
			k++
		}
	}
}

func fillWindow(data []float32, idx, stride int, win *[9]float64) {
	up, down := idx-stride, idx+stride
	win[0], win[1], win[2] = float64(data[up-1]), float64(data[up]), float64(data[up+1])
	win[3], win[4], win[5] = float64(data[idx-1]), float64(data[idx]), float64(data[idx+1])
	win[6], win[7], win[8] = float64(data[down-1]), float64(data[down]), float64(data[down+1])
}

// snapshot collects the resident tiles with data at zoom z covering b so the
// sampling loop runs without locks.
func (p *Provider) snapshot(b geo.Bounds, z int) map[TileKey]*Tile {
	covering := geo.TilesCovering(b, z)
	tiles := make(map[TileKey]*Tile, len(covering))
	for _, t := range covering {
		key := NewTileKey(z, int(t.X), int(t.Y))
		if tile, ok := p.tiles.Get(key); ok && !tile.Missing {
			tiles[key] = tile
		}
	}
	return tiles
}

// Sample returns the terrain at one coordinate using resident data only:
// the finest cached tile containing the point, else the coarse grid.
func (p *Provider) Sample(lon, lat float64) Sample {
	p.mu.RLock()
	grid, size := p.grid, p.tileSize()
	p.mu.RUnlock()

	var win [9]float64
	for z := p.cfg.MaxZoom; z > p.cfg.CoarseZoom; z-- {
		gx := int(math.Floor(geo.LonToX(lon, z, size)))
		gy := int(math.Floor(geo.LatToY(lat, z, size)))
		key := NewTileKey(z, gx/size, gy/size)
		tile, ok := p.tiles.Get(key)
		if !ok || tile.Missing {
			continue
		}
		view := &tileView{zoom: z, size: size, cache: p.tiles}
		view.window(gx, gy, &win)
		if s, ok := sampleWindow(&win, lat, z, size); ok {
			return s
		}
	}

	if grid != nil {
		z := grid.Zoom
		gx := int(math.Floor(geo.LonToX(lon, z, size)))
		gy := int(math.Floor(geo.LatToY(lat, z, size)))
		gridView{g: grid}.window(gx, gy, &win)
		if s, ok := sampleWindow(&win, lat, z, size); ok {
			return s
		}
	}
	return noSample()
}

func sampleWindow(win *[9]float64, lat float64, z, size int) (Sample, bool) {
	cell := geo.MetersPerPixel(lat, z, size)
	slope, aspect, ok := Horn(win, cell, cell)
	if !ok {
		return Sample{}, false
	}
	return Sample{Slope: slope, Elevation: win[4], Aspect: aspect, Valid: true, Zoom: z}, true
}

func noSample() Sample {
	return Sample{Slope: math.NaN(), Elevation: math.NaN(), Aspect: math.NaN()}
}

// SampleGrid samples every pixel centre of g from resident data. Per-row
// projection and cell sizes are computed once per row; gaps are no data.
func (p *Provider) SampleGrid(g geo.Grid) *Samples {
	p.mu.RLock()
	grid, size := p.grid, p.tileSize()
	p.mu.RUnlock()

	n := g.Len()
	out := &Samples{
		Width:     g.Width,
		Height:    g.Height,
		Slope:     p.bufs.Float.Get(n),
		Elevation: p.bufs.Float.Get(n),
		Aspect:    p.bufs.Float.Get(n),
		Valid:     p.bufs.Bool.Get(n),
		FineZoom:  p.fineZoom(g, size),
		bufs:      p.bufs,
	}

	var fine *tileView
	if out.FineZoom > 0 {
		tiles := p.snapshot(g.Bounds, out.FineZoom)
		if len(tiles) > 0 {
			fine = &tileView{zoom: out.FineZoom, size: size, tiles: tiles}
		} else {
			out.FineZoom = -1
		}
	}
	coarse := gridView{g: grid}

	// Column projections are shared by all rows.
	fineX := make([]int, g.Width)
	coarseX := make([]int, g.Width)
	for col := 0; col < g.Width; col++ {
		lon := g.Lon(col)
		if fine != nil {
			fineX[col] = int(math.Floor(geo.LonToX(lon, fine.zoom, size)))
		}
		if grid != nil {
			coarseX[col] = int(math.Floor(geo.LonToX(lon, grid.Zoom, size)))
		}
	}

	var win [9]float64
	nan := math.NaN()
	for row := 0; row < g.Height; row++ {
		lat := g.Lat(row)
		var fineY, coarseY int
		var fineCell, coarseCell float64
		if fine != nil {
			fineY = int(math.Floor(geo.LatToY(lat, fine.zoom, size)))
			fineCell = geo.MetersPerPixel(lat, fine.zoom, size)
		}
		if grid != nil {
			coarseY = int(math.Floor(geo.LatToY(lat, grid.Zoom, size)))
			coarseCell = geo.MetersPerPixel(lat, grid.Zoom, size)
		}

		base := row * g.Width
		for col := 0; col < g.Width; col++ {
			i := base + col
			ok := false
			var slope, aspect float64
			if fine != nil {
				fine.window(fineX[col], fineY, &win)
				slope, aspect, ok = Horn(&win, fineCell, fineCell)
			}
			if !ok && grid != nil {
				coarse.window(coarseX[col], coarseY, &win)
				slope, aspect, ok = Horn(&win, coarseCell, coarseCell)
			}
			if !ok {
				out.Slope[i], out.Elevation[i], out.Aspect[i] = nan, nan, nan
				continue
			}
			out.Slope[i] = slope
			out.Elevation[i] = win[4]
			out.Aspect[i] = aspect
			out.Valid[i] = true
		}
	}
	return out
}

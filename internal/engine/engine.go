// Package engine renders livability frames by driving the terrain provider,
// membership index, attribute lookup, scorer and renderer together.
package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/livability/internal/attribute"
	"github.com/sells-group/livability/internal/bufpool"
	"github.com/sells-group/livability/internal/dem"
	"github.com/sells-group/livability/internal/geo"
	"github.com/sells-group/livability/internal/layer"
	"github.com/sells-group/livability/internal/present"
	"github.com/sells-group/livability/internal/region"
	"github.com/sells-group/livability/internal/scorer"
)

// Config tunes an Engine.
type Config struct {
	// Extent is the region renders are clamped to.
	Extent geo.Bounds
	// TileSize is the pixel size zoom-derived dimensions are computed with.
	TileSize int
	// MaxDimension caps the longer side of a frame.
	MaxDimension int
	// PixelStride renders one score pixel per stride×stride map pixels
	// when dimensions are derived from a zoom.
	PixelStride int
	// MembershipMaxCells caps the membership raster resolution.
	MembershipMaxCells int
	Normalize          scorer.NormalizeMode
	Scorer             scorer.Options
	Present            present.Options
}

func (c *Config) defaults() {
	if c.TileSize <= 0 {
		c.TileSize = 256
	}
	if c.MaxDimension <= 0 {
		c.MaxDimension = 1024
	}
	if c.PixelStride <= 0 {
		c.PixelStride = 1
	}
	if c.MembershipMaxCells <= 0 {
		c.MembershipMaxCells = 250_000
	}
}

// Deps are the cache objects an Engine draws on. Nil fields get private
// instances.
type Deps struct {
	Provider   *dem.Provider
	Indexes    *region.IndexCache
	Membership *region.MembershipCache
	LUTs       *attribute.Cache
	Buffers    *bufpool.Buffers
}

// Engine renders frames. Renders are serialised; configuration setters may
// run concurrently with them and take effect on the next render.
type Engine struct {
	cfg Config

	render   sync.Mutex
	mu       sync.RWMutex
	scorer   *scorer.Scorer
	renderer *present.Renderer
	regions  *region.Set
	table    *attribute.Table

	provider   *dem.Provider
	indexes    *region.IndexCache
	membership *region.MembershipCache
	luts       *attribute.Cache
	bufs       *bufpool.Buffers

	renders atomic.Int64
}

// New creates an Engine scoring with specs.
func New(cfg Config, deps Deps, specs []layer.Spec) (*Engine, error) {
	cfg.defaults()
	if deps.Buffers == nil {
		deps.Buffers = bufpool.NewBuffers()
	}
	if deps.Provider == nil {
		deps.Provider = dem.NewProvider(dem.ProviderConfig{Extent: cfg.Extent}, deps.Buffers)
	}
	if deps.Indexes == nil {
		deps.Indexes = region.NewIndexCache()
	}
	if deps.Membership == nil {
		deps.Membership = region.NewMembershipCache(0)
	}
	if deps.LUTs == nil {
		deps.LUTs = attribute.NewCache()
	}

	sc, err := scorer.New(specs, cfg.Scorer, deps.Buffers)
	if err != nil {
		return nil, eris.Wrap(err, "engine: build scorer")
	}
	rd, err := present.NewRenderer(cfg.Present)
	if err != nil {
		return nil, eris.Wrap(err, "engine: build renderer")
	}

	return &Engine{
		cfg:        cfg,
		scorer:     sc,
		renderer:   rd,
		regions:    region.NewSet(nil),
		provider:   deps.Provider,
		indexes:    deps.Indexes,
		membership: deps.Membership,
		luts:       deps.LUTs,
		bufs:       deps.Buffers,
	}, nil
}

// Provider returns the terrain provider.
func (e *Engine) Provider() *dem.Provider { return e.provider }

// Extent returns the configured extent.
func (e *Engine) Extent() geo.Bounds { return e.cfg.Extent }

// ConfigureSource switches the elevation tile source. Only terrain state is
// invalidated.
func (e *Engine) ConfigureSource(ctx context.Context, src dem.Fetcher) error {
	if err := e.provider.Configure(ctx, src); err != nil {
		return eris.Wrap(err, "engine: configure source")
	}
	grid := e.provider.Grid()
	zap.L().Info("engine: tile source configured",
		zap.String("source", string(src.Key())),
		zap.Int("missing_coarse_tiles", grid.MissingTiles()),
	)
	return nil
}

// SetLayers replaces the scoring layers. Terrain and membership caches are
// untouched.
func (e *Engine) SetLayers(specs []layer.Spec) error {
	e.mu.RLock()
	opts := e.scorer.Options()
	e.mu.RUnlock()

	sc, err := scorer.New(specs, opts, e.bufs)
	if err != nil {
		return eris.Wrap(err, "engine: set layers")
	}

	e.mu.Lock()
	e.scorer = sc
	set, table := e.regions, e.table
	e.mu.Unlock()

	e.warnMissing(sc, set, table)
	return nil
}

// Layers returns the current layer specs.
func (e *Engine) Layers() []layer.Spec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.scorer.Layers()
}

// SetRegions replaces the region set. A nil set clears it.
func (e *Engine) SetRegions(set *region.Set) {
	if set == nil {
		set = region.NewSet(nil)
	}
	e.mu.Lock()
	e.regions = set
	sc, table := e.scorer, e.table
	e.mu.Unlock()

	zap.L().Info("engine: regions set",
		zap.Int("regions", set.Len()),
		zap.Uint64("generation", set.Generation()),
	)
	e.warnMissing(sc, set, table)
}

// Regions returns the current region set.
func (e *Engine) Regions() *region.Set {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.regions
}

// SetTable replaces the attribute table.
func (e *Engine) SetTable(t *attribute.Table) {
	e.mu.Lock()
	e.table = t
	sc, set := e.scorer, e.regions
	e.mu.Unlock()

	e.warnMissing(sc, set, t)
}

// Table returns the current attribute table, possibly nil.
func (e *Engine) Table() *attribute.Table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table
}

// SetPresentation replaces the renderer options.
func (e *Engine) SetPresentation(opts present.Options) error {
	rd, err := present.NewRenderer(opts)
	if err != nil {
		return eris.Wrap(err, "engine: set presentation")
	}
	e.mu.Lock()
	e.renderer = rd
	e.cfg.Present = opts
	e.mu.Unlock()
	return nil
}

// SetNormalize changes the default normalisation mode.
func (e *Engine) SetNormalize(mode scorer.NormalizeMode) {
	e.mu.Lock()
	e.cfg.Normalize = mode
	e.mu.Unlock()
}

func (e *Engine) warnMissing(sc *scorer.Scorer, set *region.Set, table *attribute.Table) {
	if table == nil || set.Len() == 0 {
		return
	}
	luts := e.luts.Get(set, table)
	if missing := sc.MissingVariables(luts); len(missing) > 0 {
		zap.L().Warn("engine: layers reference unknown attribute variables",
			zap.Strings("variables", missing),
		)
	}
	if luts.Unmatched > 0 {
		zap.L().Warn("engine: regions without attribute records",
			zap.Int("unmatched", luts.Unmatched),
			zap.Int("regions", set.Len()),
		)
	}
}

// state is a consistent snapshot of the engine configuration.
type state struct {
	scorer    *scorer.Scorer
	renderer  *present.Renderer
	regions   *region.Set
	table     *attribute.Table
	normalize scorer.NormalizeMode
}

func (e *Engine) snapshot() state {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return state{
		scorer:    e.scorer,
		renderer:  e.renderer,
		regions:   e.regions,
		table:     e.table,
		normalize: e.cfg.Normalize,
	}
}

// Stats reports cache and pool counters.
type Stats struct {
	Renders     int64             `json:"renders"`
	Tiles       dem.CacheStats    `json:"tiles"`
	Membership  region.CacheStats `json:"membership"`
	IndexBuilds int               `json:"index_builds"`
	LUTBuilds   int               `json:"lut_builds"`
	FloatPool   bufpool.Stats     `json:"float_pool"`
	BoolPool    bufpool.Stats     `json:"bool_pool"`
	BytePool    bufpool.Stats     `json:"byte_pool"`
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Renders:     e.renders.Load(),
		Tiles:       e.provider.TileStats(),
		Membership:  e.membership.Stats(),
		IndexBuilds: e.indexes.Builds(),
		LUTBuilds:   e.luts.Builds(),
		FloatPool:   e.bufs.Float.Stats(),
		BoolPool:    e.bufs.Bool.Stats(),
		BytePool:    e.bufs.Byte.Stats(),
	}
}

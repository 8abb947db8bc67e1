package engine

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/livability/internal/bufpool"
	"github.com/sells-group/livability/internal/dem"
	"github.com/sells-group/livability/internal/geo"
	"github.com/sells-group/livability/internal/region"
	"github.com/sells-group/livability/internal/scorer"
)

// Request describes one frame.
type Request struct {
	Bounds geo.Bounds
	// Width and Height are the frame size in pixels. When either is zero
	// the size is derived from Zoom.
	Width, Height int
	Zoom          int
	// ResidentOnly renders from tiles already in memory without fetching.
	ResidentOnly bool
	// Normalize overrides the configured normalisation mode.
	Normalize *scorer.NormalizeMode
}

// FrameStats describes how a frame was produced.
type FrameStats struct {
	Scores           scorer.Stats  `json:"scores"`
	FineZoom         int           `json:"fine_zoom"`
	MembershipWidth  int           `json:"membership_width"`
	MembershipHeight int           `json:"membership_height"`
	MembershipHit    bool          `json:"membership_hit"`
	RegionsVisible   int           `json:"regions_visible"`
	Elapsed          time.Duration `json:"elapsed"`
}

// Frame is a rendered, colourised score raster.
type Frame struct {
	ID     uuid.UUID  `json:"id"`
	Bounds geo.Bounds `json:"bounds"`
	Width  int        `json:"width"`
	Height int        `json:"height"`
	// RGBA holds non-premultiplied pixels, row-major.
	RGBA  []uint8    `json:"-"`
	Stats FrameStats `json:"stats"`

	bufs *bufpool.Buffers
}

// Release returns the pixel buffer to the engine's pool.
func (f *Frame) Release() {
	if f == nil || f.bufs == nil {
		return
	}
	f.bufs.Byte.Put(f.RGBA)
	f.RGBA = nil
	f.bufs = nil
}

// Dimensions returns the frame size for req over bounds.
func (e *Engine) Dimensions(req Request, bounds geo.Bounds) (int, int) {
	w, h := req.Width, req.Height
	if w <= 0 || h <= 0 {
		z := min(max(req.Zoom, 0), dem.MaxTileZoom)
		ts := e.cfg.TileSize
		fw := geo.LonToX(bounds.East, z, ts) - geo.LonToX(bounds.West, z, ts)
		fh := geo.LatToY(bounds.South, z, ts) - geo.LatToY(bounds.North, z, ts)
		w = int(math.Ceil(fw / float64(e.cfg.PixelStride)))
		h = int(math.Ceil(fh / float64(e.cfg.PixelStride)))
	}
	w, h = max(w, 1), max(h, 1)
	if longest := max(w, h); longest > e.cfg.MaxDimension {
		scale := float64(e.cfg.MaxDimension) / float64(longest)
		w = max(int(math.Round(float64(w)*scale)), 1)
		h = max(int(math.Round(float64(h)*scale)), 1)
	}
	return w, h
}

// Render produces one frame. Only context errors from tile loading are
// returned; missing data renders as transparent pixels.
func (e *Engine) Render(ctx context.Context, req Request) (*Frame, error) {
	e.render.Lock()
	defer e.render.Unlock()

	start := time.Now()
	st := e.snapshot()
	bounds := req.Bounds.Clamp(e.cfg.Extent)
	w, h := e.Dimensions(req, bounds)
	grid := geo.NewGrid(bounds, w, h)

	in := scorer.Inputs{Width: w, Height: h}
	stats := FrameStats{FineZoom: -1}

	if st.scorer.NeedsTerrain() {
		if !req.ResidentOnly {
			if err := e.provider.EnsureViewport(ctx, grid); err != nil {
				return nil, eris.Wrap(err, "engine: load viewport tiles")
			}
		}
		samples := e.provider.SampleGrid(grid)
		defer samples.Release()
		in.Terrain = samples
		stats.FineZoom = samples.FineZoom
	}

	if st.regions.Len() > 0 {
		membership, mapping, hit := e.resolveMembership(st.regions, grid)
		in.Membership = membership
		in.Mapping = mapping
		in.LUTs = e.luts.Get(st.regions, st.table)
		stats.MembershipWidth = membership.Width()
		stats.MembershipHeight = membership.Height()
		stats.MembershipHit = hit
		perRegion, _ := membership.Counts(st.regions.Len())
		for _, c := range perRegion {
			if c > 0 {
				stats.RegionsVisible++
			}
		}
	}

	raster := st.scorer.Score(in)
	defer raster.Release()

	stats.Scores = raster.Stats()
	mode := st.normalize
	if req.Normalize != nil {
		mode = *req.Normalize
	}
	scorer.Normalize(raster, mode)

	frame := &Frame{
		ID:     uuid.New(),
		Bounds: bounds,
		Width:  w,
		Height: h,
		RGBA:   st.renderer.Colorize(raster.Values, e.bufs.Byte.Get(4*w*h)),
		bufs:   e.bufs,
	}
	stats.Elapsed = time.Since(start)
	frame.Stats = stats
	e.renders.Add(1)

	zap.L().Debug("engine: frame rendered",
		zap.String("frame_id", frame.ID.String()),
		zap.Stringer("bounds", bounds),
		zap.Int("width", w),
		zap.Int("height", h),
		zap.Int("fine_zoom", stats.FineZoom),
		zap.Bool("membership_hit", stats.MembershipHit),
		zap.Int("valid", stats.Scores.Valid),
		zap.Duration("elapsed", stats.Elapsed),
	)
	return frame, nil
}

// resolveMembership returns the cached membership raster for grid and the
// pixel mapping into it.
func (e *Engine) resolveMembership(set *region.Set, grid geo.Grid) (*region.Raster, []int, bool) {
	ix := e.indexes.Get(set)
	mg := region.MembershipGrid(grid, e.cfg.MembershipMaxCells)
	membership, hit := e.membership.Get(ix, mg)
	var mapping []int
	if mg.Width != grid.Width || mg.Height != grid.Height {
		mapping = membership.MapIndex(grid.Width, grid.Height, nil)
	}
	return membership, mapping, hit
}

// RegionRef identifies the region containing a point.
type RegionRef struct {
	Index int    `json:"index"`
	Key   string `json:"key"`
	Name  string `json:"name"`
}

// TerrainResult is the terrain at a point. Missing values encode as null.
type TerrainResult struct {
	Slope     scorer.Value `json:"slope"`
	Elevation scorer.Value `json:"elevation"`
	Aspect    scorer.Value `json:"aspect"`
	Flat      bool         `json:"flat"`
	Valid     bool         `json:"valid"`
	Zoom      int          `json:"zoom"`
}

// PointResult is the terrain, region and composite score at one location.
type PointResult struct {
	Lon     float64           `json:"lon"`
	Lat     float64           `json:"lat"`
	Terrain TerrainResult     `json:"terrain"`
	Region  *RegionRef        `json:"region,omitempty"`
	Score   scorer.PointScore `json:"score"`
}

// Sample scores one location from resident terrain data.
func (e *Engine) Sample(_ context.Context, lon, lat float64) PointResult {
	st := e.snapshot()
	t := e.provider.Sample(lon, lat)

	out := PointResult{
		Lon: lon,
		Lat: lat,
		Terrain: TerrainResult{
			Slope:     scorer.Value(t.Slope),
			Elevation: scorer.Value(t.Elevation),
			Aspect:    scorer.Value(t.Aspect),
			Flat:      t.Valid && t.Aspect == dem.FlatAspect,
			Valid:     t.Valid,
			Zoom:      t.Zoom,
		},
	}
	if out.Terrain.Flat {
		out.Terrain.Aspect = scorer.Value(math.NaN())
	}

	in := scorer.PointInput{Terrain: t, Region: region.Outside}
	if st.regions.Len() > 0 {
		in.HasRegions = true
		in.Region = e.indexes.Get(st.regions).Locate(lon, lat)
		in.LUTs = e.luts.Get(st.regions, st.table)
		if in.Region != region.Outside {
			r := st.regions.At(int(in.Region))
			out.Region = &RegionRef{Index: r.Index, Key: r.Key, Name: r.Name}
		}
	}
	out.Score = st.scorer.Point(in)
	return out
}

// RegionScores ranks every region of the current set.
func (e *Engine) RegionScores() []scorer.RegionScore {
	st := e.snapshot()
	if st.regions.Len() == 0 {
		return nil
	}
	return st.scorer.RegionScores(st.regions, e.luts.Get(st.regions, st.table))
}

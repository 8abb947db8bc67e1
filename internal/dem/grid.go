package dem

import (
	"context"
	"math"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/livability/internal/geo"
)

// MergedGrid is the always-resident coarse elevation raster: every tile at
// one zoom covering the region extent, stitched into one buffer.
type MergedGrid struct {
	Zoom     int
	TileSize int
	// Origin of the grid in global pixel coordinates at Zoom.
	OriginX, OriginY int
	Width, Height    int
	Data             []float32

	source  SourceKey
	missing int
}

// Source returns the key of the source the grid was built from.
func (g *MergedGrid) Source() SourceKey { return g.source }

// MissingTiles returns how many tiles of the grid could not be fetched.
func (g *MergedGrid) MissingTiles() int { return g.missing }

// At returns the elevation at global pixel (gx, gy), or NaN outside the grid.
func (g *MergedGrid) At(gx, gy int) float64 {
	if g == nil {
		return math.NaN()
	}
	lx, ly := gx-g.OriginX, gy-g.OriginY
	if lx < 0 || ly < 0 || lx >= g.Width || ly >= g.Height {
		return math.NaN()
	}
	return float64(g.Data[ly*g.Width+lx])
}

// BuildMergedGrid fetches every tile at zoom covering extent and stitches
// them. Tiles that cannot be fetched stay NaN; only cancellation is an error.
func BuildMergedGrid(ctx context.Context, src Fetcher, extent geo.Bounds, zoom, concurrency int) (*MergedGrid, error) {
	tiles := geo.TilesCovering(extent, zoom)
	if len(tiles) == 0 {
		return nil, eris.Errorf("dem: extent %s covers no tiles", extent)
	}
	size := src.TileSize()

	minX, minY := int(tiles[0].X), int(tiles[0].Y)
	maxX, maxY := minX, minY
	for _, t := range tiles {
		minX, maxX = min(minX, int(t.X)), max(maxX, int(t.X))
		minY, maxY = min(minY, int(t.Y)), max(maxY, int(t.Y))
	}

	grid := &MergedGrid{
		Zoom:     zoom,
		TileSize: size,
		OriginX:  minX * size,
		OriginY:  minY * size,
		Width:    (maxX - minX + 1) * size,
		Height:   (maxY - minY + 1) * size,
		source:   src.Key(),
	}
	grid.Data = make([]float32, grid.Width*grid.Height)
	nan := float32(math.NaN())
	for i := range grid.Data {
		grid.Data[i] = nan
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	for _, t := range tiles {
		key := NewTileKey(zoom, int(t.X), int(t.Y))
		g.Go(func() error {
			tile, err := src.FetchWithRetry(gctx, key)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err != nil || tile.Missing {
				if err != nil {
					zap.L().Warn("dem: coarse tile unavailable", zap.Stringer("tile", key), zap.Error(err))
				}
				mu.Lock()
				grid.missing++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			ox := (key.X() - minX) * size
			oy := (key.Y() - minY) * size
			for row := 0; row < size; row++ {
				copy(grid.Data[(oy+row)*grid.Width+ox:], tile.Data[row*size:(row+1)*size])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "dem: build merged grid")
	}

	zap.L().Info("dem: merged coarse grid",
		zap.Int("zoom", zoom),
		zap.Int("tiles", len(tiles)),
		zap.Int("missing", grid.missing),
		zap.Int("width", grid.Width),
		zap.Int("height", grid.Height),
	)
	return grid, nil
}

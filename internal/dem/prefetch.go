package dem

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/livability/internal/geo"
)

// Progress reports the state of a Prefetch.
type Progress struct {
	Zoom    int           `json:"zoom"`
	Done    int           `json:"done"`
	Total   int           `json:"total"`
	Missing int           `json:"missing"`
	Elapsed time.Duration `json:"elapsed"`
}

// progressEvery is how many completed tiles pass between progress reports.
const progressEvery = 25

// Prefetch loads every tile covering bounds for zooms minZoom..maxZoom into
// the fine tile cache through the rate-limited retry path. Tiles already
// resident are skipped. It fails when retries are exhausted for any tile.
func (p *Provider) Prefetch(ctx context.Context, bounds geo.Bounds, minZoom, maxZoom int, onProgress func(Progress)) (Progress, error) {
	p.mu.RLock()
	src := p.source
	p.mu.RUnlock()
	if src == nil {
		return Progress{}, eris.New("dem: prefetch without a configured source")
	}
	if minZoom > maxZoom {
		minZoom, maxZoom = maxZoom, minZoom
	}
	maxZoom = min(maxZoom, MaxTileZoom)

	var keys []TileKey
	for z := max(minZoom, 0); z <= maxZoom; z++ {
		for _, t := range geo.TilesCovering(bounds, z) {
			key := NewTileKey(z, int(t.X), int(t.Y))
			if !p.tiles.Contains(key) {
				keys = append(keys, key)
			}
		}
	}

	start := time.Now()
	total := len(keys)
	var done, missing atomic.Int64
	report := func(z int) Progress {
		pr := Progress{
			Zoom:    z,
			Done:    int(done.Load()),
			Total:   total,
			Missing: int(missing.Load()),
			Elapsed: time.Since(start),
		}
		if onProgress != nil {
			onProgress(pr)
		}
		return pr
	}

	zap.L().Info("dem: prefetch started",
		zap.Stringer("bounds", bounds),
		zap.Int("min_zoom", minZoom),
		zap.Int("max_zoom", maxZoom),
		zap.Int("tiles", total),
	)

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.Concurrency)
	for _, key := range keys {
		eg.Go(func() error {
			tile, err := src.FetchWithRetry(ectx, key)
			if err != nil {
				return eris.Wrapf(err, "dem: prefetch tile %s", key)
			}
			if tile.Missing {
				missing.Add(1)
			}
			p.tiles.Put(tile)
			if n := done.Add(1); n%progressEvery == 0 {
				report(key.Z())
			}
			return nil
		})
	}
	err := eg.Wait()
	final := report(maxZoom)
	if err != nil {
		return final, err
	}

	zap.L().Info("dem: prefetch complete",
		zap.Int("tiles", final.Done),
		zap.Int("missing", final.Missing),
		zap.Duration("elapsed", final.Elapsed),
	)
	return final, nil
}

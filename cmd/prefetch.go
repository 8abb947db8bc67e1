package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/livability/internal/dem"
	"github.com/sells-group/livability/internal/geo"
)

var prefetchCmd = &cobra.Command{
	Use:   "prefetch",
	Short: "Check tile coverage for an area",
	Long:  "Fetches every elevation tile covering --bbox for each zoom in [--min-zoom, --max-zoom] and reports how many are missing upstream. The serve command runs the same pass in the background with --warm-zoom.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		minZoom, _ := cmd.Flags().GetInt("min-zoom")
		maxZoom, _ := cmd.Flags().GetInt("max-zoom")
		if maxZoom == 0 {
			maxZoom = cfg.Tiles.MaxZoom
		}
		if minZoom > maxZoom {
			return eris.Errorf("prefetch: min-zoom %d exceeds max-zoom %d", minZoom, maxZoom)
		}

		e, err := buildEngine(ctx, cfg, "prefetch")
		if err != nil {
			return err
		}
		bounds := e.Extent()
		if raw, _ := cmd.Flags().GetString("bbox"); raw != "" {
			if bounds, err = geo.ParseBounds(raw); err != nil {
				return err
			}
			bounds = bounds.Clamp(e.Extent())
		}

		final, err := e.Provider().Prefetch(ctx, bounds, minZoom, maxZoom, func(p dem.Progress) {
			zap.L().Info("prefetch progress",
				zap.Int("zoom", p.Zoom),
				zap.Int("done", p.Done),
				zap.Int("total", p.Total),
				zap.Int("missing", p.Missing),
			)
		})
		if err != nil {
			return eris.Wrap(err, "prefetch")
		}

		stats := e.Provider().TileStats()
		zap.L().Info("prefetch complete",
			zap.Stringer("bounds", bounds),
			zap.Int("tiles", final.Done),
			zap.Int("missing", final.Missing),
			zap.Int("cached", stats.Entries),
			zap.Duration("elapsed", final.Elapsed),
		)
		return nil
	},
}

func init() {
	prefetchCmd.Flags().String("bbox", "", "area as west,south,east,north (default: configured extent)")
	prefetchCmd.Flags().Int("min-zoom", 10, "first zoom to fetch")
	prefetchCmd.Flags().Int("max-zoom", 0, "last zoom to fetch (default: tiles.max_zoom)")
	rootCmd.AddCommand(prefetchCmd)
}

package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/livability/internal/engine"
	"github.com/sells-group/livability/internal/server"
)

var (
	servePort     int
	serveWarmZoom int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP render server",
	Long:  "Serves /render (PNG), /sample, /regions, /layers, /ramps, /stats and /health.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := buildEngine(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		if serveWarmZoom > cfg.Tiles.CoarseZoom {
			go warmTiles(ctx, e, serveWarmZoom)
		}

		srv := &http.Server{
			Addr: cfg.ServerAddr(servePort),
			Handler: server.New(e, server.Options{
				CORSOrigins:   cfg.Server.CORSOrigins,
				RenderTimeout: 30 * time.Second,
			}).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// warmTiles loads fine tiles over the whole extent from the coarse zoom up
// to zoom so early renders hit the cache.
func warmTiles(ctx context.Context, e *engine.Engine, zoom int) {
	from := cfg.Tiles.CoarseZoom + 1
	final, err := e.Provider().Prefetch(ctx, e.Extent(), from, min(zoom, cfg.Tiles.MaxZoom), nil)
	if err != nil {
		zap.L().Warn("tile warm-up stopped", zap.Error(err))
		return
	}
	zap.L().Info("tile warm-up complete",
		zap.Int("tiles", final.Done),
		zap.Int("missing", final.Missing),
		zap.Duration("elapsed", final.Elapsed),
	)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().IntVar(&serveWarmZoom, "warm-zoom", 0, "prefetch fine tiles over the extent up to this zoom in the background")
	rootCmd.AddCommand(serveCmd)
}

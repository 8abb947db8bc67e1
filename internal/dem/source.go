package dem

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png" // terrain tiles are PNG
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/livability/internal/resilience"
)

// SourceKey identifies a tile source configuration. Changing any part of it
// invalidates everything derived from the source.
type SourceKey string

// Fetcher provides elevation tiles.
type Fetcher interface {
	// Key identifies the source configuration.
	Key() SourceKey
	// TileSize is the edge length of every tile in pixels.
	TileSize() int
	// Fetch makes a single attempt at a tile. A tile the server does not
	// have is returned as a Missing tile with a nil error.
	Fetch(ctx context.Context, key TileKey) (*Tile, error)
	// FetchWithRetry is Fetch with bounded exponential backoff for the
	// rate-limited bulk path.
	FetchWithRetry(ctx context.Context, key TileKey) (*Tile, error)
}

// SourceConfig configures an HTTP elevation tile source.
type SourceConfig struct {
	// URL is a template containing {z}, {x} and {y}.
	URL               string
	Encoding          Encoding
	TileSize          int
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Retry             resilience.RetryConfig
	Breaker           resilience.BreakerConfig
}

// Key returns the identity of the configuration.
func (c SourceConfig) Key() SourceKey {
	return SourceKey(fmt.Sprintf("%s|%s|%d", c.URL, c.Encoding, c.TileSize))
}

// Source fetches elevation tiles over plain HTTP GET.
type Source struct {
	cfg     SourceConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// NewSource validates cfg and creates a Source.
func NewSource(cfg SourceConfig) (*Source, error) {
	for _, p := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(cfg.URL, p) {
			return nil, eris.Errorf("dem: tile url %q is missing %s", cfg.URL, p)
		}
	}
	if cfg.TileSize <= 0 {
		cfg.TileSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "livability/1.0"
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 8
	}

	breakerCfg := cfg.Breaker
	breakerCfg.OnStateChange = func(from, to resilience.BreakerState) {
		zap.L().Warn("dem: tile source breaker changed state",
			zap.String("source", cfg.URL),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}

	return &Source{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		breaker: resilience.NewBreaker(breakerCfg),
	}, nil
}

// Key implements Fetcher.
func (s *Source) Key() SourceKey { return s.cfg.Key() }

// TileSize implements Fetcher.
func (s *Source) TileSize() int { return s.cfg.TileSize }

// URL expands the template for key.
func (s *Source) URL(key TileKey) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(key.Z()),
		"{x}", strconv.Itoa(key.X()),
		"{y}", strconv.Itoa(key.Y()),
	).Replace(s.cfg.URL)
}

// Fetch implements Fetcher.
func (s *Source) Fetch(ctx context.Context, key TileKey) (*Tile, error) {
	return resilience.Call(ctx, s.breaker, func(ctx context.Context) (*Tile, error) {
		return s.fetchOnce(ctx, key)
	})
}

// FetchWithRetry implements Fetcher.
func (s *Source) FetchWithRetry(ctx context.Context, key TileKey) (*Tile, error) {
	cfg := s.cfg.Retry
	cfg.OnRetry = resilience.RetryLogger(s.cfg.URL, "fetch "+key.String())
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Tile, error) {
		return s.Fetch(ctx, key)
	})
}

func (s *Source) fetchOnce(ctx context.Context, key TileKey) (*Tile, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "dem: rate limiter wait")
	}

	url := s.URL(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "dem: create tile request")
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "dem: fetch tile")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return MissingTile(key, s.cfg.TileSize), nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		te := resilience.NewTransientError(
			eris.Errorf("dem: tile server returned %d for %s", resp.StatusCode, url), resp.StatusCode)
		if d, ok := resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			te = te.WithRetryAfter(d)
		}
		return nil, te
	default:
		return nil, eris.Errorf("dem: tile server returned %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "dem: read tile body")
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrapf(err, "dem: decode tile %s", key)
	}
	data, err := s.cfg.Encoding.DecodeImage(img, s.cfg.TileSize)
	if err != nil {
		return nil, eris.Wrapf(err, "dem: tile %s", key)
	}

	zap.L().Debug("dem: fetched tile", zap.String("url", url), zap.Int("bytes", len(body)))
	return &Tile{Key: key, Size: s.cfg.TileSize, Data: data}, nil
}

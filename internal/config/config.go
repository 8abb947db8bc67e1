package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sells-group/livability/internal/attribute"
	"github.com/sells-group/livability/internal/dem"
	"github.com/sells-group/livability/internal/engine"
	"github.com/sells-group/livability/internal/geo"
	"github.com/sells-group/livability/internal/layer"
	"github.com/sells-group/livability/internal/present"
	"github.com/sells-group/livability/internal/region"
	"github.com/sells-group/livability/internal/resilience"
	"github.com/sells-group/livability/internal/scorer"
	"github.com/sells-group/livability/internal/transfer"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig                  `yaml:"log" mapstructure:"log"`
	Tiles      TilesConfig                `yaml:"tiles" mapstructure:"tiles"`
	Region     RegionConfig               `yaml:"region" mapstructure:"region"`
	Attributes attribute.SourceConfig     `yaml:"attributes" mapstructure:"attributes"`
	Render     RenderConfig               `yaml:"render" mapstructure:"render"`
	Layers     []layer.Spec               `yaml:"layers" mapstructure:"layers"`
	LayersFile string                     `yaml:"layers_file" mapstructure:"layers_file"`
	Aspect     transfer.AspectPreferences `yaml:"aspect" mapstructure:"aspect"`
	Retry      RetryConfig                `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig              `yaml:"circuit" mapstructure:"circuit"`
	Server     ServerConfig               `yaml:"server" mapstructure:"server"`
}

// LogConfig configures logging. When File is set, entries are also written
// to a rotating file.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// TilesConfig configures the elevation tile source and caches.
type TilesConfig struct {
	URL               string  `yaml:"url" mapstructure:"url"`
	Encoding          string  `yaml:"encoding" mapstructure:"encoding"`
	TileSize          int     `yaml:"tile_size" mapstructure:"tile_size"`
	CoarseZoom        int     `yaml:"coarse_zoom" mapstructure:"coarse_zoom"`
	MaxZoom           int     `yaml:"max_zoom" mapstructure:"max_zoom"`
	CacheEntries      int     `yaml:"cache_entries" mapstructure:"cache_entries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxViewportTiles  int     `yaml:"max_viewport_tiles" mapstructure:"max_viewport_tiles"`
}

// RegionConfig configures the scored extent and the region boundaries.
type RegionConfig struct {
	Extent       geo.Bounds `yaml:"extent" mapstructure:"extent"`
	Path         string     `yaml:"path" mapstructure:"path"`
	KeyProperty  string     `yaml:"key_property" mapstructure:"key_property"`
	NameProperty string     `yaml:"name_property" mapstructure:"name_property"`
}

// RenderConfig configures frame production and colouring.
type RenderConfig struct {
	MaxDimension       int     `yaml:"max_dimension" mapstructure:"max_dimension"`
	PixelStride        int     `yaml:"pixel_stride" mapstructure:"pixel_stride"`
	MembershipMaxCells int     `yaml:"membership_max_cells" mapstructure:"membership_max_cells"`
	MembershipEntries  int     `yaml:"membership_entries" mapstructure:"membership_entries"`
	NeutralScore       float64 `yaml:"neutral_score" mapstructure:"neutral_score"`
	Normalize          string  `yaml:"normalize" mapstructure:"normalize"`
	DisqualifiedMode   string  `yaml:"disqualified_mode" mapstructure:"disqualified_mode"`
	Ramp               string  `yaml:"ramp" mapstructure:"ramp"`
	ReverseRamp        bool    `yaml:"reverse_ramp" mapstructure:"reverse_ramp"`
	Opacity            float64 `yaml:"opacity" mapstructure:"opacity"`
}

// RetryConfig configures tile fetch retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter" mapstructure:"jitter"`
}

// CircuitConfig configures the tile source circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Policy returns the bulk fetch retry policy. Unset fields keep the
// resilience defaults; a negative jitter keeps the default jitter.
func (r RetryConfig) Policy() resilience.RetryConfig {
	p := resilience.DefaultRetryConfig()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.InitialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(r.InitialBackoffMs) * time.Millisecond
	}
	if r.MaxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(r.MaxBackoffMs) * time.Millisecond
	}
	if r.Multiplier > 0 {
		p.Multiplier = r.Multiplier
	}
	if r.JitterFraction >= 0 {
		p.JitterFraction = r.JitterFraction
	}
	return p
}

// Breaker returns the tile source breaker settings.
func (cc CircuitConfig) Breaker() resilience.BreakerConfig {
	b := resilience.DefaultBreakerConfig()
	if cc.FailureThreshold > 0 {
		b.FailureThreshold = cc.FailureThreshold
	}
	if cc.ResetTimeoutSecs > 0 {
		b.ResetTimeout = time.Duration(cc.ResetTimeoutSecs) * time.Second
	}
	return b
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LIVABILITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("tiles.url", "https://s3.amazonaws.com/elevation-tiles-prod/terrarium/{z}/{x}/{y}.png")
	v.SetDefault("tiles.encoding", "terrarium")
	v.SetDefault("tiles.tile_size", 256)
	v.SetDefault("tiles.coarse_zoom", 8)
	v.SetDefault("tiles.max_zoom", 12)
	v.SetDefault("tiles.cache_entries", 512)
	v.SetDefault("tiles.requests_per_second", 20)
	v.SetDefault("tiles.burst", 10)
	v.SetDefault("tiles.timeout_secs", 15)
	v.SetDefault("tiles.user_agent", "livability/1.0")
	v.SetDefault("tiles.concurrency", 8)
	v.SetDefault("tiles.max_viewport_tiles", 64)
	v.SetDefault("region.extent.west", 5.9)
	v.SetDefault("region.extent.south", 45.8)
	v.SetDefault("region.extent.east", 10.5)
	v.SetDefault("region.extent.north", 47.8)
	v.SetDefault("region.key_property", "key")
	v.SetDefault("region.name_property", "name")
	v.SetDefault("render.max_dimension", 1024)
	v.SetDefault("render.pixel_stride", 1)
	v.SetDefault("render.membership_max_cells", 250000)
	v.SetDefault("render.membership_entries", 8)
	v.SetDefault("render.neutral_score", 0.5)
	v.SetDefault("render.normalize", "global")
	v.SetDefault("render.disqualified_mode", "mask")
	v.SetDefault("render.ramp", "blue_red")
	v.SetDefault("render.opacity", 0.85)
	aspect := transfer.DefaultAspectPreferences()
	v.SetDefault("aspect.n", aspect.N)
	v.SetDefault("aspect.ne", aspect.NE)
	v.SetDefault("aspect.e", aspect.E)
	v.SetDefault("aspect.se", aspect.SE)
	v.SetDefault("aspect.s", aspect.S)
	v.SetDefault("aspect.sw", aspect.SW)
	v.SetDefault("aspect.w", aspect.W)
	v.SetDefault("aspect.nw", aspect.NW)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 250)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.2)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	layerDefaults(v.Get("layers"), cfg.Layers)

	return &cfg, nil
}

// layerDefaults enables inline layers and gives them unit weight unless the
// file says otherwise, matching preset files.
func layerDefaults(raw any, specs []layer.Spec) {
	items, _ := raw.([]any)
	for i := range specs {
		var m map[string]any
		if i < len(items) {
			m, _ = items[i].(map[string]any)
		}
		if _, ok := m["enabled"]; !ok {
			specs[i].Enabled = true
		}
		if _, ok := m["weight"]; !ok {
			specs[i].Weight = 1
		}
	}
}

// LayerSpecs returns the configured layers: the preset file when set, then
// the inline list, then the built-in defaults. Aspect layers without their
// own preferences take the top-level aspect section.
func (c *Config) LayerSpecs() ([]layer.Spec, error) {
	var specs []layer.Spec
	switch {
	case c.LayersFile != "":
		p, err := layer.LoadPreset(c.LayersFile)
		if err != nil {
			return nil, eris.Wrap(err, "config: load layers file")
		}
		specs = p.Layers
	case len(c.Layers) > 0:
		specs = append([]layer.Spec(nil), c.Layers...)
	default:
		specs = layer.DefaultSpecs()
	}

	for i := range specs {
		if specs[i].Kind == layer.KindAspect && specs[i].Aspect == nil {
			prefs := c.Aspect
			specs[i].Aspect = &prefs
		}
	}
	if err := layer.Validate(specs); err != nil {
		return nil, eris.Wrap(err, "config: layers")
	}
	return specs, nil
}

// SourceConfig returns the tile source configuration.
func (c *Config) SourceConfig() (dem.SourceConfig, error) {
	enc, err := dem.ParseEncoding(c.Tiles.Encoding)
	if err != nil {
		return dem.SourceConfig{}, eris.Wrap(err, "config: tiles encoding")
	}
	return dem.SourceConfig{
		URL:               c.Tiles.URL,
		Encoding:          enc,
		TileSize:          c.Tiles.TileSize,
		UserAgent:         c.Tiles.UserAgent,
		Timeout:           time.Duration(c.Tiles.TimeoutSecs) * time.Second,
		RequestsPerSecond: c.Tiles.RequestsPerSecond,
		Burst:             c.Tiles.Burst,
		Retry:             c.Retry.Policy(),
		Breaker:           c.Circuit.Breaker(),
	}, nil
}

// RegionOptions returns the region loader options.
func (c *Config) RegionOptions() region.LoadOptions {
	return region.LoadOptions{KeyProperty: c.Region.KeyProperty, NameProperty: c.Region.NameProperty}
}

// ProviderConfig returns the terrain provider configuration.
func (c *Config) ProviderConfig() dem.ProviderConfig {
	return dem.ProviderConfig{
		Extent:           c.Region.Extent,
		CoarseZoom:       c.Tiles.CoarseZoom,
		MaxZoom:          c.Tiles.MaxZoom,
		CacheEntries:     c.Tiles.CacheEntries,
		Concurrency:      c.Tiles.Concurrency,
		MaxViewportTiles: c.Tiles.MaxViewportTiles,
	}
}

// EngineConfig returns the render engine configuration.
func (c *Config) EngineConfig() (engine.Config, error) {
	var errs []string
	mode, err := scorer.ParseNormalizeMode(c.Render.Normalize)
	if err != nil {
		errs = append(errs, err.Error())
	}
	disq, err := present.ParseDisqualifiedMode(c.Render.DisqualifiedMode)
	if err != nil {
		errs = append(errs, err.Error())
	}
	if !c.Region.Extent.Valid() {
		errs = append(errs, "region.extent must have west < east and south < north")
	}
	if len(errs) > 0 {
		return engine.Config{}, eris.Errorf("config: render: %s", strings.Join(errs, "; "))
	}

	return engine.Config{
		Extent:             c.Region.Extent,
		TileSize:           c.Tiles.TileSize,
		MaxDimension:       c.Render.MaxDimension,
		PixelStride:        c.Render.PixelStride,
		MembershipMaxCells: c.Render.MembershipMaxCells,
		Normalize:          mode,
		Scorer:             scorer.Options{Neutral: c.Render.NeutralScore},
		Present: present.Options{
			Ramp:         c.Render.Ramp,
			Reverse:      c.Render.ReverseRamp,
			Opacity:      c.Render.Opacity,
			Disqualified: disq,
		},
	}, nil
}

// Validate checks the settings a command mode needs.
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case "render", "sample", "regions", "prefetch":
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	for _, p := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(c.Tiles.URL, p) {
			errs = append(errs, fmt.Sprintf("tiles.url must contain %s", p))
		}
	}
	if c.Tiles.TileSize <= 0 {
		errs = append(errs, "tiles.tile_size must be > 0")
	}
	if c.Tiles.CoarseZoom < 0 || c.Tiles.CoarseZoom > c.Tiles.MaxZoom {
		errs = append(errs, "tiles.coarse_zoom must be between 0 and tiles.max_zoom")
	}
	if c.Tiles.MaxZoom > dem.MaxTileZoom {
		errs = append(errs, fmt.Sprintf("tiles.max_zoom must be <= %d", dem.MaxTileZoom))
	}
	if c.Render.Opacity < 0 || c.Render.Opacity > 1 {
		errs = append(errs, "render.opacity must be between 0 and 1")
	}
	if c.Render.MaxDimension <= 0 {
		errs = append(errs, "render.max_dimension must be > 0")
	}
	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	var opts []zap.Option
	if cfg.File != "" {
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   true,
				LocalTime:  true,
			}),
			zapCfg.Level,
		)
		opts = append(opts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	logger, err := zapCfg.Build(opts...)
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// ServerAddr returns the listen address for port, falling back to the
// configured port when zero.
func (c *Config) ServerAddr(port int) string {
	if port == 0 {
		port = c.Server.Port
	}
	return fmt.Sprintf(":%d", port)
}

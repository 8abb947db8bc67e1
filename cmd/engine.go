package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/livability/internal/attribute"
	"github.com/sells-group/livability/internal/bufpool"
	"github.com/sells-group/livability/internal/config"
	"github.com/sells-group/livability/internal/dem"
	"github.com/sells-group/livability/internal/engine"
	"github.com/sells-group/livability/internal/region"
)

// buildEngine wires an engine from the loaded config: layers, tile source,
// regions and attribute table. mode selects which settings are validated.
func buildEngine(ctx context.Context, c *config.Config, mode string) (*engine.Engine, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}
	specs, err := c.LayerSpecs()
	if err != nil {
		return nil, err
	}
	ec, err := c.EngineConfig()
	if err != nil {
		return nil, err
	}
	sc, err := c.SourceConfig()
	if err != nil {
		return nil, err
	}

	bufs := bufpool.NewBuffers()
	e, err := engine.New(ec, engine.Deps{
		Provider:   dem.NewProvider(c.ProviderConfig(), bufs),
		Membership: region.NewMembershipCache(c.Render.MembershipEntries),
		Buffers:    bufs,
	}, specs)
	if err != nil {
		return nil, err
	}

	src, err := dem.NewSource(sc)
	if err != nil {
		return nil, eris.Wrap(err, "build tile source")
	}
	if err := e.ConfigureSource(ctx, src); err != nil {
		return nil, err
	}
	if err := loadRegionData(ctx, c, e); err != nil {
		return nil, err
	}

	zap.L().Info("engine ready",
		zap.Int("layers", len(specs)),
		zap.Int("regions", e.Regions().Len()),
		zap.Stringer("extent", e.Extent()),
	)
	return e, nil
}

// loadRegionData installs the configured region set and attribute table.
// Both are optional.
func loadRegionData(ctx context.Context, c *config.Config, e *engine.Engine) error {
	if c.Region.Path != "" {
		set, err := region.LoadFile(c.Region.Path, c.RegionOptions())
		if err != nil {
			return eris.Wrap(err, "load regions")
		}
		e.SetRegions(set)
	}
	if c.Attributes.Path != "" || c.Attributes.DSN != "" {
		tbl, err := attribute.Load(ctx, c.Attributes)
		if err != nil {
			return eris.Wrap(err, "load attributes")
		}
		e.SetTable(tbl)
	}
	return nil
}

package region

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// LoadOptions names the feature properties that carry region identity.
type LoadOptions struct {
	// KeyProperty holds the key attribute tables join on. Default "key".
	KeyProperty string
	// NameProperty holds the display name. Defaults to KeyProperty.
	NameProperty string
}

func (o LoadOptions) withDefaults() LoadOptions {
	if o.KeyProperty == "" {
		o.KeyProperty = "key"
	}
	if o.NameProperty == "" {
		o.NameProperty = o.KeyProperty
	}
	return o
}

// LoadFile reads regions from a GeoJSON (.geojson, .json) or ESRI shapefile
// (.shp) and returns them as a Set.
func LoadFile(path string, opts LoadOptions) (*Set, error) {
	var (
		regions []*Region
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, eris.Wrapf(openErr, "region: open %s", path)
		}
		defer func() { _ = f.Close() }()
		regions, err = ReadGeoJSON(f, opts)
	case ".shp":
		regions, err = ReadShapefile(path, opts)
	default:
		return nil, eris.Errorf("region: unsupported region file %s", path)
	}
	if err != nil {
		return nil, err
	}

	set := NewSet(regions)
	zap.L().Info("region: loaded regions",
		zap.String("path", path),
		zap.Int("regions", set.Len()),
		zap.Stringer("extent", set.Extent()),
	)
	return set, nil
}

// ReadGeoJSON decodes a FeatureCollection. Polygon and MultiPolygon features
// become regions; other geometry types are skipped.
func ReadGeoJSON(r io.Reader, opts LoadOptions) ([]*Region, error) {
	opts = opts.withDefaults()

	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "region: decode geojson")
	}

	regions := make([]*Region, 0, len(fc.Features))
	var skipped int
	for i, f := range fc.Features {
		mp := asMultiPolygon(f.Geometry)
		if mp == nil {
			skipped++
			continue
		}
		key := propertyString(f.Properties, opts.KeyProperty)
		if key == "" {
			key = f.ID
		}
		if key == "" {
			key = fmt.Sprintf("feature-%d", i)
		}
		name := propertyString(f.Properties, opts.NameProperty)
		if name == "" {
			name = key
		}
		regions = append(regions, New(key, name, mp))
	}

	if skipped > 0 {
		zap.L().Debug("region: skipped non-polygon features", zap.Int("skipped", skipped))
	}
	return regions, nil
}

func asMultiPolygon(g geom.T) *geom.MultiPolygon {
	switch g := g.(type) {
	case *geom.MultiPolygon:
		if g.NumPolygons() == 0 {
			return nil
		}
		return g
	case *geom.Polygon:
		if g.NumLinearRings() == 0 {
			return nil
		}
		mp := geom.NewMultiPolygon(g.Layout())
		if err := mp.Push(g); err != nil {
			return nil
		}
		return mp
	default:
		return nil
	}
}

func propertyString(props map[string]interface{}, name string) string {
	v, ok := props[name]
	if !ok || v == nil {
		return ""
	}
	switch v := v.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// ReadShapefile reads polygon records from a shapefile. Clockwise rings are
// outer boundaries and counter-clockwise rings are holes of the outer ring
// that contains them.
func ReadShapefile(path string, opts LoadOptions) ([]*Region, error) {
	opts = opts.withDefaults()

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "region: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	attr := func(name string) string {
		idx, ok := fieldIdx[strings.ToLower(name)]
		if !ok {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
	}

	var regions []*Region
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := shapePolygon(poly)
		if mp == nil {
			skipped++
			continue
		}
		key := attr(opts.KeyProperty)
		if key == "" {
			key = fmt.Sprintf("record-%d", n)
		}
		name := attr(opts.NameProperty)
		if name == "" {
			name = key
		}
		regions = append(regions, New(key, name, mp))
	}

	if skipped > 0 {
		zap.L().Debug("region: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return regions, nil
}

// shapePolygon converts a shapefile polygon to a MultiPolygon, grouping holes
// under their outer rings.
func shapePolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var outers []*geom.Polygon
	var holes [][]float64
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 3 {
			continue
		}
		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		if signedArea(flat) < 0 {
			poly := geom.NewPolygon(geom.XY)
			if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
				zap.L().Debug("region: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
				continue
			}
			outers = append(outers, poly)
			continue
		}
		holes = append(holes, flat)
	}

	for _, hole := range holes {
		owner := -1
		for i, outer := range outers {
			if ringContains(outer.LinearRing(0).FlatCoords(), 2, hole[0], hole[1]) {
				owner = i
				break
			}
		}
		ring := geom.NewLinearRingFlat(geom.XY, hole)
		if owner < 0 {
			// A counter-clockwise ring outside every outer: treat it as an outer.
			poly := geom.NewPolygon(geom.XY)
			if err := poly.Push(ring); err == nil {
				outers = append(outers, poly)
			}
			continue
		}
		if err := outers[owner].Push(ring); err != nil {
			zap.L().Debug("region: skipping malformed hole", zap.Error(err))
		}
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for _, poly := range outers {
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("region: skipping malformed polygon", zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea is the shoelace area; negative for clockwise rings.
func signedArea(flat []float64) float64 {
	n := len(flat) / 2
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return sum / 2
}

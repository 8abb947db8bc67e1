// Package geo holds the small amount of geographic math the renderer needs:
// bounding boxes, viewport clamping, Web Mercator projection and pixel grids.
package geo

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// MaxLatitude is the Web Mercator latitude limit in degrees.
const MaxLatitude = 85.05112878

// Bounds is a geographic bounding box in WGS-84 degrees.
type Bounds struct {
	West  float64 `json:"west" yaml:"west" mapstructure:"west"`
	South float64 `json:"south" yaml:"south" mapstructure:"south"`
	East  float64 `json:"east" yaml:"east" mapstructure:"east"`
	North float64 `json:"north" yaml:"north" mapstructure:"north"`
}

// ParseBounds parses "west,south,east,north".
func ParseBounds(s string) (Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}, eris.Errorf("geo: bounds %q must have 4 comma-separated values", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Bounds{}, eris.Wrapf(err, "geo: parse bounds value %q", p)
		}
		vals[i] = v
	}
	return Bounds{West: vals[0], South: vals[1], East: vals[2], North: vals[3]}, nil
}

// Valid reports whether the box has positive, finite extent on both axes.
func (b Bounds) Valid() bool {
	for _, v := range [...]float64{b.West, b.South, b.East, b.North} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.West < b.East && b.South < b.North
}

// Contains returns true if the point (lon, lat) is within the bounds.
func (b Bounds) Contains(lon, lat float64) bool {
	return lon >= b.West && lon <= b.East &&
		lat >= b.South && lat <= b.North
}

// Intersects returns true if the given bounds overlaps this one.
func (b Bounds) Intersects(other Bounds) bool {
	return !(other.East < b.West ||
		other.West > b.East ||
		other.North < b.South ||
		other.South > b.North)
}

// Intersection returns the overlap of b and other. The result is not Valid
// when the boxes do not overlap.
func (b Bounds) Intersection(other Bounds) Bounds {
	return Bounds{
		West:  math.Max(b.West, other.West),
		South: math.Max(b.South, other.South),
		East:  math.Min(b.East, other.East),
		North: math.Min(b.North, other.North),
	}
}

// Expand returns a new Bounds grown by margin degrees in all directions.
func (b Bounds) Expand(margin float64) Bounds {
	return Bounds{
		West:  b.West - margin,
		South: b.South - margin,
		East:  b.East + margin,
		North: b.North + margin,
	}
}

// Center returns the midpoint of the box.
func (b Bounds) Center() (lon, lat float64) {
	return (b.West + b.East) / 2, (b.South + b.North) / 2
}

// Clamp restricts b to extent and to the Web Mercator latitude range.
// Degenerate or non-overlapping viewports resolve to the extent itself
// rather than failing.
func (b Bounds) Clamp(extent Bounds) Bounds {
	extent = extent.Intersection(Bounds{West: -180, South: -MaxLatitude, East: 180, North: MaxLatitude})
	if !b.Valid() {
		return extent
	}
	clipped := b.Intersection(extent)
	if !clipped.Valid() {
		return extent
	}
	return clipped
}

// String formats the box as "west,south,east,north".
func (b Bounds) String() string {
	return strings.Join([]string{
		strconv.FormatFloat(b.West, 'f', -1, 64),
		strconv.FormatFloat(b.South, 'f', -1, 64),
		strconv.FormatFloat(b.East, 'f', -1, 64),
		strconv.FormatFloat(b.North, 'f', -1, 64),
	}, ",")
}

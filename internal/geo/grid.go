package geo

import "math"

// Grid is a Width×Height pixel grid laid over Bounds. Columns are linear in
// longitude and rows are linear in Mercator Y, matching a slippy-map overlay.
type Grid struct {
	Bounds Bounds
	Width  int
	Height int

	x0, dx float64 // normalised Mercator X of the west edge, per-column step
	y0, dy float64 // normalised Mercator Y of the north edge, per-row step
}

// NewGrid builds a grid over b. Dimensions below 1 are raised to 1.
func NewGrid(b Bounds, width, height int) Grid {
	width = max(width, 1)
	height = max(height, 1)
	x0 := LonToX(b.West, 0, 1)
	x1 := LonToX(b.East, 0, 1)
	y0 := LatToY(b.North, 0, 1)
	y1 := LatToY(b.South, 0, 1)
	return Grid{
		Bounds: b,
		Width:  width,
		Height: height,
		x0:     x0,
		dx:     (x1 - x0) / float64(width),
		y0:     y0,
		dy:     (y1 - y0) / float64(height),
	}
}

// Len returns the number of cells.
func (g Grid) Len() int { return g.Width * g.Height }

// Lon returns the longitude of the centre of column col.
func (g Grid) Lon(col int) float64 {
	return XToLon(g.x0+(float64(col)+0.5)*g.dx, 0, 1)
}

// Lat returns the latitude of the centre of row row.
func (g Grid) Lat(row int) float64 {
	return YToLat(g.y0+(float64(row)+0.5)*g.dy, 0, 1)
}

// MetersPerPixel returns the ground width of one grid column at the
// grid's central latitude.
func (g Grid) MetersPerPixel() float64 {
	_, lat := g.Bounds.Center()
	return g.dx * EarthCircumference * math.Cos(lat*math.Pi/180)
}

// Scaled returns a grid over the same bounds with the given dimensions.
func (g Grid) Scaled(width, height int) Grid {
	return NewGrid(g.Bounds, width, height)
}

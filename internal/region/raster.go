package region

import (
	"math"

	"github.com/sells-group/livability/internal/geo"
)

// Outside marks a cell no region contains.
const Outside int32 = -1

// Raster records the owning region index of every cell of a grid.
type Raster struct {
	Grid  geo.Grid
	Cells []int32
}

// Width returns the raster width in cells.
func (r *Raster) Width() int { return r.Grid.Width }

// Height returns the raster height in cells.
func (r *Raster) Height() int { return r.Grid.Height }

// At returns the region index at (col, row).
func (r *Raster) At(col, row int) int32 { return r.Cells[row*r.Grid.Width+col] }

// Build assigns every cell centre of g to the first region, in ascending
// index order, whose polygon contains it. Only regions whose boxes overlap
// the grid are considered, and each row only tests the regions whose boxes
// span its latitude.
func Build(ix *Index, g geo.Grid) *Raster {
	r := &Raster{Grid: g, Cells: make([]int32, g.Len())}
	for i := range r.Cells {
		r.Cells[i] = Outside
	}
	if ix == nil || ix.Len() == 0 {
		return r
	}

	candidates := ix.Candidates(g.Bounds)
	if len(candidates) == 0 {
		return r
	}

	lons := make([]float64, g.Width)
	for col := range lons {
		lons[col] = g.Lon(col)
	}

	row := make([]int, 0, len(candidates))
	for y := 0; y < g.Height; y++ {
		lat := g.Lat(y)
		row = row[:0]
		for _, i := range candidates {
			if lat >= ix.minY[i] && lat <= ix.maxY[i] {
				row = append(row, i)
			}
		}
		if len(row) == 0 {
			continue
		}

		cells := r.Cells[y*g.Width : (y+1)*g.Width]
		for x, lon := range lons {
			for _, i := range row {
				if lon < ix.minX[i] || lon > ix.maxX[i] {
					continue
				}
				if ix.set.At(i).ContainsPoint(lon, lat) {
					cells[x] = int32(i)
					break
				}
			}
		}
	}
	return r
}

// MapIndex returns, for every cell of a width×height raster over the same
// bounds, the index into r.Cells that owns it. dst is reused when long
// enough.
func (r *Raster) MapIndex(width, height int, dst []int) []int {
	n := width * height
	if cap(dst) < n {
		dst = make([]int, n)
	}
	dst = dst[:n]

	cols := make([]int, width)
	for col := range cols {
		cols[col] = col * r.Grid.Width / width
	}
	for row := 0; row < height; row++ {
		base := (row * r.Grid.Height / height) * r.Grid.Width
		out := dst[row*width : (row+1)*width]
		for col, mc := range cols {
			out[col] = base + mc
		}
	}
	return dst
}

// Counts returns how many cells each region owns and how many are outside.
func (r *Raster) Counts(regions int) (perRegion []int, outside int) {
	perRegion = make([]int, regions)
	for _, c := range r.Cells {
		if c == Outside || int(c) >= regions {
			outside++
			continue
		}
		perRegion[c]++
	}
	return perRegion, outside
}

// MembershipGrid returns the grid membership is computed on for a score grid
// g: g itself when it has at most maxCells cells, otherwise g shrunk by the
// smallest integer factor that fits.
func MembershipGrid(g geo.Grid, maxCells int) geo.Grid {
	if maxCells <= 0 || g.Len() <= maxCells {
		return g
	}
	k := int(math.Ceil(math.Sqrt(float64(g.Len()) / float64(maxCells))))
	for ; ; k++ {
		w := (g.Width + k - 1) / k
		h := (g.Height + k - 1) / k
		if w*h <= maxCells {
			return g.Scaled(w, h)
		}
	}
}

package dem

import (
	"fmt"
	"math"
)

// MaxTileZoom is the deepest zoom a TileKey can address.
const MaxTileZoom = 20

// TileKey packs a tile coordinate as z<<40 | x<<20 | y.
type TileKey uint64

// NewTileKey packs (z, x, y).
func NewTileKey(z, x, y int) TileKey {
	return TileKey(uint64(z)<<40 | uint64(x&0xfffff)<<20 | uint64(y&0xfffff))
}

// Z returns the zoom level.
func (k TileKey) Z() int { return int(k >> 40) }

// X returns the tile column.
func (k TileKey) X() int { return int(k >> 20 & 0xfffff) }

// Y returns the tile row.
func (k TileKey) Y() int { return int(k & 0xfffff) }

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z(), k.X(), k.Y())
}

// Tile is an immutable square raster of elevations in metres. NaN marks no
// data. A Missing tile could not be obtained from its source and holds no
// samples.
type Tile struct {
	Key     TileKey
	Size    int
	Data    []float32
	Missing bool
}

// MissingTile returns a placeholder for a tile the source cannot provide.
func MissingTile(key TileKey, size int) *Tile {
	return &Tile{Key: key, Size: size, Missing: true}
}

// At returns the elevation at tile-local pixel (px, py), or NaN.
func (t *Tile) At(px, py int) float64 {
	if t == nil || t.Missing || px < 0 || py < 0 || px >= t.Size || py >= t.Size {
		return math.NaN()
	}
	return float64(t.Data[py*t.Size+px])
}

// bytes estimates the memory held by the tile.
func (t *Tile) bytes() int {
	return len(t.Data) * 4
}

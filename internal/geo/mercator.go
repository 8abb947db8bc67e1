package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// EarthCircumference is the equatorial circumference used by Web Mercator, in metres.
const EarthCircumference = 40075016.686

// worldSize is the width of the world in pixels at zoom z.
func worldSize(z, tileSize int) float64 {
	return float64(tileSize) * math.Exp2(float64(z))
}

// LonToX converts longitude to a global pixel X at zoom z.
func LonToX(lon float64, z, tileSize int) float64 {
	return (lon + 180) / 360 * worldSize(z, tileSize)
}

// LatToY converts latitude to a global pixel Y at zoom z. Latitudes beyond
// the Mercator limit are clamped.
func LatToY(lat float64, z, tileSize int) float64 {
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	phi := lat * math.Pi / 180
	y := (1 - math.Log(math.Tan(phi)+1/math.Cos(phi))/math.Pi) / 2
	return y * worldSize(z, tileSize)
}

// XToLon is the inverse of LonToX.
func XToLon(x float64, z, tileSize int) float64 {
	return x/worldSize(z, tileSize)*360 - 180
}

// YToLat is the inverse of LatToY.
func YToLat(y float64, z, tileSize int) float64 {
	n := math.Pi - 2*math.Pi*y/worldSize(z, tileSize)
	return 180 / math.Pi * math.Atan(math.Sinh(n))
}

// MetersPerPixel returns the ground size of one pixel at latitude lat.
// Mercator pixels are square on the ground, so this holds for both axes.
func MetersPerPixel(lat float64, z, tileSize int) float64 {
	return EarthCircumference * math.Cos(lat*math.Pi/180) / worldSize(z, tileSize)
}

// ZoomForResolution returns the smallest zoom in [minZoom, maxZoom] whose
// pixels are no larger than mpp metres at latitude lat.
func ZoomForResolution(mpp, lat float64, tileSize, minZoom, maxZoom int) int {
	if mpp <= 0 || math.IsNaN(mpp) {
		return maxZoom
	}
	for z := minZoom; z < maxZoom; z++ {
		if MetersPerPixel(lat, z, tileSize) <= mpp {
			return z
		}
	}
	return maxZoom
}

// TilesCovering lists the XYZ tiles at zoom z that intersect b.
func TilesCovering(b Bounds, z int) []maptile.Tile {
	if !b.Valid() {
		return nil
	}
	const eps = 1e-9
	west := math.Max(-180, b.West)
	east := math.Min(180-eps, b.East)
	north := math.Min(MaxLatitude, b.North)
	south := math.Max(-MaxLatitude, b.South)

	zoom := maptile.Zoom(z)
	nw := maptile.At(orb.Point{west, north}, zoom)
	se := maptile.At(orb.Point{east, south}, zoom)

	tiles := make([]maptile.Tile, 0, int(se.X-nw.X+1)*int(se.Y-nw.Y+1))
	for y := nw.Y; y <= se.Y; y++ {
		for x := nw.X; x <= se.X; x++ {
			tiles = append(tiles, maptile.New(x, y, zoom))
		}
	}
	return tiles
}

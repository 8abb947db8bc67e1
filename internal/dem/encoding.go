// Package dem loads elevation tiles and derives slope, aspect and elevation
// from them for single points and whole viewport grids.
package dem

import (
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Encoding is the RGB elevation packing used by a tile source.
type Encoding int

const (
	// EncodingMapbox is Mapbox Terrain-RGB: -10000 + (R*65536 + G*256 + B) * 0.1.
	EncodingMapbox Encoding = iota
	// EncodingTerrarium is Terrarium: R*256 + G + B/256 - 32768.
	EncodingTerrarium
)

// ParseEncoding parses an encoding name.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mapbox", "terrain-rgb", "terrainrgb", "":
		return EncodingMapbox, nil
	case "terrarium":
		return EncodingTerrarium, nil
	default:
		return 0, eris.Errorf("dem: unknown elevation encoding %q", s)
	}
}

func (e Encoding) String() string {
	switch e {
	case EncodingMapbox:
		return "mapbox"
	case EncodingTerrarium:
		return "terrarium"
	default:
		return "unknown"
	}
}

// Decode converts one RGB sample to metres.
func (e Encoding) Decode(r, g, b uint8) float64 {
	switch e {
	case EncodingTerrarium:
		return float64(r)*256 + float64(g) + float64(b)/256 - 32768
	default:
		return -10000 + float64(int(r)<<16|int(g)<<8|int(b))*0.1
	}
}

// Encode converts metres to an RGB sample. Values outside the encodable
// range saturate.
func (e Encoding) Encode(elev float64) (r, g, b uint8) {
	switch e {
	case EncodingTerrarium:
		v := math.Max(0, math.Min(65535.99609375, elev+32768))
		whole := math.Floor(v)
		return uint8(int(whole) >> 8), uint8(int(whole) & 0xff), uint8(math.Floor((v - whole) * 256))
	default:
		v := int(math.Round((elev + 10000) * 10))
		v = max(0, min(v, 1<<24-1))
		return uint8(v >> 16), uint8(v >> 8 & 0xff), uint8(v & 0xff)
	}
}

// DecodeImage converts a square tile image to elevation samples. Fully
// transparent pixels are no data.
func (e Encoding) DecodeImage(img image.Image, size int) ([]float32, error) {
	bounds := img.Bounds()
	if bounds.Dx() != size || bounds.Dy() != size {
		return nil, eris.Errorf("dem: tile is %dx%d, want %dx%d", bounds.Dx(), bounds.Dy(), size, size)
	}

	out := make([]float32, size*size)
	nan := float32(math.NaN())

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < size; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+size*4]
			for x := 0; x < size; x++ {
				p := row[x*4 : x*4+4]
				if p[3] == 0 {
					out[y*size+x] = nan
					continue
				}
				out[y*size+x] = float32(e.Decode(p[0], p[1], p[2]))
			}
		}
	case *image.RGBA:
		for y := 0; y < size; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+size*4]
			for x := 0; x < size; x++ {
				p := row[x*4 : x*4+4]
				if p[3] == 0 {
					out[y*size+x] = nan
					continue
				}
				out[y*size+x] = float32(e.Decode(p[0], p[1], p[2]))
			}
		}
	default:
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				if c.A == 0 {
					out[y*size+x] = nan
					continue
				}
				out[y*size+x] = float32(e.Decode(c.R, c.G, c.B))
			}
		}
	}
	return out, nil
}

// EncodeImage packs elevation samples into an opaque tile image. NaN
// samples become fully transparent pixels.
func (e Encoding) EncodeImage(data []float32, size int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for i, v := range data[:size*size] {
		p := img.Pix[i*4 : i*4+4]
		if math.IsNaN(float64(v)) {
			continue
		}
		p[0], p[1], p[2] = e.Encode(float64(v))
		p[3] = 0xff
	}
	return img
}

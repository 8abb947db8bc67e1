package dem

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		in   string
		want Encoding
	}{
		{"", EncodingMapbox},
		{"mapbox", EncodingMapbox},
		{"Terrain-RGB", EncodingMapbox},
		{"terrarium", EncodingTerrarium},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEncoding(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseEncoding("geotiff")
	assert.Error(t, err)
}

func TestEncoding_DecodeKnownValues(t *testing.T) {
	// -10000 + (1*65536 + 134*256 + 160) * 0.1
	assert.InDelta(t, 0.0, EncodingMapbox.Decode(1, 134, 160), 1e-9)
	assert.InDelta(t, -10000.0, EncodingMapbox.Decode(0, 0, 0), 1e-9)

	assert.InDelta(t, 0.0, EncodingTerrarium.Decode(128, 0, 0), 1e-9)
	assert.InDelta(t, 100.5, EncodingTerrarium.Decode(128, 100, 128), 1e-9)
}

func TestEncoding_MapboxRoundTrip(t *testing.T) {
	for _, elev := range []float64{-432.1, 0, 0.05, 12.34, 1609.3, 4807.8, 8848.86} {
		r, g, b := EncodingMapbox.Encode(elev)
		assert.InDelta(t, elev, EncodingMapbox.Decode(r, g, b), 0.1, "elevation %v", elev)
	}
}

func TestEncoding_TerrariumRoundTrip(t *testing.T) {
	for _, elev := range []float64{-10.5, 0, 321.25, 4807.8} {
		r, g, b := EncodingTerrarium.Encode(elev)
		assert.InDelta(t, elev, EncodingTerrarium.Decode(r, g, b), 1.0/256, "elevation %v", elev)
	}
}

func TestEncoding_EncodeSaturates(t *testing.T) {
	r, g, b := EncodingMapbox.Encode(-20000)
	assert.Equal(t, [3]uint8{0, 0, 0}, [3]uint8{r, g, b})
	r, g, b = EncodingMapbox.Encode(1e9)
	assert.Equal(t, [3]uint8{0xff, 0xff, 0xff}, [3]uint8{r, g, b})
}

func TestDecodeImage_TransparentIsNoData(t *testing.T) {
	data := []float32{100, float32(math.NaN()), 250.5, 0}
	img := EncodingMapbox.EncodeImage(data, 2)

	got, err := EncodingMapbox.DecodeImage(img, 2)
	require.NoError(t, err)
	assert.InDelta(t, 100, got[0], 0.1)
	assert.True(t, math.IsNaN(float64(got[1])))
	assert.InDelta(t, 250.5, got[2], 0.1)
	assert.InDelta(t, 0, got[3], 0.1)
}

func TestDecodeImage_GenericImage(t *testing.T) {
	img := image.NewPaletted(image.Rect(0, 0, 1, 1), color.Palette{color.NRGBA{R: 128, A: 0xff}})
	got, err := EncodingTerrarium.DecodeImage(img, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0, got[0], 1e-6)
}

func TestDecodeImage_WrongSize(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	_, err := EncodingMapbox.DecodeImage(img, 256)
	assert.Error(t, err)
}

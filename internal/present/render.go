package present

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/livability/internal/scorer"
)

// DisqualifiedMode selects how disqualified pixels are drawn.
type DisqualifiedMode int

const (
	// DisqualifiedMask draws a dark, semi-opaque mask colour.
	DisqualifiedMask DisqualifiedMode = iota
	// DisqualifiedTransparent leaves disqualified pixels transparent.
	DisqualifiedTransparent
)

func (m DisqualifiedMode) String() string {
	if m == DisqualifiedTransparent {
		return "transparent"
	}
	return "mask"
}

// ParseDisqualifiedMode parses "mask" or "transparent".
func ParseDisqualifiedMode(s string) (DisqualifiedMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mask":
		return DisqualifiedMask, nil
	case "transparent":
		return DisqualifiedTransparent, nil
	}
	return 0, eris.Errorf("present: unknown disqualified mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m DisqualifiedMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *DisqualifiedMode) UnmarshalText(text []byte) error {
	v, err := ParseDisqualifiedMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// DefaultMaskColor is the colour of disqualified pixels in mask mode.
var DefaultMaskColor = color.NRGBA{R: 20, G: 20, B: 24, A: 180}

// Options configures a Renderer.
type Options struct {
	Ramp         string           `yaml:"ramp" mapstructure:"ramp"`
	Reverse      bool             `yaml:"reverse_ramp" mapstructure:"reverse_ramp"`
	Opacity      float64          `yaml:"opacity" mapstructure:"opacity"`
	Disqualified DisqualifiedMode `yaml:"disqualified_mode" mapstructure:"disqualified_mode"`
}

// Renderer maps scores to non-premultiplied RGBA.
type Renderer struct {
	ramp  *Ramp
	alpha uint8
	mode  DisqualifiedMode
	mask  color.NRGBA
}

// NewRenderer builds a Renderer from opts.
func NewRenderer(opts Options) (*Renderer, error) {
	if math.IsNaN(opts.Opacity) || opts.Opacity < 0 || opts.Opacity > 1 {
		return nil, eris.Errorf("present: opacity must be in [0,1], got %g", opts.Opacity)
	}
	ramp, err := NewRamp(opts.Ramp, opts.Reverse)
	if err != nil {
		return nil, err
	}
	return &Renderer{
		ramp:  ramp,
		alpha: uint8(math.Round(opts.Opacity * 255)),
		mode:  opts.Disqualified,
		mask:  DefaultMaskColor,
	}, nil
}

// Ramp returns the renderer's colour ramp.
func (r *Renderer) Ramp() *Ramp { return r.ramp }

// Color returns the colour of one score.
func (r *Renderer) Color(v float64) color.NRGBA {
	switch {
	case math.IsNaN(v):
		return color.NRGBA{}
	case scorer.IsDisqualified(v):
		if r.mode == DisqualifiedTransparent {
			return color.NRGBA{}
		}
		return r.mask
	}
	c := r.ramp.At(v)
	c.A = r.alpha
	return c
}

// Colorize writes four bytes per value into dst and returns it. dst is
// allocated when shorter than 4*len(values).
func (r *Renderer) Colorize(values []float64, dst []uint8) []uint8 {
	n := 4 * len(values)
	if len(dst) < n {
		dst = make([]uint8, n)
	}
	dst = dst[:n]
	for i, v := range values {
		c := r.Color(v)
		p := dst[4*i : 4*i+4 : 4*i+4]
		p[0], p[1], p[2], p[3] = c.R, c.G, c.B, c.A
	}
	return dst
}

// EncodePNG writes a width×height non-premultiplied RGBA buffer as PNG.
func EncodePNG(w io.Writer, width, height int, rgba []uint8) error {
	if len(rgba) != 4*width*height {
		return eris.Errorf("present: buffer has %d bytes, want %d", len(rgba), 4*width*height)
	}
	img := &image.NRGBA{Pix: rgba, Stride: 4 * width, Rect: image.Rect(0, 0, width, height)}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(w, img); err != nil {
		return eris.Wrap(err, "present: encode png")
	}
	return nil
}

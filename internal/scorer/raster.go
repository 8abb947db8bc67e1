package scorer

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/livability/internal/bufpool"
)

// Raster holds one composite score per pixel, row-major. Values are in
// [0,1], NaN for no information, or Disqualified.
type Raster struct {
	Width, Height int
	Values        []float64

	bufs *bufpool.Buffers
}

// Release returns the value buffer to its pool. The Raster must not be used
// afterwards.
func (r *Raster) Release() {
	if r == nil || r.bufs == nil {
		return
	}
	r.bufs.Float.Put(r.Values)
	r.Values = nil
	r.bufs = nil
}

// Stats summarises a raster.
type Stats struct {
	Valid        int     `json:"valid"`
	NoData       int     `json:"no_data"`
	Disqualified int     `json:"disqualified"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
}

// MarshalJSON encodes missing Min, Max and Mean as null.
func (st Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Valid        int   `json:"valid"`
		NoData       int   `json:"no_data"`
		Disqualified int   `json:"disqualified"`
		Min          Value `json:"min"`
		Max          Value `json:"max"`
		Mean         Value `json:"mean"`
	}{st.Valid, st.NoData, st.Disqualified, Value(st.Min), Value(st.Max), Value(st.Mean)})
}

// Stats counts valid, no-data and disqualified pixels. Min, Max and Mean
// cover valid pixels and are NaN when there are none.
func (r *Raster) Stats() Stats {
	st := Stats{Min: math.Inf(1), Max: math.Inf(-1)}
	var total float64
	for _, v := range r.Values {
		switch {
		case math.IsNaN(v):
			st.NoData++
		case IsDisqualified(v):
			st.Disqualified++
		default:
			st.Valid++
			total += v
			st.Min = math.Min(st.Min, v)
			st.Max = math.Max(st.Max, v)
		}
	}
	if st.Valid == 0 {
		st.Min, st.Max, st.Mean = math.NaN(), math.NaN(), math.NaN()
		return st
	}
	st.Mean = total / float64(st.Valid)
	return st
}

// NormalizeMode selects how scores are stretched before colouring.
type NormalizeMode int

const (
	// NormalizeGlobal keeps scores on the absolute [0,1] scale.
	NormalizeGlobal NormalizeMode = iota
	// NormalizeFrame stretches the valid scores of each frame to [0,1].
	NormalizeFrame
)

func (m NormalizeMode) String() string {
	if m == NormalizeFrame {
		return "frame"
	}
	return "global"
}

// ParseNormalizeMode parses "global" or "frame".
func ParseNormalizeMode(s string) (NormalizeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "global":
		return NormalizeGlobal, nil
	case "frame":
		return NormalizeFrame, nil
	}
	return 0, eris.Errorf("scorer: unknown normalize mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m NormalizeMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *NormalizeMode) UnmarshalText(text []byte) error {
	v, err := ParseNormalizeMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Normalize rescales r in place. Sentinels are untouched. A frame whose
// valid scores are all equal is left as is.
func Normalize(r *Raster, mode NormalizeMode) {
	if mode != NormalizeFrame {
		return
	}
	st := r.Stats()
	span := st.Max - st.Min
	if st.Valid == 0 || span < 1e-12 {
		return
	}
	for i, v := range r.Values {
		if math.IsNaN(v) || IsDisqualified(v) {
			continue
		}
		r.Values[i] = (v - st.Min) / span
	}
}

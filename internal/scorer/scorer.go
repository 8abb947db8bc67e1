package scorer

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/livability/internal/attribute"
	"github.com/sells-group/livability/internal/bufpool"
	"github.com/sells-group/livability/internal/dem"
	"github.com/sells-group/livability/internal/layer"
	"github.com/sells-group/livability/internal/region"
)

// Disqualified marks a pixel a mandatory layer rejected. It lies outside
// [0,1] so it cannot be mistaken for a score.
const Disqualified = -1.0

// IsDisqualified reports whether v is the disqualified sentinel.
func IsDisqualified(v float64) bool { return v == Disqualified }

// compiled is one enabled layer ready to score.
type compiled struct {
	spec     layer.Spec
	resolver layer.Resolver
	eval     evaluator
}

// Scorer evaluates a fixed set of layers. It is immutable and safe for
// concurrent use.
type Scorer struct {
	specs    []layer.Spec
	terrain  []compiled
	regional []compiled
	opts     Options
	bufs     *bufpool.Buffers
}

// New compiles the enabled layers of specs. bufs may be nil, in which case
// buffers are allocated per call.
func New(specs []layer.Spec, opts Options, bufs *bufpool.Buffers) (*Scorer, error) {
	if err := layer.Validate(specs); err != nil {
		return nil, err
	}
	if err := ValidateOptions(opts); err != nil {
		return nil, err
	}
	if bufs == nil {
		bufs = bufpool.NewBuffers()
	}

	s := &Scorer{specs: append([]layer.Spec(nil), specs...), opts: opts, bufs: bufs}
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		c := compiled{spec: spec, resolver: spec.Kind.Resolve(), eval: evaluatorFor(spec)}
		if c.resolver.Terrain {
			s.terrain = append(s.terrain, c)
		} else {
			s.regional = append(s.regional, c)
		}
	}
	if len(s.terrain)+len(s.regional) == 0 {
		return nil, eris.New("scorer: no enabled layers")
	}
	return s, nil
}

// Layers returns a copy of the specs the scorer was built from.
func (s *Scorer) Layers() []layer.Spec {
	return append([]layer.Spec(nil), s.specs...)
}

// Options returns the scorer options.
func (s *Scorer) Options() Options { return s.opts }

// NeedsTerrain reports whether any enabled layer reads terrain samples.
func (s *Scorer) NeedsTerrain() bool { return len(s.terrain) > 0 }

// Variables returns the attribute variables the enabled region layers read.
func (s *Scorer) Variables() []string {
	var out []string
	for _, c := range s.regional {
		out = append(out, c.spec.Variable)
	}
	return out
}

// MissingVariables lists the variables enabled layers read that luts lacks.
func (s *Scorer) MissingVariables(luts *attribute.LUTSet) []string {
	var out []string
	for _, v := range s.Variables() {
		if luts == nil {
			out = append(out, v)
			continue
		}
		if _, ok := luts.LUT(v); !ok {
			out = append(out, v)
		}
	}
	return out
}

// Inputs is everything one Score call reads.
type Inputs struct {
	Width, Height int
	// Terrain holds the per-pixel samples. Nil means no terrain data.
	Terrain *dem.Samples
	// Membership assigns pixels to regions. Nil means no region set is
	// loaded: every pixel counts as inside and attribute layers are absent.
	Membership *region.Raster
	// Mapping maps pixel index to membership cell. Nil when membership has
	// the pixel resolution.
	Mapping []int
	LUTs    *attribute.LUTSet
}

// Score computes the composite score of every pixel. Per pixel the result
// is the weighted mean of the non-NaN layer scores, Disqualified when any
// mandatory layer disqualifies, NaN when the pixel is outside every region
// or terrain layers are enabled but the pixel has no terrain data, and the
// neutral score when no layer contributes.
func (s *Scorer) Score(in Inputs) *Raster {
	n := in.Width * in.Height
	out := &Raster{Width: in.Width, Height: in.Height, Values: s.bufs.Float.Get(n), bufs: s.bufs}
	if n == 0 {
		return out
	}

	sum := s.bufs.Float.Get(n)
	weight := s.bufs.Float.Get(n)
	disq := s.bufs.Float.Get(n)
	defer func() {
		s.bufs.Float.Put(sum)
		s.bufs.Float.Put(weight)
		s.bufs.Float.Put(disq)
	}()

	if in.Membership != nil {
		rs := s.regionPass(regionCount(in.LUTs, in.Membership), in.LUTs, s.regional, regionVariable)
		attribute.Expand(rs.sum, in.Membership.Cells, in.Mapping, sum)
		attribute.Expand(rs.weight, in.Membership.Cells, in.Mapping, weight)
		attribute.Expand(rs.disq, in.Membership.Cells, in.Mapping, disq)
		rs.release(s.bufs)
	}

	if len(s.terrain) > 0 && in.Terrain != nil {
		scratch := s.bufs.Float.Get(n)
		for _, c := range s.terrain {
			w := c.spec.Weight
			mandatory := c.eval.mandatory()
			c.eval.scoreGrid(terrainInput(in.Terrain, c.resolver.Input)[:n], scratch)
			for i, v := range scratch {
				if math.IsNaN(v) {
					continue
				}
				if mandatory && c.eval.disqualifies(v) {
					disq[i] = 1
				}
				sum[i] += v * w
				weight[i] += w
			}
		}
		s.bufs.Float.Put(scratch)
	}

	needTerrain := len(s.terrain) > 0
	nan := math.NaN()
	for i := range out.Values {
		switch {
		case math.IsNaN(weight[i]):
			out.Values[i] = nan
		case needTerrain && (in.Terrain == nil || !in.Terrain.Valid[i]):
			out.Values[i] = nan
		case disq[i] != 0:
			out.Values[i] = Disqualified
		case weight[i] > 0:
			out.Values[i] = sum[i] / weight[i]
		default:
			out.Values[i] = s.opts.Neutral
		}
	}
	return out
}

func terrainInput(t *dem.Samples, in layer.Input) []float64 {
	switch in {
	case layer.InputSlope:
		return t.Slope
	case layer.InputElevation:
		return t.Elevation
	default:
		return t.Aspect
	}
}

// regionScores is the per-region accumulation of the region-level layers.
type regionScores struct {
	sum, weight, disq []float64
}

func (r regionScores) release(bufs *bufpool.Buffers) {
	bufs.Float.Put(r.sum)
	bufs.Float.Put(r.weight)
	bufs.Float.Put(r.disq)
}

// regionVariable picks the attribute variable a region layer reads.
func regionVariable(c *compiled) string { return c.spec.Variable }

// summaryVariable lets terrain layers score whole regions through their
// per-region summary attribute.
func summaryVariable(c *compiled) string {
	if c.resolver.Terrain {
		return c.spec.SummaryVariable
	}
	return c.spec.Variable
}

// regionCount is the number of regions luts covers, falling back to the
// highest index in membership.
func regionCount(luts *attribute.LUTSet, membership *region.Raster) int {
	if luts != nil {
		return luts.Regions()
	}
	n := 0
	if membership != nil {
		for _, c := range membership.Cells {
			if int(c) >= n {
				n = int(c) + 1
			}
		}
	}
	return n
}

// regionPass scores layers once per region over n regions.
func (s *Scorer) regionPass(n int, luts *attribute.LUTSet, layers []compiled, variable func(*compiled) string) regionScores {
	rs := regionScores{
		sum:    s.bufs.Float.Get(n),
		weight: s.bufs.Float.Get(n),
		disq:   s.bufs.Float.Get(n),
	}
	if luts == nil {
		return rs
	}

	scratch := s.bufs.Float.Get(n)
	defer s.bufs.Float.Put(scratch)
	for i := range layers {
		c := &layers[i]
		name := variable(c)
		if name == "" {
			continue
		}
		lut, ok := luts.LUT(name)
		if !ok {
			continue
		}
		w := c.spec.Weight
		mandatory := c.eval.mandatory()
		c.eval.scoreGrid(lut[:n], scratch)
		for r, v := range scratch {
			if math.IsNaN(v) {
				continue
			}
			if mandatory && c.eval.disqualifies(v) {
				rs.disq[r] = 1
			}
			rs.sum[r] += v * w
			rs.weight[r] += w
		}
	}
	return rs
}

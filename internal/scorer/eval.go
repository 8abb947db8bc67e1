package scorer

import (
	"github.com/sells-group/livability/internal/layer"
	"github.com/sells-group/livability/internal/transfer"
)

// evaluator scores one layer input. The scalar and bulk forms share the
// curve implementation in package transfer.
type evaluator interface {
	score(x float64) float64
	scoreGrid(xs, dst []float64) []float64
	mandatory() bool
	disqualifies(s float64) bool
}

type functionEval struct{ fn transfer.Function }

func (e functionEval) score(x float64) float64               { return e.fn.Evaluate(x) }
func (e functionEval) scoreGrid(xs, dst []float64) []float64 { return e.fn.EvaluateGrid(xs, dst) }
func (e functionEval) mandatory() bool                       { return e.fn.Mandatory }
func (e functionEval) disqualifies(s float64) bool           { return e.fn.Disqualifies(s) }

// aspectEval scores bearings. Aspect layers never disqualify.
type aspectEval struct{ prefs transfer.AspectPreferences }

func (e aspectEval) score(x float64) float64               { return e.prefs.Score(x) }
func (e aspectEval) scoreGrid(xs, dst []float64) []float64 { return e.prefs.ScoreGrid(xs, dst) }
func (e aspectEval) mandatory() bool                       { return false }
func (e aspectEval) disqualifies(float64) bool             { return false }

func evaluatorFor(spec layer.Spec) evaluator {
	if spec.Kind.Resolve().AspectMap {
		return aspectEval{prefs: spec.AspectPreferences()}
	}
	return functionEval{fn: spec.Transfer}
}

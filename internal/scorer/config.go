// Package scorer combines terrain and region attribute layers into a
// composite livability score.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Options tunes a Scorer.
type Options struct {
	// Neutral is the score of an in-region pixel no enabled layer has data for.
	Neutral float64 `yaml:"neutral_score" mapstructure:"neutral_score"`
}

// DefaultOptions returns Options with a mid-range neutral score.
func DefaultOptions() Options {
	return Options{Neutral: 0.5}
}

// ValidateOptions checks that o is usable.
func ValidateOptions(o Options) error {
	var errs []string
	if math.IsNaN(o.Neutral) || o.Neutral < 0 || o.Neutral > 1 {
		errs = append(errs, fmt.Sprintf("neutral_score must be in [0,1], got %g", o.Neutral))
	}
	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

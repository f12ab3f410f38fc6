// Package scoring combines analyzer contributions into the final risk score.
package scoring

import (
	"github.com/mikey/phishguard/internal/core"
)

// Weights are the aggregation coefficients for each contribution, in
// percent. Integer weights keep scores that land on .5 exact.
type Weights struct {
	Header     int
	URL        int
	Domain     int
	Attachment int
	Content    int
}

// DefaultWeights returns the standard coefficients, which sum to 100
func DefaultWeights() Weights {
	return Weights{
		Header:     35,
		URL:        30,
		Domain:     15,
		Attachment: 10,
		Content:    10,
	}
}

// Aggregator implements core.Scorer
type Aggregator struct {
	weights Weights
}

// NewAggregator creates an aggregator with the given weights
func NewAggregator(w Weights) *Aggregator {
	return &Aggregator{weights: w}
}

// Aggregate computes the 0-100 score and its risk level. Inputs outside
// 0-100 are clamped first.
func (a *Aggregator) Aggregate(p core.PartialScores) (int, core.RiskLevel) {
	w := a.weights
	// hundredths of a point
	raw := w.Header*clamp(p.Header) +
		w.URL*clamp(p.URL) +
		w.Domain*clamp(p.Domain) +
		w.Attachment*clamp(p.Attachment) +
		w.Content*clamp(p.Content)

	score := clamp(roundHundredths(raw))
	return score, Level(score)
}

// Level maps a score to its risk band
func Level(score int) core.RiskLevel {
	switch {
	case score <= 20:
		return core.RiskSafe
	case score <= 50:
		return core.RiskSuspicious
	case score <= 80:
		return core.RiskHigh
	default:
		return core.RiskCritical
	}
}

// roundHundredths divides by 100, rounding half away from zero
func roundHundredths(v int) int {
	if v < 0 {
		return -((-v + 50) / 100)
	}
	return (v + 50) / 100
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

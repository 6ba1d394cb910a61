package fib

import "fib-targets/internal/models"

// TrendReference holds the two most recent primary swings of each kind.
type TrendReference struct {
	LatestHigh float64
	LatestLow  float64
	PriorHigh  float64
	PriorLow   float64
}

// Bias reports higher-highs with higher-lows as bull, lower-highs with
// lower-lows as bear, and anything mixed as neutral.
func (r TrendReference) Bias() models.TrendBias {
	switch {
	case r.LatestHigh > r.PriorHigh && r.LatestLow > r.PriorLow:
		return models.BiasBull
	case r.LatestHigh < r.PriorHigh && r.LatestLow < r.PriorLow:
		return models.BiasBear
	default:
		return models.BiasNeutral
	}
}

// TrendGate rejects retracements that contradict the swing structure.
type TrendGate struct {
	enabled bool
}

// NewTrendGate creates a gate. A disabled gate accepts everything.
func NewTrendGate(enabled bool) TrendGate {
	return TrendGate{enabled: enabled}
}

// Enabled reports whether the gate filters anything.
func (g TrendGate) Enabled() bool {
	return g.enabled
}

// BearOK rejects a bear zone whose swing low sits above the reference low.
func (g TrendGate) BearOK(candidateLow, referenceLow float64) bool {
	return !g.enabled || candidateLow <= referenceLow
}

// BullOK rejects a bull zone whose swing high sits below the reference high.
func (g TrendGate) BullOK(candidateHigh, referenceHigh float64) bool {
	return !g.enabled || candidateHigh >= referenceHigh
}

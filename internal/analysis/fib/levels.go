package fib

import (
	"fmt"
	"strings"

	"fib-targets/internal/models"
)

// Fixed IDs of the two predictive zones. They are reused on every replace.
const (
	PredictiveBearID = "predictive-bear"
	PredictiveBullID = "predictive-bull"
)

// RetracementLevel returns the price pct percent back into the high-low span.
// Bear spans retrace up from the low; bull spans retrace down from the high.
func RetracementLevel(p models.Polarity, high, low, pct float64) float64 {
	span := high - low
	if p == models.Bear {
		return low + span*pct/100
	}
	return high - span*pct/100
}

// Levels returns the (lowPct, highPct) retracement pair for a span.
func Levels(p models.Polarity, high, low, lowPct, highPct float64) (level1, level2 float64) {
	return RetracementLevel(p, high, low, lowPct), RetracementLevel(p, high, low, highPct)
}

// ZoneID names a zone. Predictive zones share one ID per polarity;
// confirmed zones are keyed by the bar that emitted them.
func ZoneID(p models.Polarity, kind models.ZoneKind, bar int) string {
	if kind == models.Predictive {
		if p == models.Bear {
			return PredictiveBearID
		}
		return PredictiveBullID
	}
	return fmt.Sprintf("%d-%s-fib", bar, strings.ToLower(string(p)))
}

// ZoneStyle returns the colours used for a zone.
func ZoneStyle(p models.Polarity, kind models.ZoneKind) models.ZoneStyle {
	switch {
	case p == models.Bear && kind == models.Predictive:
		return models.ZoneStyle{Outline: "OrangeRed", Fill: "Crimson"}
	case p == models.Bear:
		return models.ZoneStyle{Outline: "Crimson", Fill: "Crimson"}
	case kind == models.Predictive:
		return models.ZoneStyle{Outline: "LightGreen", Fill: "LimeGreen"}
	default:
		return models.ZoneStyle{Outline: "LimeGreen", Fill: "LimeGreen"}
	}
}

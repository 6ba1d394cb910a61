package models

import "time"

// Polarity is the side of a retracement zone.
type Polarity string

const (
	// Bear zones follow a swing high that was later broken down to a swing low.
	Bear Polarity = "BEAR"
	// Bull zones follow a swing low that was later pushed up to a swing high.
	Bull Polarity = "BULL"
)

// ZoneKind is the track a zone was emitted on.
type ZoneKind string

const (
	Confirmed  ZoneKind = "CONFIRMED"
	Predictive ZoneKind = "PREDICTIVE"
)

// ZoneStyle carries the colours a renderer should use for a zone.
type ZoneStyle struct {
	Outline string `json:"outline"`
	Fill    string `json:"fill"`
}

// Zone is a Fibonacci retracement band. Confirmed zones are permanent;
// predictive zones are replaced in place under a fixed ID.
type Zone struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Polarity      Polarity  `json:"polarity"`
	Kind          ZoneKind  `json:"kind"`
	AnchorBar     int       `json:"anchor_bar"`
	AnchorBarsAgo int       `json:"anchor_bars_ago"`
	Level1        float64   `json:"level1"`
	Level2        float64   `json:"level2"`
	LevelLow      float64   `json:"level_low"`
	LevelHigh     float64   `json:"level_high"`
	SwingHigh     float64   `json:"swing_high"`
	SwingLow      float64   `json:"swing_low"`
	SwingHighBar  int       `json:"swing_high_bar"`
	SwingLowBar   int       `json:"swing_low_bar"`
	CreatedBar    int       `json:"created_bar"`
	CreatedAt     time.Time `json:"created_at"`
	WidthBars     int       `json:"width_bars"`
	Style         ZoneStyle `json:"style"`
}

// Span returns the high-to-low extent of the originating swing pair.
func (z Zone) Span() float64 {
	return z.SwingHigh - z.SwingLow
}

// Width returns the price height of the band.
func (z Zone) Width() float64 {
	return z.LevelHigh - z.LevelLow
}

// Contains reports whether price lies inside the band, bounds included.
func (z Zone) Contains(price float64) bool {
	return price >= z.LevelLow && price <= z.LevelHigh
}

// RetraceSide is the published per-bar output for one polarity.
type RetraceSide struct {
	HasRetrace   bool    `json:"has_retrace"`
	StartBarsAgo int     `json:"start_bars_ago"`
	Level1       float64 `json:"level1"`
	Level2       float64 `json:"level2"`
}

// Signal is the per-bar output of the engine. Sides are zeroed when no zone
// fired for that polarity on the bar.
type Signal struct {
	Symbol    string      `json:"symbol"`
	BarIndex  int         `json:"bar_index"`
	Timestamp time.Time   `json:"timestamp"`
	Bias      TrendBias   `json:"bias,omitempty"`
	Bear      RetraceSide `json:"bear"`
	Bull      RetraceSide `json:"bull"`
}

// Side returns the output for the given polarity.
func (s Signal) Side(p Polarity) RetraceSide {
	if p == Bear {
		return s.Bear
	}
	return s.Bull
}

// HasAny reports whether any zone fired on the bar.
func (s Signal) HasAny() bool {
	return s.Bear.HasRetrace || s.Bull.HasRetrace
}

// Package models provides domain models for the retracement engine.
package models

import (
	"time"
)

// Bar represents one closed OHLCV bar. Index is the sequence index assigned
// by the series the bar belongs to.
type Bar struct {
	Index     int       `json:"index"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// SwingKind distinguishes swing highs from swing lows.
type SwingKind string

const (
	SwingHigh SwingKind = "HIGH"
	SwingLow  SwingKind = "LOW"
)

// Swing is a confirmed local extremum. It never changes once confirmed.
type Swing struct {
	Kind     SwingKind `json:"kind"`
	BarIndex int       `json:"bar_index"`
	Price    float64   `json:"price"`
}

// TrendBias is the direction implied by two successive swings.
type TrendBias string

const (
	BiasBull    TrendBias = "BULL"
	BiasBear    TrendBias = "BEAR"
	BiasNeutral TrendBias = "NEUTRAL"
)

// Package fib derives Fibonacci retracement zones from pairs of opposing
// confirmed swings.
package fib

import (
	apperrors "fib-targets/internal/errors"
)

// Config holds the engine parameters. It is validated once, when the engine
// is built.
type Config struct {
	SwingStrength             int     `mapstructure:"swing_strength" json:"swing_strength"`
	PredictiveSwingStrength   int     `mapstructure:"predictive_swing_strength" json:"predictive_swing_strength"`
	MinSwingLength            float64 `mapstructure:"min_swing_length" json:"min_swing_length"`
	LowFibPercent             float64 `mapstructure:"low_fib_percent" json:"low_fib_percent"`
	HighFibPercent            float64 `mapstructure:"high_fib_percent" json:"high_fib_percent"`
	RequireSwingTrend         bool    `mapstructure:"require_swing_trend" json:"require_swing_trend"`
	UsePredictiveRetracements bool    `mapstructure:"use_predictive_retracements" json:"use_predictive_retracements"`
	FibTargetWidth            int     `mapstructure:"fib_target_width" json:"fib_target_width"`
	MaxBarsLookBack           int     `mapstructure:"max_bars_lookback" json:"max_bars_lookback"` // 0 = unbounded
}

// DefaultConfig returns the stock indicator parameters.
func DefaultConfig() Config {
	return Config{
		SwingStrength:             15,
		PredictiveSwingStrength:   3,
		MinSwingLength:            40,
		LowFibPercent:             50.0,
		HighFibPercent:            76.4,
		RequireSwingTrend:         true,
		UsePredictiveRetracements: true,
		FibTargetWidth:            50,
		MaxBarsLookBack:           256,
	}
}

// Validate checks every parameter and returns the first violation as a
// *errors.ValidationError.
func (c Config) Validate() error {
	if c.SwingStrength < 1 {
		return apperrors.NewValidationError("swing_strength", c.SwingStrength, "must be >= 1")
	}
	if c.PredictiveSwingStrength < 1 {
		return apperrors.NewValidationError("predictive_swing_strength", c.PredictiveSwingStrength, "must be >= 1")
	}
	if c.MinSwingLength < 0 {
		return apperrors.NewValidationError("min_swing_length", c.MinSwingLength, "must be non-negative")
	}
	if c.LowFibPercent < 0 {
		return apperrors.NewValidationError("low_fib_percent", c.LowFibPercent, "must be non-negative")
	}
	if c.HighFibPercent <= c.LowFibPercent {
		return apperrors.NewValidationError("high_fib_percent", c.HighFibPercent, "must exceed low_fib_percent")
	}
	if c.HighFibPercent > 100 {
		return apperrors.NewValidationError("high_fib_percent", c.HighFibPercent, "must be <= 100")
	}
	if c.FibTargetWidth <= 0 {
		return apperrors.NewValidationError("fib_target_width", c.FibTargetWidth, "must be > 0")
	}
	if c.MaxBarsLookBack < 0 {
		return apperrors.NewValidationError("max_bars_lookback", c.MaxBarsLookBack, "must be non-negative")
	}
	if c.MaxBarsLookBack > 0 && c.MaxBarsLookBack < 2*c.widestStrength()+1 {
		return apperrors.NewValidationError("max_bars_lookback", c.MaxBarsLookBack, "must cover 2*swing_strength+1 bars")
	}
	return nil
}

func (c Config) widestStrength() int {
	if c.UsePredictiveRetracements && c.PredictiveSwingStrength > c.SwingStrength {
		return c.PredictiveSwingStrength
	}
	return c.SwingStrength
}

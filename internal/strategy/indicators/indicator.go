package indicators

import (
	"context"

	"autoTrader/internal/domain"
)

// Indicator represents a technical indicator that can be calculated from price data
type Indicator interface {
	// Calculate computes the indicator value for the given price data
	Calculate(ctx context.Context, klines []*domain.Kline) (float64, error)

	// RequiredDataPoints returns the minimum number of klines needed for calculation
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// Source selects which candle field an indicator reads.
type Source string

const (
	SourceClose  Source = "close"
	SourceVolume Source = "volume"
)

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
	// Skip excludes the most recent Skip candles from the window,
	// e.g. Skip 1 averages the candles before the one still forming.
	Skip int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of klines needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period + b.Config.Skip
}

// values extracts the selected field from klines, dropping the last skip entries.
func values(klines []*domain.Kline, src Source, skip int) []float64 {
	n := len(klines) - skip
	if n < 0 {
		n = 0
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if src == SourceVolume {
			out[i] = klines[i].Volume
		} else {
			out[i] = klines[i].Close
		}
	}
	return out
}

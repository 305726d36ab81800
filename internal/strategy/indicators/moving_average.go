package indicators

import (
	"context"
	"fmt"

	"autoTrader/internal/domain"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	// SimpleMovingAverage represents a simple moving average
	SimpleMovingAverage MovingAverageType = "SMA"
	// ExponentialMovingAverage represents an exponential moving average
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type   MovingAverageType
	Source Source // Defaults to SourceClose
}

// MovingAverage implements both SMA and EMA indicators over closes or volumes
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
}

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	if config.Source == "" {
		config.Source = SourceClose
	}
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// NewSMA is shorthand for a simple moving average of closes.
func NewSMA(period int) *MovingAverage {
	return NewMovingAverage(MovingAverageConfig{
		IndicatorConfig: IndicatorConfig{Period: period},
		Type:            SimpleMovingAverage,
	})
}

// Name returns the name of the indicator
func (m *MovingAverage) Name() string {
	if m.config.Source == SourceVolume {
		return "V" + string(m.config.Type)
	}
	return string(m.config.Type)
}

// Calculate computes the moving average value based on the configured type
func (m *MovingAverage) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	if m.Config.Period <= 0 {
		return 0, fmt.Errorf("moving average period must be positive, got %d", m.Config.Period)
	}
	series := values(klines, m.config.Source, m.Config.Skip)
	switch m.config.Type {
	case SimpleMovingAverage:
		return sma(series, m.Config.Period)
	case ExponentialMovingAverage:
		return ema(series, m.Config.Period)
	default:
		return 0, fmt.Errorf("unsupported moving average type: %s", m.config.Type)
	}
}

// sma computes the Simple Moving Average of the last period values
func sma(series []float64, period int) (float64, error) {
	if len(series) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(series), period)
	}

	total := 0.0
	for i := len(series) - period; i < len(series); i++ {
		total += series[i]
	}
	return total / float64(period), nil
}

// ema computes the Exponential Moving Average, seeded with the SMA of the first period values
func ema(series []float64, period int) (float64, error) {
	if len(series) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate EMA for period %d", len(series), period)
	}

	multiplier := 2.0 / float64(period+1)

	seed, err := sma(series[:period], period)
	if err != nil {
		return 0, fmt.Errorf("failed to calculate initial SMA for EMA: %w", err)
	}
	value := seed

	for i := period; i < len(series); i++ {
		value = (series[i]-value)*multiplier + value
	}

	return value, nil
}

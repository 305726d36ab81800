package indicators

import (
	"context"
	"testing"
	"time"

	"autoTrader/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMovingAverage_Calculate(t *testing.T) {
	now := time.Now()
	klines := []*domain.Kline{
		{OpenTime: now.Add(-12 * time.Minute), Close: 100.0, Volume: 10},
		{OpenTime: now.Add(-9 * time.Minute), Close: 102.0, Volume: 20},
		{OpenTime: now.Add(-6 * time.Minute), Close: 101.0, Volume: 30},
		{OpenTime: now.Add(-3 * time.Minute), Close: 103.0, Volume: 40},
		{OpenTime: now, Close: 104.0, Volume: 500},
	}

	tests := []struct {
		name          string
		config        MovingAverageConfig
		expectedValue float64
		expectError   bool
	}{
		{
			name: "SMA with sufficient data",
			config: MovingAverageConfig{
				IndicatorConfig: IndicatorConfig{Period: 3},
				Type:            SimpleMovingAverage,
			},
			expectedValue: 102.666667, // (101 + 103 + 104) / 3
		},
		{
			name: "EMA with sufficient data",
			config: MovingAverageConfig{
				IndicatorConfig: IndicatorConfig{Period: 3},
				Type:            ExponentialMovingAverage,
			},
			expectedValue: 103.0, // seed 101, then 102, then 103
		},
		{
			name: "volume SMA skipping the forming candle",
			config: MovingAverageConfig{
				IndicatorConfig: IndicatorConfig{Period: 4, Skip: 1},
				Type:            SimpleMovingAverage,
				Source:          SourceVolume,
			},
			expectedValue: 25.0, // (10 + 20 + 30 + 40) / 4
		},
		{
			name: "Insufficient data",
			config: MovingAverageConfig{
				IndicatorConfig: IndicatorConfig{Period: 6},
				Type:            SimpleMovingAverage,
			},
			expectError: true,
		},
		{
			name: "Insufficient data after skip",
			config: MovingAverageConfig{
				IndicatorConfig: IndicatorConfig{Period: 5, Skip: 1},
				Type:            SimpleMovingAverage,
			},
			expectError: true,
		},
		{
			name: "Zero period",
			config: MovingAverageConfig{
				Type: SimpleMovingAverage,
			},
			expectError: true,
		},
		{
			name: "Invalid MA type",
			config: MovingAverageConfig{
				IndicatorConfig: IndicatorConfig{Period: 3},
				Type:            "INVALID",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ma := NewMovingAverage(tt.config)
			value, err := ma.Calculate(context.Background(), klines)

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.expectedValue, value, 0.0001)
		})
	}
}

func TestMovingAverage_NameAndRequiredPoints(t *testing.T) {
	tests := []struct {
		name         string
		config       MovingAverageConfig
		expectedName string
		expectedReq  int
	}{
		{
			name:         "SMA",
			config:       MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: 20}, Type: SimpleMovingAverage},
			expectedName: "SMA",
			expectedReq:  20,
		},
		{
			name:         "EMA",
			config:       MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: 9}, Type: ExponentialMovingAverage},
			expectedName: "EMA",
			expectedReq:  9,
		},
		{
			name: "volume SMA with skip",
			config: MovingAverageConfig{
				IndicatorConfig: IndicatorConfig{Period: 19, Skip: 1},
				Type:            SimpleMovingAverage,
				Source:          SourceVolume,
			},
			expectedName: "VSMA",
			expectedReq:  20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ma := NewMovingAverage(tt.config)
			assert.Equal(t, tt.expectedName, ma.Name())
			assert.Equal(t, tt.expectedReq, ma.RequiredDataPoints())
		})
	}
}

func TestNewSMA(t *testing.T) {
	ma := NewSMA(2)
	value, err := ma.Calculate(context.Background(), []*domain.Kline{{Close: 1}, {Close: 3}, {Close: 5}})
	require.NoError(t, err)
	assert.InDelta(t, 4.0, value, 0.0001)
}

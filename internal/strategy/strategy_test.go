package strategy

import (
	"context"
	"testing"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		logger  ports.Logger
		wantErr bool
	}{
		{name: "valid config", cfg: DefaultConfig(), logger: &mockLogger{}},
		{name: "nil logger", cfg: DefaultConfig(), logger: nil, wantErr: true},
		{
			name:    "invalid periods",
			cfg:     Config{TrendMAPeriod: 0, FastMAPeriod: 5, RSIPeriod: 14, VolumeLookback: 19, PumpVolumeFactor: 5, PumpMaxWickBody: 2},
			logger:  &mockLogger{},
			wantErr: true,
		},
		{
			name:    "fast MA not faster than trend",
			cfg:     Config{TrendMAPeriod: 20, FastMAPeriod: 20, RSIPeriod: 14, VolumeLookback: 19, PumpVolumeFactor: 5, PumpMaxWickBody: 2},
			logger:  &mockLogger{},
			wantErr: true,
		},
		{
			name:    "zero pump factor",
			cfg:     Config{TrendMAPeriod: 20, FastMAPeriod: 5, RSIPeriod: 14, VolumeLookback: 19, PumpMaxWickBody: 2},
			logger:  &mockLogger{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg, tt.logger)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, e)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, e)
		})
	}
}

func TestRequiredDataPoints(t *testing.T) {
	e, err := New(DefaultConfig(), &mockLogger{})
	require.NoError(t, err)
	// 19 previous candles for the volume average plus the current one
	assert.Equal(t, 20, e.RequiredDataPoints())
}

// risingKlines builds n candles whose close climbs by step, all with volume vol.
func risingKlines(n int, start, step, vol float64) []*domain.Kline {
	now := time.Now()
	klines := make([]*domain.Kline, n)
	for i := 0; i < n; i++ {
		c := start + float64(i)*step
		klines[i] = &domain.Kline{
			OpenTime: now.Add(time.Duration(i-n) * 3 * time.Minute),
			Open:     c - step/2,
			High:     c,
			Low:      c - step,
			Close:    c,
			Volume:   vol,
		}
	}
	return klines
}

func TestIndicators(t *testing.T) {
	ctx := context.Background()
	e, err := New(DefaultConfig(), &mockLogger{})
	require.NoError(t, err)

	t.Run("not enough data", func(t *testing.T) {
		_, err := e.Indicators(ctx, "ETHUSDT", risingKlines(10, 100, 1, 10))
		assert.Error(t, err)
	})

	t.Run("steady uptrend without volume spike", func(t *testing.T) {
		ind, err := e.Indicators(ctx, "ETHUSDT", risingKlines(60, 100, 1, 10))
		require.NoError(t, err)
		assert.Equal(t, "ETHUSDT", ind.Symbol)
		assert.InDelta(t, 159.0, ind.Price, 1e-9)
		assert.InDelta(t, 149.5, ind.MA20, 1e-9) // mean of 140..159
		assert.InDelta(t, 157.0, ind.MA5, 1e-9)  // mean of 155..159
		assert.InDelta(t, 100.0, ind.RSI, 1e-9)
		assert.False(t, ind.Pump)
	})

	t.Run("volume breakout on clean green candle", func(t *testing.T) {
		klines := risingKlines(60, 100, 1, 10)
		last := klines[len(klines)-1]
		last.Open, last.Close, last.High, last.Volume = 155, 160, 161, 51
		ind, err := e.Indicators(ctx, "ETHUSDT", klines)
		require.NoError(t, err)
		assert.True(t, ind.Pump)
	})

	t.Run("breakout with long upper wick is not a pump", func(t *testing.T) {
		klines := risingKlines(60, 100, 1, 10)
		last := klines[len(klines)-1]
		last.Open, last.Close, last.High, last.Volume = 158, 160, 165, 100
		ind, err := e.Indicators(ctx, "ETHUSDT", klines)
		require.NoError(t, err)
		assert.False(t, ind.Pump)
	})

	t.Run("breakout on red candle is not a pump", func(t *testing.T) {
		klines := risingKlines(60, 100, 1, 10)
		last := klines[len(klines)-1]
		last.Open, last.Close, last.High, last.Volume = 160, 158, 160, 100
		ind, err := e.Indicators(ctx, "ETHUSDT", klines)
		require.NoError(t, err)
		assert.False(t, ind.Pump)
	})
}

func TestShouldEnter(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		ind        *domain.Indicators
		threshold  float64
		wantReason domain.EntryReason
		wantEnter  bool
	}{
		{
			name:       "pump with aligned averages",
			ind:        &domain.Indicators{Symbol: "A", RSI: 80, MA20: 100, MA5: 105, Price: 110, Open: 108, Pump: true},
			threshold:  50,
			wantReason: domain.EntryReasonPump,
			wantEnter:  true,
		},
		{
			name:      "pump below trend",
			ind:       &domain.Indicators{Symbol: "A", RSI: 80, MA20: 100, MA5: 105, Price: 99, Open: 98, Pump: true},
			threshold: 50,
		},
		{
			name:       "rsi dip in uptrend on green candle",
			ind:        &domain.Indicators{Symbol: "A", RSI: 45, MA20: 100, MA5: 103, Price: 104, Open: 102},
			threshold:  50,
			wantReason: domain.EntryReasonRSIDip,
			wantEnter:  true,
		},
		{
			name:       "rsi equal to threshold enters",
			ind:        &domain.Indicators{Symbol: "A", RSI: 50, MA20: 100, MA5: 103, Price: 104, Open: 102},
			threshold:  50,
			wantReason: domain.EntryReasonRSIDip,
			wantEnter:  true,
		},
		{
			name:      "rsi dip on red candle",
			ind:       &domain.Indicators{Symbol: "A", RSI: 45, MA20: 100, MA5: 103, Price: 104, Open: 105},
			threshold: 50,
		},
		{
			name:      "rsi above threshold",
			ind:       &domain.Indicators{Symbol: "A", RSI: 55, MA20: 100, MA5: 103, Price: 104, Open: 102},
			threshold: 50,
		},
		{
			name:      "fast average below trend",
			ind:       &domain.Indicators{Symbol: "A", RSI: 40, MA20: 100, MA5: 99, Price: 104, Open: 102},
			threshold: 50,
		},
		{
			name:      "nil snapshot",
			ind:       nil,
			threshold: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &mockLogger{}
			e, err := New(DefaultConfig(), logger)
			require.NoError(t, err)

			reason, ok := e.ShouldEnter(ctx, tt.ind, tt.threshold)
			assert.Equal(t, tt.wantEnter, ok)
			assert.Equal(t, tt.wantReason, reason)
			if tt.wantEnter {
				assert.Contains(t, logger.infoMsgs, "Entry conditions met")
			}
		})
	}
}

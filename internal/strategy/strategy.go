package strategy

import (
	"context"
	"fmt"
	"math"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
	"autoTrader/internal/strategy/indicators"
)

// Config holds parameters for the entry signals.
type Config struct {
	TrendMAPeriod    int     // e.g., 20
	FastMAPeriod     int     // e.g., 5
	RSIPeriod        int     // e.g., 14
	VolumeLookback   int     // Candles averaged before the current one, e.g., 19
	PumpVolumeFactor float64 // Current volume must exceed the average times this, e.g., 5
	PumpMaxWickBody  float64 // Upper wick must stay below body times this, e.g., 2
}

// DefaultConfig returns the parameters the engine trades with.
func DefaultConfig() Config {
	return Config{
		TrendMAPeriod:    20,
		FastMAPeriod:     5,
		RSIPeriod:        14,
		VolumeLookback:   19,
		PumpVolumeFactor: 5,
		PumpMaxWickBody:  2,
	}
}

// Evaluator computes the indicator snapshot and decides entries. It implements ports.SignalEvaluator.
type Evaluator struct {
	cfg       Config
	logger    ports.Logger
	trendMA   *indicators.MovingAverage
	fastMA    *indicators.MovingAverage
	volumeAvg *indicators.MovingAverage
	rsi       *indicators.RSI
}

// Compile-time check
var _ ports.SignalEvaluator = (*Evaluator)(nil)

// New creates a new Evaluator instance.
func New(cfg Config, logger ports.Logger) (*Evaluator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if cfg.TrendMAPeriod <= 0 || cfg.FastMAPeriod <= 0 || cfg.RSIPeriod <= 0 || cfg.VolumeLookback <= 0 {
		return nil, fmt.Errorf("strategy periods must be positive")
	}
	if cfg.FastMAPeriod >= cfg.TrendMAPeriod {
		return nil, fmt.Errorf("fast MA period must be less than trend MA period")
	}
	if cfg.PumpVolumeFactor <= 0 || cfg.PumpMaxWickBody <= 0 {
		return nil, fmt.Errorf("pump factors must be positive")
	}
	return &Evaluator{
		cfg:     cfg,
		logger:  logger,
		trendMA: indicators.NewSMA(cfg.TrendMAPeriod),
		fastMA:  indicators.NewSMA(cfg.FastMAPeriod),
		volumeAvg: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.VolumeLookback, Skip: 1},
			Type:            indicators.SimpleMovingAverage,
			Source:          indicators.SourceVolume,
		}),
		rsi: indicators.NewRSI(indicators.RSIConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod},
			Overbought:      70,
			Oversold:        30,
		}),
	}, nil
}

// RequiredDataPoints returns the minimum number of klines needed for the calculations.
func (e *Evaluator) RequiredDataPoints() int {
	required := e.trendMA.RequiredDataPoints()
	for _, n := range []int{e.fastMA.RequiredDataPoints(), e.volumeAvg.RequiredDataPoints(), e.rsi.RequiredDataPoints()} {
		if n > required {
			required = n
		}
	}
	return required
}

// Indicators computes the technical snapshot of the last candle.
func (e *Evaluator) Indicators(ctx context.Context, symbol string, klines []*domain.Kline) (*domain.Indicators, error) {
	if required := e.RequiredDataPoints(); len(klines) < required {
		return nil, fmt.Errorf("not enough kline data for %s: have %d, need %d", symbol, len(klines), required)
	}

	ma20, err := e.trendMA.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("trend MA: %w", err)
	}
	ma5, err := e.fastMA.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("fast MA: %w", err)
	}
	rsi, err := e.rsi.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("RSI: %w", err)
	}
	volAvg, err := e.volumeAvg.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("volume average: %w", err)
	}

	last := klines[len(klines)-1]
	return &domain.Indicators{
		Symbol: symbol,
		RSI:    math.Round(rsi*10) / 10,
		MA20:   ma20,
		MA5:    ma5,
		Price:  last.Close,
		Open:   last.Open,
		Pump:   e.isPump(last, volAvg),
	}, nil
}

// isPump reports a volume breakout on a green candle without a long upper wick.
func (e *Evaluator) isPump(last *domain.Kline, volAvg float64) bool {
	if volAvg <= 0 || last.Volume <= volAvg*e.cfg.PumpVolumeFactor {
		return false
	}
	body := last.Close - last.Open
	if body <= 0 {
		return false
	}
	wick := last.High - last.Close
	return wick < body*e.cfg.PumpMaxWickBody
}

// ShouldEnter decides whether the snapshot is an entry. Pump takes precedence over the RSI dip.
func (e *Evaluator) ShouldEnter(ctx context.Context, ind *domain.Indicators, rsiThreshold float64) (domain.EntryReason, bool) {
	if ind == nil {
		return "", false
	}
	aligned := ind.MA5 > ind.MA20 && ind.AboveTrend()

	if ind.Pump && aligned {
		e.logger.Info(ctx, "Entry conditions met", map[string]interface{}{
			"symbol": ind.Symbol, "reason": domain.EntryReasonPump, "price": ind.Price, "ma20": ind.MA20, "ma5": ind.MA5,
		})
		return domain.EntryReasonPump, true
	}
	if ind.RSI <= rsiThreshold && aligned && ind.Price > ind.Open {
		e.logger.Info(ctx, "Entry conditions met", map[string]interface{}{
			"symbol": ind.Symbol, "reason": domain.EntryReasonRSIDip, "price": ind.Price, "rsi": ind.RSI, "rsiLimit": rsiThreshold,
		})
		return domain.EntryReasonRSIDip, true
	}

	e.logger.Debug(ctx, "Entry conditions not met", map[string]interface{}{
		"symbol":   ind.Symbol,
		"price":    ind.Price,
		"ma20":     ind.MA20,
		"ma5":      ind.MA5,
		"rsi":      ind.RSI,
		"rsiLimit": rsiThreshold,
		"pump":     ind.Pump,
		"aligned":  aligned,
	})
	return "", false
}

// Package regime classifies the overall market from a reference instrument's deviation
// from its moving average, with hysteresis between entering and leaving a trend.
package regime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
	"autoTrader/internal/strategy/indicators"
)

// CandleSource provides the reference candles. marketdata.Feed implements it.
type CandleSource interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)
}

// Config holds the reference series and hysteresis bands.
// Bands must satisfy BullEnter > BullExit > 0 > BearExit > BearEnter.
type Config struct {
	Enabled   bool // Auto-tune; when false Evaluate never changes the regime
	Symbol    string
	Interval  string // Candle interval, e.g., "15m"
	Candles   int    // e.g., 60
	MAPeriod  int    // e.g., 20
	Every     time.Duration
	BullEnter float64
	BullExit  float64
	BearEnter float64
	BearExit  float64
}

// Validate checks the band ordering and series parameters.
func (c Config) Validate() error {
	if c.Symbol == "" || c.Interval == "" {
		return fmt.Errorf("regime reference symbol and interval are required")
	}
	if c.MAPeriod <= 0 || c.Candles < c.MAPeriod {
		return fmt.Errorf("regime needs at least %d candles, configured %d", c.MAPeriod, c.Candles)
	}
	if !(c.BullEnter > c.BullExit && c.BullExit > 0 && 0 > c.BearExit && c.BearExit > c.BearEnter) {
		return fmt.Errorf("regime bands out of order: bull enter %v, bull exit %v, bear exit %v, bear enter %v",
			c.BullEnter, c.BullExit, c.BearExit, c.BearEnter)
	}
	return nil
}

// Transition describes one regime change.
type Transition struct {
	From   domain.Regime
	To     domain.Regime
	Diff   float64
	Params domain.RegimeParams
}

// Detector holds the current regime and its parameters.
type Detector struct {
	cfg    Config
	source CandleSource
	logger ports.Logger
	ma     *indicators.MovingAverage

	mu          sync.Mutex
	current     domain.Regime
	params      domain.RegimeParams
	lastDiff    float64
	lastChecked time.Time
	maxHold     time.Duration // Operator override; 0 keeps the profile value

	now func() time.Time
}

// New creates a detector starting in SIDEWAYS.
func New(cfg Config, source CandleSource, logger ports.Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("candle source is required for regime detector")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for regime detector")
	}
	return &Detector{
		cfg:     cfg,
		source:  source,
		logger:  logger,
		ma:      indicators.NewSMA(cfg.MAPeriod),
		current: domain.RegimeSideways,
		params:  domain.ParamsFor(domain.RegimeSideways),
		now:     time.Now,
	}, nil
}

// Current returns the regime and its active parameters as one consistent pair.
func (d *Detector) Current() (domain.Regime, domain.RegimeParams) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, d.params
}

// LastDiff returns the most recent deviation of the reference close from its average.
func (d *Detector) LastDiff() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastDiff
}

// Restore re-applies a persisted regime, e.g. at startup.
func (d *Detector) Restore(r domain.Regime) {
	if !r.Valid() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyLocked(r)
}

// SetMaxHold overrides the hold limit of every profile. Zero restores the profile values.
func (d *Detector) SetMaxHold(maxHold time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxHold = maxHold
	d.applyLocked(d.current)
}

func (d *Detector) applyLocked(r domain.Regime) {
	params := domain.ParamsFor(r)
	if d.maxHold > 0 {
		params.MaxHold = d.maxHold
	}
	d.current = r
	d.params = params
}

// next applies the hysteresis rules to the current regime.
func next(cur domain.Regime, diff float64, cfg Config) domain.Regime {
	switch {
	case cur == domain.RegimeBull && diff < cfg.BullExit:
		return domain.RegimeSideways
	case cur == domain.RegimeBear && diff > cfg.BearExit:
		return domain.RegimeSideways
	case cur == domain.RegimeBull || cur == domain.RegimeBear:
		return cur
	case diff >= cfg.BullEnter:
		return domain.RegimeBull
	case diff <= cfg.BearEnter:
		return domain.RegimeBear
	default:
		return domain.RegimeSideways
	}
}

// Evaluate refreshes the regime from the reference series. It is a no-op when auto-tune
// is off, when called within Every of the previous evaluation, or when data is unavailable.
func (d *Detector) Evaluate(ctx context.Context) (Transition, bool) {
	op := "RegimeEvaluate"
	if !d.cfg.Enabled {
		return Transition{}, false
	}

	d.mu.Lock()
	now := d.now()
	if !d.lastChecked.IsZero() && now.Sub(d.lastChecked) < d.cfg.Every {
		d.mu.Unlock()
		return Transition{}, false
	}
	d.lastChecked = now
	d.mu.Unlock()

	klines, err := d.source.Candles(ctx, d.cfg.Symbol, d.cfg.Interval, d.cfg.Candles)
	if err != nil {
		d.logger.Warn(ctx, op+": reference data unavailable, keeping regime", map[string]interface{}{
			"symbol": d.cfg.Symbol, "error": err.Error(),
		})
		return Transition{}, false
	}
	ma, err := d.ma.Calculate(ctx, klines)
	if err != nil || ma <= 0 {
		d.logger.Warn(ctx, op+": reference average unavailable, keeping regime", map[string]interface{}{"symbol": d.cfg.Symbol})
		return Transition{}, false
	}
	diff := (klines[len(klines)-1].Close - ma) / ma

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastDiff = diff
	from := d.current
	to := next(from, diff, d.cfg)
	if to == from {
		return Transition{}, false
	}
	d.applyLocked(to)
	d.logger.Info(ctx, op+": regime changed", map[string]interface{}{
		"from": from, "to": to, "diff": diff, "targetProfit": d.params.TargetProfitPct, "stopLoss": d.params.StopLossPct,
	})
	return Transition{From: from, To: to, Diff: diff, Params: d.params}, true
}

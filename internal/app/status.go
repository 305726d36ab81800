package app

import (
	"context"
	"time"

	"autoTrader/internal/domain"
)

const marketOverviewSize = 8

// PositionView is one open position with its live figures.
type PositionView struct {
	Symbol          string  `json:"ticker"`
	EntryPrice      float64 `json:"buy_price"`
	Price           float64 `json:"cur_price"`
	ProfitPct       float64 `json:"profit_rate"`
	Quantity        float64 `json:"amount"`
	HeldMinutes     float64 `json:"held_min"`
	HighWater       float64 `json:"high_price"`
	DrawdownPct     float64 `json:"dd_from_high"`
	CooldownLeftSec int     `json:"cooldown_left_sec"`
	Protected       bool    `json:"is_protect"`
}

// StatusConfig is the active strategy configuration.
type StatusConfig struct {
	Market         domain.Regime `json:"market"`
	RegimeDiffPct  float64       `json:"regimeDiffPct"`
	TargetProfit   float64       `json:"targetProfit"`
	StopLoss       float64       `json:"stopLoss"`
	RSIThreshold   float64       `json:"rsiThreshold"`
	AutoTune       bool          `json:"autoTune"`
	ProtectTickers []string      `json:"protectTickers"`
	BlackList      []string      `json:"blackList"`
	StopTickers    []string      `json:"stopTickers"`
	MaxHoldMinutes float64       `json:"maxHoldMinutes"`
}

// Status is the snapshot served to the control surface.
type Status struct {
	Running      bool                  `json:"isRunning"`
	Mode         domain.TradingMode    `json:"mode"`
	Balance      float64               `json:"balance"`
	StartBalance float64               `json:"start_balance"`
	Positions    []PositionView        `json:"positions"`
	History      []BalancePoint        `json:"history"`
	Logs         []Event               `json:"logs"`
	Watch        []string              `json:"watch"`
	Reentry      []domain.ReentryWatch `json:"reentry"`
	Config       StatusConfig          `json:"config"`
}

// MarketView is the entry-signal and risk picture of one watched instrument.
type MarketView struct {
	Symbol string  `json:"ticker"`
	RSI    float64 `json:"rsi"`
	Trend  string  `json:"trend"` // PUMP, UP or DOWN
	Risky  bool    `json:"risky"`
	Why    string  `json:"why"`
}

// TrendView is the 24h picture of one major instrument.
type TrendView struct {
	Symbol    string  `json:"ticker"`
	Price     float64 `json:"price"`
	ChangePct float64 `json:"change_rate"`
	Volume24h float64 `json:"volume_24h"`
	RSI       float64 `json:"rsi"`
	Trend     string  `json:"trend"` // PUMP, STRONG, UP, DOWN or PLUNGE
}

// Status returns a consistent snapshot of the engine. Prices are read after the lock is
// released; a missing price falls back to the entry price.
func (e *Engine) Status(ctx context.Context) Status {
	now := e.now()
	r, params := e.detector.Current()

	e.mu.Lock()
	led := e.ledgers[e.mode]
	positions := led.Positions()
	cooldowns := make(map[string]time.Duration, len(positions))
	for _, p := range positions {
		cooldowns[p.Symbol] = e.sellCooldown.Remaining(p.Symbol, now)
	}
	st := Status{
		Running: e.running,
		Mode:    e.mode,
		Balance: e.balance,
		History: append([]BalancePoint(nil), e.history...),
		Watch:   append([]string(nil), e.watch...),
		Reentry: led.Reentry(),
		Config: StatusConfig{
			Market:         r,
			TargetProfit:   params.TargetProfitPct,
			StopLoss:       params.StopLossPct,
			RSIThreshold:   params.RSIThreshold,
			AutoTune:       e.cfg.AutoTune,
			ProtectTickers: append([]string(nil), e.settings.Protected...),
			BlackList:      append([]string(nil), e.settings.Blacklist...),
			StopTickers:    append([]string(nil), e.settings.StopList...),
			MaxHoldMinutes: params.MaxHold.Minutes(),
		},
	}
	e.mu.Unlock()

	st.StartBalance = e.daily.StartBalance()
	st.Config.RegimeDiffPct = e.detector.LastDiff() * 100
	st.Logs = e.events.list()
	st.Positions = make([]PositionView, 0, len(positions))
	for _, p := range positions {
		price, err := e.feed.Price(ctx, p.Symbol)
		if err != nil {
			price = p.EntryPrice
		}
		hw := p.HighWater
		if price > hw {
			hw = price
		}
		v := PositionView{
			Symbol:          p.Symbol,
			EntryPrice:      p.EntryPrice,
			Price:           price,
			ProfitPct:       p.ProfitPct(price),
			Quantity:        p.Quantity,
			HeldMinutes:     p.Held(now).Minutes(),
			HighWater:       hw,
			CooldownLeftSec: int(cooldowns[p.Symbol].Seconds()),
			Protected:       p.Protected,
		}
		if hw > 0 {
			v.DrawdownPct = (price - hw) / hw * 100
		}
		st.Positions = append(st.Positions, v)
	}
	return st
}

// MarketOverview reports indicators and the risk verdict of the first watched instruments.
// Instruments without indicator data are left out.
func (e *Engine) MarketOverview(ctx context.Context) []MarketView {
	e.mu.Lock()
	targets := e.watch
	if len(targets) > marketOverviewSize {
		targets = targets[:marketOverviewSize]
	}
	targets = append([]string(nil), targets...)
	e.mu.Unlock()

	out := make([]MarketView, 0, len(targets))
	for _, sym := range targets {
		ind, err := e.indicators(ctx, sym)
		if err != nil {
			continue
		}
		trend := "DOWN"
		switch {
		case ind.Pump:
			trend = "PUMP"
		case ind.Price > ind.MA20:
			trend = "UP"
		}
		a := e.risk.Assess(ctx, sym)
		out = append(out, MarketView{Symbol: sym, RSI: ind.RSI, Trend: trend, Risky: a.Risky, Why: a.Summary()})
	}
	return out
}

// Trending reports the configured major instruments with their 24h change and trend.
// Without a ticker source, or when it fails, price comes from the indicators and the
// 24h figures stay zero. Instruments without indicator data are left out.
func (e *Engine) Trending(ctx context.Context) []TrendView {
	symbols := e.cfg.TrendingSymbols
	stats := make(map[string]domain.Ticker24h, len(symbols))
	if e.tickers != nil && len(symbols) > 0 {
		tickers, err := e.tickers.Tickers24h(ctx, symbols)
		if err != nil {
			e.logger.Warn(ctx, "24h statistics unavailable", map[string]interface{}{"error": err.Error()})
		}
		for _, t := range tickers {
			stats[t.Symbol] = t
		}
	}

	out := make([]TrendView, 0, len(symbols))
	for _, sym := range symbols {
		ind, err := e.indicators(ctx, sym)
		if err != nil {
			continue
		}
		v := TrendView{Symbol: sym, Price: ind.Price, RSI: ind.RSI}
		if t, ok := stats[sym]; ok {
			v.Price = t.Price
			v.ChangePct = t.ChangePct
			v.Volume24h = t.QuoteVolume
		}
		v.Trend = trendLabel(ind.Pump, v.ChangePct)
		out = append(out, v)
	}
	return out
}

func trendLabel(pump bool, changePct float64) string {
	switch {
	case pump:
		return "PUMP"
	case changePct > 3:
		return "STRONG"
	case changePct > 0:
		return "UP"
	case changePct > -3:
		return "DOWN"
	default:
		return "PLUNGE"
	}
}

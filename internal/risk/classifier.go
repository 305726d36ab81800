// Package risk vetoes entries into illiquid or manipulated instruments and watches the
// daily loss limit.
package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

// MarketData is the subset of marketdata.Feed the classifier reads.
type MarketData interface {
	OrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error)
	RecentTrades(ctx context.Context, symbol string, limit int) ([]domain.MarketTrade, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)
}

// Config holds the classifier thresholds.
type Config struct {
	SpreadMax      float64       // Max (ask-bid)/mid, e.g., 0.006
	DepthMin       float64       // Min quote notional across DepthLevels on both sides
	DepthLevels    int           // e.g., 10
	WhaleRatio     float64       // Max share of the 3 largest trades in recent notional, e.g., 0.75
	TradeCount     int           // Recent trades inspected, e.g., 30
	WickRatio      float64       // Upper wick share of the candle range, e.g., 0.70
	WickCount      int           // Long-wick candles that flag WICK, e.g., 6
	WickWindow     int           // Candles inspected, e.g., 20
	CandleCount    int           // Candles fetched, e.g., 25
	CandleInterval string        // e.g., "3m"
	TTL            time.Duration // Assessment cache lifetime, e.g., 10s
	LogThrottle    time.Duration // Min gap between veto logs per symbol, e.g., 30s
}

// DefaultConfig returns the thresholds the engine runs with.
func DefaultConfig() Config {
	return Config{
		SpreadMax:      0.006,
		DepthMin:       50_000,
		DepthLevels:    10,
		WhaleRatio:     0.75,
		TradeCount:     30,
		WickRatio:      0.70,
		WickCount:      6,
		WickWindow:     20,
		CandleCount:    25,
		CandleInterval: "3m",
		TTL:            10 * time.Second,
		LogThrottle:    30 * time.Second,
	}
}

// Classifier scores instruments and caches each verdict for TTL.
type Classifier struct {
	cfg    Config
	data   MarketData
	logger ports.Logger

	mu      sync.Mutex
	cache   map[string]domain.RiskAssessment
	lastLog map[string]time.Time

	now func() time.Time
}

// NewClassifier creates a new Classifier.
func NewClassifier(cfg Config, data MarketData, logger ports.Logger) (*Classifier, error) {
	if data == nil {
		return nil, fmt.Errorf("market data is required for risk classifier")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for risk classifier")
	}
	if cfg.WickWindow <= 0 || cfg.CandleCount < cfg.WickWindow {
		return nil, fmt.Errorf("risk classifier needs at least %d candles, configured %d", cfg.WickWindow, cfg.CandleCount)
	}
	return &Classifier{
		cfg:     cfg,
		data:    data,
		logger:  logger,
		cache:   make(map[string]domain.RiskAssessment),
		lastLog: make(map[string]time.Time),
		now:     time.Now,
	}, nil
}

// Cached returns a fresh cached assessment without touching the network.
func (c *Classifier) Cached(symbol string) (domain.RiskAssessment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.cache[symbol]
	if !ok || c.now().Sub(a.CheckedAt) >= c.cfg.TTL {
		return domain.RiskAssessment{}, false
	}
	return a, true
}

// Assess returns the cached verdict while fresh, otherwise recomputes it.
// A failing data source adds its unavailable reason instead of aborting.
func (c *Classifier) Assess(ctx context.Context, symbol string) domain.RiskAssessment {
	if a, ok := c.Cached(symbol); ok {
		return a
	}

	var reasons []domain.RiskReason

	book, err := c.data.OrderBook(ctx, symbol, c.cfg.DepthLevels)
	if err != nil || book == nil || (len(book.Bids) == 0 && len(book.Asks) == 0) {
		reasons = append(reasons, domain.RiskOrderBookUnavailable)
	} else {
		if spread, ok := book.Spread(); ok && spread > c.cfg.SpreadMax {
			reasons = append(reasons, domain.RiskSpread)
		}
		if book.Depth(c.cfg.DepthLevels) < c.cfg.DepthMin {
			reasons = append(reasons, domain.RiskDepth)
		}
	}

	trades, err := c.data.RecentTrades(ctx, symbol, c.cfg.TradeCount)
	if err != nil || len(trades) == 0 {
		reasons = append(reasons, domain.RiskTradesUnavailable)
	} else if whaleShare(trades, 3) > c.cfg.WhaleRatio {
		reasons = append(reasons, domain.RiskWhale)
	}

	klines, err := c.data.Candles(ctx, symbol, c.cfg.CandleInterval, c.cfg.CandleCount)
	if err != nil || len(klines) < c.cfg.WickWindow {
		reasons = append(reasons, domain.RiskCandlesUnavailable)
	} else if longWicks(klines[len(klines)-c.cfg.WickWindow:], c.cfg.WickRatio) >= c.cfg.WickCount {
		reasons = append(reasons, domain.RiskWick)
	}

	a := domain.RiskAssessment{
		Symbol:    symbol,
		Risky:     len(reasons) > 0,
		Reasons:   reasons,
		CheckedAt: c.now(),
	}
	c.mu.Lock()
	c.cache[symbol] = a
	c.mu.Unlock()
	return a
}

// ShouldLog reports whether a veto for symbol may be logged now, at most once per LogThrottle.
func (c *Classifier) ShouldLog(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if last, ok := c.lastLog[symbol]; ok && now.Sub(last) < c.cfg.LogThrottle {
		return false
	}
	c.lastLog[symbol] = now
	return true
}

// whaleShare returns the share of the top n trades in the total traded notional.
func whaleShare(trades []domain.MarketTrade, n int) float64 {
	values := make([]float64, len(trades))
	total := 0.0
	for i, t := range trades {
		values[i] = t.Notional()
		total += values[i]
	}
	if total <= 0 {
		return 0
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
	top := 0.0
	for i := 0; i < n && i < len(values); i++ {
		top += values[i]
	}
	return top / total
}

// longWicks counts candles whose upper wick is at least ratio of their range.
func longWicks(klines []*domain.Kline, ratio float64) int {
	count := 0
	for _, k := range klines {
		if k.High-k.Low > 0 && k.UpperWickRatio() >= ratio {
			count++
		}
	}
	return count
}

// Package marketdata wraps a broker's market-data queries with a short-lived price
// cache and bounded retries, so transient failures surface as ports.ErrDataUnavailable.
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"

	"github.com/jpillora/backoff"
)

// Config holds the cache and retry parameters of a Feed.
type Config struct {
	PriceTTL   time.Duration // e.g., 3s
	Retries    int           // Attempts per query, e.g., 3
	BaseDelay  time.Duration // First retry delay, doubled per attempt
	MaxDelay   time.Duration
	MinCandles int // Candle series shorter than this count as unavailable
}

// DefaultConfig returns the feed parameters the engine runs with.
func DefaultConfig() Config {
	return Config{
		PriceTTL:   3 * time.Second,
		Retries:    3,
		BaseDelay:  150 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		MinCandles: 20,
	}
}

type cachedPrice struct {
	price     float64
	fetchedAt time.Time
}

// Feed serves prices, candles, order books and the trade tape for one broker.
type Feed struct {
	broker ports.Broker
	logger ports.Logger
	cfg    Config

	mu     sync.Mutex
	prices map[string]cachedPrice

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a new Feed.
func New(broker ports.Broker, logger ports.Logger, cfg Config) (*Feed, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker is required for market data feed")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for market data feed")
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	return &Feed{
		broker: broker,
		logger: logger,
		cfg:    cfg,
		prices: make(map[string]cachedPrice),
		now:    time.Now,
		sleep:  sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retry runs fn up to cfg.Retries times with exponential backoff between attempts.
func (f *Feed) retry(ctx context.Context, op, symbol string, fn func() error) error {
	b := &backoff.Backoff{Min: f.cfg.BaseDelay, Max: f.cfg.MaxDelay, Factor: 2}
	var lastErr error
	for attempt := 1; attempt <= f.cfg.Retries; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == f.cfg.Retries {
			break
		}
		if err := f.sleep(ctx, b.Duration()); err != nil {
			return fmt.Errorf("%s canceled for %s: %w: %w", op, symbol, ports.ErrContextCanceled, err)
		}
	}
	f.logger.Debug(ctx, op+": giving up after retries", map[string]interface{}{
		"symbol": symbol, "attempts": f.cfg.Retries, "error": lastErr.Error(),
	})
	return fmt.Errorf("%s failed for %s: %w: %w", op, symbol, ports.ErrDataUnavailable, lastErr)
}

// Price returns the last price, served from cache while younger than PriceTTL.
func (f *Feed) Price(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	if c, ok := f.prices[symbol]; ok && f.now().Sub(c.fetchedAt) < f.cfg.PriceTTL {
		f.mu.Unlock()
		return c.price, nil
	}
	f.mu.Unlock()

	var price float64
	err := f.retry(ctx, "GetPrice", symbol, func() error {
		p, err := f.broker.GetPrice(ctx, symbol)
		if err != nil {
			return err
		}
		if p <= 0 {
			return fmt.Errorf("non-positive price %v", p)
		}
		price = p
		return nil
	})
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	f.prices[symbol] = cachedPrice{price: price, fetchedAt: f.now()}
	f.mu.Unlock()
	return price, nil
}

// Forget drops the cached price of symbol so the next Price call refetches.
func (f *Feed) Forget(symbol string) {
	f.mu.Lock()
	delete(f.prices, symbol)
	f.mu.Unlock()
}

// Candles returns at least MinCandles candles, oldest first.
func (f *Feed) Candles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	var klines []*domain.Kline
	err := f.retry(ctx, "GetCandles", symbol, func() error {
		k, err := f.broker.GetCandles(ctx, symbol, interval, limit)
		if err != nil {
			return err
		}
		if len(k) < f.cfg.MinCandles {
			return fmt.Errorf("only %d candles, need %d", len(k), f.cfg.MinCandles)
		}
		klines = k
		return nil
	})
	return klines, err
}

// OrderBook returns the top depth levels of both sides.
func (f *Feed) OrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	var book *domain.OrderBook
	err := f.retry(ctx, "GetOrderBook", symbol, func() error {
		b, err := f.broker.GetOrderBook(ctx, symbol, depth)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("empty order book")
		}
		book = b
		return nil
	})
	return book, err
}

// RecentTrades returns the latest public trades.
func (f *Feed) RecentTrades(ctx context.Context, symbol string, limit int) ([]domain.MarketTrade, error) {
	var trades []domain.MarketTrade
	err := f.retry(ctx, "GetRecentTrades", symbol, func() error {
		t, err := f.broker.GetRecentTrades(ctx, symbol, limit)
		if err != nil {
			return err
		}
		trades = t
		return nil
	})
	return trades, err
}

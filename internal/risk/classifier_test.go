package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"autoTrader/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockData struct {
	book      *domain.OrderBook
	bookErr   error
	trades    []domain.MarketTrade
	tradesErr error
	klines    []*domain.Kline
	klinesErr error
	calls     int
}

func (m *mockData) OrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	m.calls++
	return m.book, m.bookErr
}

func (m *mockData) RecentTrades(ctx context.Context, symbol string, limit int) ([]domain.MarketTrade, error) {
	m.calls++
	return m.trades, m.tradesErr
}

func (m *mockData) Candles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	m.calls++
	return m.klines, m.klinesErr
}

// healthyData is a tight, deep book with an even tape and clean candles.
func healthyData() *mockData {
	book := &domain.OrderBook{Symbol: "ETHUSDT"}
	for i := 0; i < 10; i++ {
		book.Bids = append(book.Bids, domain.BookLevel{Price: 99.9 - float64(i)*0.1, Quantity: 100})
		book.Asks = append(book.Asks, domain.BookLevel{Price: 100.1 + float64(i)*0.1, Quantity: 100})
	}
	trades := make([]domain.MarketTrade, 30)
	for i := range trades {
		trades[i] = domain.MarketTrade{Price: 100, Quantity: 1}
	}
	klines := make([]*domain.Kline, 25)
	for i := range klines {
		klines[i] = &domain.Kline{Open: 100, Close: 101, High: 101.2, Low: 99.8}
	}
	return &mockData{book: book, trades: trades, klines: klines}
}

func newTestClassifier(t *testing.T, data *mockData) (*Classifier, *time.Time) {
	t.Helper()
	c, err := NewClassifier(DefaultConfig(), data, &mockLogger{})
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestNewClassifier(t *testing.T) {
	_, err := NewClassifier(DefaultConfig(), nil, &mockLogger{})
	assert.Error(t, err)
	_, err = NewClassifier(DefaultConfig(), healthyData(), nil)
	assert.Error(t, err)
	cfg := DefaultConfig()
	cfg.CandleCount = 10
	_, err = NewClassifier(cfg, healthyData(), &mockLogger{})
	assert.Error(t, err)
}

func TestAssess(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*mockData)
		wantRisky   bool
		wantReasons []domain.RiskReason
	}{
		{
			name:        "healthy market",
			mutate:      func(m *mockData) {},
			wantReasons: nil,
		},
		{
			name: "wide spread",
			mutate: func(m *mockData) {
				// bid 99.6, ask 100.4: spread 0.8% over a 0.6% max
				m.book.Bids[0].Price = 99.6
				m.book.Asks[0].Price = 100.4
			},
			wantRisky:   true,
			wantReasons: []domain.RiskReason{domain.RiskSpread},
		},
		{
			name: "thin book",
			mutate: func(m *mockData) {
				for i := range m.book.Bids {
					m.book.Bids[i].Quantity = 1
					m.book.Asks[i].Quantity = 1
				}
			},
			wantRisky:   true,
			wantReasons: []domain.RiskReason{domain.RiskDepth},
		},
		{
			name: "whale prints dominate the tape",
			mutate: func(m *mockData) {
				m.trades[0].Quantity = 100
				m.trades[1].Quantity = 100
			},
			wantRisky:   true,
			wantReasons: []domain.RiskReason{domain.RiskWhale},
		},
		{
			name: "repeated long upper wicks",
			mutate: func(m *mockData) {
				for i := 19; i < 25; i++ {
					m.klines[i] = &domain.Kline{Open: 100, Close: 100.5, High: 105, Low: 99.5}
				}
			},
			wantRisky:   true,
			wantReasons: []domain.RiskReason{domain.RiskWick},
		},
		{
			name: "long wicks outside the inspected window are ignored",
			mutate: func(m *mockData) {
				for i := 0; i < 5; i++ {
					m.klines[i] = &domain.Kline{Open: 100, Close: 100.5, High: 105, Low: 99.5}
				}
				m.klines[20] = &domain.Kline{Open: 100, Close: 100.5, High: 105, Low: 99.5}
			},
			wantReasons: nil,
		},
		{
			name: "every source unavailable",
			mutate: func(m *mockData) {
				m.bookErr = errors.New("down")
				m.tradesErr = errors.New("down")
				m.klinesErr = errors.New("down")
			},
			wantRisky: true,
			wantReasons: []domain.RiskReason{
				domain.RiskOrderBookUnavailable, domain.RiskTradesUnavailable, domain.RiskCandlesUnavailable,
			},
		},
		{
			name: "partial data still flags what it sees",
			mutate: func(m *mockData) {
				m.tradesErr = errors.New("down")
				m.book.Bids[0].Price = 99.0
			},
			wantRisky:   true,
			wantReasons: []domain.RiskReason{domain.RiskSpread, domain.RiskTradesUnavailable},
		},
		{
			name:        "short candle series",
			mutate:      func(m *mockData) { m.klines = m.klines[:10] },
			wantRisky:   true,
			wantReasons: []domain.RiskReason{domain.RiskCandlesUnavailable},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := healthyData()
			tt.mutate(data)
			c, _ := newTestClassifier(t, data)

			a := c.Assess(context.Background(), "ETHUSDT")
			assert.Equal(t, tt.wantRisky, a.Risky)
			assert.Equal(t, tt.wantReasons, a.Reasons)
			if !tt.wantRisky {
				assert.Equal(t, "OK", a.Summary())
			}
		})
	}
}

func TestAssess_CacheTTL(t *testing.T) {
	data := healthyData()
	c, now := newTestClassifier(t, data)
	ctx := context.Background()

	c.Assess(ctx, "ETHUSDT")
	assert.Equal(t, 3, data.calls)

	*now = now.Add(9 * time.Second)
	data.bookErr = errors.New("down")
	a := c.Assess(ctx, "ETHUSDT")
	assert.False(t, a.Risky, "served from cache")
	assert.Equal(t, 3, data.calls, "cache hit performs no fetch")

	*now = now.Add(1 * time.Second)
	a = c.Assess(ctx, "ETHUSDT")
	assert.True(t, a.Has(domain.RiskOrderBookUnavailable), "expired entries are recomputed")
	assert.Equal(t, 6, data.calls)

	cached, ok := c.Cached("ETHUSDT")
	require.True(t, ok)
	assert.True(t, cached.Risky)
	_, ok = c.Cached("BTCUSDT")
	assert.False(t, ok)
}

func TestShouldLog(t *testing.T) {
	c, now := newTestClassifier(t, healthyData())

	assert.True(t, c.ShouldLog("ETHUSDT"))
	assert.False(t, c.ShouldLog("ETHUSDT"))
	assert.True(t, c.ShouldLog("BTCUSDT"))

	*now = now.Add(30 * time.Second)
	assert.True(t, c.ShouldLog("ETHUSDT"))
}

func TestWhaleShare(t *testing.T) {
	assert.Zero(t, whaleShare(nil, 3))
	trades := []domain.MarketTrade{{Price: 1, Quantity: 1}, {Price: 1, Quantity: 5}, {Price: 1, Quantity: 2}, {Price: 1, Quantity: 2}}
	assert.InDelta(t, 0.9, whaleShare(trades, 3), 1e-9)
}

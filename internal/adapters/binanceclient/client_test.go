package binanceclient

import (
	"context"
	"errors"
	"testing"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct {
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

func TestNew(t *testing.T) {
	_, err := New(Config{QuoteAsset: "USDT"})
	assert.Error(t, err, "logger required")
	_, err = New(Config{Logger: &mockLogger{}})
	assert.Error(t, err, "quote asset required")

	c, err := New(Config{Logger: &mockLogger{}, QuoteAsset: "usdt", UseTestnet: true})
	require.NoError(t, err)
	assert.Equal(t, "USDT", c.quoteAsset)
	assert.Equal(t, baseURLTestnet, c.spot.BaseURL)
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "rate limit", err: &common.APIError{Code: -1003}, want: ports.ErrRateLimited},
		{name: "bad signature", err: &common.APIError{Code: -1022}, want: ports.ErrAuthenticationFailed},
		{name: "filter failure", err: &common.APIError{Code: -1013, Message: "Filter failure: LOT_SIZE"}, want: ports.ErrInvalidRequest},
		{name: "insufficient balance", err: &common.APIError{Code: -2010, Message: "Account has insufficient balance for requested action."}, want: ports.ErrInsufficientFunds},
		{name: "order rejected", err: &common.APIError{Code: -2010, Message: "Market is closed."}, want: ports.ErrOrderPlacementFailed},
		{name: "unknown order", err: &common.APIError{Code: -2013}, want: ports.ErrOrderNotFound},
		{name: "deadline", err: context.DeadlineExceeded, want: ports.ErrTimeout},
		{name: "canceled", err: context.Canceled, want: ports.ErrContextCanceled},
		{name: "refused", err: errors.New("dial tcp: connection refused"), want: ports.ErrConnectionFailed},
		{name: "other", err: errors.New("weird"), want: ports.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &mockLogger{}
			c, err := New(Config{Logger: logger, QuoteAsset: "USDT"})
			require.NoError(t, err)

			got := c.handleError(context.Background(), tt.err, "Op")
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
			assert.Len(t, logger.errorMsgs, 1)
		})
	}
	c, _ := New(Config{Logger: &mockLogger{}, QuoteAsset: "USDT"})
	assert.NoError(t, c.handleError(context.Background(), nil, "Op"))
}

func TestTranslateOrderStatus(t *testing.T) {
	assert.Equal(t, domain.OrderDone, translateOrderStatus(binance.OrderStatusTypeFilled))
	assert.Equal(t, domain.OrderCancelled, translateOrderStatus(binance.OrderStatusTypeCanceled))
	assert.Equal(t, domain.OrderCancelled, translateOrderStatus(binance.OrderStatusTypeExpired))
	assert.Equal(t, domain.OrderRejected, translateOrderStatus(binance.OrderStatusTypeRejected))
	assert.Equal(t, domain.OrderPending, translateOrderStatus(binance.OrderStatusTypeNew))
	assert.Equal(t, domain.OrderPending, translateOrderStatus(binance.OrderStatusTypePartiallyFilled))
}

func TestFloorToStep(t *testing.T) {
	tests := []struct {
		qty, step, want string
	}{
		{"1.23456", "0.001", "1.234"},
		{"0.0009", "0.001", "0"},
		{"5", "1", "5"},
		{"1.5", "0", "1.5"},
	}
	for _, tt := range tests {
		got := floorToStep(decimal.RequireFromString(tt.qty), decimal.RequireFromString(tt.step))
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "%s step %s = %s", tt.qty, tt.step, got)
	}
}

func TestTranslateBinanceKline(t *testing.T) {
	k, err := translateBinanceKline(&binance.Kline{
		OpenTime: 1700000000000, CloseTime: 1700000179999,
		Open: "100.5", High: "101", Low: "99", Close: "100", Volume: "12.5",
	}, "ETHUSDT", "3m")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", k.Symbol)
	assert.Equal(t, 100.5, k.Open)
	assert.Equal(t, 12.5, k.Volume)
	assert.Equal(t, int64(1700000000000), k.OpenTime.UnixMilli())

	_, err = translateBinanceKline(&binance.Kline{Open: "x"}, "ETHUSDT", "3m")
	assert.Error(t, err)
	_, err = translateBinanceKline(nil, "ETHUSDT", "3m")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := parseLevel("100.1", "2")
	require.NoError(t, err)
	assert.Equal(t, domain.BookLevel{Price: 100.1, Quantity: 2}, lvl)
	_, err = parseLevel("abc", "2")
	assert.Error(t, err)
}

func TestTickersFromStats(t *testing.T) {
	stats := []*binance.PriceChangeStats{
		{Symbol: "BTCUSDT", LastPrice: "61000.5", PriceChangePercent: "-1.25", QuoteVolume: "1200000000"},
		{Symbol: "ETHUSDT", LastPrice: "3400", PriceChangePercent: "4.1", QuoteVolume: "800000000"},
		{Symbol: "BADUSDT", LastPrice: "n/a"},
		nil,
	}

	got := tickersFromStats(stats, []string{"ETHUSDT", "BTCUSDT", "BADUSDT", "XRPUSDT"})

	require.Len(t, got, 2)
	assert.Equal(t, domain.Ticker24h{Symbol: "ETHUSDT", Price: 3400, ChangePct: 4.1, QuoteVolume: 800000000}, got[0])
	assert.Equal(t, "BTCUSDT", got[1].Symbol)
	assert.Equal(t, -1.25, got[1].ChangePct)
}

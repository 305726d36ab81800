package alpacaclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// tradingAPI is the part of alpaca.Client the adapter uses.
type tradingAPI interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetOrder(orderID string) (*alpaca.Order, error)
	CancelOrder(orderID string) error
	GetPositions() ([]alpaca.Position, error)
	GetAccount() (*alpaca.Account, error)
}

// marketAPI is the part of marketdata.Client the adapter uses.
type marketAPI interface {
	GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error)
	GetLatestQuote(symbol string, req marketdata.GetLatestQuoteRequest) (*marketdata.Quote, error)
	GetTrades(symbol string, req marketdata.GetTradesRequest) ([]marketdata.Trade, error)
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// Client implements ports.Broker against Alpaca's trading and market data APIs.
// Equities have no public depth feed, so the order book is the top-of-book quote.
type Client struct {
	trading tradingAPI
	market  marketAPI
	logger  ports.Logger
	now     func() time.Time
}

// Compile-time check
var _ ports.Broker = (*Client)(nil)

// Config holds configuration specific to the Alpaca client adapter.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string // Paper: https://paper-api.alpaca.markets
	Logger    ports.Logger
}

// New creates a new Alpaca client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Alpaca client")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("%w: Alpaca API key and secret are required", ports.ErrConfigurationError)
	}
	trading := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	market := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	})
	cfg.Logger.Info(context.Background(), "Alpaca client configured", map[string]interface{}{"baseURL": cfg.BaseURL})
	return newClient(trading, market, cfg.Logger), nil
}

func newClient(trading tradingAPI, market marketAPI, logger ports.Logger) *Client {
	return &Client{trading: trading, market: market, logger: logger, now: time.Now}
}

// handleError translates Alpaca API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var mappedErr error
	var apiErr *alpaca.APIError
	switch {
	case errors.As(err, &apiErr):
		fields["statusCode"] = apiErr.StatusCode
		fields["apiErrorMessage"] = apiErr.Message
		msg := strings.ToLower(apiErr.Message)
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			mappedErr = ports.ErrRateLimited
		case apiErr.StatusCode == http.StatusUnauthorized:
			mappedErr = ports.ErrAuthenticationFailed
		case strings.Contains(msg, "insufficient"):
			mappedErr = ports.ErrInsufficientFunds
		case apiErr.StatusCode == http.StatusForbidden:
			mappedErr = ports.ErrPermissionDenied
		case apiErr.StatusCode == http.StatusNotFound:
			mappedErr = ports.ErrOrderNotFound
		case apiErr.StatusCode == http.StatusUnprocessableEntity:
			mappedErr = ports.ErrInvalidRequest
		case apiErr.StatusCode >= 500:
			mappedErr = ports.ErrExchangeUnavailable
		default:
			mappedErr = ports.ErrUnknown
		}
	case errors.Is(err, context.DeadlineExceeded):
		mappedErr = ports.ErrTimeout
	case errors.Is(err, context.Canceled):
		mappedErr = ports.ErrContextCanceled
	default:
		mappedErr = ports.ErrUnknown
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
}

// GetPrice retrieves the latest trade price for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetPrice"
	trade, err := c.market.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if trade == nil || trade.Price <= 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no trade found for %s", symbol), op)
	}
	return trade.Price, nil
}

// parseInterval converts "3m", "15m", "1h", "1d" to an Alpaca time frame and its length.
func parseInterval(interval string) (marketdata.TimeFrame, time.Duration, error) {
	if len(interval) < 2 {
		return marketdata.TimeFrame{}, 0, fmt.Errorf("invalid interval %q", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return marketdata.TimeFrame{}, 0, fmt.Errorf("invalid interval %q", interval)
	}
	switch interval[len(interval)-1] {
	case 'm':
		return marketdata.NewTimeFrame(n, marketdata.Min), time.Duration(n) * time.Minute, nil
	case 'h':
		return marketdata.NewTimeFrame(n, marketdata.Hour), time.Duration(n) * time.Hour, nil
	case 'd':
		return marketdata.NewTimeFrame(n, marketdata.Day), time.Duration(n) * 24 * time.Hour, nil
	default:
		return marketdata.TimeFrame{}, 0, fmt.Errorf("invalid interval %q", interval)
	}
}

// GetCandles retrieves the most recent bars, oldest first. The lookback window is widened
// to cover closed sessions and then trimmed to limit.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetCandles"
	tf, length, err := parseInterval(interval)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidRequest, err)
	}
	lookback := time.Duration(limit) * length * 4
	if lookback < 5*24*time.Hour {
		lookback = 5 * 24 * time.Hour
	}

	bars, err := c.market.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     c.now().Add(-lookback),
	})
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}

	klines := make([]*domain.Kline, 0, len(bars))
	for _, b := range bars {
		klines = append(klines, &domain.Kline{
			OpenTime:  b.Timestamp,
			CloseTime: b.Timestamp.Add(length),
			Symbol:    symbol,
			Interval:  interval,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
		})
	}
	return klines, nil
}

// GetOrderBook returns the top-of-book quote as a one-level book.
func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	op := "GetOrderBook"
	q, err := c.market.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if q == nil {
		return nil, c.handleError(ctx, fmt.Errorf("no quote found for %s", symbol), op)
	}
	book := &domain.OrderBook{Symbol: symbol}
	if q.BidPrice > 0 {
		book.Bids = []domain.BookLevel{{Price: q.BidPrice, Quantity: float64(q.BidSize)}}
	}
	if q.AskPrice > 0 {
		book.Asks = []domain.BookLevel{{Price: q.AskPrice, Quantity: float64(q.AskSize)}}
	}
	return book, nil
}

// GetRecentTrades retrieves up to limit trades of the last trading hour, newest last.
func (c *Client) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]domain.MarketTrade, error) {
	op := "GetRecentTrades"
	trades, err := c.market.GetTrades(symbol, marketdata.GetTradesRequest{
		Start:      c.now().Add(-time.Hour),
		TotalLimit: limit,
		Sort:       marketdata.SortDesc,
	})
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(trades) > limit {
		trades = trades[:limit]
	}
	out := make([]domain.MarketTrade, len(trades))
	for i, t := range trades {
		out[len(trades)-1-i] = domain.MarketTrade{Price: t.Price, Quantity: float64(t.Size), Time: t.Timestamp}
	}
	return out, nil
}

// GetCashBalance retrieves the account cash.
func (c *Client) GetCashBalance(ctx context.Context) (float64, error) {
	op := "GetCashBalance"
	acct, err := c.trading.GetAccount()
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	return acct.Cash.InexactFloat64(), nil
}

// GetHoldings retrieves the open positions with their average entry price.
func (c *Client) GetHoldings(ctx context.Context) ([]domain.Holding, error) {
	op := "GetHoldings"
	positions, err := c.trading.GetPositions()
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	holdings := make([]domain.Holding, 0, len(positions))
	for _, p := range positions {
		if !p.Qty.IsPositive() {
			continue
		}
		holdings = append(holdings, domain.Holding{
			Symbol:   p.Symbol,
			Quantity: p.Qty.InexactFloat64(),
			AvgCost:  p.AvgEntryPrice.InexactFloat64(),
		})
	}
	return holdings, nil
}

// SubmitMarketOrder places a day market order. Buys are notional, sells by quantity.
func (c *Client) SubmitMarketOrder(ctx context.Context, req ports.OrderRequest) (domain.OrderHandle, error) {
	op := "SubmitMarketOrder"
	order := alpaca.PlaceOrderRequest{
		Symbol:      req.Symbol,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	}
	switch req.Side {
	case domain.Buy:
		if req.QuoteAmount <= 0 {
			return domain.OrderHandle{}, fmt.Errorf("%s failed: %w: quote amount %v", op, ports.ErrInvalidRequest, req.QuoteAmount)
		}
		notional := decimal.NewFromFloat(req.QuoteAmount).Round(2)
		order.Notional = &notional
		order.Side = alpaca.Buy
	case domain.Sell:
		if req.Quantity <= 0 {
			return domain.OrderHandle{}, fmt.Errorf("%s failed: %w: quantity %v", op, ports.ErrInvalidRequest, req.Quantity)
		}
		qty := decimal.NewFromFloat(req.Quantity)
		order.Qty = &qty
		order.Side = alpaca.Sell
	default:
		return domain.OrderHandle{}, fmt.Errorf("%s failed: %w: side %q", op, ports.ErrInvalidRequest, req.Side)
	}

	o, err := c.trading.PlaceOrder(order)
	if err != nil {
		return domain.OrderHandle{}, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "orderID": o.ID, "status": o.Status,
	})
	return domain.OrderHandle{ID: o.ID, Symbol: req.Symbol, Side: req.Side}, nil
}

// GetOrderState retrieves the current state of an order, reporting the average fill as one leg.
func (c *Client) GetOrderState(ctx context.Context, handle domain.OrderHandle) (*domain.OrderState, error) {
	op := "GetOrderState"
	o, err := c.trading.GetOrder(handle.ID)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	state := &domain.OrderState{
		Handle:      handle,
		Status:      translateOrderStatus(o.Status),
		ExecutedQty: o.FilledQty.InexactFloat64(),
	}
	if o.FilledAvgPrice != nil && o.FilledQty.IsPositive() {
		state.Legs = []domain.Fill{{Price: o.FilledAvgPrice.InexactFloat64(), Quantity: state.ExecutedQty}}
	}
	return state, nil
}

// CancelOrder cancels an order that may still be working.
func (c *Client) CancelOrder(ctx context.Context, handle domain.OrderHandle) error {
	op := "CancelOrder"
	if err := c.trading.CancelOrder(handle.ID); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": handle.Symbol, "orderID": handle.ID})
	return nil
}

func translateOrderStatus(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderDone
	case "canceled", "expired", "done_for_day", "replaced":
		return domain.OrderCancelled
	case "rejected", "suspended":
		return domain.OrderRejected
	default:
		return domain.OrderPending
	}
}

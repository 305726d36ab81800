package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// Client implements ports.Broker and ports.UniverseSource against the Binance spot API.
type Client struct {
	spot       *binance.Client
	logger     ports.Logger
	quoteAsset string

	mu        sync.Mutex
	stepSizes map[string]decimal.Decimal // LOT_SIZE step per symbol
}

// Compile-time checks
var (
	_ ports.Broker         = (*Client)(nil)
	_ ports.UniverseSource = (*Client)(nil)
	_ ports.TickerSource   = (*Client)(nil)
)

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	QuoteAsset string // e.g., "USDT"; symbols are base+quote
	Logger     ports.Logger
}

// New creates a new Binance spot client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.QuoteAsset == "" {
		return nil, fmt.Errorf("quote asset is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		spot:       client,
		logger:     cfg.Logger,
		quoteAsset: strings.ToUpper(cfg.QuoteAsset),
		stepSizes:  make(map[string]decimal.Decimal),
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1013, -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Filter failures and parameter errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
				mappedErr = ports.ErrInsufficientFunds
			} else {
				mappedErr = ports.ErrOrderPlacementFailed
			}
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API-key format invalid / invalid key, IP, or permissions
			mappedErr = ports.ErrInvalidAPIKeys
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetPrice retrieves the last traded price for a given symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetPrice"
	prices, err := c.spot.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s", symbol), op)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", prices[0].Price, err), op)
	}
	return price, nil
}

// GetCandles retrieves the most recent klines for the given symbol, oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetCandles"
	binanceKlines, err := c.spot.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateBinanceKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
		}
		domainKlines = append(domainKlines, dk)
	}
	return domainKlines, nil
}

// GetOrderBook retrieves the top depth levels of both book sides.
func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	op := "GetOrderBook"
	res, err := c.spot.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	book := &domain.OrderBook{Symbol: symbol}
	for _, b := range res.Bids {
		lvl, err := parseLevel(b.Price, b.Quantity)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		book.Bids = append(book.Bids, lvl)
	}
	for _, a := range res.Asks {
		lvl, err := parseLevel(a.Price, a.Quantity)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		book.Asks = append(book.Asks, lvl)
	}
	return book, nil
}

// GetRecentTrades retrieves the latest public trades for a symbol.
func (c *Client) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]domain.MarketTrade, error) {
	op := "GetRecentTrades"
	res, err := c.spot.NewRecentTradesService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	trades := make([]domain.MarketTrade, 0, len(res))
	for _, t := range res {
		price, err := strconv.ParseFloat(t.Price, 64)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("parsing trade price '%s': %w", t.Price, err), op)
		}
		qty, err := strconv.ParseFloat(t.Quantity, 64)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("parsing trade quantity '%s': %w", t.Quantity, err), op)
		}
		trades = append(trades, domain.MarketTrade{Price: price, Quantity: qty, Time: time.UnixMilli(t.Time)})
	}
	return trades, nil
}

// GetCashBalance retrieves the free balance of the quote asset.
func (c *Client) GetCashBalance(ctx context.Context) (float64, error) {
	op := "GetCashBalance"
	account, err := c.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	for _, b := range account.Balances {
		if b.Asset == c.quoteAsset {
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				return 0, c.handleError(ctx, fmt.Errorf("could not parse balance '%s': %w", b.Free, err), op)
			}
			return free, nil
		}
	}
	c.logger.Warn(ctx, op+": quote asset not found in account balances", map[string]interface{}{"asset": c.quoteAsset})
	return 0, nil
}

// GetHoldings retrieves every non-zero free balance except the quote asset.
// Binance does not report a cost basis, so AvgCost is 0.
func (c *Client) GetHoldings(ctx context.Context) ([]domain.Holding, error) {
	op := "GetHoldings"
	account, err := c.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	var holdings []domain.Holding
	for _, b := range account.Balances {
		if b.Asset == c.quoteAsset {
			continue
		}
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil || free <= 0 {
			continue
		}
		holdings = append(holdings, domain.Holding{Symbol: b.Asset + c.quoteAsset, Quantity: free})
	}
	return holdings, nil
}

// SubmitMarketOrder places a market order. Buys spend QuoteAmount, sells sell Quantity
// rounded down to the symbol's lot step.
func (c *Client) SubmitMarketOrder(ctx context.Context, req ports.OrderRequest) (domain.OrderHandle, error) {
	op := "SubmitMarketOrder"
	svc := c.spot.NewCreateOrderService().
		Symbol(req.Symbol).
		Type(binance.OrderTypeMarket).
		NewOrderRespType(binance.NewOrderRespTypeFULL)

	switch req.Side {
	case domain.Buy:
		if req.QuoteAmount <= 0 {
			return domain.OrderHandle{}, fmt.Errorf("%s failed: %w: quote amount %v", op, ports.ErrInvalidRequest, req.QuoteAmount)
		}
		svc = svc.Side(binance.SideTypeBuy).QuoteOrderQty(decimal.NewFromFloat(req.QuoteAmount).StringFixed(2))
	case domain.Sell:
		qty, err := c.roundQuantity(ctx, req.Symbol, req.Quantity)
		if err != nil {
			return domain.OrderHandle{}, err
		}
		if !qty.IsPositive() {
			return domain.OrderHandle{}, fmt.Errorf("%s failed: %w: quantity %v below lot step", op, ports.ErrInvalidRequest, req.Quantity)
		}
		svc = svc.Side(binance.SideTypeSell).Quantity(qty.String())
	default:
		return domain.OrderHandle{}, fmt.Errorf("%s failed: %w: side %q", op, ports.ErrInvalidRequest, req.Side)
	}

	c.logger.Debug(ctx, "Placing market order", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "quantity": req.Quantity, "quoteAmount": req.QuoteAmount,
	})
	order, err := svc.Do(ctx)
	if err != nil {
		return domain.OrderHandle{}, c.handleError(ctx, err, op)
	}
	handle := domain.OrderHandle{ID: strconv.FormatInt(order.OrderID, 10), Symbol: req.Symbol, Side: req.Side}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "orderID": handle.ID, "status": order.Status,
	})
	return handle, nil
}

// GetOrderState retrieves the current state of an order. The aggregate fill is reported
// as one leg priced at cumulative quote over executed quantity.
func (c *Client) GetOrderState(ctx context.Context, handle domain.OrderHandle) (*domain.OrderState, error) {
	op := "GetOrderState"
	id, err := strconv.ParseInt(handle.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: order id %q", op, ports.ErrInvalidRequest, handle.ID)
	}
	order, err := c.spot.NewGetOrderService().Symbol(handle.Symbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	cumQuote, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)
	state := &domain.OrderState{
		Handle:      handle,
		Status:      translateOrderStatus(order.Status),
		ExecutedQty: execQty,
	}
	if execQty > 0 && cumQuote > 0 {
		state.Legs = []domain.Fill{{Price: cumQuote / execQty, Quantity: execQty}}
	}
	return state, nil
}

// CancelOrder cancels an order that may still be working.
func (c *Client) CancelOrder(ctx context.Context, handle domain.OrderHandle) error {
	op := "CancelOrder"
	id, err := strconv.ParseInt(handle.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("%s failed: %w: order id %q", op, ports.ErrInvalidRequest, handle.ID)
	}
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": handle.Symbol, "orderID": id})

	res, err := c.spot.NewCancelOrderService().Symbol(handle.Symbol).OrderID(id).Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": handle.Symbol, "orderID": id, "status": res.Status})
	return nil
}

// TopSymbols returns up to n quote-asset symbols ordered by 24h quote volume.
func (c *Client) TopSymbols(ctx context.Context, n int) ([]string, error) {
	op := "TopSymbols"
	stats, err := c.spot.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	type ranked struct {
		symbol string
		volume float64
	}
	var candidates []ranked
	for _, s := range stats {
		if !strings.HasSuffix(s.Symbol, c.quoteAsset) || s.Symbol == c.quoteAsset {
			continue
		}
		vol, err := strconv.ParseFloat(s.QuoteVolume, 64)
		if err != nil || vol <= 0 {
			continue
		}
		candidates = append(candidates, ranked{symbol: s.Symbol, volume: vol})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].volume > candidates[j].volume })

	out := make([]string, 0, n)
	for i := 0; i < len(candidates) && i < n; i++ {
		out = append(out, candidates[i].symbol)
	}
	return out, nil
}

// Tickers24h returns the rolling 24h statistics of symbols. Unknown symbols are skipped.
func (c *Client) Tickers24h(ctx context.Context, symbols []string) ([]domain.Ticker24h, error) {
	op := "Tickers24h"
	stats, err := c.spot.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return tickersFromStats(stats, symbols), nil
}

func tickersFromStats(stats []*binance.PriceChangeStats, symbols []string) []domain.Ticker24h {
	bySymbol := make(map[string]*binance.PriceChangeStats, len(stats))
	for _, s := range stats {
		if s != nil {
			bySymbol[s.Symbol] = s
		}
	}
	out := make([]domain.Ticker24h, 0, len(symbols))
	for _, sym := range symbols {
		s, ok := bySymbol[sym]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(s.LastPrice, 64)
		if err != nil || price <= 0 {
			continue
		}
		change, _ := strconv.ParseFloat(s.PriceChangePercent, 64)
		volume, _ := strconv.ParseFloat(s.QuoteVolume, 64)
		out = append(out, domain.Ticker24h{Symbol: sym, Price: price, ChangePct: change, QuoteVolume: volume})
	}
	return out
}

// roundQuantity floors qty to the symbol's LOT_SIZE step, cached per symbol.
func (c *Client) roundQuantity(ctx context.Context, symbol string, qty float64) (decimal.Decimal, error) {
	op := "RoundQuantity"
	c.mu.Lock()
	step, ok := c.stepSizes[symbol]
	c.mu.Unlock()

	if !ok {
		info, err := c.spot.NewExchangeInfoService().Symbol(symbol).Do(ctx)
		if err != nil {
			return decimal.Zero, c.handleError(ctx, err, op)
		}
		step = decimal.Zero
		for i := range info.Symbols {
			if info.Symbols[i].Symbol != symbol {
				continue
			}
			if f := info.Symbols[i].LotSizeFilter(); f != nil {
				if s, err := decimal.NewFromString(f.StepSize); err == nil {
					step = s
				}
			}
		}
		c.mu.Lock()
		c.stepSizes[symbol] = step
		c.mu.Unlock()
	}
	return floorToStep(decimal.NewFromFloat(qty), step), nil
}

// floorToStep rounds q down to a multiple of step. A zero step leaves q unchanged.
func floorToStep(q, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return q
	}
	return q.Div(step).Floor().Mul(step)
}

// --- Translation Helpers ---

func translateOrderStatus(s binance.OrderStatusType) domain.OrderStatus {
	switch s {
	case binance.OrderStatusTypeFilled:
		return domain.OrderDone
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return domain.OrderCancelled
	case binance.OrderStatusTypeRejected:
		return domain.OrderRejected
	default:
		return domain.OrderPending
	}
}

func parseLevel(price, qty string) (domain.BookLevel, error) {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return domain.BookLevel{}, fmt.Errorf("parsing level price '%s': %w", price, err)
	}
	q, err := strconv.ParseFloat(qty, 64)
	if err != nil {
		return domain.BookLevel{}, fmt.Errorf("parsing level quantity '%s': %w", qty, err)
	}
	return domain.BookLevel{Price: p, Quantity: q}, nil
}

func translateBinanceKline(bk *binance.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}

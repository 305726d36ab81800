package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type holding struct {
	qty  decimal.Decimal
	cost decimal.Decimal // Total quote spent on the open quantity
}

// Broker simulates order execution on top of a live data broker.
// Market data calls pass through; orders fill immediately at the last price.
type Broker struct {
	data   ports.Broker
	logger ports.Logger

	mu       sync.Mutex
	cash     decimal.Decimal
	holdings map[string]*holding
	orders   map[string]*domain.OrderState
}

// Compile-time checks
var (
	_ ports.Broker         = (*Broker)(nil)
	_ ports.UniverseSource = (*Broker)(nil)
)

// New creates a paper broker with the given starting cash.
func New(data ports.Broker, logger ports.Logger, startCash float64) *Broker {
	return &Broker{
		data:     data,
		logger:   logger,
		cash:     decimal.NewFromFloat(startCash),
		holdings: make(map[string]*holding),
		orders:   make(map[string]*domain.OrderState),
	}
}

// Seed replaces the simulated account, typically from a persisted snapshot.
func (b *Broker) Seed(cash float64, positions []*domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cash = decimal.NewFromFloat(cash)
	b.holdings = make(map[string]*holding, len(positions))
	for _, p := range positions {
		if p.Quantity <= 0 {
			continue
		}
		qty := decimal.NewFromFloat(p.Quantity)
		b.holdings[p.Symbol] = &holding{qty: qty, cost: qty.Mul(decimal.NewFromFloat(p.EntryPrice))}
	}
}

func (b *Broker) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return b.data.GetPrice(ctx, symbol)
}

func (b *Broker) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	return b.data.GetCandles(ctx, symbol, interval, limit)
}

func (b *Broker) GetOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	return b.data.GetOrderBook(ctx, symbol, depth)
}

func (b *Broker) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]domain.MarketTrade, error) {
	return b.data.GetRecentTrades(ctx, symbol, limit)
}

// TopSymbols delegates to the data broker when it can rank instruments.
func (b *Broker) TopSymbols(ctx context.Context, n int) ([]string, error) {
	src, ok := b.data.(ports.UniverseSource)
	if !ok {
		return nil, fmt.Errorf("TopSymbols failed: %w: data broker cannot rank symbols", ports.ErrInvalidRequest)
	}
	return src.TopSymbols(ctx, n)
}

func (b *Broker) GetCashBalance(ctx context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash.InexactFloat64(), nil
}

func (b *Broker) GetHoldings(ctx context.Context) ([]domain.Holding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Holding, 0, len(b.holdings))
	for sym, h := range b.holdings {
		out = append(out, domain.Holding{
			Symbol:   sym,
			Quantity: h.qty.InexactFloat64(),
			AvgCost:  h.cost.Div(h.qty).InexactFloat64(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// SubmitMarketOrder fills the whole order at the current price.
func (b *Broker) SubmitMarketOrder(ctx context.Context, req ports.OrderRequest) (domain.OrderHandle, error) {
	op := "SubmitMarketOrder"
	price, err := b.data.GetPrice(ctx, req.Symbol)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("%s failed: %w: %w", op, ports.ErrOrderPlacementFailed, err)
	}
	if price <= 0 {
		return domain.OrderHandle{}, fmt.Errorf("%s failed: %w: price %v", op, ports.ErrInvalidRequest, price)
	}
	px := decimal.NewFromFloat(price)

	b.mu.Lock()
	defer b.mu.Unlock()

	var qty decimal.Decimal
	switch req.Side {
	case domain.Buy:
		amount := decimal.NewFromFloat(req.QuoteAmount)
		if !amount.IsPositive() {
			return domain.OrderHandle{}, fmt.Errorf("%s failed: %w: quote amount %v", op, ports.ErrInvalidRequest, req.QuoteAmount)
		}
		if amount.GreaterThan(b.cash) {
			return domain.OrderHandle{}, fmt.Errorf("%s failed: %w: need %s, have %s", op, ports.ErrInsufficientFunds, amount, b.cash)
		}
		qty = amount.Div(px)
		b.cash = b.cash.Sub(amount)
		h, ok := b.holdings[req.Symbol]
		if !ok {
			h = &holding{}
			b.holdings[req.Symbol] = h
		}
		h.qty = h.qty.Add(qty)
		h.cost = h.cost.Add(amount)
	case domain.Sell:
		h, ok := b.holdings[req.Symbol]
		if !ok || !h.qty.IsPositive() {
			return domain.OrderHandle{}, fmt.Errorf("%s failed: %w: no holding for %s", op, ports.ErrPositionNotFound, req.Symbol)
		}
		qty = decimal.NewFromFloat(req.Quantity)
		if !qty.IsPositive() {
			return domain.OrderHandle{}, fmt.Errorf("%s failed: %w: quantity %v", op, ports.ErrInvalidRequest, req.Quantity)
		}
		if qty.GreaterThan(h.qty) {
			qty = h.qty
		}
		avg := h.cost.Div(h.qty)
		h.qty = h.qty.Sub(qty)
		h.cost = h.cost.Sub(avg.Mul(qty))
		if !h.qty.IsPositive() {
			delete(b.holdings, req.Symbol)
		}
		b.cash = b.cash.Add(qty.Mul(px))
	default:
		return domain.OrderHandle{}, fmt.Errorf("%s failed: %w: side %q", op, ports.ErrInvalidRequest, req.Side)
	}

	handle := domain.OrderHandle{ID: uuid.NewString(), Symbol: req.Symbol, Side: req.Side}
	filled := qty.InexactFloat64()
	b.orders[handle.ID] = &domain.OrderState{
		Handle:      handle,
		Status:      domain.OrderDone,
		ExecutedQty: filled,
		Legs:        []domain.Fill{{Price: price, Quantity: filled}},
	}
	b.logger.Info(ctx, "Paper order filled", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "qty": filled, "price": price, "cash": b.cash.StringFixed(2),
	})
	return handle, nil
}

// GetOrderState returns the simulated order. Terminal orders are forgotten once read.
func (b *Broker) GetOrderState(ctx context.Context, handle domain.OrderHandle) (*domain.OrderState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.orders[handle.ID]
	if !ok {
		return nil, fmt.Errorf("GetOrderState failed: %w: %s", ports.ErrOrderNotFound, handle.ID)
	}
	if st.Status.Terminal() {
		delete(b.orders, handle.ID)
	}
	c := *st
	c.Legs = append([]domain.Fill(nil), st.Legs...)
	return &c, nil
}

// CancelOrder is a no-op: paper orders are terminal on submission.
func (b *Broker) CancelOrder(ctx context.Context, handle domain.OrderHandle) error {
	return nil
}

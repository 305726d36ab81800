package ports

import (
	"context"

	"autoTrader/internal/domain"
)

// OrderRequest describes a market order. Buys are sized by QuoteAmount (cash to spend),
// sells by Quantity (base units to sell).
type OrderRequest struct {
	Symbol      string
	Side        domain.OrderSide
	Quantity    float64
	QuoteAmount float64
}

// Broker defines the interface for interacting with a brokerage or exchange.
// This abstraction allows decoupling the engine from specific broker implementations.
type Broker interface {
	// GetPrice retrieves the last traded price for a symbol.
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// GetCandles retrieves the most recent candles for a symbol, oldest first.
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)

	// GetOrderBook retrieves the top depth levels of both book sides.
	GetOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error)

	// GetRecentTrades retrieves the latest public trades for a symbol.
	GetRecentTrades(ctx context.Context, symbol string, limit int) ([]domain.MarketTrade, error)

	// GetCashBalance retrieves the free balance of the quote currency.
	GetCashBalance(ctx context.Context) (float64, error)

	// GetHoldings retrieves every non-zero, non-cash balance.
	GetHoldings(ctx context.Context) ([]domain.Holding, error)

	// SubmitMarketOrder places a market order and returns its handle.
	SubmitMarketOrder(ctx context.Context, req OrderRequest) (domain.OrderHandle, error)

	// GetOrderState retrieves the current state of an order.
	GetOrderState(ctx context.Context, handle domain.OrderHandle) (*domain.OrderState, error)

	// CancelOrder cancels an order that may still be working.
	CancelOrder(ctx context.Context, handle domain.OrderHandle) error
}

// UniverseSource is implemented by brokers that can rank their instruments by traded value.
type UniverseSource interface {
	// TopSymbols returns up to n symbols ordered by 24h traded quote volume, highest first.
	TopSymbols(ctx context.Context, n int) ([]string, error)
}

// TickerSource is implemented by brokers that publish rolling 24h statistics.
type TickerSource interface {
	// Tickers24h returns the 24h summary of each known symbol, in the order requested.
	Tickers24h(ctx context.Context, symbols []string) ([]domain.Ticker24h, error)
}

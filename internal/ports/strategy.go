package ports

import (
	"context"

	"autoTrader/internal/domain"
)

// SignalEvaluator defines the interface for entry-signal logic.
type SignalEvaluator interface {
	// RequiredDataPoints returns the minimum number of klines needed for the calculations.
	RequiredDataPoints() int

	// Indicators computes the technical snapshot from klines, oldest first.
	Indicators(ctx context.Context, symbol string, klines []*domain.Kline) (*domain.Indicators, error)

	// ShouldEnter decides whether the snapshot is an entry, and why.
	ShouldEnter(ctx context.Context, ind *domain.Indicators, rsiThreshold float64) (domain.EntryReason, bool)
}

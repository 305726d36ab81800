package ports

import (
	"context"

	"autoTrader/internal/domain"
)

// StateStore persists the ledger snapshot and the operator settings as separate records.
type StateStore interface {
	// LoadSnapshot returns the last saved snapshot for mode.
	// Returns nil, nil if nothing was saved yet.
	LoadSnapshot(ctx context.Context, mode domain.TradingMode) (*domain.LedgerSnapshot, error)
	// SaveSnapshot replaces the snapshot for snap.Mode.
	SaveSnapshot(ctx context.Context, snap *domain.LedgerSnapshot) error
	// LoadSettings returns the saved settings, or nil, nil if none exist.
	LoadSettings(ctx context.Context) (*domain.Settings, error)
	// SaveSettings replaces the saved settings.
	SaveSettings(ctx context.Context, settings *domain.Settings) error
}

// TradeJournal defines the interface for storing and retrieving completed trades.
type TradeJournal interface {
	// RecordTrade saves a new trade record and returns its assigned ID.
	RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// RecentTrades retrieves trades exited at or after the given unix second, newest first, up to limit.
	RecentTrades(ctx context.Context, sinceUnix int64, limit int) ([]*domain.Trade, error)
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	readTimeout  = 2 * time.Second
	writeTimeout = 4 * time.Second
)

// Repository implements ports.StateStore and ports.TradeJournal on PostgreSQL.
type Repository struct {
	db     *pgxpool.Pool
	logger ports.Logger
}

// Compile-time checks
var (
	_ ports.StateStore   = (*Repository)(nil)
	_ ports.TradeJournal = (*Repository)(nil)
)

// Connect opens a pool for databaseURL and makes sure the schema exists.
func Connect(ctx context.Context, databaseURL string, logger ports.Logger) (*Repository, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for Postgres repository")
	}
	if databaseURL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL is empty", ports.ErrConfigurationError)
	}
	db, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w: %w", ports.ErrDBConnection, err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w: %w", ports.ErrDBConnection, err)
	}
	repo := &Repository{db: db, logger: logger}
	if err := repo.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	logger.Info(ctx, "Postgres connection established")
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS ledger_snapshots (
		mode TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		saved_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS trade_history (
		id BIGSERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		mode TEXT NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price DOUBLE PRECISION NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		pnl DOUBLE PRECISION NOT NULL,
		pnl_percent DOUBLE PRECISION NOT NULL,
		entry_time TIMESTAMPTZ NOT NULL,
		exit_time TIMESTAMPTZ NOT NULL,
		close_reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_trade_history_exit_time ON trade_history (exit_time);
	`
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *Repository) Close() {
	r.logger.Info(context.Background(), "Closing Postgres pool")
	r.db.Close()
}

func (r *Repository) LoadSnapshot(ctx context.Context, mode domain.TradingMode) (*domain.LedgerSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT payload FROM ledger_snapshots WHERE mode = $1`, string(mode)).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot for mode %s: %w: %w", mode, ports.ErrQueryFailed, err)
	}
	snap := &domain.LedgerSnapshot{}
	if err := json.Unmarshal(payload, snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for mode %s: %w", mode, err)
	}
	return snap, nil
}

func (r *Repository) SaveSnapshot(ctx context.Context, snap *domain.LedgerSnapshot) error {
	if !snap.Mode.Valid() {
		return fmt.Errorf("failed to save snapshot: %w: mode %q", ports.ErrInvalidRequest, snap.Mode)
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for mode %s: %w", snap.Mode, err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err = r.db.Exec(ctx, `
		INSERT INTO ledger_snapshots (mode, payload, saved_at) VALUES ($1, $2, $3)
		ON CONFLICT (mode) DO UPDATE SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at
	`, string(snap.Mode), payload, snap.SavedAt)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for mode %s: %w: %w", snap.Mode, ports.ErrUpdateFailed, err)
	}
	return nil
}

func (r *Repository) LoadSettings(ctx context.Context) (*domain.Settings, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT payload FROM settings WHERE id = 1`).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w: %w", ports.ErrQueryFailed, err)
	}
	settings := &domain.Settings{}
	if err := json.Unmarshal(payload, settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}

func (r *Repository) SaveSettings(ctx context.Context, settings *domain.Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err = r.db.Exec(ctx, `
		INSERT INTO settings (id, payload, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`, payload)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w: %w", ports.ErrUpdateFailed, err)
	}
	return nil
}

func (r *Repository) RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO trade_history (symbol, mode, entry_price, exit_price, quantity, pnl, pnl_percent,
		                           entry_time, exit_time, close_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, trade.Symbol, string(trade.Mode), trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.PNL, trade.PNLPercent,
		trade.EntryTime, trade.ExitTime, string(trade.CloseReason)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade history for symbol %s: %w: %w", trade.Symbol, ports.ErrUpdateFailed, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade history created", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol})
	return id, nil
}

func (r *Repository) RecentTrades(ctx context.Context, sinceUnix int64, limit int) ([]*domain.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT id, symbol, mode, entry_price, exit_price, quantity, pnl, pnl_percent,
		       entry_time, exit_time, close_reason
		FROM trade_history
		WHERE exit_time >= $1
		ORDER BY exit_time DESC, id DESC
		LIMIT $2
	`, time.Unix(sinceUnix, 0), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history: %w: %w", ports.ErrQueryFailed, err)
	}
	return collectTrades(rows)
}

type pgxRows interface {
	Next() bool
	Close()
	Scan(dest ...interface{}) error
	Err() error
}

var _ pgxRows = (pgx.Rows)(nil)

func collectTrades(rows pgxRows) ([]*domain.Trade, error) {
	defer rows.Close()
	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t := &domain.Trade{}
		var mode, reason string
		if err := rows.Scan(&t.ID, &t.Symbol, &mode, &t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.PNL, &t.PNLPercent,
			&t.EntryTime, &t.ExitTime, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade history: %w", err)
		}
		t.Mode = domain.TradingMode(mode)
		t.CloseReason = domain.CloseReason(reason)
		if reason == "" {
			t.CloseReason = domain.CloseReasonUnknown
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return trades, nil
}

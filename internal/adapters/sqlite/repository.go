package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.StateStore and ports.TradeJournal interfaces using SQLite.
// Ledger snapshots and settings are stored as JSON documents, one row each.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Compile-time checks
var (
	_ ports.StateStore   = (*Repository)(nil)
	_ ports.TradeJournal = (*Repository)(nil)
)

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/autotrader.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY between pool members
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS ledger_snapshots (
		mode TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		saved_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		mode TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		pnl REAL NOT NULL,
		pnl_percent REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		exit_unix INTEGER NOT NULL,
		close_reason TEXT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_history_exit_unix ON trade_history (exit_unix);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- StateStore Implementation ---

// LoadSnapshot returns the saved ledger snapshot for mode, or nil if none exists.
func (r *Repository) LoadSnapshot(ctx context.Context, mode domain.TradingMode) (*domain.LedgerSnapshot, error) {
	const query = `SELECT payload FROM ledger_snapshots WHERE mode = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, query, string(mode)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "No ledger snapshot found", map[string]interface{}{"mode": mode})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query snapshot for mode %s: %w: %w", mode, ports.ErrQueryFailed, err)
	}

	snap := &domain.LedgerSnapshot{}
	if err := json.Unmarshal([]byte(payload), snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for mode %s: %w", mode, err)
	}
	return snap, nil
}

// SaveSnapshot upserts the snapshot row for snap.Mode.
func (r *Repository) SaveSnapshot(ctx context.Context, snap *domain.LedgerSnapshot) error {
	const query = `
	INSERT INTO ledger_snapshots (mode, payload, saved_at) VALUES (?, ?, ?)
	ON CONFLICT(mode) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`

	if !snap.Mode.Valid() {
		return fmt.Errorf("failed to save snapshot: %w: mode %q", ports.ErrInvalidRequest, snap.Mode)
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for mode %s: %w", snap.Mode, err)
	}
	if _, err := r.db.ExecContext(ctx, query, string(snap.Mode), string(payload), snap.SavedAt); err != nil {
		return fmt.Errorf("failed to save snapshot for mode %s: %w: %w", snap.Mode, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Ledger snapshot saved", map[string]interface{}{"mode": snap.Mode, "positions": len(snap.Positions)})
	return nil
}

// LoadSettings returns the saved settings, or nil if none exist.
func (r *Repository) LoadSettings(ctx context.Context) (*domain.Settings, error) {
	const query = `SELECT payload FROM settings WHERE id = 1`

	var payload string
	err := r.db.QueryRowContext(ctx, query).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query settings: %w: %w", ports.ErrQueryFailed, err)
	}

	settings := &domain.Settings{}
	if err := json.Unmarshal([]byte(payload), settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}

// SaveSettings upserts the single settings row.
func (r *Repository) SaveSettings(ctx context.Context, settings *domain.Settings) error {
	const query = `
	INSERT INTO settings (id, payload, updated_at) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`

	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, string(payload), time.Now()); err != nil {
		return fmt.Errorf("failed to save settings: %w: %w", ports.ErrUpdateFailed, err)
	}
	return nil
}

// --- TradeJournal Implementation ---

// RecordTrade saves a new trade record and returns its assigned ID.
func (r *Repository) RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (symbol, mode, entry_price, exit_price, quantity, pnl, pnl_percent,
	                           entry_time, exit_time, exit_unix, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.Symbol, string(trade.Mode), trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.PNL, trade.PNLPercent,
		trade.EntryTime, trade.ExitTime, trade.ExitTime.Unix(), string(trade.CloseReason))
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade history for symbol %s: %w: %w", trade.Symbol, ports.ErrUpdateFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade history %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade history created", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": trade.PNL})
	return id, nil
}

// RecentTrades retrieves trades exited at or after sinceUnix, newest first.
func (r *Repository) RecentTrades(ctx context.Context, sinceUnix int64, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, mode, entry_price, exit_price, quantity, pnl, pnl_percent,
	       entry_time, exit_time, close_reason
	FROM trade_history
	WHERE exit_unix >= ? ORDER BY exit_unix DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, sinceUnix, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history during RecentTrades: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return trades, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	th := &domain.Trade{}
	var mode string
	var closeReason sql.NullString
	err := s.Scan(
		&th.ID, &th.Symbol, &mode, &th.EntryPrice, &th.ExitPrice, &th.Quantity, &th.PNL, &th.PNLPercent,
		&th.EntryTime, &th.ExitTime, &closeReason)
	if err != nil {
		return nil, err
	}
	th.Mode = domain.TradingMode(mode)
	if closeReason.Valid && closeReason.String != "" {
		th.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		th.CloseReason = domain.CloseReasonUnknown
	}
	return th, nil
}

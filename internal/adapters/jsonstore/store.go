package jsonstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

const (
	settingsFile = "settings.json"
	journalFile  = "trades.jsonl"
)

// Store keeps each durable record in its own JSON file under dir.
// Writes go through a temp file, fsync and rename so a crash never leaves a torn file.
type Store struct {
	dir string

	mu     sync.Mutex
	nextID int64
}

// Compile-time checks
var (
	_ ports.StateStore   = (*Store)(nil)
	_ ports.TradeJournal = (*Store)(nil)
)

// New creates the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: state directory is empty", ports.ErrConfigurationError)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory '%s': %w", dir, err)
	}
	s := &Store{dir: dir}
	trades, err := s.readJournal()
	if err != nil {
		return nil, err
	}
	for _, t := range trades {
		if t.ID > s.nextID {
			s.nextID = t.ID
		}
	}
	return s, nil
}

func snapshotFile(mode domain.TradingMode) string {
	return fmt.Sprintf("%s_state.json", mode)
}

func (s *Store) LoadSnapshot(ctx context.Context, mode domain.TradingMode) (*domain.LedgerSnapshot, error) {
	snap := &domain.LedgerSnapshot{}
	ok, err := s.read(snapshotFile(mode), snap)
	if err != nil || !ok {
		return nil, err
	}
	return snap, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snap *domain.LedgerSnapshot) error {
	if !snap.Mode.Valid() {
		return fmt.Errorf("failed to save snapshot: %w: mode %q", ports.ErrInvalidRequest, snap.Mode)
	}
	return s.write(snapshotFile(snap.Mode), snap)
}

func (s *Store) LoadSettings(ctx context.Context) (*domain.Settings, error) {
	settings := &domain.Settings{}
	ok, err := s.read(settingsFile, settings)
	if err != nil || !ok {
		return nil, err
	}
	return settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings *domain.Settings) error {
	return s.write(settingsFile, settings)
}

// RecordTrade appends one JSON line to the journal.
func (s *Store) RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	trade.ID = s.nextID
	line, err := json.Marshal(trade)
	if err != nil {
		return 0, fmt.Errorf("failed to encode trade: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.dir, journalFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open journal: %w: %w", ports.ErrUpdateFailed, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return 0, fmt.Errorf("failed to append trade: %w: %w", ports.ErrUpdateFailed, err)
	}
	return trade.ID, nil
}

func (s *Store) RecentTrades(ctx context.Context, sinceUnix int64, limit int) ([]*domain.Trade, error) {
	s.mu.Lock()
	all, err := s.readJournal()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Trade, 0, len(all))
	for _, t := range all {
		if t.ExitTime.Unix() >= sinceUnix {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExitTime.Equal(out[j].ExitTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].ExitTime.After(out[j].ExitTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) readJournal() ([]*domain.Trade, error) {
	f, err := os.Open(filepath.Join(s.dir, journalFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w: %w", ports.ErrQueryFailed, err)
	}
	defer f.Close()

	var trades []*domain.Trade
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		t := &domain.Trade{}
		if err := json.Unmarshal(sc.Bytes(), t); err != nil {
			// A torn last line from a crash is skipped
			continue
		}
		trades = append(trades, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w: %w", ports.ErrQueryFailed, err)
	}
	return trades, nil
}

func (s *Store) read(name string, v interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w: %w", name, ports.ErrQueryFailed, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) write(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	final := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w: %w", name, ports.ErrUpdateFailed, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w: %w", name, ports.ErrUpdateFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w: %w", name, ports.ErrUpdateFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w: %w", name, ports.ErrUpdateFailed, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("failed to replace %s: %w: %w", name, ports.ErrUpdateFailed, err)
	}
	return nil
}

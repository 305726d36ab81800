package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type fakeRows struct {
	rows   [][]interface{}
	i      int
	err    error
	closed bool
}

func (f *fakeRows) Next() bool {
	f.i++
	return f.i <= len(f.rows)
}

func (f *fakeRows) Close()     { f.closed = true }
func (f *fakeRows) Err() error { return f.err }

func (f *fakeRows) Scan(dest ...interface{}) error {
	row := f.rows[f.i-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = row[i].(int64)
		case *string:
			*p = row[i].(string)
		case *float64:
			*p = row[i].(float64)
		case *time.Time:
			*p = row[i].(time.Time)
		}
	}
	return nil
}

func TestCollectTrades(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := &fakeRows{rows: [][]interface{}{
		{int64(2), "ETHUSDT", "live", 100.0, 110.0, 1.0, 10.0, 10.0, ts, ts.Add(time.Hour), "SL"},
		{int64(1), "BTCUSDT", "paper", 100.0, 90.0, 1.0, -10.0, -10.0, ts, ts, ""},
	}}

	trades, err := collectTrades(rows)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.True(t, rows.closed)
	assert.Equal(t, domain.CloseReasonStopLoss, trades[0].CloseReason)
	assert.Equal(t, domain.ModeLive, trades[0].Mode)
	assert.Equal(t, domain.CloseReasonUnknown, trades[1].CloseReason)

	_, err = collectTrades(&fakeRows{err: errors.New("broken")})
	assert.Error(t, err)
}

func TestConnectValidation(t *testing.T) {
	_, err := Connect(context.Background(), "", &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	_, err = Connect(context.Background(), "postgres://x", nil)
	assert.Error(t, err)
}

// TestRepository_Integration runs against a real server when POSTGRES_TEST_URL is set.
func TestRepository_Integration(t *testing.T) {
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	ctx := context.Background()
	repo, err := Connect(ctx, url, &mockLogger{})
	require.NoError(t, err)
	defer repo.Close()

	now := time.Now().UTC().Truncate(time.Second)
	snap := &domain.LedgerSnapshot{
		Mode:      domain.ModePaper,
		Positions: []*domain.Position{domain.NewPosition("ETHUSDT", 2000, 0.5, 1000, now, false)},
		Cash:      5000,
		SavedAt:   now,
	}
	require.NoError(t, repo.SaveSnapshot(ctx, snap))
	got, err := repo.LoadSnapshot(ctx, domain.ModePaper)
	require.NoError(t, err)
	require.Len(t, got.Positions, 1)
	assert.Equal(t, 5000.0, got.Cash)

	settings := &domain.Settings{Blacklist: []string{"DOGEUSDT"}, StopList: []string{}, Protected: []string{}, MaxHoldMinutes: 60}
	require.NoError(t, repo.SaveSettings(ctx, settings))
	gotSettings, err := repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings, gotSettings)

	id, err := repo.RecordTrade(ctx, &domain.Trade{Symbol: "ETHUSDT", Mode: domain.ModePaper, EntryPrice: 1, ExitPrice: 2, Quantity: 1, PNL: 1, PNLPercent: 100, EntryTime: now, ExitTime: now})
	require.NoError(t, err)
	trades, err := repo.RecentTrades(ctx, now.Unix(), 5)
	require.NoError(t, err)
	require.NotEmpty(t, trades)
	assert.Equal(t, id, trades[0].ID)
}

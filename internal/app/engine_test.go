package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoTrader/config"
	"autoTrader/internal/adapters/paper"
	"autoTrader/internal/domain"
	"autoTrader/internal/exitconfirm"
	"autoTrader/internal/marketdata"
	"autoTrader/internal/ports"
	"autoTrader/internal/regime"
	"autoTrader/internal/risk"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

type mockNotifier struct {
	mu         sync.Mutex
	severities []domain.Severity
	msgs       []string
}

func (m *mockNotifier) Notify(ctx context.Context, msg string, severity domain.Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.severities = append(m.severities, severity)
	m.msgs = append(m.msgs, msg)
}

func (m *mockNotifier) count(sev domain.Severity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.severities {
		if s == sev {
			n++
		}
	}
	return n
}

type mockStore struct {
	mu            sync.Mutex
	snapshots     map[domain.TradingMode]*domain.LedgerSnapshot
	settings      *domain.Settings
	trades        []*domain.Trade
	snapshotSaves int
	saveErr       error
}

func newMockStore() *mockStore {
	return &mockStore{snapshots: make(map[domain.TradingMode]*domain.LedgerSnapshot)}
}

func (m *mockStore) LoadSnapshot(ctx context.Context, mode domain.TradingMode) (*domain.LedgerSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots[mode], nil
}

func (m *mockStore) SaveSnapshot(ctx context.Context, snap *domain.LedgerSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshots[snap.Mode] = snap
	m.snapshotSaves++
	return nil
}

func (m *mockStore) LoadSettings(ctx context.Context) (*domain.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func (m *mockStore) SaveSettings(ctx context.Context, settings *domain.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	s := settings.Clone()
	m.settings = &s
	return nil
}

func (m *mockStore) RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	return int64(len(m.trades)), nil
}

func (m *mockStore) RecentTrades(ctx context.Context, sinceUnix int64, limit int) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Trade(nil), m.trades...), nil
}

// mockBroker serves flat candles, a tight deep book and an even trade tape for every
// priced symbol. Orders fill at the current price unless script overrides the states.
type mockBroker struct {
	mu         sync.Mutex
	prices     map[string]float64
	candles    map[string][]*domain.Kline
	books      map[string]*domain.OrderBook
	cash       float64
	holdings   []domain.Holding
	submitErrs map[string]error
	script     []*domain.OrderState // Returned in order by GetOrderState, the last one repeats
	scriptPos  int
	orders     map[string]*domain.OrderState
	submitted  []ports.OrderRequest
	cancels    int
	nextID     int
}

func newMockBroker() *mockBroker {
	return &mockBroker{
		prices:     make(map[string]float64),
		candles:    make(map[string][]*domain.Kline),
		books:      make(map[string]*domain.OrderBook),
		cash:       10_000_000,
		submitErrs: make(map[string]error),
		orders:     make(map[string]*domain.OrderState),
	}
}

func (b *mockBroker) setPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

func (b *mockBroker) submittedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.submitted)
}

func (b *mockBroker) price(symbol string) (float64, error) {
	p, ok := b.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s: %w", symbol, ports.ErrNotFound)
	}
	return p, nil
}

func (b *mockBroker) GetPrice(ctx context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.price(symbol)
}

func (b *mockBroker) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if k, ok := b.candles[symbol]; ok {
		return k, nil
	}
	p, err := b.price(symbol)
	if err != nil {
		return nil, err
	}
	return flatCandles(symbol, p, 60), nil
}

func (b *mockBroker) GetOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if book, ok := b.books[symbol]; ok {
		return book, nil
	}
	p, err := b.price(symbol)
	if err != nil {
		return nil, err
	}
	book := &domain.OrderBook{Symbol: symbol}
	for i := 0; i < depth; i++ {
		book.Bids = append(book.Bids, domain.BookLevel{Price: p * (0.9995 - float64(i)*0.0001), Quantity: 1000})
		book.Asks = append(book.Asks, domain.BookLevel{Price: p * (1.0005 + float64(i)*0.0001), Quantity: 1000})
	}
	return book, nil
}

func (b *mockBroker) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]domain.MarketTrade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.price(symbol)
	if err != nil {
		return nil, err
	}
	trades := make([]domain.MarketTrade, limit)
	for i := range trades {
		trades[i] = domain.MarketTrade{Price: p, Quantity: 10}
	}
	return trades, nil
}

func (b *mockBroker) GetCashBalance(ctx context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash, nil
}

func (b *mockBroker) GetHoldings(ctx context.Context) ([]domain.Holding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Holding(nil), b.holdings...), nil
}

func (b *mockBroker) SubmitMarketOrder(ctx context.Context, req ports.OrderRequest) (domain.OrderHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, req)
	if err := b.submitErrs[req.Symbol]; err != nil {
		return domain.OrderHandle{}, err
	}
	b.nextID++
	h := domain.OrderHandle{ID: fmt.Sprintf("ord-%d", b.nextID), Symbol: req.Symbol, Side: req.Side}
	p := b.prices[req.Symbol]
	qty := req.Quantity
	if req.Side == domain.Buy && p > 0 {
		qty = req.QuoteAmount / p
	}
	b.orders[h.ID] = &domain.OrderState{
		Handle:      h,
		Status:      domain.OrderDone,
		ExecutedQty: qty,
		Legs:        []domain.Fill{{Price: p, Quantity: qty}},
	}
	b.applyHolding(req.Symbol, req.Side, qty, p)
	return h, nil
}

func (b *mockBroker) applyHolding(symbol string, side domain.OrderSide, qty, price float64) {
	for i := range b.holdings {
		if b.holdings[i].Symbol != symbol {
			continue
		}
		if side == domain.Buy {
			b.holdings[i].Quantity += qty
			return
		}
		b.holdings[i].Quantity -= qty
		if b.holdings[i].Quantity <= 0 {
			b.holdings = append(b.holdings[:i], b.holdings[i+1:]...)
		}
		return
	}
	if side == domain.Buy {
		b.holdings = append(b.holdings, domain.Holding{Symbol: symbol, Quantity: qty, AvgCost: price})
	}
}

func (b *mockBroker) GetOrderState(ctx context.Context, handle domain.OrderHandle) (*domain.OrderState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.script) > 0 {
		i := b.scriptPos
		if i < len(b.script)-1 {
			b.scriptPos++
		}
		st := *b.script[i]
		st.Handle = handle
		return &st, nil
	}
	st, ok := b.orders[handle.ID]
	if !ok {
		return nil, ports.ErrOrderNotFound
	}
	c := *st
	return &c, nil
}

func (b *mockBroker) CancelOrder(ctx context.Context, handle domain.OrderHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels++
	return nil
}

// mockSignals reports flat indicators at the last close unless overridden per symbol.
type mockSignals struct {
	mu      sync.Mutex
	ind     map[string]*domain.Indicators
	enter   map[string]domain.EntryReason
	panicOn string
	onEnter func(symbol string) // Called before the entry decision, outside the lock
}

func newMockSignals() *mockSignals {
	return &mockSignals{ind: make(map[string]*domain.Indicators), enter: make(map[string]domain.EntryReason)}
}

func (m *mockSignals) RequiredDataPoints() int { return 21 }

func (m *mockSignals) Indicators(ctx context.Context, symbol string, klines []*domain.Kline) (*domain.Indicators, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if symbol == m.panicOn {
		panic("indicator failure")
	}
	if ind, ok := m.ind[symbol]; ok {
		c := *ind
		return &c, nil
	}
	last := klines[len(klines)-1]
	return &domain.Indicators{Symbol: symbol, RSI: 50, MA20: last.Close, MA5: last.Close, Price: last.Close, Open: last.Open}, nil
}

func (m *mockSignals) ShouldEnter(ctx context.Context, ind *domain.Indicators, rsiThreshold float64) (domain.EntryReason, bool) {
	m.mu.Lock()
	hook := m.onEnter
	m.mu.Unlock()
	if hook != nil {
		hook(ind.Symbol)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.enter[ind.Symbol]
	return r, ok
}

func flatCandles(symbol string, price float64, n int) []*domain.Kline {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*domain.Kline, n)
	for i := range out {
		out[i] = &domain.Kline{
			OpenTime: start.Add(time.Duration(i) * 3 * time.Minute),
			Symbol:   symbol,
			Open:     price, High: price, Low: price, Close: price,
			Volume: 1000,
		}
	}
	return out
}

// --- Harness ---

type harness struct {
	t        *testing.T
	e        *Engine
	broker   *mockBroker
	store    *mockStore
	notifier *mockNotifier
	signals  *mockSignals
	logger   *mockLogger
	metrics  *Metrics
	clock    *time.Time
}

func testConfig() *config.Config {
	return &config.Config{
		TradingMode:         domain.ModePaper,
		PaperStartBalance:   1_000_000,
		TradeAmount:         100_000,
		CashSafetyMargin:    0.01,
		MaxPositions:        2,
		CandleInterval:      "3m",
		TrailingAfterTPDrop: -1.0,
		TrailingGeneralDrop: -2.5,
		ProtectStopLoss:     -5.0,
		ReentryRecoveryPct:  1.0,
		SellCooldown:        30 * time.Minute,
		BuyFailCooldown:     60 * time.Second,
		RegimeSymbol:        "BTCUSDT",
		BullEnter:           0.005,
		BullExit:            0.002,
		BearEnter:           -0.005,
		BearExit:            -0.002,
		TickInterval:        time.Second,
		TickErrorBackoff:    5 * time.Second,
		RegimeEvery:         10,
		BalanceEvery:        20,
		DailyRiskEvery:      30,
		ReportEvery:         60,
		ReconcileEvery:      20,
		ProtectMonitorEvery: 60,
		UniverseEvery:       300,
		DailyMaxLossPct:     -3.0,
		ReportInterval:      time.Hour,
		OrderWait:           5 * time.Second,
		OrderPoll:           500 * time.Millisecond,
	}
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	b := newMockBroker()
	logger := &mockLogger{}
	feedCfg := marketdata.DefaultConfig()
	feedCfg.PriceTTL = 0
	feedCfg.Retries = 1
	feed, err := marketdata.New(b, logger, feedCfg)
	require.NoError(t, err)

	det, err := regime.New(regime.Config{
		Enabled:   cfg.AutoTune,
		Symbol:    cfg.RegimeSymbol,
		Interval:  "15m",
		Candles:   60,
		MAPeriod:  20,
		BullEnter: cfg.BullEnter,
		BullExit:  cfg.BullExit,
		BearEnter: cfg.BearEnter,
		BearExit:  cfg.BearExit,
	}, feed, logger)
	require.NoError(t, err)
	cls, err := risk.NewClassifier(risk.DefaultConfig(), feed, logger)
	require.NoError(t, err)

	h := &harness{
		t:        t,
		broker:   b,
		store:    newMockStore(),
		notifier: &mockNotifier{},
		signals:  newMockSignals(),
		logger:   logger,
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	e, err := NewEngine(cfg, Dependencies{
		Brokers:   map[domain.TradingMode]ports.Broker{domain.ModePaper: b, domain.ModeLive: b},
		Feed:      feed,
		Signals:   h.signals,
		Regime:    det,
		Risk:      cls,
		Daily:     risk.NewDailyGuard(cfg.DailyMaxLossPct, 10*time.Minute),
		Confirmer: exitconfirm.New(exitconfirm.DefaultConfig()),
		Store:     h.store,
		Journal:   h.store,
		Notifier:  h.notifier,
		Metrics:   h.metrics,
		Logger:    logger,
	})
	require.NoError(t, err)

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h.clock = &clock
	e.now = func() time.Time { return *h.clock }
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	e.lastReport = clock
	h.e = e
	return h
}

func (h *harness) advance(d time.Duration) {
	*h.clock = h.clock.Add(d)
}

// open records a position directly in the active ledger.
func (h *harness) open(t *testing.T, symbol string, entry float64, protected bool) {
	t.Helper()
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	require.NoError(t, h.e.ledgers[h.e.mode].Open(domain.NewPosition(symbol, entry, 1000, 100_000, *h.clock, protected)))
}

func (h *harness) held(symbol string) bool {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	return h.e.ledgers[h.e.mode].Has(symbol)
}

func (h *harness) events(sev domain.Severity) []Event {
	var out []Event
	for _, ev := range h.e.events.list() {
		if ev.Type == sev {
			out = append(out, ev)
		}
	}
	return out
}

func TestNewEngine_Validation(t *testing.T) {
	h := newHarness(t, nil)
	base := Dependencies{
		Brokers:   h.e.brokers,
		Feed:      h.e.feed,
		Signals:   h.signals,
		Regime:    h.e.detector,
		Risk:      h.e.risk,
		Daily:     h.e.daily,
		Confirmer: h.e.confirmer,
		Store:     h.store,
		Logger:    h.logger,
	}

	tests := []struct {
		name    string
		cfg     func(*config.Config)
		deps    func(*Dependencies)
		wantErr bool
	}{
		{name: "valid", wantErr: false},
		{name: "missing store", deps: func(d *Dependencies) { d.Store = nil }, wantErr: true},
		{name: "missing paper broker", deps: func(d *Dependencies) {
			d.Brokers = map[domain.TradingMode]ports.Broker{domain.ModeLive: h.broker}
		}, wantErr: true},
		{name: "live mode without live broker", cfg: func(c *config.Config) { c.TradingMode = domain.ModeLive }, deps: func(d *Dependencies) {
			d.Brokers = map[domain.TradingMode]ports.Broker{domain.ModePaper: h.broker}
		}, wantErr: true},
		{name: "zero trade amount", cfg: func(c *config.Config) { c.TradeAmount = 0 }, wantErr: true},
		{name: "zero order poll", cfg: func(c *config.Config) { c.OrderPoll = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(cfg)
			}
			deps := base
			if tt.deps != nil {
				tt.deps(&deps)
			}
			_, err := NewEngine(cfg, deps)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTick_StoppedEngineDoesNothing(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.WatchSymbols = []string{"ETHUSDT"} })
	h.broker.setPrice("ETHUSDT", 100)
	h.signals.enter["ETHUSDT"] = domain.EntryReasonPump

	require.NoError(t, h.e.tick(context.Background()))
	assert.Zero(t, h.broker.submittedCount())
	assert.Zero(t, testutil.ToFloat64(h.metrics.Ticks))
}

func TestTick_EntryBuysSignalledInstrument(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.AutoStart = true
		c.WatchSymbols = []string{"ETHUSDT"}
	})
	h.broker.setPrice("ETHUSDT", 100)
	h.signals.enter["ETHUSDT"] = domain.EntryReasonPump

	require.NoError(t, h.e.tick(context.Background()))

	require.True(t, h.held("ETHUSDT"))
	assert.Len(t, h.events(domain.SeverityBuy), 1)
	assert.Equal(t, 1, h.notifier.count(domain.SeverityBuy))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Orders.WithLabelValues("BUY", "filled")))
}

func TestTick_RiskyInstrumentIsVetoed(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.AutoStart = true
		c.WatchSymbols = []string{"WIDEUSDT"}
	})
	h.broker.setPrice("WIDEUSDT", 100)
	// Spread (100.4-99.6)/100 = 0.8% against a 0.6% maximum.
	book := &domain.OrderBook{Symbol: "WIDEUSDT"}
	for i := 0; i < 10; i++ {
		book.Bids = append(book.Bids, domain.BookLevel{Price: 99.6, Quantity: 1000})
		book.Asks = append(book.Asks, domain.BookLevel{Price: 100.4, Quantity: 1000})
	}
	h.broker.books["WIDEUSDT"] = book
	h.signals.enter["WIDEUSDT"] = domain.EntryReasonRSIDip

	require.NoError(t, h.e.tick(context.Background()))

	assert.False(t, h.held("WIDEUSDT"))
	assert.Zero(t, h.broker.submittedCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RiskVetoes.WithLabelValues(string(domain.RiskSpread))))
	a, ok := h.e.risk.Cached("WIDEUSDT")
	require.True(t, ok)
	assert.True(t, a.Risky)
	assert.True(t, a.Has(domain.RiskSpread))
}

func TestTick_EntriesStopAtCapacity(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.AutoStart = true
		c.MaxPositions = 1
		c.WatchSymbols = []string{"AAAUSDT", "BBBUSDT"}
	})
	for _, sym := range []string{"AAAUSDT", "BBBUSDT"} {
		h.broker.setPrice(sym, 10)
		h.signals.enter[sym] = domain.EntryReasonPump
	}

	require.NoError(t, h.e.tick(context.Background()))

	assert.True(t, h.held("AAAUSDT"))
	assert.False(t, h.held("BBBUSDT"))
	assert.Equal(t, 1, h.broker.submittedCount())
}

func TestTick_PanicSellDuringEntryScanStopsBuying(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.AutoStart = true
		c.MaxPositions = 3
		c.WatchSymbols = []string{"AAAUSDT", "BBBUSDT"}
	})
	ctx := context.Background()
	h.open(t, "OLDUSDT", 10, false)
	for _, sym := range []string{"OLDUSDT", "AAAUSDT", "BBBUSDT"} {
		h.broker.setPrice(sym, 10)
	}
	h.signals.enter["BBBUSDT"] = domain.EntryReasonPump
	h.signals.onEnter = func(symbol string) {
		if symbol == "AAAUSDT" {
			h.e.PanicSellAll(ctx)
		}
	}

	require.NoError(t, h.e.tick(ctx))

	assert.False(t, h.e.Running())
	assert.False(t, h.held("OLDUSDT"))
	assert.False(t, h.held("BBBUSDT"))
	assert.Empty(t, h.e.ledgers[domain.ModePaper].Positions())
	assert.Equal(t, 1, h.broker.submittedCount()) // the panic sell only
}

func TestTick_StopLossNeedsConsecutiveConfirmations(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.AutoStart = true })
	h.open(t, "ETHUSDT", 100, false)
	ctx := context.Background()

	// -3.5% breaches the -3% stop; a 99 tick in between resets the count.
	for i, price := range []float64{96.5, 96.5, 99, 96.5, 96.5} {
		h.broker.setPrice("ETHUSDT", price)
		require.NoError(t, h.e.tick(ctx))
		require.True(t, h.held("ETHUSDT"), "sold too early at tick %d", i)
	}
	h.broker.setPrice("ETHUSDT", 96.5)
	require.NoError(t, h.e.tick(ctx))

	assert.False(t, h.held("ETHUSDT"))
	require.Len(t, h.store.trades, 1)
	assert.Equal(t, domain.CloseReasonStopLoss, h.store.trades[0].CloseReason)
	assert.InDelta(t, -3.5, h.store.trades[0].PNLPercent, 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Exits.WithLabelValues(string(domain.CloseReasonStopLoss))))
}

func TestTick_TrailingTakeProfitAfterPeak(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.AutoStart = true })
	h.open(t, "ETHUSDT", 100, false)
	ctx := context.Background()

	h.broker.setPrice("ETHUSDT", 104)
	require.NoError(t, h.e.tick(ctx))
	// 102.8 is +2.8% profit and -1.15% from the 104 peak.
	h.broker.setPrice("ETHUSDT", 102.8)
	require.NoError(t, h.e.tick(ctx))
	require.True(t, h.held("ETHUSDT"))
	require.NoError(t, h.e.tick(ctx))

	assert.False(t, h.held("ETHUSDT"))
	require.Len(t, h.store.trades, 1)
	assert.Equal(t, domain.CloseReasonTakeProfit, h.store.trades[0].CloseReason)
}

func TestTick_TimeLimitSellsImmediately(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.AutoStart = true })
	h.open(t, "ETHUSDT", 100, false)
	h.broker.setPrice("ETHUSDT", 100.5)
	h.advance(61 * time.Minute)

	require.NoError(t, h.e.tick(context.Background()))

	assert.False(t, h.held("ETHUSDT"))
	require.Len(t, h.store.trades, 1)
	assert.Equal(t, domain.CloseReasonTimeLimit, h.store.trades[0].CloseReason)
}

func TestTick_ProtectedHardStopAndReentry(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.AutoStart = true
		c.Protected = []string{"BNBUSDT"}
	})
	h.open(t, "BNBUSDT", 100, true)
	ctx := context.Background()

	// -4% from high: protected positions ignore the ordinary stop-loss.
	h.broker.setPrice("BNBUSDT", 96)
	require.NoError(t, h.e.tick(ctx))
	require.True(t, h.held("BNBUSDT"))

	h.broker.setPrice("BNBUSDT", 94)
	require.NoError(t, h.e.tick(ctx))
	require.False(t, h.held("BNBUSDT"))
	require.Len(t, h.e.ledgers[domain.ModePaper].Reentry(), 1)
	assert.Equal(t, 94.0, h.e.ledgers[domain.ModePaper].Reentry()[0].Price)

	// Recovered past 94*1.01 but still inside the sell cooldown.
	h.broker.setPrice("BNBUSDT", 95.5)
	submitted := h.broker.submittedCount()
	require.NoError(t, h.e.tick(ctx))
	assert.False(t, h.held("BNBUSDT"))
	assert.Equal(t, submitted, h.broker.submittedCount())

	h.advance(31 * time.Minute)
	require.NoError(t, h.e.tick(ctx))
	assert.True(t, h.held("BNBUSDT"))
	assert.Empty(t, h.e.ledgers[domain.ModePaper].Reentry())
}

func TestTick_RegimeTransitionToBull(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.AutoStart = true
		c.AutoTune = true
	})
	candles := flatCandles("BTCUSDT", 100, 60)
	candles[59].Close = 100.6
	h.broker.candles["BTCUSDT"] = candles

	require.NoError(t, h.e.tick(context.Background()))

	r, params := h.e.detector.Current()
	assert.Equal(t, domain.RegimeBull, r)
	assert.Equal(t, domain.ParamsFor(domain.RegimeBull), params)
	require.NotNil(t, h.store.settings)
	assert.Equal(t, domain.RegimeBull, h.store.settings.Regime)
	assert.Len(t, h.events(domain.SeveritySystem), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Regime.WithLabelValues(string(domain.RegimeBull))))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.Regime.WithLabelValues(string(domain.RegimeSideways))))
}

func TestTick_DueSubTasksFollowCadence(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.AutoStart = true })
	h.broker.cash = 5_000
	ctx := context.Background()

	require.NoError(t, h.e.tick(ctx)) // step 0 runs every sub-task
	assert.Len(t, h.e.history, 1)
	assert.Equal(t, 5_000.0, h.e.balance)

	h.broker.cash = 4_000
	for i := 1; i < 20; i++ {
		require.NoError(t, h.e.tick(ctx))
	}
	assert.Equal(t, 5_000.0, h.e.balance)

	h.advance(time.Minute)
	require.NoError(t, h.e.tick(ctx)) // step 20
	assert.Equal(t, 4_000.0, h.e.balance)
	assert.Len(t, h.e.history, 2)
}

func TestTick_DailyLossWarning(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.AutoStart = true })
	ctx := context.Background()
	h.broker.cash = 1_000
	h.e.refreshBalance(ctx)

	h.broker.cash = 960
	h.e.refreshBalance(ctx)
	h.e.checkDailyRisk(ctx)
	h.e.checkDailyRisk(ctx)

	assert.Len(t, h.events(domain.SeverityRisk), 1)
	assert.Equal(t, 1, h.notifier.count(domain.SeverityRisk))
}

func TestPeriodicReport_OncePerInterval(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.store.trades = []*domain.Trade{{Symbol: "ETHUSDT", PNL: 10, PNLPercent: 1, ExitTime: *h.clock}}

	h.e.periodicReport(ctx)
	assert.Empty(t, h.events(domain.SeverityReport))

	h.advance(61 * time.Minute)
	h.e.periodicReport(ctx)
	h.e.periodicReport(ctx)
	reports := h.events(domain.SeverityReport)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Message, "trades 1")
}

func TestMonitorProtected_ReportsOnBucketChange(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Protected = []string{"BNBUSDT"} })
	h.open(t, "BNBUSDT", 100, true)
	ctx := context.Background()

	h.broker.setPrice("BNBUSDT", 101)
	h.e.monitorProtected(ctx) // first sighting
	h.e.monitorProtected(ctx) // same bucket, within 10 minutes
	h.broker.setPrice("BNBUSDT", 106)
	h.e.monitorProtected(ctx) // bucket 0 -> 1
	h.advance(11 * time.Minute)
	h.e.monitorProtected(ctx) // stale

	assert.Len(t, h.events(domain.SeverityReport), 3)
}

func TestRefreshUniverse_FiltersListsAndPinned(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.WatchSymbols = []string{"AAAUSDT", "BBBUSDT", "CCCUSDT"}
		c.Blacklist = []string{"BBBUSDT"}
		c.StopList = []string{"CCCUSDT"}
	})
	ctx := context.Background()
	assert.Equal(t, []string{"AAAUSDT"}, h.e.watch)

	h.e.SetUniverse(ctx, []string{"ddd", "AAAUSDT", "BBBUSDT"})
	assert.Equal(t, []string{"DDD", "AAAUSDT"}, h.e.watch)

	h.e.SetUniverse(ctx, nil)
	assert.Equal(t, []string{"AAAUSDT"}, h.e.watch)
}

func TestSafeTick_RecoversFromPanic(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.AutoStart = true
		c.WatchSymbols = []string{"ETHUSDT"}
	})
	h.broker.setPrice("ETHUSDT", 100)
	h.signals.panicOn = "ETHUSDT"

	err := h.e.safeTick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indicator failure")
}

func TestRun_ReturnsOnCanceledContext(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.AutoStart = true })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, h.e.Run(ctx))
}

func TestRestore_LoadsLedgersSettingsAndSeedsPaper(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	entry := h.clock.Add(-10 * time.Minute)
	h.store.snapshots[domain.ModePaper] = &domain.LedgerSnapshot{
		Mode: domain.ModePaper,
		Positions: []*domain.Position{
			domain.NewPosition("ETHUSDT", 100, 2, 200, entry, false),
			domain.NewPosition("BNBUSDT", 50, 4, 200, entry, false),
		},
		Cash: 777_000,
	}
	h.store.settings = &domain.Settings{Protected: []string{"BNBUSDT"}, MaxHoldMinutes: 30, Regime: domain.RegimeBear}
	pb := paper.New(h.broker, h.logger, 1)
	h.e.brokers[domain.ModePaper] = pb

	h.e.Restore(ctx)

	require.True(t, h.held("ETHUSDT"))
	bnb, ok := h.e.ledgers[domain.ModePaper].Get("BNBUSDT")
	require.True(t, ok)
	assert.True(t, bnb.Protected)

	r, params := h.e.detector.Current()
	assert.Equal(t, domain.RegimeBear, r)
	assert.Equal(t, 30*time.Minute, params.MaxHold)

	cash, err := pb.GetCashBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 777_000, cash, 1e-6)
	holdings, err := pb.GetHoldings(ctx)
	require.NoError(t, err)
	assert.Len(t, holdings, 2)
	assert.Equal(t, 777_000.0, h.e.balance)
}

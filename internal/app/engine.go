package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"autoTrader/config"
	"autoTrader/internal/domain"
	"autoTrader/internal/exitconfirm"
	"autoTrader/internal/ledger"
	"autoTrader/internal/marketdata"
	"autoTrader/internal/ports"
	"autoTrader/internal/regime"
	"autoTrader/internal/risk"
	"autoTrader/internal/strategy/analytics"
)

const (
	candleLookback      = 60 // Candles fetched per indicator snapshot
	protectBucketPct    = 5.0
	protectReportEvery  = 10 * time.Minute
	reportWindow        = 24 * time.Hour
	reportTradeLimit    = 1000
	universePreviewSize = 5
)

// Dependencies are the collaborators an Engine is built from.
type Dependencies struct {
	Brokers   map[domain.TradingMode]ports.Broker // Order routing per mode; live may be absent
	Universe  ports.UniverseSource                // Optional top-N ranking
	Tickers   ports.TickerSource                  // Optional 24h statistics for the trending view
	Feed      *marketdata.Feed
	Signals   ports.SignalEvaluator
	Regime    *regime.Detector
	Risk      *risk.Classifier
	Daily     *risk.DailyGuard
	Confirmer *exitconfirm.Confirmer
	Store     ports.StateStore
	Journal   ports.TradeJournal // Optional
	Notifier  ports.Notifier     // Optional
	Metrics   *Metrics           // Optional; unregistered series are used when nil
	Logger    ports.Logger
}

// seeder is implemented by simulated brokers whose account is restored from the ledger.
type seeder interface {
	Seed(cash float64, positions []*domain.Position)
}

type protectMark struct {
	bucket int
	at     time.Time
}

// Engine runs the control loop and owns all trading state. Every field below mu is
// guarded by it; broker and store I/O happens outside the lock.
type Engine struct {
	cfg       *config.Config
	logger    ports.Logger
	brokers   map[domain.TradingMode]ports.Broker
	universe  ports.UniverseSource
	tickers   ports.TickerSource
	feed      *marketdata.Feed
	signals   ports.SignalEvaluator
	detector  *regime.Detector
	risk      *risk.Classifier
	daily     *risk.DailyGuard
	confirmer *exitconfirm.Confirmer
	store     ports.StateStore
	journal   ports.TradeJournal
	notifier  ports.Notifier
	metrics   *Metrics
	rules     ExitRules

	mu           sync.Mutex
	running      bool
	mode         domain.TradingMode
	step         uint64
	ledgers      map[domain.TradingMode]*ledger.Ledger
	sellCooldown *ledger.Cooldowns
	buyCooldown  *ledger.Cooldowns
	inflight     map[string]bool
	settings     domain.Settings
	blacklist    map[string]bool
	stopList     map[string]bool
	protected    map[string]bool
	pinned       []string // Operator-chosen universe; nil means ranked or configured list
	watch        []string
	balance      float64
	history      []BalancePoint
	lastReport   time.Time
	protectSeen  map[string]protectMark

	shuttingDown atomic.Bool
	saveMu       sync.Mutex // Serializes store writes so snapshots land in order
	events       eventLog

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an Engine in the configured mode, stopped unless AutoStart is set.
func NewEngine(cfg *config.Config, deps Dependencies) (*Engine, error) {
	if cfg == nil || deps.Logger == nil || deps.Feed == nil || deps.Signals == nil || deps.Regime == nil ||
		deps.Risk == nil || deps.Daily == nil || deps.Confirmer == nil || deps.Store == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	if deps.Brokers[domain.ModePaper] == nil {
		return nil, fmt.Errorf("paper broker is required for Engine")
	}
	if !cfg.TradingMode.Valid() {
		return nil, fmt.Errorf("invalid trading mode %q", cfg.TradingMode)
	}
	if deps.Brokers[cfg.TradingMode] == nil {
		return nil, fmt.Errorf("no broker configured for %s mode: %w", cfg.TradingMode, ports.ErrConfigurationError)
	}
	if cfg.TradeAmount <= 0 || cfg.MaxPositions <= 0 {
		return nil, fmt.Errorf("trade amount and max positions must be positive")
	}
	if cfg.OrderWait <= 0 || cfg.OrderPoll <= 0 {
		return nil, fmt.Errorf("order wait and poll interval must be positive")
	}
	m := deps.Metrics
	if m == nil {
		m = NewMetrics(nil)
	}

	e := &Engine{
		cfg:       cfg,
		logger:    deps.Logger,
		brokers:   deps.Brokers,
		universe:  deps.Universe,
		tickers:   deps.Tickers,
		feed:      deps.Feed,
		signals:   deps.Signals,
		detector:  deps.Regime,
		risk:      deps.Risk,
		daily:     deps.Daily,
		confirmer: deps.Confirmer,
		store:     deps.Store,
		journal:   deps.Journal,
		notifier:  deps.Notifier,
		metrics:   m,
		rules: ExitRules{
			TrailingAfterTPDrop: cfg.TrailingAfterTPDrop,
			TrailingGeneralDrop: cfg.TrailingGeneralDrop,
			ProtectStopLoss:     cfg.ProtectStopLoss,
		},
		running: cfg.AutoStart,
		mode:    cfg.TradingMode,
		ledgers: map[domain.TradingMode]*ledger.Ledger{
			domain.ModePaper: ledger.New(domain.ModePaper),
			domain.ModeLive:  ledger.New(domain.ModeLive),
		},
		sellCooldown: ledger.NewCooldowns(),
		buyCooldown:  ledger.NewCooldowns(),
		inflight:     make(map[string]bool),
		protectSeen:  make(map[string]protectMark),
		now:          time.Now,
		sleep:        sleepCtx,
	}
	e.applySettingsLocked(domain.Settings{
		Blacklist: cfg.Blacklist,
		StopList:  cfg.StopList,
		Protected: cfg.Protected,
	})
	e.watch = e.filterLocked(cfg.WatchSymbols)
	e.lastReport = e.now()
	return e, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Restore loads both ledgers and the operator settings from the store, seeds the paper
// account and takes a first balance and universe reading. A missing store record leaves
// the configured defaults in place; store failures are logged, never fatal.
func (e *Engine) Restore(ctx context.Context) {
	op := "Restore"

	settings, err := e.store.LoadSettings(ctx)
	if err != nil {
		e.logger.Error(ctx, err, op+": failed to load settings, using configured lists")
	}
	if settings != nil {
		e.mu.Lock()
		e.applySettingsLocked(*settings)
		e.watch = e.filterLocked(e.watch)
		e.mu.Unlock()
		if settings.MaxHoldMinutes > 0 {
			e.detector.SetMaxHold(time.Duration(settings.MaxHoldMinutes) * time.Minute)
		}
		e.detector.Restore(settings.Regime)
	}

	for _, mode := range []domain.TradingMode{domain.ModePaper, domain.ModeLive} {
		snap, err := e.store.LoadSnapshot(ctx, mode)
		if err != nil {
			e.logger.Error(ctx, err, op+": failed to load ledger snapshot", map[string]interface{}{"mode": mode})
			continue
		}
		e.mu.Lock()
		led := e.ledgers[mode]
		skipped := led.Restore(snap)
		led.MarkProtected(e.isProtectedLocked)
		positions := led.Positions()
		cash := led.Cash()
		e.mu.Unlock()

		if len(skipped) > 0 {
			e.logger.Warn(ctx, op+": skipped invalid positions", map[string]interface{}{"mode": mode, "symbols": skipped})
		}
		if s, ok := e.brokers[mode].(seeder); ok {
			if snap == nil || cash <= 0 {
				cash = e.cfg.PaperStartBalance
			}
			s.Seed(cash, positions)
		}
		e.logger.Info(ctx, op+": ledger loaded", map[string]interface{}{"mode": mode, "positions": len(positions)})
	}

	r, _ := e.detector.Current()
	e.metrics.setRegime(r)
	e.refreshBalance(ctx)
	e.refreshUniverse(ctx)
}

// Run drives the control loop until ctx is canceled. A failing or panicking tick is
// logged and followed by a short backoff; it never ends the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.emit(ctx, domain.SeveritySystem, "Control loop started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := e.safeTick(ctx); err != nil {
			e.metrics.TickErrors.Inc()
			e.emit(ctx, domain.SeverityError, "Control loop error: "+err.Error())
			if e.sleep(ctx, e.cfg.TickErrorBackoff) != nil {
				return nil
			}
		}
		if e.sleep(ctx, e.cfg.TickInterval) != nil {
			return nil
		}
	}
}

func (e *Engine) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()
	return e.tick(ctx)
}

// tick runs one iteration: due sub-tasks, then re-entries, entries and exits. Nothing
// happens while the engine is stopped.
func (e *Engine) tick(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	step := e.step
	e.step++
	mode := e.mode
	e.mu.Unlock()
	e.metrics.Ticks.Inc()

	var errs []error
	if due(step, e.cfg.RegimeEvery) {
		e.evaluateRegime(ctx)
	}
	if due(step, e.cfg.BalanceEvery) {
		e.refreshBalance(ctx)
	}
	if due(step, e.cfg.DailyRiskEvery) {
		e.checkDailyRisk(ctx)
	}
	if due(step, e.cfg.ReportEvery) {
		e.periodicReport(ctx)
	}
	if mode == domain.ModeLive && due(step, e.cfg.ReconcileEvery) {
		if err := e.Reconcile(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if mode == domain.ModeLive && due(step, e.cfg.ProtectMonitorEvery) {
		e.monitorProtected(ctx)
	}
	if due(step, e.cfg.UniverseEvery) {
		e.refreshUniverse(ctx)
	}

	e.reentries(ctx)
	e.entries(ctx)
	e.exits(ctx)
	return errors.Join(errs...)
}

func due(step uint64, every int) bool {
	return every > 0 && step%uint64(every) == 0
}

// reentries buys back sold protected instruments once price is above its trend average
// or has recovered past the sell price by ReentryRecoveryPct.
func (e *Engine) reentries(ctx context.Context) {
	e.mu.Lock()
	mode := e.mode
	led := e.ledgers[mode]
	watches := led.Reentry()
	e.mu.Unlock()

	for _, w := range watches {
		if ctx.Err() != nil || !e.Running() {
			return
		}
		e.mu.Lock()
		held := led.Has(w.Symbol)
		if held {
			led.DropReentry(w.Symbol)
		}
		e.mu.Unlock()
		if held {
			e.persist(ctx, mode)
			continue
		}

		ind, err := e.indicators(ctx, w.Symbol)
		if err != nil {
			continue
		}
		aboveTrend := ind.AboveTrend()
		recovered := ind.Price >= w.Price*(1+e.cfg.ReentryRecoveryPct/100)
		if !aboveTrend && !recovered {
			continue
		}
		e.logger.Info(ctx, "Protected re-entry attempt", map[string]interface{}{
			"symbol": w.Symbol, "price": ind.Price, "soldAt": w.Price, "aboveTrend": aboveTrend,
		})
		if err := e.Buy(ctx, w.Symbol, ind.Price, domain.EntryReasonReentry); err != nil {
			if errors.Is(err, ports.ErrNotRunning) {
				return
			}
			e.buyFailed(ctx, w.Symbol, err)
		}
	}
}

// entries scans the watch list for entry signals while capacity remains. Held and
// protected instruments are skipped; risky ones are vetoed before the signal is read.
func (e *Engine) entries(ctx context.Context) {
	e.mu.Lock()
	led := e.ledgers[e.mode]
	targets := append([]string(nil), e.watch...)
	slots := e.cfg.MaxPositions - led.CountUnprotected()
	e.mu.Unlock()
	if slots <= 0 {
		return
	}
	_, params := e.detector.Current()

	for _, sym := range targets {
		if ctx.Err() != nil || !e.Running() {
			return
		}
		e.mu.Lock()
		skip := led.Has(sym) || e.protected[sym]
		e.mu.Unlock()
		if skip {
			continue
		}

		ind, err := e.indicators(ctx, sym)
		if err != nil {
			e.logger.Debug(ctx, "Indicators unavailable", map[string]interface{}{"symbol": sym, "error": err.Error()})
			continue
		}

		a := e.risk.Assess(ctx, sym)
		if a.Risky {
			for _, r := range a.Reasons {
				e.metrics.RiskVetoes.WithLabelValues(string(r)).Inc()
			}
			if e.risk.ShouldLog(sym) {
				e.emit(ctx, domain.SeverityInfo, fmt.Sprintf("Skipped (risky): %s %s", sym, a.Summary()))
			}
			continue
		}

		reason, ok := e.signals.ShouldEnter(ctx, ind, params.RSIThreshold)
		if !ok {
			continue
		}
		if err := e.Buy(ctx, sym, ind.Price, reason); err != nil {
			if errors.Is(err, ports.ErrNotRunning) {
				return
			}
			e.buyFailed(ctx, sym, err)
			continue
		}
		slots--
		if slots <= 0 {
			return
		}
	}
}

// exits refreshes every open position and sells the first rule that fires and, where
// required, is confirmed on enough consecutive ticks.
func (e *Engine) exits(ctx context.Context) {
	e.mu.Lock()
	mode := e.mode
	led := e.ledgers[mode]
	positions := led.Positions()
	e.mu.Unlock()

	_, params := e.detector.Current()
	dirty := false
	for _, prev := range positions {
		if ctx.Err() != nil {
			break
		}
		price, err := e.feed.Price(ctx, prev.Symbol)
		if err != nil {
			continue
		}

		e.mu.Lock()
		p, ok := led.Observe(prev.Symbol, price)
		e.mu.Unlock()
		if !ok {
			continue
		}
		if p.HighWater > prev.HighWater {
			dirty = true
		}

		d := evaluateExit(p, price, e.now(), params, e.rules)
		for _, k := range d.Reset {
			e.confirmer.Reset(p.Symbol, k)
		}
		if !d.Fires() {
			continue
		}
		if d.Confirm != "" && !e.confirmer.Confirm(p.Symbol, d.Confirm) {
			continue
		}
		e.logger.Info(ctx, "Exit rule fired", map[string]interface{}{
			"symbol": p.Symbol, "reason": d.Reason, "profitPct": d.ProfitPct, "dropPct": d.DropPct,
		})
		if err := e.Sell(ctx, p.Symbol, d.Reason); err != nil {
			e.sellFailed(ctx, p.Symbol, err)
		}
	}
	if dirty {
		e.persist(ctx, mode)
	}
}

func (e *Engine) indicators(ctx context.Context, symbol string) (*domain.Indicators, error) {
	limit := candleLookback
	if n := e.signals.RequiredDataPoints(); n > limit {
		limit = n
	}
	klines, err := e.feed.Candles(ctx, symbol, e.cfg.CandleInterval, limit)
	if err != nil {
		return nil, err
	}
	return e.signals.Indicators(ctx, symbol, klines)
}

func (e *Engine) buyFailed(ctx context.Context, symbol string, err error) {
	switch {
	case errors.Is(err, ports.ErrCooldownActive), errors.Is(err, ports.ErrPositionExists),
		errors.Is(err, ports.ErrCapacityReached), errors.Is(err, ports.ErrOrderInFlight),
		errors.Is(err, ports.ErrBlacklisted):
		e.logger.Debug(ctx, "Buy skipped", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	case errors.Is(err, ports.ErrNotFilled):
	default:
		e.emit(ctx, domain.SeverityError, fmt.Sprintf("Buy failed (%s): %v", symbol, err))
	}
}

func (e *Engine) sellFailed(ctx context.Context, symbol string, err error) {
	switch {
	case errors.Is(err, ports.ErrOrderInFlight), errors.Is(err, ports.ErrNotFilled):
		e.logger.Debug(ctx, "Sell not completed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	default:
		e.emit(ctx, domain.SeverityError, fmt.Sprintf("Sell failed (%s): %v", symbol, err))
	}
}

// --- Sub-tasks ---

func (e *Engine) evaluateRegime(ctx context.Context) {
	tr, changed := e.detector.Evaluate(ctx)
	if !changed {
		return
	}
	e.metrics.setRegime(tr.To)
	e.persistSettings(ctx)
	e.emit(ctx, domain.SeveritySystem, fmt.Sprintf("Market regime changed: %s -> %s (deviation %.2f%%)", tr.From, tr.To, tr.Diff*100),
		map[string]interface{}{"targetProfitPct": tr.Params.TargetProfitPct, "stopLossPct": tr.Params.StopLossPct, "maxHold": tr.Params.MaxHold.String()})
}

// refreshBalance reads the free cash of the active mode and appends the minute's balance point.
func (e *Engine) refreshBalance(ctx context.Context) {
	e.mu.Lock()
	mode := e.mode
	broker := e.brokers[mode]
	e.mu.Unlock()

	cash, err := broker.GetCashBalance(ctx)
	if err != nil {
		e.logger.Warn(ctx, "Balance refresh failed", map[string]interface{}{"mode": mode, "error": err.Error()})
		return
	}
	e.mu.Lock()
	if e.mode == mode {
		e.balance = cash
		e.history = appendBalance(e.history, e.now(), cash)
	}
	if mode == domain.ModePaper {
		e.ledgers[mode].SetCash(cash)
	}
	open := e.ledgers[mode].Len()
	e.mu.Unlock()

	e.daily.Observe(cash)
	e.metrics.CashBalance.WithLabelValues(string(mode)).Set(cash)
	e.metrics.Positions.WithLabelValues(string(mode)).Set(float64(open))
}

func (e *Engine) checkDailyRisk(ctx context.Context) {
	e.mu.Lock()
	balance := e.balance
	e.mu.Unlock()

	stats, warn := e.daily.Check(balance)
	if !warn {
		return
	}
	e.emit(ctx, domain.SeverityRisk, fmt.Sprintf("Daily loss limit warning: %.2f%%", stats.DrawdownPct),
		map[string]interface{}{"startBalance": stats.StartBalance, "balance": stats.Balance, "day": stats.Day})
}

// periodicReport sends the balance and the last day's trade analytics once per ReportInterval.
func (e *Engine) periodicReport(ctx context.Context) {
	now := e.now()
	e.mu.Lock()
	if now.Sub(e.lastReport) <= e.cfg.ReportInterval {
		e.mu.Unlock()
		return
	}
	e.lastReport = now
	balance := e.balance
	open := e.ledgers[e.mode].Len()
	e.mu.Unlock()

	r, _ := e.detector.Current()
	summary := "journal unavailable"
	if e.journal != nil {
		trades, err := e.journal.RecentTrades(ctx, now.Add(-reportWindow).Unix(), reportTradeLimit)
		if err != nil {
			e.logger.Error(ctx, err, "Failed to load trades for report")
		} else {
			summary = analytics.AnalyzePerformance(trades, e.daily.StartBalance()).String()
		}
	}
	e.emit(ctx, domain.SeverityReport, fmt.Sprintf("Periodic report: balance %.2f, open positions %d, regime %s | 24h: %s",
		balance, open, r, summary))
}

// monitorProtected reports each held protected instrument when its profit crosses into
// another 5% bucket, or at least every 10 minutes.
func (e *Engine) monitorProtected(ctx context.Context) {
	e.mu.Lock()
	var held []*domain.Position
	for _, p := range e.ledgers[e.mode].Positions() {
		if e.protected[p.Symbol] {
			held = append(held, p)
		}
	}
	e.mu.Unlock()

	for _, p := range held {
		price, err := e.feed.Price(ctx, p.Symbol)
		if err != nil || p.EntryPrice <= 0 {
			continue
		}
		pct := p.ProfitPct(price)
		bucket := int(math.Floor(pct / protectBucketPct))
		now := e.now()

		e.mu.Lock()
		last, seen := e.protectSeen[p.Symbol]
		report := !seen || last.bucket != bucket || now.Sub(last.at) > protectReportEvery
		if report {
			e.protectSeen[p.Symbol] = protectMark{bucket: bucket, at: now}
		}
		e.mu.Unlock()

		if report {
			e.emit(ctx, domain.SeverityReport, fmt.Sprintf("Protected %s: %+.2f%%", p.Symbol, pct))
		}
	}
}

// refreshUniverse rebuilds the watch list: the pinned list if set, else the top-N ranking
// when the broker offers one, else the configured symbols. Blacklisted and stop-listed
// instruments are removed.
func (e *Engine) refreshUniverse(ctx context.Context) {
	e.mu.Lock()
	source := e.pinned
	e.mu.Unlock()

	if source == nil {
		source = e.cfg.WatchSymbols
		if e.universe != nil && e.cfg.WatchTopN > 0 {
			top, err := e.universe.TopSymbols(ctx, e.cfg.WatchTopN)
			switch {
			case err != nil:
				e.logger.Warn(ctx, "Universe ranking failed, keeping watch list", map[string]interface{}{"error": err.Error()})
				return
			case len(top) > 0:
				source = top
			}
		}
	}

	e.mu.Lock()
	next := e.filterLocked(source)
	changed := !slices.Equal(next, e.watch)
	e.watch = next
	e.mu.Unlock()

	if !changed {
		e.logger.Debug(ctx, "Watch list unchanged", map[string]interface{}{"count": len(next)})
		return
	}
	preview := next
	if len(preview) > universePreviewSize {
		preview = preview[:universePreviewSize]
	}
	e.emit(ctx, domain.SeveritySystem, fmt.Sprintf("Watch list refreshed (%d): %s", len(next), strings.Join(preview, ", ")))
}

// --- Settings and persistence ---

// applySettingsLocked installs s as the operator settings and rebuilds the lookup sets.
func (e *Engine) applySettingsLocked(s domain.Settings) {
	e.settings = s.Clone()
	e.blacklist = toSet(s.Blacklist)
	e.stopList = toSet(s.StopList)
	e.protected = toSet(s.Protected)
}

func (e *Engine) isProtectedLocked(symbol string) bool {
	return e.protected[symbol]
}

func (e *Engine) filterLocked(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s == "" || seen[s] || e.blacklist[s] || e.stopList[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// persist writes the ledger snapshot of mode. Failures are logged and swallowed; the
// in-memory ledger stays authoritative. Must not be called with e.mu held.
func (e *Engine) persist(ctx context.Context, mode domain.TradingMode) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	snap := e.ledgers[mode].Snapshot(e.now())
	e.mu.Unlock()

	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		e.logger.Error(ctx, err, "Failed to persist ledger snapshot", map[string]interface{}{"mode": mode})
	}
}

// persistSettings writes the operator settings together with the active regime.
func (e *Engine) persistSettings(ctx context.Context) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	r, _ := e.detector.Current()
	e.mu.Lock()
	s := e.settings.Clone()
	e.mu.Unlock()
	s.Regime = r

	if err := e.store.SaveSettings(ctx, &s); err != nil {
		e.logger.Error(ctx, err, "Failed to persist settings")
	}
}

func toSet(symbols []string) map[string]bool {
	m := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		m[s] = true
	}
	return m
}

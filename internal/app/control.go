package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

// Start resumes trading on the next tick.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	e.emit(ctx, domain.SeveritySystem, "Trading started")
}

// Stop pauses trading; open positions are kept and no longer managed until Start.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.emit(ctx, domain.SeveritySystem, "Trading stopped")
}

// Running reports whether the control loop is trading.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Shutdown marks the engine as shutting down; the request surface stops accepting work.
func (e *Engine) Shutdown() {
	e.shuttingDown.Store(true)
}

// Accepting reports whether new control requests should be served.
func (e *Engine) Accepting() bool {
	return !e.shuttingDown.Load()
}

// SetMode switches between paper and live trading. Each mode keeps its own ledger;
// the daily guard restarts from the new mode's balance.
func (e *Engine) SetMode(ctx context.Context, mode domain.TradingMode) error {
	op := "SetMode"
	if !mode.Valid() {
		return fmt.Errorf("%s failed: %w: unknown mode %q", op, ports.ErrInvalidRequest, mode)
	}
	if e.brokers[mode] == nil {
		return fmt.Errorf("%s failed: %w: no broker for %s mode", op, ports.ErrConfigurationError, mode)
	}

	e.mu.Lock()
	prev := e.mode
	e.mode = mode
	if prev != mode {
		e.history = nil
	}
	e.mu.Unlock()
	if prev == mode {
		return nil
	}

	e.daily.Reset()
	e.refreshBalance(ctx)
	if mode == domain.ModeLive {
		if err := e.Reconcile(ctx); err != nil {
			e.logger.Error(ctx, err, op+": reconciliation failed")
		}
	}
	e.emit(ctx, domain.SeveritySystem, fmt.Sprintf("Trading mode changed: %s -> %s", prev, mode))
	return nil
}

// SetUniverse pins the watch list to symbols. An empty list returns to the ranked
// top-N (or configured) universe.
func (e *Engine) SetUniverse(ctx context.Context, symbols []string) {
	pinned := normalizeSymbols(symbols)
	e.mu.Lock()
	if len(pinned) == 0 {
		e.pinned = nil
	} else {
		e.pinned = pinned
	}
	e.mu.Unlock()

	e.refreshUniverse(ctx)
	e.mu.Lock()
	n := len(e.watch)
	e.mu.Unlock()
	if len(pinned) == 0 {
		e.emit(ctx, domain.SeveritySystem, fmt.Sprintf("Universe reset to automatic selection (%d symbols)", n))
		return
	}
	e.emit(ctx, domain.SeveritySystem, fmt.Sprintf("Universe pinned (%d symbols)", n))
}

// SellOne force-sells one instrument. Protected instruments are refused.
func (e *Engine) SellOne(ctx context.Context, symbol string) error {
	op := "SellOne"
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("%s failed: %w: symbol is required", op, ports.ErrInvalidRequest)
	}

	e.mu.Lock()
	protected := e.isProtectedLocked(symbol)
	mode := e.mode
	held := e.ledgers[mode].Has(symbol)
	e.mu.Unlock()
	if protected {
		return fmt.Errorf("%s refused for %s: %w", op, symbol, ports.ErrProtectedInstrument)
	}
	if !held && mode == domain.ModePaper {
		return fmt.Errorf("%s failed for %s: %w", op, symbol, ports.ErrPositionNotFound)
	}
	return e.Sell(ctx, symbol, domain.CloseReasonManual)
}

// PanicSell starts PanicSellAll in the background so the caller returns immediately.
func (e *Engine) PanicSell(ctx context.Context) {
	go e.PanicSellAll(context.WithoutCancel(ctx))
}

// PanicSellAll stops trading and sells every unprotected position regardless of profit.
// In live mode the broker's holdings are sold as well, so positions unknown to the
// ledger are included. Individual failures are logged and skipped.
func (e *Engine) PanicSellAll(ctx context.Context) {
	e.mu.Lock()
	e.running = false
	mode := e.mode
	broker := e.brokers[mode]
	var targets []string
	seen := make(map[string]bool)
	for _, p := range e.ledgers[mode].Positions() {
		if !e.protected[p.Symbol] {
			targets = append(targets, p.Symbol)
			seen[p.Symbol] = true
		}
	}
	e.mu.Unlock()

	e.emit(ctx, domain.SeverityRisk, "PANIC SELL triggered: trading stopped, selling every unprotected position")

	if mode == domain.ModeLive {
		holdings, err := broker.GetHoldings(ctx)
		if err != nil {
			e.logger.Error(ctx, err, "Panic sell: holdings unavailable, selling ledger positions only")
		}
		e.mu.Lock()
		for _, h := range holdings {
			if h.Quantity > 0 && !seen[h.Symbol] && !e.protected[h.Symbol] {
				targets = append(targets, h.Symbol)
				seen[h.Symbol] = true
			}
		}
		e.mu.Unlock()
	}

	sold := 0
	for _, sym := range targets {
		e.emit(ctx, domain.SeverityRisk, "Panic sell order: "+sym)
		if err := e.Sell(ctx, sym, domain.CloseReasonPanic); err != nil {
			e.emit(ctx, domain.SeverityError, fmt.Sprintf("Panic sell failed (%s): %v", sym, err))
			continue
		}
		sold++
	}

	if mode == domain.ModeLive {
		if err := e.Reconcile(ctx); err != nil {
			e.logger.Error(ctx, err, "Panic sell: reconciliation failed")
		}
	}
	e.persist(ctx, mode)
	e.logger.Info(ctx, "Panic sell finished", map[string]interface{}{"targets": len(targets), "sold": sold})
}

// UpdateSettings replaces the blacklist, stop list, protected list and hold limit, and
// persists them. A zero MaxHoldMinutes restores the regime profile's hold limit.
func (e *Engine) UpdateSettings(ctx context.Context, s domain.Settings) error {
	op := "UpdateSettings"
	if s.MaxHoldMinutes < 0 {
		return fmt.Errorf("%s failed: %w: max hold minutes cannot be negative", op, ports.ErrInvalidRequest)
	}
	next := domain.Settings{
		Blacklist:      normalizeSymbols(s.Blacklist),
		StopList:       normalizeSymbols(s.StopList),
		Protected:      normalizeSymbols(s.Protected),
		MaxHoldMinutes: s.MaxHoldMinutes,
	}

	e.mu.Lock()
	e.applySettingsLocked(next)
	for _, led := range e.ledgers {
		led.MarkProtected(e.isProtectedLocked)
	}
	e.watch = e.filterLocked(e.watch)
	e.mu.Unlock()

	e.detector.SetMaxHold(time.Duration(next.MaxHoldMinutes) * time.Minute)
	e.persistSettings(ctx)
	for mode := range e.ledgers {
		e.persist(ctx, mode)
	}
	e.emit(ctx, domain.SeveritySystem, "System settings updated", map[string]interface{}{
		"blacklist": len(next.Blacklist), "stopList": len(next.StopList),
		"protected": len(next.Protected), "maxHoldMinutes": next.MaxHoldMinutes,
	})
	return nil
}

// Settings returns the operator settings with the active regime.
func (e *Engine) Settings() domain.Settings {
	r, _ := e.detector.Current()
	e.mu.Lock()
	s := e.settings.Clone()
	e.mu.Unlock()
	s.Regime = r
	return s
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

// Buy spends TradeAmount on symbol at market. price is the quote the decision was made
// on and serves as the fill price when the broker reports no legs.
//
// Buy is the control loop's entry path. Preconditions are checked under the engine lock
// in this order: trading running, blacklist, cooldowns, already held, capacity (skipped
// for protected instruments), order in flight. A failed
// funds check, rejected order or unfilled order puts symbol on the buy-failure cooldown.
func (e *Engine) Buy(ctx context.Context, symbol string, price float64, reason domain.EntryReason) error {
	op := "Buy"
	now := e.now()

	e.mu.Lock()
	mode := e.mode
	led := e.ledgers[mode]
	broker := e.brokers[mode]
	protected := e.isProtectedLocked(symbol)
	switch {
	case !e.running:
		e.mu.Unlock()
		return fmt.Errorf("%s rejected for %s: %w", op, symbol, ports.ErrNotRunning)
	case e.blacklist[symbol]:
		e.mu.Unlock()
		return fmt.Errorf("%s rejected for %s: %w", op, symbol, ports.ErrBlacklisted)
	case e.sellCooldown.Active(symbol, now):
		left := e.sellCooldown.Remaining(symbol, now)
		e.mu.Unlock()
		return fmt.Errorf("%s rejected for %s: %w: sold recently, %s left", op, symbol, ports.ErrCooldownActive, left.Round(time.Second))
	case e.buyCooldown.Active(symbol, now):
		left := e.buyCooldown.Remaining(symbol, now)
		e.mu.Unlock()
		return fmt.Errorf("%s rejected for %s: %w: recent buy failure, %s left", op, symbol, ports.ErrCooldownActive, left.Round(time.Second))
	case led.Has(symbol):
		e.mu.Unlock()
		return fmt.Errorf("%s rejected for %s: %w", op, symbol, ports.ErrPositionExists)
	case !protected && led.CountUnprotected() >= e.cfg.MaxPositions:
		e.mu.Unlock()
		return fmt.Errorf("%s rejected for %s: %w", op, symbol, ports.ErrCapacityReached)
	case e.inflight[symbol]:
		e.mu.Unlock()
		return fmt.Errorf("%s rejected for %s: %w", op, symbol, ports.ErrOrderInFlight)
	}
	e.inflight[symbol] = true
	e.mu.Unlock()
	defer e.release(symbol)

	cash, err := broker.GetCashBalance(ctx)
	if err != nil {
		e.backoffBuy(symbol)
		return fmt.Errorf("%s failed for %s: %w", op, symbol, err)
	}
	need := e.cfg.TradeAmount * (1 + e.cfg.CashSafetyMargin)
	if cash < need {
		e.backoffBuy(symbol)
		return fmt.Errorf("%s failed for %s: %w: free %.2f, need %.2f", op, symbol, ports.ErrInsufficientFunds, cash, need)
	}

	submitted := e.now()
	handle, err := broker.SubmitMarketOrder(ctx, ports.OrderRequest{
		Symbol:      symbol,
		Side:        domain.Buy,
		QuoteAmount: e.cfg.TradeAmount,
	})
	if err != nil {
		e.backoffBuy(symbol)
		e.metrics.Orders.WithLabelValues(string(domain.Buy), "rejected").Inc()
		return fmt.Errorf("%s failed for %s: %w", op, symbol, err)
	}
	e.logger.Info(ctx, op+" order submitted", map[string]interface{}{
		"symbol": symbol, "orderID": handle.ID, "reason": reason, "mode": mode,
	})

	state := e.waitForFill(ctx, broker, handle)
	e.metrics.OrderWait.WithLabelValues(string(domain.Buy)).Observe(e.now().Sub(submitted).Seconds())
	if !state.Filled() {
		e.backoffBuy(symbol)
		e.metrics.Orders.WithLabelValues(string(domain.Buy), "not_filled").Inc()
		e.emit(ctx, domain.SeveritySystem, fmt.Sprintf("Buy not filled, canceled: %s", symbol))
		return fmt.Errorf("%s failed for %s: %w", op, symbol, ports.ErrNotFilled)
	}

	fill := state.VWAP(price)
	qty := state.FilledQty()
	if qty <= 0 && fill > 0 {
		qty = e.cfg.TradeAmount / fill
	}
	pos := domain.NewPosition(symbol, fill, qty, e.cfg.TradeAmount, e.now(), protected)

	e.mu.Lock()
	openErr := led.Open(pos)
	led.DropReentry(symbol)
	e.mu.Unlock()
	e.confirmer.Clear(symbol)
	if openErr != nil {
		// Reconciliation may have recorded the holding first.
		e.logger.Warn(ctx, op+": position not recorded locally", map[string]interface{}{"symbol": symbol, "error": openErr.Error()})
	}

	e.syncCash(ctx, mode, broker)
	e.persist(ctx, mode)
	e.metrics.Orders.WithLabelValues(string(domain.Buy), "filled").Inc()
	e.emit(ctx, domain.SeverityBuy, fmt.Sprintf("Bought %s at %.8g (%s, %s)", symbol, fill, reason, mode),
		map[string]interface{}{"quantity": qty, "notional": e.cfg.TradeAmount})

	if mode == domain.ModeLive {
		if err := e.Reconcile(ctx); err != nil {
			e.logger.Error(ctx, err, op+": reconciliation after fill failed", map[string]interface{}{"symbol": symbol})
		}
	}
	return nil
}

// Sell closes the full held quantity of symbol at market. The sell cooldown starts
// immediately, before the order completes. Live quantities come from the broker's
// holdings; paper quantities from the ledger. A confirmed fill removes the position,
// journals the trade and, for protected instruments, starts a re-entry watch.
func (e *Engine) Sell(ctx context.Context, symbol string, reason domain.CloseReason) error {
	op := "Sell"
	now := e.now()

	e.mu.Lock()
	mode := e.mode
	led := e.ledgers[mode]
	broker := e.brokers[mode]
	e.sellCooldown.Set(symbol, now.Add(e.cfg.SellCooldown))
	if e.inflight[symbol] {
		e.mu.Unlock()
		return fmt.Errorf("%s rejected for %s: %w", op, symbol, ports.ErrOrderInFlight)
	}
	pos, held := led.Get(symbol)
	protected := e.isProtectedLocked(symbol)
	e.inflight[symbol] = true
	e.mu.Unlock()
	defer e.release(symbol)

	qty := 0.0
	if held {
		qty = pos.Quantity
	}
	if mode == domain.ModeLive {
		if q, err := heldQuantity(ctx, broker, symbol); err != nil {
			e.logger.Warn(ctx, op+": holdings unavailable, using ledger quantity", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		} else {
			qty = q
		}
	}
	if qty <= 0 {
		if mode == domain.ModeLive {
			if err := e.Reconcile(ctx); err != nil {
				e.logger.Error(ctx, err, op+": reconciliation failed", map[string]interface{}{"symbol": symbol})
			}
		}
		return fmt.Errorf("%s failed for %s: %w", op, symbol, ports.ErrPositionNotFound)
	}

	submitted := e.now()
	handle, err := broker.SubmitMarketOrder(ctx, ports.OrderRequest{
		Symbol:   symbol,
		Side:     domain.Sell,
		Quantity: qty,
	})
	if err != nil {
		e.metrics.Orders.WithLabelValues(string(domain.Sell), "rejected").Inc()
		return fmt.Errorf("%s failed for %s: %w", op, symbol, err)
	}
	e.logger.Info(ctx, op+" order submitted", map[string]interface{}{
		"symbol": symbol, "orderID": handle.ID, "quantity": qty, "reason": reason, "mode": mode,
	})
	e.confirmer.Clear(symbol)

	state := e.waitForFill(ctx, broker, handle)
	e.metrics.OrderWait.WithLabelValues(string(domain.Sell)).Observe(e.now().Sub(submitted).Seconds())
	if !state.Filled() {
		e.metrics.Orders.WithLabelValues(string(domain.Sell), "not_filled").Inc()
		e.emit(ctx, domain.SeveritySystem, fmt.Sprintf("Sell not filled, canceled: %s", symbol))
		if mode == domain.ModeLive {
			if err := e.Reconcile(ctx); err != nil {
				e.logger.Error(ctx, err, op+": reconciliation failed", map[string]interface{}{"symbol": symbol})
			}
		}
		return fmt.Errorf("%s failed for %s: %w", op, symbol, ports.ErrNotFilled)
	}

	exit := state.VWAP(0)
	if exit <= 0 {
		if p, err := e.feed.Price(ctx, symbol); err == nil {
			exit = p
		} else if held {
			exit = pos.EntryPrice
		}
	}
	soldQty := state.FilledQty()
	if soldQty <= 0 {
		soldQty = qty
	}

	e.mu.Lock()
	led.Close(symbol)
	if protected {
		led.WatchReentry(domain.ReentryWatch{Symbol: symbol, Price: exit, SoldAt: e.now(), Quantity: soldQty})
	}
	e.mu.Unlock()
	e.feed.Forget(symbol)

	e.syncCash(ctx, mode, broker)
	e.persist(ctx, mode)
	e.metrics.Orders.WithLabelValues(string(domain.Sell), "filled").Inc()
	e.metrics.Exits.WithLabelValues(string(reason)).Inc()

	pct := 0.0
	if held {
		pct = pos.ProfitPct(exit)
		e.recordTrade(ctx, &domain.Trade{
			Symbol:      symbol,
			Mode:        mode,
			EntryPrice:  pos.EntryPrice,
			ExitPrice:   exit,
			Quantity:    soldQty,
			PNL:         (exit - pos.EntryPrice) * soldQty,
			PNLPercent:  pct,
			EntryTime:   pos.EntryTime,
			ExitTime:    e.now(),
			CloseReason: reason,
		})
	}
	e.emit(ctx, domain.SeveritySell, fmt.Sprintf("Sold %s at %.8g (%s, %+.2f%%, %s)", symbol, exit, reason, pct, mode),
		map[string]interface{}{"quantity": soldQty, "protected": protected})

	if mode == domain.ModeLive {
		if err := e.Reconcile(ctx); err != nil {
			e.logger.Error(ctx, err, op+": reconciliation after fill failed", map[string]interface{}{"symbol": symbol})
		}
	}
	return nil
}

// Reconcile replaces the live ledger with the broker's holdings, keeping local entry time
// and high-water marks. It is a no-op in paper mode and idempotent: a second run against
// unchanged holdings alters nothing.
func (e *Engine) Reconcile(ctx context.Context) error {
	op := "Reconcile"

	e.mu.Lock()
	mode := e.mode
	broker := e.brokers[mode]
	led := e.ledgers[mode]
	e.mu.Unlock()
	if mode != domain.ModeLive {
		return nil
	}

	holdings, err := broker.GetHoldings(ctx)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	// Unknown cost basis falls back to the current price; fetch it before taking the lock.
	e.mu.Lock()
	var unpriced []string
	for _, h := range holdings {
		if h.AvgCost <= 0 && !led.Has(h.Symbol) {
			unpriced = append(unpriced, h.Symbol)
		}
	}
	e.mu.Unlock()
	prices := make(map[string]float64, len(unpriced))
	for _, sym := range unpriced {
		if p, err := e.feed.Price(ctx, sym); err == nil {
			prices[sym] = p
		}
	}

	e.mu.Lock()
	res := led.Replace(holdings, func(sym string) float64 { return prices[sym] }, e.isProtectedLocked, e.now())
	open := led.Len()
	e.mu.Unlock()

	e.metrics.Positions.WithLabelValues(string(mode)).Set(float64(open))
	if !res.Changed() {
		return nil
	}
	for _, sym := range res.Removed {
		e.confirmer.Clear(sym)
	}
	e.persist(ctx, mode)
	e.logger.Info(ctx, op+" changed ledger", map[string]interface{}{
		"added":   strings.Join(res.Added, ","),
		"removed": strings.Join(res.Removed, ","),
		"updated": strings.Join(res.Updated, ","),
	})
	return nil
}

// waitForFill polls the order until it reaches a terminal state or OrderWait elapses,
// then cancels it and queries once more. It returns the last state seen, which may be nil.
func (e *Engine) waitForFill(ctx context.Context, broker ports.Broker, handle domain.OrderHandle) *domain.OrderState {
	polls := int(e.cfg.OrderWait / e.cfg.OrderPoll)
	if polls < 1 {
		polls = 1
	}

	var last *domain.OrderState
	for i := 0; i < polls; i++ {
		st, err := broker.GetOrderState(ctx, handle)
		if err != nil {
			e.logger.Debug(ctx, "Order state query failed", map[string]interface{}{"orderID": handle.ID, "error": err.Error()})
		} else {
			last = st
			if st.Status.Terminal() {
				return st
			}
		}
		if e.sleep(ctx, e.cfg.OrderPoll) != nil {
			break
		}
	}

	// The order may still execute; resolve it even if the caller is going away.
	cctx := context.WithoutCancel(ctx)
	e.emit(cctx, domain.SeveritySystem, fmt.Sprintf("Order not filled in time, canceling: %s (%s)", handle.Symbol, handle.Side))
	if err := broker.CancelOrder(cctx, handle); err != nil {
		e.logger.Warn(cctx, "Order cancel failed", map[string]interface{}{"orderID": handle.ID, "error": err.Error()})
	}
	st, err := broker.GetOrderState(cctx, handle)
	if err != nil {
		e.logger.Warn(cctx, "Order state query after cancel failed", map[string]interface{}{"orderID": handle.ID, "error": err.Error()})
		return last
	}
	return st
}

func heldQuantity(ctx context.Context, broker ports.Broker, symbol string) (float64, error) {
	holdings, err := broker.GetHoldings(ctx)
	if err != nil {
		return 0, err
	}
	for _, h := range holdings {
		if h.Symbol == symbol {
			return h.Quantity, nil
		}
	}
	return 0, nil
}

func (e *Engine) release(symbol string) {
	e.mu.Lock()
	delete(e.inflight, symbol)
	e.mu.Unlock()
}

func (e *Engine) backoffBuy(symbol string) {
	e.mu.Lock()
	e.buyCooldown.Set(symbol, e.now().Add(e.cfg.BuyFailCooldown))
	e.mu.Unlock()
}

// syncCash records the broker's free cash after a fill. Paper cash is kept with the
// ledger so it survives restarts.
func (e *Engine) syncCash(ctx context.Context, mode domain.TradingMode, broker ports.Broker) {
	cash, err := broker.GetCashBalance(ctx)
	if err != nil {
		e.logger.Debug(ctx, "Cash refresh after fill failed", map[string]interface{}{"mode": mode, "error": err.Error()})
		return
	}
	e.mu.Lock()
	if mode == domain.ModePaper {
		e.ledgers[mode].SetCash(cash)
	}
	if e.mode == mode {
		e.balance = cash
	}
	open := e.ledgers[mode].Len()
	e.mu.Unlock()
	e.metrics.CashBalance.WithLabelValues(string(mode)).Set(cash)
	e.metrics.Positions.WithLabelValues(string(mode)).Set(float64(open))
}

func (e *Engine) recordTrade(ctx context.Context, t *domain.Trade) {
	if e.journal == nil {
		return
	}
	id, err := e.journal.RecordTrade(ctx, t)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to record trade", map[string]interface{}{"symbol": t.Symbol})
		return
	}
	e.logger.Debug(ctx, "Trade recorded", map[string]interface{}{"id": id, "symbol": t.Symbol})
}

// Package ledger holds the open positions of one trading mode and the bookkeeping around them.
//
// A Ledger is not safe for concurrent use; the engine guards it with its own lock.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

// Ledger is the authoritative in-memory record of open positions for one mode.
type Ledger struct {
	mode      domain.TradingMode
	positions map[string]*domain.Position
	reentry   map[string]domain.ReentryWatch
	cash      float64
}

// New creates an empty ledger for mode.
func New(mode domain.TradingMode) *Ledger {
	return &Ledger{
		mode:      mode,
		positions: make(map[string]*domain.Position),
		reentry:   make(map[string]domain.ReentryWatch),
	}
}

// Mode returns the trading mode the ledger belongs to.
func (l *Ledger) Mode() domain.TradingMode { return l.mode }

// Open records a new position. At most one position per symbol may exist.
func (l *Ledger) Open(p *domain.Position) error {
	if p == nil || p.Symbol == "" {
		return fmt.Errorf("open position: %w: missing symbol", ports.ErrInvalidRequest)
	}
	if p.EntryPrice <= 0 || p.Quantity <= 0 {
		return fmt.Errorf("open position %s: %w: entry price %v, quantity %v",
			p.Symbol, ports.ErrInvalidRequest, p.EntryPrice, p.Quantity)
	}
	if _, ok := l.positions[p.Symbol]; ok {
		return fmt.Errorf("open position %s: %w", p.Symbol, ports.ErrPositionExists)
	}
	c := p.Clone()
	if c.HighWater < c.EntryPrice {
		c.HighWater = c.EntryPrice
	}
	l.positions[c.Symbol] = c
	return nil
}

// Get returns a copy of the position for symbol.
func (l *Ledger) Get(symbol string) (*domain.Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Has reports whether symbol is held.
func (l *Ledger) Has(symbol string) bool {
	_, ok := l.positions[symbol]
	return ok
}

// Observe feeds a price to the position's high-water mark and returns the updated copy.
func (l *Ledger) Observe(symbol string, price float64) (*domain.Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return nil, false
	}
	p.ObservePrice(price)
	return p.Clone(), true
}

// Close removes the position for symbol and returns it.
func (l *Ledger) Close(symbol string) (*domain.Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return nil, false
	}
	delete(l.positions, symbol)
	return p, true
}

// Positions returns copies of all open positions ordered by symbol.
func (l *Ledger) Positions() []*domain.Position {
	out := make([]*domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of open positions.
func (l *Ledger) Len() int { return len(l.positions) }

// CountUnprotected returns the number of open positions that count against capacity.
func (l *Ledger) CountUnprotected() int {
	n := 0
	for _, p := range l.positions {
		if !p.Protected {
			n++
		}
	}
	return n
}

// MarkProtected refreshes the protected flag of every position.
func (l *Ledger) MarkProtected(isProtected func(symbol string) bool) {
	for sym, p := range l.positions {
		p.Protected = isProtected(sym)
	}
}

// Cash returns the paper cash recorded with the ledger.
func (l *Ledger) Cash() float64 { return l.cash }

// SetCash records the paper cash balance.
func (l *Ledger) SetCash(cash float64) { l.cash = cash }

// ReconcileResult lists what a reconciliation changed.
type ReconcileResult struct {
	Added   []string
	Removed []string
	Updated []string
}

// Changed reports whether the reconciliation altered the ledger.
func (r ReconcileResult) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0 || len(r.Updated) > 0
}

// Replace rebuilds the positions from broker holdings. Entry time and high-water mark are
// kept from the local record; an unknown cost basis falls back to the local entry price,
// then to priceOf. Positions the broker no longer reports are dropped. Running it twice
// with the same holdings leaves the ledger unchanged.
func (l *Ledger) Replace(holdings []domain.Holding, priceOf func(symbol string) float64, isProtected func(symbol string) bool, now time.Time) ReconcileResult {
	var res ReconcileResult
	next := make(map[string]*domain.Position, len(holdings))

	for _, h := range holdings {
		if h.Quantity <= 0 || h.Symbol == "" {
			continue
		}
		prev, known := l.positions[h.Symbol]

		avg := h.AvgCost
		if avg <= 0 && known {
			avg = prev.EntryPrice
		}
		if avg <= 0 && priceOf != nil {
			avg = priceOf(h.Symbol)
		}
		if avg <= 0 {
			continue
		}

		p := domain.NewPosition(h.Symbol, avg, h.Quantity, avg*h.Quantity, now, isProtected != nil && isProtected(h.Symbol))
		if known {
			p.EntryTime = prev.EntryTime
			p.Notional = prev.Notional
			if prev.HighWater > p.HighWater {
				p.HighWater = prev.HighWater
			}
			if prev.EntryPrice != p.EntryPrice || prev.Quantity != p.Quantity || prev.Protected != p.Protected {
				res.Updated = append(res.Updated, h.Symbol)
			}
		} else {
			res.Added = append(res.Added, h.Symbol)
		}
		next[h.Symbol] = p
	}

	for sym := range l.positions {
		if _, ok := next[sym]; !ok {
			res.Removed = append(res.Removed, sym)
		}
	}
	sort.Strings(res.Added)
	sort.Strings(res.Removed)
	sort.Strings(res.Updated)

	l.positions = next
	return res
}

// WatchReentry remembers a sold protected instrument for buy-back.
func (l *Ledger) WatchReentry(w domain.ReentryWatch) {
	l.reentry[w.Symbol] = w
}

// DropReentry forgets the buy-back watch of symbol.
func (l *Ledger) DropReentry(symbol string) {
	delete(l.reentry, symbol)
}

// Reentry returns the buy-back watches ordered by symbol.
func (l *Ledger) Reentry() []domain.ReentryWatch {
	out := make([]domain.ReentryWatch, 0, len(l.reentry))
	for _, w := range l.reentry {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Snapshot captures the ledger for persistence.
func (l *Ledger) Snapshot(now time.Time) *domain.LedgerSnapshot {
	return &domain.LedgerSnapshot{
		Mode:      l.mode,
		Positions: l.Positions(),
		Reentry:   l.Reentry(),
		Cash:      l.cash,
		SavedAt:   now,
	}
}

// Restore replaces the ledger contents with snap. Invalid or duplicate positions are
// skipped and returned by symbol.
func (l *Ledger) Restore(snap *domain.LedgerSnapshot) (skipped []string) {
	l.positions = make(map[string]*domain.Position)
	l.reentry = make(map[string]domain.ReentryWatch)
	l.cash = 0
	if snap == nil {
		return nil
	}
	for _, p := range snap.Positions {
		if err := l.Open(p); err != nil {
			sym := ""
			if p != nil {
				sym = p.Symbol
			}
			skipped = append(skipped, sym)
		}
	}
	for _, w := range snap.Reentry {
		if w.Symbol != "" {
			l.reentry[w.Symbol] = w
		}
	}
	l.cash = snap.Cash
	return skipped
}

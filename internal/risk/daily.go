package risk

import (
	"sync"
	"time"
)

// DailyGuard tracks the balance at the start of the local day and flags when the
// drawdown since then breaches the daily loss limit.
type DailyGuard struct {
	maxLossPct float64       // e.g., -3.0
	warnEvery  time.Duration // Min gap between warnings, e.g., 10m

	mu           sync.Mutex
	dayKey       string
	startBalance float64
	lastWarn     time.Time

	now func() time.Time
}

// DailyStats is a point-in-time view of the guard.
type DailyStats struct {
	Day          string
	StartBalance float64
	Balance      float64
	DrawdownPct  float64
}

// NewDailyGuard creates a guard. maxLossPct is negative, e.g. -3.0 for -3%.
func NewDailyGuard(maxLossPct float64, warnEvery time.Duration) *DailyGuard {
	return &DailyGuard{maxLossPct: maxLossPct, warnEvery: warnEvery, now: time.Now}
}

// Observe records the current balance. The first balance of each day becomes its start balance.
func (g *DailyGuard) Observe(balance float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(balance)
}

func (g *DailyGuard) rolloverLocked(balance float64) {
	today := g.now().Format("2006-01-02")
	if today != g.dayKey {
		g.dayKey = today
		g.startBalance = 0
	}
	if g.startBalance <= 0 && balance > 0 {
		g.startBalance = balance
	}
}

// StartBalance returns the balance recorded at the start of the day, or 0 if none yet.
func (g *DailyGuard) StartBalance() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.startBalance
}

// Check computes the drawdown since the day start. warn is true when the drawdown is at or
// below the limit and no warning was issued within warnEvery.
func (g *DailyGuard) Check(balance float64) (stats DailyStats, warn bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(balance)

	stats = DailyStats{Day: g.dayKey, StartBalance: g.startBalance, Balance: balance}
	if g.startBalance <= 0 {
		return stats, false
	}
	stats.DrawdownPct = (balance - g.startBalance) / g.startBalance * 100
	if stats.DrawdownPct > g.maxLossPct {
		return stats, false
	}
	now := g.now()
	if !g.lastWarn.IsZero() && now.Sub(g.lastWarn) < g.warnEvery {
		return stats, false
	}
	g.lastWarn = now
	return stats, true
}

// Reset forgets the day start, e.g. after a trading-mode switch.
func (g *DailyGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dayKey = ""
	g.startBalance = 0
	g.lastWarn = time.Time{}
}

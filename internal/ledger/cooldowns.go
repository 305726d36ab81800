package ledger

import "time"

// Cooldowns maps symbols to the time until which an action on them is suppressed.
// Like Ledger, it relies on the caller's lock.
type Cooldowns struct {
	until map[string]time.Time
}

// NewCooldowns creates an empty cooldown table.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{until: make(map[string]time.Time)}
}

// Set suppresses symbol until the given time.
func (c *Cooldowns) Set(symbol string, until time.Time) {
	c.until[symbol] = until
}

// Active reports whether symbol is still suppressed at now. Expired entries are pruned.
func (c *Cooldowns) Active(symbol string, now time.Time) bool {
	until, ok := c.until[symbol]
	if !ok {
		return false
	}
	if !now.Before(until) {
		delete(c.until, symbol)
		return false
	}
	return true
}

// Remaining returns how long symbol stays suppressed, or 0.
func (c *Cooldowns) Remaining(symbol string, now time.Time) time.Duration {
	if !c.Active(symbol, now) {
		return 0
	}
	return c.until[symbol].Sub(now)
}

// Clear lifts the cooldown of symbol.
func (c *Cooldowns) Clear(symbol string) {
	delete(c.until, symbol)
}

// Snapshot returns the entries still active at now, for status display.
func (c *Cooldowns) Snapshot(now time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(c.until))
	for sym, until := range c.until {
		if now.Before(until) {
			out[sym] = until
		}
	}
	return out
}

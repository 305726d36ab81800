// Package exitconfirm debounces exit signals: an exit fires only after a reason has been
// seen on enough consecutive ticks.
package exitconfirm

import (
	"sync"
	"time"
)

// Key names the exit rule being confirmed.
type Key string

const (
	KeyStopLoss   Key = "sl"
	KeyDrop       Key = "drop"
	KeyTrailingTP Key = "tpdrop"
)

// DefaultThreshold applies to keys without a configured threshold.
const DefaultThreshold = 2

// Config holds the record TTL and the per-key thresholds.
type Config struct {
	TTL        time.Duration
	Thresholds map[Key]int
}

// DefaultConfig returns the thresholds the engine runs with.
func DefaultConfig() Config {
	return Config{
		TTL: 12 * time.Second,
		Thresholds: map[Key]int{
			KeyStopLoss:   3,
			KeyDrop:       3,
			KeyTrailingTP: 2,
		},
	}
}

type record struct {
	counts    map[Key]int
	lastTouch time.Time
}

// Confirmer keeps one record per symbol. It is safe for concurrent use.
type Confirmer struct {
	cfg Config

	mu      sync.Mutex
	records map[string]*record

	now func() time.Time
}

// New creates a Confirmer.
func New(cfg Config) *Confirmer {
	return &Confirmer{
		cfg:     cfg,
		records: make(map[string]*record),
		now:     time.Now,
	}
}

func (c *Confirmer) threshold(key Key) int {
	if n, ok := c.cfg.Thresholds[key]; ok && n > 0 {
		return n
	}
	return DefaultThreshold
}

// Confirm counts one confirming tick for key and reports whether its threshold is reached.
// A record untouched for longer than TTL starts over.
func (c *Confirmer) Confirm(symbol string, key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	r, ok := c.records[symbol]
	if !ok || now.Sub(r.lastTouch) > c.cfg.TTL {
		r = &record{counts: make(map[Key]int)}
		c.records[symbol] = r
	}
	r.lastTouch = now
	r.counts[key]++
	return r.counts[key] >= c.threshold(key)
}

// Reset zeroes the counter of one key, leaving the others.
func (c *Confirmer) Reset(symbol string, key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.records[symbol]; ok {
		r.counts[key] = 0
		r.lastTouch = c.now()
	}
}

// Clear drops the whole record of symbol.
func (c *Confirmer) Clear(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, symbol)
}

// Count returns the current counter of key, for status display.
func (c *Confirmer) Count(symbol string, key Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.records[symbol]; ok {
		return r.counts[key]
	}
	return 0
}

package domain

import "time"

// Position represents an open holding in one instrument.
type Position struct {
	Symbol     string    `json:"symbol"`      // Instrument id (e.g., "ETHUSDT", "AAPL")
	EntryPrice float64   `json:"entry_price"` // Average entry price
	Quantity   float64   `json:"quantity"`    // Base units held; 0 until the broker confirms it
	Notional   float64   `json:"notional"`    // Quote amount committed at entry
	EntryTime  time.Time `json:"entry_time"`
	HighWater  float64   `json:"high_water"` // Highest price observed while open
	Protected  bool      `json:"protected"`
}

// NewPosition creates a position with the high-water mark at the entry price.
func NewPosition(symbol string, entryPrice, quantity, notional float64, entryTime time.Time, protected bool) *Position {
	return &Position{
		Symbol:     symbol,
		EntryPrice: entryPrice,
		Quantity:   quantity,
		Notional:   notional,
		EntryTime:  entryTime,
		HighWater:  entryPrice,
		Protected:  protected,
	}
}

// ObservePrice raises the high-water mark if price exceeds it. It never lowers it.
func (p *Position) ObservePrice(price float64) {
	if price > p.HighWater {
		p.HighWater = price
	}
}

// ProfitPct returns the unrealized return in percent at price.
func (p *Position) ProfitPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// DrawdownPct returns the decline from the high-water mark in percent (<= 0 when below the high).
func (p *Position) DrawdownPct(price float64) float64 {
	if p.HighWater <= 0 {
		return 0
	}
	return (price - p.HighWater) / p.HighWater * 100
}

// Held returns how long the position has been open at now.
func (p *Position) Held(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// Clone returns a copy safe to hand out of the ledger.
func (p *Position) Clone() *Position {
	c := *p
	return &c
}

// Holding is a broker-reported balance of one instrument.
type Holding struct {
	Symbol   string
	Quantity float64
	AvgCost  float64 // 0 when the broker does not report cost basis
}

// ReentryWatch remembers a protected instrument that was sold, so it can be bought back.
type ReentryWatch struct {
	Symbol   string    `json:"symbol"`
	Price    float64   `json:"price"`
	SoldAt   time.Time `json:"sold_at"`
	Quantity float64   `json:"quantity"`
}

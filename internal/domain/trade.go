package domain

import "time"

// Trade represents a completed round trip, written to the trade journal.
type Trade struct {
	ID          int64       // Unique identifier (usually from DB)
	Symbol      string      // Instrument id
	Mode        TradingMode // paper or live
	EntryPrice  float64     // Price at which the position was entered
	ExitPrice   float64     // Volume-weighted fill price of the sell
	Quantity    float64     // Size sold
	PNL         float64     // (exit-entry)*quantity
	PNLPercent  float64     // Return in percent
	EntryTime   time.Time
	ExitTime    time.Time
	CloseReason CloseReason
}

package domain

import "time"

// Kline represents a single candlestick data point.
type Kline struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Kline interval (e.g., "3m", "15m")
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Trading volume
}

// UpperWickRatio is the share of the candle's range above its body.
// Returns 0 for a zero-range candle.
func (k *Kline) UpperWickRatio() float64 {
	rng := k.High - k.Low
	if rng <= 0 {
		return 0
	}
	top := k.Open
	if k.Close > top {
		top = k.Close
	}
	return (k.High - top) / rng
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook holds the best levels of both sides, best first.
type OrderBook struct {
	Symbol string
	Bids   []BookLevel
	Asks   []BookLevel
}

// Spread returns (ask-bid)/mid of the top of book, and false when either side is empty.
func (b *OrderBook) Spread() (float64, bool) {
	if b == nil || len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, false
	}
	bid, ask := b.Bids[0].Price, b.Asks[0].Price
	if bid <= 0 || ask <= 0 {
		return 0, false
	}
	return (ask - bid) / ((ask + bid) / 2), true
}

// Depth sums the notional of the first n levels on both sides.
func (b *OrderBook) Depth(n int) float64 {
	if b == nil {
		return 0
	}
	total := 0.0
	for i := 0; i < n && i < len(b.Bids); i++ {
		total += b.Bids[i].Price * b.Bids[i].Quantity
	}
	for i := 0; i < n && i < len(b.Asks); i++ {
		total += b.Asks[i].Price * b.Asks[i].Quantity
	}
	return total
}

// MarketTrade is one print from the public trade tape.
type MarketTrade struct {
	Price    float64
	Quantity float64
	Time     time.Time
}

// Notional returns price times quantity.
func (t MarketTrade) Notional() float64 {
	return t.Price * t.Quantity
}

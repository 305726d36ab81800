package domain

// Indicators is the per-instrument technical snapshot used for entry decisions.
type Indicators struct {
	Symbol string
	RSI    float64
	MA20   float64
	MA5    float64
	Price  float64 // Last close
	Open   float64 // Open of the last candle
	Pump   bool    // Volume breakout on a clean green candle
}

// AboveTrend reports whether price sits above the 20-period average.
func (i Indicators) AboveTrend() bool {
	return i.MA20 > 0 && i.Price > i.MA20
}

// Ticker24h is the rolling 24h summary of one instrument.
type Ticker24h struct {
	Symbol      string
	Price       float64
	ChangePct   float64 // Signed, in percent
	QuoteVolume float64
}

package domain

import "time"

// LedgerSnapshot is the durable record of one mode's ledger.
type LedgerSnapshot struct {
	Mode      TradingMode    `json:"mode"`
	Positions []*Position    `json:"positions"`
	Reentry   []ReentryWatch `json:"reentry"`
	Cash      float64        `json:"cash"` // Paper cash; informational in live mode
	SavedAt   time.Time      `json:"saved_at"`
}

// Settings is the durable operator configuration: instrument lists, hold limit and regime.
type Settings struct {
	Blacklist      []string `json:"black_list"`
	StopList       []string `json:"stop_tickers"`
	Protected      []string `json:"protect_tickers"`
	MaxHoldMinutes int      `json:"max_hold_minutes"`
	Regime         Regime   `json:"regime,omitempty"`
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	c := s
	c.Blacklist = append([]string(nil), s.Blacklist...)
	c.StopList = append([]string(nil), s.StopList...)
	c.Protected = append([]string(nil), s.Protected...)
	return c
}

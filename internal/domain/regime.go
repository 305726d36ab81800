package domain

import "time"

// Regime is the classified overall market trend.
type Regime string

const (
	RegimeBull     Regime = "BULL"
	RegimeBear     Regime = "BEAR"
	RegimeSideways Regime = "SIDEWAYS"
)

// Valid reports whether r is one of the known regimes.
func (r Regime) Valid() bool {
	switch r {
	case RegimeBull, RegimeBear, RegimeSideways:
		return true
	}
	return false
}

// RegimeParams are the trading parameters tied to a regime. They are replaced as a group.
type RegimeParams struct {
	TargetProfitPct  float64       `json:"target_profit_pct"`   // e.g. 1.5 for +1.5%
	StopLossPct      float64       `json:"stop_loss_pct"`       // e.g. -3.0 for -3%
	RSIThreshold     float64       `json:"rsi_threshold"`       // Entry RSI ceiling
	MaxHold          time.Duration `json:"max_hold"`            // Time exit applies after this
	MinHoldProfitPct float64       `json:"min_hold_profit_pct"` // Time exit applies below this profit
}

// ParamsFor returns the parameter profile of a regime.
func ParamsFor(r Regime) RegimeParams {
	switch r {
	case RegimeBull:
		return RegimeParams{TargetProfitPct: 2.0, StopLossPct: -3.0, RSIThreshold: 60, MaxHold: 90 * time.Minute, MinHoldProfitPct: 0.6}
	case RegimeBear:
		return RegimeParams{TargetProfitPct: 1.0, StopLossPct: -2.0, RSIThreshold: 30, MaxHold: 45 * time.Minute, MinHoldProfitPct: 0.3}
	default:
		return RegimeParams{TargetProfitPct: 1.5, StopLossPct: -3.0, RSIThreshold: 50, MaxHold: 60 * time.Minute, MinHoldProfitPct: 0.9}
	}
}

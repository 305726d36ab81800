package domain

import (
	"strings"
	"time"
)

// RiskReason is one signal that marks an instrument as unsafe to enter.
type RiskReason string

const (
	RiskSpread RiskReason = "SPREAD"
	RiskDepth  RiskReason = "DEPTH"
	RiskWhale  RiskReason = "WHALE"
	RiskWick   RiskReason = "WICK"

	// Data-unavailable class, one per failing source.
	RiskOrderBookUnavailable RiskReason = "OB_FAIL"
	RiskTradesUnavailable    RiskReason = "TRADES_FAIL"
	RiskCandlesUnavailable   RiskReason = "OHLCV_FAIL"
)

// DataUnavailable reports whether the reason comes from a failed data source.
func (r RiskReason) DataUnavailable() bool {
	switch r {
	case RiskOrderBookUnavailable, RiskTradesUnavailable, RiskCandlesUnavailable:
		return true
	}
	return false
}

// RiskAssessment is the verdict of the risk classifier for one instrument.
type RiskAssessment struct {
	Symbol    string
	Risky     bool
	Reasons   []RiskReason
	CheckedAt time.Time
}

// Has reports whether reason is among the assessment's reasons.
func (a RiskAssessment) Has(reason RiskReason) bool {
	for _, r := range a.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// Summary renders the reasons as "SPREAD,WHALE", or "OK" when there are none.
func (a RiskAssessment) Summary() string {
	if len(a.Reasons) == 0 {
		return "OK"
	}
	parts := make([]string, len(a.Reasons))
	for i, r := range a.Reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

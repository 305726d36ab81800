package app

import (
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/exitconfirm"
)

// ExitRules are the drawdown floors that do not change with the regime. All are
// percentages below the high-water mark, e.g. -2.5.
type ExitRules struct {
	TrailingAfterTPDrop float64
	TrailingGeneralDrop float64
	ProtectStopLoss     float64
}

// exitDecision is the outcome of one position's rule evaluation on one tick.
// When Confirm is set the exit fires only once the confirmer agrees; Reset lists the
// debounce keys whose condition did not hold this tick.
type exitDecision struct {
	Reason    domain.CloseReason
	Immediate bool
	Confirm   exitconfirm.Key
	Reset     []exitconfirm.Key
	ProfitPct float64
	DropPct   float64
}

// Fires reports whether the decision names an exit, confirmed or not.
func (d exitDecision) Fires() bool {
	return d.Immediate || d.Confirm != ""
}

// evaluateExit applies the exit rules in priority order: protect stop, hold limit,
// trailing take-profit, stop-loss, trailing drop. The first matching rule wins.
// p must already have observed price.
func evaluateExit(p *domain.Position, price float64, now time.Time, params domain.RegimeParams, rules ExitRules) exitDecision {
	d := exitDecision{ProfitPct: p.ProfitPct(price), DropPct: p.DrawdownPct(price)}

	if p.Protected {
		if d.DropPct <= rules.ProtectStopLoss {
			d.Reason, d.Immediate = domain.CloseReasonProtectStop, true
		}
		return d
	}

	if params.MaxHold > 0 && p.Held(now) >= params.MaxHold && d.ProfitPct < params.MinHoldProfitPct {
		d.Reason, d.Immediate = domain.CloseReasonTimeLimit, true
		return d
	}

	if d.ProfitPct >= params.TargetProfitPct {
		if d.DropPct <= rules.TrailingAfterTPDrop {
			d.Reason, d.Confirm = domain.CloseReasonTakeProfit, exitconfirm.KeyTrailingTP
		} else {
			d.Reset = append(d.Reset, exitconfirm.KeyTrailingTP)
		}
		return d
	}

	if d.ProfitPct <= params.StopLossPct {
		d.Reason, d.Confirm = domain.CloseReasonStopLoss, exitconfirm.KeyStopLoss
		return d
	}
	d.Reset = append(d.Reset, exitconfirm.KeyStopLoss)

	if d.DropPct <= rules.TrailingGeneralDrop {
		d.Reason, d.Confirm = domain.CloseReasonTrailingDrop, exitconfirm.KeyDrop
		return d
	}
	d.Reset = append(d.Reset, exitconfirm.KeyDrop)
	return d
}

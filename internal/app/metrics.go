package app

import (
	"autoTrader/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's Prometheus series:
//
//	autotrader_ticks_total                 - control loop iterations
//	autotrader_tick_errors_total           - iterations that failed or panicked
//	autotrader_orders_total{side,outcome}  - outcome: filled|not_filled|rejected
//	autotrader_order_wait_seconds{side}    - submit to terminal state
//	autotrader_exits_total{reason}
//	autotrader_risk_vetoes_total{reason}
//	autotrader_open_positions{mode}
//	autotrader_cash_balance{mode}
//	autotrader_regime{regime}              - 1 for the active regime, 0 otherwise
type Metrics struct {
	Ticks       prometheus.Counter
	TickErrors  prometheus.Counter
	Orders      *prometheus.CounterVec
	OrderWait   *prometheus.HistogramVec
	Exits       *prometheus.CounterVec
	RiskVetoes  *prometheus.CounterVec
	Positions   *prometheus.GaugeVec
	CashBalance *prometheus.GaugeVec
	Regime      *prometheus.GaugeVec
}

// NewMetrics creates the series and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_ticks_total",
			Help: "Control loop iterations",
		}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_tick_errors_total",
			Help: "Control loop iterations that failed",
		}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_orders_total",
			Help: "Market orders by side and outcome",
		}, []string{"side", "outcome"}),
		OrderWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autotrader_order_wait_seconds",
			Help:    "Time from submission to a terminal order state",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"side"}),
		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_exits_total",
			Help: "Confirmed exits by close reason",
		}, []string{"reason"}),
		RiskVetoes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_risk_vetoes_total",
			Help: "Entries vetoed by the risk classifier, per reason",
		}, []string{"reason"}),
		Positions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autotrader_open_positions",
			Help: "Open positions in the ledger",
		}, []string{"mode"}),
		CashBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autotrader_cash_balance",
			Help: "Free quote balance",
		}, []string{"mode"}),
		Regime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autotrader_regime",
			Help: "Active market regime (1) per regime label",
		}, []string{"regime"}),
	}
	if reg != nil {
		reg.MustRegister(m.Ticks, m.TickErrors, m.Orders, m.OrderWait, m.Exits, m.RiskVetoes, m.Positions, m.CashBalance, m.Regime)
	}
	return m
}

func (m *Metrics) setRegime(active domain.Regime) {
	for _, r := range []domain.Regime{domain.RegimeBull, domain.RegimeBear, domain.RegimeSideways} {
		v := 0.0
		if r == active {
			v = 1
		}
		m.Regime.WithLabelValues(string(r)).Set(v)
	}
}

package analytics

import (
	"fmt"
	"sort"
	"time"

	"autoTrader/internal/domain"
)

// PerformanceMetrics summarizes the closed trades of a reporting window
type PerformanceMetrics struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // 0..1
	TotalProfit   float64
	ProfitFactor  float64 // Gross profit over gross loss; 0 without losses
	AverageWin    float64
	AverageLoss   float64 // Negative or 0
	BestTradePct  float64
	WorstTradePct float64
	MaxDrawdown   float64 // Deepest peak-to-trough of cumulative PNL, as a fraction of peak equity

	MaxConsecutiveLosses int
	AverageHold          time.Duration
	ByReason             map[domain.CloseReason]int
}

// AnalyzePerformance computes metrics over trades ordered by exit time. startBalance seeds the
// equity curve for the drawdown calculation.
func AnalyzePerformance(trades []*domain.Trade, startBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{ByReason: make(map[domain.CloseReason]int)}
	if len(trades) == 0 {
		return metrics
	}

	ordered := make([]*domain.Trade, len(trades))
	copy(ordered, trades)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ExitTime.Before(ordered[j].ExitTime)
	})

	var grossProfit, grossLoss float64
	var consecutiveLosses int
	var totalHold time.Duration
	equity := startBalance
	peak := startBalance

	for i, trade := range ordered {
		metrics.TotalTrades++
		metrics.ByReason[trade.CloseReason]++
		totalHold += trade.ExitTime.Sub(trade.EntryTime)

		if trade.PNL > 0 {
			metrics.WinningTrades++
			grossProfit += trade.PNL
			consecutiveLosses = 0
		} else {
			metrics.LosingTrades++
			grossLoss -= trade.PNL
			consecutiveLosses++
			if consecutiveLosses > metrics.MaxConsecutiveLosses {
				metrics.MaxConsecutiveLosses = consecutiveLosses
			}
		}

		if i == 0 || trade.PNLPercent > metrics.BestTradePct {
			metrics.BestTradePct = trade.PNLPercent
		}
		if i == 0 || trade.PNLPercent < metrics.WorstTradePct {
			metrics.WorstTradePct = trade.PNLPercent
		}

		equity += trade.PNL
		metrics.TotalProfit += trade.PNL
		if equity > peak {
			peak = equity
		} else if peak > 0 {
			if dd := (peak - equity) / peak; dd > metrics.MaxDrawdown {
				metrics.MaxDrawdown = dd
			}
		}
	}

	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = grossProfit / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = -grossLoss / float64(metrics.LosingTrades)
	}
	if grossLoss > 0 {
		metrics.ProfitFactor = grossProfit / grossLoss
	}
	metrics.AverageHold = totalHold / time.Duration(metrics.TotalTrades)
	return metrics
}

// String renders the metrics as one report line.
func (m *PerformanceMetrics) String() string {
	if m.TotalTrades == 0 {
		return "no closed trades"
	}
	return fmt.Sprintf("trades %d (W%d/L%d, %.0f%%), pnl %.2f, pf %.2f, best %.2f%%, worst %.2f%%, avg hold %s",
		m.TotalTrades, m.WinningTrades, m.LosingTrades, m.WinRate*100, m.TotalProfit, m.ProfitFactor,
		m.BestTradePct, m.WorstTradePct, m.AverageHold.Round(time.Minute))
}

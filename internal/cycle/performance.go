package cycle

import (
	"time"

	"edgetrader/internal/model"
)

// maxEquityPoints 权益曲线保留的点数
const maxEquityPoints = 2000

// applyTrade 一笔已实现盈亏计入绩效
func applyTrade(st *model.CycleState, pnl float64, now time.Time) {
	perf := &st.Performance
	perf.Trades++
	perf.RealizedPnL += pnl
	switch {
	case pnl > 0:
		perf.Wins++
		perf.WinStreak++
		perf.LossStreak = 0
		if perf.WinStreak > perf.MaxWinStreak {
			perf.MaxWinStreak = perf.WinStreak
		}
	case pnl < 0:
		perf.Losses++
		perf.LossStreak++
		perf.WinStreak = 0
		if perf.LossStreak > perf.MaxLossStreak {
			perf.MaxLossStreak = perf.LossStreak
		}
	}
	if perf.Trades > 0 {
		perf.WinRate = float64(perf.Wins) / float64(perf.Trades)
	}
	markEquity(st, perf.Equity+pnl, now)
}

// rebaseDrawdown 峰值重置为当前权益，历史最大回撤保留
func rebaseDrawdown(perf *model.Performance) {
	perf.PeakEquity = perf.Equity
	perf.CurrentDrawdownPct = 0
}

// markEquity 更新权益、峰值与回撤
func markEquity(st *model.CycleState, equity float64, now time.Time) {
	perf := &st.Performance
	perf.Equity = equity
	if equity > perf.PeakEquity {
		perf.PeakEquity = equity
	}
	perf.CurrentDrawdownPct = 0
	if perf.PeakEquity > 0 {
		perf.CurrentDrawdownPct = (perf.PeakEquity - equity) / perf.PeakEquity * 100
	}
	if perf.CurrentDrawdownPct > perf.MaxDrawdownPct {
		perf.MaxDrawdownPct = perf.CurrentDrawdownPct
	}
	if st.InitialEquity > 0 {
		perf.TotalReturnPct = (equity - st.InitialEquity) / st.InitialEquity * 100
	}
	n := len(perf.EquityCurve)
	if n > 0 && perf.EquityCurve[n-1].Equity == equity {
		return
	}
	perf.EquityCurve = append(perf.EquityCurve, model.EquityPoint{Time: now, Equity: equity})
	if len(perf.EquityCurve) > maxEquityPoints {
		perf.EquityCurve = append([]model.EquityPoint(nil), perf.EquityCurve[len(perf.EquityCurve)-maxEquityPoints:]...)
	}
}

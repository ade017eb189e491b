package model

import "time"

// ExitReason 平仓原因
type ExitReason string

const (
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitTakeProfit     ExitReason = "TAKE_PROFIT"
	ExitTrailingStop   ExitReason = "TRAILING_STOP"
	ExitSignalReversal ExitReason = "SIGNAL_REVERSAL"
	ExitRankingDrop    ExitReason = "RANKING_DROP"
	ExitIndicatorBased ExitReason = "INDICATOR_BASED"

	// 对账时发现交易所已无此仓位
	ExitExternalClose ExitReason = "EXTERNAL_CLOSE"
	// 信号主动平仓/减仓
	ExitSignalClose ExitReason = "SIGNAL_CLOSE"
)

// Priority 数字越小越优先
func (r ExitReason) Priority() int {
	switch r {
	case ExitStopLoss:
		return 1
	case ExitTakeProfit:
		return 2
	case ExitTrailingStop:
		return 3
	case ExitSignalReversal:
		return 4
	case ExitRankingDrop, ExitIndicatorBased:
		return 5
	}
	return 9
}

// ExitCondition 单条退出规则的评估结果
type ExitCondition struct {
	Reason      ExitReason `json:"reason"`
	Priority    int        `json:"priority"`
	ShouldExit  bool       `json:"shouldExit"`
	ExitSize    float64    `json:"exitSize"` // 百分比 1-100
	ExitPrice   float64    `json:"exitPrice"`
	Timestamp   time.Time  `json:"timestamp"`
	Description string     `json:"description"`
}

// Full 是否全部平仓
func (c ExitCondition) Full() bool {
	return c.ExitSize >= 100
}

package signal

import (
	"time"

	"edgetrader/internal/gate"
	"edgetrader/internal/model"
	"edgetrader/internal/quality"
)

// Signal 每轮重新生成的交易信号，生成后不可修改，不持久化。
// 置信度与期望收益只能由 Proposer 计算得出
type Signal struct {
	Asset  string       `json:"asset"`
	Action model.Action `json:"action"`
	// Side add/reduce/close_all 针对的持仓方向
	Side model.Side `json:"side,omitempty"`

	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`

	confidence    float64
	expectedValue float64

	Invalidation  string   `json:"invalidation"`
	Justification string   `json:"justification"`
	Warnings      []string `json:"warnings"`

	Quality     quality.Result `json:"quality"`
	Decision    gate.Decision  `json:"decision"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

func newSignal(asset string, action model.Action, side model.Side, entry, stop, target float64) Signal {
	s := Signal{Asset: asset, Action: action, Side: side}
	// hold/close_all/reduce 不带价格
	if action.Directional() {
		s.Entry, s.StopLoss, s.TakeProfit = entry, stop, target
	}
	return s
}

func (s Signal) Confidence() float64 { return s.confidence }

func (s Signal) ExpectedValue() float64 { return s.expectedValue }

func (s Signal) Tier() gate.Tier { return s.Decision.Tier }

// Direction 1 看多，-1 看空，0 无方向
func (s Signal) Direction() int { return s.Action.Direction(s.Side) }

// Levels 交给 EV 闸门的价格要素
func (s Signal) Levels(leverage float64) gate.Levels {
	return gate.Levels{
		Action:     s.Action,
		Entry:      s.Entry,
		StopLoss:   s.StopLoss,
		TakeProfit: s.TakeProfit,
		Leverage:   leverage,
	}
}

// Summary 报告与日志使用的扁平视图
type Summary struct {
	Asset         string       `json:"asset"`
	Action        model.Action `json:"action"`
	Side          model.Side   `json:"side,omitempty"`
	Entry         float64      `json:"entry,omitempty"`
	StopLoss      float64      `json:"stopLoss,omitempty"`
	TakeProfit    float64      `json:"takeProfit,omitempty"`
	Confidence    float64      `json:"confidence"`
	ExpectedValue float64      `json:"expectedValue"`
	Tier          gate.Tier    `json:"tier"`
	Severity      string       `json:"severity"`
	Reason        string       `json:"reason"`
	Justification string       `json:"justification"`
	Warnings      []string     `json:"warnings,omitempty"`
}

func (s Signal) Summary() Summary {
	return Summary{
		Asset:         s.Asset,
		Action:        s.Action,
		Side:          s.Side,
		Entry:         s.Entry,
		StopLoss:      s.StopLoss,
		TakeProfit:    s.TakeProfit,
		Confidence:    s.confidence,
		ExpectedValue: s.expectedValue,
		Tier:          s.Decision.Tier,
		Severity:      s.Quality.ConflictSeverity.String(),
		Reason:        s.Decision.Reason,
		Justification: s.Justification,
		Warnings:      s.Warnings,
	}
}

package gate

import (
	"fmt"
	"math"

	"edgetrader/conf"
	"edgetrader/internal/model"
	"edgetrader/internal/quality"
)

type Tier string

const (
	AutoTrade   Tier = "AUTO_TRADE"
	DisplayOnly Tier = "DISPLAY_ONLY"
	Rejected    Tier = "REJECTED"
)

// rank 用于比较档位高低
func (t Tier) rank() int {
	switch t {
	case AutoTrade:
		return 2
	case DisplayOnly:
		return 1
	}
	return 0
}

// AtLeast t 是否不低于 other
func (t Tier) AtLeast(other Tier) bool {
	return t.rank() >= other.rank()
}

// Levels 信号的价格要素
type Levels struct {
	Action     model.Action
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Leverage   float64
}

type Decision struct {
	ExpectedValue float64 `json:"expectedValue"`
	Tier          Tier    `json:"tier"`
	Reason        string  `json:"reason"`
	// Marginal EV 介于 reject 与 display 之间
	Marginal bool    `json:"marginal"`
	AvgWin   float64 `json:"avgWin"`
	AvgLoss  float64 `json:"avgLoss"`
	WinProb  float64 `json:"winProb"`
	Fees     float64 `json:"fees"`
}

type Gate struct {
	thresholds conf.ThresholdConfig
	feeRate    float64
	mode       string
}

// New 按执行模式取对应阈值
func New(cfg conf.GateConfig, executionMode string) *Gate {
	return &Gate{
		thresholds: cfg.Thresholds[executionMode],
		feeRate:    cfg.FeeRate,
		mode:       executionMode,
	}
}

func (g *Gate) Mode() string { return g.mode }

func rejected(reason string) Decision {
	return Decision{Tier: Rejected, Reason: reason}
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Classify 计算期望收益并分档
func (g *Gate) Classify(lv Levels, q quality.Result, capital float64) Decision {
	if !lv.Action.Directional() {
		return rejected(fmt.Sprintf("action %s carries no entry levels", lv.Action))
	}
	if !finite(lv.Entry, lv.StopLoss, lv.TakeProfit, capital, q.AdjustedConfidence) {
		return rejected("insufficient data: non-finite price or confidence")
	}
	if lv.Entry <= 0 || lv.StopLoss <= 0 || lv.TakeProfit <= 0 {
		return rejected("insufficient data: missing entry, stop or target")
	}
	if capital <= 0 {
		return rejected("no capital allocated")
	}
	leverage := lv.Leverage
	if leverage <= 0 || !finite(leverage) {
		leverage = 1
	}

	long := lv.TakeProfit > lv.Entry
	if long && !(lv.StopLoss < lv.Entry) {
		return rejected("inconsistent levels: stop must sit below entry for a long")
	}
	if !long && !(lv.TakeProfit < lv.Entry && lv.StopLoss > lv.Entry) {
		return rejected("inconsistent levels: target/stop on the wrong side of entry")
	}

	notional := capital * leverage
	pWin := q.AdjustedConfidence
	d := Decision{
		WinProb: pWin,
		AvgWin:  notional * math.Abs(lv.TakeProfit-lv.Entry) / lv.Entry,
		AvgLoss: notional * math.Abs(lv.Entry-lv.StopLoss) / lv.Entry,
		Fees:    notional * g.feeRate * 2,
	}
	d.ExpectedValue = pWin*d.AvgWin - (1-pWin)*d.AvgLoss - d.Fees

	th := g.thresholds
	switch {
	case d.ExpectedValue < th.Reject:
		d.Tier = Rejected
		d.Reason = fmt.Sprintf("expected value %.2f below reject threshold %.2f", d.ExpectedValue, th.Reject)
	case d.ExpectedValue < th.AutoTrade:
		d.Tier = DisplayOnly
		d.Marginal = d.ExpectedValue < th.Display
		d.Reason = fmt.Sprintf("expected value %.2f below auto-trade threshold %.2f", d.ExpectedValue, th.AutoTrade)
		if d.Marginal {
			d.Reason = fmt.Sprintf("marginal: expected value %.2f below display threshold %.2f", d.ExpectedValue, th.Display)
		}
	default:
		d.Tier = AutoTrade
		d.Reason = fmt.Sprintf("expected value %.2f clears auto-trade threshold %.2f", d.ExpectedValue, th.AutoTrade)
	}
	return d
}

package exit

import (
	"fmt"
	"math"
	"sort"
	"time"

	"edgetrader/conf"
	"edgetrader/internal/indicator"
	"edgetrader/internal/model"
)

// Reversal 本轮新信号的摘要，用于判断反转
type Reversal struct {
	// Direction 1 看多，-1 看空
	Direction  int
	Confidence float64
	Rejected   bool
}

type Inputs struct {
	Price    float64
	At       time.Time
	Snapshot *indicator.Snapshot
	Reversal *Reversal
	// InTopN nil 表示排名未知
	InTopN *bool
}

// PositionUpdate 跟踪类字段的新值，由调用方写回持仓
type PositionUpdate struct {
	HighestPrice   float64
	LowestPrice    float64
	TrailingStop   *float64
	TrailingActive bool
}

// Apply 写回跟踪字段
func (u PositionUpdate) Apply(p *model.Position) {
	p.HighestPrice = u.HighestPrice
	p.LowestPrice = u.LowestPrice
	p.TrailingActive = u.TrailingActive
	if u.TrailingStop != nil {
		v := *u.TrailingStop
		p.TrailingStop = &v
	}
}

type Evaluation struct {
	Conditions []model.ExitCondition
	Fired      []model.ExitCondition
	Governing  *model.ExitCondition
	Update     PositionUpdate
	// levels 本轮新触达的止盈档位
	levels       []int
	Insufficient bool
	Reason       string
}

// Consume 平仓成交后标记只触发一次的规则
func (e Evaluation) Consume(p *model.Position) {
	if e.Governing == nil {
		return
	}
	switch e.Governing.Reason {
	case model.ExitTakeProfit:
		for _, idx := range e.levels {
			if !p.HasTakeProfitHit(idx) {
				p.TakeProfitHits = append(p.TakeProfitHits, idx)
			}
		}
	case model.ExitRankingDrop:
		p.RankingTrimmed = true
	case model.ExitIndicatorBased:
		p.IndicatorTrimmed = true
	}
}

// ExitSize 本轮所有触发条件中最大的平仓比例，低优先级的全平不会被部分止盈截断
func (e Evaluation) ExitSize() float64 {
	var size float64
	for _, c := range e.Fired {
		size = math.Max(size, c.ExitSize)
	}
	return math.Min(size, 100)
}

type Evaluator struct {
	cfg conf.ExitConfig
}

func NewEvaluator(cfg conf.ExitConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Evaluate 对持仓逐条评估退出规则，不修改 pos
func (e *Evaluator) Evaluate(pos model.Position, in Inputs) Evaluation {
	switch {
	case !finite(in.Price) || in.Price <= 0:
		return Evaluation{Insufficient: true, Reason: "insufficient data: no valid price"}
	case !finite(pos.EntryPrice) || pos.EntryPrice <= 0:
		return Evaluation{Insufficient: true, Reason: "insufficient data: entry price not positive"}
	case !finite(pos.Quantity) || pos.Quantity <= 0:
		return Evaluation{Insufficient: true, Reason: "insufficient data: quantity not positive"}
	}
	at := in.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tracked := pos.Clone()
	tracked.Observe(in.Price)

	var ev Evaluation
	ev.Update = e.trail(tracked)

	tp, levels := e.takeProfit(pos, in.Price, at)
	ev.levels = levels
	ev.Conditions = []model.ExitCondition{
		e.stopLoss(pos, in.Price, at),
		tp,
		e.trailingStop(pos, ev.Update, in.Price, at),
		e.reversal(pos, in, at),
		e.rankingDrop(pos, in, at),
		e.indicatorBased(pos, in, at),
	}

	for _, c := range ev.Conditions {
		if c.ShouldExit {
			ev.Fired = append(ev.Fired, c)
		}
	}
	sort.SliceStable(ev.Fired, func(i, j int) bool {
		if ev.Fired[i].Priority != ev.Fired[j].Priority {
			return ev.Fired[i].Priority < ev.Fired[j].Priority
		}
		return ev.Fired[i].ExitSize > ev.Fired[j].ExitSize
	})
	if len(ev.Fired) > 0 {
		g := ev.Fired[0]
		ev.Governing = &g
	}
	return ev
}

func condition(reason model.ExitReason, at time.Time) model.ExitCondition {
	return model.ExitCondition{Reason: reason, Priority: reason.Priority(), Timestamp: at}
}

func (e *Evaluator) stopLoss(pos model.Position, price float64, at time.Time) model.ExitCondition {
	c := condition(model.ExitStopLoss, at)
	if pos.StopLoss <= 0 {
		c.Description = "no stop-loss level"
		return c
	}
	hit := price <= pos.StopLoss
	if pos.Side == model.Short {
		hit = price >= pos.StopLoss
	}
	if !hit {
		c.Description = fmt.Sprintf("price %.6g has not reached stop %.6g", price, pos.StopLoss)
		return c
	}
	c.ShouldExit = true
	c.ExitSize = 100
	c.ExitPrice = pos.StopLoss
	c.Description = fmt.Sprintf("price %.6g crossed stop %.6g", price, pos.StopLoss)
	return c
}

// takeProfit 分批止盈，最后一档为持仓自带的止盈价
func (e *Evaluator) takeProfit(pos model.Position, price float64, at time.Time) (model.ExitCondition, []int) {
	c := condition(model.ExitTakeProfit, at)
	sign := pos.Side.Sign()
	var (
		levels   []int
		size     float64
		furthest float64
	)
	cross := func(idx int, target, pct float64) {
		if pos.HasTakeProfitHit(idx) || (price-target)*sign < 0 {
			return
		}
		levels = append(levels, idx)
		size += pct
		if furthest == 0 || (target-furthest)*sign > 0 {
			furthest = target
		}
	}
	for i, lv := range e.cfg.TakeProfitLevels {
		cross(i, pos.EntryPrice*(1+sign*lv.GainPct/100), lv.SizePct)
	}
	if pos.TakeProfit > 0 {
		cross(len(e.cfg.TakeProfitLevels), pos.TakeProfit, 100)
	}
	if len(levels) == 0 {
		c.Description = fmt.Sprintf("gain %.2f%% below next take-profit level", pos.GainPct(price))
		return c, nil
	}
	c.ShouldExit = true
	c.ExitSize = math.Min(size, 100)
	c.ExitPrice = furthest
	c.Description = fmt.Sprintf("take-profit level(s) %v reached at %.6g, closing %.0f%%", levels, price, c.ExitSize)
	return c, levels
}

// trail 更新最高/最低价与移动止损，止损位只收紧不放松
func (e *Evaluator) trail(p model.Position) PositionUpdate {
	u := PositionUpdate{
		HighestPrice:   p.HighestPrice,
		LowestPrice:    p.LowestPrice,
		TrailingActive: p.TrailingActive,
	}
	if p.TrailingStop != nil {
		v := *p.TrailingStop
		u.TrailingStop = &v
	}
	var excursion, level float64
	if p.Side == model.Short {
		excursion = (p.EntryPrice - p.LowestPrice) / p.EntryPrice * 100
		level = p.LowestPrice * (1 + e.cfg.TrailingDistancePct/100)
	} else {
		excursion = (p.HighestPrice - p.EntryPrice) / p.EntryPrice * 100
		level = p.HighestPrice * (1 - e.cfg.TrailingDistancePct/100)
	}
	if !u.TrailingActive && excursion >= e.cfg.TrailingActivationPct && excursion > 0 {
		u.TrailingActive = true
	}
	if !u.TrailingActive {
		return u
	}
	if u.TrailingStop == nil {
		u.TrailingStop = &level
		return u
	}
	tighter := level > *u.TrailingStop
	if p.Side == model.Short {
		tighter = level < *u.TrailingStop
	}
	if tighter {
		u.TrailingStop = &level
	}
	return u
}

func (e *Evaluator) trailingStop(pos model.Position, u PositionUpdate, price float64, at time.Time) model.ExitCondition {
	c := condition(model.ExitTrailingStop, at)
	if !u.TrailingActive || u.TrailingStop == nil {
		c.Description = fmt.Sprintf("trailing stop inactive (activation %.2f%%)", e.cfg.TrailingActivationPct)
		return c
	}
	trail := *u.TrailingStop
	hit := price <= trail
	if pos.Side == model.Short {
		hit = price >= trail
	}
	if !hit {
		c.Description = fmt.Sprintf("trailing stop at %.6g", trail)
		return c
	}
	c.ShouldExit = true
	c.ExitSize = 100
	c.ExitPrice = trail
	c.Description = fmt.Sprintf("price %.6g crossed trailing stop %.6g", price, trail)
	return c
}

func (e *Evaluator) reversal(pos model.Position, in Inputs, at time.Time) model.ExitCondition {
	c := condition(model.ExitSignalReversal, at)
	r := in.Reversal
	if r == nil || r.Direction == 0 || float64(r.Direction) == pos.Side.Sign() {
		c.Description = "no opposing signal"
		return c
	}
	if r.Rejected {
		c.Description = "opposing signal rejected by the gate"
		return c
	}
	if r.Confidence < e.cfg.ReversalThreshold {
		c.Description = fmt.Sprintf("opposing signal confidence %.2f below %.2f", r.Confidence, e.cfg.ReversalThreshold)
		return c
	}
	c.ShouldExit = true
	c.ExitSize = 100
	c.ExitPrice = in.Price
	c.Description = fmt.Sprintf("opposing signal with confidence %.2f", r.Confidence)
	return c
}

func (e *Evaluator) rankingDrop(pos model.Position, in Inputs, at time.Time) model.ExitCondition {
	c := condition(model.ExitRankingDrop, at)
	switch {
	case in.InTopN == nil:
		c.Description = "ranking unknown"
	case *in.InTopN:
		c.Description = "asset within top-N"
	case pos.RankingTrimmed:
		c.Description = "already trimmed after ranking drop"
	case e.cfg.RankingTrimPct <= 0:
		c.Description = "ranking trim disabled"
	default:
		c.ShouldExit = true
		c.ExitSize = e.cfg.RankingTrimPct
		c.ExitPrice = in.Price
		c.Description = fmt.Sprintf("asset dropped out of top-N, trimming %.0f%%", c.ExitSize)
	}
	return c
}

func (e *Evaluator) indicatorBased(pos model.Position, in Inputs, at time.Time) model.ExitCondition {
	c := condition(model.ExitIndicatorBased, at)
	s := in.Snapshot
	if s == nil || !indicator.Has(s.RSI) || !indicator.Has(s.MACD.Histogram) {
		c.Description = "RSI/MACD unavailable"
		return c
	}
	var hit bool
	if pos.Side == model.Short {
		hit = s.RSI <= e.cfg.OversoldRSI && s.MACD.Histogram > 0
	} else {
		hit = s.RSI >= e.cfg.OverboughtRSI && s.MACD.Histogram < 0
	}
	switch {
	case !hit:
		c.Description = fmt.Sprintf("RSI %.1f, MACD histogram %.4g", s.RSI, s.MACD.Histogram)
	case pos.IndicatorTrimmed:
		c.Description = "already trimmed on exhaustion"
	case e.cfg.IndicatorTrimPct <= 0:
		c.Description = "indicator trim disabled"
	default:
		c.ShouldExit = true
		c.ExitSize = e.cfg.IndicatorTrimPct
		c.ExitPrice = in.Price
		c.Description = fmt.Sprintf("momentum exhaustion: RSI %.1f with MACD histogram %.4g", s.RSI, s.MACD.Histogram)
	}
	return c
}

package signal

import (
	"fmt"
	"strings"
	"time"

	"edgetrader/conf"
	"edgetrader/internal/gate"
	"edgetrader/internal/indicator"
	"edgetrader/internal/model"
	"edgetrader/internal/quality"
)

// 理由最多保留的条数
const maxJustification = 6

// Proposer 根据指标快照提出本轮信号：多空两个方向各评估一次，取更强的一方
type Proposer struct {
	quality  *quality.Engine
	gate     *gate.Gate
	cfg      conf.SignalConfig
	trading  conf.TradingConfig
	reversal float64
}

func NewProposer(q *quality.Engine, g *gate.Gate, cfg *conf.Config) *Proposer {
	return &Proposer{
		quality:  q,
		gate:     g,
		cfg:      cfg.Signal,
		trading:  cfg.Trading,
		reversal: cfg.Exit.ReversalThreshold,
	}
}

// Propose pos 为当前持仓，没有持仓时传 nil
func (p *Proposer) Propose(snap *indicator.Snapshot, pos *model.Position, now time.Time) Signal {
	asset := ""
	if snap != nil {
		asset = snap.Asset
	}
	if asset == "" && pos != nil {
		asset = pos.Asset
	}
	var side model.Side
	if pos != nil {
		side = pos.Side
	}

	if snap == nil || !snap.HasPrice() {
		return p.finish(p.hold(asset, side, quality.Unavailable("no price in indicator snapshot")), now,
			"insufficient data: no usable price")
	}
	trend := indicator.Align(snap)

	long := p.quality.Evaluate(quality.Proposal{Asset: asset, Action: model.ActBuyToEnter}, snap, trend, nil)
	short := p.quality.Evaluate(quality.Proposal{Asset: asset, Action: model.ActSellToEnter}, snap, trend, nil)
	if long.Insufficient && short.Insufficient {
		return p.finish(p.hold(asset, side, long), now, "insufficient data: no usable indicators")
	}

	dir, best := 1, long
	switch {
	case short.AdjustedConfidence > long.AdjustedConfidence:
		dir, best = -1, short
	case short.AdjustedConfidence == long.AdjustedConfidence:
		dir = 0
	}
	if dir == 0 || best.AdjustedConfidence < p.cfg.MinConfidence {
		res := p.quality.Evaluate(quality.Proposal{Asset: asset, Action: model.ActHold, Side: side}, snap, trend, nil)
		return p.finish(p.hold(asset, side, res), now)
	}

	if pos == nil {
		return p.finish(p.enter(asset, dir, snap, best), now)
	}

	// 已有持仓
	if float64(dir) == pos.Side.Sign() {
		if !p.trading.AllowAdd || pos.Adds >= p.trading.MaxAdds {
			res := p.quality.Evaluate(quality.Proposal{Asset: asset, Action: model.ActHold, Side: side}, snap, trend, nil)
			return p.finish(p.hold(asset, side, res), now, fmt.Sprintf("already %s, no add allowed", pos.Side))
		}
		sig := p.enter(asset, dir, snap, best)
		sig.Action, sig.Side = model.ActAdd, pos.Side
		return p.finish(sig, now)
	}

	// 反向：足够强时作为反转信号交给退出规则处理，否则减仓或清仓
	if best.AdjustedConfidence >= p.reversal {
		return p.finish(p.enter(asset, dir, snap, best), now)
	}
	keep := p.quality.Evaluate(quality.Proposal{Asset: asset, Action: model.ActAdd, Side: side}, snap, trend, nil)
	action := model.ActReduce
	if keep.ConflictSeverity == quality.SeverityCritical {
		action = model.ActCloseAll
	}
	res := p.quality.Evaluate(quality.Proposal{Asset: asset, Action: action, Side: side}, snap, trend, nil)
	sig := newSignal(asset, action, side, 0, 0, 0)
	sig.Quality = res
	sig.confidence = res.AdjustedConfidence
	sig.Invalidation = fmt.Sprintf("evidence turns back in favour of the %s position", side)
	return p.finish(sig, now)
}

func (p *Proposer) hold(asset string, side model.Side, res quality.Result) Signal {
	sig := newSignal(asset, model.ActHold, side, 0, 0, 0)
	sig.Quality = res
	sig.confidence = res.AdjustedConfidence
	sig.Invalidation = "a directional edge above the confidence floor"
	return sig
}

// enter 入场价取当前价，止损按 ATR 倍数，缺失时按固定百分比
func (p *Proposer) enter(asset string, dir int, snap *indicator.Snapshot, res quality.Result) Signal {
	entry := snap.Price
	dist := entry * p.cfg.StopPct / 100
	if indicator.Has(snap.ATR) && snap.ATR > 0 {
		dist = snap.ATR * p.cfg.AtrStopMultiple
	}
	d := float64(dir)
	stop := entry - d*dist
	target := entry + d*dist*p.cfg.RewardRisk

	action := model.ActBuyToEnter
	if dir < 0 {
		action = model.ActSellToEnter
	}
	if stop <= 0 {
		sig := p.hold(asset, "", res)
		sig.Warnings = append(sig.Warnings, fmt.Sprintf("stop distance %.6g exceeds price %.6g", dist, entry))
		return sig
	}
	sig := newSignal(asset, action, "", entry, stop, target)
	sig.Quality = res
	sig.confidence = res.AdjustedConfidence
	if dir > 0 {
		sig.Invalidation = fmt.Sprintf("price trades at or below %.6g", stop)
	} else {
		sig.Invalidation = fmt.Sprintf("price trades at or above %.6g", stop)
	}
	return sig
}

// finish 计算期望收益、拼装理由与警告
func (p *Proposer) finish(sig Signal, now time.Time, warnings ...string) Signal {
	sig.GeneratedAt = now
	sig.Warnings = append(sig.Warnings, warnings...)

	if sig.Action.Directional() {
		sig.Decision = p.gate.Classify(sig.Levels(p.trading.Leverage), sig.Quality, p.trading.CapitalPerTrade)
		sig.expectedValue = sig.Decision.ExpectedValue
		if sig.Decision.Marginal {
			sig.Warnings = append(sig.Warnings, "marginal expected value")
		}
	} else {
		sig.Decision = gate.Decision{Tier: gate.Rejected, Reason: fmt.Sprintf("action %s carries no entry levels", sig.Action)}
	}

	if sev := sig.Quality.ConflictSeverity; sev != quality.SeverityNone {
		sig.Warnings = append(sig.Warnings, fmt.Sprintf("%s contradiction (%d opposing votes)", sev, len(sig.Quality.Contradictions)))
	}
	if sig.Quality.Insufficient {
		sig.Warnings = append(sig.Warnings, "quality evaluation had no usable data")
	}

	reasons := sig.Quality.Reasons
	if len(reasons) > maxJustification {
		reasons = reasons[:maxJustification]
	}
	sig.Justification = strings.Join(reasons, "; ")
	return sig
}

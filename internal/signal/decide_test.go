package signal

import (
	"math"
	"strings"
	"testing"
	"time"

	"edgetrader/conf"
	"edgetrader/internal/gate"
	"edgetrader/internal/indicator"
	"edgetrader/internal/model"
	"edgetrader/internal/quality"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newProposer(mutate func(*conf.Config)) *Proposer {
	cfg := conf.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewProposer(quality.NewEngine(cfg.Quality), gate.New(cfg.Gate, cfg.Trading.ExecutionMode), &cfg)
}

func bullish() *indicator.Snapshot {
	return indicator.Normalize("BTC", map[string]any{
		"price":           110,
		"atr":             2,
		"ema20":           108,
		"ema50":           104,
		"ema200":          95,
		"macd":            map[string]any{"macd": 1.0, "signal": 0.5, "histogram": 0.5},
		"adx":             map[string]any{"adx": 30, "plusDI": 28, "minusDI": 12},
		"marketStructure": "bullish",
		"obvSlope":        0.1,
		"timeframes": map[string]any{
			"1h": map[string]any{"ema20": 105, "ema50": 100},
			"4h": map[string]any{"ema20": 103, "ema50": 100},
		},
		"externalData": map[string]any{"orderBookImbalance": 0.3, "whaleActivity": 5},
	})
}

// 多头略占优但有中等矛盾
func leaningBullish() *indicator.Snapshot {
	return indicator.Normalize("SOL", map[string]any{
		"price":           100,
		"marketStructure": "bullish",
		"macdHistogram":   0.2,
		"rsi":             75,
		"externalData":    map[string]any{"whaleActivity": -2},
	})
}

func TestPropose_Entry(t *testing.T) {
	p := newProposer(nil)
	sig := p.Propose(bullish(), nil, now)
	if sig.Action != model.ActBuyToEnter {
		t.Fatalf("action = %s", sig.Action)
	}
	// ATR 2 x 2 的止损距离，盈亏比 2
	if sig.Entry != 110 || sig.StopLoss != 106 || sig.TakeProfit != 118 {
		t.Fatalf("levels = %v / %v / %v", sig.Entry, sig.StopLoss, sig.TakeProfit)
	}
	if sig.Confidence() != sig.Quality.AdjustedConfidence || math.Abs(sig.Confidence()-0.95) > 1e-9 {
		t.Fatalf("confidence = %v", sig.Confidence())
	}
	if sig.Tier() != gate.AutoTrade || sig.ExpectedValue() <= 0 || sig.ExpectedValue() != sig.Decision.ExpectedValue {
		t.Fatalf("decision = %+v", sig.Decision)
	}
	if sig.Justification == "" || !strings.Contains(sig.Invalidation, "106") {
		t.Fatalf("justification=%q invalidation=%q", sig.Justification, sig.Invalidation)
	}
	if !sig.GeneratedAt.Equal(now) {
		t.Fatalf("generated at %v", sig.GeneratedAt)
	}
}

func TestPropose_StopFallsBackToPercent(t *testing.T) {
	p := newProposer(nil)
	snap := bullish()
	snap.ATR = math.NaN()
	sig := p.Propose(snap, nil, now)
	// 3% of 110
	if math.Abs(sig.StopLoss-106.7) > 1e-9 || math.Abs(sig.TakeProfit-116.6) > 1e-9 {
		t.Fatalf("levels = %v / %v", sig.StopLoss, sig.TakeProfit)
	}
}

func TestPropose_NoDataHolds(t *testing.T) {
	p := newProposer(nil)
	for name, snap := range map[string]*indicator.Snapshot{
		"nil":   nil,
		"empty": indicator.Empty("BTC"),
	} {
		sig := p.Propose(snap, nil, now)
		if sig.Action != model.ActHold || sig.Confidence() != 0 || sig.Tier() != gate.Rejected {
			t.Errorf("%s: %+v", name, sig.Summary())
		}
		if sig.Entry != 0 || sig.StopLoss != 0 || sig.TakeProfit != 0 {
			t.Errorf("%s: hold carries prices", name)
		}
		if len(sig.Warnings) == 0 {
			t.Errorf("%s: no warning", name)
		}
	}
}

func TestPropose_NeutralHolds(t *testing.T) {
	p := newProposer(nil)
	snap := indicator.Normalize("BTC", map[string]any{"price": 100, "rsi": 50})
	sig := p.Propose(snap, nil, now)
	if sig.Action != model.ActHold {
		t.Fatalf("action = %s", sig.Action)
	}
}

func TestPropose_WithPosition(t *testing.T) {
	long := model.NewPosition("BTC", model.Long, 1, 100, 3, now)
	sig := newProposer(nil).Propose(bullish(), &long, now)
	if sig.Action != model.ActHold || sig.Side != model.Long {
		t.Fatalf("adds disabled: %s/%s", sig.Action, sig.Side)
	}

	adder := newProposer(func(c *conf.Config) { c.Trading.AllowAdd = true })
	sig = adder.Propose(bullish(), &long, now)
	if sig.Action != model.ActAdd || sig.Side != model.Long || sig.Entry != 110 {
		t.Fatalf("add: %+v", sig.Summary())
	}
	long.Adds = 1
	if sig = adder.Propose(bullish(), &long, now); sig.Action != model.ActHold {
		t.Fatalf("max adds ignored: %s", sig.Action)
	}

	// 强反向信号照常输出，由退出规则处理反转
	short := model.NewPosition("BTC", model.Short, 1, 100, 3, now)
	sig = newProposer(nil).Propose(bullish(), &short, now)
	if sig.Action != model.ActBuyToEnter {
		t.Fatalf("reversal: %s", sig.Action)
	}
}

func TestPropose_ReduceAndCloseAll(t *testing.T) {
	short := model.NewPosition("SOL", model.Short, 1, 100, 3, now)
	sig := newProposer(nil).Propose(leaningBullish(), &short, now)
	if sig.Action != model.ActReduce || sig.Side != model.Short {
		t.Fatalf("reduce: %+v", sig.Summary())
	}
	if sig.Entry != 0 || sig.Tier() != gate.Rejected {
		t.Fatalf("reduce carries levels: %+v", sig.Summary())
	}
	if sig.Direction() != 1 {
		t.Fatalf("reducing a short is a buy, got %d", sig.Direction())
	}

	btcShort := model.NewPosition("BTC", model.Short, 1, 100, 3, now)
	p := newProposer(func(c *conf.Config) { c.Exit.ReversalThreshold = 0.99 })
	sig = p.Propose(bullish(), &btcShort, now)
	if sig.Action != model.ActCloseAll || sig.Side != model.Short {
		t.Fatalf("close_all: %+v", sig.Summary())
	}
}

package exit

import (
	"math"
	"testing"
	"time"

	"edgetrader/conf"
	"edgetrader/internal/indicator"
	"edgetrader/internal/model"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func testConfig() conf.ExitConfig {
	cfg := conf.Default().Exit
	cfg.TakeProfitLevels = nil
	return cfg
}

func longPosition() model.Position {
	p := model.NewPosition("BTC", model.Long, 1, 100, 2, t0)
	p.StopLoss = 95
	return p
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// run 依次喂价格，返回第一次触发的评估结果
func run(e *Evaluator, pos model.Position, prices []float64) (Evaluation, model.Position, int) {
	for i, px := range prices {
		ev := e.Evaluate(pos, Inputs{Price: px, At: t0.Add(time.Duration(i) * time.Minute)})
		ev.Update.Apply(&pos)
		if ev.Governing != nil {
			return ev, pos, i
		}
	}
	return Evaluation{}, pos, -1
}

func TestStopLossScenario(t *testing.T) {
	e := NewEvaluator(testConfig())
	ev, _, idx := run(e, longPosition(), []float64{100, 98, 94})
	if idx != 2 {
		t.Fatalf("stop fired at tick %d, want 2", idx)
	}
	g := ev.Governing
	if g.Reason != model.ExitStopLoss || g.ExitPrice != 95 || g.ExitSize != 100 {
		t.Fatalf("governing = %+v", g)
	}
}

func TestStopLossBoundaryIsInclusive(t *testing.T) {
	e := NewEvaluator(testConfig())
	ev := e.Evaluate(longPosition(), Inputs{Price: 95, At: t0})
	if ev.Governing == nil || ev.Governing.Reason != model.ExitStopLoss {
		t.Fatalf("price at stop did not fire: %+v", ev.Conditions[0])
	}

	short := model.NewPosition("ETH", model.Short, 1, 100, 1, t0)
	short.StopLoss = 105
	ev = e.Evaluate(short, Inputs{Price: 105, At: t0})
	if ev.Governing == nil || ev.Governing.Reason != model.ExitStopLoss || ev.Governing.ExitPrice != 105 {
		t.Fatalf("short stop boundary: %+v", ev.Governing)
	}
	ev = e.Evaluate(short, Inputs{Price: 104.99, At: t0})
	if ev.Governing != nil {
		t.Fatalf("short stop fired early: %+v", ev.Governing)
	}
}

func TestTrailingStopScenario(t *testing.T) {
	e := NewEvaluator(testConfig()) // activation 1%, distance 5%
	pos := longPosition()
	pos.StopLoss = 0
	ev, pos, idx := run(e, pos, []float64{100, 102, 110, 104})
	if idx != 3 {
		t.Fatalf("trailing fired at tick %d, want 3", idx)
	}
	if pos.HighestPrice != 110 || !pos.TrailingActive {
		t.Fatalf("tracking = high %v active %v", pos.HighestPrice, pos.TrailingActive)
	}
	g := ev.Governing
	if g.Reason != model.ExitTrailingStop || !approx(g.ExitPrice, 104.5) || g.ExitSize != 100 {
		t.Fatalf("governing = %+v", g)
	}
}

func TestTrailingStopNeverLoosens(t *testing.T) {
	e := NewEvaluator(testConfig())
	pos := longPosition()
	pos.StopLoss = 0
	for _, px := range []float64{110, 108, 106} {
		ev := e.Evaluate(pos, Inputs{Price: px, At: t0})
		ev.Update.Apply(&pos)
	}
	if pos.TrailingStop == nil || !approx(*pos.TrailingStop, 104.5) {
		t.Fatalf("trail = %v", pos.TrailingStop)
	}

	short := model.NewPosition("ETH", model.Short, 1, 100, 1, t0)
	for _, px := range []float64{90, 95} {
		ev := e.Evaluate(short, Inputs{Price: px, At: t0})
		ev.Update.Apply(&short)
	}
	if short.TrailingStop == nil || !approx(*short.TrailingStop, 94.5) {
		t.Fatalf("short trail = %v", short.TrailingStop)
	}
	ev := e.Evaluate(short, Inputs{Price: 95, At: t0})
	if ev.Governing == nil || ev.Governing.Reason != model.ExitTrailingStop {
		t.Fatalf("short trail did not fire at 95: %+v", ev.Governing)
	}
}

func TestEvaluateDoesNotMutatePosition(t *testing.T) {
	e := NewEvaluator(testConfig())
	pos := longPosition()
	before := pos.Clone()
	e.Evaluate(pos, Inputs{Price: 120, At: t0})
	if pos.HighestPrice != before.HighestPrice || pos.TrailingStop != nil || pos.TrailingActive {
		t.Fatalf("position mutated: %+v", pos)
	}
}

func TestTakeProfitLevelsFireOnce(t *testing.T) {
	cfg := conf.Default().Exit // {3%,25} {6%,25}
	e := NewEvaluator(cfg)
	pos := longPosition()
	pos.TakeProfit = 120

	ev := e.Evaluate(pos, Inputs{Price: 103.5, At: t0})
	g := ev.Governing
	if g == nil || g.Reason != model.ExitTakeProfit || g.ExitSize != 25 || !approx(g.ExitPrice, 103) {
		t.Fatalf("first level: %+v", g)
	}
	ev.Consume(&pos)
	if !pos.HasTakeProfitHit(0) {
		t.Fatalf("level 0 not recorded")
	}

	ev = e.Evaluate(pos, Inputs{Price: 104, At: t0})
	for _, c := range ev.Fired {
		if c.Reason == model.ExitTakeProfit {
			t.Fatalf("level 0 fired twice: %+v", c)
		}
	}

	// 一次越过剩余两档：合并，最多100%
	ev = e.Evaluate(pos, Inputs{Price: 121, At: t0})
	g = ev.Governing
	if g == nil || g.Reason != model.ExitTakeProfit || g.ExitSize != 100 || g.ExitPrice != 120 {
		t.Fatalf("combined levels: %+v", g)
	}
}

func TestTakeProfitShort(t *testing.T) {
	cfg := testConfig()
	cfg.TakeProfitLevels = []conf.TakeProfitLevel{{GainPct: 3, SizePct: 30}}
	e := NewEvaluator(cfg)
	short := model.NewPosition("ETH", model.Short, 2, 100, 1, t0)
	ev := e.Evaluate(short, Inputs{Price: 96.5, At: t0})
	if ev.Governing == nil || ev.Governing.ExitSize != 30 || !approx(ev.Governing.ExitPrice, 97) {
		t.Fatalf("short take profit: %+v", ev.Governing)
	}
}

func TestPriorityAndTieBreak(t *testing.T) {
	e := NewEvaluator(testConfig())
	pos := longPosition()
	out := false
	snap := indicator.Empty("BTC")
	snap.RSI = 85
	snap.MACD.Histogram = -0.3

	// 排名与指标同优先级，取较大的比例（50% > 25%）
	ev := e.Evaluate(pos, Inputs{Price: 101, At: t0, Snapshot: snap, InTopN: &out})
	if len(ev.Fired) != 2 || ev.Governing.Reason != model.ExitRankingDrop || ev.Governing.ExitSize != 50 {
		t.Fatalf("fired = %+v", ev.Fired)
	}

	// 止损优先于其他所有规则，但全部触发原因都会报告
	ev = e.Evaluate(pos, Inputs{Price: 94, At: t0, InTopN: &out,
		Reversal: &Reversal{Direction: -1, Confidence: 0.9}})
	if ev.Governing.Reason != model.ExitStopLoss || len(ev.Fired) != 3 {
		t.Fatalf("fired = %+v", ev.Fired)
	}
	if len(ev.Conditions) != 6 {
		t.Fatalf("conditions = %d, want one per rule", len(ev.Conditions))
	}
}

func TestSignalReversal(t *testing.T) {
	e := NewEvaluator(testConfig())
	pos := longPosition()
	cases := []struct {
		name string
		r    *Reversal
		want bool
	}{
		{"none", nil, false},
		{"same direction", &Reversal{Direction: 1, Confidence: 0.9}, false},
		{"weak", &Reversal{Direction: -1, Confidence: 0.5}, false},
		{"rejected", &Reversal{Direction: -1, Confidence: 0.9, Rejected: true}, false},
		{"strong", &Reversal{Direction: -1, Confidence: 0.7}, true},
	}
	for _, c := range cases {
		ev := e.Evaluate(pos, Inputs{Price: 100, At: t0, Reversal: c.r})
		fired := ev.Governing != nil && ev.Governing.Reason == model.ExitSignalReversal
		if fired != c.want {
			t.Errorf("%s: fired = %v", c.name, fired)
		}
		if fired && ev.Governing.ExitPrice != 100 {
			t.Errorf("%s: exit price %v", c.name, ev.Governing.ExitPrice)
		}
	}
}

func TestSoftRulesFireOncePerPosition(t *testing.T) {
	e := NewEvaluator(testConfig())
	pos := longPosition()
	out := false
	ev := e.Evaluate(pos, Inputs{Price: 100, At: t0, InTopN: &out})
	if ev.Governing == nil || ev.Governing.Reason != model.ExitRankingDrop {
		t.Fatalf("ranking drop: %+v", ev.Governing)
	}
	ev.Consume(&pos)
	ev = e.Evaluate(pos, Inputs{Price: 100, At: t0, InTopN: &out})
	if ev.Governing != nil {
		t.Fatalf("ranking drop fired twice: %+v", ev.Governing)
	}

	short := model.NewPosition("ETH", model.Short, 1, 100, 1, t0)
	snap := indicator.Empty("ETH")
	snap.RSI = 15
	snap.MACD.Histogram = 0.2
	ev = e.Evaluate(short, Inputs{Price: 100, At: t0, Snapshot: snap})
	if ev.Governing == nil || ev.Governing.Reason != model.ExitIndicatorBased || ev.Governing.ExitSize != 25 {
		t.Fatalf("short indicator exit: %+v", ev.Governing)
	}
}

func TestDegenerateInputs(t *testing.T) {
	e := NewEvaluator(testConfig())
	zeroEntry := longPosition()
	zeroEntry.EntryPrice = 0
	zeroQty := longPosition()
	zeroQty.Quantity = 0
	cases := map[string]struct {
		pos   model.Position
		price float64
	}{
		"nan price":   {longPosition(), math.NaN()},
		"zero price":  {longPosition(), 0},
		"zero entry":  {zeroEntry, 100},
		"zero amount": {zeroQty, 100},
	}
	for name, c := range cases {
		ev := e.Evaluate(c.pos, Inputs{Price: c.price, At: t0})
		if !ev.Insufficient || ev.Reason == "" || ev.Governing != nil {
			t.Errorf("%s: %+v", name, ev)
		}
	}
}

func TestExitSizeTakesLargestFired(t *testing.T) {
	cfg := testConfig()
	cfg.TakeProfitLevels = []conf.TakeProfitLevel{{GainPct: 5, SizePct: 50}}
	e := NewEvaluator(cfg)
	pos := longPosition()

	// 部分止盈优先级更高，但同轮的反转要求全平
	ev := e.Evaluate(pos, Inputs{Price: 110, At: t0, Reversal: &Reversal{Direction: -1, Confidence: 0.95}})
	if ev.Governing == nil || ev.Governing.Reason != model.ExitTakeProfit || ev.Governing.ExitSize != 50 {
		t.Fatalf("governing = %+v", ev.Governing)
	}
	if len(ev.Fired) != 2 || ev.ExitSize() != 100 {
		t.Fatalf("fired = %+v size = %v", ev.Fired, ev.ExitSize())
	}

	ev = e.Evaluate(pos, Inputs{Price: 110, At: t0})
	if ev.ExitSize() != 50 {
		t.Fatalf("take profit only size = %v", ev.ExitSize())
	}
	if (Evaluation{}).ExitSize() != 0 {
		t.Fatal("nothing fired should size 0")
	}
}

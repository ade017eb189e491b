package cycle

import (
	"math"
	"testing"

	"edgetrader/internal/exchange"
	"edgetrader/internal/model"
)

var opts = ReconcileOptions{Tolerance: reconcileTolerance, StopPct: 3, RewardRisk: 2}

func twoPositions() model.CycleState {
	st := model.NewCycleState("c1", 10000, now)
	st.Positions["BTC"] = model.NewPosition("BTC", model.Long, 0.5, 60000, 3, now)
	st.Positions["ETH"] = model.NewPosition("ETH", model.Short, 2, 3000, 3, now)
	return st
}

func TestReconcileRemovesPositionMissingAtVenue(t *testing.T) {
	st := twoPositions()
	acc := exchange.Account{Positions: []exchange.VenuePosition{
		{Asset: "BTC", Side: model.Long, Quantity: 0.5, EntryPrice: 60000, Leverage: 3},
	}}

	got, diff := Reconcile(st, acc, now, opts)
	if diff.PositionsClosed != 1 || diff.PositionsUpdated != 0 {
		t.Fatalf("diff = %+v", diff)
	}
	if _, ok := got.Positions["ETH"]; ok || len(got.Positions) != 1 {
		t.Fatalf("positions = %v", got.Assets())
	}
	last := got.TradeHistory[len(got.TradeHistory)-1]
	if last.Asset != "ETH" || last.Reason != model.ExitExternalClose || !last.External || last.Quantity != 2 {
		t.Fatalf("external trade = %+v", last)
	}
	// 入参不变
	if len(st.Positions) != 2 || len(st.TradeHistory) != 0 {
		t.Fatalf("input mutated: %v", st.Assets())
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	st := twoPositions()
	st.NeedsReconcile = true
	acc := exchange.Account{Positions: []exchange.VenuePosition{
		{Asset: "BTC", Side: model.Long, Quantity: 0.7, EntryPrice: 61000, Leverage: 3},
		{Asset: "SOL", Side: model.Short, Quantity: 10, EntryPrice: 100, Leverage: 5},
	}}

	first, diff := Reconcile(st, acc, now, opts)
	if diff.Empty() || first.NeedsReconcile || !first.LastReconcileAt.Equal(now) {
		t.Fatalf("first diff = %+v state = %+v", diff, first)
	}
	second, diff2 := Reconcile(first, acc, now, opts)
	if !diff2.Empty() || len(diff2.Changes) != 0 {
		t.Fatalf("second diff = %+v", diff2)
	}
	if len(second.TradeHistory) != len(first.TradeHistory) || len(second.Positions) != len(first.Positions) {
		t.Fatalf("second pass changed state")
	}
}

func TestReconcileAdoptsCorrectsAndFlips(t *testing.T) {
	st := twoPositions()
	st.Positions["BTC"] = model.NewPosition("BTC", model.Long, 0.5, 60000, 3, now)
	sol := model.NewPosition("SOL", model.Long, 10, 100, 3, now)
	st.Positions["SOL"] = sol

	acc := exchange.Account{Positions: []exchange.VenuePosition{
		// 误差在容忍范围内
		{Asset: "BTC", Side: model.Long, Quantity: 0.50001, EntryPrice: 60000, Leverage: 3},
		{Asset: "ETH", Side: model.Short, Quantity: 1.5, EntryPrice: 3010, Leverage: 3},
		{Asset: "SOL", Side: model.Short, Quantity: 4, EntryPrice: 98, Leverage: 2},
		{Asset: "DOGE", Side: model.Long, Quantity: 1000, EntryPrice: 0.2, Leverage: 0},
		{Asset: "FLAT", Side: model.Long, Quantity: 0, EntryPrice: 1},
	}}
	got, diff := Reconcile(st, acc, now, opts)
	if diff.PositionsUpdated != 3 || diff.PositionsClosed != 0 {
		t.Fatalf("diff = %+v", diff)
	}
	kinds := map[string]ChangeKind{}
	for _, c := range diff.Changes {
		kinds[c.Asset] = c.Kind
	}
	if kinds["ETH"] != ChangeCorrected || kinds["SOL"] != ChangeFlipped || kinds["DOGE"] != ChangeAdopted {
		t.Fatalf("changes = %+v", diff.Changes)
	}
	if got.Positions["BTC"].Quantity != 0.5 {
		t.Fatalf("BTC within tolerance should be untouched: %+v", got.Positions["BTC"])
	}
	if eth := got.Positions["ETH"]; eth.Quantity != 1.5 || eth.EntryPrice != 3010 {
		t.Fatalf("ETH = %+v", eth)
	}
	if s := got.Positions["SOL"]; s.Side != model.Short || s.Quantity != 4 || s.Leverage != 2 {
		t.Fatalf("SOL = %+v", s)
	}
	doge := got.Positions["DOGE"]
	if doge.Leverage != 1 || math.Abs(doge.StopLoss-0.194) > 1e-12 || math.Abs(doge.TakeProfit-0.212) > 1e-12 {
		t.Fatalf("adopted DOGE = %+v", doge)
	}
	if _, ok := got.Positions["FLAT"]; ok {
		t.Fatalf("flat venue position adopted")
	}
}

func TestReconcileSkipsVenuePositionWithoutEntry(t *testing.T) {
	st := twoPositions()
	acc := exchange.Account{Positions: []exchange.VenuePosition{
		// 同向仅数量不同：沿用本地入场价
		{Asset: "BTC", Side: model.Long, Quantity: 0.8, EntryPrice: 0, Leverage: 3},
		// 反向且没有入场价：保留本地，等待下次对账
		{Asset: "ETH", Side: model.Long, Quantity: 2, EntryPrice: 0},
		{Asset: "ARB", Side: model.Long, Quantity: 50, EntryPrice: 0},
		{Asset: "OP", Side: model.Short, Quantity: 5, EntryPrice: math.NaN()},
	}}

	got, diff := Reconcile(st, acc, now, opts)
	if diff.PositionsUpdated != 1 || diff.PositionsClosed != 0 {
		t.Fatalf("diff = %+v", diff)
	}
	if btc := got.Positions["BTC"]; btc.Quantity != 0.8 || btc.EntryPrice != 60000 {
		t.Fatalf("BTC = %+v", btc)
	}
	if eth := got.Positions["ETH"]; eth.Side != model.Short || eth.EntryPrice != 3000 {
		t.Fatalf("ETH = %+v", eth)
	}
	for _, asset := range []string{"ARB", "OP"} {
		if _, ok := got.Positions[asset]; ok {
			t.Fatalf("%s adopted without an entry price", asset)
		}
	}

	// 重复对账不会反复报告接管
	_, again := Reconcile(got, acc, now, opts)
	if !again.Empty() {
		t.Fatalf("second diff = %+v", again)
	}
}

package exchange

import (
	"context"
	"errors"
	"testing"

	"edgetrader/internal/model"
	"edgetrader/internal/signal"
)

func TestPaperExecutor_FillsAtReferencePrice(t *testing.T) {
	ex := NewPaperExecutor()
	res := ex.Execute(context.Background(), Intent{Asset: "ETH", Side: model.Sell, Size: 2, RefPrice: 3000})
	if !res.Filled || res.Status != model.ExecFilled || res.FillPrice != 3000 || res.FilledSize != 2 {
		t.Fatalf("result = %+v", res)
	}
	st, err := ex.OrderStatus(res.OrderID)
	if err != nil {
		t.Fatalf("order status: %v", err)
	}
	if st.State != model.OrderFilled || st.AvgPrice != 3000 {
		t.Fatalf("status = %+v", st)
	}
	if _, err := ex.OrderStatus("missing"); err == nil {
		t.Fatalf("expected error for unknown order")
	}
}

func TestPaperExecutor_RejectsBadIntent(t *testing.T) {
	ex := NewPaperExecutor()
	res := ex.Execute(context.Background(), Intent{Asset: "ETH", Side: model.Buy, Size: 1})
	if res.Filled || !errors.Is(res.Err, ErrNonRetryable) {
		t.Fatalf("result = %+v", res)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = ex.Execute(ctx, Intent{Asset: "ETH", Side: model.Buy, Size: 1, RefPrice: 10})
	if res.Filled || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("result = %+v", res)
	}
}

func TestIntentFromSignal(t *testing.T) {
	tests := []struct {
		name       string
		sig        signal.Signal
		wantSide   model.OrderSide
		wantReduce bool
		wantErr    bool
	}{
		{"long entry", signal.Signal{Asset: "BTC", Action: model.ActBuyToEnter, Entry: 100}, model.Buy, false, false},
		{"short entry", signal.Signal{Asset: "BTC", Action: model.ActSellToEnter, Entry: 100}, model.Sell, false, false},
		{"add to short", signal.Signal{Asset: "BTC", Action: model.ActAdd, Side: model.Short, Entry: 100}, model.Sell, false, false},
		{"reduce long", signal.Signal{Asset: "BTC", Action: model.ActReduce, Side: model.Long}, model.Sell, true, false},
		{"close short", signal.Signal{Asset: "BTC", Action: model.ActCloseAll, Side: model.Short}, model.Buy, true, false},
		{"hold", signal.Signal{Asset: "BTC", Action: model.ActHold}, "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, err := IntentFromSignal(tt.sig, 1, 101)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if tt.wantErr {
				return
			}
			if intent.Side != tt.wantSide || intent.ReduceOnly != tt.wantReduce || intent.RefPrice != 101 {
				t.Fatalf("intent = %+v", intent)
			}
		})
	}
}

func TestIntentFromExit(t *testing.T) {
	pos := model.NewPosition("SOL", model.Short, 10, 150, 3, testTime)
	intent := IntentFromExit(pos, model.ExitCondition{Reason: model.ExitRankingDrop, ExitSize: 50, ExitPrice: 140}, 0)
	if intent.Side != model.Buy || !intent.ReduceOnly || intent.Size != 5 || intent.RefPrice != 140 {
		t.Fatalf("intent = %+v", intent)
	}
	intent = IntentFromExit(pos, model.ExitCondition{Reason: model.ExitStopLoss, ExitSize: 100, ExitPrice: 155}, 156)
	if intent.Size != 10 || intent.RefPrice != 156 || intent.Reason != string(model.ExitStopLoss) {
		t.Fatalf("intent = %+v", intent)
	}
}

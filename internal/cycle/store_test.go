package cycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"edgetrader/internal/model"

	"github.com/go-redis/redismock/v9"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleState() model.CycleState {
	st := model.NewCycleState("1765000000000000001", 10000, now.Add(-time.Hour))
	trail := 104.5
	btc := model.NewPosition("BTC", model.Long, 0.5, 100, 3, now.Add(-30*time.Minute))
	btc.StopLoss, btc.TakeProfit = 95, 110
	btc.HighestPrice = 110
	btc.TrailingStop = &trail
	btc.TrailingActive = true
	btc.TakeProfitHits = []int{0}
	btc.OrderID = "abc"
	st.Positions["BTC"] = btc
	st.TradeHistory = []model.Trade{{
		ID: "t1", Asset: "ETH", Side: model.Short, Quantity: 1, EntryPrice: 2000, ExitPrice: 1900,
		PnL: 100, PnLPct: 5, Reason: model.ExitTakeProfit, OpenedAt: now.Add(-2 * time.Hour), ClosedAt: now.Add(-time.Hour),
	}}
	st.Performance.Trades, st.Performance.Wins, st.Performance.WinRate = 1, 1, 1
	st.TopN = []string{"BTC", "ETH"}
	st.LastRankingAt = now
	st.TickCount = 7
	return st
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "state", "cycle.json"))
	want := sampleState()

	if err := store.Save(context.Background(), want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "state"))
	if len(entries) != 1 {
		t.Fatalf("expected only the state file, got %d entries", len(entries))
	}
}

func TestFileStoreMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "cycle.json"))
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("missing file: err = %v", err)
	}
	if err := os.WriteFile(store.Path(), []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("empty file: err = %v", err)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "cycle.json"))
	for _, body := range []string{`{"cycleId": "x", "positions": {`, `{"positions": {}}`, `[1,2]`} {
		if err := os.WriteFile(store.Path(), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		st, err := store.Load(context.Background())
		if !errors.Is(err, ErrStateCorrupt) {
			t.Fatalf("%q: err = %v", body, err)
		}
		if st.CycleID != "" || st.Positions != nil {
			t.Fatalf("%q: partially parsed state %+v", body, st)
		}
	}
}

func TestDecodeStateDropsInvalidPositions(t *testing.T) {
	st := sampleState()
	st.Positions["DOGE"] = model.Position{Asset: "DOGE", Side: model.Long, Quantity: 0, EntryPrice: 0.1}
	st.Breaker.Status = ""
	data, err := EncodeState(st)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeState(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := got.Positions["DOGE"]; ok || len(got.Positions) != 1 {
		t.Fatalf("positions = %v", got.Assets())
	}
	if got.Breaker.Status != model.BreakerClosed {
		t.Fatalf("breaker = %+v", got.Breaker)
	}
}

func TestRedisStore(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewRedisStore(rdb, "edgetrader:cycle_state")
	st := sampleState()
	data, err := EncodeState(st)
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectGet("edgetrader:cycle_state").RedisNil()
	mock.ExpectSet("edgetrader:cycle_state", data, 0).SetVal("OK")
	mock.ExpectGet("edgetrader:cycle_state").SetVal(string(data))
	mock.ExpectGet("edgetrader:cycle_state").SetVal("{oops")

	if _, err := store.Load(context.Background()); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("missing key: err = %v", err)
	}
	if err := store.Save(context.Background(), st); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(context.Background())
	if err != nil || !reflect.DeepEqual(got, st) {
		t.Fatalf("load = %+v err = %v", got, err)
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrStateCorrupt) {
		t.Fatalf("corrupt value: err = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet("k").SetErr(errors.New("connection refused"))
	_, err := NewRedisStore(rdb, "k").Load(context.Background())
	if err == nil || errors.Is(err, ErrStateNotFound) || errors.Is(err, ErrStateCorrupt) {
		t.Fatalf("err = %v", err)
	}
}

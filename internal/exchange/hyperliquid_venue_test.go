package exchange

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"edgetrader/internal/model"
	"edgetrader/pkg/hype/rest"
	"edgetrader/pkg/hype/types"
	"edgetrader/pkg/retry"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubSigner struct{}

func (stubSigner) SignAction(ctx context.Context, action any, nonce int64) (types.Signature, error) {
	return types.Signature{R: "0x1", S: "0x2", V: 27}, nil
}

const metaAndCtxs = `[{"universe":[{"name":"BTC","szDecimals":5,"maxLeverage":50},{"name":"ETH","szDecimals":4,"maxLeverage":50}]},
	[{"dayNtlVlm":"1000000","funding":"0.0000125","markPx":"65000","openInterest":"100"},
	 {"dayNtlVlm":"500000","funding":"-0.00002","markPx":"3000","openInterest":"2000"}]]`

// fakeHyperliquid 按请求类型返回固定内容，exchange 动作交给 onAction
func fakeHyperliquid(t *testing.T, onAction func(action map[string]any) string) *HyperliquidVenue {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		if err := json.Unmarshal(body, &m); err != nil {
			t.Errorf("bad body %s", body)
			return
		}
		if r.URL.Path == "/exchange" {
			action, _ := m["action"].(map[string]any)
			_, _ = w.Write([]byte(onAction(action)))
			return
		}
		switch m["type"] {
		case "metaAndAssetCtxs":
			_, _ = w.Write([]byte(metaAndCtxs))
		case "allMids":
			_, _ = w.Write([]byte(`{"BTC":"65010.5","ETH":"3001"}`))
		case "clearinghouseState":
			_, _ = w.Write([]byte(`{"assetPositions":[
				{"type":"oneWay","position":{"coin":"ETH","szi":"-0.5","entryPx":"2000.0","leverage":{"type":"cross","value":5}}},
				{"type":"oneWay","position":{"coin":"BTC","szi":"0.0","entryPx":"60000","leverage":{"type":"cross","value":3}}}],
				"marginSummary":{"accountValue":"1234.5"},"withdrawable":"100.0","time":1700000000000}`))
		case "orderStatus":
			if m["oid"] == float64(7) {
				_, _ = w.Write([]byte(`{"status":"order","order":{"order":{"coin":"ETH","side":"B","limitPx":"3000","sz":"0.25","oid":7,"origSz":"1.0"},"status":"canceled","statusTimestamp":1}}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"unknownOid"}`))
		case "candleSnapshot":
			_, _ = w.Write([]byte(`[{"t":1700000000000,"T":1700000899999,"s":"BTC","i":"15m","o":"100","c":"101","h":"102","l":"99","v":"12.5","n":40}]`))
		case "l2Book":
			_, _ = w.Write([]byte(`{"coin":"BTC","time":1,"levels":[[{"px":"100","sz":"3","n":1}],[{"px":"101","sz":"1","n":1}]]}`))
		default:
			t.Errorf("unexpected info type %v", m["type"])
		}
	}))
	t.Cleanup(srv.Close)

	client, err := rest.NewHyperliquidRestClient(srv.URL, rest.WithSigner(stubSigner{}), rest.WithRetryPolicy(retry.Fixed(2, time.Millisecond)))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return NewHyperliquidVenue(client, "0xabc", nil)
}

func TestVenue_PlaceOrderFormatsWire(t *testing.T) {
	var got map[string]any
	venue := fakeHyperliquid(t, func(action map[string]any) string {
		got = action
		return `{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"totalSz":"0.0123","avgPx":"3001.2","oid":99}}]}}}`
	})
	clientID := uuid.NewString()
	ack, err := venue.PlaceOrder(context.Background(), model.OrderRequest{
		Asset: "ETH", Side: model.Buy, Size: 0.012345678, Price: 3001.23456, Tif: model.Ioc, ClientID: clientID,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if ack.State != model.OrderFilled || ack.OrderID != "99" || ack.FilledSz != 0.0123 || ack.AvgPrice != 3001.2 {
		t.Fatalf("ack = %+v", ack)
	}
	orders, _ := got["orders"].([]any)
	if len(orders) != 1 {
		t.Fatalf("action = %v", got)
	}
	o := orders[0].(map[string]any)
	if o["a"] != float64(1) || o["b"] != true || o["s"] != "0.0123" || o["p"] != "3001.3" {
		t.Fatalf("order wire = %v", o)
	}
	if c, _ := o["c"].(string); len(c) != 34 || c[:2] != "0x" {
		t.Fatalf("cloid = %v", o["c"])
	}
}

func TestVenue_OrderErrors(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		wantState    model.OrderState
		nonRetryable bool
	}{
		{"no liquidity", `{"status":"ok","response":{"type":"order","data":{"statuses":[{"error":"Order could not immediately match against any resting orders."}]}}}`, model.OrderRejected, false},
		{"margin", `{"status":"ok","response":{"type":"order","data":{"statuses":[{"error":"Insufficient margin to place order."}]}}}`, "", true},
		{"action rejected", `{"status":"err","response":"User or API Wallet does not exist."}`, "", true},
		{"resting", `{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":5}}]}}}`, model.OrderOpen, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			venue := fakeHyperliquid(t, func(map[string]any) string { return tt.response })
			ack, err := venue.PlaceOrder(context.Background(), model.OrderRequest{Asset: "BTC", Side: model.Sell, Size: 0.01, Price: 65000})
			if tt.nonRetryable {
				if !errors.Is(err, ErrNonRetryable) {
					t.Fatalf("err = %v", err)
				}
				return
			}
			if err != nil || ack.State != tt.wantState {
				t.Fatalf("ack = %+v err = %v", ack, err)
			}
		})
	}
}

func TestVenue_SizeBelowLotIsNonRetryable(t *testing.T) {
	venue := fakeHyperliquid(t, func(map[string]any) string {
		t.Errorf("order should not be sent")
		return ""
	})
	_, err := venue.PlaceOrder(context.Background(), model.OrderRequest{Asset: "BTC", Side: model.Buy, Size: 0.000001, Price: 65000})
	if !errors.Is(err, ErrNonRetryable) {
		t.Fatalf("err = %v", err)
	}
}

func TestVenue_OrderStatus(t *testing.T) {
	venue := fakeHyperliquid(t, nil)
	st, err := venue.OrderStatus(context.Background(), "ETH", "7")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != model.OrderCanceled || st.Filled != 0.75 || st.Remaining != 0.25 {
		t.Fatalf("status = %+v", st)
	}
	st, err = venue.OrderStatus(context.Background(), "ETH", "8")
	if err != nil || st.State != model.OrderUnknown {
		t.Fatalf("status = %+v err = %v", st, err)
	}
}

func TestVenue_AccountSkipsFlatPositions(t *testing.T) {
	venue := fakeHyperliquid(t, nil)
	acc, err := venue.Account(context.Background())
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acc.Equity != 1234.5 || acc.Withdrawable != 100 {
		t.Fatalf("account = %+v", acc)
	}
	if len(acc.Positions) != 1 {
		t.Fatalf("positions = %+v", acc.Positions)
	}
	p := acc.Positions[0]
	if p.Asset != "ETH" || p.Side != model.Short || p.Quantity != 0.5 || p.EntryPrice != 2000 || p.Leverage != 5 {
		t.Fatalf("position = %+v", p)
	}
}

func TestVenue_MidPrefersFreshFeed(t *testing.T) {
	venue := fakeHyperliquid(t, nil)
	feed := NewMidsFeed(time.Minute)
	venue.feed = feed
	venue.now = func() time.Time { return testTime }

	feed.Update(map[string]float64{"BTC": 64000}, testTime.Add(-10*time.Second))
	if px, err := venue.Mid(context.Background(), "BTC"); err != nil || px != 64000 {
		t.Fatalf("mid = %v err = %v", px, err)
	}
	// 推送过期后回退到 REST
	feed.Update(map[string]float64{"BTC": 64000}, testTime.Add(-2*time.Minute))
	if px, err := venue.Mid(context.Background(), "BTC"); err != nil || px != 65010.5 {
		t.Fatalf("mid = %v err = %v", px, err)
	}
	if _, err := venue.Mid(context.Background(), "DOGE"); err == nil {
		t.Fatalf("expected error for missing asset")
	}
}

func TestVenue_QuoteNotBeforeGeneration(t *testing.T) {
	venue := fakeHyperliquid(t, nil)
	feed := NewMidsFeed(time.Minute)
	venue.feed = feed
	venue.now = func() time.Time { return testTime }

	feed.Update(map[string]float64{"BTC": 64000}, testTime.Add(-time.Second))
	px, at, err := venue.Quote(context.Background(), "BTC", testTime.Add(-5*time.Second))
	if err != nil || px != 64000 || !at.Equal(testTime.Add(-time.Second)) {
		t.Fatalf("quote = %v at %v err = %v", px, at, err)
	}
	// 推送价早于信号生成完成时间，改用 REST
	px, at, err = venue.Quote(context.Background(), "BTC", testTime)
	if err != nil || px != 65010.5 || !at.Equal(testTime) {
		t.Fatalf("quote = %v at %v err = %v", px, at, err)
	}
}

func TestVenue_CandlesAndExternal(t *testing.T) {
	venue := fakeHyperliquid(t, nil)
	klines, err := venue.Candles(context.Background(), "BTC", "15m", 100)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(klines) != 1 || klines[0].Close != 101 || klines[0].Vol != 12.5 {
		t.Fatalf("klines = %+v", klines)
	}

	ext, err := venue.External(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("external: %v", err)
	}
	if ext.FundingRate != 0.0000125 || math.Abs(ext.OrderBookImbalance-0.5) > 1e-9 {
		t.Fatalf("external = %+v", ext)
	}
	// 第一次没有基准，持仓量变化缺失
	if !math.IsNaN(ext.OpenInterestChangePct) || !math.IsNaN(ext.WhaleActivity) {
		t.Fatalf("external = %+v", ext)
	}
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		px         float64
		szDecimals int
		buy        bool
		want       string
	}{
		{65012.34, 5, true, "65013"},
		{65012.34, 5, false, "65012"},
		{3001.23456, 4, true, "3001.3"},
		{3001.23456, 4, false, "3001.2"},
		{1.234567, 0, false, "1.2345"},
		{0.0123456, 0, true, "0.012346"},
		{0.0123456, 2, false, "0.0123"},
		{123456.7, 3, false, "123456"},
	}
	for _, tt := range tests {
		if got := FormatPrice(tt.px, tt.szDecimals, tt.buy); got != tt.want {
			t.Errorf("FormatPrice(%v, %d, %v) = %s, want %s", tt.px, tt.szDecimals, tt.buy, got, tt.want)
		}
	}
}

func TestFormatSize(t *testing.T) {
	if got, err := FormatSize(1.23456789, 3); err != nil || got != "1.234" {
		t.Fatalf("got %s err %v", got, err)
	}
	if _, err := FormatSize(0.0004, 3); !errors.Is(err, ErrNonRetryable) {
		t.Fatalf("err = %v", err)
	}
	if _, err := FormatSize(math.NaN(), 3); !errors.Is(err, ErrNonRetryable) {
		t.Fatalf("err = %v", err)
	}
}

func TestIntervalDuration(t *testing.T) {
	for in, want := range map[string]time.Duration{"1m": time.Minute, "15m": 15 * time.Minute, "4h": 4 * time.Hour, "1d": 24 * time.Hour} {
		if got, err := IntervalDuration(in); err != nil || got != want {
			t.Errorf("%s = %v err %v", in, got, err)
		}
	}
	for _, bad := range []string{"", "m", "0h", "5x"} {
		if _, err := IntervalDuration(bad); err == nil {
			t.Errorf("%q should be invalid", bad)
		}
	}
}

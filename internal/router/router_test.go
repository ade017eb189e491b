package router

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"edgetrader/internal/cycle"
	"edgetrader/internal/dao"
	handler "edgetrader/internal/handler/cycle"
	"edgetrader/internal/middleware"
	"edgetrader/internal/model"
	"edgetrader/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

type fakeOps struct {
	state  model.CycleState
	report cycle.Report
	resets int
	err    error
}

func (f *fakeOps) State() model.CycleState  { return f.state }
func (f *fakeOps) LastReport() cycle.Report { return f.report }

func (f *fakeOps) ResetBreaker(ctx context.Context) (model.CycleState, error) {
	if f.err != nil {
		return model.CycleState{}, f.err
	}
	f.resets++
	f.state.Breaker = model.BreakerState{Status: model.BreakerClosed}
	return f.state, nil
}

func (f *fakeOps) Reconcile(ctx context.Context) (cycle.Diff, error) {
	if f.err != nil {
		return cycle.Diff{}, f.err
	}
	return cycle.Diff{PositionsUpdated: 1}, nil
}

type fakeTrades struct {
	byCycle string
	byAsset string
}

func (d *fakeTrades) TradeInsert(ctx context.Context, record *model.TradeRecord) error { return nil }
func (d *fakeTrades) TradeInsertBatch(ctx context.Context, records []model.TradeRecord) error {
	return nil
}

func (d *fakeTrades) TradeListByCycle(ctx context.Context, cycleID string, limit int) ([]model.TradeRecord, error) {
	d.byCycle = cycleID
	return []model.TradeRecord{{CycleID: cycleID, Asset: "BTC"}}, nil
}

func (d *fakeTrades) TradeListByAsset(ctx context.Context, asset string, limit int) ([]model.TradeRecord, error) {
	d.byAsset = asset
	return []model.TradeRecord{{Asset: asset}}, nil
}

const secret = "ops-secret"

func newEngine(ops *fakeOps, trades *fakeTrades) *gin.Engine {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	_ = g.SetTrustedProxies(nil)
	middleware.NewMiddleware().Load(g)
	var journal dao.TradeDao
	if trades != nil {
		journal = trades
	}
	NewApiRouter(handler.NewHandler(ops, journal), http.NotFoundHandler(), secret).Load(g)
	return g
}

func do(g *gin.Engine, method, path, remote string, header map[string]string) (*httptest.ResponseRecorder, response.ApiResponse) {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	var body response.ApiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

const local = "127.0.0.1:40000"

func TestPingAndState(t *testing.T) {
	ops := &fakeOps{state: model.CycleState{CycleID: "c1", TickCount: 7}}
	g := newEngine(ops, nil)

	w, _ := do(g, http.MethodGet, "/ping", local, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ping = %d", w.Code)
	}

	w, body := do(g, http.MethodGet, "/api/v1/state", "10.0.0.8:5000", nil)
	if w.Code != http.StatusOK || body.Code != response.Success || body.RequestId == "" {
		t.Fatalf("state = %d %+v", w.Code, body)
	}
	if w.Header().Get("X-Request-Id") != body.RequestId {
		t.Fatalf("request id header %q body %q", w.Header().Get("X-Request-Id"), body.RequestId)
	}
}

func TestReportNotFoundBeforeFirstTick(t *testing.T) {
	ops := &fakeOps{}
	g := newEngine(ops, nil)
	w, body := do(g, http.MethodGet, "/api/v1/report", local, nil)
	if w.Code != http.StatusNotFound || body.Code != response.NotFoundErr {
		t.Fatalf("report = %d %+v", w.Code, body)
	}
	ops.report = cycle.Report{CycleID: "c1", Tick: 1}
	if w, _ := do(g, http.MethodGet, "/api/v1/report", local, nil); w.Code != http.StatusOK {
		t.Fatalf("report = %d", w.Code)
	}
}

func TestTradesList(t *testing.T) {
	ops := &fakeOps{state: model.CycleState{CycleID: "c9"}}

	w, body := do(newEngine(ops, nil), http.MethodGet, "/api/v1/trades", local, nil)
	if w.Code != http.StatusServiceUnavailable || body.Code != response.Unavailable {
		t.Fatalf("without journal = %d %+v", w.Code, body)
	}

	trades := &fakeTrades{}
	g := newEngine(ops, trades)
	if w, _ := do(g, http.MethodGet, "/api/v1/trades", local, nil); w.Code != http.StatusOK || trades.byCycle != "c9" {
		t.Fatalf("default cycle = %d %q", w.Code, trades.byCycle)
	}
	if w, _ := do(g, http.MethodGet, "/api/v1/trades?asset=ETH&limit=20", local, nil); w.Code != http.StatusOK || trades.byAsset != "ETH" {
		t.Fatalf("by asset = %d %q", w.Code, trades.byAsset)
	}
	if w, body := do(g, http.MethodGet, "/api/v1/trades?limit=5000", local, nil); w.Code != http.StatusBadRequest || body.Code != response.ValidateErr {
		t.Fatalf("bad limit = %d %+v", w.Code, body)
	}
}

func sign(ts string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func TestOpsGuard(t *testing.T) {
	ops := &fakeOps{}
	g := newEngine(ops, nil)

	if w, _ := do(g, http.MethodPost, "/api/v1/breaker/reset", "10.0.0.8:5000", nil); w.Code != http.StatusForbidden {
		t.Fatalf("unsigned remote = %d", w.Code)
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	header := map[string]string{"T-Timestamp": ts, "T-Signature": sign(ts)}
	if w, _ := do(g, http.MethodPost, "/api/v1/breaker/reset", "10.0.0.9:5000", header); w.Code != http.StatusOK {
		t.Fatalf("signed remote = %d", w.Code)
	}
	old := strconv.FormatInt(time.Now().Add(-5*time.Minute).Unix(), 10)
	header = map[string]string{"T-Timestamp": old, "T-Signature": sign(old)}
	if w, _ := do(g, http.MethodPost, "/api/v1/breaker/reset", "10.0.0.10:5000", header); w.Code != http.StatusForbidden {
		t.Fatalf("expired signature = %d", w.Code)
	}
	if ops.resets != 1 {
		t.Fatalf("resets = %d", ops.resets)
	}
}

func TestOpsAntiDuplicate(t *testing.T) {
	ops := &fakeOps{}
	g := newEngine(ops, nil)
	remote := "127.0.0.1:40001"
	if w, body := do(g, http.MethodPost, "/api/v1/reconcile", remote, nil); w.Code != http.StatusOK || body.Code != response.Success {
		t.Fatalf("first = %d %+v", w.Code, body)
	}
	if w, _ := do(g, http.MethodPost, "/api/v1/reconcile", remote, nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("duplicate = %d", w.Code)
	}
}

func TestOpsErrorsMapToUnavailable(t *testing.T) {
	ops := &fakeOps{err: cycle.ErrNoAccount}
	g := newEngine(ops, nil)
	w, body := do(g, http.MethodPost, "/api/v1/breaker/reset", "[::1]:40002", nil)
	if w.Code != http.StatusServiceUnavailable || body.Message != cycle.ErrNoAccount.Error() {
		t.Fatalf("reset = %d %+v", w.Code, body)
	}
}

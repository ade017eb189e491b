package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveTick(t *testing.T) {
	m := New()
	m.ObserveTick(time.Now(), nil)
	m.ObserveTick(time.Now(), errors.New("one asset failed"))
	m.ObserveTick(time.Now(), nil)

	if got := testutil.ToFloat64(m.TicksTotal.WithLabelValues("ok")); got != 2 {
		t.Fatalf("ok ticks = %v", got)
	}
	if got := testutil.ToFloat64(m.TicksTotal.WithLabelValues("partial")); got != 1 {
		t.Fatalf("partial ticks = %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveTick(time.Now(), nil)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Equity.Set(10250)
	m.OrdersTotal.WithLabelValues("buy", "FILLED").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"edgetrader_equity 10250", `edgetrader_orders_total{side="buy",status="FILLED"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

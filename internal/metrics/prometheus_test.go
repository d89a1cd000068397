package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.TicksTotal.Inc()
	prom.Metrics.SignalsBuy.Inc()
	prom.Metrics.SignalsSell.Inc()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.TradesClosed.Inc()
	prom.Metrics.WSReconnects.Inc()
	prom.Metrics.RelayFailures.Inc()
	prom.Metrics.SnapshotFailures.Inc()

	assertCounter(t, prom.ticksTotal, 1)
	assertCounter(t, prom.signalsBuy, 1)
	assertCounter(t, prom.signalsSell, 1)
	assertCounter(t, prom.ordersPlaced, 1)
	assertCounter(t, prom.tradesClosed, 1)
	assertCounter(t, prom.wsReconnects, 1)
	assertCounter(t, prom.relayFailures, 1)
	assertCounter(t, prom.snapshotFailures, 1)
}

func TestPrometheusGauges(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.RealizedPnl.Set(12.5)
	prom.Metrics.SessionLive.Set(1)
	prom.Metrics.DailyStop.Set(1)

	if got := testutil.ToFloat64(prom.realizedPnl); got != 12.5 {
		t.Fatalf("expected realized pnl gauge 12.5, got %v", got)
	}
	if got := testutil.ToFloat64(prom.sessionLive); got != 1 {
		t.Fatalf("expected session live gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(prom.dailyStop); got != 1 {
		t.Fatalf("expected daily stop gauge 1, got %v", got)
	}
}

func TestNoopMetricsAreSafe(t *testing.T) {
	m := NewNoop()
	m.TicksTotal.Inc()
	m.RealizedPnl.Set(1)
	m.SessionLive.Set(0)
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "trading_engine"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry

	ticksTotal       prometheus.Counter
	signalsBuy       prometheus.Counter
	signalsSell      prometheus.Counter
	signalsRejected  prometheus.Counter
	ordersPlaced     prometheus.Counter
	tradesClosed     prometheus.Counter
	feedDropped      prometheus.Counter
	wsReconnects     prometheus.Counter
	relayFailures    prometheus.Counter
	snapshotFailures prometheus.Counter
	journalDropped   prometheus.Counter

	realizedPnl   prometheus.Gauge
	unrealizedPnl prometheus.Gauge
	lastPrice     prometheus.Gauge
	sessionLive   prometheus.Gauge
	dailyStop     prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
	}

	p := &Prometheus{
		registry:         registry,
		ticksTotal:       counter("ticks_total", "Total market ticks processed."),
		signalsBuy:       counter("signals_buy_total", "Total accepted BUY webhook signals."),
		signalsSell:      counter("signals_sell_total", "Total accepted SELL webhook signals."),
		signalsRejected:  counter("signals_rejected_total", "Total webhook payloads that failed to parse."),
		ordersPlaced:     counter("orders_placed_total", "Total simulated orders placed."),
		tradesClosed:     counter("trades_closed_total", "Total closed trades."),
		feedDropped:      counter("feed_dropped_total", "Total ticks dropped due to a full feed queue."),
		wsReconnects:     counter("ws_reconnects_total", "Total market feed reconnect attempts."),
		relayFailures:    counter("relay_failures_total", "Total relay fan-out failures."),
		snapshotFailures: counter("snapshot_failures_total", "Total engine snapshot persistence failures."),
		journalDropped:   counter("journal_dropped_total", "Total journal rows dropped due to a full queue."),
		realizedPnl:      gauge("realized_pnl", "Cumulative realized PnL."),
		unrealizedPnl:    gauge("unrealized_pnl", "Mark-to-market unrealized PnL."),
		lastPrice:        gauge("last_price", "Last trade price seen on the feed."),
		sessionLive:      gauge("session_live", "1 when the session gate is LIVE, 0 for PAPER."),
		dailyStop:        gauge("daily_stop_active", "1 when the daily loss stop is engaged."),
	}

	registry.MustRegister(
		p.ticksTotal, p.signalsBuy, p.signalsSell, p.signalsRejected,
		p.ordersPlaced, p.tradesClosed, p.feedDropped, p.wsReconnects,
		p.relayFailures, p.snapshotFailures, p.journalDropped,
		p.realizedPnl, p.unrealizedPnl, p.lastPrice, p.sessionLive, p.dailyStop,
	)

	p.Metrics = &Metrics{
		TicksTotal:       promCounter{p.ticksTotal},
		SignalsBuy:       promCounter{p.signalsBuy},
		SignalsSell:      promCounter{p.signalsSell},
		SignalsRejected:  promCounter{p.signalsRejected},
		OrdersPlaced:     promCounter{p.ordersPlaced},
		TradesClosed:     promCounter{p.tradesClosed},
		FeedDropped:      promCounter{p.feedDropped},
		WSReconnects:     promCounter{p.wsReconnects},
		RelayFailures:    promCounter{p.relayFailures},
		SnapshotFailures: promCounter{p.snapshotFailures},
		JournalDropped:   promCounter{p.journalDropped},
		RealizedPnl:      promGauge{p.realizedPnl},
		UnrealizedPnl:    promGauge{p.unrealizedPnl},
		LastPrice:        promGauge{p.lastPrice},
		SessionLive:      promGauge{p.sessionLive},
		DailyStop:        promGauge{p.dailyStop},
	}

	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

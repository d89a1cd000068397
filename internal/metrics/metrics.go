package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

type Metrics struct {
	TicksTotal       Counter
	SignalsBuy       Counter
	SignalsSell      Counter
	SignalsRejected  Counter
	OrdersPlaced     Counter
	TradesClosed     Counter
	FeedDropped      Counter
	WSReconnects     Counter
	RelayFailures    Counter
	SnapshotFailures Counter
	JournalDropped   Counter

	RealizedPnl   Gauge
	UnrealizedPnl Gauge
	LastPrice     Gauge
	SessionLive   Gauge
	DailyStop     Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	c := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		TicksTotal:       c,
		SignalsBuy:       c,
		SignalsSell:      c,
		SignalsRejected:  c,
		OrdersPlaced:     c,
		TradesClosed:     c,
		FeedDropped:      c,
		WSReconnects:     c,
		RelayFailures:    c,
		SnapshotFailures: c,
		JournalDropped:   c,
		RealizedPnl:      g,
		UnrealizedPnl:    g,
		LastPrice:        g,
		SessionLive:      g,
		DailyStop:        g,
	}
}

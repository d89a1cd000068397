package pnl

// PositionView is a book rendered for the status endpoint, null when flat.
type PositionView struct {
	Side     Side    `json:"side"`
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avgPrice"`
}

type Metrics struct {
	WinRate       float64 `json:"winRate"`
	ProfitFactor  float64 `json:"profitFactor"`
	BestTrade     float64 `json:"bestTrade"`
	WorstTrade    float64 `json:"worstTrade"`
	AvgTradePnl   float64 `json:"avgTradePnl"`
	PnlPercentage float64 `json:"pnlPercentage"`
	TotalWins     float64 `json:"totalWins"`
	TotalLosses   float64 `json:"totalLosses"`
	WinCount      int     `json:"winCount"`
	LossCount     int     `json:"lossCount"`
}

// Snapshot is the rounded, read-only view served over /status. Persistence
// uses State instead, which keeps full precision.
type Snapshot struct {
	Symbol        string        `json:"symbol"`
	LongPosition  *PositionView `json:"longPosition"`
	ShortPosition *PositionView `json:"shortPosition"`
	LastPrice     float64       `json:"lastPrice"`
	RealizedPnl   float64       `json:"realizedPnl"`
	UnrealizedPnl float64       `json:"unrealizedPnl"`
	TotalPnl      float64       `json:"totalPnl"`
	TradeCount    int           `json:"tradeCount"`
	Trades        []Trade       `json:"trades"`
	Metrics       Metrics       `json:"metrics"`
}

func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	unrealized := c.unrealizedLocked()
	snap := Snapshot{
		Symbol:        c.symbol,
		LastPrice:     round2(c.lastPrice),
		RealizedPnl:   round2(c.realized),
		UnrealizedPnl: round2(unrealized),
		TotalPnl:      round2(c.realized + unrealized),
		TradeCount:    len(c.trades),
		Trades:        append([]Trade(nil), c.trades...),
		Metrics:       c.metricsLocked(),
	}
	if c.long.Qty > 0 {
		snap.LongPosition = &PositionView{Side: Long, Qty: round2(c.long.Qty), AvgPrice: round2(c.long.AvgPrice)}
	}
	if c.short.Qty > 0 {
		snap.ShortPosition = &PositionView{Side: Short, Qty: round2(c.short.Qty), AvgPrice: round2(c.short.AvgPrice)}
	}
	return snap
}

func (c *Context) metricsLocked() Metrics {
	var m Metrics
	var closed int
	var sum float64
	for _, trade := range c.trades {
		if trade.Action != ActionClose {
			continue
		}
		closed++
		sum += trade.Realized
		if closed == 1 || trade.Realized > m.BestTrade {
			m.BestTrade = trade.Realized
		}
		if closed == 1 || trade.Realized < m.WorstTrade {
			m.WorstTrade = trade.Realized
		}
		switch {
		case trade.Realized > 0:
			m.WinCount++
			m.TotalWins += trade.Realized
		case trade.Realized < 0:
			m.LossCount++
			m.TotalLosses += -trade.Realized
		}
	}
	if closed > 0 {
		m.WinRate = float64(m.WinCount) / float64(closed) * 100
		m.AvgTradePnl = sum / float64(closed)
	}
	if m.TotalLosses > 0 {
		m.ProfitFactor = m.TotalWins / m.TotalLosses
	}
	m.PnlPercentage = (c.realized + c.unrealizedLocked()) / notionalBase * 100

	m.WinRate = round2(m.WinRate)
	m.ProfitFactor = round2(m.ProfitFactor)
	m.BestTrade = round2(m.BestTrade)
	m.WorstTrade = round2(m.WorstTrade)
	m.AvgTradePnl = round2(m.AvgTradePnl)
	m.PnlPercentage = round2(m.PnlPercentage)
	m.TotalWins = round2(m.TotalWins)
	m.TotalLosses = round2(m.TotalLosses)
	return m
}

// State is the persistence form: unrounded books and the trade ring.
type State struct {
	Long      Book    `json:"long"`
	Short     Book    `json:"short"`
	LastPrice float64 `json:"lastPrice"`
	MarkSeen  bool    `json:"markSeen"`
	Realized  float64 `json:"realizedPnl"`
	Trades    []Trade `json:"trades,omitempty"`
}

func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Long:      c.long,
		Short:     c.short,
		LastPrice: c.lastPrice,
		MarkSeen:  c.markSeen,
		Realized:  c.realized,
		Trades:    append([]Trade(nil), c.trades...),
	}
}

func (c *Context) Restore(st State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.long = st.Long
	c.short = st.Short
	c.lastPrice = st.LastPrice
	c.markSeen = st.MarkSeen
	c.realized = st.Realized
	c.trades = append([]Trade(nil), st.Trades...)
	if len(c.trades) > tradeRingCap {
		c.trades = c.trades[len(c.trades)-tradeRingCap:]
	}
}

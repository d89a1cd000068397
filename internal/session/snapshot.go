package session

// State is the persistence form of the session.
type State struct {
	Mode              Mode          `json:"mode"`
	PaperCumulative   float64       `json:"paperCumulativePnl"`
	LiveCumulative    float64       `json:"liveCumulativePnl"`
	TotalLiveRealised float64       `json:"totalLiveRealisedPnl"`
	DailyRealised     float64       `json:"dailyRealisedPnl"`
	DailyLossLimit    float64       `json:"dailyLossLimit"`
	DailyStopActive   bool          `json:"dailyStopActive"`
	Trades            []TradeRecord `json:"trades,omitempty"`
	Day               string        `json:"day,omitempty"`
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Mode:              m.mode,
		PaperCumulative:   m.paperCum,
		LiveCumulative:    m.liveCum,
		TotalLiveRealised: m.totalLiveRealised,
		DailyRealised:     m.dailyRealised,
		DailyLossLimit:    m.dailyLossLimit,
		DailyStopActive:   m.dailyStop,
		Trades:            append([]TradeRecord(nil), m.trades...),
		Day:               m.day,
	}
}

// Restore loads a persisted state. The configured daily loss limit wins
// over the persisted one so a config change takes effect on restart.
func (m *Manager) Restore(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.Mode == ModeLive {
		m.mode = ModeLive
	} else {
		m.mode = ModePaper
	}
	m.paperCum = st.PaperCumulative
	m.liveCum = st.LiveCumulative
	m.totalLiveRealised = st.TotalLiveRealised
	m.dailyRealised = st.DailyRealised
	m.dailyStop = st.DailyStopActive
	m.trades = append([]TradeRecord(nil), st.Trades...)
	if len(m.trades) > tradeRingCap {
		m.trades = m.trades[len(m.trades)-tradeRingCap:]
	}
	if st.Day != "" {
		m.day = st.Day
	}
}

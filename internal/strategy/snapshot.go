package strategy

import "go.uber.org/zap"

// SideSnapshot is the serializable form of one side. Field names follow
// the persisted-state document and the status view.
type SideSnapshot struct {
	State              State        `json:"state"`
	AnchorSet          bool         `json:"anchorSet"`
	Anchor             float64      `json:"anchor"`
	EntryTrigger       float64      `json:"entryTrigger"`
	StopPrice          float64      `json:"stopPrice"`
	EntryTickPending   bool         `json:"entryTickPending"`
	FirstTickSeen      bool         `json:"firstTickSeen"`
	EntryWindowStart   int64        `json:"entryWindowStartTs"`
	ProfitWindowStart  int64        `json:"profitWindowStartTs"`
	WaitWindowStart    int64        `json:"waitWindowStartTs"`
	WaitWindowDuration int64        `json:"waitWindowDurationMs"`
	WaitWindowSource   WindowSource `json:"waitWindowSource,omitempty"`
	WaitForEntryStart  int64        `json:"waitForEntryStartTs"`
	Position           *Position    `json:"position,omitempty"`
}

type Snapshot struct {
	Symbol    string         `json:"symbol"`
	Buy       SideSnapshot   `json:"buy"`
	Sell      SideSnapshot   `json:"sell"`
	Signals   []SignalRecord `json:"signalHistory,omitempty"`
	LastPrice float64        `json:"lastPrice,omitempty"`
	LastTS    int64          `json:"lastTickTs,omitempty"`
	TickSeen  bool           `json:"tickSeen,omitempty"`
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Symbol:    m.symbol,
		Buy:       m.buy.snapshot(),
		Sell:      m.sell.snapshot(),
		Signals:   append([]SignalRecord(nil), m.signals...),
		LastPrice: m.lastPrice,
		LastTS:    m.lastTS,
		TickSeen:  m.tickSeen,
	}
}

func (s *sideState) snapshot() SideSnapshot {
	snap := SideSnapshot{
		State:              s.state,
		AnchorSet:          s.anchorSet,
		Anchor:             s.anchor,
		EntryTrigger:       s.trigger,
		StopPrice:          s.stop,
		EntryTickPending:   s.entryTickPending,
		FirstTickSeen:      s.firstTickSeen,
		EntryWindowStart:   s.entryWindowStart,
		ProfitWindowStart:  s.profitWindowStart,
		WaitWindowStart:    s.waitWindowStart,
		WaitWindowDuration: s.waitWindowDur,
		WaitWindowSource:   s.waitWindowSource,
		WaitForEntryStart:  s.waitForEntryStart,
	}
	if s.position != nil {
		pos := *s.position
		snap.Position = &pos
	}
	return snap
}

// Restore loads a snapshot verbatim. Call ResumeAt afterwards so windows
// that expired while the engine was down are resolved before the next tick.
func (m *Machine) Restore(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buy.restore(snap.Buy)
	m.sell.restore(snap.Sell)
	m.signals = append([]SignalRecord(nil), snap.Signals...)
	m.lastPrice, m.lastTS, m.tickSeen = snap.LastPrice, snap.LastTS, snap.TickSeen
	m.log.Info("state restored",
		zap.String("symbol", m.symbol),
		zap.String("buyState", string(m.buy.state)),
		zap.String("sellState", string(m.sell.state)))
}

func (s *sideState) restore(snap SideSnapshot) {
	dir := s.dir
	*s = sideState{
		dir:               dir,
		state:             snap.State,
		anchorSet:         snap.AnchorSet,
		anchor:            snap.Anchor,
		trigger:           snap.EntryTrigger,
		stop:              snap.StopPrice,
		entryTickPending:  snap.EntryTickPending,
		firstTickSeen:     snap.FirstTickSeen,
		entryWindowStart:  snap.EntryWindowStart,
		profitWindowStart: snap.ProfitWindowStart,
		waitWindowStart:   snap.WaitWindowStart,
		waitWindowDur:     snap.WaitWindowDuration,
		waitWindowSource:  snap.WaitWindowSource,
		waitForEntryStart: snap.WaitForEntryStart,
	}
	if snap.Position != nil {
		pos := *snap.Position
		s.position = &pos
	}
	if s.state == "" {
		s.state = StateWaitForSignal
	}
}

// ResumeAt catches up window timers after a restart gap. Expired wait
// windows resolve at their scheduled instant; expired profit and re-arm
// windows restart from now. No orders are placed here: there is no price.
func (m *Machine) ResumeAt(nowMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumeSide(&m.buy, nowMs)
	m.resumeSide(&m.sell, nowMs)
}

func (m *Machine) resumeSide(s *sideState, nowMs int64) {
	switch s.state {
	case StateWaitWindow:
		if nowMs-s.waitWindowStart >= s.waitWindowDur {
			m.resolveWait(s)
		}
	case StateProfitWindow:
		if nowMs-s.profitWindowStart >= windowMS {
			s.profitWindowStart = nowMs
			m.log.Debug("profit window restarted on resume",
				zap.String("side", string(s.dir)),
				zap.Int64("startTs", nowMs))
		}
	case StateWaitForEntry:
		if s.firstTickSeen && nowMs-s.waitForEntryStart >= windowMS {
			s.waitForEntryStart = nowMs
			s.firstTickSeen = false
			m.log.Debug("re-arm window restarted on resume",
				zap.String("side", string(s.dir)),
				zap.Int64("startTs", nowMs))
		}
	}
}

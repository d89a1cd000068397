package strategy

import (
	"sync"

	"go.uber.org/zap"
)

// Machine runs the long (BUY) and short (SELL) state machines over one
// shared tick stream. The two sides are fully independent: own anchors,
// own windows, own position. Mutation is expected from a single
// dispatcher; the lock makes snapshot reads atomic against it.
type Machine struct {
	mu sync.Mutex

	symbol   string
	orderQty float64
	trader   Trader
	log      *zap.Logger

	allowOpen func() bool

	buy  sideState
	sell sideState

	signals []SignalRecord

	lastPrice float64
	lastTS    int64
	tickSeen  bool
}

type sideState struct {
	dir   Side
	state State

	anchorSet bool
	anchor    float64
	trigger   float64
	stop      float64

	entryTickPending bool
	firstTickSeen    bool

	entryWindowStart  int64
	profitWindowStart int64
	waitWindowStart   int64
	waitWindowDur     int64
	waitWindowSource  WindowSource
	waitForEntryStart int64

	position *Position
}

func New(symbol string, orderQty float64, trader Trader, log *zap.Logger) *Machine {
	return &Machine{
		symbol:   symbol,
		orderQty: orderQty,
		trader:   trader,
		log:      log,
		buy:      sideState{dir: SideBuy, state: StateWaitForSignal},
		sell:     sideState{dir: SideSell, state: StateWaitForSignal},
	}
}

// SetOpenGate installs a check consulted before any position is opened.
// A false return suppresses the open: an entry-window open degrades to the
// miss path, a re-arm open waits for the next window cycle. Must be set
// before the machine starts consuming events.
func (m *Machine) SetOpenGate(fn func() bool) {
	m.allowOpen = fn
}

// OnSignal resets the matching side to SIGNAL. Anchors and phase for that
// side are discarded; the next tick re-latches. An open position on that
// side is left untouched (the open guard prevents doubling). The other
// side never reacts.
func (m *Machine) OnSignal(side Side, message string, at int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if side != SideBuy && side != SideSell {
		m.log.Warn("signal with unknown side dropped", zap.String("side", string(side)))
		return
	}
	m.signals = append(m.signals, SignalRecord{Side: side, Message: message, At: at})
	if len(m.signals) > signalHistoryCap {
		m.signals = m.signals[len(m.signals)-signalHistoryCap:]
	}

	s := m.sideFor(side)
	prev := s.state
	s.rearm()
	m.log.Info("signal accepted",
		zap.String("symbol", m.symbol),
		zap.String("side", string(side)),
		zap.String("from", string(prev)),
		zap.Int64("at", at))
}

// OnTick feeds one tick to both sides, BUY side first. The tick timestamp
// is the clock for every window comparison.
func (m *Machine) OnTick(price float64, ts int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastPrice, m.lastTS, m.tickSeen = price, ts, true
	m.tickSide(&m.buy, price, ts)
	m.tickSide(&m.sell, price, ts)
}

// ManualCloseResult reports what a close-all actually did.
type ManualCloseResult struct {
	ClosedLong  bool    `json:"closedLong"`
	ClosedShort bool    `json:"closedShort"`
	Price       float64 `json:"price"`
	At          int64   `json:"at"`
}

// ManualClose closes any open position at the last seen price and parks
// both sides in WAIT_FOR_SIGNAL with anchors and timers cleared. Without a
// tick there is no price to close at, so it reports ok=false and changes
// nothing.
func (m *Machine) ManualClose() (ManualCloseResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.tickSeen {
		m.log.Warn("manual close ignored: no tick observed yet", zap.String("symbol", m.symbol))
		return ManualCloseResult{}, false
	}
	res := ManualCloseResult{Price: m.lastPrice, At: m.lastTS}
	if m.buy.position != nil {
		res.ClosedLong = m.closePosition(&m.buy, m.lastPrice, m.lastTS, ReasonManualOverride)
	}
	if m.sell.position != nil {
		res.ClosedShort = m.closePosition(&m.sell, m.lastPrice, m.lastTS, ReasonManualOverride)
	}
	m.buy.park()
	m.sell.park()
	m.log.Info("manual close applied",
		zap.String("symbol", m.symbol),
		zap.Bool("closedLong", res.ClosedLong),
		zap.Bool("closedShort", res.ClosedShort),
		zap.Float64("price", res.Price))
	return res, true
}

// LastTick reports the most recent tick seen, if any.
func (m *Machine) LastTick() (price float64, ts int64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPrice, m.lastTS, m.tickSeen
}

func (m *Machine) sideFor(side Side) *sideState {
	if side == SideSell {
		return &m.sell
	}
	return &m.buy
}

func (m *Machine) tickSide(s *sideState, price float64, ts int64) {
	// A wait window ends at its scheduled instant, not at the tick that
	// notices it: resolve first, with the scheduled expiry as the new
	// window's start, then let this tick act in the resolved state.
	if s.state == StateWaitWindow && ts-s.waitWindowStart >= s.waitWindowDur {
		m.resolveWait(s)
	}

	switch s.state {
	case StateSignal:
		s.latch(price, ts)
		m.log.Info("anchors latched",
			zap.String("symbol", m.symbol),
			zap.String("side", string(s.dir)),
			zap.Float64("anchor", s.anchor),
			zap.Float64("trigger", s.trigger),
			zap.Float64("stop", s.stop))

	case StateEntryWindow:
		if !s.entryTickPending {
			return
		}
		s.entryTickPending = false
		if !s.crossesTrigger(price) {
			m.log.Debug("entry miss",
				zap.String("side", string(s.dir)),
				zap.Float64("price", price),
				zap.Float64("trigger", s.trigger))
			m.enterWaitWindow(s, ts, s.entryWindowStart, SourceEntry)
			return
		}
		switch m.tryOpen(s, price, ts, openReason(s.dir)) {
		case openOK:
		case openGated:
			m.enterWaitWindow(s, ts, s.entryWindowStart, SourceEntry)
		case openRejected:
			// guard violation or placement failure: no transition
		}

	case StateProfitWindow:
		if s.position == nil {
			m.log.Warn("profit window without position, resetting side", zap.String("side", string(s.dir)))
			s.park()
			return
		}
		if s.stopBreached(price) {
			if m.closePosition(s, price, ts, stopReason(s.dir)) {
				m.enterWaitWindow(s, ts, s.profitWindowStart, SourceProfit)
			}
			return
		}
		if ts-s.profitWindowStart >= windowMS {
			s.profitWindowStart = ts
			m.log.Debug("profit window restarted",
				zap.String("side", string(s.dir)),
				zap.Int64("startTs", ts))
		}

	case StateWaitForEntry:
		if !s.firstTickSeen {
			s.firstTickSeen = true
			if s.crossesTrigger(price) {
				_ = m.tryOpen(s, price, ts, triggerReason(s.dir))
			}
			return
		}
		if ts-s.waitForEntryStart >= windowMS {
			s.waitForEntryStart = ts
			s.firstTickSeen = false
			m.log.Debug("re-arm window restarted",
				zap.String("side", string(s.dir)),
				zap.Int64("startTs", ts))
		}

	case StateWaitWindow, StateWaitForSignal:
		// wait window not yet expired / nothing to do
	}
}

// latch records the anchor from the first tick after a signal and opens
// the entry window on it. Exactly the next tick decides.
func (s *sideState) latch(price float64, ts int64) {
	s.anchor = price
	s.anchorSet = true
	if s.dir == SideBuy {
		s.trigger = price + entryOffset
		s.stop = price - entryOffset
	} else {
		s.trigger = price - entryOffset
		s.stop = price + entryOffset
	}
	s.state = StateEntryWindow
	s.entryWindowStart = ts
	s.entryTickPending = true
}

func (s *sideState) crossesTrigger(price float64) bool {
	if s.dir == SideBuy {
		return price >= s.trigger
	}
	return price <= s.trigger
}

func (s *sideState) stopBreached(price float64) bool {
	if s.dir == SideBuy {
		return price <= s.position.Stop
	}
	return price >= s.position.Stop
}

// rearm resets the side to SIGNAL for a fresh attempt. Any open position
// is kept; the open guard prevents it from doubling.
func (s *sideState) rearm() {
	pos := s.position
	*s = sideState{dir: s.dir, state: StateSignal, position: pos}
}

// park resets the side to idle, dropping anchors and timers.
func (s *sideState) park() {
	pos := s.position
	*s = sideState{dir: s.dir, state: StateWaitForSignal, position: pos}
}

// enterWaitWindow starts the cool-down with the unused remainder of the
// caller window. A residual of zero or less skips the wait entirely and
// applies the resolution now.
func (m *Machine) enterWaitWindow(s *sideState, ts, callerStart int64, source WindowSource) {
	residual := windowMS - (ts - callerStart)
	if residual <= 0 {
		s.waitWindowStart = ts
		s.waitWindowDur = 0
		s.waitWindowSource = source
		m.resolveWait(s)
		return
	}
	s.state = StateWaitWindow
	s.waitWindowStart = ts
	s.waitWindowDur = residual
	s.waitWindowSource = source
	m.log.Info("wait window entered",
		zap.String("symbol", m.symbol),
		zap.String("side", string(s.dir)),
		zap.Int64("durationMs", residual),
		zap.String("source", string(source)))
}

// resolveWait applies the wait window's outcome. The resumed window starts
// at the scheduled expiry instant so the entry/re-arm budget is measured
// from when the cool-down actually ended.
func (m *Machine) resolveWait(s *sideState) {
	resumeAt := s.waitWindowStart + s.waitWindowDur
	source := s.waitWindowSource
	s.waitWindowStart, s.waitWindowDur, s.waitWindowSource = 0, 0, ""

	switch source {
	case SourceProfit:
		s.state = StateWaitForEntry
		s.waitForEntryStart = resumeAt
		s.firstTickSeen = false
	default:
		s.state = StateEntryWindow
		s.entryWindowStart = resumeAt
		s.entryTickPending = true
	}
	m.log.Info("wait window resolved",
		zap.String("symbol", m.symbol),
		zap.String("side", string(s.dir)),
		zap.String("source", string(source)),
		zap.String("state", string(s.state)),
		zap.Int64("resumedAt", resumeAt))
}

type openResult int

const (
	openOK openResult = iota
	openGated
	openRejected
)

func (m *Machine) tryOpen(s *sideState, price float64, ts int64, reason string) openResult {
	if s.position != nil {
		m.log.Warn("open dropped: side already holds a position",
			zap.String("side", string(s.dir)),
			zap.Float64("price", price))
		return openRejected
	}
	if m.allowOpen != nil && !m.allowOpen() {
		m.log.Warn("open suppressed by session gate",
			zap.String("side", string(s.dir)),
			zap.Float64("price", price))
		return openGated
	}

	meta := OrderMeta{Reason: reason, At: ts}
	var err error
	posSide := PositionLong
	if s.dir == SideBuy {
		meta.Intent = IntentOpenLong
		err = m.trader.PlaceLimitBuy(m.orderQty, price, meta)
	} else {
		posSide = PositionShort
		meta.Intent = IntentOpenShort
		err = m.trader.PlaceLimitSell(m.orderQty, price, meta)
	}
	if err != nil {
		m.log.Error("open failed",
			zap.String("side", string(s.dir)),
			zap.Float64("price", price),
			zap.Error(err))
		return openRejected
	}

	s.position = &Position{
		Side:       posSide,
		Qty:        m.orderQty,
		EntryPrice: price,
		Stop:       s.stop,
		OpenedAt:   ts,
	}
	s.state = StateProfitWindow
	s.profitWindowStart = ts
	m.log.Info("position opened",
		zap.String("symbol", m.symbol),
		zap.String("side", string(posSide)),
		zap.Float64("price", price),
		zap.Float64("qty", m.orderQty),
		zap.Float64("stop", s.stop),
		zap.String("reason", reason))
	return openOK
}

func (m *Machine) closePosition(s *sideState, price float64, ts int64, reason string) bool {
	pos := s.position
	if pos == nil {
		m.log.Warn("close dropped: no open position", zap.String("side", string(s.dir)))
		return false
	}

	meta := OrderMeta{Reason: reason, At: ts}
	var err error
	if s.dir == SideBuy {
		meta.Intent = IntentCloseLong
		err = m.trader.PlaceLimitSell(pos.Qty, price, meta)
	} else {
		meta.Intent = IntentCloseShort
		err = m.trader.PlaceLimitBuy(pos.Qty, price, meta)
	}
	if err != nil {
		m.log.Error("close failed",
			zap.String("side", string(s.dir)),
			zap.Float64("price", price),
			zap.Error(err))
		return false
	}

	s.position = nil
	m.log.Info("position closed",
		zap.String("symbol", m.symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("price", price),
		zap.Float64("qty", pos.Qty),
		zap.String("reason", reason))
	return true
}

func openReason(dir Side) string {
	if dir == SideBuy {
		return ReasonOpenLong
	}
	return ReasonOpenShort
}

func triggerReason(dir Side) string {
	if dir == SideBuy {
		return ReasonLongTrigger
	}
	return ReasonShortTrigger
}

func stopReason(dir Side) string {
	if dir == SideBuy {
		return ReasonLongStop
	}
	return ReasonShortStop
}

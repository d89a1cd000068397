package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeLive  Mode = "LIVE"
)

const tradeRingCap = 50

// TradeRecord is one realized fill as the session saw it, tagged with the
// mode it was booked under.
type TradeRecord struct {
	ID       string  `json:"id"`
	Side     string  `json:"side"`
	Action   string  `json:"action"`
	Qty      float64 `json:"qty"`
	Price    float64 `json:"price"`
	Realized float64 `json:"realized"`
	Reason   string  `json:"reason,omitempty"`
	Mode     Mode    `json:"mode"`
	At       int64   `json:"at"`
}

// Manager gates the engine between PAPER and LIVE. Promotion happens once
// cumulative paper P&L turns positive; a negative cumulative live P&L
// demotes back to paper and arms the daily stop, as does breaching the
// daily loss limit.
type Manager struct {
	mu sync.Mutex

	mode              Mode
	paperCum          float64
	liveCum           float64
	totalLiveRealised float64
	dailyRealised     float64
	dailyLossLimit    float64
	dailyStop         bool

	trades []TradeRecord
	day    string

	log *zap.Logger
}

// New builds a paper-mode manager. dailyLossLimit must be negative; config
// validation enforces that before the manager is built.
func New(dailyLossLimit float64, log *zap.Logger) *Manager {
	return &Manager{
		mode:           ModePaper,
		dailyLossLimit: dailyLossLimit,
		day:            dayKey(time.Now()),
		log:            log,
	}
}

func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// CanOpen reports whether new positions may be opened. The daily stop only
// halts live trading; paper attempts keep running.
func (m *Manager) CanOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !(m.mode == ModeLive && m.dailyStop)
}

// UpdatePaperPnl accumulates a realized paper delta. Crossing zero flips
// the gate to LIVE, once, unless the daily stop is armed.
func (m *Manager) UpdatePaperPnl(delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModePaper {
		m.log.Warn("paper pnl update ignored outside PAPER mode", zap.Float64("delta", delta))
		return
	}
	m.paperCum += delta
	if m.paperCum > 0 && !m.dailyStop {
		m.mode = ModeLive
		m.liveCum = 0
		m.log.Info("session promoted to LIVE",
			zap.Float64("paperCumulativePnl", m.paperCum))
	}
}

// UpdateLivePnl accumulates a realized live delta and applies the two risk
// circuit breakers: live-negative demotes back to PAPER, and a daily
// realized loss at or below the limit arms the daily stop.
func (m *Manager) UpdateLivePnl(delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModeLive {
		m.log.Warn("live pnl update ignored outside LIVE mode", zap.Float64("delta", delta))
		return
	}
	m.liveCum += delta
	m.totalLiveRealised += delta
	m.dailyRealised += delta

	if m.liveCum < 0 {
		m.mode = ModePaper
		m.dailyStop = true
		m.log.Warn("live cumulative pnl negative, demoted to PAPER",
			zap.Float64("liveCumulativePnl", m.liveCum))
	}
	if m.dailyRealised <= m.dailyLossLimit {
		m.dailyStop = true
		m.log.Warn("daily loss limit reached, daily stop armed",
			zap.Float64("dailyRealisedPnl", m.dailyRealised),
			zap.Float64("dailyLossLimit", m.dailyLossLimit))
	}
}

// ApplyRealized routes a closed trade's realized P&L by the current mode
// and appends it to the trade ring.
func (m *Manager) ApplyRealized(trade TradeRecord) {
	mode := m.Mode()
	trade.Mode = mode
	if mode == ModeLive {
		m.UpdateLivePnl(trade.Realized)
	} else {
		m.UpdatePaperPnl(trade.Realized)
	}
	m.mu.Lock()
	m.trades = append(m.trades, trade)
	if len(m.trades) > tradeRingCap {
		m.trades = m.trades[len(m.trades)-tradeRingCap:]
	}
	m.mu.Unlock()
}

// ResetDailyStats clears the daily counters and disarms the daily stop.
func (m *Manager) ResetDailyStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyRealised = 0
	m.dailyStop = false
	m.log.Info("daily stats reset")
}

// RolloverIfNewDay resets the daily stats when the UTC date has changed
// since the last check. Returns true when a reset happened.
func (m *Manager) RolloverIfNewDay(now time.Time) bool {
	key := dayKey(now)
	m.mu.Lock()
	if m.day == key {
		m.mu.Unlock()
		return false
	}
	m.day = key
	m.mu.Unlock()
	m.ResetDailyStats()
	return true
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

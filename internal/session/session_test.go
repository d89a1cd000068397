package session

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newManager() *Manager {
	return New(-500, zap.NewNop())
}

func TestPaperToLiveGate(t *testing.T) {
	m := newManager()
	m.UpdatePaperPnl(-0.5)
	if m.Mode() != ModePaper {
		t.Fatalf("negative paper cumulative must stay PAPER")
	}
	m.UpdatePaperPnl(0.7)
	if m.Mode() != ModeLive {
		t.Fatalf("expected promotion to LIVE at cumulative +0.2")
	}
	if st := m.State(); st.LiveCumulative != 0 {
		t.Fatalf("live cumulative must reset on promotion, got %v", st.LiveCumulative)
	}
}

func TestLiveNegativeFallsBackToPaper(t *testing.T) {
	m := newManager()
	m.UpdatePaperPnl(1.0)
	if m.Mode() != ModeLive {
		t.Fatalf("setup: expected LIVE")
	}
	m.UpdateLivePnl(1.0)
	m.UpdateLivePnl(-1.5)
	if m.Mode() != ModePaper {
		t.Fatalf("live cumulative -0.5 must demote to PAPER")
	}
	st := m.State()
	if !st.DailyStopActive {
		t.Fatalf("demotion must arm the daily stop")
	}
	if st.LiveCumulative != -0.5 {
		t.Fatalf("expected live cumulative -0.5, got %v", st.LiveCumulative)
	}
}

func TestDailyStopBlocksRepromotion(t *testing.T) {
	m := newManager()
	m.UpdatePaperPnl(1.0)
	m.UpdateLivePnl(-1.0) // demote, stop armed
	m.UpdatePaperPnl(5.0) // paper cumulative well positive
	if m.Mode() != ModePaper {
		t.Fatalf("promotion must be blocked while the daily stop is armed")
	}
	m.ResetDailyStats()
	m.UpdatePaperPnl(0.1)
	if m.Mode() != ModeLive {
		t.Fatalf("promotion must work again after the daily reset")
	}
}

func TestDailyLossLimitArmsStop(t *testing.T) {
	m := newManager()
	m.Restore(State{Mode: ModeLive, LiveCumulative: 1000})
	m.UpdateLivePnl(-400)
	if !m.CanOpen() {
		t.Fatalf("stop must not arm above the limit")
	}
	m.UpdateLivePnl(-150)
	// daily realized is -550 while live cumulative stays positive
	st := m.State()
	if !st.DailyStopActive {
		t.Fatalf("daily realized at the limit must arm the stop")
	}
	if st.Mode != ModeLive {
		t.Fatalf("limit breach alone must not demote, got %s", st.Mode)
	}
	if m.CanOpen() {
		t.Fatalf("armed stop must block live opens")
	}
}

func TestCanOpenOnlyGatesLive(t *testing.T) {
	m := newManager()
	if !m.CanOpen() {
		t.Fatalf("paper mode must allow opens")
	}
	m.UpdatePaperPnl(1.0)
	m.mu.Lock()
	m.dailyStop = true
	m.mu.Unlock()
	if m.CanOpen() {
		t.Fatalf("live mode with daily stop must block opens")
	}
}

func TestUpdatesIgnoredInWrongMode(t *testing.T) {
	m := newManager()
	m.UpdateLivePnl(10)
	if st := m.State(); st.LiveCumulative != 0 || st.TotalLiveRealised != 0 {
		t.Fatalf("live update in PAPER mode must be dropped: %+v", st)
	}
	m.UpdatePaperPnl(1.0)
	m.UpdatePaperPnl(2.0)
	if st := m.State(); st.PaperCumulative != 1.0 {
		t.Fatalf("paper update in LIVE mode must be dropped, got %v", st.PaperCumulative)
	}
}

func TestApplyRealizedRoutesByModeAndRingCaps(t *testing.T) {
	m := newManager()
	for i := 0; i < tradeRingCap+10; i++ {
		m.ApplyRealized(TradeRecord{ID: fmt.Sprintf("t%d", i), Action: "CLOSE", Realized: -0.01, At: int64(i)})
	}
	st := m.State()
	if len(st.Trades) != tradeRingCap {
		t.Fatalf("expected ring capped at %d, got %d", tradeRingCap, len(st.Trades))
	}
	if st.Mode != ModePaper {
		t.Fatalf("losing paper trades must not promote")
	}
	if st.Trades[0].Mode != ModePaper {
		t.Fatalf("records must be tagged with the booking mode")
	}

	m.ApplyRealized(TradeRecord{ID: "win", Action: "CLOSE", Realized: 10, At: 99})
	if m.Mode() != ModeLive {
		t.Fatalf("positive paper cumulative must promote")
	}
	m.ApplyRealized(TradeRecord{ID: "live-loss", Action: "CLOSE", Realized: -1, At: 100})
	if m.Mode() != ModePaper {
		t.Fatalf("live trade driving cumulative negative must demote")
	}
}

func TestRollover(t *testing.T) {
	m := newManager()
	m.UpdatePaperPnl(1.0)
	m.UpdateLivePnl(-600) // arm stop via limit
	if !m.State().DailyStopActive {
		t.Fatalf("setup: stop must be armed")
	}
	now := time.Date(2026, 8, 26, 23, 59, 0, 0, time.UTC)
	m.mu.Lock()
	m.day = dayKey(now)
	m.mu.Unlock()

	if m.RolloverIfNewDay(now) {
		t.Fatalf("same day must not roll over")
	}
	if !m.RolloverIfNewDay(now.Add(2 * time.Minute)) {
		t.Fatalf("UTC day change must roll over")
	}
	st := m.State()
	if st.DailyRealised != 0 || st.DailyStopActive {
		t.Fatalf("rollover must clear daily stats: %+v", st)
	}
	if st.TotalLiveRealised != -600 {
		t.Fatalf("rollover must not touch lifetime counters, got %v", st.TotalLiveRealised)
	}
}

func TestStateRoundTrip(t *testing.T) {
	m := newManager()
	m.UpdatePaperPnl(1.0)
	m.UpdateLivePnl(2.5)
	m.ApplyRealized(TradeRecord{ID: "x", Action: "CLOSE", Realized: 0.5, At: 1})

	restored := newManager()
	restored.Restore(m.State())
	a, b := m.State(), restored.State()
	if fmt.Sprintf("%+v", a) != fmt.Sprintf("%+v", b) {
		t.Fatalf("state round trip mismatch:\n%+v\n%+v", a, b)
	}
}

package strategy

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

type order struct {
	buy   bool
	qty   float64
	price float64
	meta  OrderMeta
}

type recordingTrader struct {
	orders []order
	err    error
}

func (r *recordingTrader) PlaceLimitBuy(qty, price float64, meta OrderMeta) error {
	if r.err != nil {
		return r.err
	}
	r.orders = append(r.orders, order{buy: true, qty: qty, price: price, meta: meta})
	return nil
}

func (r *recordingTrader) PlaceLimitSell(qty, price float64, meta OrderMeta) error {
	if r.err != nil {
		return r.err
	}
	r.orders = append(r.orders, order{buy: false, qty: qty, price: price, meta: meta})
	return nil
}

func newTestMachine(t *testing.T) (*Machine, *recordingTrader) {
	t.Helper()
	tr := &recordingTrader{}
	return New("BTCUSDT", 1, tr, zap.NewNop()), tr
}

func buySide(m *Machine) SideSnapshot  { return m.Snapshot().Buy }
func sellSide(m *Machine) SideSnapshot { return m.Snapshot().Sell }

func TestSignalLatchesAnchorsOnNextTick(t *testing.T) {
	m, _ := newTestMachine(t)

	m.OnSignal(SideBuy, "Accepted Entry", 500)
	if got := buySide(m).State; got != StateSignal {
		t.Fatalf("expected SIGNAL after webhook, got %s", got)
	}

	m.OnTick(100.0, 1000)
	side := buySide(m)
	if side.State != StateEntryWindow {
		t.Fatalf("expected ENTRY_WINDOW, got %s", side.State)
	}
	if !side.AnchorSet || side.Anchor != 100.0 || side.EntryTrigger != 100.5 || side.StopPrice != 99.5 {
		t.Fatalf("bad anchors: %+v", side)
	}
	if !side.EntryTickPending || side.EntryWindowStart != 1000 {
		t.Fatalf("entry window not armed: %+v", side)
	}
}

func TestEntryOpenAndStopOut(t *testing.T) {
	m, tr := newTestMachine(t)

	m.OnSignal(SideBuy, "Accepted Entry", 500)
	m.OnTick(100.0, 1000)
	m.OnTick(100.6, 2000)

	side := buySide(m)
	if side.State != StateProfitWindow || side.ProfitWindowStart != 2000 {
		t.Fatalf("expected PROFIT_WINDOW at 2000, got %+v", side)
	}
	if side.Position == nil || side.Position.EntryPrice != 100.6 || side.Position.Stop != 99.5 {
		t.Fatalf("bad position: %+v", side.Position)
	}
	if len(tr.orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(tr.orders))
	}
	open := tr.orders[0]
	if !open.buy || open.price != 100.6 || open.meta.Intent != IntentOpenLong || open.meta.Reason != ReasonOpenLong {
		t.Fatalf("bad open order: %+v", open)
	}

	// stop breach closes and starts the residual wait from the profit window
	m.OnTick(99.4, 3000)
	side = buySide(m)
	if side.State != StateWaitWindow {
		t.Fatalf("expected WAIT_WINDOW after stop-out, got %s", side.State)
	}
	if side.WaitWindowDuration != 59000 || side.WaitWindowSource != SourceProfit || side.WaitWindowStart != 3000 {
		t.Fatalf("bad wait window: %+v", side)
	}
	if side.Position != nil {
		t.Fatalf("position must be flat after stop-out")
	}
	stop := tr.orders[1]
	if stop.buy || stop.price != 99.4 || stop.meta.Intent != IntentCloseLong || stop.meta.Reason != ReasonLongStop {
		t.Fatalf("bad stop order: %+v", stop)
	}
}

func TestEntryMissStartsResidualWait(t *testing.T) {
	m, tr := newTestMachine(t)

	m.OnSignal(SideBuy, "Accepted Entry", 0)
	m.OnTick(100.0, 1000)
	m.OnTick(100.2, 2000) // below the 100.5 trigger

	side := buySide(m)
	if side.State != StateWaitWindow {
		t.Fatalf("expected WAIT_WINDOW after miss, got %s", side.State)
	}
	if side.WaitWindowDuration != 59000 || side.WaitWindowSource != SourceEntry {
		t.Fatalf("bad residual: %+v", side)
	}
	if len(tr.orders) != 0 {
		t.Fatalf("miss must not place orders, got %+v", tr.orders)
	}

	// ticks inside the wait change nothing
	m.OnTick(100.9, 30000)
	if got := buySide(m).State; got != StateWaitWindow {
		t.Fatalf("wait window broke early: %s", got)
	}

	// the expiring tick resolves at the scheduled instant (61000) and then
	// decides the fresh entry window itself
	m.OnTick(100.6, 61500)
	side = buySide(m)
	if side.State != StateProfitWindow {
		t.Fatalf("expected open on resolving tick, got %s", side.State)
	}
	if len(tr.orders) != 1 || tr.orders[0].price != 100.6 || tr.orders[0].meta.Reason != ReasonOpenLong {
		t.Fatalf("bad resolved open: %+v", tr.orders)
	}
}

func TestRearmWindowFirstTickOnly(t *testing.T) {
	m, tr := newTestMachine(t)

	// open then stop out to reach the re-arm phase
	m.OnSignal(SideBuy, "Accepted Entry", 0)
	m.OnTick(100.0, 1000)
	m.OnTick(100.6, 2000)
	m.OnTick(99.4, 3000)
	tr.orders = nil

	// wait resolves at 62000 into WAIT_FOR_ENTRY; this tick is its first
	// tick and misses the still-latched 100.5 trigger
	m.OnTick(100.0, 62000)
	side := buySide(m)
	if side.State != StateWaitForEntry || side.WaitForEntryStart != 62000 || !side.FirstTickSeen {
		t.Fatalf("bad re-arm state: %+v", side)
	}

	// later ticks in the same 60s cycle are ignored even when they cross
	m.OnTick(100.9, 70000)
	if len(tr.orders) != 0 {
		t.Fatalf("non-first tick must not open, got %+v", tr.orders)
	}

	// cycle expiry restarts the window; the restarting tick is consumed
	m.OnTick(100.2, 122500)
	side = buySide(m)
	if side.WaitForEntryStart != 122500 || side.FirstTickSeen {
		t.Fatalf("re-arm window did not restart: %+v", side)
	}

	// next tick is the fresh first tick and crosses
	m.OnTick(100.7, 123000)
	side = buySide(m)
	if side.State != StateProfitWindow {
		t.Fatalf("expected open from re-arm, got %s", side.State)
	}
	if len(tr.orders) != 1 || tr.orders[0].price != 100.7 || tr.orders[0].meta.Reason != ReasonLongTrigger {
		t.Fatalf("bad re-arm open: %+v", tr.orders)
	}
}

func TestSidesRunIndependently(t *testing.T) {
	m, tr := newTestMachine(t)

	m.OnSignal(SideBuy, "Accepted Entry", 0)
	m.OnSignal(SideSell, "Accepted Exit", 0)
	m.OnTick(100.0, 1000)

	buy, sell := buySide(m), sellSide(m)
	if buy.EntryTrigger != 100.5 || buy.StopPrice != 99.5 {
		t.Fatalf("bad buy anchors: %+v", buy)
	}
	if sell.EntryTrigger != 99.5 || sell.StopPrice != 100.5 {
		t.Fatalf("bad sell anchors: %+v", sell)
	}

	// one tick: long opens, short misses and cools down on its residual
	m.OnTick(100.6, 1001)
	buy, sell = buySide(m), sellSide(m)
	if buy.State != StateProfitWindow || buy.Position == nil || buy.Position.Side != PositionLong {
		t.Fatalf("long did not open: %+v", buy)
	}
	if sell.State != StateWaitWindow || sell.WaitWindowDuration != 59999 || sell.WaitWindowSource != SourceEntry {
		t.Fatalf("short residual wrong: %+v", sell)
	}
	if len(tr.orders) != 1 || tr.orders[0].meta.Intent != IntentOpenLong {
		t.Fatalf("expected only the long open, got %+v", tr.orders)
	}
}

func TestSignalRelatchKeepsOpenPosition(t *testing.T) {
	m, tr := newTestMachine(t)

	m.OnSignal(SideBuy, "Accepted Entry", 0)
	m.OnTick(100.0, 1000)
	m.OnTick(100.6, 2000)
	tr.orders = nil

	// a fresh signal re-latches anchors but the held position blocks a
	// second open
	m.OnSignal(SideBuy, "Accepted Entry", 3000)
	m.OnTick(102.0, 4000)
	side := buySide(m)
	if side.Anchor != 102.0 || side.EntryTrigger != 102.5 {
		t.Fatalf("anchors did not re-latch: %+v", side)
	}
	if side.Position == nil || side.Position.EntryPrice != 100.6 {
		t.Fatalf("position must survive a re-signal: %+v", side.Position)
	}

	m.OnTick(102.6, 5000)
	if len(tr.orders) != 0 {
		t.Fatalf("held position must block doubling, got %+v", tr.orders)
	}
}

func TestZeroResidualSkipsWait(t *testing.T) {
	m, tr := newTestMachine(t)

	m.OnSignal(SideBuy, "Accepted Entry", 0)
	m.OnTick(100.0, 1000)
	// the deciding tick lands exactly at the window end: residual is zero,
	// so the entry window restarts immediately instead of waiting
	m.OnTick(100.2, 61000)

	side := buySide(m)
	if side.State != StateEntryWindow || side.EntryWindowStart != 61000 || !side.EntryTickPending {
		t.Fatalf("expected immediate entry restart: %+v", side)
	}

	m.OnTick(100.6, 61200)
	if len(tr.orders) != 1 || tr.orders[0].price != 100.6 {
		t.Fatalf("restarted window did not open: %+v", tr.orders)
	}
}

func TestOpenGateDegradesToMiss(t *testing.T) {
	m, tr := newTestMachine(t)
	allow := false
	m.SetOpenGate(func() bool { return allow })

	m.OnSignal(SideBuy, "Accepted Entry", 0)
	m.OnTick(100.0, 1000)
	m.OnTick(100.6, 2000) // crosses, but the gate is shut

	side := buySide(m)
	if side.State != StateWaitWindow || side.WaitWindowSource != SourceEntry {
		t.Fatalf("gated open must take the miss path: %+v", side)
	}
	if len(tr.orders) != 0 {
		t.Fatalf("gated open must not place orders, got %+v", tr.orders)
	}

	allow = true
	m.OnTick(100.8, 61500) // resolves the wait and opens
	if got := buySide(m).State; got != StateProfitWindow {
		t.Fatalf("expected open once gate reopens, got %s", got)
	}
}

func TestPlacementFailureLeavesWindowOpen(t *testing.T) {
	tr := &recordingTrader{err: errors.New("broker down")}
	m := New("BTCUSDT", 1, tr, zap.NewNop())

	m.OnSignal(SideBuy, "Accepted Entry", 0)
	m.OnTick(100.0, 1000)
	m.OnTick(100.6, 2000)

	side := buySide(m)
	if side.State != StateEntryWindow || side.Position != nil {
		t.Fatalf("failed placement must not transition: %+v", side)
	}
}

func TestManualCloseRequiresTick(t *testing.T) {
	m, _ := newTestMachine(t)
	if _, ok := m.ManualClose(); ok {
		t.Fatal("manual close must fail before any tick")
	}
}

func TestManualCloseFlattensBothSides(t *testing.T) {
	m, tr := newTestMachine(t)

	// long opens at 100.6
	m.OnSignal(SideBuy, "Accepted Entry", 0)
	m.OnTick(100.0, 1000)
	m.OnTick(100.6, 2000)
	// short latches at 100.6 (trigger 100.1) and opens on the drop
	m.OnSignal(SideSell, "Accepted Exit", 2500)
	m.OnTick(100.6, 3000)
	m.OnTick(100.0, 4000)
	tr.orders = nil

	res, ok := m.ManualClose()
	if !ok || !res.ClosedLong || !res.ClosedShort {
		t.Fatalf("unexpected close result: %+v ok=%v", res, ok)
	}
	if res.Price != 100.0 || res.At != 4000 {
		t.Fatalf("close must use the last tick: %+v", res)
	}
	if len(tr.orders) != 2 {
		t.Fatalf("expected two closing orders, got %+v", tr.orders)
	}
	for _, o := range tr.orders {
		if o.meta.Reason != ReasonManualOverride {
			t.Fatalf("close reason: %+v", o)
		}
	}
	buy, sell := buySide(m), sellSide(m)
	if buy.State != StateWaitForSignal || sell.State != StateWaitForSignal {
		t.Fatalf("sides must park after close: %s / %s", buy.State, sell.State)
	}
	if buy.AnchorSet || sell.AnchorSet {
		t.Fatal("anchors must clear on manual close")
	}
}

func TestUnknownSignalSideDropped(t *testing.T) {
	m, _ := newTestMachine(t)
	m.OnSignal(Side("HOLD"), "noise", 100)

	snap := m.Snapshot()
	if len(snap.Signals) != 0 {
		t.Fatalf("unknown side must not enter history: %+v", snap.Signals)
	}
	if snap.Buy.State != StateWaitForSignal || snap.Sell.State != StateWaitForSignal {
		t.Fatalf("unknown side must not move a machine: %+v", snap)
	}
}

func TestSignalHistoryBounded(t *testing.T) {
	m, _ := newTestMachine(t)
	for i := 0; i < signalHistoryCap+5; i++ {
		m.OnSignal(SideBuy, "Accepted Entry", int64(i))
	}
	snap := m.Snapshot()
	if len(snap.Signals) != signalHistoryCap {
		t.Fatalf("expected %d signals, got %d", signalHistoryCap, len(snap.Signals))
	}
	if snap.Signals[len(snap.Signals)-1].At != int64(signalHistoryCap+4) {
		t.Fatalf("history must keep the newest entries: %+v", snap.Signals)
	}
}

package app

import (
	"github.com/nidhinvijay/BTCUSDT/internal/pnl"
	"github.com/nidhinvijay/BTCUSDT/internal/session"
	"github.com/nidhinvijay/BTCUSDT/internal/strategy"
)

// SideAnchors is one side's latched anchor prices.
type SideAnchors struct {
	Set          bool    `json:"set"`
	Anchor       float64 `json:"anchor"`
	EntryTrigger float64 `json:"entryTrigger"`
	Stop         float64 `json:"stop"`
}

type Anchors struct {
	Buy  SideAnchors `json:"buy"`
	Sell SideAnchors `json:"sell"`
}

// SideTimers is one side's window bookkeeping, in epoch milliseconds.
type SideTimers struct {
	EntryWindowStartTs   int64                 `json:"entryWindowStartTs"`
	ProfitWindowStartTs  int64                 `json:"profitWindowStartTs"`
	WaitWindowStartTs    int64                 `json:"waitWindowStartTs"`
	WaitWindowDurationMs int64                 `json:"waitWindowDurationMs"`
	WaitWindowSource     strategy.WindowSource `json:"waitWindowSource,omitempty"`
	WaitForEntryStartTs  int64                 `json:"waitForEntryStartTs"`
}

type Timers struct {
	Buy  SideTimers `json:"buy"`
	Sell SideTimers `json:"sell"`
}

// Status is the full live view served over GET /status.
type Status struct {
	Symbol        string                  `json:"symbol"`
	Mode          session.Mode            `json:"mode"`
	BuyState      strategy.State          `json:"buyState"`
	SellState     strategy.State          `json:"sellState"`
	LongPosition  *strategy.Position      `json:"longPosition"`
	ShortPosition *strategy.Position      `json:"shortPosition"`
	Anchors       Anchors                 `json:"anchors"`
	SignalHistory []strategy.SignalRecord `json:"signalHistory"`
	Pnl           pnl.Snapshot            `json:"pnl"`
	Session       session.State           `json:"session"`
	Timers        Timers                  `json:"timers"`
}

func (a *App) buildStatus() Status {
	fsm := a.machine.Snapshot()
	return Status{
		Symbol:        a.cfg.Engine.Symbol,
		Mode:          a.session.Mode(),
		BuyState:      fsm.Buy.State,
		SellState:     fsm.Sell.State,
		LongPosition:  fsm.Buy.Position,
		ShortPosition: fsm.Sell.Position,
		Anchors: Anchors{
			Buy:  sideAnchors(fsm.Buy),
			Sell: sideAnchors(fsm.Sell),
		},
		SignalHistory: fsm.Signals,
		Pnl:           a.book.Snapshot(),
		Session:       a.session.State(),
		Timers: Timers{
			Buy:  sideTimers(fsm.Buy),
			Sell: sideTimers(fsm.Sell),
		},
	}
}

func sideAnchors(s strategy.SideSnapshot) SideAnchors {
	return SideAnchors{
		Set:          s.AnchorSet,
		Anchor:       s.Anchor,
		EntryTrigger: s.EntryTrigger,
		Stop:         s.StopPrice,
	}
}

func sideTimers(s strategy.SideSnapshot) SideTimers {
	return SideTimers{
		EntryWindowStartTs:   s.EntryWindowStart,
		ProfitWindowStartTs:  s.ProfitWindowStart,
		WaitWindowStartTs:    s.WaitWindowStart,
		WaitWindowDurationMs: s.WaitWindowDuration,
		WaitWindowSource:     s.WaitWindowSource,
		WaitForEntryStartTs:  s.WaitForEntryStart,
	}
}

package strategy

type Side string

type State string

type WindowSource string

type PositionSide string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	StateWaitForSignal State = "WAIT_FOR_SIGNAL"
	StateSignal        State = "SIGNAL"
	StateEntryWindow   State = "ENTRY_WINDOW"
	StateProfitWindow  State = "PROFIT_WINDOW"
	StateWaitWindow    State = "WAIT_WINDOW"
	StateWaitForEntry  State = "WAIT_FOR_ENTRY"
)

const (
	SourceEntry  WindowSource = "ENTRY"
	SourceProfit WindowSource = "PROFIT"
)

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// windowMS is the budget shared by the entry and profit phases; entryOffset
// is the distance from the anchor to the trigger and to the stop, in price
// units, so trigger minus stop is always exactly twice the offset.
const (
	windowMS    int64   = 60_000
	entryOffset float64 = 0.5
)

// Position is a side's open position as the machine sees it. Qty is fixed
// at open; Stop is latched from the anchors at open and never moves.
type Position struct {
	Side       PositionSide `json:"side"`
	Qty        float64      `json:"qty"`
	EntryPrice float64      `json:"entryPrice"`
	Stop       float64      `json:"stop"`
	OpenedAt   int64        `json:"openedAt"`
}

// SignalRecord is one accepted webhook signal, kept in a short shared ring
// for the status view.
type SignalRecord struct {
	Side    Side   `json:"side"`
	Message string `json:"message,omitempty"`
	At      int64  `json:"at"`
}

const signalHistoryCap = 10

// OrderIntent tags every order so the broker can classify it without
// inspecting reason strings. Reasons survive purely as trade annotations.
type OrderIntent int

const (
	IntentOpenLong OrderIntent = iota
	IntentCloseLong
	IntentOpenShort
	IntentCloseShort
)

func (i OrderIntent) String() string {
	switch i {
	case IntentOpenLong:
		return "OPEN_LONG"
	case IntentCloseLong:
		return "CLOSE_LONG"
	case IntentOpenShort:
		return "OPEN_SHORT"
	case IntentCloseShort:
		return "CLOSE_SHORT"
	default:
		return "UNKNOWN"
	}
}

// Reason annotations carried on orders and trades.
const (
	ReasonOpenLong       = "OPEN_LONG"
	ReasonOpenShort      = "OPEN_SHORT"
	ReasonLongTrigger    = "LONG_TRIGGER_HIT"
	ReasonShortTrigger   = "SHORT_TRIGGER_HIT"
	ReasonLongStop       = "LONG_STOP_HIT"
	ReasonShortStop      = "SHORT_STOP_HIT"
	ReasonManualOverride = "MANUAL_OVERRIDE"
)

// OrderMeta rides along with each placement. At is the tick timestamp that
// produced the order, in epoch milliseconds.
type OrderMeta struct {
	Intent OrderIntent
	Reason string
	At     int64
}

// Trader fills the machine's orders. A buy order opens the long book or
// closes the short book depending on the intent; mirrored for sell.
type Trader interface {
	PlaceLimitBuy(qty, price float64, meta OrderMeta) error
	PlaceLimitSell(qty, price float64, meta OrderMeta) error
}

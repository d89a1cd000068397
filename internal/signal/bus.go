package signal

import (
	"sync"

	"go.uber.org/zap"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Event is one accepted trading signal. At is epoch milliseconds.
type Event struct {
	Side       Side   `json:"side"`
	Message    string `json:"message"`
	RawMessage string `json:"rawMessage,omitempty"`
	At         int64  `json:"at"`
}

type Handler func(Event)

// Bus delivers BUY and SELL events to subscribers synchronously in
// registration order, on the publisher's goroutine. There is no buffering:
// handlers must not block.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Side][]Handler
	log      *zap.Logger
}

func NewBus(log *zap.Logger) *Bus {
	return &Bus{handlers: make(map[Side][]Handler), log: log}
}

func (b *Bus) Subscribe(side Side, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[side] = append(b.handlers[side], h)
}

// SubscribeAll registers a handler on both topics.
func (b *Bus) SubscribeAll(h Handler) {
	b.Subscribe(Buy, h)
	b.Subscribe(Sell, h)
}

func (b *Bus) Publish(ev Event) {
	if ev.Side != Buy && ev.Side != Sell {
		b.log.Warn("signal with unknown side dropped", zap.String("side", string(ev.Side)))
		return
	}
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.Side]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

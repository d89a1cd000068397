package market

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"

	"github.com/nidhinvijay/BTCUSDT/internal/binance/ws"

	"go.uber.org/zap"
)

// Counter is satisfied by metrics counters.
type Counter interface {
	Inc()
}

// Feed subscribes to a symbol's trade stream and turns frames into Ticks
// on a buffered channel. When the consumer falls behind, ticks are dropped
// rather than blocking the read loop.
type Feed struct {
	client *ws.Client
	symbol string
	out    chan Tick
	log    *zap.Logger

	dropCount   atomic.Int64
	dropCounter Counter
	tickCounter Counter
}

func NewFeed(client *ws.Client, symbol string, queueSize int, log *zap.Logger) *Feed {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Feed{
		client: client,
		symbol: symbol,
		out:    make(chan Tick, queueSize),
		log:    log,
	}
}

// SetCounters attaches metrics for delivered and dropped ticks. Must be
// called before Start.
func (f *Feed) SetCounters(ticks, dropped Counter) {
	f.tickCounter = ticks
	f.dropCounter = dropped
}

func (f *Feed) Ticks() <-chan Tick {
	return f.out
}

// Dropped reports how many ticks were discarded because the queue was full.
func (f *Feed) Dropped() int64 {
	return f.dropCount.Load()
}

// Start registers the trade-stream subscription and launches the client
// read loop. The loop reconnects on its own; if it exhausts its budget the
// feed goes quiet and the engine keeps running on webhook signals alone.
func (f *Feed) Start(ctx context.Context) error {
	sub := map[string]any{
		"method": "SUBSCRIBE",
		"params": []string{strings.ToLower(f.symbol) + "@trade"},
		"id":     1,
	}
	if err := f.client.Subscribe(ctx, sub); err != nil {
		return err
	}
	go func() {
		if err := f.client.Run(ctx, f.handleMessage); err != nil && ctx.Err() == nil {
			f.log.Error("market stream terminated", zap.Error(err))
		}
	}()
	return nil
}

func (f *Feed) handleMessage(msg json.RawMessage) {
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		f.log.Debug("feed decode error", zap.Error(err))
		return
	}
	tick, ok := parseTrade(payload)
	if !ok {
		return
	}
	select {
	case f.out <- tick:
		if f.tickCounter != nil {
			f.tickCounter.Inc()
		}
	default:
		if f.dropCounter != nil {
			f.dropCounter.Inc()
		}
		if f.dropCount.Add(1) == 1 {
			f.log.Warn("tick queue full, dropping", zap.String("symbol", f.symbol))
		}
	}
}

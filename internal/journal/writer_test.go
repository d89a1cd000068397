package journal

import (
	"testing"
	"time"

	"github.com/nidhinvijay/BTCUSDT/internal/config"

	"go.uber.org/zap"
)

func TestDisabledJournalIsNil(t *testing.T) {
	w, err := New(config.JournalConfig{Enabled: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("disabled journal must not error: %v", err)
	}
	if w != nil {
		t.Fatalf("disabled journal must be nil")
	}
}

func TestEnabledWithoutDSNFails(t *testing.T) {
	if _, err := New(config.JournalConfig{Enabled: true}, zap.NewNop()); err == nil {
		t.Fatalf("expected error for enabled journal without dsn")
	}
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	w.Start(nil)
	w.EnqueueTrade(TradeRow{At: time.Now(), Symbol: "BTCUSDT"})
	w.EnqueueEquity(EquityRow{At: time.Now()})
	w.SetDropCounter(nil)
	if w.Dropped() != 0 {
		t.Fatalf("nil writer must report zero drops")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	// Construct without a database: the writer is never started so rows
	// stay queued and the overflow path is exercised.
	w := &Writer{
		log:    zap.NewNop(),
		trades: make(chan TradeRow, 2),
		equity: make(chan EquityRow, 1),
	}
	for i := 0; i < 5; i++ {
		w.EnqueueTrade(TradeRow{Symbol: "BTCUSDT"})
	}
	w.EnqueueEquity(EquityRow{})
	w.EnqueueEquity(EquityRow{})
	if got := w.Dropped(); got != 4 {
		t.Fatalf("expected 4 dropped rows, got %d", got)
	}
}

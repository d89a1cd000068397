// Command replay drives the state machines over recorded ticks and signals
// and prints the resulting trade book. Useful for checking strategy changes
// against captured market data without a feed or HTTP edge.
//
// Both inputs are newline-delimited JSON:
//
//	ticks:   {"price": 100.2, "ts": 1700000000000}
//	signals: {"side": "BUY", "message": "Accepted Entry", "at": 1700000000500}
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/nidhinvijay/BTCUSDT/internal/broker"
	"github.com/nidhinvijay/BTCUSDT/internal/pnl"
	"github.com/nidhinvijay/BTCUSDT/internal/session"
	"github.com/nidhinvijay/BTCUSDT/internal/strategy"

	"go.uber.org/zap"
)

type tickEvent struct {
	Price float64 `json:"price"`
	TS    int64   `json:"ts"`
}

type signalEvent struct {
	Side    string `json:"side"`
	Message string `json:"message"`
	At      int64  `json:"at"`
}

func main() {
	ticksPath := flag.String("ticks", "", "NDJSON tick file (required)")
	signalsPath := flag.String("signals", "", "NDJSON signal file (optional)")
	symbol := flag.String("symbol", "BTCUSDT", "instrument symbol")
	qty := flag.Float64("qty", 0.001, "order quantity")
	dailyLossLimit := flag.Float64("daily-loss-limit", -500, "daily loss stop threshold")
	verbose := flag.Bool("v", false, "log every machine decision")
	flag.Parse()
	log.SetFlags(0)

	if *ticksPath == "" {
		log.Fatal("replay: -ticks is required")
	}
	ticks := mustReadLines[tickEvent](*ticksPath)
	var signals []signalEvent
	if *signalsPath != "" {
		signals = mustReadLines[signalEvent](*signalsPath)
	}

	logger := zap.NewNop()
	if *verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			log.Fatalf("replay: logger: %v", err)
		}
	}

	book := pnl.New(*symbol, logger)
	sess := session.New(*dailyLossLimit, logger)
	paper := broker.NewPaper(book, logger)
	machine := strategy.New(*symbol, *qty, paper, logger)
	machine.SetOpenGate(sess.CanOpen)
	paper.SetTradeHook(func(trade pnl.Trade) {
		if trade.Action != pnl.ActionClose {
			return
		}
		sess.ApplyRealized(session.TradeRecord{
			ID:       trade.ID,
			Side:     string(trade.Side),
			Action:   string(trade.Action),
			Qty:      trade.Qty,
			Price:    trade.Price,
			Realized: trade.Realized,
			Reason:   trade.Reason,
			At:       trade.At,
		})
	})

	// Merge by timestamp; a signal at the same instant as a tick is applied
	// first, matching webhook-before-feed ordering in the live engine.
	ti, si := 0, 0
	for ti < len(ticks) || si < len(signals) {
		if si < len(signals) && (ti >= len(ticks) || signals[si].At <= ticks[ti].TS) {
			ev := signals[si]
			si++
			machine.OnSignal(strategy.Side(ev.Side), ev.Message, ev.At)
			continue
		}
		tk := ticks[ti]
		ti++
		machine.OnTick(tk.Price, tk.TS)
		book.UpdateMark(tk.Price)
	}

	printReport(*symbol, len(ticks), len(signals), book.Snapshot(), sess.State())
}

func mustReadLines[T any](path string) []T {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("replay: %v", err)
	}
	defer f.Close()

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			log.Fatalf("replay: %s:%d: %v", path, line, err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		log.Fatalf("replay: %s: %v", path, err)
	}
	return out
}

func printReport(symbol string, ticks, signals int, snap pnl.Snapshot, sess session.State) {
	fmt.Printf("replay %s: %d ticks, %d signals\n", symbol, ticks, signals)
	fmt.Printf("  mode             %s\n", sess.Mode)
	fmt.Printf("  realized pnl     %+.2f\n", snap.RealizedPnl)
	fmt.Printf("  unrealized pnl   %+.2f\n", snap.UnrealizedPnl)
	fmt.Printf("  total pnl        %+.2f (%.2f%%)\n", snap.TotalPnl, snap.Metrics.PnlPercentage)
	fmt.Printf("  trades           %d (%d wins / %d losses)\n", snap.TradeCount, snap.Metrics.WinCount, snap.Metrics.LossCount)
	fmt.Printf("  win rate         %.2f%%\n", snap.Metrics.WinRate)
	fmt.Printf("  profit factor    %.2f\n", snap.Metrics.ProfitFactor)
	fmt.Printf("  best / worst     %+.2f / %+.2f\n", snap.Metrics.BestTrade, snap.Metrics.WorstTrade)
	fmt.Printf("  avg trade pnl    %+.2f\n", snap.Metrics.AvgTradePnl)
	if snap.LongPosition != nil {
		fmt.Printf("  open long        %.4f @ %.2f\n", snap.LongPosition.Qty, snap.LongPosition.AvgPrice)
	}
	if snap.ShortPosition != nil {
		fmt.Printf("  open short       %.4f @ %.2f\n", snap.ShortPosition.Qty, snap.ShortPosition.AvgPrice)
	}
}

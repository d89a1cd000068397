package journal

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nidhinvijay/BTCUSDT/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Counter is satisfied by metrics counters.
type Counter interface {
	Inc()
}

// TradeRow is one booked fill bound for the trades table.
type TradeRow struct {
	At       time.Time
	Symbol   string
	Side     string
	Action   string
	Qty      float64
	Price    float64
	Realized float64
	Mode     string
	Reason   string
}

// EquityRow is a periodic P&L observation bound for equity_snapshots.
type EquityRow struct {
	At            time.Time
	Symbol        string
	Mode          string
	Realized      float64
	Unrealized    float64
	PaperCum      float64
	LiveCum       float64
	DailyRealised float64
}

// Writer journals trades and equity snapshots to Postgres asynchronously.
// Rows are enqueued on channels and dropped with a warning when the queue
// is full; a journal outage never slows the dispatcher down.
type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	trades  chan TradeRow
	equity  chan EquityRow
	started atomic.Bool

	dropTrades atomic.Uint64
	dropEquity atomic.Uint64
	dropped    Counter
}

// New returns nil when the journal is disabled; the nil receiver is safe
// on every method.
func New(cfg config.JournalConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("journal dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{
		db:     db,
		log:    log,
		trades: make(chan TradeRow, queueSize),
		equity: make(chan EquityRow, queueSize),
	}
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

// SetDropCounter attaches a counter incremented once per dropped row.
func (w *Writer) SetDropCounter(c Counter) {
	if w == nil {
		return
	}
	w.dropped = c
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueTrade(row TradeRow) {
	if w == nil {
		return
	}
	select {
	case w.trades <- row:
	default:
		w.drop(&w.dropTrades, "journal trade queue full")
	}
}

func (w *Writer) EnqueueEquity(row EquityRow) {
	if w == nil {
		return
	}
	select {
	case w.equity <- row:
	default:
		w.drop(&w.dropEquity, "journal equity queue full")
	}
}

// Dropped reports how many rows were discarded because a queue was full.
func (w *Writer) Dropped() uint64 {
	if w == nil {
		return 0
	}
	return w.dropTrades.Load() + w.dropEquity.Load()
}

func (w *Writer) drop(counter *atomic.Uint64, msg string) {
	if w.dropped != nil {
		w.dropped.Inc()
	}
	if counter.Add(1) == 1 && w.log != nil {
		w.log.Warn(msg)
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.trades:
			w.writeTrade(ctx, row)
		case row := <-w.equity:
			w.writeEquity(ctx, row)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if err := w.exec(ctx, `CREATE TABLE IF NOT EXISTS trades (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		action TEXT NOT NULL,
		qty DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		realized DOUBLE PRECISION NOT NULL DEFAULT 0,
		mode TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	)`); err != nil {
		return err
	}
	return w.exec(ctx, `CREATE TABLE IF NOT EXISTS equity_snapshots (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		mode TEXT NOT NULL,
		realized DOUBLE PRECISION NOT NULL,
		unrealized DOUBLE PRECISION NOT NULL,
		paper_cum DOUBLE PRECISION NOT NULL,
		live_cum DOUBLE PRECISION NOT NULL,
		daily_realised DOUBLE PRECISION NOT NULL
	)`)
}

func (w *Writer) writeTrade(ctx context.Context, row TradeRow) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if _, err := w.db.ExecContext(ctx, `INSERT INTO trades (
		ts, symbol, side, action, qty, price, realized, mode, reason
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		row.At, row.Symbol, row.Side, row.Action, row.Qty, row.Price, row.Realized, row.Mode, row.Reason,
	); err != nil && w.log != nil {
		w.log.Warn("journal trade insert failed", zap.Error(err))
	}
}

func (w *Writer) writeEquity(ctx context.Context, row EquityRow) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if _, err := w.db.ExecContext(ctx, `INSERT INTO equity_snapshots (
		ts, symbol, mode, realized, unrealized, paper_cum, live_cum, daily_realised
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		row.At, row.Symbol, row.Mode, row.Realized, row.Unrealized, row.PaperCum, row.LiveCum, row.DailyRealised,
	); err != nil && w.log != nil {
		w.log.Warn("journal equity insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nidhinvijay/BTCUSDT/internal/binance/ws"
	"github.com/nidhinvijay/BTCUSDT/internal/broker"
	"github.com/nidhinvijay/BTCUSDT/internal/config"
	"github.com/nidhinvijay/BTCUSDT/internal/journal"
	"github.com/nidhinvijay/BTCUSDT/internal/market"
	"github.com/nidhinvijay/BTCUSDT/internal/metrics"
	"github.com/nidhinvijay/BTCUSDT/internal/pnl"
	"github.com/nidhinvijay/BTCUSDT/internal/relay"
	"github.com/nidhinvijay/BTCUSDT/internal/server"
	"github.com/nidhinvijay/BTCUSDT/internal/session"
	"github.com/nidhinvijay/BTCUSDT/internal/signal"
	"github.com/nidhinvijay/BTCUSDT/internal/state"
	"github.com/nidhinvijay/BTCUSDT/internal/state/file"
	"github.com/nidhinvijay/BTCUSDT/internal/state/sqlite"
	"github.com/nidhinvijay/BTCUSDT/internal/strategy"

	"go.uber.org/zap"
)

const signalQueueSize = 64

// App owns the engine. One dispatcher goroutine consumes ticks, signals,
// manual close and status requests, so the machine, books and session are
// only ever touched from a single place; the HTTP and feed edges enqueue.
type App struct {
	cfg *config.Config
	log *zap.Logger

	store   state.Store
	machine *strategy.Machine
	book    *pnl.Context
	session *session.Manager
	broker  *broker.Paper
	bus     *signal.Bus
	ws      *ws.Client
	feed    *market.Feed
	journal *journal.Writer
	metrics *metrics.Metrics
	server  *server.Server

	sigCh    chan signal.Event
	closeCh  chan closeRequest
	statusCh chan chan Status
	done     chan struct{}
}

type closeRequest struct {
	reply chan closeReply
}

type closeReply struct {
	result strategy.ManualCloseResult
	ok     bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	var m *metrics.Metrics
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		metricsHandler = prom.Handler()
	} else {
		m = metrics.NewNoop()
	}

	store, err := newStore(cfg.State)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	symbol := cfg.Engine.Symbol
	book := pnl.New(symbol, log)
	sess := session.New(cfg.Session.DailyLossLimit, log)

	paper := broker.NewPaper(book, log)
	paper.SetOrderCounter(m.OrdersPlaced)
	machine := strategy.New(symbol, cfg.Engine.OrderQty, paper, log)
	machine.SetOpenGate(sess.CanOpen)

	journalWriter, err := journal.New(cfg.Journal, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	journalWriter.SetDropCounter(m.JournalDropped)

	wsClient := ws.New(cfg.Feed.URL, cfg.Feed.ReconnectDelay, cfg.Feed.MaxReconnects, log)
	wsClient.SetReconnectCounter(m.WSReconnects)
	feed := market.NewFeed(wsClient, symbol, cfg.Feed.QueueSize, log)
	feed.SetCounters(m.TicksTotal, m.FeedDropped)

	relays, err := relay.NewRegistry(cfg.Relay.URLs)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	broadcaster := relay.NewBroadcaster(cfg.Relay.Timeout, log)
	broadcaster.SetFailureCounter(m.RelayFailures)

	bus := signal.NewBus(log)

	a := &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		machine:  machine,
		book:     book,
		session:  sess,
		broker:   paper,
		bus:      bus,
		ws:       wsClient,
		feed:     feed,
		journal:  journalWriter,
		metrics:  m,
		sigCh:    make(chan signal.Event, signalQueueSize),
		closeCh:  make(chan closeRequest),
		statusCh: make(chan chan Status),
		done:     make(chan struct{}),
	}
	paper.SetTradeHook(a.onTrade)
	bus.SubscribeAll(a.enqueueSignal)
	a.server = server.New(cfg.Server, a, bus, relays, broadcaster, m, cfg.Metrics.Path, metricsHandler, log)
	return a, nil
}

func newStore(cfg config.StateConfig) (state.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		return sqlite.New(cfg.SQLitePath)
	default:
		return file.New(cfg.DataDir)
	}
}

// Bus exposes the signal bus, mainly for tests.
func (a *App) Bus() *signal.Bus {
	return a.bus
}

// ServerAddr reports the HTTP listen address once Run has started.
func (a *App) ServerAddr() string {
	return a.server.Addr()
}

// Run restores persisted state, starts the edges and consumes events until
// ctx is cancelled. A final snapshot is written on the way out.
func (a *App) Run(ctx context.Context) error {
	defer close(a.done)
	defer a.store.Close()
	defer a.journal.Close()

	if err := a.resume(ctx); err != nil {
		return err
	}
	a.journal.Start(ctx)
	if err := a.feed.Start(ctx); err != nil {
		return fmt.Errorf("start market feed: %w", err)
	}
	if err := a.server.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	a.updateSessionGauges()
	a.log.Info("engine running",
		zap.String("symbol", a.cfg.Engine.Symbol),
		zap.String("mode", string(a.session.Mode())))

	snapshotTicker := time.NewTicker(a.cfg.Engine.SnapshotInterval)
	defer snapshotTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return ctx.Err()
		case tick := <-a.feed.Ticks():
			a.handleTick(tick)
		case ev := <-a.sigCh:
			a.machine.OnSignal(strategy.Side(ev.Side), ev.Message, ev.At)
		case req := <-a.closeCh:
			result, ok := a.machine.ManualClose()
			req.reply <- closeReply{result: result, ok: ok}
		case reply := <-a.statusCh:
			reply <- a.buildStatus()
		case <-snapshotTicker.C:
			a.session.RolloverIfNewDay(time.Now())
			a.saveSnapshot()
			a.journalEquity()
		}
	}
}

func (a *App) resume(ctx context.Context) error {
	snapshot, ok, err := state.LoadEngineSnapshot(ctx, a.store, a.cfg.Engine.Symbol)
	if err != nil {
		// a damaged snapshot must not keep the engine down
		a.log.Error("snapshot load failed, starting fresh", zap.Error(err))
		return nil
	}
	if !ok {
		a.log.Info("no snapshot found, starting fresh")
		return nil
	}
	a.machine.Restore(snapshot.FSM)
	a.session.Restore(snapshot.Session)
	a.book.Restore(snapshot.Pnl)
	a.machine.ResumeAt(time.Now().UnixMilli())
	a.log.Info("resumed from snapshot", zap.Int64("savedAt", snapshot.Timestamp))
	return nil
}

func (a *App) shutdown() {
	a.saveSnapshot()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown failed", zap.Error(err))
	}
	a.ws.Close()
	a.log.Info("engine stopped")
}

func (a *App) handleTick(tick market.Tick) {
	a.machine.OnTick(tick.Price, tick.TS)
	a.book.UpdateMark(tick.Price)
	a.metrics.LastPrice.Set(tick.Price)
	a.metrics.RealizedPnl.Set(a.book.Realized())
	a.metrics.UnrealizedPnl.Set(a.book.Unrealized())
	if a.session.RolloverIfNewDay(time.Now()) {
		a.updateSessionGauges()
	}
}

// enqueueSignal runs on the webhook goroutine; it must not block.
func (a *App) enqueueSignal(ev signal.Event) {
	select {
	case a.sigCh <- ev:
	default:
		a.log.Warn("signal queue full, dropping", zap.String("side", string(ev.Side)))
	}
}

// onTrade is invoked by the broker for every booked fill, on the
// dispatcher goroutine.
func (a *App) onTrade(trade pnl.Trade) {
	mode := a.session.Mode()
	if trade.Action == pnl.ActionClose {
		a.metrics.TradesClosed.Inc()
		a.session.ApplyRealized(session.TradeRecord{
			ID:       trade.ID,
			Side:     string(trade.Side),
			Action:   string(trade.Action),
			Qty:      trade.Qty,
			Price:    trade.Price,
			Realized: trade.Realized,
			Reason:   trade.Reason,
			At:       trade.At,
		})
		a.updateSessionGauges()
	}
	a.journal.EnqueueTrade(journal.TradeRow{
		At:       time.UnixMilli(trade.At),
		Symbol:   a.cfg.Engine.Symbol,
		Side:     string(trade.Side),
		Action:   string(trade.Action),
		Qty:      trade.Qty,
		Price:    trade.Price,
		Realized: trade.Realized,
		Mode:     string(mode),
		Reason:   trade.Reason,
	})
}

func (a *App) updateSessionGauges() {
	st := a.session.State()
	if st.Mode == session.ModeLive {
		a.metrics.SessionLive.Set(1)
	} else {
		a.metrics.SessionLive.Set(0)
	}
	if st.DailyStopActive {
		a.metrics.DailyStop.Set(1)
	} else {
		a.metrics.DailyStop.Set(0)
	}
}

func (a *App) saveSnapshot() {
	snapshot := state.EngineSnapshot{
		FSM:       a.machine.Snapshot(),
		Session:   a.session.State(),
		Pnl:       a.book.State(),
		Timestamp: time.Now().UnixMilli(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := state.SaveEngineSnapshot(ctx, a.store, a.cfg.Engine.Symbol, snapshot); err != nil {
		a.metrics.SnapshotFailures.Inc()
		a.log.Error("snapshot save failed", zap.Error(err))
	}
}

func (a *App) journalEquity() {
	st := a.session.State()
	a.journal.EnqueueEquity(journal.EquityRow{
		At:            time.Now(),
		Symbol:        a.cfg.Engine.Symbol,
		Mode:          string(st.Mode),
		Realized:      a.book.Realized(),
		Unrealized:    a.book.Unrealized(),
		PaperCum:      st.PaperCumulative,
		LiveCum:       st.LiveCumulative,
		DailyRealised: st.DailyRealised,
	})
}

// Status asks the dispatcher for a consistent view. ok=false once the
// dispatcher has stopped.
func (a *App) Status() (any, bool) {
	reply := make(chan Status, 1)
	select {
	case a.statusCh <- reply:
		return <-reply, true
	case <-a.done:
		return nil, false
	}
}

// CloseAll routes the manual override through the dispatcher. ok=false
// when no tick has been observed yet or the dispatcher has stopped.
func (a *App) CloseAll() (strategy.ManualCloseResult, bool) {
	req := closeRequest{reply: make(chan closeReply, 1)}
	select {
	case a.closeCh <- req:
		r := <-req.reply
		return r.result, r.ok
	case <-a.done:
		return strategy.ManualCloseResult{}, false
	}
}

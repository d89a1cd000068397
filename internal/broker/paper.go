package broker

import (
	"fmt"

	"github.com/nidhinvijay/BTCUSDT/internal/pnl"
	"github.com/nidhinvijay/BTCUSDT/internal/strategy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Counter is satisfied by metrics counters.
type Counter interface {
	Inc()
}

// Paper fills every order instantly at the given price and books it
// against the P&L context. The order's intent tag decides whether a buy
// opens the long book or closes the short book; reason strings are only
// carried through to trade records and logs.
type Paper struct {
	book    *pnl.Context
	log     *zap.Logger
	onTrade func(pnl.Trade)
	orders  Counter
}

func NewPaper(book *pnl.Context, log *zap.Logger) *Paper {
	return &Paper{book: book, log: log}
}

// SetTradeHook registers a callback invoked with every booked trade, on
// the caller's goroutine. Must be set before the machine starts.
func (p *Paper) SetTradeHook(fn func(pnl.Trade)) {
	p.onTrade = fn
}

// SetOrderCounter attaches a metrics counter incremented per filled order.
func (p *Paper) SetOrderCounter(c Counter) {
	p.orders = c
}

func (p *Paper) PlaceLimitBuy(qty, price float64, meta strategy.OrderMeta) error {
	switch meta.Intent {
	case strategy.IntentOpenLong:
		return p.fill(pnl.ActionOpen, pnl.Long, qty, price, meta)
	case strategy.IntentCloseShort:
		return p.fill(pnl.ActionClose, pnl.Short, qty, price, meta)
	default:
		return fmt.Errorf("broker: buy order with intent %s", meta.Intent)
	}
}

func (p *Paper) PlaceLimitSell(qty, price float64, meta strategy.OrderMeta) error {
	switch meta.Intent {
	case strategy.IntentOpenShort:
		return p.fill(pnl.ActionOpen, pnl.Short, qty, price, meta)
	case strategy.IntentCloseLong:
		return p.fill(pnl.ActionClose, pnl.Long, qty, price, meta)
	default:
		return fmt.Errorf("broker: sell order with intent %s", meta.Intent)
	}
}

func (p *Paper) fill(action pnl.Action, side pnl.Side, qty, price float64, meta strategy.OrderMeta) error {
	orderID := uuid.New().String()
	var trade pnl.Trade
	var err error
	if action == pnl.ActionOpen {
		trade, err = p.book.Open(side, qty, price, meta.Reason, meta.At)
	} else {
		trade, err = p.book.Close(side, qty, price, meta.Reason, meta.At)
	}
	if err != nil {
		p.log.Warn("paper order rejected",
			zap.String("orderId", orderID),
			zap.String("intent", meta.Intent.String()),
			zap.Float64("price", price),
			zap.Error(err))
		return err
	}
	if p.orders != nil {
		p.orders.Inc()
	}
	p.log.Info("paper order filled",
		zap.String("orderId", orderID),
		zap.String("tradeId", trade.ID),
		zap.String("intent", meta.Intent.String()),
		zap.Float64("qty", trade.Qty),
		zap.Float64("price", price))
	if p.onTrade != nil {
		p.onTrade(trade)
	}
	return nil
}

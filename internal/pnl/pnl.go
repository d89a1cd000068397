package pnl

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Side string

type Action string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

const (
	ActionOpen  Action = "OPEN"
	ActionClose Action = "CLOSE"
)

// notionalBase anchors the pnlPercentage metric; tradeRingCap bounds the
// in-memory trade history.
const (
	notionalBase = 1000.0
	tradeRingCap = 200
)

// Book is one side's aggregated position. A zero Qty means flat, and a
// flat book carries no average price.
type Book struct {
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avgPrice"`
}

// Trade is one fill against a book. Realized is only meaningful on CLOSE.
type Trade struct {
	ID       string  `json:"id"`
	Action   Action  `json:"action"`
	Side     Side    `json:"side"`
	Qty      float64 `json:"qty"`
	Price    float64 `json:"price"`
	Realized float64 `json:"realized,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	At       int64   `json:"at"`
}

// Context keeps the long and short books separately so both sides can be
// open at once, each realizing against its own average price.
type Context struct {
	mu sync.Mutex

	symbol string
	log    *zap.Logger

	long  Book
	short Book

	lastPrice float64
	markSeen  bool
	realized  float64
	trades    []Trade
}

func New(symbol string, log *zap.Logger) *Context {
	return &Context{symbol: symbol, log: log}
}

// Open averages qty at price into the side's book and records an OPEN
// trade.
func (c *Context) Open(side Side, qty, price float64, reason string, at int64) (Trade, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if qty <= 0 || price <= 0 {
		return Trade{}, fmt.Errorf("pnl: open %s qty %.4f price %.4f is invalid", side, qty, price)
	}
	book, err := c.bookFor(side)
	if err != nil {
		return Trade{}, err
	}
	newQty := book.Qty + qty
	book.AvgPrice = (book.AvgPrice*book.Qty + price*qty) / newQty
	book.Qty = newQty

	trade := Trade{
		ID:     uuid.New().String(),
		Action: ActionOpen,
		Side:   side,
		Qty:    qty,
		Price:  price,
		Reason: reason,
		At:     at,
	}
	c.appendTrade(trade)
	c.log.Info("book opened",
		zap.String("symbol", c.symbol),
		zap.String("side", string(side)),
		zap.Float64("qty", book.Qty),
		zap.Float64("avgPrice", book.AvgPrice),
		zap.String("reason", reason))
	return trade, nil
}

// Close realizes P&L for qty at price against the side's book. Qty is
// clamped to what the book holds; the book resets when it reaches zero.
func (c *Context) Close(side Side, qty, price float64, reason string, at int64) (Trade, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if qty <= 0 || price <= 0 {
		return Trade{}, fmt.Errorf("pnl: close %s qty %.4f price %.4f is invalid", side, qty, price)
	}
	book, err := c.bookFor(side)
	if err != nil {
		return Trade{}, err
	}
	if book.Qty <= 0 {
		return Trade{}, fmt.Errorf("pnl: no %s position to close", side)
	}
	if qty > book.Qty {
		c.log.Warn("close qty clamped to book",
			zap.String("side", string(side)),
			zap.Float64("requested", qty),
			zap.Float64("held", book.Qty))
		qty = book.Qty
	}

	var delta float64
	if side == Long {
		delta = (price - book.AvgPrice) * qty
	} else {
		delta = (book.AvgPrice - price) * qty
	}
	c.realized += delta
	book.Qty -= qty
	if book.Qty <= 0 {
		*book = Book{}
	}

	trade := Trade{
		ID:       uuid.New().String(),
		Action:   ActionClose,
		Side:     side,
		Qty:      qty,
		Price:    price,
		Realized: delta,
		Reason:   reason,
		At:       at,
	}
	c.appendTrade(trade)
	c.log.Info("book closed",
		zap.String("symbol", c.symbol),
		zap.String("side", string(side)),
		zap.Float64("qty", qty),
		zap.Float64("price", price),
		zap.Float64("realized", delta),
		zap.String("reason", reason))
	return trade, nil
}

// UpdateMark records the latest trade price for unrealized valuation.
func (c *Context) UpdateMark(price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if price <= 0 {
		return
	}
	c.lastPrice = price
	c.markSeen = true
}

func (c *Context) Realized() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.realized
}

func (c *Context) Unrealized() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unrealizedLocked()
}

func (c *Context) bookFor(side Side) (*Book, error) {
	switch side {
	case Long:
		return &c.long, nil
	case Short:
		return &c.short, nil
	default:
		return nil, fmt.Errorf("pnl: unknown side %q", side)
	}
}

func (c *Context) appendTrade(trade Trade) {
	c.trades = append(c.trades, trade)
	if len(c.trades) > tradeRingCap {
		c.trades = c.trades[len(c.trades)-tradeRingCap:]
	}
}

func (c *Context) unrealizedLocked() float64 {
	if !c.markSeen {
		return 0
	}
	var u float64
	if c.long.Qty > 0 {
		u += (c.lastPrice - c.long.AvgPrice) * c.long.Qty
	}
	if c.short.Qty > 0 {
		u += (c.short.AvgPrice - c.lastPrice) * c.short.Qty
	}
	return u
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Counter is satisfied by metrics counters; the zero value of Client
// works without one.
type Counter interface {
	Inc()
}

type Client struct {
	url            string
	reconnectDelay time.Duration
	maxReconnects  int
	reconnects     Counter
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	subs []any
}

func New(url string, reconnectDelay time.Duration, maxReconnects int, log *zap.Logger) *Client {
	return &Client{
		url:            url,
		reconnectDelay: reconnectDelay,
		maxReconnects:  maxReconnects,
		log:            log,
	}
}

// SetReconnectCounter attaches a counter incremented once per reconnect
// attempt. Must be called before Run.
func (c *Client) SetReconnectCounter(counter Counter) {
	c.reconnects = counter
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 20)
	c.conn = conn
	return nil
}

// Subscribe records the subscription and sends it if a connection is up.
// Recorded subscriptions are replayed after every reconnect, so calling
// Subscribe before Run is fine.
func (c *Client) Subscribe(ctx context.Context, sub any) error {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return writeJSON(ctx, conn, sub)
}

// Run connects, replays subscriptions and reads frames into handler until
// ctx is cancelled or the reconnect budget is exhausted. The budget counts
// consecutive failed cycles; a connection that delivers at least one frame
// resets it.
func (c *Client) Run(ctx context.Context, handler func(json.RawMessage)) error {
	attempts := 0
	for {
		if err := c.ensureConnected(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if waitErr := c.backoff(ctx, &attempts, err); waitErr != nil {
				return waitErr
			}
			continue
		}
		frames, err := c.readLoop(ctx, handler)
		if frames > 0 {
			attempts = 0
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logReadLoopError(err)
		c.resetConn()
		if waitErr := c.backoff(ctx, &attempts, err); waitErr != nil {
			return waitErr
		}
	}
}

func (c *Client) backoff(ctx context.Context, attempts *int, cause error) error {
	*attempts++
	if c.reconnects != nil {
		c.reconnects.Inc()
	}
	if c.maxReconnects > 0 && *attempts > c.maxReconnects {
		return fmt.Errorf("ws: gave up after %d reconnect attempts: %w", c.maxReconnects, cause)
	}
	c.log.Warn("ws reconnecting",
		zap.Int("attempt", *attempts),
		zap.Int("max", c.maxReconnects),
		zap.Duration("delay", c.reconnectDelay),
		zap.Error(cause))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
		return nil
	}
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	subs := append([]any(nil), c.subs...)
	c.mu.Unlock()
	for _, sub := range subs {
		if err := writeJSON(ctx, conn, sub); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, handler func(json.RawMessage)) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, errors.New("ws not connected")
	}
	frames := 0
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return frames, err
		}
		frames++
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

func (c *Client) logReadLoopError(err error) {
	if c.log == nil {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			c.log.Info("ws closed", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
		c.log.Info("ws closed", zap.Error(err))
		return
	}
	c.log.Warn("ws read failed", zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
}

// Close tears the connection down outside of Run.
func (c *Client) Close() {
	c.resetConn()
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

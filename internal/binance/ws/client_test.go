package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClientReplaysSubscriptionsOnConnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	subCh := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg map[string]any
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			select {
			case subCh <- msg:
			default:
			}
		}
	}))
	defer server.Close()

	client := New(wsURL(server), 10*time.Millisecond, 3, zap.NewNop())
	if err := client.Subscribe(ctx, map[string]any{"method": "SUBSCRIBE", "params": []string{"btcusdt@trade"}, "id": 1}); err != nil {
		t.Fatalf("subscribe before connect: %v", err)
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = client.Run(runCtx, nil)
	}()

	select {
	case msg := <-subCh:
		if msg["method"] != "SUBSCRIBE" {
			t.Fatalf("expected SUBSCRIBE replay, got %v", msg)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for subscription replay")
	}
}

func TestClientDeliversFrames(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		if err := conn.Write(ctx, websocket.MessageText, []byte(`{"p":"100.5","T":1700000000000}`)); err != nil {
			return
		}
		<-ctx.Done()
	}))
	defer server.Close()

	frameCh := make(chan json.RawMessage, 1)
	client := New(wsURL(server), 10*time.Millisecond, 3, zap.NewNop())
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = client.Run(runCtx, func(msg json.RawMessage) {
			select {
			case frameCh <- msg:
			default:
			}
		})
	}()

	select {
	case frame := <-frameCh:
		var decoded map[string]any
		if err := json.Unmarshal(frame, &decoded); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if decoded["p"] != "100.5" {
			t.Fatalf("expected frame price 100.5, got %v", decoded["p"])
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for frame")
	}
}

func TestClientGivesUpAfterMaxReconnects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Server slams every connection shut before a frame is delivered, so
	// each cycle counts against the reconnect budget.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close(websocket.StatusInternalError, "flap")
	}))
	defer server.Close()

	var reconnects atomic.Int64
	client := New(wsURL(server), time.Millisecond, 3, zap.NewNop())
	client.SetReconnectCounter(counterFunc(func() { reconnects.Add(1) }))

	err := client.Run(ctx, nil)
	if err == nil {
		t.Fatalf("expected Run to give up after max reconnects")
	}
	if ctx.Err() != nil {
		t.Fatalf("test timed out before reconnect budget was exhausted")
	}
	if got := reconnects.Load(); got < 3 {
		t.Fatalf("expected at least 3 reconnect attempts counted, got %d", got)
	}
}

func TestClientStopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		<-r.Context().Done()
	}))
	defer server.Close()

	client := New(wsURL(server), 10*time.Millisecond, 3, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Run(ctx, nil)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
}

type counterFunc func()

func (f counterFunc) Inc() { f() }

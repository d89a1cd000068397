package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/nidhinvijay/BTCUSDT/internal/config"
	"github.com/nidhinvijay/BTCUSDT/internal/metrics"
	"github.com/nidhinvijay/BTCUSDT/internal/relay"
	"github.com/nidhinvijay/BTCUSDT/internal/signal"
	"github.com/nidhinvijay/BTCUSDT/internal/strategy"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	entryPattern = regexp.MustCompile(`(?i)accepted\s+entry`)
	exitPattern  = regexp.MustCompile(`(?i)accepted\s+exit`)
)

const maxWebhookBody = 64 << 10

// Engine is what the HTTP edge needs from the dispatcher. Status and
// CloseAll report ok=false when the dispatcher is shutting down (Status)
// or no tick has been observed yet (CloseAll).
type Engine interface {
	Status() (any, bool)
	CloseAll() (strategy.ManualCloseResult, bool)
}

type Server struct {
	httpServer  *http.Server
	engine      Engine
	bus         *signal.Bus
	relays      *relay.Registry
	broadcaster *relay.Broadcaster
	limiter     *rate.Limiter
	metrics     *metrics.Metrics
	log         *zap.Logger

	listener net.Listener
}

func New(cfg config.ServerConfig, engine Engine, bus *signal.Bus, relays *relay.Registry, broadcaster *relay.Broadcaster, m *metrics.Metrics, metricsPath string, metricsHandler http.Handler, log *zap.Logger) *Server {
	if m == nil {
		m = metrics.NewNoop()
	}
	s := &Server{
		engine:      engine,
		bus:         bus,
		relays:      relays,
		broadcaster: broadcaster,
		limiter:     rate.NewLimiter(rate.Limit(cfg.WebhookRPS), cfg.WebhookBurst),
		metrics:     m,
		log:         log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/relays", s.handleRelays)
	mux.HandleFunc("/close", s.handleClose)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if metricsHandler != nil {
		mux.Handle(metricsPath, metricsHandler)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start binds the listener and serves in the background. Bind failures are
// returned synchronously so startup can abort.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info("http server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server terminated", zap.Error(err))
		}
	}()
	return nil
}

// Addr reports the bound address; empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	message := extractMessage(body)
	side, ok := classifySignal(message)
	if !ok {
		s.metrics.SignalsRejected.Inc()
		s.log.Warn("webhook rejected", zap.String("message", truncate(message, 200)))
		writeError(w, http.StatusBadRequest, "unrecognized signal message")
		return
	}

	// Ack first; delivery happens after the response is committed.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	at := time.Now().UnixMilli()
	if side == signal.Buy {
		s.metrics.SignalsBuy.Inc()
	} else {
		s.metrics.SignalsSell.Inc()
	}
	s.log.Info("signal accepted", zap.String("side", string(side)))
	s.bus.Publish(signal.Event{Side: side, Message: message, RawMessage: string(body), At: at})
	if s.broadcaster != nil && s.relays != nil {
		s.broadcaster.Broadcast(s.relays.List(), relay.Payload{
			Message:    message,
			Type:       "tradingview-signal",
			Side:       string(side),
			RawMessage: string(body),
			TS:         at,
		})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	status, ok := s.engine.Status()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "engine not running")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRelays(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"urls": s.relays.List()})
	case http.MethodPost:
		url, ok := decodeRelayURL(r.Body)
		if !ok {
			writeError(w, http.StatusBadRequest, "body must be {\"url\": ...}")
			return
		}
		if err := s.relays.Add(url); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "urls": s.relays.List()})
	case http.MethodDelete:
		url, ok := decodeRelayURL(r.Body)
		if !ok {
			writeError(w, http.StatusBadRequest, "body must be {\"url\": ...}")
			return
		}
		if !s.relays.Remove(url) {
			writeError(w, http.StatusNotFound, "url not registered")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "urls": s.relays.List()})
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET, POST or DELETE")
	}
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	result, ok := s.engine.CloseAll()
	if !ok {
		writeError(w, http.StatusConflict, "no tick observed yet")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// extractMessage pulls the signal text out of a JSON body's message, text
// or signal field; anything else is treated as raw text.
func extractMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"message", "text", "signal"} {
			if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
	return strings.TrimSpace(string(body))
}

func classifySignal(message string) (signal.Side, bool) {
	switch {
	case entryPattern.MatchString(message):
		return signal.Buy, true
	case exitPattern.MatchString(message):
		return signal.Sell, true
	default:
		return "", false
	}
}

func decodeRelayURL(body io.Reader) (string, bool) {
	var payload struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(io.LimitReader(body, maxWebhookBody)).Decode(&payload); err != nil {
		return "", false
	}
	if strings.TrimSpace(payload.URL) == "" {
		return "", false
	}
	return strings.TrimSpace(payload.URL), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

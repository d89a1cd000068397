package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Counter is satisfied by metrics counters.
type Counter interface {
	Inc()
}

// Registry is the in-memory set of relay endpoints. URLs must be http or
// https.
type Registry struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

func NewRegistry(seed []string) (*Registry, error) {
	r := &Registry{urls: make(map[string]struct{})}
	for _, raw := range seed {
		if err := r.Add(raw); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Add(raw string) error {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("relay: %q is not an http(s) URL", raw)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls[raw] = struct{}{}
	return nil
}

// Remove reports whether the URL was registered.
func (r *Registry) Remove(raw string) bool {
	raw = strings.TrimSpace(raw)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.urls[raw]; !ok {
		return false
	}
	delete(r.urls, raw)
	return true
}

func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.urls))
	for u := range r.urls {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Payload is the body POSTed to each relay when a signal is accepted.
type Payload struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	Side       string `json:"side"`
	RawMessage string `json:"rawMessage"`
	TS         int64  `json:"ts"`
}

// Broadcaster fans a payload out to relay URLs, one goroutine per target,
// each bounded by the configured timeout. Failures are logged and counted;
// they never propagate to the webhook response.
type Broadcaster struct {
	client   *http.Client
	timeout  time.Duration
	log      *zap.Logger
	failures Counter
}

func NewBroadcaster(timeout time.Duration, log *zap.Logger) *Broadcaster {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Broadcaster{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     log,
	}
}

// SetFailureCounter attaches a counter incremented once per failed relay.
func (b *Broadcaster) SetFailureCounter(c Counter) {
	b.failures = c
}

// Broadcast posts the payload to every URL and returns immediately.
func (b *Broadcaster) Broadcast(urls []string, payload Payload) {
	if len(urls) == 0 {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		b.log.Error("relay payload marshal failed", zap.Error(err))
		return
	}
	for _, target := range urls {
		go b.post(target, body)
	}
}

func (b *Broadcaster) post(target string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		b.fail(target, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		b.fail(target, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		b.fail(target, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
		return
	}
	b.log.Debug("relay delivered", zap.String("url", target))
}

func (b *Broadcaster) fail(target string, err error) {
	if b.failures != nil {
		b.failures.Inc()
	}
	b.log.Warn("relay send failed", zap.String("url", target), zap.Error(err))
}

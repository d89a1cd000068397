package state

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nidhinvijay/BTCUSDT/internal/pnl"
	"github.com/nidhinvijay/BTCUSDT/internal/session"
	"github.com/nidhinvijay/BTCUSDT/internal/strategy"
)

const snapshotKeyPrefix = "engine:snapshot:"

// SnapshotKey is the kv key for a symbol's engine snapshot.
func SnapshotKey(symbol string) string {
	return snapshotKeyPrefix + strings.ToUpper(strings.TrimSpace(symbol))
}

// EngineSnapshot bundles everything needed to resume after a restart.
// Unknown fields in a persisted document are ignored on load, so older
// engines' snapshots stay readable.
type EngineSnapshot struct {
	FSM       strategy.Snapshot `json:"fsm"`
	Session   session.State     `json:"session"`
	Pnl       pnl.State         `json:"pnl"`
	Timestamp int64             `json:"timestamp"`
}

func LoadEngineSnapshot(ctx context.Context, store Store, symbol string) (EngineSnapshot, bool, error) {
	if store == nil {
		return EngineSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, SnapshotKey(symbol))
	if err != nil {
		return EngineSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return EngineSnapshot{}, false, nil
	}
	var snapshot EngineSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return EngineSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveEngineSnapshot(ctx context.Context, store Store, symbol string, snapshot EngineSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, SnapshotKey(symbol), string(payload))
}

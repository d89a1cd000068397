package state

import "context"

// Store is the kv persistence surface behind engine snapshots. Two
// implementations exist: the atomic JSON file store (default) and the
// sqlite store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

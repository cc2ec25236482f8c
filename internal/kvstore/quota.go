package kvstore

import (
	"context"
	"sync"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

// QuotaStore enforces a byte quota over another store. Usage is counted as
// key length plus value length for every key written or read through it.
type QuotaStore struct {
	mu    sync.Mutex
	inner types.KVStore
	quota int64
	sizes map[string]int64
	used  int64
}

// NewQuotaStore wraps inner with a quota of quotaBytes.
func NewQuotaStore(inner types.KVStore, quotaBytes int64) *QuotaStore {
	return &QuotaStore{
		inner: inner,
		quota: quotaBytes,
		sizes: make(map[string]int64),
	}
}

func entrySize(key, value string) int64 {
	return int64(len(key) + len(value))
}

func (q *QuotaStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := q.inner.Get(ctx, key)
	if err != nil || !ok {
		return value, ok, err
	}

	// Account for values written before the wrapper existed.
	q.mu.Lock()
	if _, known := q.sizes[key]; !known {
		size := entrySize(key, value)
		q.sizes[key] = size
		q.used += size
	}
	q.mu.Unlock()

	return value, true, nil
}

func (q *QuotaStore) Set(ctx context.Context, key, value string) error {
	size := entrySize(key, value)

	q.mu.Lock()
	delta := size - q.sizes[key]
	if q.quota > 0 && q.used+delta > q.quota {
		q.mu.Unlock()
		return cacheerrors.StorageFull(key, nil).
			WithComponent("kvstore").
			WithOperation("Set").
			WithDetail("quota_bytes", q.quota).
			WithDetail("used_bytes", q.used)
	}
	q.mu.Unlock()

	if err := q.inner.Set(ctx, key, value); err != nil {
		return err
	}

	q.mu.Lock()
	q.used += size - q.sizes[key]
	q.sizes[key] = size
	q.mu.Unlock()
	return nil
}

func (q *QuotaStore) Remove(ctx context.Context, key string) error {
	if err := q.inner.Remove(ctx, key); err != nil {
		return err
	}

	q.mu.Lock()
	q.used -= q.sizes[key]
	delete(q.sizes, key)
	q.mu.Unlock()
	return nil
}

func (q *QuotaStore) Clear(ctx context.Context) error {
	if err := q.inner.Clear(ctx); err != nil {
		return err
	}

	q.mu.Lock()
	q.sizes = make(map[string]int64)
	q.used = 0
	q.mu.Unlock()
	return nil
}

// Usage returns the tracked bytes and the configured quota.
func (q *QuotaStore) Usage(_ context.Context) (int64, int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used, q.quota, nil
}

// Close closes the wrapped store when it supports closing.
func (q *QuotaStore) Close() error {
	if c, ok := q.inner.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

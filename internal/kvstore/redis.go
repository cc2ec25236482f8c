package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
)

// RedisStoreConfig represents Redis store configuration
type RedisStoreConfig struct {
	Addrs        []string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore keeps every key under a prefix in a single node or a cluster.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisStore connects to Redis. More than one address selects a cluster
// client.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig, logger *slog.Logger) (*RedisStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("redis store requires at least one address")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newRedisStore(client, cfg.KeyPrefix, logger), nil
}

func newRedisStore(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "kvstore", "backend", "redis"),
	}
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageRead, "redis get failed").
			WithComponent("kvstore").
			WithDetail("key", key)
	}
	return value, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		if isRedisOOM(err) {
			return cacheerrors.StorageFull(key, err).WithComponent("kvstore")
		}
		return cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageWrite, "redis set failed").
			WithComponent("kvstore").
			WithDetail("key", key)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageWrite, "redis del failed").
			WithComponent("kvstore").
			WithDetail("key", key)
	}
	return nil
}

// Clear deletes every key under the store prefix.
func (r *RedisStore) Clear(ctx context.Context) error {
	keys, err := r.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	// Cluster slots differ per key, so delete one at a time.
	for _, k := range keys {
		if err := r.client.Del(ctx, k).Err(); err != nil {
			return cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageWrite, "redis clear failed").
				WithComponent("kvstore")
		}
	}
	r.logger.Info("Cleared redis keys", "count", len(keys))
	return nil
}

// Usage reports bytes held under the prefix and the server maxmemory.
func (r *RedisStore) Usage(ctx context.Context) (int64, int64, error) {
	keys, err := r.scanKeys(ctx)
	if err != nil {
		return 0, 0, err
	}

	var used int64
	for _, k := range keys {
		n, err := r.client.StrLen(ctx, k).Result()
		if err != nil {
			continue
		}
		used += int64(len(k)) + n
	}

	info, err := r.client.Info(ctx, "memory").Result()
	if err != nil {
		return used, 0, nil
	}
	return used, parseInfoInt(info, "maxmemory"), nil
}

func (r *RedisStore) scanKeys(ctx context.Context) ([]string, error) {
	var (
		mu   sync.Mutex
		keys []string
	)
	scan := func(ctx context.Context, c redis.Cmdable) error {
		iter := c.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			mu.Lock()
			keys = append(keys, iter.Val())
			mu.Unlock()
		}
		return iter.Err()
	}

	var err error
	if cluster, ok := r.client.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, shard *redis.Client) error {
			return scan(ctx, shard)
		})
	} else {
		err = scan(ctx, r.client)
	}
	if err != nil {
		return nil, cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageRead, "redis scan failed").
			WithComponent("kvstore")
	}
	return keys, nil
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func isRedisOOM(err error) bool {
	return strings.HasPrefix(err.Error(), "OOM ")
}

// parseInfoInt reads an integer field from Redis INFO output.
func parseInfoInt(info string, key string) int64 {
	prefix := key + ":"
	for _, ln := range strings.Split(info, "\n") {
		if !strings.HasPrefix(ln, prefix) {
			continue
		}
		v := strings.TrimSpace(strings.TrimPrefix(ln, prefix))
		var n int64
		for i := 0; i < len(v); i++ {
			if v[i] < '0' || v[i] > '9' {
				break
			}
			n = n*10 + int64(v[i]-'0')
		}
		return n
	}
	return 0
}

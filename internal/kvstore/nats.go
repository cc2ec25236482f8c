package kvstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
)

// NATSStoreConfig represents JetStream KV store configuration
type NATSStoreConfig struct {
	URL      string
	Bucket   string
	MaxBytes int64
	Timeout  time.Duration
}

// NATSStore keeps keys in a JetStream key-value bucket. Cache keys contain
// characters JetStream rejects, so they are stored base64url-encoded.
type NATSStore struct {
	conn     *nats.Conn
	bucket   jetstream.KeyValue
	maxBytes int64
	timeout  time.Duration
	logger   *slog.Logger
}

// NewNATSStore connects and gets or creates the bucket.
func NewNATSStore(ctx context.Context, cfg NATSStoreConfig, logger *slog.Logger) (*NATSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("nats bucket name cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "kvstore", "backend", "nats")

	conn, err := nats.Connect(cfg.URL, nats.Name("recipecache"))
	if err != nil {
		return nil, fmt.Errorf("nats connect failed: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream init failed: %w", err)
	}

	// Try to get existing bucket first
	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err != nil {
		bucket, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "recipe cache snapshots",
			History:     1,
			MaxBytes:    cfg.MaxBytes,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create kv bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("Created KV bucket", "bucket", cfg.Bucket)
	}

	return newNATSStore(conn, bucket, cfg, logger), nil
}

func newNATSStore(conn *nats.Conn, bucket jetstream.KeyValue, cfg NATSStoreConfig, logger *slog.Logger) *NATSStore {
	return &NATSStore{
		conn:     conn,
		bucket:   bucket,
		maxBytes: cfg.MaxBytes,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

func encodeNATSKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// applyTimeout applies the configured timeout to the context if set
func (n *NATSStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.timeout > 0 {
		return context.WithTimeout(ctx, n.timeout)
	}
	return ctx, func() {}
}

func (n *NATSStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := n.applyTimeout(ctx)
	defer cancel()

	entry, err := n.bucket.Get(ctx, encodeNATSKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return "", false, nil
		}
		return "", false, cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageRead, "kv get failed").
			WithComponent("kvstore").
			WithDetail("key", key)
	}
	return string(entry.Value()), true, nil
}

func (n *NATSStore) Set(ctx context.Context, key, value string) error {
	ctx, cancel := n.applyTimeout(ctx)
	defer cancel()

	if _, err := n.bucket.Put(ctx, encodeNATSKey(key), []byte(value)); err != nil {
		if isNATSFull(err) {
			return cacheerrors.StorageFull(key, err).WithComponent("kvstore")
		}
		return cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageWrite, "kv put failed").
			WithComponent("kvstore").
			WithDetail("key", key)
	}
	return nil
}

func (n *NATSStore) Remove(ctx context.Context, key string) error {
	ctx, cancel := n.applyTimeout(ctx)
	defer cancel()

	// Purge rather than Delete so the bucket does not keep the old value.
	if err := n.bucket.Purge(ctx, encodeNATSKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageWrite, "kv purge failed").
			WithComponent("kvstore").
			WithDetail("key", key)
	}
	return nil
}

// Clear purges every key in the bucket.
func (n *NATSStore) Clear(ctx context.Context) error {
	ctx, cancel := n.applyTimeout(ctx)
	defer cancel()

	keys, err := n.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}
		return cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageRead, "kv keys failed").
			WithComponent("kvstore")
	}

	for _, k := range keys {
		if err := n.bucket.Purge(ctx, k); err != nil {
			return cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageWrite, "kv purge failed").
				WithComponent("kvstore")
		}
	}
	n.logger.Info("Cleared KV bucket", "count", len(keys))
	return nil
}

// Usage reports the bucket's stored bytes against its MaxBytes.
func (n *NATSStore) Usage(ctx context.Context) (int64, int64, error) {
	ctx, cancel := n.applyTimeout(ctx)
	defer cancel()

	status, err := n.bucket.Status(ctx)
	if err != nil {
		return 0, 0, cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageRead, "kv status failed").
			WithComponent("kvstore")
	}
	quota := n.maxBytes
	if quota < 0 {
		quota = 0
	}
	return int64(status.Bytes()), quota, nil
}

// Close drains the connection.
func (n *NATSStore) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

func isNATSFull(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "maximum bytes") || strings.Contains(msg, "insufficient resources")
}

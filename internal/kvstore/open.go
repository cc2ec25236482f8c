package kvstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/recipeapp/recipecache/internal/config"
	"github.com/recipeapp/recipecache/pkg/types"
)

// Store is a KVStore that holds resources.
type Store interface {
	types.KVStore
	Close() error
}

// Open builds the backend selected by cfg.Backend. A positive QuotaBytes
// wraps it in a QuotaStore.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store Store
		err   error
	)

	switch cfg.Backend {
	case "memory", "":
		store = NewMemoryStore()
	case "file":
		store, err = NewFileStore(FileStoreConfig{
			Directory:   cfg.File.Directory,
			Compression: cfg.File.Compression,
		}, logger)
	case "redis":
		store, err = NewRedisStore(ctx, RedisStoreConfig{
			Addrs:        cfg.Redis.Addrs,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			KeyPrefix:    cfg.KeyPrefix,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, logger)
	case "s3":
		store, err = NewS3Store(ctx, S3StoreConfig{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.KeyPrefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			SessionToken:    cfg.S3.SessionToken,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			MaxRetries:      cfg.S3.MaxRetries,
			EnableCargoShip: cfg.S3.EnableCargoShip,
		}, logger)
	case "nats":
		store, err = NewNATSStore(ctx, NATSStoreConfig{
			URL:      cfg.NATS.URL,
			Bucket:   cfg.NATS.Bucket,
			MaxBytes: cfg.NATS.MaxBytes,
			Timeout:  cfg.NATS.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}

	if cfg.QuotaBytes > 0 {
		store = NewQuotaStore(store, cfg.QuotaBytes)
	}

	logger.Info("Opened key-value store", "backend", cfg.Backend, "quota_bytes", cfg.QuotaBytes)
	return store, nil
}

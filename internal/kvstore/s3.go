package kvstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
)

// S3StoreConfig represents S3 store configuration
type S3StoreConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool
	MaxRetries      int
	EnableCargoShip bool
}

// s3API is the subset of *s3.Client the store calls.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps each key as one object under a bucket prefix.
type S3Store struct {
	client      s3API
	transporter *cargoships3.Transporter
	bucket      string
	prefix      string
	logger      *slog.Logger
}

// NewS3Store loads AWS configuration and builds the store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.MaxRetries))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	store := newS3Store(client, cfg.Bucket, cfg.Prefix, logger)

	if cfg.EnableCargoShip {
		// Snapshots are small; keep them in one part and in Standard.
		store.transporter = cargoships3.NewTransporter(client, awsconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       awsconfig.StorageClassStandard,
			MultipartThreshold: 32 * 1024 * 1024,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        2,
		})
		store.logger.Info("CargoShip uploads enabled", "bucket", cfg.Bucket)
	}

	return store, nil
}

func newS3Store(client s3API, bucket, prefix string, logger *slog.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.With("component", "kvstore", "backend", "s3"),
	}
}

// objectKey escapes the cache key so separators in it stay in one path segment.
func (s *S3Store) objectKey(key string) string {
	return s.prefix + url.PathEscape(key)
}

func (s *S3Store) Get(ctx context.Context, key string) (string, bool, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var notFound *s3types.NoSuchKey
		if errors.As(err, &notFound) {
			return "", false, nil
		}
		return "", false, s.translateError(err, cacheerrors.ErrCodeStorageRead, "GetObject", key)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return "", false, s.translateError(err, cacheerrors.ErrCodeStorageRead, "GetObject", key)
	}
	return string(data), true, nil
}

func (s *S3Store) Set(ctx context.Context, key, value string) error {
	objectKey := s.objectKey(key)
	data := []byte(value)

	if s.transporter != nil {
		archive := cargoships3.Archive{
			Key:          objectKey,
			Reader:       bytes.NewReader(data),
			Size:         int64(len(data)),
			StorageClass: awsconfig.StorageClassStandard,
			Metadata: map[string]string{
				"content-type": "application/json",
				"cache-key":    key,
			},
		}

		result, uploadErr := s.transporter.Upload(ctx, archive)
		if uploadErr == nil {
			s.logger.Debug("CargoShip upload completed",
				"key", key,
				"size", len(data),
				"throughput", result.Throughput,
				"duration", result.Duration)
			return nil
		}

		s.logger.Warn("CargoShip upload failed, falling back to standard S3", "key", key, "error", uploadErr)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return s.translateError(err, cacheerrors.ErrCodeStorageWrite, "PutObject", key)
	}
	return nil
}

func (s *S3Store) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var notFound *s3types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil
		}
		return s.translateError(err, cacheerrors.ErrCodeStorageWrite, "DeleteObject", key)
	}
	return nil
}

// Clear deletes every object under the prefix.
func (s *S3Store) Clear(ctx context.Context) error {
	objects, err := s.list(ctx)
	if err != nil {
		return err
	}

	for _, obj := range objects {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    obj.Key,
		})
		if err != nil {
			return s.translateError(err, cacheerrors.ErrCodeStorageWrite, "DeleteObject", aws.ToString(obj.Key))
		}
	}

	s.logger.Info("Cleared S3 snapshot objects", "count", len(objects))
	return nil
}

// Usage sums object sizes under the prefix. S3 has no quota.
func (s *S3Store) Usage(ctx context.Context) (int64, int64, error) {
	objects, err := s.list(ctx)
	if err != nil {
		return 0, 0, err
	}

	var used int64
	for _, obj := range objects {
		used += aws.ToInt64(obj.Size)
	}
	return used, 0, nil
}

func (s *S3Store) list(ctx context.Context) ([]s3types.Object, error) {
	var (
		objects []s3types.Object
		token   *string
	)
	for {
		result, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, s.translateError(err, cacheerrors.ErrCodeStorageRead, "ListObjectsV2", s.prefix)
		}

		objects = append(objects, result.Contents...)
		if !aws.ToBool(result.IsTruncated) {
			return objects, nil
		}
		token = result.NextContinuationToken
	}
}

// Close is a no-op; the SDK client holds no resources needing release.
func (s *S3Store) Close() error { return nil }

func (s *S3Store) translateError(err error, code cacheerrors.ErrorCode, operation, key string) error {
	var noBucket *s3types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return cacheerrors.Wrap(err, code, fmt.Sprintf("bucket not found: %s", s.bucket)).
			WithComponent("kvstore").
			WithOperation(operation)
	}
	if strings.Contains(err.Error(), "QuotaExceeded") {
		return cacheerrors.StorageFull(key, err).WithComponent("kvstore").WithOperation(operation)
	}
	return cacheerrors.Wrap(err, code, fmt.Sprintf("%s failed for %s", operation, key)).
		WithComponent("kvstore").
		WithOperation(operation)
}

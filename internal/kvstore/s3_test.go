package kvstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
)

// fakeS3 keeps objects in memory and pages listings two at a time.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == aws.ToString(in.ContinuationToken) {
				start = i
				break
			}
		}
	}
	end := start + 2
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.objects[k]))),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	fake := newFakeS3()
	store := newS3Store(fake, "recipes", "recipecache/", slog.Default())
	exerciseStore(t, store)
}

func TestS3StoreEscapesKeysUnderPrefix(t *testing.T) {
	fake := newFakeS3()
	store := newS3Store(fake, "recipes", "recipecache/", slog.Default())

	require.NoError(t, store.Set(context.Background(), "@recipe_cache:stats_v2", "{}"))

	for k := range fake.objects {
		assert.True(t, strings.HasPrefix(k, "recipecache/"))
		assert.NotContains(t, strings.TrimPrefix(k, "recipecache/"), "/")
	}
}

func TestS3StoreClearPagesThroughListing(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := newS3Store(fake, "recipes", "recipecache/", slog.Default())

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, store.Set(ctx, k, "value"))
	}
	fake.objects["other/untouched"] = []byte("x")

	used, _, err := store.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), used)

	require.NoError(t, store.Clear(ctx))
	assert.Len(t, fake.objects, 1)
	assert.Contains(t, fake.objects, "other/untouched")
}

func TestS3StoreWriteErrorsAreWrapped(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("connection reset")
	store := newS3Store(fake, "recipes", "", slog.Default())

	err := store.Set(context.Background(), "k", "v")
	require.Error(t, err)
	assert.Equal(t, cacheerrors.ErrCodeStorageWrite, cacheerrors.GetCode(err))

	fake.putErr = errors.New("api error QuotaExceeded: bucket quota reached")
	err = store.Set(context.Background(), "k", "v")
	assert.True(t, cacheerrors.IsStorageFull(err))
}

package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recipeapp/recipecache/internal/config"
	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

func exerciseStore(t *testing.T, store types.KVStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "@recipe_cache:missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "@recipe_cache:a", `{"v":1}`))
	require.NoError(t, store.Set(ctx, "@recipe_cache:b", `{"v":2}`))
	require.NoError(t, store.Set(ctx, "@recipe_cache:a", `{"v":3}`))

	v, ok, err := store.Get(ctx, "@recipe_cache:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"v":3}`, v)

	require.NoError(t, store.Remove(ctx, "@recipe_cache:a"))
	require.NoError(t, store.Remove(ctx, "@recipe_cache:a"))
	_, ok, _ = store.Get(ctx, "@recipe_cache:a")
	assert.False(t, ok)

	require.NoError(t, store.Clear(ctx))
	_, ok, _ = store.Get(ctx, "@recipe_cache:b")
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	exerciseStore(t, store)

	require.NoError(t, store.Set(context.Background(), "k", "vv"))
	used, quota, err := store.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), used)
	assert.Zero(t, quota)
	assert.Equal(t, []string{"k"}, store.Keys())
}

func TestFileStore(t *testing.T) {
	for _, compression := range []bool{true, false} {
		t.Run(map[bool]string{true: "compressed", false: "plain"}[compression], func(t *testing.T) {
			store, err := NewFileStore(FileStoreConfig{Directory: t.TempDir(), Compression: compression}, nil)
			require.NoError(t, err)
			defer store.Close()
			exerciseStore(t, store)
		})
	}
}

func TestFileStoreReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(FileStoreConfig{Directory: dir, Compression: true}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "@recipe_cache:popular_recipes_v2", `[{"id":"r1"}]`))
	require.NoError(t, store.Close())

	reopened, err := NewFileStore(FileStoreConfig{Directory: dir, Compression: true}, nil)
	require.NoError(t, err)
	v, ok, err := reopened.Get(ctx, "@recipe_cache:popular_recipes_v2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"id":"r1"}]`, v)

	used, _, err := reopened.Usage(ctx)
	require.NoError(t, err)
	assert.Positive(t, used)
}

func TestFileStoreCorruptFileReadsAsMissing(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(FileStoreConfig{Directory: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "key", "original"))

	path := store.generateFilePath("key")
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0600))

	_, ok, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, ok)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileStoreCorruptIndexStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, defaultIndexFile), []byte("{not json"), 0600))

	store, err := NewFileStore(FileStoreConfig{Directory: dir}, nil)
	require.NoError(t, err)
	_, ok, err := store.Get(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreClosedRejectsWrites(t *testing.T) {
	store, err := NewFileStore(FileStoreConfig{Directory: t.TempDir()}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	err = store.Set(context.Background(), "k", "v")
	assert.Equal(t, cacheerrors.ErrCodeInvalidState, cacheerrors.GetCode(err))
}

func TestQuotaStore(t *testing.T) {
	ctx := context.Background()
	quota := NewQuotaStore(NewMemoryStore(), 20)

	require.NoError(t, quota.Set(ctx, "a", strings.Repeat("x", 9))) // 10 bytes
	require.NoError(t, quota.Set(ctx, "b", strings.Repeat("x", 8))) // 9 bytes

	err := quota.Set(ctx, "c", "xx")
	require.Error(t, err)
	assert.True(t, cacheerrors.IsStorageFull(err))

	_, ok, _ := quota.Get(ctx, "c")
	assert.False(t, ok, "rejected write must not reach the inner store")

	// Overwriting with a smaller value frees space.
	require.NoError(t, quota.Set(ctx, "a", "x"))
	require.NoError(t, quota.Set(ctx, "c", "xx"))

	used, limit, err := quota.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2+9+3), used)
	assert.Equal(t, int64(20), limit)

	require.NoError(t, quota.Remove(ctx, "b"))
	used, _, _ = quota.Usage(ctx)
	assert.Equal(t, int64(5), used)

	require.NoError(t, quota.Clear(ctx))
	used, _, _ = quota.Usage(ctx)
	assert.Zero(t, used)
}

func TestQuotaStoreLearnsPreexistingSizes(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	require.NoError(t, inner.Set(ctx, "old", "12345"))

	quota := NewQuotaStore(inner, 100)
	_, ok, err := quota.Get(ctx, "old")
	require.NoError(t, err)
	require.True(t, ok)

	used, _, _ := quota.Usage(ctx)
	assert.Equal(t, int64(8), used)

	_, _, _ = quota.Get(ctx, "old")
	used, _, _ = quota.Usage(ctx)
	assert.Equal(t, int64(8), used, "repeated reads must not double count")
}

func TestOpenMemoryWithQuota(t *testing.T) {
	store, err := Open(context.Background(), config.StorageConfig{Backend: "memory", QuotaBytes: 64}, nil)
	require.NoError(t, err)
	defer store.Close()

	_, isQuota := store.(*QuotaStore)
	assert.True(t, isQuota)

	reporter, ok := store.(types.UsageReporter)
	require.True(t, ok)
	_, limit, err := reporter.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(64), limit)
}

func TestOpenFile(t *testing.T) {
	cfg := config.StorageConfig{Backend: "file", File: config.FileConfig{Directory: t.TempDir()}}
	store, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer store.Close()

	_, isFile := store.(*FileStore)
	assert.True(t, isFile)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Backend: "floppy"}, nil)
	assert.Error(t, err)
}

func TestParseInfoInt(t *testing.T) {
	info := "# Memory\r\nused_memory:1048576\r\nmaxmemory:6291456\r\nmaxmemory_human:6.00M\r\n"
	assert.Equal(t, int64(6291456), parseInfoInt(info, "maxmemory"))
	assert.Equal(t, int64(1048576), parseInfoInt(info, "used_memory"))
	assert.Zero(t, parseInfoInt(info, "absent"))
}

func TestEncodeNATSKey(t *testing.T) {
	encoded := encodeNATSKey("@recipe_cache:search_cache_v2")
	assert.NotContains(t, encoded, "@")
	assert.NotContains(t, encoded, ":")
	assert.NotEqual(t, encoded, encodeNATSKey("@recipe_cache:similar_cache_v2"))
}

package kvstore

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
)

func newTestRedisStore(t *testing.T, prefix string) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisStoreConfig{
		Addrs:     []string{mr.Addr()},
		KeyPrefix: prefix,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore(t *testing.T) {
	store, _ := newTestRedisStore(t, "recipecache/")
	exerciseStore(t, store)
}

func TestRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisStoreConfig{}, nil)
	assert.Error(t, err)
}

func TestRedisStoreClearOnlyTouchesPrefix(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, "recipecache/")

	require.NoError(t, store.Set(ctx, "@recipe_cache:a", "1"))
	require.NoError(t, store.Set(ctx, "@recipe_cache:b", "2"))
	require.NoError(t, mr.Set("other:untouched", "x"))
	assert.True(t, mr.Exists("recipecache/@recipe_cache:a"))

	require.NoError(t, store.Clear(ctx))

	assert.False(t, mr.Exists("recipecache/@recipe_cache:a"))
	assert.False(t, mr.Exists("recipecache/@recipe_cache:b"))
	assert.True(t, mr.Exists("other:untouched"))
}

func TestRedisStoreUsage(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, "p/")

	require.NoError(t, store.Set(ctx, "k", "vv"))
	require.NoError(t, mr.Set("elsewhere", "ignored"))

	used, _, err := store.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len("p/k")+2), used)
}

// oomHook makes the server refuse writes the way Redis does at maxmemory.
type oomHook struct{}

func (oomHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (oomHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "set" {
			err := errors.New("OOM command not allowed when used memory > 'maxmemory'.")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (oomHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisStoreOOMIsStorageFull(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client.AddHook(oomHook{})
	store := newRedisStore(client, "p/", slog.Default())
	defer store.Close()

	err := store.Set(context.Background(), "k", "v")
	require.Error(t, err)
	assert.True(t, cacheerrors.IsStorageFull(err))
	assert.False(t, mr.Exists("p/k"))
}

func TestRedisStoreWriteErrorsAreWrapped(t *testing.T) {
	store, mr := newTestRedisStore(t, "p/")
	mr.Close()

	err := store.Set(context.Background(), "k", "v")
	require.Error(t, err)
	assert.Equal(t, cacheerrors.ErrCodeStorageWrite, cacheerrors.GetCode(err))
	assert.False(t, cacheerrors.IsStorageFull(err))
}

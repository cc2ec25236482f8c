package cache

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recipeapp/recipecache/internal/config"
	"github.com/recipeapp/recipecache/internal/kvstore"
	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

func TestSearchCacheHit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	results := makeRecipes("chicken", 4)

	require.NoError(t, h.svc.CacheSearchResults(ctx, "chicken", types.SearchOptions{}, results))
	before := h.svc.CacheStats().Hits

	got, ok := h.svc.GetCachedSearchResults("chicken", types.SearchOptions{})
	require.True(t, ok)
	assert.Equal(t, results, got)
	assert.Equal(t, before+1, h.svc.CacheStats().Hits)

	// The key is normalized.
	_, ok = h.svc.GetCachedSearchResults("  Chicken ", types.SearchOptions{})
	assert.True(t, ok)

	// Options are part of the key.
	_, ok = h.svc.GetCachedSearchResults("chicken", types.SearchOptions{Diet: "low-fat"})
	assert.False(t, ok)
}

func TestSearchCacheReturnsCopies(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	results := makeRecipes("pasta", 2)
	require.NoError(t, h.svc.CacheSearchResults(ctx, "pasta", types.SearchOptions{}, results))

	got, ok := h.svc.GetCachedSearchResults("pasta", types.SearchOptions{})
	require.True(t, ok)
	got[0].Title = "changed"

	again, _ := h.svc.GetCachedSearchResults("pasta", types.SearchOptions{})
	assert.Equal(t, results[0].Title, again[0].Title)
}

func TestSearchCacheTTL(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.svc.CacheSearchResults(ctx, "soup", types.SearchOptions{}, makeRecipes("soup", 1)))

	h.clock.Advance(h.svc.Profile().SearchTTL + time.Millisecond)

	_, ok := h.svc.GetCachedSearchResults("soup", types.SearchOptions{})
	assert.False(t, ok)
	assert.Equal(t, 0, h.svc.search.len())
	assert.True(t, h.svc.search.inLockstep())
	assert.Equal(t, uint64(1), h.svc.CacheStats().Misses)
	assert.Equal(t, uint64(1), h.svc.CacheStats().Evictions)
}

func TestSearchCacheEvictsOldestFive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	limit := h.svc.Profile().MaxSearchCacheSize

	for i := 0; i < limit+5; i++ {
		query := fmt.Sprintf("query %02d", i)
		require.NoError(t, h.svc.CacheSearchResults(ctx, query, types.SearchOptions{}, makeRecipes("r", 1)))
		h.clock.Advance(time.Second)
	}

	assert.Equal(t, limit, h.svc.search.len())
	assert.True(t, h.svc.search.inLockstep())
	assert.Equal(t, uint64(5), h.svc.CacheStats().Evictions)

	for i := 0; i < limit+5; i++ {
		key := SearchKey(fmt.Sprintf("query %02d", i), types.SearchOptions{})
		assert.Equal(t, i >= 5, h.svc.search.peek(key, h.clock.Now()), "entry %d", i)
	}

	var stored []pair[SearchEntry]
	require.True(t, h.loadStored(t, KeySearchCache, &stored))
	assert.Len(t, stored, limit)
}

func TestCacheSearchResultsValidation(t *testing.T) {
	h := newHarness(t, nil)

	err := h.svc.CacheSearchResults(context.Background(), "  ", types.SearchOptions{}, nil)
	require.Error(t, err)
	assert.Equal(t, cacheerrors.ErrCodeValidationFailed, cacheerrors.GetCode(err))

	require.NoError(t, h.svc.CacheSearchResults(context.Background(), "nothing", types.SearchOptions{}, nil))
	got, ok := h.svc.GetCachedSearchResults("nothing", types.SearchOptions{})
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestCacheSearchResultsStorageFull(t *testing.T) {
	store := &rejectingStore{
		KVStore: kvstore.NewMemoryStore(),
		reject: func(key, _ string) bool {
			return key == KeySearchCache
		},
	}
	h := newHarnessWith(t, store, newFakeSource(), newTestClock(), nil)

	err := h.svc.CacheSearchResults(context.Background(), "salad", types.SearchOptions{}, makeRecipes("salad", 3))
	require.NoError(t, err)
	assert.Equal(t, 0, h.svc.search.len())

	_, ok, err := store.Get(context.Background(), KeySearchCache)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSimilarCacheHitAndTTL(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	key := SimilarKey("recipe-1", 6)
	recipes := makeRecipes("sim", 6)

	require.NoError(t, h.svc.CacheSimilarRecipes(ctx, key, recipes))

	got, ok := h.svc.GetCachedSimilarRecipes(key)
	require.True(t, ok)
	assert.Equal(t, recipes, got)

	h.clock.Advance(h.svc.Profile().SimilarTTL + time.Millisecond)
	_, ok = h.svc.GetCachedSimilarRecipes(key)
	assert.False(t, ok)
	assert.Equal(t, 0, h.svc.similar.len())
	assert.True(t, h.svc.similar.inLockstep())
}

func TestSimilarCacheCeiling(t *testing.T) {
	h := newHarness(t, func(p *config.Profile) {
		p.MaxSimilarCacheSize = 3
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.svc.CacheSimilarRecipes(ctx, SimilarKey(fmt.Sprintf("r%d", i), 6), makeRecipes("sim", 2)))
		h.clock.Advance(time.Second)
	}

	assert.Equal(t, 3, h.svc.similar.len())
	_, ok := h.svc.GetCachedSimilarRecipes(SimilarKey("r1", 6))
	assert.False(t, ok)
	_, ok = h.svc.GetCachedSimilarRecipes(SimilarKey("r2", 6))
	assert.True(t, ok)
}

func TestCacheSimilarRecipesStorageFull(t *testing.T) {
	store := &rejectingStore{
		KVStore: kvstore.NewMemoryStore(),
		reject: func(key, value string) bool {
			return key == KeySimilarCache && strings.Count(value, `"id":`) > reducedSimilarSize
		},
	}
	h := newHarnessWith(t, store, newFakeSource(), newTestClock(), nil)
	ctx := context.Background()
	key := SimilarKey("origin", 8)

	require.NoError(t, h.svc.CacheSimilarRecipes(ctx, key, makeRecipes("sim", 8)))

	assert.Equal(t, 0, h.svc.similar.len(), "similar map is cleared")
	assert.True(t, h.svc.similar.inLockstep())

	var stored []pair[SimilarEntry]
	require.True(t, h.loadStored(t, KeySimilarCache, &stored))
	require.Len(t, stored, 1)
	assert.Equal(t, key, stored[0].Key)
	assert.LessOrEqual(t, len(stored[0].Value.Recipes), reducedSimilarSize)
}

func TestCacheSimilarRecipesReducedWriteAlsoFails(t *testing.T) {
	store := &rejectingStore{
		KVStore: kvstore.NewMemoryStore(),
		reject: func(key, _ string) bool {
			return key == KeySimilarCache
		},
	}
	h := newHarnessWith(t, store, newFakeSource(), newTestClock(), nil)

	err := h.svc.CacheSimilarRecipes(context.Background(), SimilarKey("origin", 8), makeRecipes("sim", 8))
	assert.NoError(t, err)
	assert.Equal(t, 0, h.svc.similar.len())
}

func TestGetRecipeInstructions(t *testing.T) {
	source := newFakeSource()
	url := "https://recipes.example.com/chicken/1"
	source.instructions[url] = &types.Instructions{Success: true, Steps: []string{"Heat oil.", "Cook chicken."}}
	h := newHarnessWith(t, kvstore.NewMemoryStore(), source, newTestClock(), nil)
	ctx := context.Background()

	first, err := h.svc.GetRecipeInstructions(ctx, url)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, []string{"Heat oil.", "Cook chicken."}, first.Steps)

	second, err := h.svc.GetRecipeInstructions(ctx, url)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Steps, second.Steps)
	assert.Equal(t, 1, source.instructionCalls)
	assert.Equal(t, 1, h.svc.APIUsage().CallsThisMinute)
}

func TestGetRecipeInstructionsFallbackNotCached(t *testing.T) {
	source := newFakeSource()
	h := newHarnessWith(t, kvstore.NewMemoryStore(), source, newTestClock(), nil)
	ctx := context.Background()
	url := "https://recipes.example.com/unknown"

	first, err := h.svc.GetRecipeInstructions(ctx, url)
	require.NoError(t, err)
	assert.True(t, first.Fallback)

	_, err = h.svc.GetRecipeInstructions(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, 2, source.instructionCalls)
}

func TestGetRecipeInstructionsRateLimited(t *testing.T) {
	source := newFakeSource()
	h := newHarnessWith(t, kvstore.NewMemoryStore(), source, newTestClock(), func(p *config.Profile) {
		p.CallsPerMinute = 1
	})
	ctx := context.Background()
	require.NoError(t, h.svc.TrackAPICall(ctx))

	_, err := h.svc.GetRecipeInstructions(ctx, "https://recipes.example.com/x")
	require.Error(t, err)
	assert.True(t, cacheerrors.IsRateLimited(err))
	assert.Equal(t, 0, source.instructionCalls)

	_, err = h.svc.GetRecipeInstructions(ctx, " ")
	assert.Equal(t, cacheerrors.ErrCodeValidationFailed, cacheerrors.GetCode(err))
}

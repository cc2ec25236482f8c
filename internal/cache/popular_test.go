package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recipeapp/recipecache/internal/config"
	"github.com/recipeapp/recipecache/internal/kvstore"
	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

func TestRefreshPopularRecipesValidity(t *testing.T) {
	source := newFakeSource()
	for _, q := range strategicQueries {
		recipes := makeRecipes(q, 20)
		for i := range recipes {
			if i%4 == 0 {
				recipes[i].Image = ""
			}
		}
		source.search[q] = recipes
	}
	h := newHarnessWith(t, kvstore.NewMemoryStore(), source, newTestClock(), nil)
	ctx := context.Background()

	require.NoError(t, h.svc.RefreshPopularRecipes(ctx))

	popular := h.svc.GetTrendingRecipes(0)
	assert.Len(t, popular, trendingSize)

	all, err := h.svc.GetPopularRecipes(ctx, 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(all), h.svc.Profile().PopularTarget)
	assert.Len(t, all, 100)

	seen := make(map[string]bool)
	for _, r := range all {
		assert.True(t, r.Valid(), "recipe %q", r.ID)
		assert.False(t, seen[r.ID], "duplicate %q", r.ID)
		seen[r.ID] = true
	}

	var stored []types.Recipe
	require.True(t, h.loadStored(t, KeyPopularRecipes, &stored))
	assert.Len(t, stored, 100)
	var trending []types.Recipe
	require.True(t, h.loadStored(t, KeyTrendingRecipes, &trending))
	assert.Len(t, trending, trendingSize)
}

func TestRefreshPopularRecipesCategoryBalance(t *testing.T) {
	h := newHarnessWith(t, kvstore.NewMemoryStore(), newFakeSource().withStrategicResults(15), newTestClock(), nil)
	ctx := context.Background()

	require.NoError(t, h.svc.RefreshPopularRecipes(ctx))
	all, err := h.svc.GetPopularRecipes(ctx, 0)
	require.NoError(t, err)

	counts := make(map[string]int)
	for _, r := range all {
		counts[r.Category]++
	}
	floor := h.svc.Profile().PopularTarget / len(strategicQueries)
	for _, q := range strategicQueries {
		assert.GreaterOrEqual(t, counts[q], floor, "category %s", q)
	}
}

func TestSelectBestRecipes(t *testing.T) {
	t.Run("even share with remainder to first categories", func(t *testing.T) {
		byCategory := map[string][]types.Recipe{
			"a": makeRecipes("a", 10),
			"b": makeRecipes("b", 10),
			"c": makeRecipes("c", 10),
		}
		selected := selectBestRecipes(byCategory, []string{"a", "b", "c"}, 10)
		require.Len(t, selected, 10)

		counts := make(map[string]int)
		for _, r := range selected {
			counts[strings.SplitN(r.ID, "-", 2)[0]]++
		}
		assert.Equal(t, map[string]int{"a": 4, "b": 3, "c": 3}, counts)
	})

	t.Run("short category leaves room for leftovers", func(t *testing.T) {
		byCategory := map[string][]types.Recipe{
			"a": makeRecipes("a", 1),
			"b": makeRecipes("b", 10),
		}
		selected := selectBestRecipes(byCategory, []string{"a", "b"}, 6)
		assert.Len(t, selected, 6)
	})

	t.Run("prefers total time near target", func(t *testing.T) {
		recipes := makeRecipes("a", 3)
		recipes[0].TotalTime = 120
		recipes[1].TotalTime = 0
		recipes[2].TotalTime = 35
		selected := selectBestRecipes(map[string][]types.Recipe{"a": recipes}, []string{"a"}, 2)
		require.Len(t, selected, 2)
		assert.Equal(t, "a-2", selected[0].ID)
		assert.Equal(t, "a-0", selected[1].ID)
	})

	t.Run("nothing to select", func(t *testing.T) {
		assert.Empty(t, selectBestRecipes(map[string][]types.Recipe{}, strategicQueries, 100))
	})
}

func TestRefreshPopularRecipesSkipsFailingQueries(t *testing.T) {
	source := newFakeSource().withStrategicResults(5)
	source.searchErr["pasta"] = errors.New("connection reset")
	h := newHarnessWith(t, kvstore.NewMemoryStore(), source, newTestClock(), nil)
	ctx := context.Background()

	require.NoError(t, h.svc.RefreshPopularRecipes(ctx))
	assert.Equal(t, len(strategicQueries), source.searchCallCount())

	pasta, err := h.svc.GetRecipesByCategory(ctx, "pasta", 0)
	require.NoError(t, err)
	assert.Empty(t, pasta)

	chicken, err := h.svc.GetRecipesByCategory(ctx, "Chicken", 3)
	require.NoError(t, err)
	assert.Len(t, chicken, 3)
	for _, r := range chicken {
		assert.Equal(t, "chicken", r.Category)
	}
}

func TestGetRecipesByCategoryNegativeCount(t *testing.T) {
	source := newFakeSource().withStrategicResults(4)
	h := newHarnessWith(t, kvstore.NewMemoryStore(), source, newTestClock(), nil)
	ctx := context.Background()

	var chicken []types.Recipe
	require.NotPanics(t, func() {
		var err error
		chicken, err = h.svc.GetRecipesByCategory(ctx, "chicken", -1)
		require.NoError(t, err)
	})
	assert.Len(t, chicken, 4)
}

func TestConcurrentColdReadsShareOneRefresh(t *testing.T) {
	source := newFakeSource().withStrategicResults(5)
	gate := make(chan struct{})
	source.gate = gate
	h := newHarnessWith(t, kvstore.NewMemoryStore(), source, newTestClock(), nil)
	ctx := context.Background()

	const readers = 3
	var wg sync.WaitGroup
	results := make([][]types.Recipe, readers)
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.GetPopularRecipes(ctx, 10)
		}(i)
	}

	// Every reader has missed before the first search is released.
	require.Eventually(t, func() bool {
		return h.svc.CacheStats().Misses == readers
	}, 2*time.Second, 5*time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		assert.Len(t, results[i], 10)
	}
	assert.Equal(t, len(strategicQueries), source.searchCallCount())
	assert.Equal(t, len(strategicQueries), h.svc.APIUsage().CallsThisMinute)
}

func TestForcedRefreshIgnoresFreshness(t *testing.T) {
	source := newFakeSource().withStrategicResults(5)
	h := newHarnessWith(t, kvstore.NewMemoryStore(), source, newTestClock(), nil)
	ctx := context.Background()

	require.NoError(t, h.svc.RefreshPopularRecipes(ctx))
	require.NoError(t, h.svc.refreshPopular(ctx, false))
	assert.Equal(t, len(strategicQueries), source.searchCallCount())

	_, err := h.svc.ForceRefreshPopularRecipes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2*len(strategicQueries), source.searchCallCount())
}

func TestRefreshPopularRecipesNoResults(t *testing.T) {
	h := newHarness(t, nil)

	err := h.svc.RefreshPopularRecipes(context.Background())
	require.Error(t, err)
	assert.Equal(t, cacheerrors.ErrCodeNoResults, cacheerrors.GetCode(err))
}

func TestRefreshPopularRecipesRateLimited(t *testing.T) {
	t.Run("denied before the first call", func(t *testing.T) {
		source := newFakeSource().withStrategicResults(5)
		h := newHarnessWith(t, kvstore.NewMemoryStore(), source, newTestClock(), func(p *config.Profile) {
			p.CallsPerMinute = 2
		})
		ctx := context.Background()
		require.NoError(t, h.svc.TrackAPICall(ctx))
		require.NoError(t, h.svc.TrackAPICall(ctx))

		err := h.svc.RefreshPopularRecipes(ctx)
		require.Error(t, err)
		assert.True(t, cacheerrors.IsRateLimited(err))
		assert.Equal(t, 0, source.searchCallCount())

		_, err = h.svc.ForceRefreshPopularRecipes(ctx)
		assert.True(t, cacheerrors.IsRateLimited(err))
	})

	t.Run("budget runs out mid refresh", func(t *testing.T) {
		source := newFakeSource().withStrategicResults(5)
		h := newHarnessWith(t, kvstore.NewMemoryStore(), source, newTestClock(), func(p *config.Profile) {
			p.CallsPerMinute = 3
		})

		require.NoError(t, h.svc.RefreshPopularRecipes(context.Background()))
		assert.Equal(t, 3, source.searchCallCount())
		assert.Equal(t, 3, h.svc.APIUsage().CallsThisMinute)
		assert.Len(t, h.svc.GetTrendingRecipes(0), trendingSize)
	})
}

func TestGetPopularRecipesServesWithinTTL(t *testing.T) {
	source := newFakeSource().withStrategicResults(5)
	h := newHarnessWith(t, kvstore.NewMemoryStore(), source, newTestClock(), nil)
	ctx := context.Background()

	first, err := h.svc.GetPopularRecipes(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, first, 10)
	calls := source.searchCallCount()

	h.clock.Advance(time.Hour)
	second, err := h.svc.GetPopularRecipes(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, source.searchCallCount())

	stats := h.svc.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestGetPopularRecipesServesStaleOnFailure(t *testing.T) {
	source := newFakeSource().withStrategicResults(5)
	h := newHarnessWith(t, kvstore.NewMemoryStore(), source, newTestClock(), nil)
	ctx := context.Background()

	require.NoError(t, h.svc.RefreshPopularRecipes(ctx))
	for _, q := range strategicQueries {
		source.searchErr[q] = errors.New("upstream down")
	}

	h.clock.Advance(h.svc.Profile().PopularTTL + time.Minute)
	stale, err := h.svc.GetPopularRecipes(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, stale, 5)
}

func TestGetPopularRecipesEmptyAndFailing(t *testing.T) {
	h := newHarness(t, nil)

	recipes, err := h.svc.GetPopularRecipes(context.Background(), 5)
	require.Error(t, err)
	assert.Nil(t, recipes)
}

func TestSavePopularReducesOnStorageFull(t *testing.T) {
	store := &rejectingStore{
		KVStore: kvstore.NewMemoryStore(),
		reject: func(key, value string) bool {
			return key == KeyPopularRecipes && strings.Count(value, `"id":`) > reducedPopularSize
		},
	}
	h := newHarnessWith(t, store, newFakeSource().withStrategicResults(15), newTestClock(), nil)

	require.NoError(t, h.svc.RefreshPopularRecipes(context.Background()))

	var stored []types.Recipe
	require.True(t, h.loadStored(t, KeyPopularRecipes, &stored))
	assert.Len(t, stored, reducedPopularSize)

	all, err := h.svc.GetPopularRecipes(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 100, "memory keeps the full set")
}

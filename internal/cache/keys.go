package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/recipeapp/recipecache/internal/ratelimit"
	"github.com/recipeapp/recipecache/pkg/types"
)

// Storage keys. The _v2 suffix versions the blob schema.
const (
	KeyPopularRecipes  = "@recipe_cache:popular_recipes_v2"
	KeyTrendingRecipes = "@recipe_cache:trending_v2"
	KeySearchCache     = "@recipe_cache:search_cache_v2"
	KeySimilarCache    = "@recipe_cache:similar_cache_v2"
	KeyCacheStats      = "@recipe_cache:stats_v2"
	KeyLastFetch       = "@recipe_cache:last_fetch_v2"

	healthKeyPrefix = "@recipe_cache:health_check_"
)

// cacheKeys lists every key this package writes, rate limiter keys included.
var cacheKeys = []string{
	KeyPopularRecipes,
	KeyTrendingRecipes,
	KeySearchCache,
	KeySimilarCache,
	KeyCacheStats,
	KeyLastFetch,
	ratelimit.KeyAPICallCount,
	ratelimit.KeyLastAPICall,
	ratelimit.KeyMonthlyUsage,
}

// SearchKey is the cache key for a search: the trimmed, lower-cased query and
// the options rendered as sorted-key JSON.
func SearchKey(query string, opts types.SearchOptions) string {
	return strings.ToLower(strings.TrimSpace(query)) + "_" + opts.CanonicalJSON()
}

// SimilarKey is the cache key for the similar recipes of one recipe.
func SimilarKey(recipeID string, count int) string {
	return fmt.Sprintf("%s_%d", recipeID, count)
}

// SearchEntry is one cached search result.
type SearchEntry struct {
	Results   []types.Recipe `json:"results"`
	Timestamp time.Time      `json:"timestamp"`
	Query     string         `json:"query"`
}

func (e SearchEntry) storedAt() time.Time     { return e.Timestamp }
func (e SearchEntry) lifetime() time.Duration { return 0 }

func (e SearchEntry) valid() bool {
	return !e.Timestamp.IsZero() && strings.TrimSpace(e.Query) != "" && e.Results != nil
}

// SimilarEntry is one cached similar-recipes list.
type SimilarEntry struct {
	Recipes   []types.Recipe `json:"recipes"`
	Timestamp time.Time      `json:"timestamp"`
	TTL       time.Duration  `json:"ttl"`
}

func (e SimilarEntry) storedAt() time.Time     { return e.Timestamp }
func (e SimilarEntry) lifetime() time.Duration { return e.TTL }

func (e SimilarEntry) valid() bool {
	return !e.Timestamp.IsZero() && len(e.Recipes) > 0
}

func cloneRecipes(in []types.Recipe) []types.Recipe {
	if in == nil {
		return nil
	}
	out := make([]types.Recipe, len(in))
	copy(out, in)
	return out
}

func validRecipes(in []types.Recipe) []types.Recipe {
	out := make([]types.Recipe, 0, len(in))
	for _, r := range in {
		if r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

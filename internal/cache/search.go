package cache

import (
	"context"
	"strings"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

// GetCachedSearchResults returns the cached results for query and opts. An
// expired entry is removed and reported as a miss. The read path never calls
// the recipe source.
func (s *Service) GetCachedSearchResults(query string, opts types.SearchOptions) ([]types.Recipe, bool) {
	start := s.now()
	key := SearchKey(query, opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, result := s.search.get(key, start)
	switch result {
	case lookupHit:
		s.recordHitLocked(cacheSearch, start)
		return cloneRecipes(entry.Results), true
	case lookupExpired:
		s.recordEvictionsLocked(cacheSearch, "ttl", 1)
	}
	s.recordMissLocked(cacheSearch, start)
	return nil, false
}

// CacheSearchResults stores results for query and opts, evicts past the size
// ceiling and persists the search cache. A full store clears the search
// cache. Persistence failures are logged, not returned.
func (s *Service) CacheSearchResults(ctx context.Context, query string, opts types.SearchOptions, results []types.Recipe) error {
	if strings.TrimSpace(query) == "" {
		return cacheerrors.NewError(cacheerrors.ErrCodeValidationFailed, "search query is empty").
			WithComponent("cache").
			WithOperation("CacheSearchResults")
	}
	if results == nil {
		results = []types.Recipe{}
	}

	now := s.now()
	key := SearchKey(query, opts)

	s.mu.Lock()
	s.search.put(key, SearchEntry{
		Results:   cloneRecipes(results),
		Timestamp: now,
		Query:     query,
	}, now)
	evicted := s.search.evictToLimit(s.profile.MaxSearchCacheSize)
	s.recordEvictionsLocked(cacheSearch, "lru", len(evicted))
	s.metrics.UpdateCacheEntries(cacheSearch, s.search.len())
	s.mu.Unlock()

	err := s.persistSearch(ctx)
	if err == nil {
		return nil
	}
	if !cacheerrors.IsStorageFull(err) {
		s.logger.Warn("Failed to persist search cache", "error", err)
		return nil
	}

	s.metrics.RecordStorageFull(cacheSearch)
	s.logger.Warn("Storage full while caching search results, clearing search cache", "query", query)

	s.mu.Lock()
	cleared := s.search.clear()
	s.recordEvictionsLocked(cacheSearch, "storage_full", cleared)
	s.metrics.UpdateCacheEntries(cacheSearch, 0)
	s.mu.Unlock()

	s.discardBlob(ctx, KeySearchCache)
	return nil
}

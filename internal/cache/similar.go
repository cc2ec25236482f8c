package cache

import (
	"context"
	"strings"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

// reducedSimilarSize is how many recipes the single entry written after a
// storage-full failure keeps.
const reducedSimilarSize = 5

// GetCachedSimilarRecipes returns the recipes cached under key.
func (s *Service) GetCachedSimilarRecipes(key string) ([]types.Recipe, bool) {
	start := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, result := s.similar.get(key, start)
	switch result {
	case lookupHit:
		s.recordHitLocked(cacheSimilar, start)
		return cloneRecipes(entry.Recipes), true
	case lookupExpired:
		s.recordEvictionsLocked(cacheSimilar, "ttl", 1)
	}
	s.recordMissLocked(cacheSimilar, start)
	return nil, false
}

// CacheSimilarRecipes stores recipes under key. On a full store the similar
// cache is cleared and a single reduced entry for key is written. Storage
// failures are never returned.
func (s *Service) CacheSimilarRecipes(ctx context.Context, key string, recipes []types.Recipe) error {
	if strings.TrimSpace(key) == "" {
		return cacheerrors.NewError(cacheerrors.ErrCodeValidationFailed, "similar cache key is empty").
			WithComponent("cache").
			WithOperation("CacheSimilarRecipes")
	}
	if len(recipes) == 0 {
		return nil
	}

	now := s.now()
	entry := SimilarEntry{
		Recipes:   cloneRecipes(recipes),
		Timestamp: now,
		TTL:       s.profile.SimilarTTL,
	}

	s.mu.Lock()
	s.similar.put(key, entry, now)
	evicted := s.similar.evictToLimit(s.profile.MaxSimilarCacheSize)
	s.recordEvictionsLocked(cacheSimilar, "lru", len(evicted))
	s.metrics.UpdateCacheEntries(cacheSimilar, s.similar.len())
	s.mu.Unlock()

	err := s.persistSimilar(ctx)
	if err == nil {
		return nil
	}
	if !cacheerrors.IsStorageFull(err) {
		s.logger.Warn("Failed to persist similar cache", "key", key, "error", err)
		return nil
	}

	s.metrics.RecordStorageFull(cacheSimilar)
	s.logger.Warn("Storage full while caching similar recipes, clearing similar cache", "key", key)

	reduced := entry
	reduced.Recipes = headRecipes(entry.Recipes, reducedSimilarSize)

	s.mu.Lock()
	cleared := s.similar.clear()
	s.recordEvictionsLocked(cacheSimilar, "storage_full", cleared)
	s.metrics.UpdateCacheEntries(cacheSimilar, 0)
	s.mu.Unlock()

	s.persistMu.Lock()
	err = s.setJSON(ctx, KeySimilarCache, []pair[SimilarEntry]{{Key: key, Value: reduced}})
	s.persistMu.Unlock()
	if err != nil {
		s.logger.Warn("Reduced similar persist failed", "key", key, "error", err)
	}
	return nil
}

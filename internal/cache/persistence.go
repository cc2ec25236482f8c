package cache

import (
	"context"
	"encoding/json"
	stderr "errors"
	"time"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

// setJSON serializes v and writes it under key.
func (s *Service) setJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return cacheerrors.Wrap(err, cacheerrors.ErrCodeInternalError, "failed to serialize cache blob").
			WithComponent("cache").
			WithDetail("key", key)
	}
	if err := s.store.Set(ctx, key, string(raw)); err != nil {
		s.recordHealth(componentStorage, err)
		return err
	}
	return nil
}

// getBlob reads a blob, discarding and removing it when it exceeds the blob
// size limit.
func (s *Service) getBlob(ctx context.Context, key string) (string, bool) {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Failed to read cache blob", "key", key, "error", err)
		s.recordHealth(componentStorage, err)
		return "", false
	}
	if !ok {
		return "", false
	}
	if max := s.profile.MaxBlobBytes; max > 0 && len(raw) > max {
		s.logger.Warn("Discarding oversized cache blob", "key", key, "bytes", len(raw), "limit", max)
		s.discardBlob(ctx, key)
		return "", false
	}
	return raw, true
}

// decodeBlob reads and decodes key into v. A malformed blob is removed.
func (s *Service) decodeBlob(ctx context.Context, key string, v interface{}) bool {
	raw, ok := s.getBlob(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		s.logger.Warn("Discarding malformed cache blob", "key", key, "error", err)
		s.discardBlob(ctx, key)
		return false
	}
	return true
}

func (s *Service) discardBlob(ctx context.Context, key string) {
	if err := s.store.Remove(ctx, key); err != nil {
		s.logger.Warn("Failed to remove cache blob", "key", key, "error", err)
	}
}

// load restores every tier from the store. Each blob is independent: one
// unreadable blob is dropped without affecting the others.
func (s *Service) load(ctx context.Context) {
	now := s.now()

	var popular []types.Recipe
	popularOK := s.decodeBlob(ctx, KeyPopularRecipes, &popular)

	var fetched time.Time
	fetchedOK := s.decodeBlob(ctx, KeyLastFetch, &fetched)

	var trending []types.Recipe
	trendingOK := s.decodeBlob(ctx, KeyTrendingRecipes, &trending)

	var searchPairs []pair[SearchEntry]
	searchOK := s.decodeBlob(ctx, KeySearchCache, &searchPairs)

	var similarPairs []pair[SimilarEntry]
	similarOK := s.decodeBlob(ctx, KeySimilarCache, &similarPairs)

	var persisted statistics
	statsOK := s.decodeBlob(ctx, KeyCacheStats, &persisted)

	s.mu.Lock()
	defer s.mu.Unlock()

	if popularOK {
		valid := validRecipes(popular)
		if dropped := len(popular) - len(valid); dropped > 0 {
			s.logger.Info("Dropped invalid popular recipes", "count", dropped)
		}
		if target := s.profile.PopularTarget; target > 0 && len(valid) > target {
			valid = valid[:target]
		}
		s.popular = valid
		if fetchedOK {
			s.popularFetched = fetched
		}
	}
	if trendingOK {
		s.trending = validRecipes(trending)
	}
	if searchOK {
		kept, dropped := s.search.load(searchPairs, now, SearchEntry.valid)
		s.search.evictToLimit(s.profile.MaxSearchCacheSize)
		s.logger.Debug("Restored search cache", "entries", kept, "dropped", dropped)
	}
	if similarOK {
		kept, dropped := s.similar.load(similarPairs, now, SimilarEntry.valid)
		s.similar.evictToLimit(s.profile.MaxSimilarCacheSize)
		s.logger.Debug("Restored similar cache", "entries", kept, "dropped", dropped)
	}
	if statsOK {
		s.stats = persisted
	}
	s.publishGaugesLocked()
}

func (s *Service) persistPopular(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	popular := cloneRecipes(s.popular)
	trending := cloneRecipes(s.trending)
	fetched := s.popularFetched
	s.mu.Unlock()

	return stderr.Join(
		s.setJSON(ctx, KeyPopularRecipes, popular),
		s.setJSON(ctx, KeyLastFetch, fetched),
		s.setJSON(ctx, KeyTrendingRecipes, trending),
	)
}

func (s *Service) persistSearch(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	pairs := s.search.pairs()
	s.mu.Unlock()

	return s.setJSON(ctx, KeySearchCache, pairs)
}

func (s *Service) persistSimilar(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	pairs := s.similar.pairs()
	s.mu.Unlock()

	return s.setJSON(ctx, KeySimilarCache, pairs)
}

func (s *Service) persistStats(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	stats := s.stats
	s.mu.Unlock()

	return s.setJSON(ctx, KeyCacheStats, stats)
}

// persistAll writes every tier. It does not stop at the first failure.
func (s *Service) persistAll(ctx context.Context) error {
	return stderr.Join(
		s.persistPopular(ctx),
		s.persistSearch(ctx),
		s.persistSimilar(ctx),
		s.persistStats(ctx),
	)
}

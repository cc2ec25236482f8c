package cache

import (
	"context"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

// preloadSimilarCount is the result count similar recipes are warmed for.
const preloadSimilarCount = 6

// preloadQueries are common searches warmed by PreloadPopularContent.
var preloadQueries = []string{
	"quick dinner",
	"healthy breakfast",
	"easy dessert",
}

// PreloadPopularContent warms the instructions and similar caches for the top
// popular recipes and the search cache for a few common queries. Calls are
// paced; a rate-limited or failing item is logged and skipped. Only one
// preload runs at a time; an overlapping call returns immediately.
func (s *Service) PreloadPopularContent(ctx context.Context) error {
	if !s.preloading.CompareAndSwap(false, true) {
		s.logger.Debug("Preload already in progress")
		return nil
	}
	defer s.preloading.Store(false)

	s.mu.Lock()
	batch := headRecipes(s.popular, s.profile.PreloadBatchSize)
	s.mu.Unlock()
	if s.profile.PreloadBatchSize <= 0 {
		batch = nil
	}

	s.logger.Info("Preloading popular content", "recipes", len(batch), "queries", len(preloadQueries))
	warmed := 0

	for _, recipe := range batch {
		if recipe.URL != "" && !s.instructionsCached(recipe.URL) {
			ok, err := s.preloadStep(ctx, "instructions", recipe.ID, func() error {
				_, err := s.fetchInstructions(ctx, recipe.URL)
				return err
			})
			if err != nil {
				return err
			}
			if ok {
				warmed++
			}
		}

		key := SimilarKey(recipe.ID, preloadSimilarCount)
		if !s.similarCached(key) {
			ok, err := s.preloadStep(ctx, "similar", recipe.ID, func() error {
				if err := s.TrackAPICall(ctx); err != nil {
					return err
				}
				similar, err := s.source.GetSimilarRecipes(ctx, recipe, preloadSimilarCount)
				s.recordHealth(componentUpstream, err)
				if err != nil {
					s.metrics.RecordAPICall("error")
					return err
				}
				s.metrics.RecordAPICall("success")
				return s.CacheSimilarRecipes(ctx, key, similar)
			})
			if err != nil {
				return err
			}
			if ok {
				warmed++
			}
		}
	}

	for _, query := range preloadQueries {
		opts := types.SearchOptions{}
		if s.searchCached(query, opts) {
			continue
		}
		ok, err := s.preloadStep(ctx, "search", query, func() error {
			if err := s.TrackAPICall(ctx); err != nil {
				return err
			}
			result, err := s.source.SearchRecipes(ctx, query, opts)
			s.recordHealth(componentUpstream, err)
			if err != nil {
				s.metrics.RecordAPICall("error")
				return err
			}
			s.metrics.RecordAPICall("success")
			return s.CacheSearchResults(ctx, query, opts, result.Recipes)
		})
		if err != nil {
			return err
		}
		if ok {
			warmed++
		}
	}

	s.logger.Info("Preload complete", "warmed", warmed)
	return nil
}

// preloadStep waits for the pacer and runs fetch. It reports whether the item
// was warmed. Only context cancellation is returned; every other failure is
// logged and skipped.
func (s *Service) preloadStep(ctx context.Context, kind, item string, fetch func() error) (bool, error) {
	if err := s.preloadPacer.Wait(ctx); err != nil {
		return false, err
	}
	if err := fetch(); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if cacheerrors.IsRateLimited(err) {
			s.logger.Debug("Skipping preload item, rate limited", "kind", kind, "item", item, "error", err)
		} else {
			s.logger.Warn("Preload item failed", "kind", kind, "item", item, "error", err)
		}
		return false, nil
	}
	return true, nil
}

func (s *Service) instructionsCached(url string) bool {
	return s.instructions.Contains(url)
}

func (s *Service) similarCached(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.similar.peek(key, s.now())
}

func (s *Service) searchCached(query string, opts types.SearchOptions) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.search.peek(SearchKey(query, opts), s.now())
}

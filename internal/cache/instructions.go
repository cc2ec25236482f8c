package cache

import (
	"context"
	"strings"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

// GetRecipeInstructions returns the cooking steps for a recipe URL, fetching
// through the recipe source on a miss when the rate limiter allows it.
// Fallback results are returned but not cached.
func (s *Service) GetRecipeInstructions(ctx context.Context, url string) (*types.Instructions, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, cacheerrors.NewError(cacheerrors.ErrCodeValidationFailed, "recipe url is empty").
			WithComponent("cache").
			WithOperation("GetRecipeInstructions")
	}

	start := s.now()
	if cached, ok := s.instructions.Get(url); ok {
		s.mu.Lock()
		s.recordHitLocked(cacheInstructions, start)
		s.mu.Unlock()
		cached.Cached = true
		cached.Steps = append([]string(nil), cached.Steps...)
		return &cached, nil
	}

	s.mu.Lock()
	s.recordMissLocked(cacheInstructions, start)
	s.mu.Unlock()

	return s.fetchInstructions(ctx, url)
}

func (s *Service) fetchInstructions(ctx context.Context, url string) (*types.Instructions, error) {
	if err := s.TrackAPICall(ctx); err != nil {
		return nil, err
	}

	result, err := s.source.GetRecipeInstructions(ctx, url)
	s.recordHealth(componentUpstream, err)
	if err != nil {
		s.metrics.RecordAPICall("error")
		return nil, err
	}
	s.metrics.RecordAPICall("success")
	if result == nil {
		return nil, cacheerrors.NewError(cacheerrors.ErrCodeNoResults, "no instructions returned").
			WithComponent("cache").
			WithDetail("url", url)
	}

	if result.Success && !result.Fallback {
		s.instructions.Add(url, *result)
		s.metrics.UpdateCacheEntries(cacheInstructions, s.instructions.Len())
	}
	return result, nil
}

// CanMakeAPICall reports whether the per-minute and monthly budgets allow
// another recipe API call.
func (s *Service) CanMakeAPICall() bool {
	return s.tracker.CanMakeCall()
}

// TrackAPICall atomically checks the budget and counts one outbound call. A
// denied call is not counted and returns the rate-limit error. Persistence
// failures of the counters are logged only.
func (s *Service) TrackAPICall(ctx context.Context) error {
	if err := s.tracker.Reserve(ctx); err != nil {
		s.metrics.RecordAPICall("denied")
		return err
	}
	return nil
}

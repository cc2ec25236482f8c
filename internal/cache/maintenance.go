package cache

import (
	"context"
	"encoding/json"
	"fmt"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
)

// memoryShrinkFactor is applied to both size ceilings when the estimated
// footprint is over the memory warning threshold.
const memoryShrinkFactor = 0.75

// runStep runs fn, converting a panic into an error. Failures are logged and
// never escape.
func (s *Service) runStep(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cacheerrors.NewError(cacheerrors.ErrCodeInternalError, fmt.Sprintf("maintenance step panicked: %v", r)).
				WithComponent("cache").
				WithOperation(name)
		}
		if err != nil {
			s.logger.Warn("Maintenance step failed", "step", name, "error", err)
		}
	}()
	return fn()
}

// RunMaintenance runs one maintenance pass: TTL sweep, size ceilings, memory
// estimation with a temporary shrink when over the warning threshold, then
// statistics and persistence. Each step runs even when an earlier one fails.
func (s *Service) RunMaintenance(ctx context.Context) {
	start := s.now()
	changed := false

	_ = s.runStep("remove_expired", func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		now := s.now()
		search := s.search.removeExpired(now)
		similar := s.similar.removeExpired(now)
		s.recordEvictionsLocked(cacheSearch, "ttl", search)
		s.recordEvictionsLocked(cacheSimilar, "ttl", similar)
		changed = changed || search+similar > 0
		return nil
	})

	_ = s.runStep("enforce_limits", func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		changed = s.enforceLimitsLocked(s.profile.MaxSearchCacheSize, s.profile.MaxSimilarCacheSize, "lru") || changed
		return nil
	})

	_ = s.runStep("estimate_memory", func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		usage := s.estimateMemoryLocked()
		if warn := s.profile.MemoryWarningBytes; warn > 0 && usage > warn {
			s.logger.Warn("Cache memory over warning threshold, shrinking",
				"usage_bytes", usage,
				"warning_bytes", warn)
			searchLimit := int(float64(s.profile.MaxSearchCacheSize) * memoryShrinkFactor)
			similarLimit := int(float64(s.profile.MaxSimilarCacheSize) * memoryShrinkFactor)
			changed = s.enforceLimitsLocked(searchLimit, similarLimit, "memory") || changed
			usage = s.estimateMemoryLocked()
		}
		s.stats.MemoryUsage = usage
		return nil
	})

	_ = s.runStep("persist", func() error {
		s.mu.Lock()
		s.publishGaugesLocked()
		s.mu.Unlock()

		var err error
		if changed {
			err = s.persistAll(ctx)
		} else {
			err = s.persistStats(ctx)
		}
		return err
	})

	if s.profile.BackgroundRefresh {
		_ = s.runStep("refresh_popular", func() error {
			if !s.popularNeedsRefresh() || !s.CanMakeAPICall() {
				return nil
			}
			return s.refreshPopular(ctx, false)
		})
	}

	s.metrics.ObserveMaintenance(s.now().Sub(start))
}

// ForceOptimization runs a maintenance pass immediately and stamps the
// optimization time.
func (s *Service) ForceOptimization(ctx context.Context) {
	s.logger.Info("Forcing cache optimization")
	s.RunMaintenance(ctx)

	s.mu.Lock()
	s.stats.LastOptimization = s.now()
	s.mu.Unlock()

	if err := s.persistStats(ctx); err != nil {
		s.logger.Warn("Failed to persist cache statistics", "error", err)
	}
}

// enforceLimitsLocked evicts both maps down to the given ceilings and reports
// whether anything was removed.
func (s *Service) enforceLimitsLocked(searchLimit, similarLimit int, reason string) bool {
	search := s.search.evictToLimit(searchLimit)
	similar := s.similar.evictToLimit(similarLimit)
	s.recordEvictionsLocked(cacheSearch, reason, len(search))
	s.recordEvictionsLocked(cacheSimilar, reason, len(similar))
	return len(search)+len(similar) > 0
}

// estimateMemoryLocked sums the serialized size of every tier, doubled to
// approximate UTF-16 storage.
func (s *Service) estimateMemoryLocked() int64 {
	total := s.search.estimateBytes() + s.similar.estimateBytes()
	if raw, err := json.Marshal(s.popular); err == nil {
		total += int64(len(KeyPopularRecipes)+len(raw)) * 2
	}
	return total
}

package cache

import (
	"context"

	"github.com/google/uuid"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

const (
	// proactive optimization at the warning ratio
	optimizeFraction    = 0.3
	optimizePopularSize = 80

	// EmergencyCleanup
	emergencySimilarSize = 20
	emergencyPopularSize = 50

	// EmergencyStorageCleanup
	storageCrisisPopularSize = 20
)

// CheckStorageHealth writes and removes a health-check key, then estimates storage
// usage. A full store triggers EmergencyStorageCleanup; usage at or above the
// warning ratio triggers a proactive optimization. Only write-check failures other
// than a full store are returned.
func (s *Service) CheckStorageHealth(ctx context.Context) error {
	if err := s.checkStorageWrite(ctx); err != nil {
		return s.handleWriteCheckFailure(ctx, err)
	}
	return s.relieveStoragePressure(ctx)
}

// checkStorageWrite writes and removes a throwaway key. It touches no cache state.
func (s *Service) checkStorageWrite(ctx context.Context) error {
	key := healthKeyPrefix + uuid.NewString()

	err := s.store.Set(ctx, key, s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	if err == nil {
		err = s.store.Remove(ctx, key)
	}
	s.recordHealth(componentStorage, err)
	return err
}

func (s *Service) handleWriteCheckFailure(ctx context.Context, err error) error {
	if cacheerrors.IsStorageFull(err) {
		s.metrics.RecordStorageFull("health_check")
		s.logger.Error("Storage full during health check")
		return s.EmergencyStorageCleanup(ctx)
	}
	return cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageWrite, "storage write check failed").
		WithComponent("cache").
		WithOperation("CheckStorageHealth")
}

// relieveStoragePressure measures usage and runs the matching step of the
// storage ladder. It persists the in-memory tiers, so it must not run before
// they are restored.
func (s *Service) relieveStoragePressure(ctx context.Context) error {
	used, quota := s.storageUsage(ctx)
	if quota <= 0 {
		return nil
	}
	ratio := float64(used) / float64(quota)

	s.mu.Lock()
	s.storageRatio = ratio
	s.mu.Unlock()

	switch {
	case ratio >= 1:
		s.metrics.RecordStorageFull("quota")
		s.logger.Error("Storage quota exhausted", "used_bytes", used, "quota_bytes", quota)
		return s.EmergencyStorageCleanup(ctx)
	case s.profile.StorageWarningRatio > 0 && ratio >= s.profile.StorageWarningRatio:
		s.logger.Warn("Storage usage over warning threshold, optimizing",
			"used_bytes", used,
			"quota_bytes", quota,
			"ratio", ratio)
		s.optimizeStorage(ctx)
	default:
		s.logger.Debug("Storage healthy", "used_bytes", used, "quota_bytes", quota)
	}
	return nil
}

// storageUsage asks the store for usage when it can report it, otherwise sums
// the size of this package's keys. A store without a quota is measured
// against the profile quota.
func (s *Service) storageUsage(ctx context.Context) (used, quota int64) {
	if reporter, ok := s.store.(types.UsageReporter); ok {
		u, q, err := reporter.Usage(ctx)
		if err == nil {
			used, quota = u, q
		} else {
			s.logger.Debug("Store usage unavailable, estimating", "error", err)
			used = s.estimateStoredBytes(ctx)
		}
	} else {
		used = s.estimateStoredBytes(ctx)
	}
	if quota <= 0 {
		quota = s.profile.StorageQuotaBytes
	}
	return used, quota
}

func (s *Service) estimateStoredBytes(ctx context.Context) int64 {
	var total int64
	for _, key := range cacheKeys {
		value, ok, err := s.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		total += int64(len(key) + len(value))
	}
	return total
}

// optimizeStorage drops the oldest share of both evictable caches, trims the
// popular set and persists.
func (s *Service) optimizeStorage(ctx context.Context) {
	s.mu.Lock()
	search := s.search.evictFraction(optimizeFraction)
	similar := s.similar.evictFraction(optimizeFraction)
	s.recordEvictionsLocked(cacheSearch, "storage_pressure", search)
	s.recordEvictionsLocked(cacheSimilar, "storage_pressure", similar)
	s.trimPopularLocked(optimizePopularSize)
	s.stats.LastOptimization = s.now()
	s.publishGaugesLocked()
	s.mu.Unlock()

	s.logger.Info("Storage optimized", "search_removed", search, "similar_removed", similar)

	if err := s.persistAll(ctx); err != nil {
		s.logger.Warn("Failed to persist after storage optimization", "error", err)
	}
}

// EmergencyCleanup clears the search cache, keeps the most recently used
// similar entries and caps the popular set, then persists. A full store
// escalates to EmergencyStorageCleanup.
func (s *Service) EmergencyCleanup(ctx context.Context) error {
	s.mu.Lock()
	search := s.search.clear()
	similar := len(s.similar.evictToLimit(emergencySimilarSize))
	s.recordEvictionsLocked(cacheSearch, "emergency", search)
	s.recordEvictionsLocked(cacheSimilar, "emergency", similar)
	s.trimPopularLocked(emergencyPopularSize)
	s.publishGaugesLocked()
	s.mu.Unlock()

	s.logger.Warn("Emergency cleanup", "search_removed", search, "similar_removed", similar)

	err := s.persistAll(ctx)
	if err == nil {
		return nil
	}
	if cacheerrors.IsStorageFull(err) {
		s.metrics.RecordStorageFull("emergency")
		return s.EmergencyStorageCleanup(ctx)
	}
	return err
}

// EmergencyStorageCleanup removes every persisted cache blob, keeping only the
// top popular recipes in memory and in storage. If targeted removal fails the
// whole store is cleared.
func (s *Service) EmergencyStorageCleanup(ctx context.Context) error {
	s.mu.Lock()
	search := s.search.clear()
	similar := s.similar.clear()
	s.recordEvictionsLocked(cacheSearch, "storage_full", search)
	s.recordEvictionsLocked(cacheSimilar, "storage_full", similar)
	s.trimPopularLocked(storageCrisisPopularSize)
	s.publishGaugesLocked()
	s.mu.Unlock()

	s.logger.Error("Emergency storage cleanup", "search_removed", search, "similar_removed", similar)

	s.persistMu.Lock()
	var removeErr error
	for _, key := range []string{KeySearchCache, KeySimilarCache, KeyPopularRecipes, KeyTrendingRecipes, KeyCacheStats} {
		if err := s.store.Remove(ctx, key); err != nil {
			removeErr = err
			break
		}
	}
	if removeErr != nil {
		s.logger.Error("Targeted removal failed, clearing store", "error", removeErr)
		if err := s.store.Clear(ctx); err != nil {
			s.persistMu.Unlock()
			s.recordHealth(componentStorage, err)
			return cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageWrite, "failed to clear storage").
				WithComponent("cache").
				WithOperation("EmergencyStorageCleanup")
		}
	}
	s.persistMu.Unlock()

	if err := s.persistPopular(ctx); err != nil {
		s.logger.Warn("Failed to persist popular recipes after storage cleanup", "error", err)
	}
	return nil
}

// trimPopularLocked caps the popular and trending sets at n.
func (s *Service) trimPopularLocked(n int) {
	if len(s.popular) > n {
		s.popular = s.popular[:n]
	}
	if len(s.trending) > n {
		s.trending = s.trending[:n]
	}
}

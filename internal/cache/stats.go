package cache

import (
	"time"

	"github.com/recipeapp/recipecache/pkg/health"
	"github.com/recipeapp/recipecache/pkg/types"
	"github.com/recipeapp/recipecache/pkg/utils"
)

// statistics is the process-wide counter set. Guarded by Service.mu.
type statistics struct {
	Hits                uint64        `json:"hits"`
	Misses              uint64        `json:"misses"`
	Evictions           uint64        `json:"evictions"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	MemoryUsage         int64         `json:"memory_usage"`
	LastOptimization    time.Time     `json:"last_optimization"`
}

func (st *statistics) observe(elapsed time.Duration) {
	n := st.Hits + st.Misses
	if n == 0 {
		return
	}
	st.AverageResponseTime += (elapsed - st.AverageResponseTime) / time.Duration(n)
}

func (st *statistics) hitRate() float64 {
	total := st.Hits + st.Misses
	if total == 0 {
		return 0
	}
	return float64(st.Hits) / float64(total)
}

// recordHitLocked must be called with s.mu held.
func (s *Service) recordHitLocked(cache string, start time.Time) {
	s.stats.Hits++
	s.stats.observe(s.now().Sub(start))
	s.metrics.RecordCacheHit(cache)
}

// recordMissLocked must be called with s.mu held.
func (s *Service) recordMissLocked(cache string, start time.Time) {
	s.stats.Misses++
	s.stats.observe(s.now().Sub(start))
	s.metrics.RecordCacheMiss(cache)
}

// recordEvictionsLocked must be called with s.mu held.
func (s *Service) recordEvictionsLocked(cache, reason string, n int) {
	if n <= 0 {
		return
	}
	s.stats.Evictions += uint64(n)
	s.metrics.RecordEviction(cache, reason, n)
}

// CacheStats returns the hit/miss counters with the hit rate computed now.
func (s *Service) CacheStats() types.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return types.CacheStats{
		Hits:                s.stats.Hits,
		Misses:              s.stats.Misses,
		Evictions:           s.stats.Evictions,
		HitRate:             s.stats.hitRate(),
		AverageResponseTime: s.stats.AverageResponseTime,
		MemoryUsage:         s.stats.MemoryUsage,
		LastOptimization:    s.stats.LastOptimization,
	}
}

// APIUsage returns the outbound call accounting.
func (s *Service) APIUsage() types.APIUsage {
	return s.tracker.Usage()
}

// GetProductionStats returns the flattened health and metrics snapshot.
func (s *Service) GetProductionStats() types.ProductionStats {
	usage := s.tracker.Usage()
	instructions := s.instructions.Len()

	s.mu.Lock()
	stats := types.ProductionStats{
		State:               s.state.String(),
		Environment:         s.profile.Environment,
		HitRate:             s.stats.hitRate(),
		Hits:                s.stats.Hits,
		Misses:              s.stats.Misses,
		Evictions:           s.stats.Evictions,
		AverageResponseTime: s.stats.AverageResponseTime,
		MemoryUsageBytes:    s.stats.MemoryUsage,
		MemoryUsage:         utils.FormatBytes(s.stats.MemoryUsage),
		MemoryWarningBytes:  s.profile.MemoryWarningBytes,
		PopularCount:        len(s.popular),
		SearchCacheSize:     s.search.len(),
		SimilarCacheSize:    s.similar.len(),
		InstructionsCached:  instructions,
		LastPopularRefresh:  s.popularFetched,
		LastOptimization:    s.stats.LastOptimization,
		StorageUsageRatio:   s.storageRatio,
		PreloadInProgress:   s.preloading.Load(),
		API:                 usage,
	}
	requests := s.stats.Hits + s.stats.Misses
	s.mu.Unlock()

	memoryRatio := 0.0
	if s.profile.MemoryWarningBytes > 0 {
		memoryRatio = float64(stats.MemoryUsageBytes) / float64(s.profile.MemoryWarningBytes)
	}
	stats.SystemHealth = health.Classify(stats.HitRate, requests, memoryRatio)
	if s.health != nil {
		stats.Components = s.health.ComponentStates()
	}
	return stats
}

// publishGaugesLocked must be called with s.mu held.
func (s *Service) publishGaugesLocked() {
	s.metrics.UpdateCacheEntries(cachePopular, len(s.popular))
	s.metrics.UpdateCacheEntries(cacheSearch, s.search.len())
	s.metrics.UpdateCacheEntries(cacheSimilar, s.similar.len())
	s.metrics.UpdateCacheEntries(cacheInstructions, s.instructions.Len())
	s.metrics.UpdateMemoryUsage(s.stats.MemoryUsage)
	s.metrics.UpdateHitRatio(s.stats.hitRate())
}

package types

import (
	"context"
	"time"
)

// KVStore is durable device storage holding serialized snapshots it does not
// interpret. Set may fail with a storage-full error.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// UsageReporter is implemented by stores that can report their footprint.
type UsageReporter interface {
	Usage(ctx context.Context) (used, quota int64, err error)
}

// RecipeSource is the rate-limited third-party recipe API.
type RecipeSource interface {
	SearchRecipes(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error)
	GetSimilarRecipes(ctx context.Context, recipe Recipe, count int) ([]Recipe, error)
	GetRecipeInstructions(ctx context.Context, url string) (*Instructions, error)
}

// MetricsRecorder receives cache, API and storage events.
type MetricsRecorder interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
	RecordEviction(cache, reason string, count int)
	RecordAPICall(outcome string)
	RecordStorageFull(scope string)
	UpdateCacheEntries(cache string, count int)
	UpdateMemoryUsage(bytes int64)
	UpdateHitRatio(ratio float64)
	ObserveMaintenance(duration time.Duration)
}

// HealthRecorder receives per-component success/failure signals.
type HealthRecorder interface {
	RecordSuccess(component string)
	RecordError(component string, err error)
	ComponentStates() map[string]string
}

// NopMetrics discards every event.
type NopMetrics struct{}

func (NopMetrics) RecordCacheHit(string) {}
func (NopMetrics) RecordCacheMiss(string) {}
func (NopMetrics) RecordEviction(string, string, int) {}
func (NopMetrics) RecordAPICall(string) {}
func (NopMetrics) RecordStorageFull(string) {}
func (NopMetrics) UpdateCacheEntries(string, int) {}
func (NopMetrics) UpdateMemoryUsage(int64) {}
func (NopMetrics) UpdateHitRatio(float64) {}
func (NopMetrics) ObserveMaintenance(time.Duration) {}

package config

import (
	"strings"
	"time"
)

// Environment names accepted by Resolve.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// CacheLimits bounds the size of each cache tier.
type CacheLimits struct {
	MaxSearchCacheSize    int `yaml:"max_search_cache_size"`
	MaxSimilarCacheSize   int `yaml:"max_similar_cache_size"`
	InstructionsCacheSize int `yaml:"instructions_cache_size"`
	PopularTarget         int `yaml:"popular_target"`
}

// CacheDurations holds per-tier TTLs.
type CacheDurations struct {
	PopularTTL      time.Duration `yaml:"popular_ttl"`
	SearchTTL       time.Duration `yaml:"search_ttl"`
	SimilarTTL      time.Duration `yaml:"similar_ttl"`
	InstructionsTTL time.Duration `yaml:"instructions_ttl"`
}

// APILimits describes the upstream recipe API budget.
type APILimits struct {
	CallsPerMinute   int           `yaml:"calls_per_minute"`
	MonthlyCallLimit int           `yaml:"monthly_call_limit"`
	InterCallDelay   time.Duration `yaml:"inter_call_delay"`
	PreloadDelay     time.Duration `yaml:"preload_delay"`
}

// BackgroundProcessing toggles background work.
type BackgroundProcessing struct {
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	PreloadBatchSize  int           `yaml:"preload_batch_size"`
	BackgroundPreload bool          `yaml:"background_preload"`
	BackgroundRefresh bool          `yaml:"background_refresh"`
}

// Thresholds covers monitoring, storage and performance limits.
type Thresholds struct {
	MemoryWarningBytes  int64         `yaml:"memory_warning_bytes"`
	StorageQuotaBytes   int64         `yaml:"storage_quota_bytes"`
	StorageWarningRatio float64       `yaml:"storage_warning_ratio"`
	MaxBlobBytes        int           `yaml:"max_blob_bytes"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// Profile is the flat, immutable configuration the cache service runs with.
type Profile struct {
	Environment string `yaml:"environment"`

	CacheLimits          `yaml:",inline"`
	CacheDurations       `yaml:",inline"`
	APILimits            `yaml:",inline"`
	BackgroundProcessing `yaml:",inline"`
	Thresholds           `yaml:",inline"`
}

// IsProduction reports whether the profile carries production limits.
func (p Profile) IsProduction() bool {
	return p.Environment == EnvProduction
}

var cacheLimitTables = map[string]CacheLimits{
	EnvDevelopment: {
		MaxSearchCacheSize:    20,
		MaxSimilarCacheSize:   30,
		InstructionsCacheSize: 50,
		PopularTarget:         100,
	},
	EnvProduction: {
		MaxSearchCacheSize:    50,
		MaxSimilarCacheSize:   100,
		InstructionsCacheSize: 200,
		PopularTarget:         100,
	},
}

var cacheDurationTables = map[string]CacheDurations{
	EnvDevelopment: {
		PopularTTL:      24 * time.Hour,
		SearchTTL:       time.Hour,
		SimilarTTL:      2 * time.Hour,
		InstructionsTTL: 6 * time.Hour,
	},
	EnvProduction: {
		PopularTTL:      72 * time.Hour,
		SearchTTL:       24 * time.Hour,
		SimilarTTL:      48 * time.Hour,
		InstructionsTTL: 7 * 24 * time.Hour,
	},
}

var apiLimitTables = map[string]APILimits{
	EnvDevelopment: {
		CallsPerMinute:   10,
		MonthlyCallLimit: 10000,
		InterCallDelay:   6500 * time.Millisecond,
		PreloadDelay:     time.Second,
	},
	EnvProduction: {
		CallsPerMinute:   10,
		MonthlyCallLimit: 10000,
		InterCallDelay:   6500 * time.Millisecond,
		PreloadDelay:     2 * time.Second,
	},
}

var backgroundTables = map[string]BackgroundProcessing{
	EnvDevelopment: {
		CleanupInterval:   5 * time.Minute,
		PreloadBatchSize:  3,
		BackgroundPreload: false,
		BackgroundRefresh: false,
	},
	EnvProduction: {
		CleanupInterval:   30 * time.Minute,
		PreloadBatchSize:  5,
		BackgroundPreload: true,
		BackgroundRefresh: true,
	},
}

var thresholdTables = map[string]Thresholds{
	EnvDevelopment: {
		MemoryWarningBytes:  2 * 1024 * 1024,
		StorageQuotaBytes:   6 * 1024 * 1024,
		StorageWarningRatio: 0.8,
		MaxBlobBytes:        2 * 1024 * 1024,
		HealthCheckInterval: 10 * time.Minute,
	},
	EnvProduction: {
		MemoryWarningBytes:  5 * 1024 * 1024,
		StorageQuotaBytes:   6 * 1024 * 1024,
		StorageWarningRatio: 0.8,
		MaxBlobBytes:        2 * 1024 * 1024,
		HealthCheckInterval: time.Hour,
	},
}

// NormalizeEnvironment maps an environment name onto a known table. Anything
// that is not recognisably development resolves to production.
func NormalizeEnvironment(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev", "local":
		return EnvDevelopment
	default:
		return EnvProduction
	}
}

// Resolve merges the category tables for env into one Profile.
func Resolve(env string) Profile {
	name := NormalizeEnvironment(env)
	return Profile{
		Environment:          name,
		CacheLimits:          cacheLimitTables[name],
		CacheDurations:       cacheDurationTables[name],
		APILimits:            apiLimitTables[name],
		BackgroundProcessing: backgroundTables[name],
		Thresholds:           thresholdTables[name],
	}
}

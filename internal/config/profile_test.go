package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveDevelopment(t *testing.T) {
	p := Resolve("development")

	assert.Equal(t, EnvDevelopment, p.Environment)
	assert.False(t, p.IsProduction())
	assert.Equal(t, 20, p.MaxSearchCacheSize)
	assert.Equal(t, 30, p.MaxSimilarCacheSize)
	assert.Equal(t, time.Hour, p.SearchTTL)
	assert.Equal(t, 5*time.Minute, p.CleanupInterval)
	assert.Equal(t, 3, p.PreloadBatchSize)
	assert.False(t, p.BackgroundPreload)
	assert.Equal(t, int64(2*1024*1024), p.MemoryWarningBytes)
}

func TestResolveProduction(t *testing.T) {
	p := Resolve("production")

	assert.True(t, p.IsProduction())
	assert.Equal(t, 50, p.MaxSearchCacheSize)
	assert.Equal(t, 100, p.MaxSimilarCacheSize)
	assert.Equal(t, 72*time.Hour, p.PopularTTL)
	assert.Equal(t, 48*time.Hour, p.SimilarTTL)
	assert.Equal(t, 10, p.CallsPerMinute)
	assert.Equal(t, 6500*time.Millisecond, p.InterCallDelay)
	assert.True(t, p.BackgroundPreload)
	assert.True(t, p.BackgroundRefresh)
}

func TestResolveFallsBackToProduction(t *testing.T) {
	for _, env := range []string{"", "staging", "PRODUCTION", "qa"} {
		t.Run(env, func(t *testing.T) {
			assert.Equal(t, Resolve(EnvProduction), Resolve(env))
		})
	}
}

func TestNormalizeEnvironmentAliases(t *testing.T) {
	assert.Equal(t, EnvDevelopment, NormalizeEnvironment(" Dev "))
	assert.Equal(t, EnvDevelopment, NormalizeEnvironment("local"))
	assert.Equal(t, EnvProduction, NormalizeEnvironment("prod"))
}

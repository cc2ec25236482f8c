package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
)

// Collector implements types.MetricsRecorder on a Prometheus registry
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	cacheRequests       *prometheus.CounterVec
	cacheEvictions      *prometheus.CounterVec
	cacheEntries        *prometheus.GaugeVec
	memoryBytes         prometheus.Gauge
	hitRatio            prometheus.Gauge
	apiCalls            *prometheus.CounterVec
	storageFull         *prometheus.CounterVec
	maintenanceDuration prometheus.Histogram
	upstreamDuration    *prometheus.HistogramVec
	errorCounter        *prometheus.CounterVec

	// Internal tracking
	apiOutcomes map[string]int64
	lastReset   time.Time
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Path      string            `yaml:"path"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
	Labels    map[string]string `yaml:"labels"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "recipecache",
			Labels:    make(map[string]string),
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:      config,
		registry:    prometheus.NewRegistry(),
		apiOutcomes: make(map[string]int64),
		lastReset:   time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying registry, nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordCacheHit records a cache hit
func (c *Collector) RecordCacheHit(cache string) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"cache": cache, "result": "hit"}).Inc()
}

// RecordCacheMiss records a cache miss
func (c *Collector) RecordCacheMiss(cache string) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"cache": cache, "result": "miss"}).Inc()
}

// RecordEviction counts evicted entries
func (c *Collector) RecordEviction(cache, reason string, count int) {
	if !c.config.Enabled || count <= 0 {
		return
	}
	c.cacheEvictions.With(prometheus.Labels{"cache": cache, "reason": reason}).Add(float64(count))
}

// RecordAPICall records an upstream API call outcome
func (c *Collector) RecordAPICall(outcome string) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	c.apiOutcomes[outcome]++
	c.mu.Unlock()

	c.apiCalls.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordStorageFull records a storage-full signal
func (c *Collector) RecordStorageFull(scope string) {
	if !c.config.Enabled {
		return
	}
	c.storageFull.With(prometheus.Labels{"scope": scope}).Inc()
}

// UpdateCacheEntries sets the entry count of a cache tier
func (c *Collector) UpdateCacheEntries(cache string, count int) {
	if !c.config.Enabled {
		return
	}
	c.cacheEntries.With(prometheus.Labels{"cache": cache}).Set(float64(count))
}

// UpdateMemoryUsage sets the estimated memory footprint
func (c *Collector) UpdateMemoryUsage(bytes int64) {
	if !c.config.Enabled {
		return
	}
	c.memoryBytes.Set(float64(bytes))
}

// UpdateHitRatio sets the current hit ratio
func (c *Collector) UpdateHitRatio(ratio float64) {
	if !c.config.Enabled {
		return
	}
	c.hitRatio.Set(ratio)
}

// ObserveMaintenance records the duration of one maintenance pass
func (c *Collector) ObserveMaintenance(duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.maintenanceDuration.Observe(duration.Seconds())
}

// RecordUpstreamRequest records latency of a recipe API request
func (c *Collector) RecordUpstreamRequest(endpoint string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	c.upstreamDuration.With(prometheus.Labels{"endpoint": endpoint}).Observe(duration.Seconds())
	if err != nil {
		c.RecordError(endpoint, err)
	}
}

// RecordError records an error labelled by its error code
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}

	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"code":      classifyError(err),
	}).Inc()
}

// APICallCounts returns per-outcome call counts since the last reset
func (c *Collector) APICallCounts() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[string]int64, len(c.apiOutcomes))
	for k, v := range c.apiOutcomes {
		counts[k] = v
	}
	return counts
}

// ResetMetrics resets internal tracking
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apiOutcomes = make(map[string]int64)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() {
	constLabels := prometheus.Labels(c.config.Labels)

	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_requests_total",
			Help:        "Total number of cache lookups by tier and result",
			ConstLabels: constLabels,
		},
		[]string{"cache", "result"},
	)

	c.cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_evictions_total",
			Help:        "Total number of evicted cache entries",
			ConstLabels: constLabels,
		},
		[]string{"cache", "reason"},
	)

	c.cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_entries",
			Help:        "Current number of entries per cache tier",
			ConstLabels: constLabels,
		},
		[]string{"cache"},
	)

	c.memoryBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_memory_bytes",
			Help:        "Estimated in-memory cache footprint in bytes",
			ConstLabels: constLabels,
		},
	)

	c.hitRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_hit_ratio",
			Help:        "Cache hits divided by total lookups",
			ConstLabels: constLabels,
		},
	)

	c.apiCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "api_calls_total",
			Help:        "Total number of recipe API calls by outcome",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)

	c.storageFull = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "storage_full_total",
			Help:        "Total number of storage-full signals",
			ConstLabels: constLabels,
		},
		[]string{"scope"},
	)

	c.maintenanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "maintenance_duration_seconds",
			Help:        "Duration of cache maintenance passes",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			ConstLabels: constLabels,
		},
	)

	c.upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "upstream_request_duration_seconds",
			Help:        "Duration of recipe API requests",
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			ConstLabels: constLabels,
		},
		[]string{"endpoint"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "errors_total",
			Help:        "Total number of errors by error code",
			ConstLabels: constLabels,
		},
		[]string{"operation", "code"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.cacheRequests,
		c.cacheEvictions,
		c.cacheEntries,
		c.memoryBytes,
		c.hitRatio,
		c.apiCalls,
		c.storageFull,
		c.maintenanceDuration,
		c.upstreamDuration,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func classifyError(err error) string {
	if code := cacheerrors.GetCode(err); code != "" {
		return string(code)
	}
	return "other"
}

/*
Package metrics exports recipe cache metrics to Prometheus.

The Collector implements types.MetricsRecorder, so the cache service reports
hits, misses, evictions, API calls and storage-full events without knowing
about Prometheus. Metrics live in a private registry exposed through
Handler, which the admin API mounts at /metrics.

Exported series (namespace "recipecache" by default):

	cache_requests_total{cache,result}      hit/miss per tier
	cache_evictions_total{cache,reason}     ttl, lru, pressure, emergency
	cache_entries{cache}                    current entry count per tier
	cache_memory_bytes                      estimated in-memory footprint
	cache_hit_ratio                         hits / (hits + misses)
	api_calls_total{outcome}                upstream calls by outcome
	storage_full_total{scope}               storage-full signals by origin
	maintenance_duration_seconds            maintenance pass latency
	upstream_request_duration_seconds       recipe API latency by endpoint
	errors_total{operation,code}            failures by error code

A disabled collector accepts every call and records nothing.
*/
package metrics

/*
Package cache provides the recipe cache service that sits in front of a
rate-limited, monthly-metered recipe API.

The Service owns every in-memory map, restores them from a key-value store on
startup, persists them after writes and maintenance, and decides when the
recipe API may be called at all.

# Cache Architecture

	┌─────────────────────────────────────────────┐
	│              Screens / Admin API            │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│                 Service                     │  ← This Package
	│  popular set     (TTL, refreshed wholesale) │
	│  search map      (TTL + LRU, bounded)       │
	│  similar map     (per-entry TTL + LRU)      │
	│  instructions    (expirable LRU)            │
	└─────────────────────────────────────────────┘
	          │                         │
	┌──────────────────┐     ┌────────────────────┐
	│   KV Store       │     │  Recipe Source     │
	│  (JSON blobs)    │     │  (rate limited)    │
	└──────────────────┘     └────────────────────┘

# Tiers

Popular: up to PopularTarget recipes built from a fixed list of category
queries, balanced per category and shuffled. It is refreshed only when empty
or past PopularTTL; a stale set keeps being served while a refresh fails.

Search and similar: bounded maps keyed by SearchKey and SimilarKey. Each key
has an access record (last access, access count) kept in lockstep with its
value. Expired entries are misses and are removed on read and during
maintenance. Over the size ceiling the least recently accessed entries go
first. The read path never calls the recipe source; callers fetch on a miss
and write back with CacheSearchResults or CacheSimilarRecipes.

Instructions: fetched through the recipe source on a miss, cached unless the
source returned a fallback.

# Storage Pressure

A full store is handled in three steps:

  - the failing write clears its own tier and retries with a reduced payload
  - EmergencyCleanup clears search, keeps 20 similar entries and 50 popular
  - EmergencyStorageCleanup drops every persisted blob, keeps 20 popular, and
    clears the whole store if targeted removal fails

CheckStorageHealth runs periodically; usage over the warning ratio removes
the oldest 30% of search and similar entries and trims popular to 80.

# Usage

	svc, err := cache.NewService(cache.Options{
		Profile: config.Resolve("production"),
		Store:   store,
		Source:  client,
		Metrics: collector,
		Health:  tracker,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	if err := svc.Initialize(ctx); err != nil {
		return err
	}
	defer svc.Shutdown(context.Background())

	recipes, ok := svc.GetCachedSearchResults("chicken", types.SearchOptions{})
	if !ok {
		result, err := client.SearchRecipes(ctx, "chicken", types.SearchOptions{})
		if err == nil {
			_ = svc.CacheSearchResults(ctx, "chicken", types.SearchOptions{}, result.Recipes)
			recipes = result.Recipes
		}
	}
*/
package cache

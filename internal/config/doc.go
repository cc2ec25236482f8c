/*
Package config loads recipecache configuration and resolves cache profiles.

Configuration is layered, lowest to highest precedence:

	defaults (NewDefault)
	  → YAML file (LoadFromFile)
	    → environment variables (RECIPECACHE_*)
	      → command line flags (cmd/recipecached)

# Profiles

The cache service itself never reads Configuration directly. It runs with a
Profile: one flat, immutable value merged from five category tables (cache
limits, cache durations, API limits, background processing, thresholds)
selected by environment name.

	profile := config.Resolve("development")
	profile.MaxSearchCacheSize // 20
	profile.SearchTTL          // 1h

Unknown or empty environment names resolve to production, which carries the
more conservative limits.

# Example

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/recipecache/config.yaml"); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	profile := cfg.Profile()
*/
package config

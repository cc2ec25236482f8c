// Package recipeapi is the HTTP client for the third-party recipe search API.
//
// Every request runs through pkg/retry (timeouts and 5xx responses are
// retried with backoff) inside a per-endpoint circuit breaker, and its
// latency is reported to an optional UpstreamRecorder. Rate-limit (429),
// validation and not-found responses are neither retried nor counted against
// the breaker.
//
// The client does not consult the cache's own call budget; callers in
// internal/cache check the ratelimit.Tracker before every call.
package recipeapi

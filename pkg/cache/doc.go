// Package cache provides the two-tier response cache store.
//
// The store keeps entries in up to two tiers, chosen per category by the
// policy registry:
//
// - A memory tier bounded by entry count (oldest-inserted entry evicted first)
// - A persistent tier bounded by a byte quota (oldest-timestamp entries evicted
// down to half the quota when a write does not fit, then retried once)
// - Per-entry TTL expiry: an entry is expired iff now - createdAt > ttl
// - Stale reads for degraded service when a refresh fails
// - Category-wide invalidation by stored category tag
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	store, err := cache.New(cache.DefaultConfig(policy.DefaultRegistry()))
//	if err != nil {
//		return err
//	}
//
//	key := cache.Key{
//		Category: policy.CategoryWeather,
//		Resource: "/forecast",
//		Params:   url.Values{"lat": []string{"37.7"}},
//	}.String()
//
//	data, err := store.Get(ctx, key, policy.CategoryWeather)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch and store
//		err = store.Set(ctx, key, payload, policy.CategoryWeather)
//	}
//
// # Persistent Tier
//
// Persistent entries are JSON records stored under "<prefix><key>":
//
//	{"data": <payload>, "timestamp": <epoch ms>, "ttl": <ms>, "type": "<category>"}
//
// When the quota cannot be satisfied even after eviction the write lands in
// the memory tier and the category is downgraded to memory-only for the
// lifetime of the store.
//
// # Invalidation Ordering
//
// A value fetched while an invalidation of the same key runs could bring the
// invalidated value back. Callers that fetch take a Token first and write
// with SetIfCurrent; any Delete in the same category, ClearByCategory or
// Clear issued after the token was taken wins and the write is dropped.
//
// # Metrics
//
//   - respcache_cache_hits_total{tier} - Cache hits by tier
//   - respcache_cache_misses_total - Cache misses
//   - respcache_cache_evictions_total{tier} - Evicted entries
//   - respcache_quota_downgrades_total{category} - Categories downgraded to memory
//   - respcache_memory_entries - Memory tier size
//   - respcache_cache_errors_total{operation} - Cache operation errors
package cache

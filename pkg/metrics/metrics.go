// Package metrics exposes the Prometheus metrics of the respcache packages.
// All metrics are defined in their respective packages (cache, client,
// orchestrator) via promauto to avoid circular dependencies.
//
// This package provides the HTTP handler and documentation for all
// available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the /metrics handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Store Metrics (pkg/cache):
//   - respcache_cache_hits_total{tier} (Counter): Cache hits by tier (memory, persistent)
//   - respcache_cache_misses_total (Counter): Cache misses
//   - respcache_cache_evictions_total{tier} (Counter): Entries evicted by capacity or quota
//   - respcache_quota_downgrades_total{category} (Counter): Categories moved to memory-only storage
//   - respcache_memory_entries (Gauge): Current memory tier size
//   - respcache_cache_errors_total{operation} (Counter): Persistent backend errors
//
// Request Metrics (pkg/client):
//   - respcache_requests_total{method, outcome} (Counter): Upstream requests by method and outcome
//   - respcache_request_duration_seconds{method} (Histogram): Request duration including retries
//   - respcache_errors_total{kind} (Counter): Failed requests by error kind
//   - respcache_stale_fallbacks_total{category} (Counter): Stale entries served after failures
//
// Retry Metrics (pkg/client):
//   - respcache_retries_total{kind} (Counter): Retry attempts by error kind
//   - respcache_retry_backoff_seconds{kind} (Histogram): Backoff duration by error kind
//   - respcache_retry_exhausted_total{kind} (Counter): Requests that exhausted their attempts
//
// Orchestrator Metrics (pkg/orchestrator):
//   - respcache_orchestrator_lookups_total{result} (Counter): Reads by result (hit, miss, stale)
//   - respcache_background_refreshes_total{outcome} (Counter): Completed background refreshes
//   - respcache_prefetches_total{outcome} (Counter): Prefetches by outcome (ok, error, deduplicated)
//   - respcache_pending_refreshes (Gauge): Queued background refreshes
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(respcache_cache_hits_total[5m])) /
//   (sum(rate(respcache_cache_hits_total[5m])) + sum(rate(respcache_cache_misses_total[5m])))
//
//   # Stale Responses Served
//   sum by (category) (rate(respcache_stale_fallbacks_total[5m]))
//
//   # Request Error Rate
//   rate(respcache_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(respcache_request_duration_seconds_bucket[5m]))

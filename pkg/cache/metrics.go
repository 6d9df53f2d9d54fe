package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by tier (memory, persistent)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"tier"},
	)

	// CacheMisses tracks cache misses (absent or expired)
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "respcache_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheEvictions tracks entries removed to make room
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_cache_evictions_total",
			Help: "Total number of evicted cache entries",
		},
		[]string{"tier"},
	)

	// QuotaDowngrades tracks categories moved to memory-only after quota failures
	QuotaDowngrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_quota_downgrades_total",
			Help: "Total number of category downgrades to memory-only storage",
		},
		[]string{"category"},
	)

	// MemoryEntries tracks the number of entries in the memory tier
	MemoryEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "respcache_memory_entries",
			Help: "Current number of entries in the memory tier",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "scan"
	)
)

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lookups counts orchestrated reads by result (hit, miss, stale).
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_orchestrator_lookups_total",
			Help: "Orchestrated reads by result",
		},
		[]string{"result"},
	)

	// Refreshes counts completed background refreshes by outcome.
	Refreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_background_refreshes_total",
			Help: "Completed background refreshes by outcome",
		},
		[]string{"outcome"},
	)

	// Prefetches counts prefetch fetches by outcome.
	Prefetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_prefetches_total",
			Help: "Prefetch fetches by outcome",
		},
		[]string{"outcome"},
	)

	// PendingRefreshes tracks the size of the background refresh queue.
	PendingRefreshes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "respcache_pending_refreshes",
			Help: "Background refreshes waiting to be processed",
		},
	)
)

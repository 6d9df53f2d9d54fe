package orchestrator

import "sync/atomic"

// Stats is a snapshot of orchestrator counters.
type Stats struct {
	Hits                uint64  `json:"hits"`
	Misses              uint64  `json:"misses"`
	Prefetches          uint64  `json:"prefetches"`
	BackgroundRefreshes uint64  `json:"backgroundRefreshes"`
	HitRate             float64 `json:"hitRate"`
}

type counters struct {
	hits                atomic.Uint64
	misses              atomic.Uint64
	prefetches          atomic.Uint64
	backgroundRefreshes atomic.Uint64
}

func (c *counters) snapshot() Stats {
	s := Stats{
		Hits:                c.hits.Load(),
		Misses:              c.misses.Load(),
		Prefetches:          c.prefetches.Load(),
		BackgroundRefreshes: c.backgroundRefreshes.Load(),
	}
	s.HitRate = hitRate(s.Hits, s.Misses)
	return s
}

func (c *counters) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.prefetches.Store(0)
	c.backgroundRefreshes.Store(0)
}

// hitRate is hits/(hits+misses), 0 when nothing was looked up.
func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Stats returns a snapshot of the counters.
func (o *Orchestrator) Stats() Stats {
	return o.stats.snapshot()
}

// ResetStats zeroes all counters.
func (o *Orchestrator) ResetStats() {
	o.stats.reset()
}

// HitRate returns hits/(hits+misses), or 0 before the first lookup.
func (o *Orchestrator) HitRate() float64 {
	return hitRate(o.stats.hits.Load(), o.stats.misses.Load())
}

package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/Sternrassler/respcache/pkg/policy"
	"golang.org/x/sync/errgroup"
)

// pendingRefresh is a queued background refresh. It stays in the queue
// while running so the key cannot be scheduled twice.
type pendingRefresh struct {
	key         string
	category    policy.Category
	fetcher     Fetcher
	ttl         time.Duration
	scheduledAt time.Time
	running     bool
}

// schedule queues a background refresh for key unless one is already queued.
// The refreshed value is written with ttl, the lifetime of the entry it
// replaces.
func (o *Orchestrator) schedule(key string, category policy.Category, fetcher Fetcher, ttl time.Duration, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.pending[key]; ok {
		return
	}
	o.pending[key] = &pendingRefresh{
		key:         key,
		category:    category,
		fetcher:     fetcher,
		ttl:         ttl,
		scheduledAt: now,
	}
	PendingRefreshes.Set(float64(len(o.pending)))

	o.logger.Debug().Str("key", key).Msg("Scheduled background refresh")
}

// Pending returns the number of queued background refreshes.
func (o *Orchestrator) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Tick processes queued refreshes that were scheduled more than
// GracePeriod before now. Refreshes run BatchSize at a time; a failure
// never aborts the rest of its batch. Tick returns the number of
// refreshes it ran.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) int {
	due := o.takeDue(now)
	if len(due) == 0 {
		return 0
	}

	o.logger.Info().
		Int("due", len(due)).
		Int("batch_size", o.config.BatchSize).
		Msg("Processing background refreshes")

	for start := 0; start < len(due); start += o.config.BatchSize {
		if ctx.Err() != nil {
			o.release(due[start:])
			break
		}

		end := min(start+o.config.BatchSize, len(due))

		var g errgroup.Group
		for _, p := range due[start:end] {
			g.Go(func() error {
				o.refresh(ctx, p)
				return nil
			})
		}
		_ = g.Wait()
	}

	return len(due)
}

// OnActivated processes the refresh queue immediately, e.g. when the
// hosting application returns to the foreground.
func (o *Orchestrator) OnActivated(ctx context.Context) int {
	return o.Tick(ctx, o.clock.Now())
}

// Run calls Tick every RefreshInterval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.config.RefreshInterval)
	defer ticker.Stop()

	o.logger.Info().
		Dur("interval", o.config.RefreshInterval).
		Msg("Background refresh scheduler started")

	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("Background refresh scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			o.Tick(ctx, o.clock.Now())
		}
	}
}

// takeDue marks due refreshes as running and returns them oldest first.
func (o *Orchestrator) takeDue(now time.Time) []*pendingRefresh {
	o.mu.Lock()
	defer o.mu.Unlock()

	var due []*pendingRefresh
	for _, p := range o.pending {
		if p.running || now.Sub(p.scheduledAt) <= o.config.GracePeriod {
			continue
		}
		p.running = true
		due = append(due, p)
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].scheduledAt.Equal(due[j].scheduledAt) {
			return due[i].key < due[j].key
		}
		return due[i].scheduledAt.Before(due[j].scheduledAt)
	})
	return due
}

// release returns refreshes that were not started to the queue.
func (o *Orchestrator) release(ps []*pendingRefresh) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range ps {
		p.running = false
	}
}

func (o *Orchestrator) refresh(ctx context.Context, p *pendingRefresh) {
	defer func() {
		o.mu.Lock()
		delete(o.pending, p.key)
		PendingRefreshes.Set(float64(len(o.pending)))
		o.mu.Unlock()

		o.stats.backgroundRefreshes.Add(1)
	}()

	tok := o.store.Token(p.key, p.category)
	data, err := p.fetcher(ctx)
	if err != nil {
		Refreshes.WithLabelValues("error").Inc()
		o.logger.Warn().
			Err(err).
			Str("key", p.key).
			Msg("Background refresh failed - keeping cached entry")
		return
	}

	written, err := o.store.SetIfCurrent(ctx, tok, data, p.ttl)
	if err != nil {
		Refreshes.WithLabelValues("error").Inc()
		o.logger.Warn().Err(err).Str("key", p.key).Msg("Failed to store refreshed value")
		return
	}
	if !written {
		Refreshes.WithLabelValues("superseded").Inc()
		return
	}

	Refreshes.WithLabelValues("ok").Inc()
	o.logger.Debug().Str("key", p.key).Msg("Background refresh complete")
}

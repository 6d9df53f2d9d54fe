package orchestrator

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"

	"github.com/Sternrassler/respcache/pkg/cache"
	"github.com/Sternrassler/respcache/pkg/policy"
	"golang.org/x/sync/errgroup"
)

// Prefetch populates the cache for key ahead of use.
//
// It does nothing if the category is not prefetch eligible, the entry is
// cached and fresh, or a prefetch for key is already in flight. The fetch
// error, if any, is returned; callers usually ignore it.
func (o *Orchestrator) Prefetch(ctx context.Context, key string, category policy.Category, fetcher Fetcher) error {
	p, err := o.store.Registry().Lookup(category)
	if err != nil {
		return err
	}
	if !p.PrefetchEligible || !p.Cacheable() {
		o.logger.Debug().
			Str("key", key).
			Str("category", string(category)).
			Msg("Skipping prefetch for ineligible category")
		return nil
	}

	if fresh, err := o.cached(ctx, key, category); fresh || err != nil {
		return err
	}

	if !o.beginPrefetch(key) {
		Prefetches.WithLabelValues("deduplicated").Inc()
		return nil
	}
	defer o.endPrefetch(key)

	// A prefetch for key may have finished between the lookup above and
	// beginPrefetch.
	if fresh, err := o.cached(ctx, key, category); fresh || err != nil {
		return err
	}

	o.stats.prefetches.Add(1)

	tok := o.store.Token(key, category)
	data, err := fetcher(ctx)
	if err != nil {
		Prefetches.WithLabelValues("error").Inc()
		o.logger.Warn().Err(err).Str("key", key).Msg("Prefetch failed")
		return err
	}

	if _, err := o.store.SetIfCurrent(ctx, tok, data, 0); err != nil {
		Prefetches.WithLabelValues("error").Inc()
		return err
	}

	Prefetches.WithLabelValues("ok").Inc()
	o.logger.Debug().Str("key", key).Msg("Prefetched entry")
	return nil
}

// cached reports whether key holds a fresh entry.
func (o *Orchestrator) cached(ctx context.Context, key string, category policy.Category) (bool, error) {
	_, err := o.store.Lookup(ctx, key, category)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, cache.ErrCacheMiss):
		return false, nil
	default:
		return false, err
	}
}

// PrefetchResource is Prefetch with the key and fetcher derived from the
// request client.
func (o *Orchestrator) PrefetchResource(ctx context.Context, resource string, params url.Values, category policy.Category) error {
	if o.client == nil {
		return ErrNoClient
	}
	key := cache.Key{Category: category, Resource: resource, Params: params}.String()
	return o.Prefetch(ctx, key, category, o.resourceFetcher(resource, params))
}

// beginPrefetch adds key to the in-flight set. It reports false if key
// was already there.
func (o *Orchestrator) beginPrefetch(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.inflight[key]; ok {
		return false
	}
	o.inflight[key] = struct{}{}
	return true
}

func (o *Orchestrator) endPrefetch(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, key)
}

// Inflight returns the number of prefetches currently running.
func (o *Orchestrator) Inflight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

// PrefetchRequest names one resource for PrefetchMany.
type PrefetchRequest struct {
	Category policy.Category
	Resource string
	Params   url.Values
}

// PrefetchMany prefetches resources with at most concurrency fetches in
// flight (BatchSize when concurrency <= 0). Every request is attempted;
// the number of failed prefetches is returned.
func (o *Orchestrator) PrefetchMany(ctx context.Context, reqs []PrefetchRequest, concurrency int) (int, error) {
	if o.client == nil {
		return 0, ErrNoClient
	}
	if concurrency <= 0 {
		concurrency = o.config.BatchSize
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, r := range reqs {
		g.Go(func() error {
			if err := o.PrefetchResource(gctx, r.Resource, r.Params, r.Category); err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Debug().
		Int("requested", len(reqs)).
		Int64("failed", failed.Load()).
		Msg("Batch prefetch complete")

	return int(failed.Load()), ctx.Err()
}

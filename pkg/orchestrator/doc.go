// Package orchestrator adds background refresh, prefetch deduplication and
// hit/miss statistics on top of a cache.Store.
//
// # Reads
//
// Get serves fresh hits from the store. A hit whose age exceeds
// RefreshThreshold of its TTL is queued for a background refresh when the
// category's policy enables it; the caller never waits for the refresh.
// A miss calls the fetcher and writes the result back.
//
//	o, err := orchestrator.New(orchestrator.DefaultConfig(store, c))
//	if err != nil {
//	    return err
//	}
//	res, err := o.Get(ctx, "weather:/forecast", policy.CategoryWeather, fetchForecast)
//
// # Background refresh
//
// The refresh queue holds each key at most once. Tick processes entries
// queued more than GracePeriod ago in batches of BatchSize; every refresh
// in a batch runs to completion even if others fail. Run calls Tick on a
// ticker and OnActivated processes the queue on demand.
//
// # Prefetch
//
// Prefetch populates eligible categories ahead of use. Concurrent calls
// for the same key result in a single fetch. PrefetchMany warms a list of
// resources with bounded concurrency.
package orchestrator

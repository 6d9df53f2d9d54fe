package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Sternrassler/respcache/pkg/cache"
	"github.com/Sternrassler/respcache/pkg/client"
	"github.com/Sternrassler/respcache/pkg/logging"
	"github.com/Sternrassler/respcache/pkg/policy"
	"github.com/rs/zerolog"
)

// ErrNoClient is returned by resource helpers when no client is configured.
var ErrNoClient = errors.New("orchestrator has no request client")

// Fetcher loads the current value for a key.
type Fetcher func(ctx context.Context) (json.RawMessage, error)

// Config holds orchestrator configuration.
type Config struct {
	// Store is the response cache (required)
	Store *cache.Store

	// Client backs GetResource, PrefetchResource and InvalidateCache
	Client *client.Client

	// RefreshThreshold is the fraction of the TTL after which a hit
	// schedules a background refresh
	RefreshThreshold float64

	// GracePeriod is how long a scheduled refresh waits before it may run
	GracePeriod time.Duration

	// BatchSize bounds concurrent refreshes
	BatchSize int

	// RefreshInterval is the Run tick interval
	RefreshInterval time.Duration

	// Clock defaults to the store's clock
	Clock cache.Clock

	// Logger defaults to logging.NewLogger("orchestrator")
	Logger *zerolog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig(store *cache.Store, c *client.Client) Config {
	return Config{
		Store:            store,
		Client:           c,
		RefreshThreshold: 0.8,
		GracePeriod:      5 * time.Second,
		BatchSize:        3,
		RefreshInterval:  30 * time.Second,
	}
}

// Orchestrator layers background refresh, prefetch deduplication and
// hit/miss statistics over a Store.
type Orchestrator struct {
	store  *cache.Store
	client *client.Client
	config Config
	clock  cache.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	pending  map[string]*pendingRefresh
	inflight map[string]struct{}

	stats counters
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.RefreshThreshold < 0 || cfg.RefreshThreshold > 1 {
		return nil, fmt.Errorf("refresh threshold must be within [0, 1] (got %v)", cfg.RefreshThreshold)
	}

	def := DefaultConfig(nil, nil)
	if cfg.RefreshThreshold == 0 {
		cfg.RefreshThreshold = def.RefreshThreshold
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = cfg.Store.Clock()
	}

	logger := logging.NewLogger("orchestrator")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Orchestrator{
		store:    cfg.Store,
		client:   cfg.Client,
		config:   cfg,
		clock:    cfg.Clock,
		logger:   logger,
		pending:  make(map[string]*pendingRefresh),
		inflight: make(map[string]struct{}),
	}, nil
}

// Store returns the underlying cache store.
func (o *Orchestrator) Store() *cache.Store {
	return o.store
}

// Client returns the request client, which may be nil.
func (o *Orchestrator) Client() *client.Client {
	return o.client
}

// Get returns the cached value for key, calling fetcher on a miss.
//
// A hit older than RefreshThreshold of its TTL schedules a background
// refresh when the category's policy asks for one; the hit is returned
// immediately either way. If fetcher fails with a network, timeout or
// server error and an expired copy exists, that copy is returned with
// Result.Error set.
func (o *Orchestrator) Get(ctx context.Context, key string, category policy.Category, fetcher Fetcher) (*client.Result, error) {
	p, err := o.store.Registry().Lookup(category)
	if err != nil {
		return nil, err
	}

	e, err := o.store.Lookup(ctx, key, category)
	switch {
	case err == nil:
		o.stats.hits.Add(1)
		Lookups.WithLabelValues("hit").Inc()

		now := o.clock.Now()
		if p.BackgroundRefresh && o.needsRefresh(e, now) {
			o.schedule(key, category, fetcher, e.TTL, now)
		}
		return &client.Result{Data: e.Data, FromCache: true}, nil

	case !errors.Is(err, cache.ErrCacheMiss):
		return nil, err
	}

	o.stats.misses.Add(1)

	tok := o.store.Token(key, category)
	data, err := fetcher(ctx)
	if err != nil {
		return o.fallback(ctx, key, category, err)
	}

	Lookups.WithLabelValues("miss").Inc()
	if _, err := o.store.SetIfCurrent(ctx, tok, data, 0); err != nil {
		o.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache fetched value")
	}

	return &client.Result{Data: data}, nil
}

func (o *Orchestrator) needsRefresh(e *cache.Entry, now time.Time) bool {
	threshold := time.Duration(o.config.RefreshThreshold * float64(e.TTL))
	return e.Age(now) > threshold
}

func (o *Orchestrator) fallback(ctx context.Context, key string, category policy.Category, err error) (*client.Result, error) {
	classified := client.Classify(err)
	if !classified.Kind.AllowsStale() {
		Lookups.WithLabelValues("miss").Inc()
		return nil, err
	}

	e, lookupErr := o.store.Stale(ctx, key, category)
	if lookupErr != nil {
		Lookups.WithLabelValues("miss").Inc()
		return nil, err
	}

	Lookups.WithLabelValues("stale").Inc()
	o.logger.Warn().
		Err(err).
		Str("key", key).
		Str("error_kind", string(classified.Kind)).
		Msg("Fetch failed - serving stale entry")

	return &client.Result{Data: e.Data, FromCache: true, Error: classified.Error()}, nil
}

// GetResource is Get with the key and fetcher derived from the request
// client.
func (o *Orchestrator) GetResource(ctx context.Context, resource string, params url.Values, category policy.Category) (*client.Result, error) {
	if o.client == nil {
		return nil, ErrNoClient
	}
	key := cache.Key{Category: category, Resource: resource, Params: params}.String()
	return o.Get(ctx, key, category, o.resourceFetcher(resource, params))
}

func (o *Orchestrator) resourceFetcher(resource string, params url.Values) Fetcher {
	c := o.client
	return func(ctx context.Context) (json.RawMessage, error) {
		return c.Fetch(ctx, resource, params)
	}
}

// InvalidateCache drops the entries named by patterns.
func (o *Orchestrator) InvalidateCache(ctx context.Context, patterns ...client.Invalidation) error {
	if o.client == nil {
		return ErrNoClient
	}
	return o.client.InvalidateCache(ctx, patterns...)
}

// ClearByCategory removes every cached entry of category.
func (o *Orchestrator) ClearByCategory(ctx context.Context, category policy.Category) error {
	return o.store.ClearByCategory(ctx, category)
}

// Clear removes every cached entry.
func (o *Orchestrator) Clear(ctx context.Context) error {
	return o.store.Clear(ctx)
}

// Package client provides the cache-aware request client: read-through
// caching, retry with exponential backoff, stale-on-error fallback and
// cache invalidation after mutations.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/respcache/pkg/cache"
	"github.com/Sternrassler/respcache/pkg/logging"
	"github.com/Sternrassler/respcache/pkg/policy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "respcache_requests_total",
		Help: "Total upstream requests by method and outcome",
	}, []string{"method", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "respcache_request_duration_seconds",
		Help:    "Upstream request duration in seconds by method, retries included",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "respcache_errors_total",
		Help: "Total failed requests by error kind",
	}, []string{"kind"})

	staleFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "respcache_stale_fallbacks_total",
		Help: "Responses served from a stale cache entry after an upstream failure",
	}, []string{"category"})
)

// Client performs upstream requests through a Store.
type Client struct {
	store     *cache.Store
	transport Transport
	retrier   *retrier
	config    Config
	logger    zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Store is the response cache (required)
	Store *cache.Store

	// Transport performs upstream requests (required)
	Transport Transport

	// Retry controls attempts and backoff for retryable failures
	Retry RetryConfig

	// Sleep waits between attempts (default: context-aware timer)
	Sleep SleepFunc

	// Logger defaults to logging.NewLogger("respcache-client")
	Logger *zerolog.Logger
}

// DefaultConfig returns a configuration with the default retry policy.
func DefaultConfig(store *cache.Store, transport Transport) Config {
	return Config{
		Store:     store,
		Transport: transport,
		Retry:     DefaultRetryConfig(),
	}
}

// New creates a new Client.
func New(cfg Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.Retry.Jitter < 0 {
		return nil, fmt.Errorf("retry jitter must be >= 0 (got %v)", cfg.Retry.Jitter)
	}
	cfg.Retry = cfg.Retry.withDefaults()
	if cfg.Sleep == nil {
		cfg.Sleep = contextSleep
	}

	logger := logging.NewLogger("respcache-client")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		store:     cfg.Store,
		transport: cfg.Transport,
		retrier:   &retrier{config: cfg.Retry, sleep: cfg.Sleep, logger: logger},
		config:    cfg,
		logger:    logger,
	}, nil
}

// Store returns the cache store used by the client.
func (c *Client) Store() *cache.Store {
	return c.store
}

// GetOptions controls a cached read.
type GetOptions struct {
	// Category selects the cache policy (required)
	Category policy.Category

	// SkipCache bypasses the cache lookup and write. A cached copy is still
	// used as a fallback when the request fails.
	SkipCache bool

	// TTLOverride replaces the policy TTL for the written entry when > 0
	TTLOverride time.Duration
}

// Result is the envelope returned by cached reads.
type Result struct {
	Data json.RawMessage `json:"data"`

	// FromCache is true when Data came from the store
	FromCache bool `json:"fromCache"`

	// Error is set when Data is a stale copy served after a failed request
	Error string `json:"error,omitempty"`
}

// Stale reports whether the result is a fallback copy.
func (r *Result) Stale() bool {
	return r.Error != ""
}

// Get reads resource through the cache.
//
// A fresh cached entry is returned without contacting the upstream. On a
// miss the response is fetched (with retry) and written to the store. If
// the request fails with a network, timeout or server error and any cached
// copy exists, that copy is returned with Result.Error set instead of the
// error.
func (c *Client) Get(ctx context.Context, resource string, params url.Values, opts GetOptions) (*Result, error) {
	if _, err := c.store.Registry().Lookup(opts.Category); err != nil {
		return nil, err
	}

	key := cache.Key{Category: opts.Category, Resource: resource, Params: params}.String()

	if !opts.SkipCache {
		data, err := c.store.Get(ctx, key, opts.Category)
		if err == nil {
			return &Result{Data: data, FromCache: true}, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			return nil, err
		}
	}

	// Taken before the request: an invalidation issued while the request
	// is in flight must win over its result.
	tok := c.store.Token(key, opts.Category)

	data, err := c.Fetch(ctx, resource, params)
	if err != nil {
		return c.fallback(ctx, key, opts.Category, err)
	}

	if !opts.SkipCache {
		if _, err := c.store.SetIfCurrent(ctx, tok, data, opts.TTLOverride); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache response")
		}
	}

	return &Result{Data: data}, nil
}

// Fetch performs an uncached GET with retry.
func (c *Client) Fetch(ctx context.Context, resource string, params url.Values) (json.RawMessage, error) {
	return c.do(ctx, Request{Method: http.MethodGet, Resource: resource, Params: params})
}

// fallback serves a cached copy, fresh or expired, for failures that allow
// it. Otherwise err is returned unchanged.
func (c *Client) fallback(ctx context.Context, key string, category policy.Category, err error) (*Result, error) {
	classified := Classify(err)
	if !classified.Kind.AllowsStale() {
		return nil, err
	}

	e, lookupErr := c.store.Stale(ctx, key, category)
	if lookupErr != nil {
		return nil, err
	}

	staleFallbacksTotal.WithLabelValues(string(category)).Inc()
	c.logger.Warn().
		Err(err).
		Str("key", key).
		Str("error_kind", string(classified.Kind)).
		Dur("age", e.Age(c.store.Clock().Now())).
		Msg("Serving stale cache entry after request failure")

	return &Result{Data: e.Data, FromCache: true, Error: classified.Error()}, nil
}

// Invalidation names cache entries to drop after a mutation: a whole
// category when Resource is empty, otherwise one key.
type Invalidation struct {
	Category policy.Category
	Resource string
	Params   url.Values
}

// InvalidateCategory returns an Invalidation dropping every entry in category.
func InvalidateCategory(category policy.Category) Invalidation {
	return Invalidation{Category: category}
}

// InvalidateKey returns an Invalidation dropping the entry for one resource.
func InvalidateKey(category policy.Category, resource string, params url.Values) Invalidation {
	return Invalidation{Category: category, Resource: resource, Params: params}
}

func (i Invalidation) String() string {
	if i.Resource == "" {
		return string(i.Category) + ":*"
	}
	return cache.Key{Category: i.Category, Resource: i.Resource, Params: i.Params}.String()
}

// MutationOptions controls a write request.
type MutationOptions struct {
	// InvalidateCache lists entries to drop after the request succeeds
	InvalidateCache []Invalidation
}

// Post sends a POST request. POST is not retried.
func (c *Client) Post(ctx context.Context, resource string, body any, opts MutationOptions) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodPost, resource, body, opts)
}

// Put sends a PUT request.
func (c *Client) Put(ctx context.Context, resource string, body any, opts MutationOptions) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodPut, resource, body, opts)
}

// Patch sends a PATCH request. PATCH is not retried.
func (c *Client) Patch(ctx context.Context, resource string, body any, opts MutationOptions) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodPatch, resource, body, opts)
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, resource string, body any, opts MutationOptions) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodDelete, resource, body, opts)
}

// Mutate sends a write request with an arbitrary method.
func (c *Client) Mutate(ctx context.Context, method, resource string, body any, opts MutationOptions) (json.RawMessage, error) {
	return c.mutate(ctx, method, resource, body, opts)
}

func (c *Client) mutate(ctx context.Context, method, resource string, body any, opts MutationOptions) (json.RawMessage, error) {
	data, err := c.do(ctx, Request{Method: method, Resource: resource, Body: body})
	if err != nil {
		return nil, err
	}

	// The write succeeded upstream; a failed invalidation only leaves
	// entries to expire on their own.
	if err := c.InvalidateCache(ctx, opts.InvalidateCache...); err != nil {
		c.logger.Error().
			Err(err).
			Str("method", method).
			Str("resource", resource).
			Msg("Cache invalidation after mutation failed")
	}

	return data, nil
}

// InvalidateCache drops the entries named by patterns. Every pattern is
// attempted; errors are joined.
func (c *Client) InvalidateCache(ctx context.Context, patterns ...Invalidation) error {
	var errs []error
	for _, p := range patterns {
		var err error
		if p.Resource == "" {
			err = c.store.ClearByCategory(ctx, p.Category)
		} else {
			err = c.store.Delete(ctx, p.String())
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("invalidate %s: %w", p, err))
			continue
		}
		c.logger.Debug().Str("pattern", p.String()).Msg("Invalidated cache")
	}
	return errors.Join(errs...)
}

// idempotent reports whether method may be retried.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

// do executes req through the transport with retry and records metrics.
func (c *Client) do(ctx context.Context, req Request) (json.RawMessage, error) {
	attempts := c.config.Retry.MaxAttempts
	if !idempotent(req.Method) {
		attempts = 1
	}

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(req.Method).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("method", req.Method).
		Str("resource", req.Resource).
		Msg("Executing upstream request")

	var data json.RawMessage
	err := c.retrier.do(ctx, attempts, func(ctx context.Context) error {
		out, err := c.transport.Do(ctx, req)
		if err != nil {
			return err
		}
		data = out
		return nil
	})
	if err != nil {
		kind := Classify(err).Kind
		errorsTotal.WithLabelValues(string(kind)).Inc()
		requestsTotal.WithLabelValues(req.Method, string(kind)).Inc()
		c.logger.Warn().
			Err(err).
			Str("method", req.Method).
			Str("resource", req.Resource).
			Str("error_kind", string(kind)).
			Msg("Upstream request failed")
		return nil, err
	}

	requestsTotal.WithLabelValues(req.Method, "ok").Inc()
	return data, nil
}

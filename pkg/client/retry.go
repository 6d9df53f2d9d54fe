package client

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "respcache_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "respcache_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error kind",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "respcache_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error kind",
	}, []string{"kind"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Jitter adds up to this fraction of the delay on top of it (0 disables).
	// Jitter only ever lengthens a delay.
	Jitter float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Backoff returns the delay after the given failed attempt (1-based):
// InitialBackoff * BackoffMultiplier^(attempt-1), capped at MaxBackoff.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := c.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}

	d := time.Duration(float64(c.InitialBackoff) * math.Pow(mult, float64(attempt-1)))
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	return c
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// contextSleep is the default SleepFunc.
func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retrier runs a request function with exponential backoff. Each failure
// is classified; only retryable kinds are attempted again.
type retrier struct {
	config RetryConfig
	sleep  SleepFunc
	logger zerolog.Logger
}

func (r *retrier) do(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	var lastErr *Error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info().
					Str("error_kind", string(lastErr.Kind)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = Classify(err)

		if !lastErr.Retryable() {
			return lastErr
		}

		// If this was the last attempt, don't wait
		if attempt >= attempts {
			break
		}

		retriesTotal.WithLabelValues(string(lastErr.Kind)).Inc()

		delay := r.config.Backoff(attempt)
		if r.config.Jitter > 0 {
			delay += time.Duration(float64(delay) * r.config.Jitter * rand.Float64())
		}
		retryBackoffSeconds.WithLabelValues(string(lastErr.Kind)).Observe(delay.Seconds())

		r.logger.Warn().
			Err(lastErr).
			Str("error_kind", string(lastErr.Kind)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if err := r.sleep(ctx, delay); err != nil {
			r.logger.Warn().
				Str("error_kind", string(lastErr.Kind)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return &Error{
				Kind:    KindCanceled,
				Message: "cancelled during retry backoff",
				Err:     fmt.Errorf("%w: %w", ErrContextCancelled, err),
			}
		}
	}

	retryExhaustedTotal.WithLabelValues(string(lastErr.Kind)).Inc()
	r.logger.Error().
		Err(lastErr).
		Str("error_kind", string(lastErr.Kind)).
		Int("max_attempts", attempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
}

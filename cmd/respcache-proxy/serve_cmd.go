package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/respcache/internal/config"
	"github.com/Sternrassler/respcache/pkg/cache"
	"github.com/Sternrassler/respcache/pkg/client"
	"github.com/Sternrassler/respcache/pkg/logging"
	"github.com/Sternrassler/respcache/pkg/orchestrator"
	"github.com/Sternrassler/respcache/pkg/storage"
)

func newServeCmd(configPath *string) *cobra.Command {
	var addr, upstream, redisURL string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the caching proxy",
		Args:  cobra.NoArgs,
		Long: `Run the caching proxy.

Routes:
  GET    /api/{category}/{path...}   cached read of upstream /{path}
  POST|PUT|PATCH|DELETE /api/{category}/{path...}
                                     forwarded write; invalidates {category}
                                     and any ?invalidate=a,b categories
  POST   /prefetch/{category}/{path...}  best-effort prefetch
  GET    /stats                      hit/miss statistics
  POST   /activate                   process due background refreshes now
  GET    /health, /metrics

Flags override the config file; REDIS_URL, UPSTREAM_URL, PORT and
LOG_LEVEL override both.`,
		Example: `  respcache-proxy serve --upstream https://api.example.com
  respcache-proxy serve -c config.yaml --redis redis://localhost:6379/0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("upstream") {
				cfg.Upstream.URL = upstream
			}
			if cmd.Flags().Changed("redis") {
				cfg.Redis.URL = redisURL
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, \":8080\")")
	cmd.Flags().StringVar(&upstream, "upstream", "", "upstream base URL")
	cmd.Flags().StringVar(&redisURL, "redis", "", "Redis URL or host:port for the persistent tier")

	return cmd
}

// stack is the wired cache, client and orchestrator.
type stack struct {
	store  *cache.Store
	client *client.Client
	orch   *orchestrator.Orchestrator
	redis  *redis.Client
}

func (s *stack) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// newStack builds the component graph described by cfg.
func newStack(ctx context.Context, cfg config.Config) (*stack, error) {
	if cfg.Upstream.URL == "" {
		return nil, fmt.Errorf("upstream URL is required (--upstream or UPSTREAM_URL)")
	}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	st := &stack{}

	var persistent storage.Backend
	if cfg.Redis.URL != "" {
		opts, err := redisOptions(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		st.redis = redis.NewClient(opts)
		if err := st.redis.Ping(ctx).Err(); err != nil {
			st.redis.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		persistent = storage.NewRedis(st.redis, cfg.Redis.Namespace, cfg.Cache.QuotaBytes)
	} else {
		persistent = storage.NewMemory(cfg.Cache.QuotaBytes)
	}

	st.store, err = cache.New(cache.Config{
		Registry:       registry,
		Persistent:     persistent,
		MemoryCapacity: cfg.Cache.MemoryCapacity,
		Prefix:         cfg.Cache.Prefix,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	transport := client.NewHTTPTransport(cfg.Upstream.URL, cfg.Upstream.UserAgent)
	transport.Timeout = cfg.Upstream.Timeout

	st.client, err = client.New(client.Config{
		Store:     st.store,
		Transport: transport,
		Retry: client.RetryConfig{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
			Jitter:         cfg.Retry.Jitter,
		},
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	st.orch, err = orchestrator.New(orchestrator.Config{
		Store:            st.store,
		Client:           st.client,
		RefreshThreshold: cfg.Refresh.Threshold,
		GracePeriod:      cfg.Refresh.GracePeriod,
		BatchSize:        cfg.Refresh.BatchSize,
		RefreshInterval:  cfg.Refresh.Interval,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return st, nil
}

// redisOptions accepts a redis:// URL or a bare host:port.
func redisOptions(raw string) (*redis.Options, error) {
	if !strings.Contains(raw, "://") {
		return &redis.Options{Addr: raw}, nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opts, nil
}

func runServe(ctx context.Context, cfg config.Config) error {
	logging.Setup(cfg.LogConfig(os.Stderr))
	logger := logging.NewLogger("respcache-proxy")

	st, err := newStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := newServer(ctx, st.orch, st.client, logger)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := st.orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Background refresh scheduler failed")
		}
	}()

	serverErrors := make(chan error, 1)
	go func() {
		logStartup(logger, cfg)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil

	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info().Msg("Server stopped")
		return nil
	}
}

func logStartup(logger zerolog.Logger, cfg config.Config) {
	tier := "memory"
	if cfg.Redis.URL != "" {
		tier = "redis"
	}
	logger.Info().
		Str("addr", cfg.Server.Addr).
		Str("upstream", cfg.Upstream.URL).
		Str("persistent_tier", tier).
		Msg("Starting respcache proxy")
}

// Package logging configures zerolog for the cache, client and orchestrator
// components.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger. Unknown levels fall back to info.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level.zerologLevel())

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

func (l LogLevel) zerologLevel() zerolog.Level {
	valid, err := ParseLevel(string(l))
	if err != nil {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(string(valid))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// ParseLevel validates a textual level such as "debug" or "WARN".
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache hits/misses (key, tier)
//   - Cache writes (key, category, ttl)
//   - Invalidations and dropped superseded writes
//
// Info: Normal operation events
//   - Background refresh batches
//   - Persistent eviction results
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts
//   - Persistent quota eviction and category downgrade
//   - Stale entries served after upstream failures
//   - Failed background refreshes and prefetches
//
// Error: Error conditions requiring attention
//   - Requests that exhausted their retries
//   - Persistent backend failures
//   - Invalidation failures after a successful mutation
//   - Configuration errors
//
// Context Fields:
//   - component: emitting component (cache-store, respcache-client, orchestrator)
//   - key: cache key (category:resource?params)
//   - category: policy category
//   - tier: memory or persistent
//   - error_kind: network, timeout, server, client, auth, quota_exceeded, canceled
//   - attempt: retry attempt number
//   - ttl: cache entry TTL

// Package storage provides persistent key/value backends for the cache
// store's durable tier.
//
// Backends store opaque strings and enforce a total-size quota. A write
// that would exceed the quota fails with ErrQuotaExceeded and leaves the
// backend unchanged; the cache store reacts by evicting and retrying.
package storage

import (
	"context"
	"errors"
)

// ErrQuotaExceeded indicates a write was rejected because the backend is full.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Backend is a durable string store.
type Backend interface {
	// Get returns (value, true, nil) on hit and ("", false, nil) on miss.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	// Returns ErrQuotaExceeded when the write does not fit.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys enumerates every key held by the backend.
	Keys(ctx context.Context) ([]string, error)
}

// Sizer is implemented by backends that can report their quota usage.
type Sizer interface {
	// Usage returns the bytes in use and the quota in bytes.
	Usage(ctx context.Context) (used, quota int64, err error)
}

// entrySize is the accounting size of one key/value pair.
func entrySize(key, value string) int64 {
	return int64(len(key) + len(value))
}

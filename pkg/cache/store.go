package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/respcache/pkg/logging"
	"github.com/Sternrassler/respcache/pkg/policy"
	"github.com/Sternrassler/respcache/pkg/storage"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the requested key was not found or has expired
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a persisted entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

const (
	// DefaultMemoryCapacity is the maximum number of memory-tier entries.
	DefaultMemoryCapacity = 100

	// DefaultPrefix namespaces keys in the persistent backend.
	DefaultPrefix = "respcache:"
)

// Config holds the store configuration.
type Config struct {
	// Registry supplies per-category policies (required)
	Registry *policy.Registry

	// Persistent is the durable tier (required)
	Persistent storage.Backend

	// MemoryCapacity bounds the memory tier by entry count
	MemoryCapacity int

	// Prefix namespaces persistent keys
	Prefix string

	// Clock defaults to the wall clock
	Clock Clock

	// Logger defaults to logging.NewLogger("cache-store")
	Logger *zerolog.Logger
}

// DefaultConfig returns a configuration with an in-process persistent tier.
func DefaultConfig(registry *policy.Registry) Config {
	return Config{
		Registry:       registry,
		Persistent:     storage.NewMemory(storage.DefaultQuota),
		MemoryCapacity: DefaultMemoryCapacity,
		Prefix:         DefaultPrefix,
		Clock:          SystemClock{},
	}
}

// Store is a two-tier cache: a bounded in-process memory tier and a
// quota-limited persistent tier. Each category's policy decides which tiers
// an entry is written to. Store is safe for concurrent use; every operation
// is atomic with respect to the others.
//
// Writes racing invalidations are resolved with generation tokens, see
// Token and SetIfCurrent.
type Store struct {
	registry   *policy.Registry
	persistent storage.Backend
	prefix     string
	clock      Clock
	logger     zerolog.Logger

	mu         sync.Mutex
	memory     *memoryTier
	downgraded map[policy.Category]bool
	keyGen     map[string]uint64
	catGen     map[policy.Category]uint64
	globalGen  uint64
}

// New creates a Store.
func New(cfg Config) (*Store, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("policy registry is required")
	}
	if cfg.Persistent == nil {
		return nil, fmt.Errorf("persistent backend is required")
	}
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = DefaultMemoryCapacity
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}

	logger := logging.NewLogger("cache-store")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Store{
		registry:   cfg.Registry,
		persistent: cfg.Persistent,
		prefix:     cfg.Prefix,
		clock:      cfg.Clock,
		logger:     logger,
		memory:     newMemoryTier(cfg.MemoryCapacity),
		downgraded: make(map[policy.Category]bool),
		keyGen:     make(map[string]uint64),
		catGen:     make(map[policy.Category]uint64),
	}, nil
}

// Registry returns the policy registry the store was built with.
func (s *Store) Registry() *policy.Registry {
	return s.registry
}

// Clock returns the store's clock.
func (s *Store) Clock() Clock {
	return s.clock
}

// Get returns the cached data for key.
// Returns ErrCacheMiss if the key is absent or expired.
func (s *Store) Get(ctx context.Context, key string, category policy.Category) (json.RawMessage, error) {
	e, err := s.Lookup(ctx, key, category)
	if err != nil {
		return nil, err
	}
	return e.Data, nil
}

// Lookup returns the fresh entry for key.
// Returns ErrCacheMiss if the key is absent or expired.
func (s *Store) Lookup(ctx context.Context, key string, category policy.Category) (*Entry, error) {
	return s.lookup(ctx, key, category, false)
}

// Stale returns the entry for key even if it has expired. It is used to
// serve degraded responses when a refresh fails.
func (s *Store) Stale(ctx context.Context, key string, category policy.Category) (*Entry, error) {
	return s.lookup(ctx, key, category, true)
}

func (s *Store) lookup(ctx context.Context, key string, category policy.Category, allowStale bool) (*Entry, error) {
	p, err := s.registry.Lookup(category)
	if err != nil {
		return nil, err
	}
	if !p.Cacheable() {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	// The memory tier is always consulted: besides "memory"/"both"
	// categories it holds fallback writes of downgraded categories.
	if e, ok := s.memory.get(key); ok {
		if allowStale || !e.IsExpired(now) {
			CacheHits.WithLabelValues("memory").Inc()
			s.logger.Debug().Str("key", key).Str("tier", "memory").Msg("Cache hit")
			return e, nil
		}
	}

	if p.Backend.UsesPersistent() {
		e, err := s.readPersistent(ctx, key)
		if err != nil && !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("key", key).Msg("Persistent cache read failed")
		}
		if e != nil && (allowStale || !e.IsExpired(now)) {
			CacheHits.WithLabelValues("persistent").Inc()
			s.logger.Debug().Str("key", key).Str("tier", "persistent").Msg("Cache hit")
			if p.Backend.UsesMemory() && !e.IsExpired(now) {
				s.putMemory(e)
			}
			return e, nil
		}
	}

	CacheMisses.Inc()
	s.logger.Debug().Str("key", key).Msg("Cache miss")
	return nil, ErrCacheMiss
}

// Set stores data under key using the category's policy TTL.
// It is a no-op for categories that are not cacheable.
func (s *Store) Set(ctx context.Context, key string, data json.RawMessage, category policy.Category) error {
	return s.SetWithTTL(ctx, key, data, category, 0)
}

// SetWithTTL is like Set but overrides the policy TTL when ttl > 0.
func (s *Store) SetWithTTL(ctx context.Context, key string, data json.RawMessage, category policy.Category, ttl time.Duration) error {
	p, err := s.registry.Lookup(category)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setLocked(ctx, key, data, category, p, ttl)
}

func (s *Store) setLocked(ctx context.Context, key string, data json.RawMessage, category policy.Category, p policy.Policy, ttl time.Duration) error {
	if !p.Cacheable() {
		return nil
	}
	if len(data) == 0 {
		return fmt.Errorf("cache data cannot be empty")
	}
	if ttl <= 0 {
		ttl = p.TTL
	}

	e := &Entry{
		Key:       key,
		Data:      append(json.RawMessage(nil), data...),
		CreatedAt: s.clock.Now(),
		TTL:       ttl,
		Category:  category,
	}

	toMemory := p.Backend.UsesMemory()
	if p.Backend.UsesPersistent() && !s.downgraded[category] {
		if err := s.writePersistent(ctx, e); err != nil {
			if errors.Is(err, storage.ErrQuotaExceeded) {
				s.downgraded[category] = true
				QuotaDowngrades.WithLabelValues(string(category)).Inc()
				s.logger.Warn().
					Str("category", string(category)).
					Str("key", key).
					Msg("Persistent quota exhausted - category downgraded to memory")
			} else {
				CacheErrors.WithLabelValues("set").Inc()
				s.logger.Error().Err(err).Str("key", key).Msg("Persistent cache write failed - using memory")
			}
			toMemory = true
		} else if !toMemory {
			// A stale fallback copy in memory would shadow the new value.
			if s.memory.remove(key) {
				MemoryEntries.Set(float64(s.memory.size()))
			}
		}
	} else if p.Backend.UsesPersistent() {
		toMemory = true
	}

	if toMemory {
		s.putMemory(e)
	}

	s.logger.Debug().
		Str("key", key).
		Str("category", string(category)).
		Dur("ttl", ttl).
		Msg("Cached entry")

	return nil
}

func (s *Store) putMemory(e *Entry) {
	if evicted := s.memory.put(e); evicted != "" {
		CacheEvictions.WithLabelValues("memory").Inc()
		s.logger.Debug().Str("key", evicted).Msg("Evicted oldest memory entry")
	}
	MemoryEntries.Set(float64(s.memory.size()))
}

func (s *Store) readPersistent(ctx context.Context, key string) (*Entry, error) {
	raw, ok, err := s.persistent.Get(ctx, s.prefix+key)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("persistent get: %w", err)
	}
	if !ok {
		return nil, ErrCacheMiss
	}

	e, err := decodeEntry(key, raw)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		_ = s.persistent.Delete(ctx, s.prefix+key)
		return nil, err
	}
	return e, nil
}

// writePersistent stores e, evicting down to half the quota and retrying
// once if the backend is full.
func (s *Store) writePersistent(ctx context.Context, e *Entry) error {
	raw, err := encodeEntry(e)
	if err != nil {
		return err
	}

	err = s.persistent.Set(ctx, s.prefix+e.Key, raw)
	if !errors.Is(err, storage.ErrQuotaExceeded) {
		return err
	}

	s.logger.Warn().Str("key", e.Key).Msg("Persistent quota exceeded - evicting oldest entries")
	if err := s.evictPersistent(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Persistent eviction failed")
	}

	return s.persistent.Set(ctx, s.prefix+e.Key, raw)
}

type persistedKey struct {
	key       string
	size      int64
	timestamp int64
}

// evictPersistent removes the store's persistent entries oldest-timestamp
// first until usage drops to half the quota. Backends that cannot report
// usage lose the oldest half of the store's entries instead.
func (s *Store) evictPersistent(ctx context.Context) error {
	keys, err := s.persistent.Keys(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("scan").Inc()
		return fmt.Errorf("persistent keys: %w", err)
	}

	var owned []persistedKey
	for _, k := range keys {
		if !strings.HasPrefix(k, s.prefix) {
			continue
		}
		raw, ok, err := s.persistent.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		pk := persistedKey{key: k, size: int64(len(k) + len(raw))}
		if e, err := decodeEntry(strings.TrimPrefix(k, s.prefix), raw); err == nil {
			pk.timestamp = e.CreatedAt.UnixMilli()
		}
		// corrupt records keep timestamp 0 and go first
		owned = append(owned, pk)
	}
	sort.SliceStable(owned, func(i, j int) bool { return owned[i].timestamp < owned[j].timestamp })

	sizer, hasUsage := s.persistent.(storage.Sizer)
	var used, target int64
	if hasUsage {
		u, quota, err := sizer.Usage(ctx)
		if err != nil {
			hasUsage = false
		} else {
			used, target = u, quota/2
		}
	}

	removed := 0
	for i, pk := range owned {
		if hasUsage && used <= target {
			break
		}
		if !hasUsage && i >= (len(owned)+1)/2 {
			break
		}
		if err := s.persistent.Delete(ctx, pk.key); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			continue
		}
		used -= pk.size
		removed++
	}

	CacheEvictions.WithLabelValues("persistent").Add(float64(removed))
	s.logger.Info().Int("removed", removed).Int("scanned", len(owned)).Msg("Persistent eviction complete")
	return nil
}

// Delete removes key from both tiers. Absence is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keyGen[key]++

	if s.memory.remove(key) {
		MemoryEntries.Set(float64(s.memory.size()))
	}

	if err := s.persistent.Delete(ctx, s.prefix+key); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("persistent delete: %w", err)
	}
	return nil
}

// ClearByCategory removes every entry tagged with category from both tiers.
func (s *Store) ClearByCategory(ctx context.Context, category policy.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.catGen[category]++

	n := s.memory.removeIf(func(e *Entry) bool { return e.Category == category })
	MemoryEntries.Set(float64(s.memory.size()))

	m, err := s.scanPersistent(ctx, func(e *Entry) bool { return e.Category == category })

	s.logger.Debug().
		Str("category", string(category)).
		Int("removed", n+m).
		Msg("Cleared category")
	return err
}

// Clear removes every entry owned by the store.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.globalGen++
	// Every outstanding token is already stale through globalGen.
	clear(s.keyGen)
	s.memory.reset()
	MemoryEntries.Set(0)

	_, err := s.scanPersistent(ctx, func(*Entry) bool { return true })
	return err
}

// Prune removes expired entries from both tiers and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	expired := func(e *Entry) bool { return e.IsExpired(now) }

	n := s.memory.removeIf(expired)
	MemoryEntries.Set(float64(s.memory.size()))

	m, err := s.scanPersistent(ctx, expired)
	return n + m, err
}

// scanPersistent deletes every owned persistent entry matching fn, plus any
// corrupt records found along the way.
func (s *Store) scanPersistent(ctx context.Context, fn func(*Entry) bool) (int, error) {
	keys, err := s.persistent.Keys(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("scan").Inc()
		return 0, fmt.Errorf("persistent keys: %w", err)
	}

	removed := 0
	var firstErr error
	for _, k := range keys {
		if !strings.HasPrefix(k, s.prefix) {
			continue
		}
		raw, ok, err := s.persistent.Get(ctx, k)
		if err != nil {
			CacheErrors.WithLabelValues("scan").Inc()
			if firstErr == nil {
				firstErr = fmt.Errorf("persistent get: %w", err)
			}
			continue
		}
		if !ok {
			continue
		}

		e, decErr := decodeEntry(strings.TrimPrefix(k, s.prefix), raw)
		if decErr == nil && !fn(e) {
			continue
		}
		if err := s.persistent.Delete(ctx, k); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			if firstErr == nil {
				firstErr = fmt.Errorf("persistent delete: %w", err)
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

// Len returns the number of entries in the memory tier.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory.size()
}

// Downgraded reports whether category was moved to memory-only storage
// after the persistent quota could not be satisfied.
func (s *Store) Downgraded(category policy.Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downgraded[category]
}

// Token captures the invalidation generation for key. A value fetched
// after taking a token is written with SetIfCurrent, which drops it if
// the key, its category, or the whole store was invalidated meanwhile.
type Token struct {
	key       string
	category  policy.Category
	keyGen    uint64
	catGen    uint64
	globalGen uint64
}

// Token returns a generation token for key in category.
func (s *Store) Token(key string, category policy.Category) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Token{
		key:       key,
		category:  category,
		keyGen:    s.keyGen[key],
		catGen:    s.catGen[category],
		globalGen: s.globalGen,
	}
}

// SetIfCurrent writes data unless an invalidation happened after tok was
// taken. It reports whether the value was written (or would have been, for
// uncacheable categories).
func (s *Store) SetIfCurrent(ctx context.Context, tok Token, data json.RawMessage, ttl time.Duration) (bool, error) {
	p, err := s.registry.Lookup(tok.category)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keyGen[tok.key] != tok.keyGen || s.catGen[tok.category] != tok.catGen || s.globalGen != tok.globalGen {
		s.logger.Debug().
			Str("key", tok.key).
			Msg("Dropping write superseded by invalidation")
		return false, nil
	}

	if err := s.setLocked(ctx, tok.key, data, tok.category, p, ttl); err != nil {
		return false, err
	}
	return true, nil
}

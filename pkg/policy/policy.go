// Package policy defines per-category caching policies and the registry
// that maps category names to them.
//
// The set of categories is closed: it is fixed when the Registry is built
// and lookups of anything else fail with ErrUnknownCategory.
package policy

import (
	"fmt"
	"strings"
	"time"
)

// Category names a class of cached resource (e.g. "weather", "parks").
type Category string

// Built-in categories used by DefaultRegistry.
const (
	CategoryWeather   Category = "weather"
	CategoryParks     Category = "parks"
	CategoryTrips     Category = "trips"
	CategoryFavorites Category = "favorites"
	CategoryProfile   Category = "profile"
	CategorySearch    Category = "search"
	CategoryStatic    Category = "static"
	CategoryNoCache   Category = "nocache"
)

// Backend selects which storage tier(s) a category is written to.
type Backend string

const (
	// BackendMemory keeps entries in the in-process memory tier only.
	BackendMemory Backend = "memory"

	// BackendPersistent keeps entries in the persistent tier only.
	BackendPersistent Backend = "persistent"

	// BackendBoth writes to both tiers and reads memory first.
	BackendBoth Backend = "both"

	// BackendNone disables caching for the category.
	BackendNone Backend = "none"
)

// ParseBackend converts a string into a Backend.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendMemory, BackendPersistent, BackendBoth, BackendNone:
		return b, nil
	default:
		return "", fmt.Errorf("unknown backend %q", s)
	}
}

// UsesMemory reports whether the backend writes to the memory tier.
func (b Backend) UsesMemory() bool {
	return b == BackendMemory || b == BackendBoth
}

// UsesPersistent reports whether the backend writes to the persistent tier.
func (b Backend) UsesPersistent() bool {
	return b == BackendPersistent || b == BackendBoth
}

// Policy is the immutable caching configuration of one category.
type Policy struct {
	// TTL is how long an entry stays fresh. Zero means "never cache".
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// Backend names the storage tier(s).
	Backend Backend `yaml:"backend" json:"backend"`

	// BackgroundRefresh enables proactive refresh of entries close to expiry.
	BackgroundRefresh bool `yaml:"background_refresh" json:"background_refresh"`

	// PrefetchEligible allows speculative population via prefetch.
	PrefetchEligible bool `yaml:"prefetch_eligible" json:"prefetch_eligible"`
}

// Cacheable reports whether entries of this policy are ever stored.
func (p Policy) Cacheable() bool {
	return p.TTL > 0 && p.Backend != BackendNone
}

// Validate checks the policy for consistency.
func (p Policy) Validate() error {
	if p.TTL < 0 {
		return fmt.Errorf("ttl must be >= 0 (got %s)", p.TTL)
	}
	if _, err := ParseBackend(string(p.Backend)); err != nil {
		return err
	}
	if p.BackgroundRefresh && !p.Cacheable() {
		return fmt.Errorf("background_refresh requires a cacheable policy")
	}
	return nil
}

// validCategory reports whether name is usable as a category: lowercase
// letters, digits, '-' and '_'. The ':' separator of cache keys is excluded.
func validCategory(name Category) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

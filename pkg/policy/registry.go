package policy

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownCategory is returned when a category was not registered.
var ErrUnknownCategory = errors.New("unknown cache category")

// Registry maps categories to validated policies. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	policies map[Category]Policy
}

// NewRegistry validates every policy and builds a Registry.
func NewRegistry(policies map[Category]Policy) (*Registry, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("policy registry requires at least one category")
	}

	copied := make(map[Category]Policy, len(policies))
	for name, p := range policies {
		if !validCategory(name) {
			return nil, fmt.Errorf("invalid category name %q", name)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("category %q: %w", name, err)
		}
		copied[name] = p
	}

	return &Registry{policies: copied}, nil
}

// MustRegistry is like NewRegistry but panics on error.
func MustRegistry(policies map[Category]Policy) *Registry {
	r, err := NewRegistry(policies)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultPolicies returns the built-in policy table.
func DefaultPolicies() map[Category]Policy {
	return map[Category]Policy{
		CategoryWeather: {
			TTL:               1 * time.Hour,
			Backend:           BackendBoth,
			BackgroundRefresh: true,
			PrefetchEligible:  true,
		},
		CategoryParks: {
			TTL:               24 * time.Hour,
			Backend:           BackendBoth,
			BackgroundRefresh: true,
			PrefetchEligible:  true,
		},
		CategoryTrips: {
			TTL:     10 * time.Minute,
			Backend: BackendMemory,
		},
		CategoryFavorites: {
			TTL:     5 * time.Minute,
			Backend: BackendBoth,
		},
		CategoryProfile: {
			TTL:     15 * time.Minute,
			Backend: BackendMemory,
		},
		CategorySearch: {
			TTL:              2 * time.Minute,
			Backend:          BackendMemory,
			PrefetchEligible: true,
		},
		CategoryStatic: {
			TTL:              7 * 24 * time.Hour,
			Backend:          BackendPersistent,
			PrefetchEligible: true,
		},
		CategoryNoCache: {
			TTL:     0,
			Backend: BackendNone,
		},
	}
}

// DefaultRegistry returns a Registry built from DefaultPolicies.
func DefaultRegistry() *Registry {
	return MustRegistry(DefaultPolicies())
}

// Lookup returns the policy for a category.
func (r *Registry) Lookup(c Category) (Policy, error) {
	p, ok := r.policies[c]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	return p, nil
}

// Has reports whether the category is registered.
func (r *Registry) Has(c Category) bool {
	_, ok := r.policies[c]
	return ok
}

// Categories returns the registered categories in sorted order.
func (r *Registry) Categories() []Category {
	out := make([]Category, 0, len(r.policies))
	for c := range r.policies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// File is the on-disk policy table layout.
//
//	categories:
//	  weather:
//	    ttl: 1h
//	    backend: both
//	    background_refresh: true
//	    prefetch_eligible: true
type File struct {
	Categories map[Category]Policy `yaml:"categories"`
}

// Decode reads a YAML policy table.
func Decode(r io.Reader) (*Registry, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode policy file: %w", err)
	}
	return NewRegistry(f.Categories)
}

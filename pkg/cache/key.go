package cache

import (
	"net/url"
	"strings"

	"github.com/Sternrassler/respcache/pkg/policy"
)

// Key identifies a cached resource within a category.
type Key struct {
	// Category is the policy category (e.g. "weather").
	Category policy.Category

	// Resource is the resource path or URL (e.g. "/parks/yose").
	Resource string

	// Params are the request query parameters.
	Params url.Values
}

// String generates a deterministic cache key string.
// Format: category:resource?param1=val1&param2=val2
//
// Parameters are sorted by name, so equal parameter sets always produce
// the same key. A trailing slash on the resource is dropped.
//
// Example:
//
//	weather:/forecast?lat=37.7&lon=-119.5
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(string(k.Category))
	b.WriteByte(':')
	b.WriteString(normalizeResource(k.Resource))

	if len(k.Params) > 0 {
		if q := k.Params.Encode(); q != "" {
			b.WriteByte('?')
			b.WriteString(q)
		}
	}

	return b.String()
}

func normalizeResource(r string) string {
	r = strings.TrimSpace(r)
	if len(r) > 1 {
		r = strings.TrimSuffix(r, "/")
	}
	return r
}

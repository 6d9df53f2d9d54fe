package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/respcache/pkg/policy"
)

// Entry is a cached payload together with its freshness metadata.
// Entries are never mutated after being stored; Set replaces them.
type Entry struct {
	// Key is the store key (without the persistent namespace prefix).
	Key string

	// Data is the opaque cached payload.
	Data json.RawMessage

	// CreatedAt is when the entry was written.
	CreatedAt time.Time

	// TTL is how long the entry stays fresh.
	TTL time.Duration

	// Category is the policy category the entry was written under.
	Category policy.Category
}

// Age returns how long ago the entry was written.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// IsExpired returns true once the entry is older than its TTL.
// An entry exactly TTL old is still fresh.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.Age(now) > e.TTL
}

// Remaining returns the time until expiration, or 0 if already expired.
func (e *Entry) Remaining(now time.Time) time.Duration {
	r := e.TTL - e.Age(now)
	if r < 0 {
		return 0
	}
	return r
}

// record is the persisted entry shape:
//
//	{"data": <json>, "timestamp": <epoch ms>, "ttl": <ms>, "type": "<category>"}
type record struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`
	Type      policy.Category `json:"type"`
}

func encodeEntry(e *Entry) (string, error) {
	b, err := json.Marshal(record{
		Data:      e.Data,
		Timestamp: e.CreatedAt.UnixMilli(),
		TTL:       e.TTL.Milliseconds(),
		Type:      e.Category,
	})
	if err != nil {
		return "", fmt.Errorf("marshal cache entry: %w", err)
	}
	return string(b), nil
}

func decodeEntry(key, raw string) (*Entry, error) {
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if r.Type == "" || len(r.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data or type", ErrInvalidEntry)
	}
	return &Entry{
		Key:       key,
		Data:      r.Data,
		CreatedAt: time.UnixMilli(r.Timestamp),
		TTL:       time.Duration(r.TTL) * time.Millisecond,
		Category:  r.Type,
	}, nil
}

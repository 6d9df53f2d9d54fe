package cache

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := &Entry{CreatedAt: created, TTL: time.Hour}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{
			name: "just written",
			now:  created,
			want: false,
		},
		{
			name: "one ms before ttl",
			now:  created.Add(time.Hour - time.Millisecond),
			want: false,
		},
		{
			name: "exactly ttl old is fresh",
			now:  created.Add(time.Hour),
			want: false,
		},
		{
			name: "one ms past ttl",
			now:  created.Add(time.Hour + time.Millisecond),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entry.IsExpired(tt.now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_Remaining(t *testing.T) {
	created := time.Now()
	entry := &Entry{CreatedAt: created, TTL: 10 * time.Minute}

	if got := entry.Remaining(created.Add(4 * time.Minute)); got != 6*time.Minute {
		t.Errorf("Remaining() = %v, want 6m", got)
	}
	if got := entry.Remaining(created.Add(time.Hour)); got != 0 {
		t.Errorf("Remaining() after expiry = %v, want 0", got)
	}
}

func TestEncodeDecodeEntry(t *testing.T) {
	entry := &Entry{
		Key:       "weather:/forecast",
		Data:      json.RawMessage(`{"temp":21}`),
		CreatedAt: time.UnixMilli(1700000000123),
		TTL:       time.Hour,
		Category:  "weather",
	}

	raw, err := encodeEntry(entry)
	if err != nil {
		t.Fatalf("encodeEntry failed: %v", err)
	}

	// persisted shape
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	for _, field := range []string{"data", "timestamp", "ttl", "type"} {
		if _, ok := generic[field]; !ok {
			t.Errorf("record missing field %q: %s", field, raw)
		}
	}
	if generic["ttl"].(float64) != 3600000 {
		t.Errorf("ttl = %v, want 3600000 ms", generic["ttl"])
	}

	decoded, err := decodeEntry(entry.Key, raw)
	if err != nil {
		t.Fatalf("decodeEntry failed: %v", err)
	}
	if !decoded.CreatedAt.Equal(entry.CreatedAt) || decoded.TTL != entry.TTL || decoded.Category != entry.Category {
		t.Errorf("decoded = %+v, want %+v", decoded, entry)
	}
	if string(decoded.Data) != string(entry.Data) {
		t.Errorf("Data = %s, want %s", decoded.Data, entry.Data)
	}
}

func TestDecodeEntry_Invalid(t *testing.T) {
	for _, raw := range []string{"not json", `{"timestamp":1}`, `{"data":1}`} {
		if _, err := decodeEntry("k", raw); !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("decodeEntry(%q) error = %v, want ErrInvalidEntry", raw, err)
		}
	}
}

package policy

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name     string
		policies map[Category]Policy
		wantErr  bool
	}{
		{
			name:     "empty table",
			policies: map[Category]Policy{},
			wantErr:  true,
		},
		{
			name: "valid table",
			policies: map[Category]Policy{
				"weather": {TTL: time.Hour, Backend: BackendBoth, BackgroundRefresh: true},
			},
		},
		{
			name: "negative ttl",
			policies: map[Category]Policy{
				"weather": {TTL: -time.Second, Backend: BackendMemory},
			},
			wantErr: true,
		},
		{
			name: "unknown backend",
			policies: map[Category]Policy{
				"weather": {TTL: time.Hour, Backend: "disk"},
			},
			wantErr: true,
		},
		{
			name: "category with separator",
			policies: map[Category]Policy{
				"a:b": {TTL: time.Hour, Backend: BackendMemory},
			},
			wantErr: true,
		},
		{
			name: "background refresh on uncacheable category",
			policies: map[Category]Policy{
				"live": {TTL: 0, Backend: BackendMemory, BackgroundRefresh: true},
			},
			wantErr: true,
		},
		{
			name: "zero ttl is allowed",
			policies: map[Category]Policy{
				"live": {TTL: 0, Backend: BackendNone},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.policies)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRegistry() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := DefaultRegistry()

	if _, err := r.Lookup("bogus"); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("Lookup(bogus) error = %v, want ErrUnknownCategory", err)
	}

	p, err := r.Lookup(CategoryWeather)
	if err != nil {
		t.Fatalf("Lookup(weather) failed: %v", err)
	}
	if p.TTL != time.Hour {
		t.Errorf("weather TTL = %v, want 1h", p.TTL)
	}
	if !r.Has(CategoryFavorites) {
		t.Error("expected favorites to be registered")
	}
}

func TestRegistry_Categories_Sorted(t *testing.T) {
	r := MustRegistry(map[Category]Policy{
		"zeta":  {TTL: time.Minute, Backend: BackendMemory},
		"alpha": {TTL: time.Minute, Backend: BackendMemory},
		"mid":   {TTL: time.Minute, Backend: BackendMemory},
	})

	got := r.Categories()
	want := []Category{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Categories() = %v, want %v", got, want)
		}
	}
}

func TestDecode(t *testing.T) {
	doc := `
categories:
  weather:
    ttl: 1h
    backend: both
    background_refresh: true
    prefetch_eligible: true
  live:
    ttl: 0s
    backend: none
`
	r, err := Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	p, err := r.Lookup("weather")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if p.TTL != time.Hour || p.Backend != BackendBoth || !p.BackgroundRefresh || !p.PrefetchEligible {
		t.Errorf("unexpected weather policy: %+v", p)
	}

	live, _ := r.Lookup("live")
	if live.Cacheable() {
		t.Error("live policy should not be cacheable")
	}
}

func TestDecode_UnknownField(t *testing.T) {
	doc := `
categories:
  weather:
    ttl: 1h
    backend: both
    refresh_everything: true
`
	if _, err := Decode(strings.NewReader(doc)); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestBackend_Tiers(t *testing.T) {
	tests := []struct {
		backend        Backend
		wantMemory     bool
		wantPersistent bool
	}{
		{BackendMemory, true, false},
		{BackendPersistent, false, true},
		{BackendBoth, true, true},
		{BackendNone, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.backend), func(t *testing.T) {
			if got := tt.backend.UsesMemory(); got != tt.wantMemory {
				t.Errorf("UsesMemory() = %v, want %v", got, tt.wantMemory)
			}
			if got := tt.backend.UsesPersistent(); got != tt.wantPersistent {
				t.Errorf("UsesPersistent() = %v, want %v", got, tt.wantPersistent)
			}
		})
	}
}

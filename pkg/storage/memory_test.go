package storage

import (
	"context"
	"errors"
	"sort"
	"testing"
)

func TestMemory_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1024)

	if _, ok, _ := m.Get(ctx, "missing"); ok {
		t.Error("Get on empty backend should miss")
	}

	if err := m.Set(ctx, "k1", "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, ok, err := m.Get(ctx, "k1")
	if err != nil || !ok || v != "v1" {
		t.Errorf("Get = (%q, %v, %v), want (v1, true, nil)", v, ok, err)
	}

	if err := m.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := m.Delete(ctx, "k1"); err != nil {
		t.Errorf("Delete of missing key should not fail: %v", err)
	}

	used, _, _ := m.Usage(ctx)
	if used != 0 {
		t.Errorf("usage after delete = %d, want 0", used)
	}
}

func TestMemory_Quota(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	// "ab" + "cdef" = 6 bytes
	if err := m.Set(ctx, "ab", "cdef"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// would bring usage to 12
	if err := m.Set(ctx, "gh", "ijkl"); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Set over quota error = %v, want ErrQuotaExceeded", err)
	}
	if _, ok, _ := m.Get(ctx, "gh"); ok {
		t.Error("rejected write must not be stored")
	}

	// replacing an existing value only counts the difference
	if err := m.Set(ctx, "ab", "cdefghij"); err != nil {
		t.Errorf("replacement within quota failed: %v", err)
	}

	used, quota, _ := m.Usage(ctx)
	if used != 10 || quota != 10 {
		t.Errorf("Usage() = (%d, %d), want (10, 10)", used, quota)
	}
}

func TestMemory_Keys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	for _, k := range []string{"c", "a", "b"} {
		if err := m.Set(ctx, k, "x"); err != nil {
			t.Fatalf("Set(%s) failed: %v", k, err)
		}
	}

	keys, err := m.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Errorf("Keys() = %v, want [a b c]", keys)
	}
}

func TestNewRedis_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedis should panic with nil redis client")
		}
	}()
	NewRedis(nil, "test:", 0)
}

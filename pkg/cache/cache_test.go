package cache

import (
	"context"
	"testing"
	"time"
)

type locationEntry struct {
	VolumeID int64  `json:"volumeId"`
	Path     string `json:"path"`
}

func TestStoreSetAndGetRoundTrips(t *testing.T) {
	store := NewStore(NewLocalBackend(time.Minute))
	ctx := context.Background()

	want := map[string]locationEntry{
		"1.2.3": {VolumeID: 7, Path: "acme/2026/01/01/x.dcm"},
	}
	if err := store.Set(ctx, InstanceLocations, want, "acme", "1.2.3.4"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got map[string]locationEntry
	ok, err := store.Get(ctx, InstanceLocations, &got, "acme", "1.2.3.4")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got["1.2.3"].VolumeID != 7 || got["1.2.3"].Path != "acme/2026/01/01/x.dcm" {
		t.Fatalf("got = %+v, want %+v", got, want)
	}
}

func TestStoreGetMissReturnsFalse(t *testing.T) {
	store := NewStore(NewLocalBackend(time.Minute))
	var got map[string]locationEntry
	ok, err := store.Get(context.Background(), InstanceLocations, &got, "acme", "nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected miss, got hit")
	}
}

func TestStoreEvictRemovesEntry(t *testing.T) {
	store := NewStore(NewLocalBackend(time.Minute))
	ctx := context.Background()

	if err := store.Set(ctx, SeriesByStudy, []string{"s1"}, "acme", "1.2.3"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Evict(ctx, SeriesByStudy, "acme", "1.2.3"); err != nil {
		t.Fatalf("Evict() error = %v", err)
	}

	var got []string
	ok, err := store.Get(ctx, SeriesByStudy, &got, "acme", "1.2.3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected entry to be gone after Evict")
	}
}

func TestGetOrLoadPopulatesOnMiss(t *testing.T) {
	store := NewStore(NewLocalBackend(time.Minute))
	ctx := context.Background()

	calls := 0
	loader := func(ctx context.Context) (interface{}, error) {
		calls++
		return []string{"acme", "other"}, nil
	}

	var first []string
	if err := store.GetOrLoad(ctx, ActiveTenants, &first, loader); err != nil {
		t.Fatalf("GetOrLoad() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	var second []string
	if err := store.GetOrLoad(ctx, ActiveTenants, &second, loader); err != nil {
		t.Fatalf("GetOrLoad() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d after second GetOrLoad, want 1 (should hit cache)", calls)
	}
	if len(second) != 2 || second[0] != "acme" {
		t.Fatalf("second = %+v, want [acme other]", second)
	}
}

func TestLocalBackendExpiresAfterTTL(t *testing.T) {
	backend := NewLocalBackend(10 * time.Millisecond)
	ctx := context.Background()

	if err := backend.Set(ctx, "k", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok, _ := backend.Get(ctx, "k"); !ok {
		t.Fatal("expected immediate hit before TTL elapses")
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok, _ := backend.Get(ctx, "k"); ok {
		t.Fatal("expected miss after TTL elapses")
	}
}

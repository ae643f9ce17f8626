// Package cache implements the named, tenant-keyed caches spec.md §4.11
// describes: per-entry TTLs, a local in-memory backend and a shared
// Redis backend, and explicit invalidation by writers rather than
// write-through.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Name identifies one of the fixed named caches. Each has its own TTL
// and key shape; callers never invent new names at runtime.
type Name string

const (
	InstanceLocations    Name = "instance-locations"
	SeriesMetadataLookup Name = "series-metadata-lookup"
	SeriesByStudy        Name = "series-by-study"
	ActiveTenants        Name = "active-tenants"
	LifecycleRules       Name = "lifecycle-rules"
)

var ttls = map[Name]time.Duration{
	InstanceLocations:    30 * time.Minute,
	SeriesMetadataLookup: time.Hour,
	SeriesByStudy:        time.Hour,
	ActiveTenants:        60 * time.Second,
	LifecycleRules:       6 * time.Hour,
}

func ttlFor(name Name) time.Duration {
	if d, ok := ttls[name]; ok {
		return d
	}
	return time.Minute
}

// Backend is the storage interface a cache implementation must satisfy.
// LocalBackend and RedisBackend are the two spec.md §4.11 names.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Store is the tenant-aware facade every cache consumer uses. Keys are
// namespaced by cache name and, where applicable, tenant code, matching
// the `{tenant}:{seriesUid}`-shaped keys in spec.md's cache table.
type Store struct {
	backend Backend
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

func key(name Name, parts ...string) string {
	k := string(name)
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Get fetches and unmarshals a cached value into dst. It reports whether
// the key was present; a miss is not an error.
func (s *Store) Get(ctx context.Context, name Name, dst interface{}, parts ...string) (bool, error) {
	raw, ok, err := s.backend.Get(ctx, key(name, parts...))
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("cache: unmarshal %s: %w", name, err)
	}
	return true, nil
}

// Set stores value under the cache's configured TTL.
func (s *Store) Set(ctx context.Context, name Name, value interface{}, parts ...string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", name, err)
	}
	return s.backend.Set(ctx, key(name, parts...), raw, ttlFor(name))
}

// Evict removes one entry. Writers call this after the event that makes
// the cached value stale (ingest commit, migration, correction, admin
// CRUD) — there is no write-through path.
func (s *Store) Evict(ctx context.Context, name Name, parts ...string) error {
	return s.backend.Delete(ctx, key(name, parts...))
}

// Loader produces the value to cache on a miss.
type Loader func(ctx context.Context) (interface{}, error)

// GetOrLoad returns the cached value for (name, parts), loading and
// populating the cache on miss. dst receives the final value either way.
func (s *Store) GetOrLoad(ctx context.Context, name Name, dst interface{}, load Loader, parts ...string) error {
	if ok, err := s.Get(ctx, name, dst, parts...); err != nil {
		return err
	} else if ok {
		return nil
	}

	loaded, err := load(ctx)
	if err != nil {
		return err
	}

	if err := s.Set(ctx, name, loaded, parts...); err != nil {
		return err
	}

	raw, err := json.Marshal(loaded)
	if err != nil {
		return fmt.Errorf("cache: marshal loaded %s: %w", name, err)
	}
	return json.Unmarshal(raw, dst)
}

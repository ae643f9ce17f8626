package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LocalBackend is the in-process cache backend (config's `cache_backend:
// local`): a single process' hot data, lost on restart, fine for a
// single-instance deployment or a read replica that can tolerate a cold
// start.
type LocalBackend struct {
	c *gocache.Cache
}

// NewLocalBackend builds a backend whose entries expire on their
// per-Set TTL; cleanupInterval controls how often expired entries are
// purged from memory.
func NewLocalBackend(cleanupInterval time.Duration) *LocalBackend {
	return &LocalBackend{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (b *LocalBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := b.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	raw, ok := v.([]byte)
	if !ok {
		return nil, false, nil
	}
	return raw, true, nil
}

func (b *LocalBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.c.Set(key, value, ttl)
	return nil
}

func (b *LocalBackend) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		b.c.Delete(k)
	}
	return nil
}

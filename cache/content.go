package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// ContentCache is the unified cache facade: reads check the accelerator
// first and fall back to the remote store, writes go to the remote store
// first and mirror into the accelerator only on success. The accelerator is
// therefore always a subset of what the store has accepted.
//
// A nil BlobStore is a fully supported configuration: every Get and Has
// reports absent and every Set fails with ErrNoStore, which degrades
// callers to always-recompute behavior.
type ContentCache struct {
	store  BlobStore
	local  *Accelerator
	group  singleflight.Group
	logger *slog.Logger
}

// ContentOption configures a ContentCache.
type ContentOption func(*ContentCache)

// WithAccelerator sets the accelerator capacity.
func WithAccelerator(capacity int) ContentOption {
	return func(c *ContentCache) {
		c.local = NewAccelerator(capacity)
	}
}

// WithLogger sets the logger for cache traffic.
func WithLogger(logger *slog.Logger) ContentOption {
	return func(c *ContentCache) {
		c.logger = logger
	}
}

// NewContentCache creates the facade over store. store may be nil.
func NewContentCache(store BlobStore, opts ...ContentOption) *ContentCache {
	c := &ContentCache{store: store}
	for _, opt := range opts {
		opt(c)
	}
	if c.local == nil {
		c.local = NewAccelerator(DefaultAcceleratorCapacity)
	}
	return c
}

func (c *ContentCache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Get resolves key to its payload. Remote errors are degraded to a miss:
// the caller recomputes, which is always safe for content-addressed keys.
// Concurrent remote lookups for the same key are collapsed into one.
func (c *ContentCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := c.local.Get(key); ok {
		return value, true
	}
	if c.store == nil {
		return nil, false
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if value, ok := c.local.Get(key); ok {
			return getResult{value: value, found: true}, nil
		}
		value, found, err := c.store.Get(ctx, key)
		if err != nil {
			return getResult{}, err
		}
		if !found {
			return getResult{}, nil
		}
		c.local.Put(key, value)
		return getResult{value: value, found: true}, nil
	})
	if err != nil {
		c.log().Warn("store get degraded to miss", "key", key, "error", err)
		return nil, false
	}
	res := v.(getResult)
	return res.value, res.found
}

type getResult struct {
	value []byte
	found bool
}

// Set records the payload under key with the given expiry. The write is
// acknowledged only after the store accepts it; a failed remote write is
// never reported as success and never populates the accelerator.
func (c *ContentCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.store == nil {
		return ErrNoStore
	}
	if err := c.store.Put(ctx, key, value, ttl); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrStoreUnavailable, key, err)
	}
	c.local.Put(key, value)
	return nil
}

// Has reports whether key is present. An accelerator hit short-circuits the
// remote existence check: once observed, a content-addressed record is
// treated as existing for the rest of its accelerator residency. The remote
// copy could in principle have expired in that window; that staleness is
// bounded by accelerator capacity and churn and is accepted to avoid a
// remote round trip on every hit.
func (c *ContentCache) Has(ctx context.Context, key string) bool {
	if c.local.Has(key) {
		return true
	}
	if c.store == nil {
		return false
	}
	found, err := c.store.Exists(ctx, key)
	if err != nil {
		c.log().Warn("store exists degraded to false", "key", key, "error", err)
		return false
	}
	return found
}

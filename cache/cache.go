// Package cache provides the two-level content-addressed cache: a bounded
// in-process accelerator in front of a durable remote blob store.
//
// Keys are opaque strings derived from content fingerprints; values are
// opaque byte payloads. Because content-addressed keys are never updated in
// place, a stale accelerator entry is safe to serve for as long as it stays
// resident.
package cache

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors.
var (
	// ErrStoreUnavailable wraps transient remote store failures. Read
	// paths degrade to a miss; write paths surface it so callers can
	// serve freshly computed bytes instead of pointing at a record that
	// does not exist.
	ErrStoreUnavailable = errors.New("cache: store unavailable")

	// ErrNoStore is returned by writes when no remote store is
	// configured. This is a supported mode, not a failure of the cache
	// itself: every read misses and every write reports failure.
	ErrNoStore = errors.New("cache: no store configured")
)

// BlobStore is the remote durable store contract.
//
// Get returns found=false with a nil error only for definitive absence; any
// non-nil error means the answer is unknown and must not be treated as
// absence. Put with ttl <= 0 stores the record without expiry; a positive
// ttl schedules reclamation measured from the write, not from last access. Implementations do not retry internally.
type BlobStore interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Package testutil provides test doubles shared across packages.
package testutil

import (
	"context"
	"sync"
	"time"
)

type storeEntry struct {
	value     []byte
	expiresAt time.Time
}

// MockStore is an in-memory blob store double with TTL bookkeeping,
// per-key failure injection, and call counters. It implements the
// cache.BlobStore contract: found=false with nil error means definitive
// absence, injected errors mean unknown.
type MockStore struct {
	mu      sync.Mutex
	entries map[string]storeEntry

	// Global failure injection: when set, every call of that kind fails.
	GetErr    error
	PutErr    error
	ExistsErr error

	// Per-key Put failure injection.
	putErrByKey map[string]error

	// Call counters.
	GetCalls    int
	PutCalls    int
	ExistsCalls int

	// LastTTL records the ttl passed to the most recent Put per key.
	LastTTL map[string]time.Duration
}

// NewMockStore creates an empty store double.
func NewMockStore() *MockStore {
	return &MockStore{
		entries:     make(map[string]storeEntry),
		putErrByKey: make(map[string]error),
		LastTTL:     make(map[string]time.Duration),
	}
}

// Get implements the blob store read.
func (s *MockStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetCalls++
	if s.GetErr != nil {
		return nil, false, s.GetErr
	}
	e, ok := s.entries[key]
	if !ok || s.expired(e) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Put implements the blob store write.
func (s *MockStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PutCalls++
	if s.PutErr != nil {
		return s.PutErr
	}
	if err := s.putErrByKey[key]; err != nil {
		return err
	}
	e := storeEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
	s.LastTTL[key] = ttl
	return nil
}

// Exists implements the blob store existence check.
func (s *MockStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExistsCalls++
	if s.ExistsErr != nil {
		return false, s.ExistsErr
	}
	e, ok := s.entries[key]
	return ok && !s.expired(e), nil
}

func (s *MockStore) expired(e storeEntry) bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// Seed stores a value directly, bypassing counters and injection.
func (s *MockStore) Seed(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = storeEntry{value: append([]byte(nil), value...)}
}

// Delete removes a key directly, bypassing counters.
func (s *MockStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// FailPutKey makes Put fail with err for the given key only.
func (s *MockStore) FailPutKey(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErrByKey[key] = err
}

// Len returns the number of stored entries, expired ones included.
func (s *MockStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

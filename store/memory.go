package store

import (
	"context"
	"sync"

	"github.com/coursegate/coursegate/core"
)

// MemoryStore keeps bucket states in a mutex-guarded map. It is suitable for
// tests and single-process deployments only: state is not shared across
// processes, so it cannot enforce a global rate by itself.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]core.BucketState
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]core.BucketState)}
}

// GetOrInit returns the stored state for key, or a fresh full bucket.
func (s *MemoryStore) GetOrInit(ctx context.Context, key string, policy core.Policy, now int64) (Snapshot, error) {
	if key == "" {
		return Snapshot{}, ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.buckets[key]
	if !ok {
		return Snapshot{State: core.Fresh(policy, now)}, nil
	}
	return Snapshot{State: state, Exists: true}, nil
}

// CompareAndSet swaps in next only if the stored state still matches prior.
// For a fresh snapshot the record must still be absent.
func (s *MemoryStore) CompareAndSet(ctx context.Context, key string, prior Snapshot, next core.BucketState) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.buckets[key]
	if prior.Exists {
		if !ok || current != prior.State {
			return false, nil
		}
	} else if ok {
		return false, nil
	}

	s.buckets[key] = next
	return true, nil
}

// Delete removes the record for key.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
}

// Len returns the number of tracked buckets.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/coursegate/core"
)

func testPolicy() core.Policy {
	return core.Policy{Capacity: 10, RefillPerMs: 10.0 / 60000.0}
}

func TestMemoryStore_GetOrInit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	policy := testPolicy()

	snap, err := s.GetOrInit(ctx, "client-a", policy, 1000)
	require.NoError(t, err)

	assert.False(t, snap.Exists, "unseen key must read as fresh")
	assert.Equal(t, policy.Capacity, snap.State.Tokens)
	assert.Equal(t, int64(1000), snap.State.LastRefillAt)
	assert.Zero(t, s.Len(), "GetOrInit must not persist anything")
}

func TestMemoryStore_EmptyKeyRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetOrInit(ctx, "", testPolicy(), 1000)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = s.CompareAndSet(ctx, "", Snapshot{}, core.BucketState{})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestMemoryStore_CompareAndSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	policy := testPolicy()

	fresh, err := s.GetOrInit(ctx, "client-a", policy, 1000)
	require.NoError(t, err)

	// first write against an absent record succeeds
	next := core.BucketState{Tokens: 9, LastRefillAt: 1000}
	swapped, err := s.CompareAndSet(ctx, "client-a", fresh, next)
	require.NoError(t, err)
	assert.True(t, swapped)

	// the same fresh snapshot is now stale: the record exists
	swapped, err = s.CompareAndSet(ctx, "client-a", fresh, core.BucketState{Tokens: 5, LastRefillAt: 1000})
	require.NoError(t, err)
	assert.False(t, swapped, "stale fresh snapshot must not overwrite")

	// a re-read snapshot succeeds
	snap, err := s.GetOrInit(ctx, "client-a", policy, 2000)
	require.NoError(t, err)
	require.True(t, snap.Exists)
	assert.Equal(t, next, snap.State)

	swapped, err = s.CompareAndSet(ctx, "client-a", snap, core.BucketState{Tokens: 8, LastRefillAt: 2000})
	require.NoError(t, err)
	assert.True(t, swapped)
}

func TestMemoryStore_CompareAndSetConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	policy := testPolicy()

	fresh, err := s.GetOrInit(ctx, "client-a", policy, 1000)
	require.NoError(t, err)

	// two readers hold the same snapshot; only one swap wins
	winner, err := s.CompareAndSet(ctx, "client-a", fresh, core.BucketState{Tokens: 9, LastRefillAt: 1000})
	require.NoError(t, err)
	require.True(t, winner)

	loser, err := s.CompareAndSet(ctx, "client-a", fresh, core.BucketState{Tokens: 9, LastRefillAt: 1000})
	require.NoError(t, err)
	assert.False(t, loser, "concurrent writer with the same prior must lose")
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	policy := testPolicy()

	fresh, _ := s.GetOrInit(ctx, "client-a", policy, 1000)
	_, err := s.CompareAndSet(ctx, "client-a", fresh, core.BucketState{Tokens: 9, LastRefillAt: 1000})
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	s.Delete("client-a")
	assert.Zero(t, s.Len())

	snap, err := s.GetOrInit(ctx, "client-a", policy, 2000)
	require.NoError(t, err)
	assert.False(t, snap.Exists)
}

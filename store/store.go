package store

import (
	"context"
	"errors"

	"github.com/coursegate/coursegate/core"
)

var (
	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached within the call's timeout. Callers treat it as a signal to
	// apply their failure policy, not as a user-visible error.
	ErrStoreUnavailable = errors.New("bucket store unavailable")

	// ErrInvalidKey is returned when the client key is empty
	ErrInvalidKey = errors.New("client key cannot be empty")
)

// Snapshot is a bucket state as read from the store, together with enough
// provenance for a compare-and-set against exactly what was read. The raw
// fields hold the stored string encodings; they stay unexported so callers
// pass snapshots back opaquely.
type Snapshot struct {
	State  core.BucketState
	Exists bool // false means the key had no record (fresh bucket)

	rawTokens string
	rawLast   string
}

// Store is the adapter over the shared key-value service holding one record
// per client key. Implementations must make CompareAndSet atomic per key:
// under concurrent requests from the same client an unconditional write race
// lets two requests both spend the same token.
type Store interface {
	// GetOrInit returns the stored record for key, or a fresh full-capacity
	// snapshot if none exists, without persisting anything.
	GetOrInit(ctx context.Context, key string, policy core.Policy, now int64) (Snapshot, error)

	// CompareAndSet replaces the record only if it still matches the prior
	// snapshot (including the case "still absent" for a fresh snapshot).
	// Returns false on mismatch so the caller can re-read and retry.
	CompareAndSet(ctx context.Context, key string, prior Snapshot, next core.BucketState) (bool, error)
}

// AtomicStepper is implemented by stores that can run the whole
// read-refill-consume-write cycle as a single atomic server-side operation.
// When available it replaces the fetch/step/compare-and-set round trips with
// one call.
type AtomicStepper interface {
	Step(ctx context.Context, key string, policy core.Policy, now int64) (core.BucketState, bool, error)
}

package core

import "math"

// Step runs one admission check against the token bucket algorithm.
// It is a pure function: given the prior persisted state, the current time in
// epoch millis, and the policy in effect, it computes the successor state and
// the admit/deny decision. Callers own fetching and persisting the state.
//
// Refill is continuous: fractional tokens accumulate between requests instead
// of being rounded per tick, so low refill rates neither starve nor
// over-admit. Double precision is enough for windows spanning hours.
func Step(prior BucketState, now int64, policy Policy) (BucketState, Decision) {
	// A clock that appears to have gone backwards contributes zero elapsed
	// time, never negative. LastRefillAt must not move backwards either,
	// so successive writes keep it monotonically non-decreasing.
	elapsed := now - prior.LastRefillAt
	if elapsed < 0 {
		elapsed = 0
	}

	tokens := math.Min(prior.Tokens+float64(elapsed)*policy.RefillPerMs, policy.Capacity)

	next := BucketState{
		Tokens:       tokens,
		LastRefillAt: max(now, prior.LastRefillAt),
	}

	if tokens >= 1 {
		next.Tokens = tokens - 1
		return next, Decision{
			Admitted:  true,
			Remaining: next.Tokens,
			Limit:     policy.Capacity,
		}
	}

	deficit := 1 - tokens
	return next, Decision{
		Admitted:     false,
		Remaining:    tokens,
		RetryAfterMs: int64(math.Ceil(deficit / policy.RefillPerMs)),
		Limit:        policy.Capacity,
	}
}

// Fresh returns the state of a previously-unseen client: a full bucket
// stamped at the current time. Absence of a record in the store is
// equivalent to this state.
func Fresh(policy Policy, now int64) BucketState {
	return BucketState{
		Tokens:       policy.Capacity,
		LastRefillAt: now,
	}
}

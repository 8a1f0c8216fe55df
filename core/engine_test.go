package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anonymousPolicy() Policy {
	// 10 tokens regenerating over a 60s window
	return Policy{Capacity: 10, RefillPerMs: 10.0 / 60000.0}
}

func TestStep_TokensStayBounded(t *testing.T) {
	policy := anonymousPolicy()

	tests := []struct {
		name  string
		prior BucketState
		now   int64
	}{
		{"fresh full bucket", BucketState{Tokens: 10, LastRefillAt: 1000}, 1000},
		{"empty bucket", BucketState{Tokens: 0, LastRefillAt: 1000}, 1000},
		{"long idle refill overshoot", BucketState{Tokens: 3, LastRefillAt: 0}, 10_000_000},
		{"fractional tokens", BucketState{Tokens: 0.5, LastRefillAt: 1000}, 4000},
		{"stored timestamp in the future", BucketState{Tokens: 2, LastRefillAt: 99999}, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, _ := Step(tt.prior, tt.now, policy)
			assert.GreaterOrEqual(t, next.Tokens, 0.0)
			assert.LessOrEqual(t, next.Tokens, policy.Capacity)
		})
	}
}

func TestStep_ZeroElapsedAddsNothing(t *testing.T) {
	policy := anonymousPolicy()
	prior := BucketState{Tokens: 0.25, LastRefillAt: 5000}

	// At elapsed = 0 with under one token, refill contributes nothing and
	// the request is denied, so tokens are unchanged.
	next, decision := Step(prior, prior.LastRefillAt, policy)

	assert.False(t, decision.Admitted)
	assert.Equal(t, prior.Tokens, next.Tokens)
}

func TestStep_ClockRegressionTreatedAsZeroElapsed(t *testing.T) {
	policy := anonymousPolicy()
	prior := BucketState{Tokens: 5, LastRefillAt: 10_000}

	// now is behind the stored timestamp: no refill, no backwards timestamp
	next, decision := Step(prior, 4000, policy)

	assert.True(t, decision.Admitted)
	assert.Equal(t, prior.Tokens-1, next.Tokens)
	assert.Equal(t, prior.LastRefillAt, next.LastRefillAt, "lastRefillAt must never decrease")
}

func TestStep_MonotonicRefill(t *testing.T) {
	policy := anonymousPolicy()
	prior := BucketState{Tokens: 0, LastRefillAt: 0}

	var lastRefilled float64 = -1
	for _, now := range []int64{0, 1000, 5000, 30000, 60000, 120000} {
		next, decision := Step(prior, now, policy)

		// observe the refilled level before consumption
		refilled := next.Tokens
		if decision.Admitted {
			refilled++
		}

		assert.GreaterOrEqual(t, refilled+1e-9, lastRefilled, "refill at t=%d must not shrink", now)
		lastRefilled = refilled
	}
}

func TestStep_BurstExhaustion(t *testing.T) {
	policy := anonymousPolicy()
	state := Fresh(policy, 1000)

	// 10 checks at the same instant all admit
	for i := 0; i < 10; i++ {
		var decision Decision
		state, decision = Step(state, 1000, policy)
		require.True(t, decision.Admitted, "request %d should be admitted", i+1)
	}

	// the 11th is denied
	state, decision := Step(state, 1000, policy)
	assert.False(t, decision.Admitted)
	assert.Less(t, state.Tokens, 1.0)
	assert.Positive(t, decision.RetryAfterMs)
}

func TestStep_RefillAfterFullWindow(t *testing.T) {
	policy := anonymousPolicy()
	empty := BucketState{Tokens: 0, LastRefillAt: 0}

	next, decision := Step(empty, 60000, policy)

	assert.True(t, decision.Admitted, "one full window must refill an empty bucket")
	assert.InDelta(t, policy.Capacity-1, next.Tokens, 1e-9)
}

func TestStep_RetryAfterDerivedFromDeficit(t *testing.T) {
	policy := anonymousPolicy()
	empty := BucketState{Tokens: 0, LastRefillAt: 1000}

	_, decision := Step(empty, 1000, policy)

	require.False(t, decision.Admitted)
	// one token at 10/60000 per ms takes 6000ms
	assert.Equal(t, int64(6000), decision.RetryAfterMs)
}

func TestStep_FractionalTokensRetained(t *testing.T) {
	policy := anonymousPolicy()
	prior := BucketState{Tokens: 0, LastRefillAt: 0}

	// 3000ms refills half a token; denied, but the fraction persists
	next, decision := Step(prior, 3000, policy)
	require.False(t, decision.Admitted)
	assert.InDelta(t, 0.5, next.Tokens, 1e-9)

	// another 3000ms completes the token
	next, decision = Step(next, 6000, policy)
	assert.True(t, decision.Admitted)
}

func TestFresh_FullCapacityAtNow(t *testing.T) {
	policy := Policy{Capacity: 30, RefillPerMs: 30.0 / 60000.0}
	state := Fresh(policy, 42_000)

	assert.Equal(t, policy.Capacity, state.Tokens)
	assert.Equal(t, int64(42_000), state.LastRefillAt)
}

package core

import "fmt"

// Tier names recognized out of the box. The table is open: deployments can
// register additional tiers without touching the engine.
const (
	TierAuthenticated = "authenticated"
	TierAnonymous     = "anonymous"
)

// Table maps tier names to their admission policies.
type Table map[string]Policy

// NewTable builds the default two-tier table from a window length and the
// per-tier capacities. Each tier refills its full capacity over one window,
// so refillPerMs = capacity / windowMs.
func NewTable(windowMs int64, maxAuthenticated, maxAnonymous float64) (Table, error) {
	if windowMs <= 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %dms", ErrNegativeRefillRate, windowMs)
	}

	t := Table{
		TierAuthenticated: {
			Capacity:    maxAuthenticated,
			RefillPerMs: maxAuthenticated / float64(windowMs),
		},
		TierAnonymous: {
			Capacity:    maxAnonymous,
			RefillPerMs: maxAnonymous / float64(windowMs),
		},
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks every policy in the table. Called once at startup so a
// misconfigured tier fails fast instead of silently denying or admitting
// everything.
func (t Table) Validate() error {
	for tier, policy := range t {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("tier %s: %w", tier, err)
		}
	}
	return nil
}

// ForTier returns the policy for a named tier.
func (t Table) ForTier(tier string) (Policy, error) {
	policy, ok := t[tier]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}
	return policy, nil
}

// Select returns the policy for the caller's authentication signal. This is
// the only coupling between the authenticator and admission control: a
// boolean, never claims or identity content.
func (t Table) Select(authenticated bool) Policy {
	if authenticated {
		return t[TierAuthenticated]
	}
	return t[TierAnonymous]
}

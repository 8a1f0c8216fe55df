package core

// BucketState is the persisted state of one client's token bucket.
// Timestamps are epoch milliseconds to match the wire layout in the store
// (fields "tokens" and "last" on the per-client hash).
type BucketState struct {
	Tokens       float64 // Current tokens available (fractional)
	LastRefillAt int64   // Epoch millis of the last refill
}

// Policy defines the admission parameters applied to a single request.
// It is derived per request from the caller's tier and never persisted.
type Policy struct {
	Capacity    float64 // Maximum tokens (burst size)
	RefillPerMs float64 // Tokens regenerated per millisecond
}

// Validate checks that the policy admits a bounded, non-zero rate.
// A capacity or refill rate of zero would silently deny or admit everything,
// so misconfiguration is fatal at startup rather than tolerated.
func (p Policy) Validate() error {
	if p.Capacity <= 0 {
		return ErrNegativeCapacity
	}
	if p.RefillPerMs <= 0 {
		return ErrNegativeRefillRate
	}
	return nil
}

// Decision contains the result of an admission check.
type Decision struct {
	Admitted     bool    // Whether the request may proceed
	Remaining    float64 // Tokens left after this check
	RetryAfterMs int64   // Millis until one token is available (if denied)
	Limit        float64 // Total capacity of the bucket
}

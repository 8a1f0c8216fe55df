package core

import "errors"

var (
	// ErrNegativeCapacity is returned when a policy's capacity is zero or negative
	ErrNegativeCapacity = errors.New("bucket capacity must be positive")

	// ErrNegativeRefillRate is returned when a policy's refill rate is zero or negative
	ErrNegativeRefillRate = errors.New("refill rate must be positive")

	// ErrUnknownTier is returned when a tier name has no policy in the table
	ErrUnknownTier = errors.New("unknown policy tier")
)

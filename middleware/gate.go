package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/coursegate/coursegate/core"
	"github.com/coursegate/coursegate/store"
)

// FailMode selects what happens when the bucket store is unreachable.
type FailMode int

const (
	// FailOpen lets the request through as if admitted. Availability of the
	// API is prioritized over strict enforcement while the coordination
	// store is down; every occurrence is logged and counted.
	FailOpen FailMode = iota

	// FailClosed rejects the request with 503 instead.
	FailClosed
)

// Outcome is the terminal state of one admission check.
type Outcome int

const (
	Admitted Outcome = iota
	Denied
	StoreUnavailable
)

// AuthFunc reports whether the caller is authenticated. The gate uses only
// this boolean to pick a policy tier; identity content never reaches the
// admission path.
type AuthFunc func(*http.Request) bool

// Recorder receives admission events for observability.
type Recorder interface {
	RecordRequest(clientKey string, admitted bool)
	RecordStoreFailure()
}

// Gate is the admission controller. It gates every request through the token
// bucket state machine: resolve key and policy, fetch state, decide, persist,
// then admit or reject.
type Gate struct {
	store        store.Store
	tiers        core.Table
	keyFunc      KeyFunc
	authenticate AuthFunc
	recorder     Recorder
	logger       zerolog.Logger
	now          func() int64
	casRetries   int
	failMode     FailMode
}

// GateConfig configures a Gate. Store and Tiers are required; everything
// else has working defaults.
type GateConfig struct {
	Store store.Store
	Tiers core.Table

	// KeyFunc resolves the partition key (default: source address).
	KeyFunc KeyFunc
	// Authenticate supplies the tier signal (default: always anonymous).
	Authenticate AuthFunc
	// Recorder receives admission events (default: none).
	Recorder Recorder
	// Logger for fail-open events and conflicts (default: disabled).
	Logger zerolog.Logger
	// Clock returns epoch millis, overridable in tests.
	Clock func() int64
	// CASRetries caps re-reads after a compare-and-set conflict (default 3).
	CASRetries int
	// FailMode on store errors (default FailOpen).
	FailMode FailMode
}

// NewGate validates the configuration and builds the controller. Policy
// misconfiguration is an error here, at startup, never at request time.
func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Store == nil {
		return nil, errors.New("gate: store is required")
	}
	if len(cfg.Tiers) == 0 {
		return nil, errors.New("gate: tier table is required")
	}
	if err := cfg.Tiers.Validate(); err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}

	if cfg.KeyFunc == nil {
		cfg.KeyFunc = SourceAddr()
	}
	if cfg.Clock == nil {
		cfg.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if cfg.CASRetries <= 0 {
		cfg.CASRetries = 3
	}

	return &Gate{
		store:        cfg.Store,
		tiers:        cfg.Tiers,
		keyFunc:      cfg.KeyFunc,
		authenticate: cfg.Authenticate,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
		now:          cfg.Clock,
		casRetries:   cfg.CASRetries,
		failMode:     cfg.FailMode,
	}, nil
}

// Check runs one admission decision for a resolved client key. Exported so
// non-middleware callers (the check endpoint) share the exact same path.
func (g *Gate) Check(ctx context.Context, clientKey string, authenticated bool) (core.Decision, Outcome) {
	policy := g.tiers.Select(authenticated)

	// Stores that can run the whole read-modify-write server-side get a
	// single round trip.
	if stepper, ok := g.store.(store.AtomicStepper); ok {
		return g.checkAtomic(ctx, stepper, clientKey, policy)
	}
	return g.checkCAS(ctx, clientKey, policy)
}

func (g *Gate) checkAtomic(ctx context.Context, stepper store.AtomicStepper, clientKey string, policy core.Policy) (core.Decision, Outcome) {
	state, admitted, err := stepper.Step(ctx, clientKey, policy, g.now())
	if err != nil {
		g.logStoreFailure(clientKey, err)
		return core.Decision{}, StoreUnavailable
	}

	decision := core.Decision{
		Admitted:  admitted,
		Remaining: state.Tokens,
		Limit:     policy.Capacity,
	}
	if !admitted {
		decision.RetryAfterMs = retryAfterMs(state.Tokens, policy)
	}
	return decision, outcomeOf(admitted)
}

// checkCAS is the optimistic path: fetch, step, compare-and-set, with a
// bounded number of re-reads when a concurrent request won the swap. Retries
// exhausted counts as a store failure, so the configured fail mode applies.
func (g *Gate) checkCAS(ctx context.Context, clientKey string, policy core.Policy) (core.Decision, Outcome) {
	snap, err := g.store.GetOrInit(ctx, clientKey, policy, g.now())
	if err != nil {
		g.logStoreFailure(clientKey, err)
		return core.Decision{}, StoreUnavailable
	}

	for attempt := 0; attempt <= g.casRetries; attempt++ {
		next, decision := core.Step(snap.State, g.now(), policy)

		swapped, err := g.store.CompareAndSet(ctx, clientKey, snap, next)
		if err != nil {
			g.logStoreFailure(clientKey, err)
			return core.Decision{}, StoreUnavailable
		}
		if swapped {
			return decision, outcomeOf(decision.Admitted)
		}

		snap, err = g.store.GetOrInit(ctx, clientKey, policy, g.now())
		if err != nil {
			g.logStoreFailure(clientKey, err)
			return core.Decision{}, StoreUnavailable
		}
	}

	g.logger.Warn().Str("client_key", clientKey).Int("retries", g.casRetries).
		Msg("compare-and-set retries exhausted")
	return core.Decision{}, StoreUnavailable
}

// Middleware wraps next with admission control. Admitted requests pass
// through untouched; denied requests stop here with a 429.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientKey := g.keyFunc(r)
		authenticated := g.authenticate != nil && g.authenticate(r)

		decision, outcome := g.Check(r.Context(), clientKey, authenticated)

		switch outcome {
		case StoreUnavailable:
			if g.recorder != nil {
				g.recorder.RecordStoreFailure()
			}
			if g.failMode == FailClosed {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"error": "Service temporarily unavailable",
				})
				return
			}
			// Fail open: the business API stays available while the
			// coordination store is down.
			next.ServeHTTP(w, r)

		case Denied:
			if g.recorder != nil {
				g.recorder.RecordRequest(clientKey, false)
			}
			setRateHeaders(w, decision)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(decision)))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Too many requests per minute",
			})

		default:
			if g.recorder != nil {
				g.recorder.RecordRequest(clientKey, true)
			}
			setRateHeaders(w, decision)
			next.ServeHTTP(w, r)
		}
	})
}

func (g *Gate) logStoreFailure(clientKey string, err error) {
	g.logger.Warn().Err(err).Str("client_key", clientKey).
		Str("fail_mode", failModeName(g.failMode)).
		Msg("bucket store unavailable")
}

func retryAfterMs(tokens float64, policy core.Policy) int64 {
	deficit := 1 - tokens
	if deficit <= 0 {
		return 0
	}
	return int64(math.Ceil(deficit / policy.RefillPerMs))
}

func retryAfterSeconds(d core.Decision) int64 {
	secs := d.RetryAfterMs / 1000
	if d.RetryAfterMs%1000 != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

func outcomeOf(admitted bool) Outcome {
	if admitted {
		return Admitted
	}
	return Denied
}

func failModeName(m FailMode) string {
	if m == FailClosed {
		return "closed"
	}
	return "open"
}

func setRateHeaders(w http.ResponseWriter, d core.Decision) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", d.Limit))
	remaining := d.Remaining
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", remaining))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

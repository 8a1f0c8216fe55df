package store

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/coursegate/coursegate/core"
)

//go:embed admit.lua
var admitScript string

//go:embed cas.lua
var casScript string

var (
	admitLua = redis.NewScript(admitScript)
	casLua   = redis.NewScript(casScript)
)

// RedisStore keeps one hash per client key with fields "tokens"
// (string-encoded float) and "last" (string-encoded epoch millis). Absence of
// the hash is a valid state: a fresh bucket at full capacity.
//
// Both mutation paths are atomic server-side Lua scripts, so concurrent
// requests for the same key serialize inside Redis regardless of how many
// server processes share the store.
type RedisStore struct {
	client  redis.Cmdable
	ttl     time.Duration
	timeout time.Duration
	prefix  string
	logger  zerolog.Logger
}

var (
	_ Store         = (*RedisStore)(nil)
	_ AtomicStepper = (*RedisStore)(nil)
)

// RedisConfig tunes a RedisStore. Zero values pick the defaults.
type RedisConfig struct {
	// TTL applied to every bucket write so idle clients' state is reclaimed.
	// Should be a small multiple of the rate window. Default: 5 minutes.
	TTL time.Duration

	// Timeout bounds each store round trip. A call that exceeds it reports
	// ErrStoreUnavailable instead of blocking the request path.
	// Default: 50ms.
	Timeout time.Duration

	// KeyPrefix namespaces bucket keys. Default: "coursegate:bucket:".
	KeyPrefix string

	// Logger for script load and failure events. Default: disabled.
	Logger zerolog.Logger
}

// NewRedisStore wraps an existing client. The client's lifecycle (connect,
// close) belongs to process bootstrap, not to the store; redis.Cmdable keeps
// the store compatible with cluster and sentinel clients.
func NewRedisStore(client redis.Cmdable, cfg RedisConfig) *RedisStore {
	if cfg.TTL == 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 50 * time.Millisecond
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "coursegate:bucket:"
	}

	return &RedisStore{
		client:  client,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		prefix:  cfg.KeyPrefix,
		logger:  cfg.Logger,
	}
}

// Step runs the whole read-refill-consume-write cycle as one scripted call.
func (s *RedisStore) Step(ctx context.Context, key string, policy core.Policy, now int64) (core.BucketState, bool, error) {
	if key == "" {
		return core.BucketState{}, false, ErrInvalidKey
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := admitLua.Run(ctx, s.client,
		[]string{s.prefix + key},
		formatTokens(policy.Capacity),
		strconv.FormatFloat(policy.RefillPerMs, 'g', -1, 64),
		now,
		s.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return core.BucketState{}, false, fmt.Errorf("%w: admit script: %v", ErrStoreUnavailable, err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return core.BucketState{}, false, fmt.Errorf("%w: unexpected admit script reply %T", ErrStoreUnavailable, result)
	}

	admittedInt, _ := values[0].(int64)
	state := core.BucketState{
		Tokens:       parseFloatReply(values[1]),
		LastRefillAt: int64(parseFloatReply(values[2])),
	}
	return state, admittedInt == 1, nil
}

// GetOrInit reads the stored record, or synthesizes a fresh bucket when the
// key is absent. Unparsable fields count as absent, mirroring the tolerance
// of the record layout: a corrupt record resets rather than wedging a client.
func (s *RedisStore) GetOrInit(ctx context.Context, key string, policy core.Policy, now int64) (Snapshot, error) {
	if key == "" {
		return Snapshot{}, ErrInvalidKey
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields, err := s.client.HMGet(ctx, s.prefix+key, "tokens", "last").Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: hmget: %v", ErrStoreUnavailable, err)
	}

	rawTokens, okTokens := fields[0].(string)
	rawLast, okLast := fields[1].(string)
	if !okTokens || !okLast {
		return Snapshot{State: core.Fresh(policy, now)}, nil
	}

	tokens, errTokens := strconv.ParseFloat(rawTokens, 64)
	last, errLast := strconv.ParseInt(rawLast, 10, 64)
	if errTokens != nil || errLast != nil {
		s.logger.Warn().Str("key", key).Msg("discarding unparsable bucket record")
		return Snapshot{State: core.Fresh(policy, now)}, nil
	}

	return Snapshot{
		State:     core.BucketState{Tokens: tokens, LastRefillAt: last},
		Exists:    true,
		rawTokens: rawTokens,
		rawLast:   rawLast,
	}, nil
}

// CompareAndSet writes next only if the record still matches the prior
// snapshot, byte for byte against what GetOrInit read. The comparison and
// write run as a single script, so the swap is atomic per key.
func (s *RedisStore) CompareAndSet(ctx context.Context, key string, prior Snapshot, next core.BucketState) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := casLua.Run(ctx, s.client,
		[]string{s.prefix + key},
		prior.rawTokens, // "" when the snapshot was fresh
		prior.rawLast,
		formatTokens(next.Tokens),
		strconv.FormatInt(next.LastRefillAt, 10),
		s.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return false, fmt.Errorf("%w: cas script: %v", ErrStoreUnavailable, err)
	}

	swapped, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("%w: unexpected cas script reply %T", ErrStoreUnavailable, result)
	}
	return swapped == 1, nil
}

// Ping verifies the connection, bounded by the store timeout.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func formatTokens(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// parseFloatReply tolerates the script returning numbers either as strings
// (our encoding) or as Lua integers.
func parseFloatReply(v interface{}) float64 {
	switch n := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

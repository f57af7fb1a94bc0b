package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock key only if it still holds our token, so an
// expired lock taken over by another caller is never released by us.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	defaultRedisPrefix  = "throttle:"
	defaultRedisTimeout = 5 * time.Second
	defaultLockTTL      = 2 * time.Second
	lockRetryDelay      = 5 * time.Millisecond
)

// ErrLockTimeout is returned by RedisStore.Lock when the lock could not be
// acquired before the context ended.
var ErrLockTimeout = errors.New("redis lock not acquired")

// RedisStore is a distributed Store backed by Redis. Every limiter instance
// pointing at the same Redis and prefix shares counters.
//
// RedisStore implements Locker with a SET NX lock per cache key, released by
// a Lua compare-and-delete script.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	timeout   time.Duration
	ttl       time.Duration
	lockTTL   time.Duration
	unlockSHA string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix (default "throttle:").
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisStore) { r.prefix = prefix }
}

// WithTimeout bounds every Redis round trip (default 5s). The caller's
// context still applies when it is shorter.
func WithTimeout(d time.Duration) RedisOption {
	return func(r *RedisStore) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithTTL sets an expiry on every written key. Zero, the default, means
// keys never expire. A TTL of at least the longest interval in use keeps
// old fixed-window counters from piling up.
func WithTTL(d time.Duration) RedisOption {
	return func(r *RedisStore) {
		if d >= 0 {
			r.ttl = d
		}
	}
}

// WithLockTTL sets how long a per-key lock may be held before Redis expires
// it (default 2s).
func WithLockTTL(d time.Duration) RedisOption {
	return func(r *RedisStore) {
		if d > 0 {
			r.lockTTL = d
		}
	}
}

// NewRedisStore pings the server and loads the unlock script.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis store: client cannot be nil")
	}
	r := &RedisStore{
		client:  client,
		prefix:  defaultRedisPrefix,
		timeout: defaultRedisTimeout,
		lockTTL: defaultLockTTL,
	}
	for _, opt := range opts {
		opt(r)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	sha, err := client.ScriptLoad(ctx, unlockScript).Result()
	if err != nil {
		return nil, fmt.Errorf("redis script load: %w", err)
	}
	r.unlockSHA = sha
	return r, nil
}

func (r *RedisStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisStore) Write(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.client.Set(ctx, r.prefix+key, value, r.ttl).Err()
}

// Delete removes key. Deleting an absent key is not an error.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.client.Del(ctx, r.prefix+key).Err()
}

// Lock spins on SET NX until the lock is taken or ctx ends.
func (r *RedisStore) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := r.prefix + "lock:" + key
	token := uuid.NewString()

	for {
		ok, err := r.tryLock(ctx, lockKey, token)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
		case <-time.After(lockRetryDelay):
		}
	}

	return func() {
		// The caller's context may already be done; release on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		err := r.client.EvalSha(ctx, r.unlockSHA, []string{lockKey}, token).Err()
		if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
			_ = r.client.Eval(ctx, unlockScript, []string{lockKey}, token).Err()
		}
	}, nil
}

func (r *RedisStore) tryLock(ctx context.Context, lockKey, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.client.SetArgs(ctx, lockKey, token, redis.SetArgs{Mode: "NX", TTL: r.lockTTL}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

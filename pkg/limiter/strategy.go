package limiter

import (
	"context"
	"time"
)

// Strategy is a counting algorithm. The limiter picks one per call during
// option resolution and invokes it through this interface only.
//
// Strategies are written as read-then-write against the Store; see Locker
// for how concurrent callers are serialised.
type Strategy interface {
	Kind() StrategyKind

	// CacheKey returns the storage key for the resolved options at now.
	CacheKey(opts EffectiveOptions, now time.Time) string

	// AtThreshold reports whether the next call would be throttled.
	// It never writes.
	AtThreshold(ctx context.Context, store Store, opts EffectiveOptions, cacheKey string, now time.Time) (bool, error)

	// Increment records an admitted call and returns the new counter value.
	Increment(ctx context.Context, store Store, opts EffectiveOptions, cacheKey string, now time.Time) (int64, error)

	// Count returns the current counter value. It never writes.
	Count(ctx context.Context, store Store, opts EffectiveOptions, cacheKey string, now time.Time) (int64, error)

	// Reset sets the counter back to zero.
	Reset(ctx context.Context, store Store, opts EffectiveOptions, cacheKey string, now time.Time) error

	// RetryAfter estimates how long until a call would be admitted.
	// It returns 0 when the call would be admitted now.
	RetryAfter(ctx context.Context, store Store, opts EffectiveOptions, cacheKey string, now time.Time) (time.Duration, error)
}

var strategies = map[StrategyKind]Strategy{
	FixedWindow: fixedWindow{},
	LeakyBucket: leakyBucket{},
}

func strategyFor(kind StrategyKind) Strategy {
	if s, ok := strategies[kind]; ok {
		return s
	}
	return strategies[FixedWindow]
}

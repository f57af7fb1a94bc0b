package limiter

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	opThrottle   = "throttle"
	opEnforce    = "enforce"
	opThrottled  = "throttled"
	opCount      = "count"
	opReset      = "reset"
	opRetryAfter = "retry_after"
)

// Limiter decides whether operations on registered handles proceed or are
// throttled, counting against a host-supplied Store.
//
// A Limiter is safe for concurrent use. Counter correctness under concurrent
// callers depends on the Store; see Locker.
type Limiter struct {
	store    Store
	log      zerolog.Logger
	recorder MetricsRecorder
	now      func() time.Time

	mu        sync.RWMutex
	handles   map[string]HandleConfig
	callbacks []BeforeThrottleFunc
}

// New constructs a Limiter backed by store.
func New(store Store, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("limiter: store cannot be nil")
	}
	l := &Limiter{
		store:    store,
		log:      zerolog.Nop(),
		recorder: NoOpMetricsRecorder{},
		now:      time.Now,
		handles:  make(map[string]HandleConfig),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Configure registers the defaults for handle, replacing any earlier
// registration. It fails fast with a *ConfigError on invalid values.
func (l *Limiter) Configure(handle string, cfg HandleConfig) error {
	if handle == "" {
		return &ConfigError{Field: "handle", Message: "cannot be empty"}
	}
	if err := cfg.Validate(); err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Handle = handle
		}
		return err
	}
	if cfg.Strategy == "" {
		cfg.Strategy = FixedWindow
	}

	l.mu.Lock()
	l.handles[handle] = cfg
	l.mu.Unlock()
	return nil
}

// MustConfigure is like Configure but panics on error. It is meant for
// startup code with static configuration.
func (l *Limiter) MustConfigure(handle string, cfg HandleConfig) {
	if err := l.Configure(handle, cfg); err != nil {
		panic(err)
	}
}

// ConfigureAll registers every handle in cfgs. Nothing is registered if any
// entry is invalid.
func (l *Limiter) ConfigureAll(cfgs map[string]HandleConfig) error {
	for _, handle := range slices.Sorted(maps.Keys(cfgs)) {
		if err := cfgs[handle].Validate(); err != nil {
			var ce *ConfigError
			if errors.As(err, &ce) {
				ce.Handle = handle
			}
			return err
		}
	}
	for handle, cfg := range cfgs {
		if err := l.Configure(handle, cfg); err != nil {
			return err
		}
	}
	return nil
}

// HandleConfig returns the defaults registered for handle.
func (l *Limiter) HandleConfig(handle string) (HandleConfig, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg, ok := l.handles[handle]
	return cfg, ok
}

// Handles returns the registered handle names in sorted order.
func (l *Limiter) Handles() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Sorted(maps.Keys(l.handles))
}

// OnBeforeThrottle appends a callback. Callbacks run synchronously, in
// registration order, once per throttled outcome. A callback error is logged
// and counted; it does not stop later callbacks or change the outcome.
func (l *Limiter) OnBeforeThrottle(fn BeforeThrottleFunc) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.callbacks = append(l.callbacks, fn)
	l.mu.Unlock()
}

// Throttle reports whether the call should be throttled. When it is not,
// the counter is advanced; when it is, callbacks fire and the counter is
// left alone. In a disabled context it returns false without touching the
// store.
func (l *Limiter) Throttle(ctx context.Context, handle string, opts ...CallOption) (bool, error) {
	if IsDisabled(ctx) {
		return false, nil
	}
	var throttled bool
	err := l.run(ctx, opThrottle, handle, opts, true, func(ctx context.Context, c *call) error {
		full, err := c.strategy.AtThreshold(ctx, l.store, c.opts, c.cacheKey, c.now)
		if err != nil {
			return err
		}
		if full {
			throttled = true
			l.notify(ctx, c)
			return nil
		}
		_, err = c.strategy.Increment(ctx, l.store, c.opts, c.cacheKey, c.now)
		return err
	})
	return throttled, err
}

// Enforce is the failing form of Throttle. A throttled call returns a
// *RateLimitedError; an admitted call returns the counter value after the
// increment. In a disabled context it returns 0 and nil.
func (l *Limiter) Enforce(ctx context.Context, handle string, opts ...CallOption) (int64, error) {
	if IsDisabled(ctx) {
		return 0, nil
	}
	var count int64
	err := l.run(ctx, opEnforce, handle, opts, true, func(ctx context.Context, c *call) error {
		full, err := c.strategy.AtThreshold(ctx, l.store, c.opts, c.cacheKey, c.now)
		if err != nil {
			return err
		}
		if full {
			l.notify(ctx, c)
			return c.rateLimited()
		}
		count, err = c.strategy.Increment(ctx, l.store, c.opts, c.cacheKey, c.now)
		return err
	})
	return count, err
}

// Throttled reports whether a call would be throttled right now. It never
// writes and ignores the disabled flag.
func (l *Limiter) Throttled(ctx context.Context, handle string, opts ...CallOption) (bool, error) {
	var full bool
	err := l.run(ctx, opThrottled, handle, opts, false, func(ctx context.Context, c *call) error {
		var err error
		full, err = c.strategy.AtThreshold(ctx, l.store, c.opts, c.cacheKey, c.now)
		return err
	})
	return full, err
}

// Count returns the current counter value without changing it.
func (l *Limiter) Count(ctx context.Context, handle string, opts ...CallOption) (int64, error) {
	var count int64
	err := l.run(ctx, opCount, handle, opts, false, func(ctx context.Context, c *call) error {
		var err error
		count, err = c.strategy.Count(ctx, l.store, c.opts, c.cacheKey, c.now)
		return err
	})
	return count, err
}

// Reset sets the counter at the resolved cache key back to zero.
func (l *Limiter) Reset(ctx context.Context, handle string, opts ...CallOption) error {
	return l.run(ctx, opReset, handle, opts, true, func(ctx context.Context, c *call) error {
		return c.strategy.Reset(ctx, l.store, c.opts, c.cacheKey, c.now)
	})
}

// RetryAfter estimates how long until a call would be admitted. It returns
// 0 when a call would be admitted now.
func (l *Limiter) RetryAfter(ctx context.Context, handle string, opts ...CallOption) (time.Duration, error) {
	var d time.Duration
	err := l.run(ctx, opRetryAfter, handle, opts, false, func(ctx context.Context, c *call) error {
		var err error
		d, err = c.strategy.RetryAfter(ctx, l.store, c.opts, c.cacheKey, c.now)
		return err
	})
	return d, err
}

// CacheKey returns the storage key a call with opts would use right now.
func (l *Limiter) CacheKey(handle string, opts ...CallOption) (string, error) {
	eff, strategy, err := l.resolve(handle, opts)
	if err != nil {
		return "", err
	}
	return strategy.CacheKey(eff, l.now()), nil
}

// call is the resolved state of one public operation.
type call struct {
	opts     EffectiveOptions
	strategy Strategy
	cacheKey string
	now      time.Time
	log      zerolog.Logger
}

func (c *call) rateLimited() *RateLimitedError {
	return &RateLimitedError{
		Handle:    c.opts.Handle,
		Key:       c.opts.Key,
		CacheKey:  c.cacheKey,
		Threshold: c.opts.Threshold,
		Interval:  c.opts.Interval,
		Extra:     c.opts.Extra,
	}
}

func (l *Limiter) run(ctx context.Context, op, handle string, opts []CallOption, mutates bool, fn func(context.Context, *call) error) error {
	start := time.Now()
	tags := map[string]string{"handle": handle, "op": op}

	eff, strategy, err := l.resolve(handle, opts)
	if err != nil {
		l.recorder.Add(MetricError, 1, tags)
		return err
	}
	tags["strategy"] = string(eff.Strategy)

	now := l.now()
	c := &call{
		opts:     eff,
		strategy: strategy,
		cacheKey: strategy.CacheKey(eff, now),
		now:      now,
	}
	c.log = l.logger(ctx).With().
		Str("handle", handle).
		Str("strategy", string(eff.Strategy)).
		Str("cache_key", c.cacheKey).
		Logger()

	if locker, ok := l.store.(Locker); ok && mutates {
		unlock, err := locker.Lock(ctx, c.cacheKey)
		if err != nil {
			c.log.Err(err).Str("op", op).Msg("Can't lock the cache key")
			l.recorder.Add(MetricError, 1, tags)
			return fmt.Errorf("lock %q: %w", c.cacheKey, err)
		}
		defer unlock()
	}

	err = fn(ctx, c)

	l.recorder.Add(MetricCall, 1, tags)
	l.recorder.Observe(MetricLatency, time.Since(start).Seconds(), tags)
	if err != nil && !errors.Is(err, ErrRateLimited) {
		c.log.Err(err).Str("op", op).Msg("Throttle operation failed")
		l.recorder.Add(MetricError, 1, tags)
	}
	return err
}

func (l *Limiter) notify(ctx context.Context, c *call) {
	c.log.Debug().
		Int64("threshold", c.opts.Threshold).
		Dur("interval", c.opts.Interval).
		Strs("key", c.opts.Key).
		Msg("Throttled")

	tags := map[string]string{"handle": c.opts.Handle, "strategy": string(c.opts.Strategy)}
	l.recorder.Add(MetricThrottled, 1, tags)

	l.mu.RLock()
	callbacks := l.callbacks
	l.mu.RUnlock()

	ev := ThrottleEvent{
		Handle:    c.opts.Handle,
		Key:       c.opts.Key,
		Threshold: c.opts.Threshold,
		Interval:  c.opts.Interval,
	}
	for i, fn := range callbacks {
		if err := fn(ctx, ev); err != nil {
			c.log.Err(err).Int("callback", i).Msg("Before-throttle callback failed")
			l.recorder.Add(MetricCallbackError, 1, tags)
		}
	}
}

// logger prefers a logger attached to ctx over the limiter's own.
func (l *Limiter) logger(ctx context.Context) zerolog.Logger {
	if lg := zerolog.Ctx(ctx); lg != nil && lg.GetLevel() != zerolog.Disabled {
		return *lg
	}
	return l.log
}

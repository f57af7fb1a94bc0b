package limiter

import (
	"maps"
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used when no logger is attached to the call
// context. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// WithRecorder injects a metrics backend. The default is a no-op.
func WithRecorder(r MetricsRecorder) Option {
	return func(l *Limiter) {
		if r != nil {
			l.recorder = r
		}
	}
}

// WithClock replaces time.Now. Mostly useful in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithBeforeThrottle registers a callback at construction time. It is
// equivalent to calling OnBeforeThrottle.
func WithBeforeThrottle(fn BeforeThrottleFunc) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.callbacks = append(l.callbacks, fn)
		}
	}
}

// CallOption overrides handle defaults for a single call.
type CallOption func(*callOptions)

type callOptions struct {
	key       []string
	increment int64

	threshold    int64
	hasThreshold bool
	interval     time.Duration
	hasInterval  bool
	burstRate    int64
	hasBurstRate bool
	strategy     StrategyKind

	extra map[string]any
}

// WithKey scopes the count to an entity (a user id, an IP, ...). Several
// parts form a composite key; their order is significant.
func WithKey(parts ...string) CallOption {
	return func(o *callOptions) { o.key = append([]string(nil), parts...) }
}

// WithIncrement sets how much an admitted call adds to the counter.
// Values below 1 count as 1.
func WithIncrement(n int64) CallOption {
	return func(o *callOptions) { o.increment = n }
}

func WithThreshold(n int64) CallOption {
	return func(o *callOptions) { o.threshold, o.hasThreshold = n, true }
}

func WithInterval(d time.Duration) CallOption {
	return func(o *callOptions) { o.interval, o.hasInterval = d, true }
}

func WithBurstRate(n int64) CallOption {
	return func(o *callOptions) { o.burstRate, o.hasBurstRate = n, true }
}

func WithStrategy(kind StrategyKind) CallOption {
	return func(o *callOptions) { o.strategy = kind }
}

// WithExtra attaches a pass-through value. Extras are not interpreted by the
// limiter; they are copied into EffectiveOptions and RateLimitedError.
func WithExtra(name string, value any) CallOption {
	return func(o *callOptions) {
		if o.extra == nil {
			o.extra = make(map[string]any)
		}
		o.extra[name] = value
	}
}

// Resolve merges the defaults registered for handle with opts. Call options
// win over handle defaults.
func (l *Limiter) Resolve(handle string, opts ...CallOption) (EffectiveOptions, error) {
	eff, _, err := l.resolve(handle, opts)
	return eff, err
}

func (l *Limiter) resolve(handle string, opts []CallOption) (EffectiveOptions, Strategy, error) {
	cfg, ok := l.HandleConfig(handle)
	if !ok {
		return EffectiveOptions{}, nil, &UnknownHandleError{Handle: handle}
	}

	co := callOptions{increment: 1}
	for _, opt := range opts {
		opt(&co)
	}

	if co.hasThreshold {
		cfg.Threshold = co.threshold
	}
	if co.hasInterval {
		cfg.Interval = co.interval
	}
	if co.hasBurstRate {
		cfg.BurstRate = co.burstRate
	}
	if co.strategy != "" {
		cfg.Strategy = co.strategy
	}
	if cfg.Strategy == "" {
		cfg.Strategy = FixedWindow
	}
	if err := cfg.Validate(); err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Handle = handle
		}
		return EffectiveOptions{}, nil, err
	}

	eff := EffectiveOptions{
		Handle:    handle,
		Key:       co.key,
		Threshold: cfg.Threshold,
		Interval:  cfg.Interval,
		BurstRate: cfg.BurstRate,
		Strategy:  cfg.Strategy,
		Increment: co.increment,
		Extra:     maps.Clone(co.extra),
	}
	return eff, strategyFor(eff.Strategy), nil
}

package limiter

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StrategyKind selects the counting strategy used for a handle.
type StrategyKind string

const (
	FixedWindow StrategyKind = "fixed_window"
	LeakyBucket StrategyKind = "leaky_bucket"
)

// ParseStrategy converts a config string to a StrategyKind.
// The empty string maps to FixedWindow.
func ParseStrategy(s string) (StrategyKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fixed_window", "fixed-window", "fixed":
		return FixedWindow, nil
	case "leaky_bucket", "leaky-bucket", "leaky":
		return LeakyBucket, nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}

// HandleConfig holds the per-handle defaults registered with Configure.
type HandleConfig struct {
	// Threshold is the maximum count allowed per Interval.
	Threshold int64
	// Interval is the window length (fixed window) or the drain period
	// (leaky bucket: Threshold units leak out every Interval).
	Interval time.Duration
	// BurstRate is the leaky-bucket capacity. Zero means Threshold.
	BurstRate int64
	// Strategy defaults to FixedWindow.
	Strategy StrategyKind
}

// Validate reports a *ConfigError when the config cannot be used.
func (c HandleConfig) Validate() error {
	if c.Threshold <= 0 {
		return &ConfigError{Field: "threshold", Message: "must be greater than 0"}
	}
	if c.Interval <= 0 {
		return &ConfigError{Field: "interval", Message: "must be greater than 0"}
	}
	if c.BurstRate < 0 {
		return &ConfigError{Field: "burst_rate", Message: "must not be negative"}
	}
	if c.BurstRate > 0 && c.BurstRate < c.Threshold {
		return &ConfigError{Field: "burst_rate", Message: "must be greater than or equal to threshold"}
	}
	switch c.Strategy {
	case "", FixedWindow, LeakyBucket:
	default:
		return &ConfigError{Field: "strategy", Message: fmt.Sprintf("unknown strategy %q", c.Strategy)}
	}
	return nil
}

// EffectiveOptions is the per-call configuration produced by merging the
// handle defaults with call options. It is never persisted.
type EffectiveOptions struct {
	Handle    string
	Key       []string
	Threshold int64
	Interval  time.Duration
	BurstRate int64
	Strategy  StrategyKind
	Increment int64
	Extra     map[string]any
}

// Capacity is the count at which a call is throttled.
func (o EffectiveOptions) Capacity() int64 {
	if o.Strategy == LeakyBucket && o.BurstRate > 0 {
		return o.BurstRate
	}
	return o.Threshold
}

// step is the amount a single admitted call adds. Values below 1 are
// clamped to 1.
func (o EffectiveOptions) step() int64 {
	if o.Increment < 1 {
		return 1
	}
	return o.Increment
}

// ThrottleEvent is passed to before-throttle callbacks.
type ThrottleEvent struct {
	Handle    string
	Key       []string
	Threshold int64
	Interval  time.Duration
}

// BeforeThrottleFunc is invoked synchronously each time a call is throttled,
// before the throttled result is returned.
type BeforeThrottleFunc func(ctx context.Context, ev ThrottleEvent) error

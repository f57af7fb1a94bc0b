package limiter

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidConfig is wrapped by every *ConfigError.
	ErrInvalidConfig = errors.New("invalid throttle configuration")

	// ErrUnknownHandle is returned when a handle was never configured.
	ErrUnknownHandle = errors.New("unknown throttle handle")

	// ErrRateLimited is wrapped by every *RateLimitedError.
	ErrRateLimited = errors.New("rate limited")
)

// ConfigError describes a rejected handle configuration.
type ConfigError struct {
	Handle  string
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Handle == "" {
		return fmt.Sprintf("throttle config: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("throttle config %q: %s: %s", e.Handle, e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// UnknownHandleError is returned by every operation on an unregistered handle.
type UnknownHandleError struct {
	Handle string
}

func (e *UnknownHandleError) Error() string {
	return fmt.Sprintf("throttle: unknown handle %q", e.Handle)
}

func (e *UnknownHandleError) Unwrap() error { return ErrUnknownHandle }

// RateLimitedError is returned by Enforce and EnforceDo when a call is
// throttled. It carries enough context to build a user-facing response.
type RateLimitedError struct {
	Handle    string
	Key       []string
	CacheKey  string
	Threshold int64
	Interval  time.Duration
	// Extra holds any pass-through call options (see WithExtra).
	Extra map[string]any
}

func (e *RateLimitedError) Error() string {
	if len(e.Key) == 0 {
		return fmt.Sprintf("rate limited: %s (%d per %s)", e.Handle, e.Threshold, e.Interval)
	}
	return fmt.Sprintf("rate limited: %s[%s] (%d per %s)", e.Handle, strings.Join(e.Key, ","), e.Threshold, e.Interval)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// IsRateLimited reports whether err is, or wraps, a rate limit error.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// AsRateLimited extracts the *RateLimitedError from err, if any.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rle *RateLimitedError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

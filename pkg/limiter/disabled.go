package limiter

import "context"

type disabledKey struct{}

// WithDisabled returns a context in which Throttle, Enforce and their block
// forms never throttle and never touch the store.
func WithDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, disabledKey{}, true)
}

// IsDisabled reports whether ctx was derived from WithDisabled.
func IsDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(disabledKey{}).(bool)
	return v
}

// Disabled runs fn with throttling turned off. The flag lives only in the
// context handed to fn, so it ends with fn however fn returns, and
// concurrent callers outside fn are unaffected.
func Disabled(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(WithDisabled(ctx))
}

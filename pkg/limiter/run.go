package limiter

import "context"

// Do is the block form of Throttle. fn runs only when the call is admitted.
// The returned bool is true when the call was throttled, in which case the
// zero T is returned and fn never ran.
func Do[T any](ctx context.Context, l *Limiter, handle string, fn func(context.Context) (T, error), opts ...CallOption) (T, bool, error) {
	var zero T
	throttled, err := l.Throttle(ctx, handle, opts...)
	if err != nil || throttled {
		return zero, throttled, err
	}
	v, err := fn(ctx)
	return v, false, err
}

// EnforceDo is the block form of Enforce. A throttled call returns a
// *RateLimitedError without running fn.
func EnforceDo[T any](ctx context.Context, l *Limiter, handle string, fn func(context.Context) (T, error), opts ...CallOption) (T, error) {
	var zero T
	if _, err := l.Enforce(ctx, handle, opts...); err != nil {
		return zero, err
	}
	return fn(ctx)
}

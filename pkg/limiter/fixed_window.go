package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// fixedWindow counts calls per discrete window. The cache key carries the
// window index, so a new window starts from an absent (zero) counter and
// old counters are left for the store to expire.
type fixedWindow struct{}

func (fixedWindow) Kind() StrategyKind { return FixedWindow }

func (fixedWindow) CacheKey(opts EffectiveOptions, now time.Time) string {
	return windowedCacheKey(fixedWindowKeyTag, opts.Handle, opts.Key, opts.Interval, now)
}

func (w fixedWindow) AtThreshold(ctx context.Context, store Store, opts EffectiveOptions, cacheKey string, _ time.Time) (bool, error) {
	count, err := w.read(ctx, store, cacheKey)
	if err != nil {
		return false, err
	}
	return count >= opts.Threshold, nil
}

func (w fixedWindow) Increment(ctx context.Context, store Store, opts EffectiveOptions, cacheKey string, _ time.Time) (int64, error) {
	count, err := w.read(ctx, store, cacheKey)
	if err != nil {
		return 0, err
	}
	count += opts.step()
	if err := w.write(ctx, store, cacheKey, count); err != nil {
		return 0, err
	}
	return count, nil
}

func (w fixedWindow) Count(ctx context.Context, store Store, _ EffectiveOptions, cacheKey string, _ time.Time) (int64, error) {
	return w.read(ctx, store, cacheKey)
}

func (w fixedWindow) Reset(ctx context.Context, store Store, _ EffectiveOptions, cacheKey string, _ time.Time) error {
	return w.write(ctx, store, cacheKey, 0)
}

func (w fixedWindow) RetryAfter(ctx context.Context, store Store, opts EffectiveOptions, cacheKey string, now time.Time) (time.Duration, error) {
	count, err := w.read(ctx, store, cacheKey)
	if err != nil {
		return 0, err
	}
	if count < opts.Threshold {
		return 0, nil
	}
	windowEnd := (windowIndex(now, opts.Interval) + 1) * int64(opts.Interval)
	return time.Duration(windowEnd - now.UnixNano()), nil
}

func (fixedWindow) read(ctx context.Context, store Store, cacheKey string) (int64, error) {
	raw, ok, err := store.Read(ctx, cacheKey)
	if err != nil {
		return 0, fmt.Errorf("read counter %q: %w", cacheKey, err)
	}
	if !ok || len(raw) == 0 {
		return 0, nil
	}
	count, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode counter %q: %w", cacheKey, err)
	}
	return count, nil
}

func (fixedWindow) write(ctx context.Context, store Store, cacheKey string, count int64) error {
	if err := store.Write(ctx, cacheKey, []byte(strconv.FormatInt(count, 10))); err != nil {
		return fmt.Errorf("write counter %q: %w", cacheKey, err)
	}
	return nil
}

package limiter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// bucketState is the persisted leaky-bucket record. LastUpdated is in
// seconds since the Unix epoch.
type bucketState struct {
	Bucket      int64 `json:"bucket"`
	LastUpdated int64 `json:"last_updated"`
}

// leakyBucket keeps one record per handle/key pair that drains at
// Threshold units per Interval and admits calls while the drained level is
// below the capacity (BurstRate, or Threshold when unset).
//
// A full bucket is never written: the stored record, including its
// timestamp, stays exactly as it was.
type leakyBucket struct{}

func (leakyBucket) Kind() StrategyKind { return LeakyBucket }

func (leakyBucket) CacheKey(opts EffectiveOptions, _ time.Time) string {
	return buildCacheKey(leakyBucketKeyTag, opts.Handle, opts.Key)
}

func (b leakyBucket) AtThreshold(ctx context.Context, store Store, opts EffectiveOptions, cacheKey string, now time.Time) (bool, error) {
	st, err := b.load(ctx, store, cacheKey, now)
	if err != nil {
		return false, err
	}
	return drain(st, opts, now) >= opts.Capacity(), nil
}

func (b leakyBucket) Increment(ctx context.Context, store Store, opts EffectiveOptions, cacheKey string, now time.Time) (int64, error) {
	st, err := b.load(ctx, store, cacheKey, now)
	if err != nil {
		return 0, err
	}
	next := bucketState{
		Bucket:      drain(st, opts, now) + opts.step(),
		LastUpdated: now.Unix(),
	}
	if err := b.save(ctx, store, cacheKey, next); err != nil {
		return 0, err
	}
	return next.Bucket, nil
}

func (b leakyBucket) Count(ctx context.Context, store Store, opts EffectiveOptions, cacheKey string, now time.Time) (int64, error) {
	st, err := b.load(ctx, store, cacheKey, now)
	if err != nil {
		return 0, err
	}
	return drain(st, opts, now), nil
}

func (b leakyBucket) Reset(ctx context.Context, store Store, _ EffectiveOptions, cacheKey string, now time.Time) error {
	return b.save(ctx, store, cacheKey, bucketState{LastUpdated: now.Unix()})
}

func (b leakyBucket) RetryAfter(ctx context.Context, store Store, opts EffectiveOptions, cacheKey string, now time.Time) (time.Duration, error) {
	st, err := b.load(ctx, store, cacheKey, now)
	if err != nil {
		return 0, err
	}
	capacity := opts.Capacity()
	if drain(st, opts, now) < capacity {
		return 0, nil
	}

	// Seconds after LastUpdated at which enough units have leaked for the
	// level to drop below capacity.
	need := st.Bucket - capacity + 1
	secs := math.Ceil(float64(need) * opts.Interval.Seconds() / float64(opts.Threshold))
	at := time.Unix(st.LastUpdated+int64(secs), 0)
	if d := at.Sub(now); d > 0 {
		return d, nil
	}
	return time.Second, nil
}

func (leakyBucket) load(ctx context.Context, store Store, cacheKey string, now time.Time) (bucketState, error) {
	raw, ok, err := store.Read(ctx, cacheKey)
	if err != nil {
		return bucketState{}, fmt.Errorf("read bucket %q: %w", cacheKey, err)
	}
	if !ok || len(raw) == 0 {
		return bucketState{LastUpdated: now.Unix()}, nil
	}
	var st bucketState
	if err := json.Unmarshal(raw, &st); err != nil {
		return bucketState{}, fmt.Errorf("decode bucket %q: %w", cacheKey, err)
	}
	return st, nil
}

func (leakyBucket) save(ctx context.Context, store Store, cacheKey string, st bucketState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode bucket %q: %w", cacheKey, err)
	}
	if err := store.Write(ctx, cacheKey, raw); err != nil {
		return fmt.Errorf("write bucket %q: %w", cacheKey, err)
	}
	return nil
}

// drain returns the bucket level at now after leaking
// floor(elapsed * threshold / interval) units since the last update.
func drain(st bucketState, opts EffectiveOptions, now time.Time) int64 {
	elapsed := now.Unix() - st.LastUpdated
	if elapsed <= 0 || st.Bucket <= 0 {
		return max(st.Bucket, 0)
	}
	drained := math.Floor(float64(elapsed) * float64(opts.Threshold) / opts.Interval.Seconds())
	if drained >= float64(st.Bucket) {
		return 0
	}
	return st.Bucket - int64(drained)
}

// Package limiter throttles named operations ("handles") against a
// pluggable key-value store.
//
// The primary entry points are Throttle and Enforce:
//
//	l, _ := limiter.New(limiter.NewMemoryStore())
//	l.MustConfigure("login", limiter.HandleConfig{Threshold: 5, Interval: time.Minute})
//
//	throttled, err := l.Throttle(ctx, "login", limiter.WithKey(userID))
//	count, err := l.Enforce(ctx, "login", limiter.WithKey(userID))
//
// Throttle reports a boolean; Enforce returns a *RateLimitedError that
// callers can test with IsRateLimited or AsRateLimited. Do and EnforceDo
// wrap a function so it only runs when the call is admitted.
//
// # Handles and Options
//
// A handle is registered once with Configure and carries defaults:
//
//   - Threshold: the maximum count per Interval
//   - Interval: the window length, or the drain period for a leaky bucket
//   - BurstRate: leaky-bucket capacity (defaults to Threshold)
//   - Strategy: FixedWindow (default) or LeakyBucket
//
// Each call may override any of them with CallOptions (WithThreshold,
// WithInterval, WithBurstRate, WithStrategy), scope the count to an entity
// with WithKey, count more than one unit with WithIncrement, and attach
// pass-through data with WithExtra. Using an unregistered handle returns
// ErrUnknownHandle before the store is touched.
//
// # Strategies
//
// FixedWindow keeps one counter per window. The window index,
// floor(now / Interval), is part of the cache key, so a new window starts
// from zero without any cleanup.
//
// LeakyBucket keeps one record per handle and key holding the current level
// and the time it was last updated. Threshold units leak out every Interval.
// A call is throttled while the drained level is at or above capacity, and a
// throttled call does not write anything.
//
// # Backends
//
// Limiter counts against any Store:
//
//   - MemoryStore: a process-local map, for tests and single instances.
//   - RedisStore: shared state in Redis via go-redis. Keys are prefixed with
//     "throttle:" unless WithPrefix says otherwise; WithTTL adds an expiry.
//   - SQLStore: a throttle_state table in Postgres, MySQL or SQLite.
//
// # Concurrency
//
// Strategies read, compute and write. When the Store also implements Locker
// the Limiter holds the cache-key lock across that sequence. MemoryStore and
// RedisStore implement Locker; with SQLStore, concurrent callers on the same
// key may undercount.
//
// # Disabling
//
// Disabled and WithDisabled mark a context so Throttle, Enforce, Do and
// EnforceDo always admit without touching the store. The flag lives in the
// context only, so it cannot leak to other goroutines or outlive the scope.
// Throttled and Count ignore it.
//
// # Observability
//
// Errors are logged with zerolog, preferring a logger attached to the
// context (zerolog.Ctx) over the one passed with WithLogger. Counters and
// latencies go to a MetricsRecorder; see the metrics package for a
// Prometheus implementation. Before-throttle callbacks run synchronously on
// every throttled outcome; their errors are logged and never change it.
//
// # Context and Error Policy
//
// Every operation takes a context.Context that is passed to the store.
// Store failures are returned wrapped; the package never retries and never
// chooses between failing open and failing closed.
package limiter

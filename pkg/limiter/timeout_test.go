package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newRedisLimiter(t *testing.T) *Limiter {
	t.Helper()
	opt, _ := redis.ParseURL("redis://localhost:6379")
	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })

	store, err := NewRedisStore(client, WithTimeout(time.Second))
	if err != nil {
		t.Skipf("Skipping test: Redis not available (%v)", err)
	}
	l, err := New(store)
	if err != nil {
		t.Fatal(err)
	}
	l.MustConfigure("test", HandleConfig{Threshold: 100, Interval: time.Second})
	return l
}

func TestRedisLimiter_ContextCancellation(t *testing.T) {
	l := newRedisLimiter(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Enforce(ctx, "test", WithKey("user_cancel"))
	if err == nil {
		t.Fatal("Expected an error due to cancelled context, but got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected error to be context.Canceled, but got: %v", err)
	}
	if IsRateLimited(err) {
		t.Errorf("A cancelled call must not look rate limited: %v", err)
	}
}

func TestRedisLimiter_Deadline(t *testing.T) {
	l := newRedisLimiter(t)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := l.Throttle(ctx, "test", WithKey("user_deadline"))
	if err == nil {
		t.Fatal("Expected timeout error, but got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected error to be context.DeadlineExceeded, but got: %v", err)
	}
}

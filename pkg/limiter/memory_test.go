package limiter

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestMemoryStore_ReadWrite(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store := NewMemoryStore()

	_, ok, err := store.Read(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	value := []byte("7")
	require.NoError(t, store.Write(ctx, "k", value))
	value[0] = '9'

	got, ok, err := store.Read(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "7", string(got), "Write must copy the value")

	got[0] = '8'
	again, _, _ := store.Read(ctx, "k")
	assert.Equal(t, "7", string(again), "Read must return a copy")
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore()

	_, _, err := store.Read(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, store.Write(ctx, "k", []byte("1")), context.Canceled)
	_, err = store.Lock(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_Lock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	unlock, err := store.Lock(ctx, "k")
	require.NoError(t, err)

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		u, err := store.Lock(ctx, "k")
		if err != nil {
			return
		}
		acquired.Store(true)
		u()
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, acquired.Load(), "second Lock must wait")

	unlock()
	unlock()
	<-done
	assert.True(t, acquired.Load())

	store.lockMu.Lock()
	assert.Empty(t, store.locks, "released locks are dropped")
	store.lockMu.Unlock()
}

// Race Test
func TestMemoryStore_ThreadSafety(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := New(NewMemoryStore())
	require.NoError(t, err)
	l.MustConfigure("fw", HandleConfig{Threshold: 100, Interval: time.Hour})
	l.MustConfigure("lb", HandleConfig{Threshold: 100, Interval: time.Hour, Strategy: LeakyBucket})

	for _, handle := range []string{"fw", "lb"} {
		t.Run(handle, func(t *testing.T) {
			var admitted atomic.Int64
			g, gctx := errgroup.WithContext(ctx)
			for range 150 {
				g.Go(func() error {
					throttled, err := l.Throttle(gctx, handle, WithKey("user_1"))
					if err != nil {
						return err
					}
					if !throttled {
						admitted.Add(1)
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			assert.Equal(t, int64(100), admitted.Load())
			n, err := l.Count(ctx, handle, WithKey("user_1"))
			require.NoError(t, err)
			assert.Equal(t, int64(100), n)
		})
	}
}

func BenchmarkLimiter_Throttle_Memory(b *testing.B) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, _ := New(NewMemoryStore())
	l.MustConfigure("bench", HandleConfig{Threshold: 1 << 40, Interval: time.Hour})

	i := 0
	for b.Loop() {
		_, _ = l.Throttle(ctx, "bench", WithKey(fmt.Sprint(i%64)))
		i++
	}
}

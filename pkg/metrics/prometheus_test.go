package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manenim/throttler/pkg/limiter"
)

func TestNewRecorder(t *testing.T) {
	_, err := NewRecorder(nil, "")
	require.Error(t, err)

	reg := prometheus.NewRegistry()
	_, err = NewRecorder(reg, "app")
	require.NoError(t, err)

	_, err = NewRecorder(reg, "app")
	assert.Error(t, err, "registering twice must fail")
}

func TestRecorder_WithLimiter(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	rec, err := NewRecorder(reg, "")
	require.NoError(t, err)

	l, err := limiter.New(limiter.NewMemoryStore(), limiter.WithRecorder(rec))
	require.NoError(t, err)
	l.MustConfigure("login", limiter.HandleConfig{Threshold: 1, Interval: time.Minute})

	_, err = l.Enforce(ctx, "login")
	require.NoError(t, err)
	_, err = l.Enforce(ctx, "login")
	require.True(t, limiter.IsRateLimited(err))

	assert.Equal(t, float64(2), testutil.ToFloat64(rec.calls.WithLabelValues("login", "fixed_window", "enforce")))
	assert.Equal(t, float64(1), testutil.ToFloat64(rec.throttled.WithLabelValues("login", "fixed_window", "")))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.latency))

	expected := `
# HELP throttle_throttled_total Calls rejected because the handle was at its threshold.
# TYPE throttle_throttled_total counter
throttle_throttled_total{handle="login",op="",strategy="fixed_window"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "throttle_throttled_total"))
}

func TestRecorder_IgnoresUnknownNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewRecorder(reg, "")
	require.NoError(t, err)

	rec.Add("something.else", 1, nil)
	rec.Observe("something.else", 1, nil)

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, n)
}

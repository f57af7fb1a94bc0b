package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manenim/throttler/pkg/limiter"
	"github.com/manenim/throttler/pkg/metrics"
)

func newTestServer(t *testing.T) (http.Handler, *limiter.Limiter) {
	t.Helper()
	cli := &CLI{}
	cfg, err := cli.loadConfig()
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg, cfg.Metrics.Namespace)
	require.NoError(t, err)

	l, err := newLimiter(cfg, limiter.NewMemoryStore(), zerolog.Nop(), limiter.WithRecorder(rec))
	require.NoError(t, err)
	return newRouter(l, cfg, reg, zerolog.Nop()), l
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := (&CLI{LogLevel: "debug"}).loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Contains(t, cfg.Handles, "ping")
	assert.Contains(t, cfg.Handles, "login")

	_, err = (&CLI{LogFormat: "xml"}).loadConfig()
	assert.Error(t, err)
}

func TestRouter_Login(t *testing.T) {
	h, _ := newTestServer(t)

	post := func(user string) int {
		form := url.Values{"username": {user}}
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for range 5 {
		require.Equal(t, http.StatusOK, post("alice"))
	}
	assert.Equal(t, http.StatusTooManyRequests, post("alice"))
	assert.Equal(t, http.StatusOK, post("bob"))
}

func TestRouter_HandleStatusAndReset(t *testing.T) {
	h, l := newTestServer(t)
	ctx := context.Background()

	for range 3 {
		_, err := l.Enforce(ctx, "login", limiter.WithKey("carol"))
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/handles/login?key=carol", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status handleStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, int64(3), status.Count)
	assert.Equal(t, int64(5), status.Threshold)
	assert.Equal(t, "fixed_window", status.Strategy)
	assert.False(t, status.Throttled)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/handles/login?key=carol", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	n, err := l.Count(ctx, "login", limiter.WithKey("carol"))
	require.NoError(t, err)
	assert.Zero(t, n)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/handles/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_Metrics(t *testing.T) {
	h, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `throttle_calls_total{handle="ping",op="enforce",strategy="leaky_bucket"} 1`)
}

func TestSimulate(t *testing.T) {
	cfg, err := (&CLI{}).loadConfig()
	require.NoError(t, err)
	l, err := newLimiter(cfg, limiter.NewMemoryStore(), zerolog.Nop())
	require.NoError(t, err)

	cmd := &SimulateCmd{Handle: "login", Key: []string{"dave"}, Calls: 7, Rate: 1000, Burst: 7, Reset: true}
	var out bytes.Buffer
	res, err := cmd.simulate(context.Background(), l, &out)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Admitted)
	assert.Equal(t, 2, res.Throttled)
	assert.Equal(t, 7, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), "throttled")

	_, err = (&SimulateCmd{Handle: "missing", Calls: 1, Rate: 1}).simulate(context.Background(), l, &out)
	assert.ErrorIs(t, err, limiter.ErrUnknownHandle)
}

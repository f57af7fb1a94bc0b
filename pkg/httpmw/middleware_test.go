package httpmw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manenim/throttler/pkg/limiter"
)

type brokenStore struct{}

func (brokenStore) Read(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store down")
}
func (brokenStore) Write(context.Context, string, []byte) error { return errors.New("store down") }

func newRouter(t *testing.T, store limiter.Store, opts Options) http.Handler {
	t.Helper()
	l, err := limiter.New(store)
	require.NoError(t, err)
	l.MustConfigure("ping", limiter.HandleConfig{Threshold: 2, Interval: time.Minute})

	r := chi.NewRouter()
	r.With(Middleware(l, "ping", opts)).Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Pong!\n"))
	})
	return r
}

func get(h http.Handler, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	h := newRouter(t, limiter.NewMemoryStore(), Options{})

	rec := get(h, "10.0.0.1:1234", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	rec = get(h, "10.0.0.1:5678", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = get(h, "10.0.0.1:1234", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"Too Many Requests"}`, rec.Body.String())

	retry := rec.Header().Get("Retry-After")
	require.NotEmpty(t, retry)
	assert.NotEqual(t, "0", retry)

	rec = get(h, "10.0.0.2:1234", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "other clients are unaffected")
}

func TestMiddleware_KeyHeader(t *testing.T) {
	h := newRouter(t, limiter.NewMemoryStore(), Options{KeyHeader: "X-API-Key"})
	key := http.Header{"X-Api-Key": {"abc"}}

	for range 2 {
		require.Equal(t, http.StatusOK, get(h, "10.0.0.1:1", key).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, get(h, "10.0.0.9:1", key).Code)
	assert.Equal(t, http.StatusOK, get(h, "10.0.0.9:1", nil).Code)
}

func TestMiddleware_StoreFailure(t *testing.T) {
	t.Run("fail closed", func(t *testing.T) {
		h := newRouter(t, brokenStore{}, Options{})
		rec := get(h, "10.0.0.1:1", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("fail open", func(t *testing.T) {
		h := newRouter(t, brokenStore{}, Options{FailOpen: true})
		rec := get(h, "10.0.0.1:1", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Pong!\n", rec.Body.String())
	})
}

func TestDefaultKeyFunc(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		trust   bool
		headers http.Header
		remote  string
		want    []string
	}{
		{"remote addr", "", false, nil, "192.0.2.1:4000", []string{"192.0.2.1"}},
		{"remote addr without port", "", false, nil, "192.0.2.1", []string{"192.0.2.1"}},
		{"untrusted forwarded for", "", false, http.Header{"X-Forwarded-For": {"203.0.113.5"}}, "192.0.2.1:1", []string{"192.0.2.1"}},
		{"trusted forwarded for", "", true, http.Header{"X-Forwarded-For": {"203.0.113.5, 10.0.0.1"}}, "192.0.2.1:1", []string{"203.0.113.5"}},
		{"header wins", "X-User", true, http.Header{"X-User": {"u1"}, "X-Forwarded-For": {"203.0.113.5"}}, "192.0.2.1:1", []string{"u1"}},
		{"empty header falls through", "X-User", false, nil, "192.0.2.1:1", []string{"192.0.2.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header[k] = v
			}
			assert.Equal(t, tt.want, DefaultKeyFunc(tt.header, tt.trust)(req))
		})
	}
}

func TestRetrySeconds(t *testing.T) {
	assert.Equal(t, 1, retrySeconds(0))
	assert.Equal(t, 1, retrySeconds(0.2))
	assert.Equal(t, 2, retrySeconds(1.01))
}

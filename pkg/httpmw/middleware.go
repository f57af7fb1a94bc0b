// Package httpmw adapts a limiter.Limiter to net/http middleware.
package httpmw

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/manenim/throttler/pkg/limiter"
)

// KeyFunc derives the throttle key for a request. Returning nil throttles
// all requests for the handle together.
type KeyFunc func(r *http.Request) []string

type Options struct {
	// KeyFunc overrides the default key derivation.
	KeyFunc KeyFunc
	// KeyHeader, when set, is tried before the client address.
	KeyHeader string
	// TrustForwardedFor uses the first X-Forwarded-For entry as the client
	// address. Only enable it behind a proxy that sets the header.
	TrustForwardedFor bool
	// FailOpen admits requests when the limiter fails. The default answers
	// 500.
	FailOpen bool
}

// DefaultKeyFunc keys requests by header (when named), then X-Forwarded-For
// (when trusted), then the host part of RemoteAddr.
func DefaultKeyFunc(header string, trustForwardedFor bool) KeyFunc {
	return func(r *http.Request) []string {
		if header != "" {
			if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
				return []string{v}
			}
		}
		if trustForwardedFor {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return []string{ip}
				}
			}
		}
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return []string{host}
		}
		return []string{r.RemoteAddr}
	}
}

// Middleware enforces handle on every request. Admitted requests carry
// X-RateLimit-Limit and X-RateLimit-Remaining; throttled requests get 429
// with Retry-After in whole seconds.
func Middleware(l *limiter.Limiter, handle string, opts Options) func(http.Handler) http.Handler {
	keyFn := opts.KeyFunc
	if keyFn == nil {
		keyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustForwardedFor)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			zlog := zerolog.Ctx(ctx)
			key := limiter.WithKey(keyFn(r)...)

			count, err := l.Enforce(ctx, handle, key)
			if rle, ok := limiter.AsRateLimited(err); ok {
				retry, rerr := l.RetryAfter(ctx, handle, key)
				if rerr != nil {
					zlog.Err(rerr).Str("handle", handle).Msg("Can't compute Retry-After")
				}
				w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retry.Seconds())))
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rle.Threshold, 10))
				w.Header().Set("X-RateLimit-Remaining", "0")
				writeError(w, http.StatusTooManyRequests, "Too Many Requests")
				return
			}
			if err != nil {
				zlog.Err(err).Str("handle", handle).Bool("fail_open", opts.FailOpen).Msg("Rate limiter failed")
				if opts.FailOpen {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusInternalServerError, "Internal Server Error")
				return
			}

			if eff, err := l.Resolve(handle, key); err == nil && !limiter.IsDisabled(ctx) {
				limit := eff.Capacity()
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(limit-count, 0), 10))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retrySeconds(s float64) int {
	return max(int(math.Ceil(s)), 1)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/manenim/throttler/pkg/config"
	"github.com/manenim/throttler/pkg/httpmw"
	"github.com/manenim/throttler/pkg/limiter"
	"github.com/manenim/throttler/pkg/metrics"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Addr string `help:"Listen address. Overrides the config file."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(cfg.Store, log)
	if err != nil {
		return err
	}
	defer b.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var opts []limiter.Option
	if cfg.Metrics.IsEnabled() {
		rec, err := metrics.NewRecorder(reg, cfg.Metrics.Namespace)
		if err != nil {
			return err
		}
		opts = append(opts, limiter.WithRecorder(rec))
	}

	l, err := newLimiter(cfg, b.store, log, opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(l, cfg, reg, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Strs("handles", l.Handles()).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if b.sweep != nil {
		g.Go(func() error { return b.sweep(gctx) })
	}
	return g.Wait()
}

func newRouter(l *limiter.Limiter, cfg *config.Config, reg *prometheus.Registry, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(loggerInjector(log))
	r.Use(middleware.Recoverer)

	mw := func(handle string) func(http.Handler) http.Handler {
		return httpmw.Middleware(l, handle, httpmw.Options{
			KeyHeader:         cfg.Server.KeyHeader,
			TrustForwardedFor: cfg.Server.TrustForwardedFor,
			FailOpen:          cfg.Server.FailOpen,
		})
	}

	if _, ok := l.HandleConfig("ping"); ok {
		r.With(mw("ping")).Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("Pong!\n"))
		})
	}
	if _, ok := l.HandleConfig("login"); ok {
		loginKey := func(r *http.Request) []string {
			return []string{r.FormValue("username")}
		}
		r.With(httpmw.Middleware(l, "login", httpmw.Options{KeyFunc: loginKey, FailOpen: cfg.Server.FailOpen})).
			Post("/login", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			})
	}

	r.Route("/handles/{handle}", func(r chi.Router) {
		r.Get("/", handleStatus(l))
		r.Delete("/", handleReset(l))
	})

	if cfg.Metrics.IsEnabled() {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	return r
}

// loggerInjector attaches a request-scoped logger to the context.
func loggerInjector(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			zlog := log.With().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()
			next.ServeHTTP(w, r.WithContext(zlog.WithContext(r.Context())))
		})
	}
}

type handleStatusResponse struct {
	Handle     string   `json:"handle"`
	Key        []string `json:"key,omitempty"`
	Strategy   string   `json:"strategy"`
	Threshold  int64    `json:"threshold"`
	Count      int64    `json:"count"`
	Throttled  bool     `json:"throttled"`
	RetryAfter float64  `json:"retry_after_seconds"`
}

func handleStatus(l *limiter.Limiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		handle := chi.URLParam(r, "handle")
		opts := keyOptions(r)

		eff, err := l.Resolve(handle, opts...)
		if err != nil {
			writeLimiterError(w, r, err)
			return
		}
		count, err := l.Count(ctx, handle, opts...)
		if err != nil {
			writeLimiterError(w, r, err)
			return
		}
		throttled, err := l.Throttled(ctx, handle, opts...)
		if err != nil {
			writeLimiterError(w, r, err)
			return
		}
		retry, err := l.RetryAfter(ctx, handle, opts...)
		if err != nil {
			writeLimiterError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, handleStatusResponse{
			Handle:     handle,
			Key:        eff.Key,
			Strategy:   string(eff.Strategy),
			Threshold:  eff.Capacity(),
			Count:      count,
			Throttled:  throttled,
			RetryAfter: retry.Seconds(),
		})
	}
}

func handleReset(l *limiter.Limiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := l.Reset(r.Context(), chi.URLParam(r, "handle"), keyOptions(r)...); err != nil {
			writeLimiterError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// keyOptions reads repeated ?key= query parameters as a composite key.
func keyOptions(r *http.Request) []limiter.CallOption {
	if parts := r.URL.Query()["key"]; len(parts) > 0 {
		return []limiter.CallOption{limiter.WithKey(parts...)}
	}
	return nil
}

func writeLimiterError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, limiter.ErrUnknownHandle):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, limiter.ErrInvalidConfig):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		zerolog.Ctx(r.Context()).Err(err).Msg("Limiter query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

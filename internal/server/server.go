// internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"libracirc/internal/httpjson"
)

const shutdownTimeout = 10 * time.Second

// Mounter registers a handler's routes under the API prefix.
type Mounter interface {
	Routes(r chi.Router)
}

// Options configures the router. Metrics and Health are optional.
type Options struct {
	Logger         *slog.Logger
	Metrics        func(http.Handler) http.Handler
	MetricsHandler http.Handler
	Health         func(ctx context.Context) error
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter builds the HTTP surface: the JSON API under /api/v1 plus the
// health and metrics endpoints at the root.
func NewRouter(opts Options, mounts ...Mounter) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.Metrics != nil {
		r.Use(opts.Metrics)
	}
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler(opts.Health))
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimitRPS), opts.RateLimitBurst)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limitWrites(limiter))
		for _, m := range mounts {
			m.Routes(r)
		}
	})
	return r
}

// limitWrites throttles mutating requests. Reads are never limited.
func limitWrites(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
			default:
				if !limiter.Allow() {
					w.Header().Set("Retry-After", "1")
					httpjson.Write(w, http.StatusTooManyRequests, httpjson.ErrorBody{
						Error: "rate limit exceeded",
						Code:  "rate_limited",
					})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func healthHandler(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				httpjson.Write(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		httpjson.Write(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Serve runs srv until ctx is cancelled, then drains in-flight requests.
func Serve(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

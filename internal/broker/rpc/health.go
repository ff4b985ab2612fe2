package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gcp-broker/tokenbroker/internal/broker/metrics"
	"github.com/gcp-broker/tokenbroker/internal/logger"
)

// HealthChecker reports whether the broker's dependencies (session store,
// remote cache, KMS) are reachable. Implementations are expected to probe
// cheaply and return quickly — Readiness is on the liveness-probe path.
type HealthChecker interface {
	Ready(ctx context.Context) error
}

// NewHealthRouter builds the secondary HTTP surface (health probes) the
// broker exposes alongside its primary gRPC listener. checker may be nil,
// in which case /health/ready always reports healthy.
func NewHealthRouter(checker HealthChecker) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLoggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/health", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
			if checker == nil {
				w.WriteHeader(http.StatusOK)
				return
			}
			if err := checker.Ready(r.Context()); err != nil {
				logger.Error("readiness check failed", logger.Err(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
	})

	return r
}

// isHealthPath reports whether path is a healthcheck endpoint, so
// requestLoggerMiddleware can keep them out of INFO-level noise.
func isHealthPath(path string) bool {
	return path == "/health" || len(path) > len("/health/") && path[:len("/health/")] == "/health/"
}

// requestLoggerMiddleware mirrors a custom requestLogger:
// DEBUG on start, DEBUG for healthcheck completions, INFO otherwise.
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("health request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		}
		if isHealthPath(r.URL.Path) {
			logger.Debug("health request completed", logArgs...)
		} else {
			logger.Info("health request completed", logArgs...)
		}
	})
}

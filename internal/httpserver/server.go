// Package httpserver exposes the process's ops surface: health checks and
// Prometheus metrics. It does not expose any domain REST API — the admin
// front end and its endpoints are out of scope for this core.
package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hypoth/edi835/internal/telemetry"
)

// Server is the thin ops HTTP surface mounted alongside the worker
// pipeline.
type Server struct {
	Router  chi.Router
	Logger  *slog.Logger
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Metrics *prometheus.Registry
}

// New builds the ops server with healthz/readyz/metrics routes.
func New(db *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger, metrics *prometheus.Registry) *Server {
	s := &Server{
		Router:  chi.NewRouter(),
		Logger:  logger,
		DB:      db,
		Redis:   rdb,
		Metrics: metrics,
	}

	s.Router.Use(middleware.RequestID)
	s.Router.Use(httpLogger(logger))
	s.Router.Use(httpMetrics())
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))

	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		respond(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
		return
	}
	if err := s.Redis.Ping(ctx).Err(); err != nil {
		respond(w, http.StatusServiceUnavailable, map[string]string{"status": "redis unavailable"})
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func httpLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func httpMetrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			routePattern := chi.RouteContext(r.Context()).RoutePattern()
			if routePattern == "" {
				routePattern = r.URL.Path
			}
			telemetry.HTTPRequestDuration.WithLabelValues(
				routePattern, r.Method, http.StatusText(ww.Status()),
			).Observe(time.Since(start).Seconds())
		})
	}
}

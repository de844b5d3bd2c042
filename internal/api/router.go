package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/finsight-bot/finsight/internal/database"
	mw "github.com/finsight-bot/finsight/internal/middleware"
)

// RouterConfig holds the middleware hooks injected from main.
type RouterConfig struct {
	CORSAllowedOrigins []string
	Guard              func(http.Handler) http.Handler
	Admin              func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, rdb *redis.Client, cfg RouterConfig, h *Handler) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(chimw.Recoverer)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "X-API-Key"},
	}))

	// Liveness probe — always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe — checks DB and Redis
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"redis":    "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if rdb != nil {
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				health["redis"] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
			}
		} else {
			health["redis"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Guard != nil {
			r.Use(cfg.Guard)
		}

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/check", h.Check)
			r.Post("/refund", h.Refund)
			r.Get("/status", h.Status)

			// Admin-gated subscription management
			r.Group(func(r chi.Router) {
				if cfg.Admin != nil {
					r.Use(cfg.Admin)
				}
				r.Post("/upgrade", h.Upgrade)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			if cfg.Admin != nil {
				r.Use(cfg.Admin)
			}
			r.Post("/cleanup", h.Cleanup)
		})
	})

	return r
}

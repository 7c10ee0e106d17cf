package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/aiox-platform/genstudio/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Auth handlers
	Register http.HandlerFunc
	Login    http.HandlerFunc
	Refresh  http.HandlerFunc
	Logout   http.HandlerFunc

	// Generation handlers
	CreateGeneration http.HandlerFunc
	GetGeneration    http.HandlerFunc
	ListModels       http.HandlerFunc
	GetQuota         http.HandlerFunc

	// History handlers
	ListHistory   http.HandlerFunc
	ClearHistory  http.HandlerFunc
	DeleteHistory http.HandlerFunc

	// Account handlers
	GetAccount   http.HandlerFunc
	ListActivity http.HandlerFunc // nil when the activity log is disabled

	// Blob serving, nil when images are returned inline
	ServeFile http.HandlerFunc

	// AuthMiddleware requires a bearer token.
	AuthMiddleware func(http.Handler) http.Handler
	// OptionalAuthMiddleware attaches claims when a valid token is present
	// and lets guests through.
	OptionalAuthMiddleware func(http.Handler) http.Handler
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins  []string
	AuthRateLimiter     func(http.Handler) http.Handler
	GenerateRateLimiter func(http.Handler) http.Handler
	// ReadinessChecks maps a dependency name to its health check.
	ReadinessChecks map[string]ReadinessCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readiness := readinessHandler(cfg.ReadinessChecks)
	r.Get("/health/ready", readiness)
	r.Get("/health", readiness)

	r.Handle("/metrics", promhttp.Handler())

	if h.ServeFile != nil {
		r.Get("/files/*", h.ServeFile)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			if cfg.AuthRateLimiter != nil {
				r.Use(cfg.AuthRateLimiter)
			}
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(h.AuthMiddleware)
				r.Post("/logout", h.Logout)
			})
		})

		r.Get("/models", h.ListModels)

		// Guests and accounts
		r.Group(func(r chi.Router) {
			r.Use(h.OptionalAuthMiddleware)

			r.Route("/generations", func(r chi.Router) {
				r.With(optional(cfg.GenerateRateLimiter)).Post("/", h.CreateGeneration)
				r.Get("/{taskID}", h.GetGeneration)
			})

			r.Get("/quota", h.GetQuota)

			r.Route("/history", func(r chi.Router) {
				r.Get("/", h.ListHistory)
				r.Delete("/", h.ClearHistory)
				r.Delete("/{recordID}", h.DeleteHistory)
			})
		})

		// Accounts only
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Get("/account", h.GetAccount)
			if h.ListActivity != nil {
				r.Get("/activity", h.ListActivity)
			}
		})
	})

	return r
}

func optional(m func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return m
}

func readinessHandler(checks map[string]ReadinessCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		health := map[string]string{"status": "healthy"}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				health[name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			health[name] = "healthy"
		}

		JSON(w, status, health)
	}
}

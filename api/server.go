/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontend
  6. Auth:       Bearer token on /api/* when enabled

ROUTE GROUPS:
  /health               Liveness
  /metrics              Prometheus metrics
  /api/objectives/*     Objectives, their tasks and evaluation
  /api/incentives/*     Incentive definitions
  /api/tasks/*          Tasks
  /api/settlements/*    Settlements (run is admin only)
  /api/scenarios/*      Bundled scenarios (load is admin only)

SECURITY NOTE:
  With auth disabled every endpoint is public, admin ones included. Enable
  auth.enabled and set auth.jwt_secret outside local development.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token validation and role checks
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Auth           *Authenticator // nil disables authentication
	AdminRole      string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if opts.AdminRole == "" {
		opts.AdminRole = "ADMIN"
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	admin := func(r chi.Router) chi.Router {
		if opts.Auth == nil {
			return r
		}
		return r.With(RequireRole(opts.AdminRole))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth.Middleware)
		}

		// Objective routes
		r.Route("/objectives", func(r chi.Router) {
			r.Get("/", h.ListObjectives)
			r.Post("/", h.CreateObjective)
			r.Get("/{id}", h.GetObjective)
			r.Delete("/{id}", h.DeleteObjective)
			r.Get("/{id}/tasks", h.ListObjectiveTasks)
			r.Get("/{id}/evaluation", h.GetEvaluation)
			r.Get("/{id}/report", h.GetReport)
		})

		// Incentive routes
		r.Route("/incentives", func(r chi.Router) {
			r.Get("/", h.ListIncentives)
			r.Post("/", h.CreateIncentive)
			r.Get("/{id}", h.GetIncentive)
			r.Delete("/{id}", h.DeleteIncentive)
		})

		// Task routes
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", h.CreateTask)
			r.Get("/{id}", h.GetTask)
			r.Put("/{id}/completed", h.SetTaskCompleted)
			r.Delete("/{id}", h.DeleteTask)
		})

		// Settlement routes
		r.Route("/settlements", func(r chi.Router) {
			r.Get("/", h.ListSettlements)
			admin(r).Post("/run", h.RunSettlements)
			r.Get("/{id}", h.GetSettlement)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			admin(r).Post("/load", h.LoadScenario)
		})
	})

	return r
}

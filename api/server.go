/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, also copied into audit entries
  2. Logger:     zap access log (method, path, status, duration, request id)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/payroll/compensations/*   Compensation intervals
  /api/payroll/runs/*            Preview, generation, state machine
  /api/payroll/audit             Audit trail
  /api/scenarios/*               Demo scenarios (demo mode only)
  /healthz                       Store and lock backend reachability
  /metrics                       Prometheus

TENANCY:
  The org comes from the X-Org-Id header (default 1) and the acting user
  from X-User-Id. Authentication is done upstream.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.logger()))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderOrgID, HeaderUserID},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}

	r.Route("/api/payroll", func(r chi.Router) {
		r.Use(withRequestID)

		r.Route("/compensations", func(r chi.Router) {
			r.Post("/", h.CreateCompensation)
			r.Get("/", h.CompensationHistory)
			r.Get("/effective", h.GetEffectiveCompensation)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListPayrollRuns)
			r.Get("/preview", h.PreviewMonthlyPayroll)
			r.Post("/generate", h.GeneratePayrollRun)
			r.Post("/generate-batch", h.GenerateBatch)
			r.Get("/{id}", h.GetPayrollRun)
			r.Patch("/{id}", h.UpdatePayrollRunStatus)
		})

		r.Get("/audit", h.AuditTrail)
	})

	if h.Directory != nil {
		r.Route("/api/scenarios", func(r chi.Router) {
			r.Use(withRequestID)
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	}

	return r
}

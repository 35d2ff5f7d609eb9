/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For
  3. Logger:     zap access log (logging.Middleware)
  4. Metrics:    Prometheus request histogram (metrics.Middleware)
  5. Recoverer:  Panic recovery (500 instead of crash)
  6. CORS:       Cross-origin requests for frontend
  7. Identity:   X-Staff-ID / X-Site-ID / X-Role into the context

ROUTE GROUPS:
  /api/staff/*          Staff, patterns, entitlements, balances, history
  /api/requests/*       Approval workflow
  /api/admin/*          Rollover (manual and scheduled), legacy import
  /api/scenarios/*      Demo scenarios (disabled in production)
  /healthz              Liveness + database ping
  /metrics              Prometheus

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/holiday-engine/logging"
	"github.com/warp/holiday-engine/metrics"
)

// RouterOptions configures the outer surface.
type RouterOptions struct {
	AllowedOrigins  []string
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(opts.Logger))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderStaffID, HeaderSiteID, HeaderRole},
		AllowCredentials: true,
	}))
	r.Use(IdentityMiddleware)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", opts.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/staff", func(r chi.Router) {
			r.Get("/", h.ListStaff)
			r.Get("/{id}", h.GetStaff)
			r.Put("/{id}", h.ProvisionStaff)
			r.Get("/{id}/pattern", h.GetPattern)
			r.Put("/{id}/pattern", h.SetPattern)
			r.Put("/{id}/entitlements/{year}", h.SetEntitlement)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/requests", h.ListStaffRequests)
			r.Post("/{id}/requests", h.SubmitRequest)
		})

		r.Route("/requests", func(r chi.Router) {
			r.Get("/pending", h.ListPendingRequests)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/rollover", h.TriggerRollover)
			r.Get("/rollover/schedule", h.GetRolloverSchedule)
			r.Post("/rollover/run", h.RunRolloverSchedule)
			r.Post("/import", h.ImportWorkbook)
		})

		if opts.EnableScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})

	return r
}

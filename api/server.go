/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests, origins from CORS_ORIGINS

ROUTE GROUPS:
  /api/contracts/*   Inbound contracts, first bill
  /api/services/*    Inbound services and prices
  /api/readings      Inbound meter readings
  /api/bills/*       Generation, snapshots, payments
  /api/payments/*    Gateway confirmations
  /api/admin/*       Bulk generation, deletion
  /api/scheduler/*   On-demand lifecycle runs
  /api/scenarios/*   Demo scenarios
  /healthz           Liveness

SECURITY NOTE:
  No authentication middleware. Deploy behind a gateway that authenticates
  operators and verifies payment gateway signatures.

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
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Inbound records
		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.UpsertContract)
			r.Get("/{id}", h.GetContract)
			r.Post("/{id}/first-bill", h.GenerateFirstBill)
		})
		r.Route("/services", func(r chi.Router) {
			r.Post("/", h.UpsertService)
			r.Post("/{id}/prices", h.AddServicePrice)
		})
		r.Post("/readings", h.RecordReading)

		// Bill routes
		r.Route("/bills", func(r chi.Router) {
			r.Get("/", h.ListBills)
			r.Post("/", h.GenerateBill)
			r.Get("/{id}", h.GetBill)
			r.Get("/{id}/interest", h.GetInterest)
			r.Get("/{id}/verify", h.VerifyBill)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.ApplyPayment)
			r.Patch("/{id}/payments/{number}", h.AttachTransaction)
		})

		r.Post("/payments/confirm", h.ConfirmPayment)
		r.Get("/policy", h.GetPolicy)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/bills/generate", h.GenerateAll)
			r.Delete("/bills/{id}", h.DeleteBill)
		})

		// Scheduler routes
		r.Route("/scheduler", func(r chi.Router) {
			r.Post("/run", h.RunScheduler)
			r.Get("/runs", h.ListSchedulerRuns)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

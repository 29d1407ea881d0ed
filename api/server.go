/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP from proxy headers
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. zap logger: Structured request logging
  5. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/workers/*    Worker registry, summaries, reconciliation
  /api/debts/*      Debt ledger operations
  /api/payments/*   Payment processing
  /api/interest/*   Standalone interest calculation
  /metrics          Prometheus scrape endpoint
  /healthz          Liveness probe

SECURITY NOTE:
  No authentication middleware. This service runs on a private network
  behind the farm office gateway.

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

	"github.com/sakahan/farm-ledger/observability"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(h.Logger))
	r.Use(observability.RequestMetrics(h.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/workers", func(r chi.Router) {
			r.Post("/", h.CreateWorker)
			r.Get("/{id}", h.GetWorker)
			r.Get("/{id}/debts", h.ListWorkerDebts)
			r.Get("/{id}/payments", h.ListWorkerPayments)
			r.Post("/{id}/reconcile", h.ReconcileWorker)
			r.Get("/{id}/debt-limit", h.CheckDebtLimit)
		})

		r.Route("/debts", func(r chi.Router) {
			r.Post("/", h.CreateDebt)
			r.Get("/{id}", h.GetDebt)
			r.Get("/{id}/history", h.GetDebtHistory)
			r.Post("/{id}/payments", h.ApplyDebtPayment)
			r.Post("/{id}/interest", h.AddDebtInterest)
			r.Post("/{id}/accrue", h.AccrueDebtInterest)
			r.Post("/{id}/adjustments", h.AdjustDebt)
			r.Post("/{id}/reverse", h.ReverseDebtEntry)
			r.Post("/{id}/cancel", h.CancelDebt)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.CreatePayment)
			r.Get("/{id}", h.GetPayment)
			r.Get("/{id}/history", h.GetPaymentHistory)
			r.Put("/{id}/deductions", h.UpdateDeductions)
			r.Post("/{id}/debt-deduction", h.ApplyDebtDeduction)
			r.Post("/{id}/process", h.ProcessPayment)
			r.Post("/{id}/cancel", h.CancelPayment)
		})

		r.Get("/interest/calculate", h.CalculateInterest)
	})

	r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

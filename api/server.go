/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/accounts/*   Account and wallet management
  /api/payments/*   Payment lifecycle
  /api/orders/*     Order-to-payment lookup
  /api/groups/*     Transaction group reads and audits
  /api/fees/*       Fee previews
  /api/scenarios/*  Demo scenario loaders

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/entries", h.GetEntries)
			r.Get("/{id}/status-log", h.GetStatusLog)

			// Admin status transitions (audited)
			r.Post("/{id}/freeze", h.FreezeAccount)
			r.Post("/{id}/unfreeze", h.UnfreezeAccount)
			r.Post("/{id}/suspend", h.SuspendAccount)
			r.Post("/{id}/reinstate", h.ReinstateAccount)
			r.Post("/{id}/close", h.CloseAccount)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.InitiatePayment)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/authorize", h.AuthorizePayment)
			r.Post("/{id}/capture", h.CapturePayment)
			r.Post("/{id}/cancel", h.CancelPayment)
			r.Post("/{id}/fail", h.FailPayment)
			r.Post("/{id}/refund", h.RefundPayment)
		})

		// Order lookup
		r.Get("/orders/{orderID}/payment", h.GetPaymentByOrder)

		// Transaction group routes
		r.Route("/groups", func(r chi.Router) {
			r.Get("/{id}", h.GetGroup)
			r.Get("/{id}/verify", h.VerifyGroup)
		})

		// Fee routes
		r.Post("/fees/quote", h.QuoteFee)

		// Demo scenario routes (development/demo only)
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	// Liveness probe
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

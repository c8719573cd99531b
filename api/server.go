/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/individuals/*   Borrowers, their loans, entries and savings
  /api/admin/*         Mass operations (undoable)
  /api/undo, /api/redo Command layer
  /api/scenarios/*     Demo data loaders (development only)
  /metrics             Prometheus scrape endpoint
  /healthz             Liveness probe

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/individuals", func(r chi.Router) {
			r.Get("/", h.ListIndividuals)
			r.Post("/", h.CreateIndividual)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetIndividual)
				r.Put("/", h.UpdateIndividual)
				r.Delete("/", h.DeleteIndividual)
				r.Get("/summary", h.GetSummary)
				r.Post("/recalculate", h.Recalculate)

				r.Route("/loans", func(r chi.Router) {
					r.Get("/", h.ListLoans)
					r.Post("/", h.IssueLoan)

					r.Route("/{ref}", func(r chi.Router) {
						r.Get("/", h.GetLoan)
						r.Delete("/", h.DeleteLoan)
						r.Post("/topup", h.TopUpLoan)
						r.Post("/restructure", h.RestructureLoan)
						r.Post("/buyoff", h.BuyoffLoan)
						r.Post("/deduct", h.DeductLoan)
						r.Post("/catchup", h.CatchUpLoan)
					})
				})

				r.Route("/entries", func(r chi.Router) {
					r.Get("/", h.ListEntries)
					r.Put("/{entryID}", h.EditEntry)
					r.Delete("/{entryID}", h.DeleteEntry)
					r.Put("/{entryID}/amount", h.UpdateRepaymentAmount)
				})

				r.Route("/savings", func(r chi.Router) {
					r.Get("/", h.ListSavings)
					r.Post("/deposit", h.Deposit)
					r.Post("/withdraw", h.Withdraw)
					r.Post("/catchup", h.SavingsCatchUp)
				})
			})
		})

		// Mass operations (undoable)
		r.Route("/admin", func(r chi.Router) {
			r.Post("/catchup", h.MassCatchUp)
			r.Post("/savings-catchup", h.MassSavingsCatchUp)
		})

		// Command layer
		r.Get("/undo/state", h.UndoState)
		r.Post("/undo", h.UndoLast)
		r.Post("/redo", h.RedoLast)

		// Demo scenarios (development only)
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	// Observability
	r.Handle("/metrics", promhttp.HandlerFor(h.Metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

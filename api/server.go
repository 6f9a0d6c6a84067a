/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind the gateway
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the dashboards
  6. Identity:   Caller role extraction onto the request context

ROUTE GROUPS:
  /api/accounts/*    Account resolution, registration, ledger operations
  /api/rates         Conversion rate configuration
  /api/clinics/*     Clinic directory and daily reports
  /api/promotions    Promotional campaigns
  /api/admin/*       Dashboard stats and member list
  /healthz           Liveness probe

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
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Subject-ID", "X-Role", "X-Clinic-ID"},
		AllowCredentials: true,
	}))
	r.Use(identityMiddleware(h.Identity))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/resolve", h.ResolveAccount)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/history", h.GetHistory)
			r.Post("/{id}/award", h.Award)
			r.Post("/{id}/redeem", h.Redeem)
		})

		// Rate routes
		r.Route("/rates", func(r chi.Router) {
			r.Get("/", h.GetRates)
			r.Put("/", h.UpdateRates)
			r.Get("/history", h.GetRateHistory)
		})

		// Clinic routes
		r.Route("/clinics", func(r chi.Router) {
			r.Get("/", h.ListClinics)
			r.Post("/", h.SaveClinic)
			r.Get("/{id}", h.GetClinic)
			r.Get("/{id}/daily", h.GetDailyReport)
		})

		// Promotion routes
		r.Route("/promotions", func(r chi.Router) {
			r.Get("/", h.ListPromotions)
			r.Post("/", h.SavePromotion)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/stats", h.GetStats)
			r.Get("/accounts", h.ListAccounts)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

// identityMiddleware places the caller identity on the request context
// before any handler runs.
func identityMiddleware(provider IdentityProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithIdentity(r.Context(), provider.Identify(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

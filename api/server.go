/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. requestLogger: One zap line per request
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Origins from CORS_ALLOWED_ORIGINS

ROUTE GROUPS:
  /api/healthz, /api/waste-types   Public
  /api/me/*                        The caller's balance, ledger, redemptions,
                                   pickups and purchases
  /api/rewards/*                   Catalog and redemption
  /api/pickups/*                   Scheduling; start/complete need driver|admin
  /api/utilities/*, /purchases/*   Eco-store
  /api/assistant/messages          Scripted assistant
  /api/admin/*                     Catalog management and adjustments (admin)

SECURITY:
  Everything except the public group needs a bearer token (see auth).
  The user id always comes from the token subject, never from the body.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Authenticator and RequireRole
  - cmd/wastewise/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/wastewise/auth"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Public
		r.Get("/healthz", h.Health)
		r.Get("/waste-types", h.ListWasteTypes)

		r.Group(func(r chi.Router) {
			r.Use(Authenticator(h.tokens))

			// Caller routes
			r.Route("/me", func(r chi.Router) {
				r.Get("/balance", h.GetBalance)
				r.Get("/ledger", h.GetLedger)
				r.Get("/dashboard", h.GetDashboard)
				r.Get("/redemptions", h.ListRedemptions)
				r.Post("/redemptions/{code}/use", h.UseRedemption)
				r.Get("/pickups", h.ListPickups)
				r.Get("/purchases", h.ListPurchases)
			})

			// Reward routes
			r.Route("/rewards", func(r chi.Router) {
				r.Get("/", h.ListRewards)
				r.Post("/{id}/redeem", h.RedeemReward)
			})

			// Pickup routes
			r.Route("/pickups", func(r chi.Router) {
				r.Post("/", h.SchedulePickup)
				r.Get("/{id}", h.GetPickup)
				r.Post("/{id}/cancel", h.CancelPickup)
				r.With(RequireRole(auth.RoleDriver, auth.RoleAdmin)).Post("/{id}/start", h.StartPickup)
				r.With(RequireRole(auth.RoleDriver, auth.RoleAdmin)).Post("/{id}/complete", h.CompletePickup)
			})

			// Eco-store routes
			r.Route("/utilities", func(r chi.Router) {
				r.Get("/", h.ListUtilities)
				r.Post("/{id}/purchase", h.PurchaseUtility)
			})
			r.Route("/purchases", func(r chi.Router) {
				r.Post("/{id}/cancel", h.CancelPurchase)
				r.With(RequireRole(auth.RoleAdmin)).Post("/{id}/delivery", h.AdvanceDelivery)
			})

			r.Post("/assistant/messages", h.AssistantMessage)

			// Admin routes
			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireRole(auth.RoleAdmin))
				r.Post("/rewards", h.CreateReward)
				r.Post("/utilities", h.CreateUtility)
				r.Post("/utilities/{id}/availability", h.SetAvailability)
				r.Post("/adjustments", h.CreateAdjustment)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusNotFound, "no such route")
	})

	return r
}

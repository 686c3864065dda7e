package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes configures and returns the Chi router.
func (h *Handler) Routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/nonce", h.handleNonce)
		r.Post("/verify", h.handleVerify)
		r.Post("/verifyAuth", h.handleVerifyAuth)

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Post("/logout", h.handleLogout)
		})
	})

	r.Route("/deals", func(r chi.Router) {
		r.Get("/open-deals", h.handleOpenDeals)
		r.Get("/disputed-deals", h.handleDisputedDeals)
		r.Get("/deal", h.handleDeal)

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/claimed-deal", h.handleClaimedDeal)
			r.Post("/list-tickets", h.handleListTickets)
			r.Post("/claim-deal", h.handleClaimDeal)
			r.Post("/seller-proof", h.handleSellerProof)
			r.Post("/confirm-delivery", h.handleConfirmDelivery)
			r.Post("/complete-deal", h.handleCompleteDeal)
			r.Post("/dispute-deal", h.handleDisputeDeal)

			r.Group(func(r chi.Router) {
				r.Use(h.AdminMiddleware)
				r.Post("/resolve-dispute", h.handleResolveDispute)
			})
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.Post("/info", h.handleUserInfo)

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Post("/add-email", h.handleAddEmail)
			r.Post("/give-rating", h.handleGiveRating)
			r.Post("/my-deals", h.handleMyDeals)
		})
	})

	return r
}

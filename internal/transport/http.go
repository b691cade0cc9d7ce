package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/config"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/handler"
)

// NewRouter wires the HTTP surface: public storefront endpoints, the payment
// provider webhook, and the basic-auth admin group.
func NewRouter(
	paymentHandler *handler.PaymentHandler,
	adminHandler *handler.AdminHandler,
	categoryHandler *handler.CategoryHandler,
	adminCfg config.AdminConfig,
) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/payment", paymentHandler.CreateSession)
		r.Post("/payment-callback", paymentHandler.Callback)
		r.Get("/check-payment-status", paymentHandler.CheckStatus)
		r.Get("/order-success", paymentHandler.OrderSuccess)
		r.Post("/create-order-after-payment", paymentHandler.CreateOrder)
		r.Get("/cart-clearing", paymentHandler.CartClearing)
		r.Get("/categories", categoryHandler.Tree)
		r.Get("/categories/{slug}", categoryHandler.BySlug)

		r.Route("/admin", func(r chi.Router) {
			r.Use(handler.BasicAuth(adminCfg.User, adminCfg.PasswordHash))
			r.Get("/orders", adminHandler.ListOrders)
			r.Get("/orders/stats", adminHandler.Stats)
			r.Get("/orders/{id}/emails", adminHandler.EmailStatus)
			r.Patch("/orders/{id}/status", adminHandler.UpdateStatus)
		})
	})

	return r
}

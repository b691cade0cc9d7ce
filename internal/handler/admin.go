package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/order"
)

// EmailOutbox is the read side of the notification outbox, for checking
// whether an order still has undelivered emails.
type EmailOutbox interface {
	PendingFor(ctx context.Context, orderID string) (int, error)
}

type AdminHandler struct {
	orders   order.Service
	outbox   EmailOutbox
	validate *validator.Validate
}

func NewAdminHandler(orders order.Service, outbox EmailOutbox) *AdminHandler {
	return &AdminHandler{
		orders:   orders,
		outbox:   outbox,
		validate: validator.New(),
	}
}

// BasicAuth gates the admin endpoints. The stored password is a bcrypt hash,
// so a leaked config file does not leak the credential itself.
func BasicAuth(username, passwordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				respondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ListOrders handles GET /api/admin/orders with an optional ?status= filter.
func (h *AdminHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []order.Order
		err    error
	)

	if status := r.URL.Query().Get("status"); status != "" {
		orders, err = h.orders.GetOrdersByStatus(r.Context(), order.Status(status))
	} else {
		orders, err = h.orders.GetAllOrders(r.Context())
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders")
		respondWithError(w, http.StatusInternalServerError, "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "orders": orders})
}

// Stats handles GET /api/admin/orders/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orders.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load order stats")
		respondWithError(w, http.StatusInternalServerError, "Failed to load order stats")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

// EmailStatus handles GET /api/admin/orders/{id}/emails, reporting how many
// outbox records for the order are still awaiting delivery.
func (h *AdminHandler) EmailStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		respondWithError(w, http.StatusBadRequest, "id is required")
		return
	}

	pendingEmails, err := h.outbox.PendingFor(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("Failed to count pending emails")
		respondWithError(w, http.StatusInternalServerError, "Failed to count pending emails")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"orderId":       orderID,
		"pendingEmails": pendingEmails,
	})
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending_payment paid pending confirmed shipped delivered cancelled"`
}

// UpdateStatus handles PATCH /api/admin/orders/{id}/status.
func (h *AdminHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		respondWithError(w, http.StatusBadRequest, "id is required")
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		respondWithValidationError(w, err)
		return
	}

	err := h.orders.UpdateStatus(r.Context(), orderID, order.Status(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			respondWithError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, order.ErrInvalidStatusTransition):
			respondWithError(w, http.StatusConflict, err.Error())
		default:
			log.Error().Err(err).Str("order_id", orderID).Msg("Failed to update order status")
			respondWithError(w, http.StatusInternalServerError, "Failed to update order status")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "orderId": orderID, "status": req.Status})
}

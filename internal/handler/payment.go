package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/order"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/payment"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/pending"
)

type CustomerData struct {
	Name   string `json:"name" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
	Phone  string `json:"phone"`
	City   string `json:"city"`
	Branch string `json:"branch"`
}

type ItemData struct {
	ProductID    string  `json:"productId" validate:"required"`
	ProductName  string  `json:"productName" validate:"required"`
	ProductImage string  `json:"productImage"`
	Category     string  `json:"category"`
	Quantity     int     `json:"quantity" validate:"required,gt=0"`
	Price        float64 `json:"price" validate:"gte=0"`
}

type CreateSessionRequest struct {
	Amount       float64       `json:"amount" validate:"required,gt=0"`
	Description  string        `json:"description" validate:"required"`
	OrderID      string        `json:"orderId" validate:"required"`
	Currency     string        `json:"currency" validate:"omitempty,len=3"`
	CustomerData *CustomerData `json:"customerData" validate:"omitempty"`
	Items        []ItemData    `json:"items" validate:"omitempty,dive"`
}

type CreateOrderRequest struct {
	OrderID       string       `json:"orderId"`
	CustomerData  CustomerData `json:"customerData" validate:"required"`
	Items         []ItemData   `json:"items" validate:"required,min=1,dive"`
	Total         float64      `json:"total" validate:"required,gt=0"`
	PaymentMethod string       `json:"paymentMethod" validate:"omitempty,oneof=online cash_on_delivery"`
}

// CartEvents is the poll side of cart-clearing events.
type CartEvents interface {
	Exists(ctx context.Context, orderID string) (bool, error)
}

type PaymentHandler struct {
	svc      *payment.Service
	orders   order.Service
	cart     CartEvents
	validate *validator.Validate
}

func NewPaymentHandler(svc *payment.Service, orders order.Service, cart CartEvents) *PaymentHandler {
	return &PaymentHandler{
		svc:      svc,
		orders:   orders,
		cart:     cart,
		validate: validator.New(),
	}
}

// CreateSession handles POST /api/payment.
func (h *PaymentHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&req); err != nil {
		log.Error().Err(err).Msg("Failed to decode payment session request")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		respondWithValidationError(w, err)
		return
	}

	sessionReq := payment.SessionRequest{
		Amount:      req.Amount,
		Description: req.Description,
		OrderID:     req.OrderID,
		Currency:    req.Currency,
	}
	if req.CustomerData != nil {
		sessionReq.Customer = &pending.Customer{
			Name:   req.CustomerData.Name,
			Email:  req.CustomerData.Email,
			Phone:  req.CustomerData.Phone,
			City:   req.CustomerData.City,
			Branch: req.CustomerData.Branch,
		}
		sessionReq.Items = toSnapshots(req.Items)
	}

	checkout, err := h.svc.CreateSession(r.Context(), sessionReq)
	if err != nil {
		log.Error().Err(err).Str("order_id", req.OrderID).Msg("Failed to create payment session")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to create payment session")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"data":      checkout.Data,
		"signature": checkout.Signature,
		"orderId":   checkout.OrderID,
	})
}

// Callback handles POST /api/payment-callback, the provider's asynchronous
// server notification. The body is form-encoded (multipart or urlencoded)
// with base64 `data` and `signature` fields.
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if err := parseCallbackForm(r); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid callback body")
		return
	}

	data := r.FormValue("data")
	signature := r.FormValue("signature")

	result, err := h.svc.HandleCallback(r.Context(), data, signature)
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code >= http.StatusInternalServerError {
			log.Error().Err(err).Msg("Callback processing failed")
			respondWithError(w, code, "Failed to process callback")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"orderId":   result.OrderID,
		"created":   result.OrderCreated,
		"duplicate": result.Duplicate,
	})
}

func parseCallbackForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(1 << 20)
	}
	return r.ParseForm()
}

// CartClearing handles GET /api/cart-clearing?orderId=: the client polls this
// to learn its local cart belongs to a paid order and should be emptied.
func (h *PaymentHandler) CartClearing(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		respondWithError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	shouldClear, err := h.cart.Exists(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("Failed to check cart clearing event")
		respondWithError(w, http.StatusInternalServerError, "Failed to check cart clearing event")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "shouldClear": shouldClear})
}

// CheckStatus handles GET /api/check-payment-status?orderId=. A missing order
// is not an error: the client polls this while the callback is in flight.
func (h *PaymentHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		respondWithError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	o, err := h.orders.GetOrderByID(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "exists": false})
			return
		}
		log.Error().Err(err).Str("order_id", orderID).Msg("Failed to check payment status")
		respondWithError(w, http.StatusInternalServerError, "Failed to check payment status")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"exists":  true,
		"order":   o,
	})
}

// OrderSuccess handles GET /api/order-success?orderId=, the projection the
// thank-you page renders.
func (h *PaymentHandler) OrderSuccess(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		respondWithError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	o, err := h.orders.GetOrderByID(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			respondWithError(w, http.StatusNotFound, "Order not found")
			return
		}
		log.Error().Err(err).Str("order_id", orderID).Msg("Failed to load order")
		respondWithError(w, http.StatusInternalServerError, "Failed to load order")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "order": o})
}

// CreateOrder handles POST /api/create-order-after-payment, the cash/manual
// path that persists an order without a provider callback.
func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error().Err(err).Msg("Failed to decode create-order request")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		respondWithValidationError(w, err)
		return
	}

	method := order.PaymentMethod(req.PaymentMethod)
	if method == "" {
		method = order.MethodCashOnDelivery
	}

	orderID, err := h.svc.CreateOrderAfterPayment(r.Context(), payment.CreateOrderRequest{
		OrderID: req.OrderID,
		Customer: pending.Customer{
			Name:   req.CustomerData.Name,
			Email:  req.CustomerData.Email,
			Phone:  req.CustomerData.Phone,
			City:   req.CustomerData.City,
			Branch: req.CustomerData.Branch,
		},
		Items:         toSnapshots(req.Items),
		Total:         req.Total,
		PaymentMethod: method,
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", req.OrderID).Msg("Failed to create order")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to create order")
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]any{"success": true, "orderId": orderID})
}

func toSnapshots(items []ItemData) []pending.ItemSnapshot {
	snapshots := make([]pending.ItemSnapshot, 0, len(items))
	for _, item := range items {
		snapshots = append(snapshots, pending.ItemSnapshot{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductImage: item.ProductImage,
			Category:     item.Category,
			Quantity:     item.Quantity,
			UnitPrice:    item.Price,
		})
	}
	return snapshots
}

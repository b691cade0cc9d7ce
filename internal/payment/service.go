// Package payment drives the order/payment reconciliation flow: staging a
// pending order, building the signed checkout session, and turning the
// provider's asynchronous callback into exactly one paid order with exactly
// one confirmation email.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/liqpay"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/order"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/pending"
)

var (
	ErrInvalidSignature = errors.New("payment: callback signature mismatch")
	ErrMissingFields    = errors.New("payment: callback data and signature are required")
	ErrMissingOrderID   = errors.New("payment: callback payload has no order id")
	ErrMalformedPayload = errors.New("payment: callback payload is malformed")
)

// Gateway is the provider-facing surface: building signed sessions and
// authenticating callbacks. Implemented by liqpay.Client.
type Gateway interface {
	NewCheckout(req liqpay.CheckoutRequest) (*liqpay.Checkout, error)
	Verify(data, signature string) bool
	CallbackSucceeded(p *liqpay.CallbackPayload) bool
}

// PaidTransitions is the subset of the order repository the callback uses for
// the guarded one-shot transitions into paid/failed.
type PaidTransitions interface {
	MarkPaid(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id string) (bool, error)
}

type CartEvents interface {
	Record(ctx context.Context, orderID string) error
}

type Notifier interface {
	OrderConfirmed(ctx context.Context, o *order.Order) error
}

type Service struct {
	gateway     Gateway
	orders      order.Service
	transitions PaidTransitions
	pending     pending.Repository
	cart        CartEvents
	notifier    Notifier
}

func NewService(
	gateway Gateway,
	orders order.Service,
	transitions PaidTransitions,
	pendingRepo pending.Repository,
	cart CartEvents,
	notifier Notifier,
) *Service {
	return &Service{
		gateway:     gateway,
		orders:      orders,
		transitions: transitions,
		pending:     pendingRepo,
		cart:        cart,
		notifier:    notifier,
	}
}

type SessionRequest struct {
	Amount      float64
	Description string
	OrderID     string
	Currency    string
	Customer    *pending.Customer
	Items       []pending.ItemSnapshot
}

// CreateSession stages the cart snapshot for the order id and returns the
// signed checkout the client forwards to the provider.
func (s *Service) CreateSession(ctx context.Context, req SessionRequest) (*liqpay.Checkout, error) {
	if req.Customer != nil && len(req.Items) > 0 {
		po := &pending.PendingOrder{
			OrderID:       req.OrderID,
			Customer:      *req.Customer,
			Items:         req.Items,
			TotalAmount:   req.Amount,
			PaymentMethod: order.MethodOnline,
		}
		if err := s.pending.Put(ctx, po); err != nil {
			return nil, fmt.Errorf("payment: failed to stage pending order: %w", err)
		}
	}

	checkout, err := s.gateway.NewCheckout(liqpay.CheckoutRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		OrderID:     req.OrderID,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("order_id", req.OrderID).Float64("amount", req.Amount).Msg("payment: checkout session created")
	return checkout, nil
}

type CallbackResult struct {
	OrderID      string
	OrderCreated bool
	OrderUpdated bool
	Duplicate    bool
}

// HandleCallback processes an asynchronous provider notification.
//
// Repeated callbacks for the same order id are harmless: order creation is
// keyed on the orders primary key, and email dispatch happens only on the
// callback that actually created the order or flipped it into paid. Any
// persistence failure is returned before the pending snapshot is cleared, so
// the HTTP layer answers 5xx and the provider's retry can still materialize
// the order.
func (s *Service) HandleCallback(ctx context.Context, data, signature string) (*CallbackResult, error) {
	if data == "" || signature == "" {
		return nil, ErrMissingFields
	}

	if !s.gateway.Verify(data, signature) {
		log.Warn().Msg("payment: rejected callback with invalid signature")
		return nil, ErrInvalidSignature
	}

	payload, err := liqpay.DecodeCallback(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if payload.OrderID == "" {
		return nil, ErrMissingOrderID
	}

	log.Info().
		Str("order_id", payload.OrderID).
		Str("status", payload.Status).
		Float64("amount", payload.Amount).
		Int64("transaction_id", payload.TransactionID).
		Msg("payment: callback received")

	if s.gateway.CallbackSucceeded(payload) {
		return s.handleSuccess(ctx, payload)
	}
	return s.handleFailure(ctx, payload)
}

func (s *Service) handleSuccess(ctx context.Context, payload *liqpay.CallbackPayload) (*CallbackResult, error) {
	result := &CallbackResult{OrderID: payload.OrderID}

	// Existing order: flip it into paid. The guarded update reports whether
	// this callback performed the transition, which gates email dispatch.
	existing, err := s.orders.GetOrderByID(ctx, payload.OrderID)
	if err != nil && !errors.Is(err, order.ErrOrderNotFound) {
		return nil, err
	}

	if existing != nil {
		updated, err := s.transitions.MarkPaid(ctx, payload.OrderID)
		if err != nil {
			return nil, err
		}
		if !updated {
			log.Info().Str("order_id", payload.OrderID).Msg("payment: duplicate success callback for paid order")
			result.Duplicate = true
			return result, nil
		}

		result.OrderUpdated = true
		s.recordCartEvent(ctx, payload.OrderID)

		existing.Status = order.StatusPaid
		existing.PaymentStatus = order.PaymentSuccess
		s.notify(ctx, existing)
		return result, nil
	}

	// First notification for this order id: materialize it from the staged
	// snapshot. The snapshot is read first and deleted only after the insert
	// commits, so a transient persistence failure leaves it in place and the
	// provider's retry can still create the order. Duplicate-create races are
	// absorbed by the orders primary key, not by the snapshot.
	po, err := s.pending.Get(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, pending.ErrPendingNotFound) {
			// The snapshot never existed. Acknowledge so the provider
			// stops retrying.
			log.Warn().Str("order_id", payload.OrderID).Msg("payment: no pending order to materialize")
			result.Duplicate = true
			return result, nil
		}
		return nil, err
	}

	o := materialize(po, order.StatusPaid, order.PaymentSuccess)
	if err := s.orders.CreateOrder(ctx, o); err != nil {
		if errors.Is(err, order.ErrDuplicateOrderID) {
			log.Info().Str("order_id", payload.OrderID).Msg("payment: order already materialized by concurrent callback")
			result.Duplicate = true
			s.clearPending(ctx, payload.OrderID)
			s.recordCartEvent(ctx, payload.OrderID)
			return result, nil
		}
		return nil, err
	}

	s.clearPending(ctx, payload.OrderID)

	result.OrderCreated = true
	s.recordCartEvent(ctx, payload.OrderID)
	s.notify(ctx, o)

	log.Info().Str("order_id", payload.OrderID).Msg("payment: order created from callback")
	return result, nil
}

func (s *Service) handleFailure(ctx context.Context, payload *liqpay.CallbackPayload) (*CallbackResult, error) {
	result := &CallbackResult{OrderID: payload.OrderID}

	updated, err := s.transitions.MarkFailed(ctx, payload.OrderID)
	if err != nil {
		return nil, err
	}
	if !updated {
		// Unknown order or already paid; either way there is nothing to
		// mutate and the callback is acknowledged per the provider contract.
		log.Warn().Str("order_id", payload.OrderID).Str("status", payload.Status).Msg("payment: failure callback with no order to update")
		return result, nil
	}

	result.OrderUpdated = true
	log.Info().Str("order_id", payload.OrderID).Str("status", payload.Status).Msg("payment: order marked failed")
	return result, nil
}

type CreateOrderRequest struct {
	OrderID       string
	Customer      pending.Customer
	Items         []pending.ItemSnapshot
	Total         float64
	PaymentMethod order.PaymentMethod
}

// CreateOrderAfterPayment is the cash-on-delivery/manual path: the order is
// persisted directly, without waiting for a provider callback.
func (s *Service) CreateOrderAfterPayment(ctx context.Context, req CreateOrderRequest) (string, error) {
	orderID := req.OrderID
	if orderID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return "", fmt.Errorf("payment: failed to generate order id: %w", err)
		}
		orderID = id.String()
	}

	status, paymentStatus := order.StatusPending, order.PaymentPending
	if req.PaymentMethod == order.MethodOnline {
		status, paymentStatus = order.StatusPaid, order.PaymentSuccess
	}

	po := &pending.PendingOrder{
		OrderID:       orderID,
		Customer:      req.Customer,
		Items:         req.Items,
		TotalAmount:   req.Total,
		PaymentMethod: req.PaymentMethod,
	}

	o := materialize(po, status, paymentStatus)
	if err := s.orders.CreateOrder(ctx, o); err != nil {
		if errors.Is(err, order.ErrDuplicateOrderID) {
			log.Info().Str("order_id", orderID).Msg("payment: order already exists, treating create as duplicate")
			return orderID, nil
		}
		return "", err
	}

	// A staged snapshot for this id is stale now; drop it so the callback
	// path cannot materialize a second order.
	s.clearPending(ctx, orderID)

	s.recordCartEvent(ctx, orderID)
	s.notify(ctx, o)

	return orderID, nil
}

func materialize(po *pending.PendingOrder, status order.Status, paymentStatus order.PaymentStatus) *order.Order {
	items := make([]order.Item, 0, len(po.Items))
	for _, snap := range po.Items {
		items = append(items, order.Item{
			ProductID:    snap.ProductID,
			ProductName:  snap.ProductName,
			ProductImage: snap.ProductImage,
			Category:     snap.Category,
			Quantity:     snap.Quantity,
			UnitPrice:    snap.UnitPrice,
		})
	}

	method := po.PaymentMethod
	if method == "" {
		method = order.MethodOnline
	}

	return &order.Order{
		ID:            po.OrderID,
		CustomerName:  po.Customer.Name,
		CustomerEmail: po.Customer.Email,
		CustomerPhone: po.Customer.Phone,
		City:          po.Customer.City,
		Branch:        po.Customer.Branch,
		PaymentMethod: method,
		Items:         items,
		TotalAmount:   po.TotalAmount,
		Status:        status,
		PaymentStatus: paymentStatus,
	}
}

func (s *Service) clearPending(ctx context.Context, orderID string) {
	if _, err := s.pending.Consume(ctx, orderID); err != nil && !errors.Is(err, pending.ErrPendingNotFound) {
		// A stale snapshot only costs storage: the orders primary key
		// already prevents it from materializing a second order.
		log.Error().Err(err).Str("order_id", orderID).Msg("payment: failed to clear pending order")
	}
}

func (s *Service) recordCartEvent(ctx context.Context, orderID string) {
	if err := s.cart.Record(ctx, orderID); err != nil {
		// The insert is idempotent, so a provider retry or the next paid
		// callback heals a missed event.
		log.Error().Err(err).Str("order_id", orderID).Msg("payment: failed to record cart clearing event")
	}
}

func (s *Service) notify(ctx context.Context, o *order.Order) {
	if err := s.notifier.OrderConfirmed(ctx, o); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("payment: confirmation email dispatch failed")
	}
}

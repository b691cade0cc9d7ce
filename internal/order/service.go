package order

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

// allowedTransitions encodes the order lifecycle. There is deliberately no
// way back into pending_payment: once an order is paid that fact is final.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPendingPayment: {
		StatusPaid:      true,
		StatusCancelled: true,
	},
	StatusPaid: {
		StatusConfirmed: true,
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

var (
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrEmptyOrder              = errors.New("order must contain at least one item")
	ErrTotalMismatch           = errors.New("order total does not match the sum of its items")
)

type Service interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrderByID(ctx context.Context, id string) (*Order, error)
	GetOrdersByStatus(ctx context.Context, status Status) ([]Order, error)
	GetAllOrders(ctx context.Context) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, newStatus Status) error
	Stats(ctx context.Context) ([]StatusCount, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) CreateOrder(ctx context.Context, order *Order) error {
	if order.ID == "" {
		return errors.New("service: order id is required")
	}
	if order.CustomerName == "" || order.CustomerEmail == "" {
		return errors.New("service: customer name and email are required")
	}
	if len(order.Items) == 0 {
		return ErrEmptyOrder
	}

	var sum float64
	for i := range order.Items {
		item := &order.Items[i]

		if item.ProductID == "" {
			return errors.New("service: product id in order item cannot be empty")
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("service: order item quantity for product %s must be greater than zero", item.ProductID)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("service: order item price for product %s cannot be negative", item.ProductID)
		}

		sum += item.Subtotal()
	}

	// Totals are submitted by the caller; a mismatch means a corrupt or
	// tampered cart snapshot, not a rounding artifact.
	if math.Abs(sum-order.TotalAmount) > 0.005 {
		log.Warn().
			Str("order_id", order.ID).
			Float64("submitted_total", order.TotalAmount).
			Float64("computed_total", sum).
			Msg("service: order total mismatch")
		return ErrTotalMismatch
	}

	if order.Status == "" {
		order.Status = StatusPending
	}
	if order.PaymentStatus == "" {
		order.PaymentStatus = PaymentPending
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = MethodOnline
	}

	if err := s.repo.Create(ctx, order); err != nil {
		if errors.Is(err, ErrDuplicateOrderID) {
			return ErrDuplicateOrderID
		}
		log.Error().Err(err).Str("order_id", order.ID).Msg("service: failed to create order in repository")
		return fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().Str("order_id", order.ID).Str("status", order.Status.String()).Msg("service: order created")
	return nil
}

func (s *service) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Str("order_id", id).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return order, nil
}

func (s *service) GetOrdersByStatus(ctx context.Context, status Status) ([]Order, error) {
	orders, err := s.repo.GetByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch orders by status: %w", err)
	}
	return orders, nil
}

func (s *service) GetAllOrders(ctx context.Context) ([]Order, error) {
	orders, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch orders: %w", err)
	}
	return orders, nil
}

// UpdateStatus is the administrative transition path. Payment-driven
// transitions go through the repository's MarkPaid/MarkFailed guards instead.
func (s *service) UpdateStatus(ctx context.Context, id string, newStatus Status) error {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("service: failed to get order for status update: %w", err)
	}

	if current.Status == newStatus {
		log.Info().Str("order_id", id).Str("status", newStatus.String()).Msg("service: order status already set")
		return nil
	}

	if !allowedTransitions[current.Status][newStatus] {
		log.Warn().
			Str("order_id", id).
			Str("current_status", current.Status.String()).
			Str("new_status", newStatus.String()).
			Msg("service: invalid status transition attempt")
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current.Status, newStatus)
	}

	if err := s.repo.UpdateStatus(ctx, id, newStatus, current.PaymentStatus); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("service: failed to update order status: %w", err)
	}

	log.Info().
		Str("order_id", id).
		Str("old_status", current.Status.String()).
		Str("new_status", newStatus.String()).
		Msg("service: order status updated")
	return nil
}

func (s *service) Stats(ctx context.Context) ([]StatusCount, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch order stats: %w", err)
	}
	return stats, nil
}

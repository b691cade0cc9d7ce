// Package pending holds the transient cart+customer snapshot staged between
// payment initiation and the provider callback that confirms it.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/order"
)

var ErrPendingNotFound = errors.New("pending order not found")

type Customer struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
	City   string `json:"city,omitempty"`
	Branch string `json:"branch,omitempty"`
}

type ItemSnapshot struct {
	ProductID    string  `json:"product_id"`
	ProductName  string  `json:"product_name"`
	ProductImage string  `json:"product_image,omitempty"`
	Category     string  `json:"category,omitempty"`
	Quantity     int     `json:"quantity"`
	UnitPrice    float64 `json:"unit_price"`
}

type PendingOrder struct {
	OrderID       string              `json:"order_id"`
	Customer      Customer            `json:"customer"`
	Items         []ItemSnapshot      `json:"items"`
	TotalAmount   float64             `json:"total_amount"`
	PaymentMethod order.PaymentMethod `json:"payment_method"`
	Status        string              `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
}

type Repository interface {
	Put(ctx context.Context, po *PendingOrder) error
	Get(ctx context.Context, orderID string) (*PendingOrder, error)
	Consume(ctx context.Context, orderID string) (*PendingOrder, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

// Put stages the snapshot. Re-initiating payment for the same order id
// replaces the previous snapshot, so the callback always materializes the
// most recent cart state.
func (r *postgresRepository) Put(ctx context.Context, po *PendingOrder) error {
	items, err := json.Marshal(po.Items)
	if err != nil {
		return fmt.Errorf("pending: failed to marshal item snapshot: %w", err)
	}

	if po.Status == "" {
		po.Status = "awaiting_payment"
	}
	po.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO pending_orders (order_id, customer_name, customer_email, customer_phone,
			city, branch, items, total_amount, payment_method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (order_id) DO UPDATE SET
			customer_name = EXCLUDED.customer_name,
			customer_email = EXCLUDED.customer_email,
			customer_phone = EXCLUDED.customer_phone,
			city = EXCLUDED.city,
			branch = EXCLUDED.branch,
			items = EXCLUDED.items,
			total_amount = EXCLUDED.total_amount,
			payment_method = EXCLUDED.payment_method,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at
	`
	_, err = r.db.Exec(ctx, query,
		po.OrderID,
		po.Customer.Name,
		po.Customer.Email,
		po.Customer.Phone,
		po.Customer.City,
		po.Customer.Branch,
		items,
		po.TotalAmount,
		string(po.PaymentMethod),
		po.Status,
		po.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pending: failed to stage pending order %s: %w", po.OrderID, err)
	}

	return nil
}

func (r *postgresRepository) Get(ctx context.Context, orderID string) (*PendingOrder, error) {
	query := `
		SELECT order_id, customer_name, customer_email, customer_phone, city, branch,
			items, total_amount, payment_method, status, created_at
		FROM pending_orders
		WHERE order_id = $1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, orderID), orderID)
}

// Consume atomically removes and returns the snapshot. The DELETE...RETURNING
// guarantees that of any number of concurrent callbacks for the same order id
// exactly one receives the record; the rest get ErrPendingNotFound.
func (r *postgresRepository) Consume(ctx context.Context, orderID string) (*PendingOrder, error) {
	query := `
		DELETE FROM pending_orders
		WHERE order_id = $1
		RETURNING order_id, customer_name, customer_email, customer_phone, city, branch,
			items, total_amount, payment_method, status, created_at
	`
	return r.scanOne(r.db.QueryRow(ctx, query, orderID), orderID)
}

func (r *postgresRepository) scanOne(row pgx.Row, orderID string) (*PendingOrder, error) {
	var po PendingOrder
	var items []byte

	err := row.Scan(
		&po.OrderID,
		&po.Customer.Name,
		&po.Customer.Email,
		&po.Customer.Phone,
		&po.Customer.City,
		&po.Customer.Branch,
		&items,
		&po.TotalAmount,
		&po.PaymentMethod,
		&po.Status,
		&po.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPendingNotFound
		}
		return nil, fmt.Errorf("pending: failed to scan pending order %s: %w", orderID, err)
	}

	if err := json.Unmarshal(items, &po.Items); err != nil {
		return nil, fmt.Errorf("pending: failed to unmarshal item snapshot for %s: %w", orderID, err)
	}

	return &po, nil
}

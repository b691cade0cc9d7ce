package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrDuplicateOrderID = errors.New("order with this id already exists")
)

type Repository interface {
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByStatus(ctx context.Context, status Status) ([]Order, error)
	GetAll(ctx context.Context) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, status Status, paymentStatus PaymentStatus) error
	MarkPaid(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) ([]StatusCount, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

// Create inserts the order together with its items in one transaction, so a
// failure on any item leaves no partial order behind. A primary-key conflict
// on the order id maps to ErrDuplicateOrderID, which callers treat as the
// idempotent-duplicate signal.
func (r *postgresRepository) Create(ctx context.Context, order *Order) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("order_id", order.ID).Msg("repository: failed to rollback after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("order_id", order.ID).Msg("repository: failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
			}
		}
	}()

	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	queryOrder := `
		INSERT INTO orders (id, customer_name, customer_email, customer_phone, city, branch,
			payment_method, total_amount, status, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.Exec(ctx, queryOrder,
		order.ID,
		order.CustomerName,
		order.CustomerEmail,
		order.CustomerPhone,
		order.City,
		order.Branch,
		string(order.PaymentMethod),
		order.TotalAmount,
		string(order.Status),
		string(order.PaymentStatus),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateOrderID
		}
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (id, order_id, product_id, product_name, product_image, category,
			quantity, unit_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for i := range order.Items {
		item := &order.Items[i]

		itemID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order item id: %w", genErr)
		}
		item.ID = itemID
		item.OrderID = order.ID
		item.CreatedAt = now

		_, err = tx.Exec(ctx, queryItem,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.ProductName,
			item.ProductImage,
			item.Category,
			item.Quantity,
			item.UnitPrice,
			item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", order.ID, err)
		}
	}

	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	queryOrder := `
		SELECT id, customer_name, customer_email, customer_phone, city, branch,
			payment_method, total_amount, status, payment_status, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var order Order
	err := r.db.QueryRow(ctx, queryOrder, id).Scan(
		&order.ID,
		&order.CustomerName,
		&order.CustomerEmail,
		&order.CustomerPhone,
		&order.City,
		&order.Branch,
		&order.PaymentMethod,
		&order.TotalAmount,
		&order.Status,
		&order.PaymentStatus,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	items, err := r.itemsForOrders(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	order.Items = items[id]
	if order.Items == nil {
		order.Items = []Item{}
	}

	return &order, nil
}

func (r *postgresRepository) GetByStatus(ctx context.Context, status Status) ([]Order, error) {
	query := `
		SELECT id, customer_name, customer_email, customer_phone, city, branch,
			payment_method, total_amount, status, payment_status, created_at, updated_at
		FROM orders
		WHERE status = $1
		ORDER BY created_at DESC
	`
	return r.queryOrders(ctx, query, string(status))
}

func (r *postgresRepository) GetAll(ctx context.Context) ([]Order, error) {
	query := `
		SELECT id, customer_name, customer_email, customer_phone, city, branch,
			payment_method, total_amount, status, payment_status, created_at, updated_at
		FROM orders
		ORDER BY created_at DESC
	`
	return r.queryOrders(ctx, query)
}

func (r *postgresRepository) queryOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	ordersMap := make(map[string]*Order)
	var orderIDs []string

	for rows.Next() {
		var order Order
		err := rows.Scan(
			&order.ID,
			&order.CustomerName,
			&order.CustomerEmail,
			&order.CustomerPhone,
			&order.City,
			&order.Branch,
			&order.PaymentMethod,
			&order.TotalAmount,
			&order.Status,
			&order.PaymentStatus,
			&order.CreatedAt,
			&order.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		order.Items = []Item{}
		ordersMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders: %w", err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	itemsByOrder, err := r.itemsForOrders(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	for id, items := range itemsByOrder {
		if order, ok := ordersMap[id]; ok {
			order.Items = items
		}
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *ordersMap[id])
	}
	return result, nil
}

func (r *postgresRepository) itemsForOrders(ctx context.Context, orderIDs []string) (map[string][]Item, error) {
	query := `
		SELECT id, order_id, product_id, product_name, product_image, category,
			quantity, unit_price, created_at
		FROM order_items
		WHERE order_id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	itemsByOrder := make(map[string][]Item)
	for rows.Next() {
		var item Item
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.ProductImage,
			&item.Category,
			&item.Quantity,
			&item.UnitPrice,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		itemsByOrder[item.OrderID] = append(itemsByOrder[item.OrderID], item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items: %w", err)
	}

	return itemsByOrder, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id string, status Status, paymentStatus PaymentStatus) error {
	query := `
		UPDATE orders
		SET status = $1, payment_status = $2, updated_at = $3
		WHERE id = $4
	`

	cmdTag, err := r.db.Exec(ctx, query, string(status), string(paymentStatus), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("repository: failed to update order status %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}

// MarkPaid transitions an order into paid/success. Guarding on payment_status
// keeps the transition one-shot: a replayed callback reports updated=false so
// the caller skips email dispatch, and an order the admin has already advanced
// past paid is never dragged back.
func (r *postgresRepository) MarkPaid(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE orders
		SET status = $1, payment_status = $2, updated_at = $3
		WHERE id = $4 AND payment_status <> $2
	`

	cmdTag, err := r.db.Exec(ctx, query, string(StatusPaid), string(PaymentSuccess), time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("repository: failed to mark order %s paid: %w", id, err)
	}

	return cmdTag.RowsAffected() > 0, nil
}

// MarkFailed records a failed payment. The payment_status guard means a late
// or replayed failure callback can never overwrite a successful payment, no
// matter how far the order has moved since.
func (r *postgresRepository) MarkFailed(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE orders
		SET payment_status = $1, updated_at = $2
		WHERE id = $3 AND payment_status <> $4
	`

	cmdTag, err := r.db.Exec(ctx, query, string(PaymentFailed), time.Now().UTC(), id, string(PaymentSuccess))
	if err != nil {
		return false, fmt.Errorf("repository: failed to mark order %s failed: %w", id, err)
	}

	return cmdTag.RowsAffected() > 0, nil
}

func (r *postgresRepository) Stats(ctx context.Context) ([]StatusCount, error) {
	query := `
		SELECT status, COUNT(*)
		FROM orders
		GROUP BY status
		ORDER BY status
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order stats: %w", err)
	}
	defer rows.Close()

	stats := make([]StatusCount, 0)
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order stats: %w", err)
		}
		stats = append(stats, sc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order stats: %w", err)
	}

	return stats, nil
}

// Package cart records cart-clearing events: append-only signals the
// storefront client polls to know its local cart belongs to a paid order
// and should be emptied.
package cart

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type EventRepository interface {
	Record(ctx context.Context, orderID string) error
	Exists(ctx context.Context, orderID string) (bool, error)
}

type postgresEventRepository struct {
	db *pgxpool.Pool
}

func NewEventRepository(db *pgxpool.Pool) EventRepository {
	return &postgresEventRepository{db: db}
}

// Record is idempotent: duplicate callbacks for the same order id leave a
// single event row.
func (r *postgresEventRepository) Record(ctx context.Context, orderID string) error {
	query := `
		INSERT INTO cart_clearing_events (order_id)
		VALUES ($1)
		ON CONFLICT (order_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, orderID); err != nil {
		return fmt.Errorf("cart: failed to record clearing event for %s: %w", orderID, err)
	}
	return nil
}

func (r *postgresEventRepository) Exists(ctx context.Context, orderID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM cart_clearing_events WHERE order_id = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("cart: failed to check clearing event for %s: %w", orderID, err)
	}
	return exists, nil
}

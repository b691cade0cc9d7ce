package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	KindCustomerConfirmation = "customer_confirmation"
	KindOwnerNotification    = "owner_notification"
)

// OutboxRepository records every dispatch attempt so failed deliveries are
// observable and can be retried out of band instead of vanishing into a log.
type OutboxRepository interface {
	Enqueue(ctx context.Context, orderID, recipient, kind string) (uuid.UUID, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, sendErr error) error
	PendingFor(ctx context.Context, orderID string) (int, error)
}

type postgresOutboxRepository struct {
	db *pgxpool.Pool
}

func NewOutboxRepository(db *pgxpool.Pool) OutboxRepository {
	return &postgresOutboxRepository{db: db}
}

func (r *postgresOutboxRepository) Enqueue(ctx context.Context, orderID, recipient, kind string) (uuid.UUID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("outbox: failed to generate id: %w", err)
	}

	query := `
		INSERT INTO email_outbox (id, order_id, recipient, kind, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
	`
	if _, err := r.db.Exec(ctx, query, id, orderID, recipient, kind, time.Now().UTC()); err != nil {
		return uuid.Nil, fmt.Errorf("outbox: failed to enqueue email for order %s: %w", orderID, err)
	}

	return id, nil
}

func (r *postgresOutboxRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE email_outbox
		SET status = 'sent', attempts = attempts + 1, sent_at = $1
		WHERE id = $2
	`
	if _, err := r.db.Exec(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("outbox: failed to mark email %s sent: %w", id, err)
	}
	return nil
}

func (r *postgresOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, sendErr error) error {
	query := `
		UPDATE email_outbox
		SET status = 'failed', attempts = attempts + 1, last_error = $1
		WHERE id = $2
	`
	if _, err := r.db.Exec(ctx, query, sendErr.Error(), id); err != nil {
		return fmt.Errorf("outbox: failed to mark email %s failed: %w", id, err)
	}
	return nil
}

func (r *postgresOutboxRepository) PendingFor(ctx context.Context, orderID string) (int, error) {
	query := `SELECT COUNT(*) FROM email_outbox WHERE order_id = $1 AND status = 'pending'`

	var count int
	if err := r.db.QueryRow(ctx, query, orderID).Scan(&count); err != nil {
		return 0, fmt.Errorf("outbox: failed to count pending emails for %s: %w", orderID, err)
	}
	return count, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sokoni/payments/internal/models"
	"github.com/sokoni/payments/internal/repository"
)

// OrderRepository is a PostgreSQL implementation of repository.OrderRepository.
type OrderRepository struct {
	db *pgxpool.Pool
}

// NewOrderRepository creates a new PostgreSQL order repository.
func NewOrderRepository(db *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: db}
}

// GetByID retrieves an order by ID.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	query := `
		SELECT id, owner_id, total_amount, status, payment_status, created_at, updated_at
		FROM orders WHERE id = $1
	`

	var o models.Order
	err := r.db.QueryRow(ctx, query, id).Scan(
		&o.ID,
		&o.OwnerID,
		&o.TotalAmount,
		&o.Status,
		&o.PaymentStatus,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	return &o, nil
}

// SetStatus updates the order status.
func (r *OrderRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) error {
	query := `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// MarkPaid sets both status fields to PAID.
func (r *OrderRepository) MarkPaid(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE orders
		SET status = $1, payment_status = $2, updated_at = NOW()
		WHERE id = $3
	`

	result, err := r.db.Exec(ctx, query, models.OrderPaid, models.PaymentPaid, id)
	if err != nil {
		return fmt.Errorf("failed to mark order paid: %w", err)
	}

	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

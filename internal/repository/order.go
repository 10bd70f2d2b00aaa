package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/sokoni/payments/internal/models"
)

// OrderRepository is the slice of the order store this service touches.
// Orders are created and priced upstream; here they are only read and have
// their status fields advanced.
type OrderRepository interface {
	// GetByID retrieves an order. Returns ErrNotFound if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)

	// SetStatus updates the order status. Returns ErrNotFound when no row
	// was updated.
	SetStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) error

	// MarkPaid sets status and payment status to PAID in one write.
	MarkPaid(ctx context.Context, id uuid.UUID) error
}

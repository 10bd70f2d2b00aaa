package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sokoni/payments/internal/models"
)

// Finalization is the terminal write the callback reconciler applies. It is
// persisted in a single atomic update gated on the callback_received latch.
type Finalization struct {
	Status        models.TransactionStatus
	ReceiptNumber *string
	FailureReason *string
	PaidAt        *time.Time
	NeedsReview   bool
	RawPayload    []byte
}

// TransactionRepository persists payment attempts. Rows are append-plus-
// transition only; nothing deletes them.
type TransactionRepository interface {
	// Create inserts a new PENDING transaction. The store's unique indexes
	// are the authoritative concurrency guards: a violation of the
	// in-flight index surfaces as ErrDuplicateInFlight and of the
	// idempotency index as ErrDuplicateIdempotencyKey.
	Create(ctx context.Context, tx *models.Transaction) error

	// GetByReference retrieves a transaction by its internal reference.
	GetByReference(ctx context.Context, reference uuid.UUID) (*models.Transaction, error)

	// GetByIdempotencyKey retrieves the transaction created under the given
	// owner-scoped idempotency key. Returns (nil, nil) when none exists.
	GetByIdempotencyKey(ctx context.Context, ownerID, key uuid.UUID) (*models.Transaction, error)

	// GetByCheckoutRequestID retrieves a transaction by the gateway's
	// correlation id. Returns ErrNotFound for unknown ids.
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error)

	// GetInFlightByOrderID returns the order's non-terminal transaction,
	// or (nil, nil) when there is none. Fast-path check only; Create's
	// index is the real guard.
	GetInFlightByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Transaction, error)

	// SetGatewayAccepted records the gateway correlation ids and raw
	// acceptance payload, moving the transaction to PROCESSING.
	SetGatewayAccepted(ctx context.Context, reference uuid.UUID, checkoutRequestID, merchantRequestID string, raw []byte) error

	// SetPushError records why the push call itself failed. The row stays
	// PENDING; the timeout sweep resolves such dangling attempts.
	SetPushError(ctx context.Context, reference uuid.UUID, reason string) error

	// Finalize applies a terminal state and latches callback_received, all
	// in one update gated on the latch being unset. Returns false when the
	// latch was already set and nothing changed.
	Finalize(ctx context.Context, checkoutRequestID string, fin Finalization) (bool, error)

	// MarkNeedsReview flags a transaction for manual reconciliation
	// without touching its status.
	MarkNeedsReview(ctx context.Context, reference uuid.UUID) error
}

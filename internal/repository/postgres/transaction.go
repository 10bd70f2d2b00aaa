package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sokoni/payments/internal/models"
	"github.com/sokoni/payments/internal/repository"
)

// Index names from migrations/0001_init.sql. Create relies on them to tell
// which guard a 23505 came from.
const (
	inFlightIndex    = "transactions_one_in_flight_per_order"
	idempotencyIndex = "transactions_owner_idempotency_key"
)

const transactionColumns = `
	id, reference, order_id, owner_id, idempotency_key, phone, amount,
	currency, status, checkout_request_id, merchant_request_id,
	receipt_number, failure_reason, callback_received, needs_review,
	raw_gateway_payload, paid_at, created_at, updated_at
`

// TransactionRepository is a PostgreSQL implementation of
// repository.TransactionRepository.
type TransactionRepository struct {
	db *pgxpool.Pool
}

// NewTransactionRepository creates a new PostgreSQL transaction repository.
func NewTransactionRepository(db *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts a new PENDING transaction. Uniqueness violations are
// classified by constraint so the orchestrator can tell a concurrent
// in-flight attempt from a retried idempotency key.
func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			reference, order_id, owner_id, idempotency_key,
			phone, amount, currency, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		tx.Reference,
		tx.OrderID,
		tx.OwnerID,
		tx.IdempotencyKey,
		tx.Phone,
		tx.Amount,
		tx.Currency,
		tx.Status,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch {
			case strings.Contains(pgErr.ConstraintName, inFlightIndex):
				return repository.ErrDuplicateInFlight
			case strings.Contains(pgErr.ConstraintName, idempotencyIndex):
				return repository.ErrDuplicateIdempotencyKey
			}
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return nil
}

// GetByReference retrieves a transaction by its internal reference.
func (r *TransactionRepository) GetByReference(ctx context.Context, reference uuid.UUID) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1`
	return r.queryOne(ctx, query, reference)
}

// GetByIdempotencyKey retrieves the transaction created under the given
// owner-scoped idempotency key. Returns nil if no transaction exists.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, ownerID, key uuid.UUID) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE owner_id = $1 AND idempotency_key = $2`

	tx, err := r.queryOne(ctx, query, ownerID, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return tx, err
}

// GetByCheckoutRequestID retrieves a transaction by the gateway correlation id.
func (r *TransactionRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE checkout_request_id = $1`
	return r.queryOne(ctx, query, checkoutRequestID)
}

// GetInFlightByOrderID returns the order's non-terminal transaction, if any.
func (r *TransactionRepository) GetInFlightByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE order_id = $1 AND status IN ('PENDING', 'PROCESSING')`

	tx, err := r.queryOne(ctx, query, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return tx, err
}

// SetGatewayAccepted records gateway correlation ids, moving PENDING to
// PROCESSING.
func (r *TransactionRepository) SetGatewayAccepted(ctx context.Context, reference uuid.UUID, checkoutRequestID, merchantRequestID string, raw []byte) error {
	query := `
		UPDATE transactions
		SET status = $1, checkout_request_id = $2, merchant_request_id = $3,
		    raw_gateway_payload = $4, updated_at = NOW()
		WHERE reference = $5 AND status = $6
	`

	result, err := r.db.Exec(ctx, query,
		models.StatusProcessing, checkoutRequestID, merchantRequestID, raw,
		reference, models.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to record gateway acceptance: %w", err)
	}

	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// SetPushError records a failed push call. Status stays PENDING.
func (r *TransactionRepository) SetPushError(ctx context.Context, reference uuid.UUID, reason string) error {
	query := `UPDATE transactions SET failure_reason = $1, updated_at = NOW() WHERE reference = $2`

	result, err := r.db.Exec(ctx, query, reason, reference)
	if err != nil {
		return fmt.Errorf("failed to record push error: %w", err)
	}

	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Finalize applies a terminal state in one update gated on the
// callback_received latch. RowsAffected = 0 means another delivery of the
// same callback won the race; the caller treats that as a duplicate.
func (r *TransactionRepository) Finalize(ctx context.Context, checkoutRequestID string, fin repository.Finalization) (bool, error) {
	query := `
		UPDATE transactions
		SET status = $1,
		    receipt_number = $2,
		    failure_reason = $3,
		    paid_at = $4,
		    needs_review = $5,
		    raw_gateway_payload = $6,
		    callback_received = TRUE,
		    updated_at = NOW()
		WHERE checkout_request_id = $7 AND callback_received = FALSE
	`

	result, err := r.db.Exec(ctx, query,
		fin.Status,
		fin.ReceiptNumber,
		fin.FailureReason,
		fin.PaidAt,
		fin.NeedsReview,
		fin.RawPayload,
		checkoutRequestID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to finalize transaction: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// MarkNeedsReview flags a transaction for manual reconciliation.
func (r *TransactionRepository) MarkNeedsReview(ctx context.Context, reference uuid.UUID) error {
	query := `UPDATE transactions SET needs_review = TRUE, updated_at = NOW() WHERE reference = $1`

	result, err := r.db.Exec(ctx, query, reference)
	if err != nil {
		return fmt.Errorf("failed to mark transaction for review: %w", err)
	}

	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *TransactionRepository) queryOne(ctx context.Context, query string, args ...interface{}) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&tx.ID,
		&tx.Reference,
		&tx.OrderID,
		&tx.OwnerID,
		&tx.IdempotencyKey,
		&tx.Phone,
		&tx.Amount,
		&tx.Currency,
		&tx.Status,
		&tx.CheckoutRequestID,
		&tx.MerchantRequestID,
		&tx.ReceiptNumber,
		&tx.FailureReason,
		&tx.CallbackReceived,
		&tx.NeedsReview,
		&tx.RawGatewayPayload,
		&tx.PaidAt,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}

	return &tx, nil
}

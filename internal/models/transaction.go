package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is the only currency the gateway settles in.
const DefaultCurrency = "KES"

// Transaction represents a single STK push attempt against an order. Rows
// are never deleted; they are the audit trail.
type Transaction struct {
	ID                uuid.UUID         `db:"id" json:"-"`
	Reference         uuid.UUID         `db:"reference" json:"reference"`
	OrderID           uuid.UUID         `db:"order_id" json:"order_id"`
	OwnerID           uuid.UUID         `db:"owner_id" json:"owner_id"`
	IdempotencyKey    *uuid.UUID        `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Phone             string            `db:"phone" json:"phone"`
	Amount            decimal.Decimal   `db:"amount" json:"amount"`
	Currency          string            `db:"currency" json:"currency"`
	Status            TransactionStatus `db:"status" json:"status"`
	CheckoutRequestID *string           `db:"checkout_request_id" json:"checkout_request_id,omitempty"`
	MerchantRequestID *string           `db:"merchant_request_id" json:"merchant_request_id,omitempty"`
	ReceiptNumber     *string           `db:"receipt_number" json:"receipt_number,omitempty"`
	FailureReason     *string           `db:"failure_reason" json:"failure_reason,omitempty"`
	CallbackReceived  bool              `db:"callback_received" json:"callback_received"`
	NeedsReview       bool              `db:"needs_review" json:"needs_review"`
	RawGatewayPayload []byte            `db:"raw_gateway_payload" json:"-"` // JSONB audit blob
	PaidAt            *time.Time        `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// TransactionStatus represents valid transaction states.
type TransactionStatus string

const (
	// StatusPending: row created, gateway has not accepted the push yet.
	StatusPending TransactionStatus = "PENDING"
	// StatusProcessing: gateway accepted the push, awaiting callback.
	StatusProcessing TransactionStatus = "PROCESSING"
	// Terminal states. SUCCESS and FAILED are written by the callback
	// reconciler; CANCELLED and TIMEOUT belong to the timeout sweep.
	StatusSuccess   TransactionStatus = "SUCCESS"
	StatusFailed    TransactionStatus = "FAILED"
	StatusCancelled TransactionStatus = "CANCELLED"
	StatusTimeout   TransactionStatus = "TIMEOUT"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

var validTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled, StatusTimeout},
	StatusProcessing: {StatusSuccess, StatusFailed, StatusCancelled, StatusTimeout},
	// No transitions allowed from terminal states.
	StatusSuccess:   {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimeout:   {},
}

// IsValidTransition checks if a status transition is allowed.
func IsValidTransition(from, to TransactionStatus) bool {
	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}

	for _, validTo := range allowed {
		if validTo == to {
			return true
		}
	}

	return false
}

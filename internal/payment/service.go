package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sokoni/payments/internal/models"
	"github.com/sokoni/payments/internal/mpesa"
	"github.com/sokoni/payments/internal/repository"
)

// Gateway is the push-payment adapter the orchestrator talks to. phone is
// canonical 254XXXXXXXXX, amount whole shillings, accountRef the order id.
type Gateway interface {
	RequestPush(ctx context.Context, phone string, amount int64, accountRef string) (*mpesa.PushResult, error)
}

// Service orchestrates the payment attempt state machine. It holds no
// mutable state of its own; all coordination happens through the stores'
// constraints.
type Service struct {
	orders  repository.OrderRepository
	txns    repository.TransactionRepository
	gateway Gateway

	now    func() time.Time
	newRef func() uuid.UUID
}

// NewService creates a payment orchestrator.
func NewService(orders repository.OrderRepository, txns repository.TransactionRepository, gateway Gateway) *Service {
	return &Service{
		orders:  orders,
		txns:    txns,
		gateway: gateway,
		now:     time.Now,
		newRef:  uuid.New,
	}
}

// InitiateRequest carries a validated initiate call. OwnerID is the
// authenticated principal, never client data from the body.
type InitiateRequest struct {
	OrderID        string
	OwnerID        uuid.UUID
	Phone          string
	IdempotencyKey *uuid.UUID
}

// InitiatePayment runs the initiate state machine: idempotency
// short-circuit, input validation, order checks, single-in-flight guard,
// snapshot insert, order transition, gateway push.
//
// The amount is always snapshotted from the order's current total; a
// client-supplied amount is never trusted. On gateway failure the created
// row stays PENDING without gateway ids — a dangling attempt for the
// timeout sweep to resolve.
func (s *Service) InitiatePayment(ctx context.Context, req InitiateRequest) (*models.Transaction, error) {
	// Idempotency short-circuit: a retried request returns the original
	// transaction before any validation or gateway work.
	if req.IdempotencyKey != nil {
		existing, err := s.txns.GetByIdempotencyKey(ctx, req.OwnerID, *req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup failed: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrderID, req.OrderID)
	}

	phone, err := mpesa.NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("order lookup failed: %w", err)
	}

	if order.OwnerID != req.OwnerID {
		return nil, ErrNotOrderOwner
	}

	if !order.IsPayable() {
		return nil, fmt.Errorf("%w: order is %s", ErrOrderNotPayable, order.Status)
	}

	// The order total is what the gateway will be asked for; bounds apply
	// to it, not to anything the client sent.
	pushAmount, err := mpesa.ValidateAmount(order.TotalAmount)
	if err != nil {
		return nil, err
	}

	// Fast-path in-flight check. The partial unique index behind Create is
	// the authoritative guard; this only produces a cleaner error when the
	// attempt is plainly visible.
	inFlight, err := s.txns.GetInFlightByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("in-flight lookup failed: %w", err)
	}
	if inFlight != nil {
		return nil, ErrPaymentInFlight
	}

	tx := &models.Transaction{
		Reference:      s.newRef(),
		OrderID:        orderID,
		OwnerID:        req.OwnerID,
		IdempotencyKey: req.IdempotencyKey,
		Phone:          phone,
		Amount:         order.TotalAmount,
		Currency:       models.DefaultCurrency,
		Status:         models.StatusPending,
	}

	if err := s.txns.Create(ctx, tx); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateInFlight):
			return nil, ErrPaymentInFlight
		case errors.Is(err, repository.ErrDuplicateIdempotencyKey):
			// Two retries with the same key raced past the short-circuit;
			// the first insert won, return its row.
			if req.IdempotencyKey != nil {
				existing, lookupErr := s.txns.GetByIdempotencyKey(ctx, req.OwnerID, *req.IdempotencyKey)
				if lookupErr == nil && existing != nil {
					return existing, nil
				}
			}
			return nil, fmt.Errorf("idempotency key race: %w", err)
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	if order.Status == models.OrderCreated {
		if err := s.orders.SetStatus(ctx, orderID, models.OrderPaymentPending); err != nil {
			return nil, fmt.Errorf("failed to move order to payment pending: %w", err)
		}
	}

	result, err := s.gateway.RequestPush(ctx, phone, pushAmount, orderID.String())
	if err != nil {
		// The row stays PENDING with no gateway ids; only the reason is
		// recorded. The timeout sweep owns dangling attempts.
		if recErr := s.txns.SetPushError(ctx, tx.Reference, err.Error()); recErr != nil {
			log.Printf("failed to record push error on %s: %v", tx.Reference, recErr)
		}

		if errors.Is(err, mpesa.ErrPushRejected) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if err := s.txns.SetGatewayAccepted(ctx, tx.Reference, result.CheckoutRequestID, result.MerchantRequestID, result.Raw); err != nil {
		// The push went out; surfacing an error now would invite a retry
		// and a duplicate prompt. Flag for review and return the attempt.
		log.Printf("failed to persist gateway ids on %s: %v", tx.Reference, err)
		if revErr := s.txns.MarkNeedsReview(ctx, tx.Reference); revErr != nil {
			log.Printf("failed to mark %s for review: %v", tx.Reference, revErr)
		}
		tx.NeedsReview = true
		return tx, nil
	}

	tx.Status = models.StatusProcessing
	tx.CheckoutRequestID = &result.CheckoutRequestID
	tx.MerchantRequestID = &result.MerchantRequestID
	tx.RawGatewayPayload = result.Raw

	return tx, nil
}

// GetTransaction returns the current state of a payment attempt for client
// polling. Read-only.
func (s *Service) GetTransaction(ctx context.Context, reference uuid.UUID) (*models.Transaction, error) {
	tx, err := s.txns.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("transaction lookup failed: %w", err)
	}
	return tx, nil
}

package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sokoni/payments/internal/models"
	"github.com/sokoni/payments/internal/mpesa"
	"github.com/sokoni/payments/internal/repository"
)

// Outcome classifies what a callback delivery did. Discard paths are
// explicit values rather than log lines so they stay queryable and
// assertable.
type Outcome string

const (
	// OutcomeNoCorrelation: payload had no CheckoutRequestID; discarded.
	OutcomeNoCorrelation Outcome = "no_correlation"
	// OutcomeOrphan: no transaction matches the correlation id; discarded.
	OutcomeOrphan Outcome = "orphan"
	// OutcomeDuplicate: the latch was already set; no-op.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeMerchantMismatch: MerchantRequestID disagreed with the stored
	// one; failed closed.
	OutcomeMerchantMismatch Outcome = "merchant_mismatch"
	// OutcomeMissingAmount: gateway claimed success without reporting an
	// amount; failed, flagged for review.
	OutcomeMissingAmount Outcome = "missing_amount"
	// OutcomeAmountMismatch: reported amount differs from the snapshot by
	// more than the tolerance; failed regardless of result code.
	OutcomeAmountMismatch Outcome = "amount_mismatch"
	// OutcomePaid: transaction SUCCESS and order finalized PAID.
	OutcomePaid Outcome = "paid"
	// OutcomePaidOrderStale: transaction SUCCESS but the order write
	// failed; flagged for manual reconciliation, Success stands.
	OutcomePaidOrderStale Outcome = "paid_order_stale"
	// OutcomeFailed: gateway reported failure; order left payable.
	OutcomeFailed Outcome = "failed"
)

// amountTolerance absorbs float wobble in the gateway's reported amount.
// Anything beyond a cent is a short or over payment and fails closed.
var amountTolerance = decimal.NewFromFloat(0.01)

// Reconciler consumes gateway callbacks and finalizes transaction + order
// state exactly once per logical event. It never returns an error for
// conditions the gateway could "retry" into duplicates; only store failures
// propagate, so the queue can redeliver.
type Reconciler struct {
	orders repository.OrderRepository
	txns   repository.TransactionRepository

	now func() time.Time
}

// NewReconciler creates a callback reconciler.
func NewReconciler(orders repository.OrderRepository, txns repository.TransactionRepository) *Reconciler {
	return &Reconciler{
		orders: orders,
		txns:   txns,
		now:    time.Now,
	}
}

// Reconcile processes one callback delivery. Safe to invoke concurrently,
// including twice for the same transaction: the callback_received latch is
// consumed atomically by the store, so exactly one delivery finalizes.
func (r *Reconciler) Reconcile(ctx context.Context, payload []byte) (Outcome, error) {
	var cb mpesa.CallbackPayload
	if err := json.Unmarshal(payload, &cb); err != nil {
		log.Printf("discarding unparseable callback: %v", err)
		return OutcomeNoCorrelation, nil
	}

	stk := cb.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		log.Printf("discarding callback without CheckoutRequestID")
		return OutcomeNoCorrelation, nil
	}

	tx, err := r.txns.GetByCheckoutRequestID(ctx, stk.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// A replay for a since-purged record, or forged. Never create
			// a transaction from a callback.
			log.Printf("discarding orphan callback for CheckoutRequestID %s", stk.CheckoutRequestID)
			return OutcomeOrphan, nil
		}
		return "", fmt.Errorf("transaction lookup failed: %w", err)
	}

	// Fast path; the Finalize latch below is what actually prevents
	// double processing under concurrent delivery.
	if tx.CallbackReceived {
		return OutcomeDuplicate, nil
	}

	if stk.MerchantRequestID != "" && tx.MerchantRequestID != nil && *tx.MerchantRequestID != stk.MerchantRequestID {
		reason := fmt.Sprintf("merchant request id mismatch: got %s", stk.MerchantRequestID)
		return r.fail(ctx, tx, payload, OutcomeMerchantMismatch, reason, true)
	}

	metadata := mpesa.ParseMetadata(stk.CallbackMetadata.Item)

	if stk.ResultCode != 0 {
		// Gateway-reported failure. The order stays payable for a fresh
		// attempt once this one is terminal.
		reason := stk.ResultDesc
		if reason == "" {
			reason = fmt.Sprintf("gateway result code %d", stk.ResultCode)
		}
		return r.fail(ctx, tx, payload, OutcomeFailed, reason, false)
	}

	reported, ok := mpesa.MetadataAmount(metadata)
	if !ok {
		// A success claim with no amount cannot be verified; manual
		// review, never a silent success.
		return r.fail(ctx, tx, payload, OutcomeMissingAmount, "callback reported no amount", true)
	}

	if reported.Sub(tx.Amount).Abs().GreaterThan(amountTolerance) {
		reason := fmt.Sprintf("amount mismatch: expected %s, gateway reported %s", tx.Amount, reported)
		return r.fail(ctx, tx, payload, OutcomeAmountMismatch, reason, true)
	}

	return r.succeed(ctx, tx, payload, metadata)
}

// succeed finalizes the SUCCESS branch. The transaction write must be
// durable before the order write is attempted, and a failed order write
// never rolls back Success.
func (r *Reconciler) succeed(ctx context.Context, tx *models.Transaction, payload []byte, metadata map[string]interface{}) (Outcome, error) {
	paidAt := r.now()
	fin := repository.Finalization{
		Status:     models.StatusSuccess,
		PaidAt:     &paidAt,
		RawPayload: payload,
	}
	if receipt, ok := mpesa.MetadataReceipt(metadata); ok {
		fin.ReceiptNumber = &receipt
	}

	finalized, err := r.txns.Finalize(ctx, *tx.CheckoutRequestID, fin)
	if err != nil {
		return "", err
	}
	if !finalized {
		return OutcomeDuplicate, nil
	}

	if err := r.orders.MarkPaid(ctx, tx.OrderID); err != nil {
		log.Printf("transaction %s is SUCCESS but order %s could not be marked paid: %v", tx.Reference, tx.OrderID, err)
		if revErr := r.txns.MarkNeedsReview(ctx, tx.Reference); revErr != nil {
			log.Printf("failed to mark %s for review: %v", tx.Reference, revErr)
		}
		return OutcomePaidOrderStale, nil
	}

	return OutcomePaid, nil
}

// fail finalizes a FAILED branch. The order is left untouched.
func (r *Reconciler) fail(ctx context.Context, tx *models.Transaction, payload []byte, outcome Outcome, reason string, needsReview bool) (Outcome, error) {
	fin := repository.Finalization{
		Status:        models.StatusFailed,
		FailureReason: &reason,
		NeedsReview:   needsReview,
		RawPayload:    payload,
	}

	finalized, err := r.txns.Finalize(ctx, *tx.CheckoutRequestID, fin)
	if err != nil {
		return "", err
	}
	if !finalized {
		return OutcomeDuplicate, nil
	}

	return outcome, nil
}

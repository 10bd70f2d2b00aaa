package worker

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"github.com/sokoni/payments/internal/payment"
)

const (
	// TypeProcessCallback identifies gateway callback reconciliation tasks.
	TypeProcessCallback = "callback:process"
)

// Processor handles background job processing.
type Processor struct {
	reconciler *payment.Reconciler
}

// NewProcessor creates a new worker processor.
func NewProcessor(reconciler *payment.Reconciler) *Processor {
	return &Processor{reconciler: reconciler}
}

// NewProcessCallbackTask creates a callback reconciliation task carrying
// the raw payload.
func NewProcessCallbackTask(payload []byte) *asynq.Task {
	return asynq.NewTask(TypeProcessCallback, payload)
}

// ProcessCallback reconciles one gateway callback delivery. Discards and
// duplicates return nil so asynq does not retry them; only store failures
// propagate for redelivery.
func (p *Processor) ProcessCallback(ctx context.Context, t *asynq.Task) error {
	outcome, err := p.reconciler.Reconcile(ctx, t.Payload())
	if err != nil {
		log.Printf("callback reconciliation failed, will retry: %v", err)
		return err
	}

	log.Printf("callback reconciled: outcome=%s", outcome)
	return nil
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sokoni/payments/internal/models"
	"github.com/sokoni/payments/internal/mpesa"
	"github.com/sokoni/payments/internal/payment"
)

// ownerIDHeader carries the authenticated principal, set by the upstream
// API layer that terminated user auth.
const ownerIDHeader = "X-Owner-ID"

const idempotencyKeyHeader = "Idempotency-Key"

// PaymentService is the slice of the orchestrator the handlers need.
type PaymentService interface {
	InitiatePayment(ctx context.Context, req payment.InitiateRequest) (*models.Transaction, error)
	GetTransaction(ctx context.Context, reference uuid.UUID) (*models.Transaction, error)
}

// CallbackQueue enqueues raw callback payloads for async reconciliation.
type CallbackQueue interface {
	EnqueueCallback(ctx context.Context, payload []byte) error
}

// Pinger reports store connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	payments  PaymentService
	callbacks CallbackQueue
	db        Pinger
	validator *validator.Validate
}

// NewHandler creates a new handler instance.
func NewHandler(payments PaymentService, callbacks CallbackQueue, db Pinger) *Handler {
	return &Handler{
		payments:  payments,
		callbacks: callbacks,
		db:        db,
		validator: validator.New(),
	}
}

// InitiatePaymentRequest represents the POST /payments/initiate body. The
// amount is deliberately absent: it is snapshotted from the order.
type InitiatePaymentRequest struct {
	OrderID     string `json:"order_id" validate:"required,uuid4"`
	PhoneNumber string `json:"phone_number" validate:"required,min=10,max=13"`
}

// InitiatePayment handles POST /payments/initiate.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(r.Header.Get(ownerIDHeader))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Missing or invalid "+ownerIDHeader+" header")
		return
	}

	var req InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	if err := h.validator.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	var idemKey *uuid.UUID
	if raw := r.Header.Get(idempotencyKeyHeader); raw != "" {
		key, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid "+idempotencyKeyHeader+" header")
			return
		}
		idemKey = &key
	}

	tx, err := h.payments.InitiatePayment(r.Context(), payment.InitiateRequest{
		OrderID:        req.OrderID,
		OwnerID:        ownerID,
		Phone:          req.PhoneNumber,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		respondPaymentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tx)
}

// GetTransaction handles GET /payments/{transactionID}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	reference, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	tx, err := h.payments.GetTransaction(r.Context(), reference)
	if err != nil {
		if errors.Is(err, payment.ErrTransactionNotFound) {
			respondError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("transaction lookup failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to load transaction")
		return
	}

	respondJSON(w, http.StatusOK, tx)
}

// GatewayCallback handles POST /payments/callback. It always acknowledges
// with 200 so the gateway's retry machinery stays quiet; processing happens
// after acknowledgment, on the queue.
func (h *Handler) GatewayCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("failed to read callback body: %v", err)
		acknowledge(w)
		return
	}

	// Minimal shape check only. A structurally broken payload is logged
	// and dropped; the gateway gains nothing from a retry of it.
	var rawPayload map[string]interface{}
	if err := json.Unmarshal(body, &rawPayload); err != nil {
		log.Printf("discarding non-JSON callback: %v", err)
		acknowledge(w)
		return
	}

	if err := h.callbacks.EnqueueCallback(r.Context(), body); err != nil {
		// Still acknowledge: a 5xx would trigger gateway retries that this
		// system treats as duplicates anyway. Loud log for reconciliation.
		log.Printf("FAILED TO QUEUE CALLBACK, manual reconciliation needed: %v; payload=%s", err, body)
	}

	acknowledge(w)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]string{
		"status": "ok",
	}

	if err := h.db.Ping(ctx); err != nil {
		health["database"] = "down"
		health["status"] = "degraded"
	} else {
		health["database"] = "up"
	}

	status := http.StatusOK
	if health["status"] != "ok" {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, health)
}

// respondPaymentError maps the orchestrator's error taxonomy onto HTTP
// statuses with actionable messages.
func respondPaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payment.ErrInvalidOrderID),
		errors.Is(err, mpesa.ErrInvalidPhone),
		errors.Is(err, mpesa.ErrInvalidAmount),
		errors.Is(err, payment.ErrGatewayRejected):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrNotOrderOwner):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, payment.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, payment.ErrOrderNotPayable),
		errors.Is(err, payment.ErrPaymentInFlight):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrGatewayUnavailable):
		respondError(w, http.StatusBadGateway, "Payment gateway unavailable, please try again")
	default:
		log.Printf("payment initiation failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to initiate payment")
	}
}

// acknowledge writes the unconditional callback acknowledgment.
func acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"ResultCode":0,"ResultDesc":"Accepted"}`))
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

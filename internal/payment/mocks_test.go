package payment

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sokoni/payments/internal/models"
	"github.com/sokoni/payments/internal/mpesa"
	"github.com/sokoni/payments/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK ORDER REPOSITORY
// ──────────────────────────────────────────────

type mockOrderRepo struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*models.Order

	SetStatusCallCount int32
	MarkPaidCallCount  int32

	SetStatusError error
	MarkPaidError  error
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[uuid.UUID]*models.Order)}
}

func (m *mockOrderRepo) AddOrder(o *models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *mockOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *o
	return &copy, nil
}

func (m *mockOrderRepo) SetStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) error {
	atomic.AddInt32(&m.SetStatusCallCount, 1)
	if m.SetStatusError != nil {
		return m.SetStatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.Status = status
	return nil
}

func (m *mockOrderRepo) MarkPaid(ctx context.Context, id uuid.UUID) error {
	atomic.AddInt32(&m.MarkPaidCallCount, 1)
	if m.MarkPaidError != nil {
		return m.MarkPaidError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.Status = models.OrderPaid
	o.PaymentStatus = models.PaymentPaid
	return nil
}

// ──────────────────────────────────────────────
// MOCK TRANSACTION REPOSITORY
// ──────────────────────────────────────────────

// mockTxnRepo reproduces the store's guard semantics in memory: the
// one-in-flight-per-order and owner-scoped idempotency-key uniqueness are
// checked inside Create under the lock, and Finalize consumes the
// callback_received latch atomically.
type mockTxnRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Transaction

	CreateCallCount   int32
	FinalizeCallCount int32
	ReviewCallCount   int32

	CreateError   error
	FinalizeError error

	// SkipInFlightLookup simulates the read-then-write race window: the
	// fast-path lookup sees nothing, leaving the Create constraint as the
	// only guard.
	SkipInFlightLookup bool

	// SkipIdemLookups makes the next N idempotency-key lookups miss,
	// simulating a retry racing past the short-circuit before the first
	// request's insert is visible.
	SkipIdemLookups int32
}

func newMockTxnRepo() *mockTxnRepo {
	return &mockTxnRepo{rows: make(map[uuid.UUID]*models.Transaction)}
}

func (m *mockTxnRepo) Add(tx *models.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[tx.Reference] = tx
}

func (m *mockTxnRepo) Get(reference uuid.UUID) *models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.rows[reference]
	if !ok {
		return nil
	}
	copy := *tx
	return &copy
}

func (m *mockTxnRepo) Create(ctx context.Context, tx *models.Transaction) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows {
		if tx.IdempotencyKey != nil && row.IdempotencyKey != nil &&
			row.OwnerID == tx.OwnerID && *row.IdempotencyKey == *tx.IdempotencyKey {
			return repository.ErrDuplicateIdempotencyKey
		}
	}
	for _, row := range m.rows {
		if row.OrderID == tx.OrderID && !row.Status.IsTerminal() {
			return repository.ErrDuplicateInFlight
		}
	}

	tx.ID = uuid.New()
	tx.CreatedAt = time.Now()
	tx.UpdatedAt = tx.CreatedAt
	stored := *tx
	m.rows[tx.Reference] = &stored
	return nil
}

func (m *mockTxnRepo) GetByReference(ctx context.Context, reference uuid.UUID) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.rows[reference]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *tx
	return &copy, nil
}

func (m *mockTxnRepo) GetByIdempotencyKey(ctx context.Context, ownerID, key uuid.UUID) (*models.Transaction, error) {
	if atomic.LoadInt32(&m.SkipIdemLookups) > 0 {
		atomic.AddInt32(&m.SkipIdemLookups, -1)
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.rows {
		if tx.OwnerID == ownerID && tx.IdempotencyKey != nil && *tx.IdempotencyKey == key {
			copy := *tx
			return &copy, nil
		}
	}
	return nil, nil
}

func (m *mockTxnRepo) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.rows {
		if tx.CheckoutRequestID != nil && *tx.CheckoutRequestID == checkoutRequestID {
			copy := *tx
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockTxnRepo) GetInFlightByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Transaction, error) {
	if m.SkipInFlightLookup {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.rows {
		if tx.OrderID == orderID && !tx.Status.IsTerminal() {
			copy := *tx
			return &copy, nil
		}
	}
	return nil, nil
}

func (m *mockTxnRepo) SetGatewayAccepted(ctx context.Context, reference uuid.UUID, checkoutRequestID, merchantRequestID string, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.rows[reference]
	if !ok || tx.Status != models.StatusPending {
		return repository.ErrNotFound
	}
	tx.Status = models.StatusProcessing
	tx.CheckoutRequestID = &checkoutRequestID
	tx.MerchantRequestID = &merchantRequestID
	tx.RawGatewayPayload = raw
	return nil
}

func (m *mockTxnRepo) SetPushError(ctx context.Context, reference uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.rows[reference]
	if !ok {
		return repository.ErrNotFound
	}
	tx.FailureReason = &reason
	return nil
}

func (m *mockTxnRepo) Finalize(ctx context.Context, checkoutRequestID string, fin repository.Finalization) (bool, error) {
	atomic.AddInt32(&m.FinalizeCallCount, 1)
	if m.FinalizeError != nil {
		return false, m.FinalizeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.rows {
		if tx.CheckoutRequestID == nil || *tx.CheckoutRequestID != checkoutRequestID {
			continue
		}
		if tx.CallbackReceived {
			return false, nil
		}
		tx.Status = fin.Status
		tx.ReceiptNumber = fin.ReceiptNumber
		tx.FailureReason = fin.FailureReason
		tx.PaidAt = fin.PaidAt
		tx.NeedsReview = fin.NeedsReview
		tx.RawGatewayPayload = fin.RawPayload
		tx.CallbackReceived = true
		return true, nil
	}
	return false, nil
}

func (m *mockTxnRepo) MarkNeedsReview(ctx context.Context, reference uuid.UUID) error {
	atomic.AddInt32(&m.ReviewCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.rows[reference]
	if !ok {
		return repository.ErrNotFound
	}
	tx.NeedsReview = true
	return nil
}

// ──────────────────────────────────────────────
// MOCK GATEWAY
// ──────────────────────────────────────────────

type mockGateway struct {
	mu sync.Mutex

	PushCallCount int32
	PushError     error

	LastPhone  string
	LastAmount int64
	LastRef    string

	result *mpesa.PushResult
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		result: &mpesa.PushResult{
			CheckoutRequestID: "ws_CO_test_checkout",
			MerchantRequestID: "merchant-test-1",
			Raw:               []byte(`{"ResponseCode":"0"}`),
		},
	}
}

func (m *mockGateway) RequestPush(ctx context.Context, phone string, amount int64, accountRef string) (*mpesa.PushResult, error) {
	atomic.AddInt32(&m.PushCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PushError != nil {
		return nil, m.PushError
	}
	m.LastPhone = phone
	m.LastAmount = amount
	m.LastRef = accountRef
	result := *m.result
	return &result, nil
}

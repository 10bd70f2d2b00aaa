package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokoni/payments/internal/models"
	"github.com/sokoni/payments/internal/mpesa"
)

type serviceFixture struct {
	orders  *mockOrderRepo
	txns    *mockTxnRepo
	gateway *mockGateway
	svc     *Service

	order *models.Order
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		orders:  newMockOrderRepo(),
		txns:    newMockTxnRepo(),
		gateway: newMockGateway(),
	}
	f.svc = NewService(f.orders, f.txns, f.gateway)

	f.order = &models.Order{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		TotalAmount:   decimal.NewFromInt(1000),
		Status:        models.OrderCreated,
		PaymentStatus: models.PaymentUnpaid,
	}
	f.orders.AddOrder(f.order)

	return f
}

func (f *serviceFixture) request() InitiateRequest {
	return InitiateRequest{
		OrderID: f.order.ID.String(),
		OwnerID: f.order.OwnerID,
		Phone:   "+254712345678",
	}
}

func TestInitiatePayment_HappyPath(t *testing.T) {
	f := newServiceFixture(t)

	tx, err := f.svc.InitiatePayment(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, models.StatusProcessing, tx.Status)
	assert.Equal(t, "254712345678", tx.Phone)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, models.DefaultCurrency, tx.Currency)
	require.NotNil(t, tx.CheckoutRequestID)
	assert.Equal(t, "ws_CO_test_checkout", *tx.CheckoutRequestID)
	require.NotNil(t, tx.MerchantRequestID)

	// Push went out with the canonical phone, rounded amount, and the
	// order id as the merchant reference.
	assert.Equal(t, "254712345678", f.gateway.LastPhone)
	assert.Equal(t, int64(1000), f.gateway.LastAmount)
	assert.Equal(t, f.order.ID.String(), f.gateway.LastRef)

	// Order moved CREATED -> PAYMENT_PENDING.
	order, err := f.orders.GetByID(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaymentPending, order.Status)

	// Stored row matches what was returned.
	stored := f.txns.Get(tx.Reference)
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusProcessing, stored.Status)
}

func TestInitiatePayment_AmountSnapshottedFromOrder(t *testing.T) {
	f := newServiceFixture(t)

	tx, err := f.svc.InitiatePayment(context.Background(), f.request())
	require.NoError(t, err)

	// Later order mutations must not affect the snapshot.
	f.order.TotalAmount = decimal.NewFromInt(9999)
	f.orders.AddOrder(f.order)

	stored := f.txns.Get(tx.Reference)
	assert.True(t, stored.Amount.Equal(decimal.NewFromInt(1000)))
}

func TestInitiatePayment_IdempotencyShortCircuit(t *testing.T) {
	f := newServiceFixture(t)
	key := uuid.New()

	req := f.request()
	req.IdempotencyKey = &key

	first, err := f.svc.InitiatePayment(context.Background(), req)
	require.NoError(t, err)

	second, err := f.svc.InitiatePayment(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Reference, second.Reference)
	// Exactly one gateway call for the two requests.
	assert.Equal(t, int32(1), f.gateway.PushCallCount)
}

func TestInitiatePayment_IdempotencyKeyInsertRace(t *testing.T) {
	f := newServiceFixture(t)
	key := uuid.New()

	req := f.request()
	req.IdempotencyKey = &key

	first, err := f.svc.InitiatePayment(context.Background(), req)
	require.NoError(t, err)

	// Simulate the second retry racing past the short-circuit and the
	// in-flight fast path: its lookup misses, the insert hits the
	// idempotency index, and the service re-reads the winning row.
	f.txns.SkipIdemLookups = 1
	f.txns.SkipInFlightLookup = true

	second, err := f.svc.InitiatePayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Reference, second.Reference)
	assert.Equal(t, int32(1), f.gateway.PushCallCount)
}

func TestInitiatePayment_SecondAttemptConflicts(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.InitiatePayment(context.Background(), f.request())
	require.NoError(t, err)

	_, err = f.svc.InitiatePayment(context.Background(), f.request())
	assert.ErrorIs(t, err, ErrPaymentInFlight)
	assert.Equal(t, int32(1), f.gateway.PushCallCount)
}

func TestInitiatePayment_ConcurrentAttemptsSingleWinner(t *testing.T) {
	f := newServiceFixture(t)
	// Blind the fast-path lookup so both goroutines reach the insert; the
	// store constraint must still admit exactly one.
	f.txns.SkipInFlightLookup = true

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.InitiatePayment(context.Background(), f.request())
		}(i)
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrPaymentInFlight):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicted)
	assert.Equal(t, int32(1), f.gateway.PushCallCount)
}

func TestInitiatePayment_InvalidPhoneBeforeAnyWrite(t *testing.T) {
	f := newServiceFixture(t)

	req := f.request()
	req.Phone = "123"

	_, err := f.svc.InitiatePayment(context.Background(), req)
	assert.ErrorIs(t, err, mpesa.ErrInvalidPhone)

	// No partial state: nothing inserted, no gateway call, order untouched.
	assert.Equal(t, int32(0), f.txns.CreateCallCount)
	assert.Equal(t, int32(0), f.gateway.PushCallCount)
	order, _ := f.orders.GetByID(context.Background(), f.order.ID)
	assert.Equal(t, models.OrderCreated, order.Status)
}

func TestInitiatePayment_InvalidOrderID(t *testing.T) {
	f := newServiceFixture(t)

	req := f.request()
	req.OrderID = "not-a-uuid"

	_, err := f.svc.InitiatePayment(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidOrderID)
}

func TestInitiatePayment_OrderNotFound(t *testing.T) {
	f := newServiceFixture(t)

	req := f.request()
	req.OrderID = uuid.New().String()

	_, err := f.svc.InitiatePayment(context.Background(), req)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestInitiatePayment_OwnershipEnforced(t *testing.T) {
	f := newServiceFixture(t)

	req := f.request()
	req.OwnerID = uuid.New()

	_, err := f.svc.InitiatePayment(context.Background(), req)
	assert.ErrorIs(t, err, ErrNotOrderOwner)
}

func TestInitiatePayment_OrderNotPayable(t *testing.T) {
	for _, status := range []models.OrderStatus{models.OrderPaid, models.OrderFulfilled, models.OrderCancelled, models.OrderExpired} {
		t.Run(string(status), func(t *testing.T) {
			f := newServiceFixture(t)
			f.order.Status = status
			f.orders.AddOrder(f.order)

			_, err := f.svc.InitiatePayment(context.Background(), f.request())
			assert.ErrorIs(t, err, ErrOrderNotPayable)
		})
	}
}

func TestInitiatePayment_PaymentPendingOrderStillPayable(t *testing.T) {
	f := newServiceFixture(t)
	f.order.Status = models.OrderPaymentPending
	f.orders.AddOrder(f.order)

	tx, err := f.svc.InitiatePayment(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, tx.Status)

	// Already PAYMENT_PENDING; no redundant status write.
	assert.Equal(t, int32(0), f.orders.SetStatusCallCount)
}

func TestInitiatePayment_GatewayRejectionLeavesDanglingPending(t *testing.T) {
	f := newServiceFixture(t)
	f.gateway.PushError = mpesa.ErrPushRejected

	_, err := f.svc.InitiatePayment(context.Background(), f.request())
	assert.ErrorIs(t, err, ErrGatewayRejected)

	// The row exists in PENDING with no gateway ids and the reason set.
	dangling, lookupErr := f.txns.GetInFlightByOrderID(context.Background(), f.order.ID)
	require.NoError(t, lookupErr)
	require.NotNil(t, dangling)
	assert.Equal(t, models.StatusPending, dangling.Status)
	assert.Nil(t, dangling.CheckoutRequestID)
	require.NotNil(t, dangling.FailureReason)
}

func TestInitiatePayment_GatewayOutageLeavesDanglingPending(t *testing.T) {
	f := newServiceFixture(t)
	f.gateway.PushError = mpesa.ErrUnavailable

	_, err := f.svc.InitiatePayment(context.Background(), f.request())
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	dangling, lookupErr := f.txns.GetInFlightByOrderID(context.Background(), f.order.ID)
	require.NoError(t, lookupErr)
	require.NotNil(t, dangling)
	assert.Equal(t, models.StatusPending, dangling.Status)
}

func TestInitiatePayment_OrderTotalOutOfGatewayBounds(t *testing.T) {
	f := newServiceFixture(t)
	f.order.TotalAmount = decimal.NewFromInt(5000000)
	f.orders.AddOrder(f.order)

	_, err := f.svc.InitiatePayment(context.Background(), f.request())
	assert.ErrorIs(t, err, mpesa.ErrInvalidAmount)
	assert.Equal(t, int32(0), f.gateway.PushCallCount)
}

func TestGetTransaction(t *testing.T) {
	f := newServiceFixture(t)

	created, err := f.svc.InitiatePayment(context.Background(), f.request())
	require.NoError(t, err)

	got, err := f.svc.GetTransaction(context.Background(), created.Reference)
	require.NoError(t, err)
	assert.Equal(t, created.Reference, got.Reference)

	_, err = f.svc.GetTransaction(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestInitiatePayment_DeterministicClockAndRef(t *testing.T) {
	f := newServiceFixture(t)

	fixedRef := uuid.New()
	f.svc.newRef = func() uuid.UUID { return fixedRef }
	f.svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	tx, err := f.svc.InitiatePayment(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, fixedRef, tx.Reference)
}

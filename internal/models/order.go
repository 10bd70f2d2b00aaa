package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus represents valid order states. Orders are owned by the order
// service upstream; this service only reads them and advances
// CREATED -> PAYMENT_PENDING -> PAID.
type OrderStatus string

const (
	OrderCreated        OrderStatus = "CREATED"
	OrderPaymentPending OrderStatus = "PAYMENT_PENDING"
	OrderPaid           OrderStatus = "PAID"
	OrderFulfilled      OrderStatus = "FULFILLED"
	OrderCancelled      OrderStatus = "CANCELLED"
	OrderExpired        OrderStatus = "EXPIRED"
)

// OrderPaymentStatus tracks how much of the order has been settled.
type OrderPaymentStatus string

const (
	PaymentUnpaid   OrderPaymentStatus = "UNPAID"
	PaymentPartial  OrderPaymentStatus = "PARTIAL"
	PaymentPaid     OrderPaymentStatus = "PAID"
	PaymentRefunded OrderPaymentStatus = "REFUNDED"
)

// Order is the slice of the order record this service cares about.
type Order struct {
	ID            uuid.UUID          `db:"id" json:"id"`
	OwnerID       uuid.UUID          `db:"owner_id" json:"owner_id"`
	TotalAmount   decimal.Decimal    `db:"total_amount" json:"total_amount"`
	Status        OrderStatus        `db:"status" json:"status"`
	PaymentStatus OrderPaymentStatus `db:"payment_status" json:"payment_status"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
}

// IsPayable reports whether a payment may be initiated against the order.
func (o *Order) IsPayable() bool {
	return o.Status == OrderCreated || o.Status == OrderPaymentPending
}

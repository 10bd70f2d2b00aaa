package payment

import "errors"

var (
	// ErrInvalidOrderID is returned when the order id is not a well-formed
	// identifier.
	ErrInvalidOrderID = errors.New("invalid order id")

	// ErrOrderNotFound is returned when the order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNotOrderOwner is returned when the caller does not own the order.
	ErrNotOrderOwner = errors.New("order belongs to another account")

	// ErrOrderNotPayable is returned when the order is not in a payable state.
	ErrOrderNotPayable = errors.New("order cannot be paid")

	// ErrPaymentInFlight is returned when the order already has a
	// non-terminal payment attempt.
	ErrPaymentInFlight = errors.New("payment already initiated")

	// ErrGatewayRejected is returned when the gateway rejected the push
	// input. The transaction row stays PENDING without gateway ids.
	ErrGatewayRejected = errors.New("payment request rejected")

	// ErrGatewayUnavailable is returned on gateway transport or
	// infrastructure failure. Safe to tell the user to try again later.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrTransactionNotFound is returned when a transaction lookup misses.
	ErrTransactionNotFound = errors.New("transaction not found")
)

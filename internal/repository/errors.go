package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateInFlight is returned when inserting a transaction would
	// violate the one-in-flight-attempt-per-order index.
	ErrDuplicateInFlight = errors.New("order already has an in-flight transaction")

	// ErrDuplicateIdempotencyKey is returned when inserting a transaction
	// would violate the (owner_id, idempotency_key) index. The caller
	// should re-read and return the existing row.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
)

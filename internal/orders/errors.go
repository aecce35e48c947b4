package orders

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrStatusMismatch means a conditional write saw a different current state than expected.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrInvalidTransition is an edge the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrTerminalStatus wraps ErrInvalidTransition for completed/cancelled orders.
	ErrTerminalStatus = fmt.Errorf("%w: order is in a terminal status", ErrInvalidTransition)
	// ErrAlreadyInStatus lets callers tell "already there" apart from "not allowed".
	ErrAlreadyInStatus = errors.New("order is already in the requested status")
	// ErrInvalidPayload is a violated order invariant.
	ErrInvalidPayload = errors.New("invalid order payload")
	// ErrDuplicateRequest means the idempotency key was already used.
	ErrDuplicateRequest = errors.New("duplicate request for idempotency key")
	// ErrOrderNumberTaken means every order number attempt hit an existing guard.
	ErrOrderNumberTaken = errors.New("order number already taken")
	// ErrPaymentAlreadyAttached means a different payment is bound to the order.
	ErrPaymentAlreadyAttached = errors.New("another payment is already attached to the order")
	// ErrOrderCancelled means a payment cannot be bound because the order is already cancelled.
	ErrOrderCancelled = errors.New("order is cancelled")
)

package service

import "errors"

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("operation not permitted")
	// ErrNotFound is also returned for orders the caller may not see.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidRequest wraps input the snapshotter or state checks rejected.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrConflict means the order changed underneath the request.
	ErrConflict = errors.New("order was modified concurrently")
	// ErrPaymentGateway hides processor failures from callers; details are logged and alerted.
	ErrPaymentGateway = errors.New("payment provider unavailable")
)

package orders

import (
	"fmt"
	"slices"
)

var statusTransitions = map[Status][]Status{
	StatusProcessing: {StatusAssembled, StatusCancelled},
	StatusAssembled:  {StatusSent, StatusCancelled},
	StatusSent:       {StatusDelivered},
	StatusDelivered:  {StatusCompleted},
}

// IsTerminal reports whether no transition may leave the status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether from → to is an edge of the order state machine.
func CanTransition(from, to Status) bool {
	return slices.Contains(statusTransitions[from], to)
}

// Transition validates from → to. Staying in place is reported as
// ErrAlreadyInStatus rather than accepted, so callers can tell it apart.
func Transition(from, to Status) error {
	if from == to {
		return fmt.Errorf("%w: %s", ErrAlreadyInStatus, from)
	}
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s → %s", ErrTerminalStatus, from, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// CustomerCancellable checks the state half of a customer cancellation: the order must
// still be processing and its payment must not be settled. Ownership is the access
// layer's job.
func CustomerCancellable(o Order) error {
	if o.Status != StatusProcessing {
		if o.Status == StatusCancelled {
			return fmt.Errorf("%w: %s", ErrAlreadyInStatus, o.Status)
		}
		return fmt.Errorf("%w: only processing orders can be cancelled by the customer, order is %s", ErrInvalidTransition, o.Status)
	}
	if o.PaymentStatus == PaymentSucceeded {
		return fmt.Errorf("%w: payment is already captured", ErrInvalidTransition)
	}
	return nil
}

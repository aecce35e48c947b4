package orders

import "slices"

// PaymentStatus is the local view of the two-stage payment. It is a separate
// machine from Status; ReconcilePayment is the only place the two meet.
type PaymentStatus string

const (
	PaymentNone           PaymentStatus = "none"
	PaymentCreated        PaymentStatus = "created"
	PaymentWaitingCapture PaymentStatus = "waiting_capture"
	PaymentSucceeded      PaymentStatus = "succeeded"
	PaymentCanceled       PaymentStatus = "canceled"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentNone:           {PaymentCreated, PaymentWaitingCapture, PaymentSucceeded, PaymentCanceled},
	PaymentCreated:        {PaymentWaitingCapture, PaymentSucceeded, PaymentCanceled},
	PaymentWaitingCapture: {PaymentSucceeded, PaymentCanceled},
}

// CanTransitionPayment reports whether from → to is an edge of the payment machine.
func CanTransitionPayment(from, to PaymentStatus) bool {
	if from == "" {
		from = PaymentNone
	}
	return slices.Contains(paymentTransitions[from], to)
}

// Holds reports whether the processor may still be holding customer funds that a
// cancel call would release.
func (p PaymentStatus) Holds() bool {
	return p == PaymentCreated || p == PaymentWaitingCapture
}

// OutcomeKind classifies what reconciling a payment state did.
type OutcomeKind string

const (
	OutcomeApplied OutcomeKind = "applied"
	OutcomeNoop    OutcomeKind = "noop"
	OutcomeStale   OutcomeKind = "stale"
)

// Outcome describes the result of ReconcilePayment. Conflict is non-empty when the
// processor's state disagrees with fulfilment in a way an operator must resolve.
type Outcome struct {
	Kind     OutcomeKind
	Conflict string
}

// Change is one atomic update of an order, guarded by the state it was computed from.
type Change struct {
	ExpectedStatus  Status
	ExpectedPayment PaymentStatus

	Status         Status
	PaymentStatus  PaymentStatus
	PaymentID      string
	TrackingNumber string

	// Filter is an access restriction evaluated inside the same conditional write.
	Filter Filter
}

// StatusChanged reports whether the change moves the order status.
func (c Change) StatusChanged() bool { return c.Status != c.ExpectedStatus }

// ReconcilePayment maps a payment state reported by the processor onto the order.
// Payment status always follows the processor when the payment edge is legal; the
// order status only moves along legal order edges, and a terminal order never moves.
func ReconcilePayment(o Order, next PaymentStatus) (Change, Outcome) {
	current := o.PaymentStatus
	if current == "" {
		current = PaymentNone
	}
	change := Change{
		ExpectedStatus:  o.Status,
		ExpectedPayment: current,
		Status:          o.Status,
		PaymentStatus:   current,
	}

	if current == next {
		return change, Outcome{Kind: OutcomeNoop}
	}
	if !CanTransitionPayment(current, next) {
		return change, Outcome{Kind: OutcomeStale}
	}

	change.PaymentStatus = next
	out := Outcome{Kind: OutcomeApplied}

	switch next {
	case PaymentCanceled:
		switch {
		case o.Status == StatusCancelled:
		case o.Status.IsTerminal():
			out.Conflict = "payment canceled on a completed order"
		case CanTransition(o.Status, StatusCancelled):
			change.Status = StatusCancelled
		default:
			out.Conflict = "payment canceled after the order was " + string(o.Status)
		}
	case PaymentSucceeded:
		if o.Status == StatusCancelled {
			out.Conflict = "payment captured on a cancelled order"
		}
	case PaymentWaitingCapture:
		if o.Status == StatusCancelled {
			out.Conflict = "funds held for a cancelled order"
		}
	}
	return change, out
}

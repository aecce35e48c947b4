package orders

import (
	"errors"
	"testing"
)

func TestTransitionFollowsEdges(t *testing.T) {
	legal := [][2]Status{
		{StatusProcessing, StatusAssembled},
		{StatusProcessing, StatusCancelled},
		{StatusAssembled, StatusSent},
		{StatusAssembled, StatusCancelled},
		{StatusSent, StatusDelivered},
		{StatusDelivered, StatusCompleted},
	}
	for _, e := range legal {
		if err := Transition(e[0], e[1]); err != nil {
			t.Fatalf("%s → %s should be legal: %v", e[0], e[1], err)
		}
	}

	illegal := [][2]Status{
		{StatusProcessing, StatusSent},
		{StatusProcessing, StatusCompleted},
		{StatusSent, StatusCancelled},
		{StatusSent, StatusProcessing},
		{StatusDelivered, StatusCancelled},
	}
	for _, e := range illegal {
		err := Transition(e[0], e[1])
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s → %s: expected ErrInvalidTransition, got %v", e[0], e[1], err)
		}
	}
}

func TestTerminalStatusesAcceptNothing(t *testing.T) {
	all := []Status{StatusProcessing, StatusAssembled, StatusSent, StatusDelivered, StatusCompleted, StatusCancelled}
	for _, from := range []Status{StatusCompleted, StatusCancelled} {
		for _, to := range all {
			if from == to {
				continue
			}
			err := Transition(from, to)
			if !errors.Is(err, ErrTerminalStatus) {
				t.Fatalf("%s → %s: expected ErrTerminalStatus, got %v", from, to, err)
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("terminal errors must also be invalid transitions")
			}
		}
	}
}

func TestTransitionDistinguishesAlreadyInStatus(t *testing.T) {
	err := Transition(StatusCancelled, StatusCancelled)
	if !errors.Is(err, ErrAlreadyInStatus) {
		t.Fatalf("expected ErrAlreadyInStatus, got %v", err)
	}
	if errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("already-in-status must not look like a forbidden transition")
	}
}

func TestCustomerCancellable(t *testing.T) {
	cases := []struct {
		name    string
		order   Order
		wantErr error
	}{
		{"processing unpaid", Order{Status: StatusProcessing, PaymentStatus: PaymentNone}, nil},
		{"processing held", Order{Status: StatusProcessing, PaymentStatus: PaymentWaitingCapture}, nil},
		{"processing paid", Order{Status: StatusProcessing, PaymentStatus: PaymentSucceeded}, ErrInvalidTransition},
		{"assembled", Order{Status: StatusAssembled}, ErrInvalidTransition},
		{"sent", Order{Status: StatusSent}, ErrInvalidTransition},
		{"cancelled", Order{Status: StatusCancelled}, ErrAlreadyInStatus},
	}
	for _, tc := range cases {
		err := CustomerCancellable(tc.order)
		if tc.wantErr == nil && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("sent"); err != nil || s != StatusSent {
		t.Fatalf("ParseStatus(sent) = %q, %v", s, err)
	}
	if _, err := ParseStatus("shipped"); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

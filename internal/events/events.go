package events

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
)

// Type names a domain event.
type Type string

const (
	OrderCreated         Type = "order.created"
	OrderPaid            Type = "order.paid"
	OrderCancelled       Type = "order.cancelled"
	OrderStatusChanged   Type = "order.status_changed"
	OrderPaymentCaptured Type = "order.payment_captured"
)

// OrderEvent is published whenever an order reaches a state other services care about.
type OrderEvent struct {
	EventID       string               `json:"event_id"`
	Type          Type                 `json:"type"`
	OrderID       int64                `json:"order_id"`
	OrderNumber   string               `json:"order_number"`
	CustomerID    int64                `json:"customer_id"`
	Status        orders.Status        `json:"status"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
	Total         orders.Money         `json:"total"`
	Timestamp     time.Time            `json:"timestamp"`
	RequestID     string               `json:"request_id,omitempty"`
}

// NewOrderEvent snapshots the order into an event with a fresh ULID.
func NewOrderEvent(t Type, o *orders.Order, requestID string) OrderEvent {
	return OrderEvent{
		EventID:       ulid.Make().String(),
		Type:          t,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		CustomerID:    o.CustomerID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Total:         o.Total,
		Timestamp:     time.Now().UTC(),
		RequestID:     requestID,
	}
}

// DedupKey identifies the business effect of an event independently of its EventID, so
// consumers can drop redeliveries and republished copies alike. Status changes are keyed by
// the status reached; the state machine never enters the same status twice.
func (e OrderEvent) DedupKey() string {
	effect := string(e.Type)
	if e.Type == OrderStatusChanged {
		effect += ":" + string(e.Status)
	}
	return idempotency.NotificationKey(effect, e.OrderID)
}

// Publisher delivers order events.
type Publisher interface {
	Publish(ctx context.Context, e OrderEvent) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e OrderEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops events; used when no transport is configured.
type Nop struct{}

func (Nop) Publish(context.Context, OrderEvent) error { return nil }

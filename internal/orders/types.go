package orders

import (
	"fmt"
	"time"
)

// Status is the fulfilment status of an order.
type Status string

// Order statuses
const (
	StatusProcessing Status = "processing"
	StatusAssembled  Status = "assembled"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ParseStatus validates a status coming from an API caller.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	switch s {
	case StatusProcessing, StatusAssembled, StatusSent, StatusDelivered, StatusCompleted, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidPayload, v)
}

// DeliveryType tells how the order reaches the customer.
type DeliveryType string

const (
	DeliveryPickup   DeliveryType = "pickup"
	DeliveryDelivery DeliveryType = "delivery"
)

// LineItem is an immutable snapshot of a product taken when the order was placed.
type LineItem struct {
	ProductID int64  `dynamodbav:"product_id" json:"productId"`
	Title     string `dynamodbav:"title" json:"title"`
	Price     Money  `dynamodbav:"price" json:"price"`
	Quantity  int    `dynamodbav:"quantity" json:"quantity"`
}

// Subtotal is price × quantity for the line.
func (li LineItem) Subtotal() Money {
	return li.Price.Mul(li.Quantity)
}

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	ID             int64         `dynamodbav:"order_id" json:"id"` // PK
	OrderNumber    string        `dynamodbav:"order_number" json:"orderNumber"`
	CustomerID     int64         `dynamodbav:"customer_id" json:"customer"` // GSI customer_id-index
	Items          []LineItem    `dynamodbav:"items" json:"items"`
	DeliveryType   DeliveryType  `dynamodbav:"delivery_type" json:"deliveryType"`
	Address        string        `dynamodbav:"address,omitempty" json:"address,omitempty"`
	Status         Status        `dynamodbav:"status" json:"status"`
	PaymentID      string        `dynamodbav:"payment_id,omitempty" json:"paymentId,omitempty"`
	PaymentStatus  PaymentStatus `dynamodbav:"payment_status" json:"paymentStatus"`
	PaymentLink    string        `dynamodbav:"payment_link,omitempty" json:"paymentLink,omitempty"`
	TrackingNumber string        `dynamodbav:"tracking_number,omitempty" json:"trackingNumber,omitempty"`
	Total          Money         `dynamodbav:"total" json:"total"`
	CreatedAt      time.Time     `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt      time.Time     `dynamodbav:"updated_at" json:"updatedAt"`
}

// Payload is everything needed to persist a new order. It is produced by the
// pricing snapshotter; the store assigns identity, status and timestamps.
type Payload struct {
	CustomerID   int64
	Items        []LineItem
	DeliveryType DeliveryType
	Address      string
	Total        Money
}

// Validate checks the order invariants that must hold before anything is written.
func (p Payload) Validate() error {
	if p.CustomerID <= 0 {
		return fmt.Errorf("%w: customer is required", ErrInvalidPayload)
	}
	if len(p.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidPayload)
	}
	sum := Zero()
	for _, it := range p.Items {
		if it.Quantity < 1 {
			return fmt.Errorf("%w: product %d has quantity %d", ErrInvalidPayload, it.ProductID, it.Quantity)
		}
		if it.Price.IsNegative() {
			return fmt.Errorf("%w: product %d has a negative price", ErrInvalidPayload, it.ProductID)
		}
		sum = sum.Add(it.Subtotal())
	}
	switch p.DeliveryType {
	case DeliveryDelivery:
		if p.Address == "" {
			return fmt.Errorf("%w: address is required for delivery", ErrInvalidPayload)
		}
	case DeliveryPickup:
		if p.Address != "" {
			return fmt.Errorf("%w: address must be empty for pickup", ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("%w: unknown delivery type %q", ErrInvalidPayload, p.DeliveryType)
	}
	if !sum.Equal(p.Total) {
		return fmt.Errorf("%w: total %s does not match items sum %s", ErrInvalidPayload, p.Total, sum)
	}
	return nil
}

package payments

import (
	"fmt"
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
)

// External payment states reported by the processor.
const (
	ExternalPending           = "pending"
	ExternalWaitingForCapture = "waiting_for_capture"
	ExternalSucceeded         = "succeeded"
	ExternalCanceled          = "canceled"
)

// MapStatus translates a processor payment state into the local payment status.
func MapStatus(external string) (orders.PaymentStatus, bool) {
	switch external {
	case ExternalPending:
		return orders.PaymentCreated, true
	case ExternalWaitingForCapture:
		return orders.PaymentWaitingCapture, true
	case ExternalSucceeded:
		return orders.PaymentSucceeded, true
	case ExternalCanceled:
		return orders.PaymentCanceled, true
	}
	return "", false
}

// Payment is the processor's view of a payment.
type Payment struct {
	ID              string
	Status          string
	Paid            bool
	Amount          orders.Money
	Currency        string
	ConfirmationURL string
	Metadata        map[string]string
	CreatedAt       time.Time
}

// LocalStatus maps Status, or returns an error for states this service does not know.
func (p Payment) LocalStatus() (orders.PaymentStatus, error) {
	st, ok := MapStatus(p.Status)
	if !ok {
		return "", fmt.Errorf("payments: unknown payment status %q", p.Status)
	}
	return st, nil
}

// ReceiptItem is one fiscal receipt line.
type ReceiptItem struct {
	Description string
	Quantity    int
	Amount      orders.Money // unit price
}

// Receipt is the fiscal receipt sent along with a payment.
type Receipt struct {
	Email string
	Items []ReceiptItem
}

// BuildReceipt returns a receipt for the order lines, or nil when the customer email or the
// lines are unavailable.
func BuildReceipt(email string, items []orders.LineItem) *Receipt {
	if email == "" || len(items) == 0 {
		return nil
	}
	r := &Receipt{Email: email, Items: make([]ReceiptItem, len(items))}
	for i, it := range items {
		r.Items[i] = ReceiptItem{Description: it.Title, Quantity: it.Quantity, Amount: it.Price}
	}
	return r
}

// CreatePaymentRequest describes a two-stage payment to authorize.
type CreatePaymentRequest struct {
	Amount      orders.Money
	Description string
	ReturnURL   string
	Metadata    map[string]string
	Receipt     *Receipt
	// IdempotencyKey is generated when empty. Pass the same key to retry one logical call.
	IdempotencyKey string
}

// GatewayError is a non-2xx answer from the processor. Body is the raw response for diagnostics
// and must not be shown to customers.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payments: %s: gateway returned %d: %s", e.Op, e.StatusCode, e.Body)
}

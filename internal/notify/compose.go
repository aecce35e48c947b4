package notify

import (
	"fmt"
	"html"

	"github.com/imrishuroy/marketplace-orderflow/internal/events"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
)

// Compose renders the customer email for an event. It reports false for events that do not
// notify the customer.
func Compose(e events.OrderEvent, to string) (Message, bool) {
	var subject, body string
	switch e.Type {
	case events.OrderCreated:
		subject = fmt.Sprintf("Order %s received", e.OrderNumber)
		body = fmt.Sprintf("Thank you for your order %s. Total: %s. Complete the payment to start assembly.", e.OrderNumber, e.Total.StringFixed(2))
	case events.OrderPaid:
		subject = fmt.Sprintf("Payment received for order %s", e.OrderNumber)
		body = fmt.Sprintf("We received your payment of %s for order %s.", e.Total.StringFixed(2), e.OrderNumber)
	case events.OrderCancelled:
		subject = fmt.Sprintf("Order %s cancelled", e.OrderNumber)
		body = fmt.Sprintf("Your order %s has been cancelled.", e.OrderNumber)
		if e.PaymentStatus == orders.PaymentCanceled {
			body += " The held funds have been released."
		}
	case events.OrderStatusChanged:
		subject = fmt.Sprintf("Order %s is %s", e.OrderNumber, e.Status)
		body = fmt.Sprintf("Your order %s is now %s.", e.OrderNumber, e.Status)
	default:
		return Message{}, false
	}
	return Message{
		To:      to,
		Subject: subject,
		Text:    body,
		HTML:    "<p>" + html.EscapeString(body) + "</p>",
		Tag:     string(e.Type),
	}, true
}

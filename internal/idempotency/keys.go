package idempotency

import "fmt"

// Key namespaces in the shared ledger table.
const (
	prefixRequest      = "order"
	prefixWebhook      = "webhook"
	prefixNotification = "notify"
)

// RequestKey scopes a client Idempotency-Key to the user that sent it.
func RequestKey(userID, clientKey string) string {
	return prefixRequest + ":" + userID + ":" + clientKey
}

// WebhookKey identifies one payment state change of one order.
func WebhookKey(orderID int64, paymentID, paymentStatus string) string {
	return fmt.Sprintf("%s:%d:%s:%s", prefixWebhook, orderID, paymentID, paymentStatus)
}

// NotificationKey identifies one customer notification about an order event.
func NotificationKey(eventType string, orderID int64) string {
	return fmt.Sprintf("%s:%s:%d", prefixNotification, eventType, orderID)
}


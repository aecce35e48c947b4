package main

import (
	"context"
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/customers"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
)

// Ledger records which notifications were already sent.
type Ledger interface {
	Claim(ctx context.Context, key string, orderID int64, lease time.Duration) (idempotency.ClaimResult, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// CustomerDirectory finds the recipient of an order's emails.
type CustomerDirectory interface {
	FindByID(ctx context.Context, customerID int64) (*customers.Customer, error)
}

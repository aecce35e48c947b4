package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/customers"
	"github.com/imrishuroy/marketplace-orderflow/internal/events"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/notify"
)

var errNotificationBusy = errors.New("notification is being sent by another worker")

// Processor turns order events from SQS into customer emails, at most once per DedupKey.
type Processor struct {
	ledger    Ledger
	customers CustomerDirectory
	mailer    notify.Mailer
	lease     time.Duration
	logger    *zap.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(ledger Ledger, directory CustomerDirectory, mailer notify.Mailer, lease time.Duration, logger *zap.Logger) *Processor {
	return &Processor{
		ledger:    ledger,
		customers: directory,
		mailer:    mailer,
		lease:     lease,
		logger:    logger,
	}
}

// Handle processes an SQS batch and reports failed records individually, so one bad message
// does not redeliver the whole batch.
func (p *Processor) Handle(ctx context.Context, ev lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	var resp lambdaevents.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("worker error", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, lambdaevents.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec lambdaevents.SQSMessage) error {
	var e events.OrderEvent
	if err := json.Unmarshal([]byte(rec.Body), &e); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	log := p.logger.With(
		zap.String("event_id", e.EventID),
		zap.String("event_type", string(e.Type)),
		zap.Int64("order_id", e.OrderID),
		zap.String("request_id", e.RequestID),
	)

	// drop types without an email before touching the ledger
	if _, ok := notify.Compose(e, ""); !ok {
		log.Debug("no notification for event type")
		return nil
	}

	key := e.DedupKey()
	claim, err := p.ledger.Claim(ctx, key, e.OrderID, p.lease)
	if err != nil {
		return fmt.Errorf("claim notification: %w", err)
	}
	switch claim {
	case idempotency.ClaimDone:
		log.Info("notification already sent")
		return nil
	case idempotency.ClaimBusy:
		return errNotificationBusy
	}

	customer, err := p.customers.FindByID(ctx, e.CustomerID)
	if errors.Is(err, customers.ErrNotFound) || (err == nil && customer.Email == "") {
		log.Warn("no recipient for notification", zap.Int64("customer_id", e.CustomerID))
		return p.ledger.MarkDone(ctx, key, "skipped:no_recipient", 200)
	}
	if err != nil {
		p.fail(ctx, log, key, err)
		return fmt.Errorf("lookup customer: %w", err)
	}

	msg, _ := notify.Compose(e, customer.Email)
	if err := p.mailer.Send(ctx, msg); err != nil {
		p.fail(ctx, log, key, err)
		return err
	}

	if err := p.ledger.MarkDone(ctx, key, "sent", 200); err != nil {
		return fmt.Errorf("failed to update idempotency: %w", err)
	}
	log.Info("notification sent")
	return nil
}

func (p *Processor) fail(ctx context.Context, log *zap.Logger, key string, cause error) {
	if err := p.ledger.MarkFailed(ctx, key, cause.Error()); err != nil {
		log.Error("failed to mark notification failed", zap.Error(err))
	}
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
)

// SQSPublisher sends events to the orders queue consumed by the notification worker.
type SQSPublisher struct {
	queue *aws.Publisher
}

func NewSQSPublisher(queue *aws.Publisher) *SQSPublisher {
	return &SQSPublisher{queue: queue}
}

func (p *SQSPublisher) Publish(ctx context.Context, e OrderEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := aws.Message{
		Body: string(body),
		Attributes: map[string]string{
			"event_type": string(e.Type),
			"order_id":   formatInt(e.OrderID),
			"request_id": e.RequestID,
		},
		// per-order ordering on FIFO queues
		GroupID:         formatInt(e.OrderID),
		DeduplicationID: e.EventID,
	}
	if err := p.queue.Send(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to sqs: %w", e.Type, err)
	}
	return nil
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

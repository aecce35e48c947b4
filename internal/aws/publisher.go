package aws

import (
	"context"
	"fmt"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Message is one queue message. GroupID and DeduplicationID are only sent to FIFO queues.
type Message struct {
	Body            string
	Attributes      map[string]string
	GroupID         string
	DeduplicationID string
}

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// FIFO reports whether the bound queue is a FIFO queue.
func (p *Publisher) FIFO() bool { return strings.HasSuffix(p.QueueURL, ".fifo") }

// Send delivers m to the queue. Attributes are sent as String MessageAttributes; empty values are skipped.
func (p *Publisher) Send(ctx context.Context, m Message) error {
	if p.QueueURL == "" {
		return fmt.Errorf("send message: queue url is not configured")
	}
	input := &sqs.SendMessageInput{
		QueueUrl:          sdkaws.String(p.QueueURL),
		MessageBody:       sdkaws.String(m.Body),
		MessageAttributes: stringAttributes(m.Attributes),
	}
	if p.FIFO() {
		if m.GroupID == "" {
			return fmt.Errorf("send message: fifo queue requires a group id")
		}
		input.MessageGroupId = sdkaws.String(m.GroupID)
		if m.DeduplicationID != "" {
			input.MessageDeduplicationId = sdkaws.String(m.DeduplicationID)
		}
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func stringAttributes(in map[string]string) map[string]sqstypes.MessageAttributeValue {
	out := map[string]sqstypes.MessageAttributeValue{}
	for k, v := range in {
		if v == "" {
			continue
		}
		out[k] = sqstypes.MessageAttributeValue{
			DataType:    sdkaws.String("String"),
			StringValue: sdkaws.String(v),
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

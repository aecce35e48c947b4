package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
)

type captureSQS struct {
	inputs []*sqs.SendMessageInput
}

func (c *captureSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	c.inputs = append(c.inputs, in)
	return &sqs.SendMessageOutput{}, nil
}

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func sampleOrder() *orders.Order {
	return &orders.Order{
		ID: 42, OrderNumber: "ORD-5-1", CustomerID: 5,
		Status: orders.StatusProcessing, PaymentStatus: orders.PaymentSucceeded,
		Total: orders.MoneyFromInt(300),
	}
}

func TestNewOrderEvent(t *testing.T) {
	e := NewOrderEvent(OrderPaid, sampleOrder(), "req-1")
	assert.Len(t, e.EventID, 26)
	assert.Equal(t, "notify:order.paid:42", e.DedupKey())

	other := NewOrderEvent(OrderPaid, sampleOrder(), "req-2")
	assert.NotEqual(t, e.EventID, other.EventID)
	assert.Equal(t, e.DedupKey(), other.DedupKey())
}

func TestDedupKeyTellsStatusChangesApart(t *testing.T) {
	o := sampleOrder()
	o.Status = orders.StatusAssembled
	assembled := NewOrderEvent(OrderStatusChanged, o, "")
	o.Status = orders.StatusSent
	sent := NewOrderEvent(OrderStatusChanged, o, "")

	assert.Equal(t, "notify:order.status_changed:assembled:42", assembled.DedupKey())
	assert.Equal(t, "notify:order.status_changed:sent:42", sent.DedupKey())

	// other event types stay keyed by type alone
	o.Status = orders.StatusCancelled
	assert.Equal(t, "notify:order.cancelled:42", NewOrderEvent(OrderCancelled, o, "").DedupKey())
}

func TestSQSPublisher(t *testing.T) {
	q := &captureSQS{}
	p := NewSQSPublisher(aws.NewPublisher(q, "https://sqs.local/orders"))

	require.NoError(t, p.Publish(context.Background(), NewOrderEvent(OrderCreated, sampleOrder(), "")))
	require.Len(t, q.inputs, 1)

	var decoded OrderEvent
	require.NoError(t, json.Unmarshal([]byte(*q.inputs[0].MessageBody), &decoded))
	assert.Equal(t, OrderCreated, decoded.Type)
	assert.True(t, decoded.Total.Equal(orders.MoneyFromInt(300)))
	assert.Equal(t, "order.created", *q.inputs[0].MessageAttributes["event_type"].StringValue)
	_, hasRequestID := q.inputs[0].MessageAttributes["request_id"]
	assert.False(t, hasRequestID)
}

func TestKafkaPublisherKeysByOrder(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaPublisher{writer: w, logger: zap.NewNop()}

	require.NoError(t, p.Publish(context.Background(), NewOrderEvent(OrderCancelled, sampleOrder(), "")))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "ORDER#42", string(w.msgs[0].Key))
	assert.Equal(t, "order.cancelled", string(w.msgs[0].Headers[0].Value))
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &captureWriter{}
	broken := &captureWriter{err: errors.New("broker down")}
	m := Multi{
		&KafkaPublisher{writer: broken, logger: zap.NewNop()},
		&KafkaPublisher{writer: ok, logger: zap.NewNop()},
	}

	err := m.Publish(context.Background(), NewOrderEvent(OrderPaid, sampleOrder(), ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, ok.msgs, 1, "one failing transport does not starve the others")
	assert.NoError(t, Nop{}.Publish(context.Background(), OrderEvent{}))
}

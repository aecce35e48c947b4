package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws/dynamotest"
	"github.com/imrishuroy/marketplace-orderflow/internal/customers"
	"github.com/imrishuroy/marketplace-orderflow/internal/events"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/notify"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
)

// --- test doubles ---

type directory map[int64]*customers.Customer

func (d directory) FindByID(ctx context.Context, id int64) (*customers.Customer, error) {
	if c, ok := d[id]; ok {
		return c, nil
	}
	return nil, customers.ErrNotFound
}

type recordingMailer struct {
	sent []notify.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg notify.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func newTestProcessor(t *testing.T) (*Processor, *recordingMailer, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable("idempotency", dynamotest.Schema{PartitionKey: "idempotency_key"})
	mailer := &recordingMailer{}
	p := NewProcessor(
		idempotency.NewStore(fake, "idempotency", time.Hour),
		directory{5: {UserID: "u-5", ID: 5, Email: "anna@example.com"}},
		mailer,
		time.Minute,
		zap.NewNop(),
	)
	return p, mailer, fake
}

func sqsEvent(t *testing.T, msgs ...events.OrderEvent) lambdaevents.SQSEvent {
	t.Helper()
	var ev lambdaevents.SQSEvent
	for i, m := range msgs {
		body, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		ev.Records = append(ev.Records, lambdaevents.SQSMessage{MessageId: "m-" + string(rune('a'+i)), Body: string(body)})
	}
	return ev
}

func paidEvent(customerID int64) events.OrderEvent {
	o := &orders.Order{ID: 1, OrderNumber: "ORD-5-1", CustomerID: customerID, Status: orders.StatusProcessing,
		PaymentStatus: orders.PaymentSucceeded, Total: orders.MoneyFromInt(300)}
	return events.NewOrderEvent(events.OrderPaid, o, "req-1")
}

// --- test cases ---

func TestWorkerSendsOncePerBusinessEvent(t *testing.T) {
	p, mailer, fake := newTestProcessor(t)

	// two copies with different event ids, e.g. one from the webhook retry
	resp, err := p.Handle(context.Background(), sqsEvent(t, paidEvent(5), paidEvent(5)))
	if err != nil || len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected failures: %v %+v", err, resp)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected exactly one email, got %d", len(mailer.sent))
	}
	if mailer.sent[0].To != "anna@example.com" || mailer.sent[0].Tag != "order.paid" {
		t.Fatalf("unexpected message %+v", mailer.sent[0])
	}
	if fake.Item("idempotency", "notify:order.paid:1") == nil {
		t.Fatalf("ledger entry not written")
	}
}

func TestWorkerRetriesAfterMailerFailure(t *testing.T) {
	p, mailer, _ := newTestProcessor(t)
	mailer.err = errors.New("postmark unavailable")

	resp, _ := p.Handle(context.Background(), sqsEvent(t, paidEvent(5)))
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m-a" {
		t.Fatalf("expected the record to be reported failed, got %+v", resp)
	}

	mailer.err = nil
	resp, _ = p.Handle(context.Background(), sqsEvent(t, paidEvent(5)))
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("retry failed: %+v", resp)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected the retry to send, got %d emails", len(mailer.sent))
	}
}

func TestWorkerSkipsWhatItCannotSend(t *testing.T) {
	p, mailer, fake := newTestProcessor(t)

	captured := paidEvent(5)
	captured.Type = events.OrderPaymentCaptured
	resp, _ := p.Handle(context.Background(), sqsEvent(t, captured, paidEvent(99)))
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected failures: %+v", resp)
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("nothing should be sent, got %d", len(mailer.sent))
	}
	if fake.Item("idempotency", "notify:order.payment_captured:1") != nil {
		t.Fatalf("events without an email must not touch the ledger")
	}
}

func TestWorkerReportsMalformedMessages(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	ev := lambdaevents.SQSEvent{Records: []lambdaevents.SQSMessage{{MessageId: "bad", Body: "{not json"}}}

	resp, err := p.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "bad" {
		t.Fatalf("expected the malformed record to fail, got %+v", resp)
	}
}

func TestWorkerEmailsEveryStatusChange(t *testing.T) {
	p, mailer, _ := newTestProcessor(t)

	var msgs []events.OrderEvent
	for _, st := range []orders.Status{orders.StatusAssembled, orders.StatusSent, orders.StatusDelivered} {
		o := &orders.Order{ID: 1, OrderNumber: "ORD-5-1", CustomerID: 5, Status: st, Total: orders.MoneyFromInt(300)}
		msgs = append(msgs, events.NewOrderEvent(events.OrderStatusChanged, o, ""))
	}
	// each change is delivered twice
	resp, err := p.Handle(context.Background(), sqsEvent(t, append(msgs, msgs...)...))
	if err != nil || len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected failures: %v %+v", err, resp)
	}
	if len(mailer.sent) != 3 {
		t.Fatalf("expected one email per status, got %d", len(mailer.sent))
	}
}

package orders

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws/dynamotest"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
)

var testTables = Tables{Orders: "orders", Sequences: "sequences"}

func newTestStore(t *testing.T) (*Store, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable(testTables.Orders, dynamotest.Schema{
		PartitionKey: "order_id",
		Indexes: map[string]dynamotest.Index{
			CustomerIndex: {PartitionKey: "customer_id", SortKey: "created_at"},
		},
	})
	fake.CreateTable(testTables.Sequences, dynamotest.Schema{PartitionKey: "sequence_key"})
	fake.CreateTable("idempotency", dynamotest.Schema{PartitionKey: "idempotency_key"})

	idem := idempotency.NewStore(fake, "idempotency", time.Hour)
	s := NewStore(fake, testTables, idem)
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	s.nowFunc = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return s, fake
}

func TestCreateAssignsIdentity(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	o, err := s.Create(ctx, validPayload(), CreateOptions{})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if o.ID != 1 || o.OrderNumber != "ORD-5-1" {
		t.Fatalf("unexpected identity %d %q", o.ID, o.OrderNumber)
	}
	if o.Status != StatusProcessing || o.PaymentStatus != PaymentNone {
		t.Fatalf("unexpected initial state %s/%s", o.Status, o.PaymentStatus)
	}
	if fake.Item(testTables.Sequences, "order_number#ORD-5-1") == nil {
		t.Fatalf("order number guard not written")
	}

	second, err := s.Create(ctx, validPayload(), CreateOptions{})
	if err != nil {
		t.Fatalf("second Create error: %v", err)
	}
	if second.ID != 2 || second.OrderNumber != "ORD-5-2" {
		t.Fatalf("unexpected identity %d %q", second.ID, second.OrderNumber)
	}

	got, err := s.GetByID(ctx, second.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v %v", got, err)
	}
	if !got.Total.Equal(MoneyFromInt(300)) || got.Items[0].Price.StringFixed(0) != "150" {
		t.Fatalf("snapshot not persisted: %+v", got)
	}
}

func TestCreateRejectsInvalidPayloadWithoutWriting(t *testing.T) {
	s, fake := newTestStore(t)
	p := validPayload()
	p.Items = nil
	if _, err := s.Create(context.Background(), p, CreateOptions{}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if fake.Len(testTables.Orders) != 0 || fake.Calls("TransactWriteItems") != 0 {
		t.Fatalf("nothing may be written for an invalid payload")
	}
}

func TestCreateSeedsSequenceFromExistingOrders(t *testing.T) {
	s, fake := newTestStore(t)
	legacy := Order{
		ID: 900, OrderNumber: "ORD-5-41", CustomerID: 5, Status: StatusCompleted,
		PaymentStatus: PaymentSucceeded, Items: validPayload().Items, Total: MoneyFromInt(300),
		DeliveryType: DeliveryPickup, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	item, err := attributevalue.MarshalMap(legacy)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	fake.Seed(testTables.Orders, item)

	o, err := s.Create(context.Background(), validPayload(), CreateOptions{})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if o.OrderNumber != "ORD-5-42" {
		t.Fatalf("expected ORD-5-42, got %s", o.OrderNumber)
	}
}

func TestCreateSkipsTakenOrderNumber(t *testing.T) {
	s, fake := newTestStore(t)
	fake.Seed(testTables.Sequences, map[string]types.AttributeValue{
		"sequence_key": &types.AttributeValueMemberS{Value: "order_number#ORD-5-1"},
		"order_id":     &types.AttributeValueMemberN{Value: "77"},
	})

	o, err := s.Create(context.Background(), validPayload(), CreateOptions{})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if o.OrderNumber != "ORD-5-2" {
		t.Fatalf("expected the next free number, got %s", o.OrderNumber)
	}
	if fake.Len(testTables.Orders) != 1 {
		t.Fatalf("the failed attempt must not leave an order behind")
	}
}

func TestCreateConcurrentSameCustomerNeverCollides(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Create(ctx, validPayload(), CreateOptions{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent create failed: %v", err)
	}

	list, err := s.ListByCustomer(ctx, 5)
	if err != nil {
		t.Fatalf("ListByCustomer: %v", err)
	}
	seen := map[string]bool{}
	for _, o := range list {
		if seen[o.OrderNumber] {
			t.Fatalf("duplicate order number %s", o.OrderNumber)
		}
		seen[o.OrderNumber] = true
	}
	if len(seen) != n || fake.Len(testTables.Orders) != n {
		t.Fatalf("expected %d distinct orders, got %d", n, len(seen))
	}
}

func TestCreateWithIdempotencyKey(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	o, err := s.Create(ctx, validPayload(), CreateOptions{IdempotencyKey: "key-1"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	rec := fake.Item("idempotency", "key-1")
	if rec == nil {
		t.Fatalf("idempotency record not written in the transaction")
	}
	if v := rec["order_id"].(*types.AttributeValueMemberN).Value; v != strconv.FormatInt(o.ID, 10) {
		t.Fatalf("idempotency record points at %s", v)
	}

	if _, err := s.Create(ctx, validPayload(), CreateOptions{IdempotencyKey: "key-1"}); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
	if fake.Len(testTables.Orders) != 1 {
		t.Fatalf("duplicate request must not create a second order")
	}
}

func TestListByCustomerNewestFirstAndScoped(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, _ := s.Create(ctx, validPayload(), CreateOptions{})
	other := validPayload()
	other.CustomerID = 6
	if _, err := s.Create(ctx, other, CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	second, _ := s.Create(ctx, validPayload(), CreateOptions{})

	list, err := s.ListByCustomer(ctx, 5)
	if err != nil {
		t.Fatalf("ListByCustomer: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("unexpected list %+v", list)
	}

	all, err := s.List(ctx, Filter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("List(all) = %d, %v", len(all), err)
	}
	scoped, err := s.List(ctx, Filter{CustomerID: 6})
	if err != nil || len(scoped) != 1 || scoped[0].CustomerID != 6 {
		t.Fatalf("List(customer 6) = %+v, %v", scoped, err)
	}
}

func TestListByStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, validPayload(), CreateOptions{})
	s.Create(ctx, validPayload(), CreateOptions{})
	if err := s.UpdateStatus(ctx, a.ID, StatusProcessing, StatusAssembled); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	list, err := s.List(ctx, Filter{Statuses: []Status{StatusAssembled}})
	if err != nil || len(list) != 1 || list[0].ID != a.ID {
		t.Fatalf("unexpected %+v %v", list, err)
	}
}

func TestUpdateStatus_Conditional(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	o, _ := s.Create(ctx, validPayload(), CreateOptions{})

	if err := s.UpdateStatus(ctx, o.ID, StatusAssembled, StatusSent); !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
	got, _ := s.GetByID(ctx, o.ID)
	if got.Status != StatusProcessing {
		t.Fatalf("status changed after failed condition: %s", got.Status)
	}
}

func TestApplyGuardsObservedStateAndFilter(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	o, _ := s.Create(ctx, validPayload(), CreateOptions{})

	cancel := Change{
		ExpectedStatus:  StatusProcessing,
		ExpectedPayment: PaymentNone,
		Status:          StatusCancelled,
		PaymentStatus:   PaymentNone,
		Filter:          Filter{CustomerID: 6, Statuses: []Status{StatusProcessing}},
	}
	if _, err := s.Apply(ctx, o.ID, cancel); !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("foreign customer filter must block the write, got %v", err)
	}

	cancel.Filter.CustomerID = 5
	updated, err := s.Apply(ctx, o.ID, cancel)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if updated.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", updated.Status)
	}

	// replaying the same change sees a different current status
	if _, err := s.Apply(ctx, o.ID, cancel); !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch on replay, got %v", err)
	}
}

func TestApplyMissingOrder(t *testing.T) {
	s, fake := newTestStore(t)
	_, err := s.Apply(context.Background(), 404, Change{ExpectedStatus: StatusProcessing, ExpectedPayment: PaymentNone, Status: StatusCancelled, PaymentStatus: PaymentNone})
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
	if fake.Len(testTables.Orders) != 0 {
		t.Fatalf("Apply must not create orders")
	}
}

func TestAttachPayment(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	o, _ := s.Create(ctx, validPayload(), CreateOptions{})

	got, err := s.AttachPayment(ctx, o.ID, "pay-1", PaymentCreated, "https://pay/1")
	if err != nil {
		t.Fatalf("AttachPayment: %v", err)
	}
	if got.PaymentID != "pay-1" || got.PaymentStatus != PaymentCreated || got.PaymentLink != "https://pay/1" {
		t.Fatalf("unexpected order %+v", got)
	}

	// same payment again only refreshes the link
	got, err = s.AttachPayment(ctx, o.ID, "pay-1", PaymentCreated, "https://pay/1b")
	if err != nil || got.PaymentLink != "https://pay/1b" {
		t.Fatalf("re-attach: %+v %v", got, err)
	}

	if _, err := s.AttachPayment(ctx, o.ID, "pay-2", PaymentCreated, "x"); !errors.Is(err, ErrPaymentAlreadyAttached) {
		t.Fatalf("expected ErrPaymentAlreadyAttached, got %v", err)
	}
	if _, err := s.AttachPayment(ctx, 999, "pay-3", PaymentCreated, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttachPaymentAfterWebhookKeepsWebhookState(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	o, _ := s.Create(ctx, validPayload(), CreateOptions{})

	// webhook for the payment lands before the create flow attaches it
	_, err := s.Apply(ctx, o.ID, Change{
		ExpectedStatus: StatusProcessing, ExpectedPayment: PaymentNone,
		Status: StatusProcessing, PaymentStatus: PaymentWaitingCapture, PaymentID: "pay-1",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, err := s.AttachPayment(ctx, o.ID, "pay-1", PaymentCreated, "https://pay/1")
	if err != nil {
		t.Fatalf("AttachPayment: %v", err)
	}
	if got.PaymentStatus != PaymentWaitingCapture || got.PaymentLink != "https://pay/1" {
		t.Fatalf("webhook state must survive: %+v", got)
	}
}

func TestAttachPaymentRejectsCancelledOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	o, _ := s.Create(ctx, validPayload(), CreateOptions{})
	if err := s.UpdateStatus(ctx, o.ID, StatusProcessing, StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := s.AttachPayment(ctx, o.ID, "pay-1", PaymentCreated, "https://pay/1"); !errors.Is(err, ErrOrderCancelled) {
		t.Fatalf("expected ErrOrderCancelled, got %v", err)
	}
	got, _ := s.GetByID(ctx, o.ID)
	if got.PaymentID != "" || got.PaymentLink != "" || got.PaymentStatus != PaymentNone {
		t.Fatalf("cancelled order must not get a payment: %+v", got)
	}

	// a webhook-bound payment on an order cancelled since gets no confirmation link either
	o2, _ := s.Create(ctx, validPayload(), CreateOptions{})
	if _, err := s.Apply(ctx, o2.ID, Change{
		ExpectedStatus: StatusProcessing, ExpectedPayment: PaymentNone,
		Status: StatusCancelled, PaymentStatus: PaymentCanceled, PaymentID: "pay-2",
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := s.AttachPayment(ctx, o2.ID, "pay-2", PaymentCreated, "https://pay/2"); !errors.Is(err, ErrOrderCancelled) {
		t.Fatalf("expected ErrOrderCancelled, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	o, _ := s.Create(ctx, validPayload(), CreateOptions{})

	if err := s.Delete(ctx, o.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := s.GetByID(ctx, o.ID); got != nil {
		t.Fatalf("order still present")
	}
	if err := s.Delete(ctx, o.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

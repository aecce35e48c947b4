package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws/dynamotest"
)

const testTable = "idempotency-table"

func newTestStore() (*Store, *dynamotest.Fake) {
	fake := dynamotest.New()
	fake.CreateTable(testTable, dynamotest.Schema{PartitionKey: "idempotency_key"})
	return NewStore(fake, testTable, 48*time.Hour), fake
}

func attrS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func attrN(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		return v.Value
	}
	return ""
}

func TestCreateIfNotExists_Get(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	key := RequestKey("u-1", "abc")

	created, err := s.CreateIfNotExists(ctx, key, 123)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	created, err = s.CreateIfNotExists(ctx, key, 123)
	if err != nil {
		t.Fatalf("second create error: %v", err)
	}
	if created {
		t.Fatalf("expected created=false on duplicate create")
	}

	rec, err := s.Get(ctx, key)
	if err != nil || rec == nil {
		t.Fatalf("Get: rec=%v err=%v", rec, err)
	}
	if rec.Status != StatusInProgress || rec.OrderID != 123 || rec.Attempts != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestMarkDoneStoresResponseAndRestartsRetention(t *testing.T) {
	s, fake := newTestStore()
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	s.nowFunc = func() time.Time { return now }

	key := RequestKey("u-1", "abc")
	if _, err := s.CreateIfNotExists(ctx, key, 7); err != nil {
		t.Fatalf("create: %v", err)
	}

	now = start.Add(time.Hour)
	if err := s.MarkDone(ctx, key, `{"ok":true}`, 201); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	item := fake.Item(testTable, key)
	if attrS(item, "status") != string(StatusDone) {
		t.Fatalf("status not DONE: %+v", item["status"])
	}
	if attrS(item, "response_body") != `{"ok":true}` || attrN(item, "response_status") != "201" {
		t.Fatalf("response not stored: %+v", item)
	}
	wantExp := now.Add(48 * time.Hour).Unix()
	rec, _ := s.Get(ctx, key)
	if rec.ExpiresAt != wantExp {
		t.Fatalf("expected retention restarted at %d, got %d", wantExp, rec.ExpiresAt)
	}
}

func TestFinishRequiresOwnership(t *testing.T) {
	s, fake := newTestStore()
	ctx := context.Background()

	// unknown keys are never created by a finish
	if err := s.MarkDone(ctx, "webhook:1:p1:succeeded", "", 200); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress for a missing key, got %v", err)
	}
	if fake.Len(testTable) != 0 {
		t.Fatalf("finish must not upsert")
	}

	key := NotificationKey("order.paid", 9)
	if _, err := s.CreateIfNotExists(ctx, key, 9); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.MarkFailed(ctx, key, "smtp down"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if got := attrS(fake.Item(testTable, key), "note"); got != "smtp down" {
		t.Fatalf("note not stored: %q", got)
	}

	// a failed entry must be reclaimed before it can be finished again
	err := s.MarkDone(ctx, key, "sent", 200)
	if !errors.Is(err, ErrNotInProgress) || !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("expected ErrNotInProgress, got %v", err)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	s, _ := newTestStore()
	rec, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestRecordKeepsZeroAttempts(t *testing.T) {
	m, err := attributevalue.MarshalMap(IdempotencyRecord{IdempotencyKey: "k1", Status: StatusInProgress})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, ok := m["attempts"]; !ok {
		t.Fatalf("attempts must be stored even when zero")
	}
	if _, ok := m["order_id"]; ok {
		t.Fatalf("order_id should be omitted when unset")
	}
}

func TestReclaimRejectsStaleRead(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	if _, err := s.CreateIfNotExists(ctx, "k", 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.MarkFailed(ctx, "k", "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	rec, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if err := s.Reclaim(ctx, rec); err != nil {
		t.Fatalf("first reclaim: %v", err)
	}
	// the same snapshot cannot be used twice
	if err := s.Reclaim(ctx, rec); err != ErrConditionFailed {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}

	after, _ := s.Get(ctx, "k")
	if after.Status != StatusInProgress || after.Attempts != 2 {
		t.Fatalf("unexpected record after reclaim: %+v", after)
	}
}

func TestKeysAreNamespaced(t *testing.T) {
	cases := map[string]string{
		RequestKey("u-5", "abc"):               "order:u-5:abc",
		WebhookKey(12, "pay-1", "succeeded"):   "webhook:12:pay-1:succeeded",
		NotificationKey("order.cancelled", 12): "notify:order.cancelled:12",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

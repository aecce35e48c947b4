package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
)

// CustomerIndex is the GSI on the orders table keyed by customer_id, sorted by created_at.
const CustomerIndex = "customer_id-index"

const (
	globalSequenceKey   = "orders"
	maxNumberAttempts   = 3
	customerSequenceFmt = "customer#%d"
	numberGuardFmt      = "order_number#%s"
)

// Tables names the DynamoDB tables the store writes to.
type Tables struct {
	Orders    string
	Sequences string
}

// Store handles order operations in DynamoDB.
type Store struct {
	client  aws.DynamoDBAPI
	tables  Tables
	idem    *idempotency.Store
	nowFunc func() time.Time
}

// NewStore creates a new order store. idem may be nil when request idempotency is not wired.
func NewStore(client aws.DynamoDBAPI, tables Tables, idem *idempotency.Store) *Store {
	return &Store{
		client:  client,
		tables:  tables,
		idem:    idem,
		nowFunc: time.Now,
	}
}

// CreateOptions tunes a single Create call.
type CreateOptions struct {
	// IdempotencyKey, when set, is recorded in the same transaction as the order.
	IdempotencyKey string
}

// Create persists a new order in status processing with a freshly assigned id and order number.
//
// The order item, a guard item reserving the order number and the optional idempotency record
// are written in one transaction. A guard conflict (legacy numbers, or a counter reset) moves
// to the next sequence value; an idempotency conflict returns ErrDuplicateRequest.
func (s *Store) Create(ctx context.Context, p Payload, opts CreateOptions) (*Order, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if opts.IdempotencyKey != "" && s.idem == nil {
		return nil, errors.New("idempotency key given but no idempotency store configured")
	}

	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		id, err := s.nextValue(ctx, globalSequenceKey, 0)
		if err != nil {
			return nil, fmt.Errorf("allocate order id: %w", err)
		}
		seq, err := s.nextCustomerSequence(ctx, p.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("allocate order number: %w", err)
		}

		now := s.nowFunc().UTC()
		order := &Order{
			ID:            id,
			OrderNumber:   FormatOrderNumber(p.CustomerID, seq),
			CustomerID:    p.CustomerID,
			Items:         p.Items,
			DeliveryType:  p.DeliveryType,
			Address:       p.Address,
			Status:        StatusProcessing,
			PaymentStatus: PaymentNone,
			Total:         p.Total,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		err = s.writeNewOrder(ctx, order, opts.IdempotencyKey)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, ErrOrderNumberTaken) {
			return nil, err
		}
	}
	return nil, ErrOrderNumberTaken
}

func (s *Store) writeNewOrder(ctx context.Context, order *Order, idempotencyKey string) error {
	orderItem, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	guardItem := map[string]types.AttributeValue{
		"sequence_key": &types.AttributeValueMemberS{Value: fmt.Sprintf(numberGuardFmt, order.OrderNumber)},
		"order_id":     &types.AttributeValueMemberN{Value: strconv.FormatInt(order.ID, 10)},
	}

	items := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &s.tables.Orders,
				Item:                orderItem,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		},
		{
			Put: &types.Put{
				TableName:           &s.tables.Sequences,
				Item:                guardItem,
				ConditionExpression: awsString("attribute_not_exists(sequence_key)"),
			},
		},
	}

	if idempotencyKey != "" {
		idemItem, err := attributevalue.MarshalMap(s.idem.NewRecord(idempotencyKey, order.ID))
		if err != nil {
			return fmt.Errorf("marshal idempotency record: %w", err)
		}
		tableName := s.idem.TableName()
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &tableName,
				Item:                idemItem,
				ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
			},
		})
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for i, reason := range tce.CancellationReasons {
			if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
				continue
			}
			switch i {
			case 2:
				return ErrDuplicateRequest
			default:
				// order id or order number already in use
				return ErrOrderNumberTaken
			}
		}
	}
	return fmt.Errorf("transact write (create order): %w", err)
}

// nextCustomerSequence returns the next order-number sequence for a customer. The counter is
// seeded from the highest suffix among the customer's existing orders the first time it is used.
func (s *Store) nextCustomerSequence(ctx context.Context, customerID int64) (int64, error) {
	key := fmt.Sprintf(customerSequenceFmt, customerID)

	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tables.Sequences,
		Key: map[string]types.AttributeValue{
			"sequence_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("get sequence: %w", err)
	}

	var seed int64
	if len(out.Item) == 0 {
		existing, err := s.ListByCustomer(ctx, customerID)
		if err != nil {
			return 0, err
		}
		seed = HighestSequence(existing)
	}
	return s.nextValue(ctx, key, seed)
}

// nextValue atomically increments a counter, creating it at seed when it does not exist yet.
func (s *Store) nextValue(ctx context.Context, key string, seed int64) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tables.Sequences,
		Key: map[string]types.AttributeValue{
			"sequence_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: awsString("SET #v = if_not_exists(#v, :seed) + :inc"),
		ExpressionAttributeNames: map[string]string{
			"#v": "value",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":seed": &types.AttributeValueMemberN{Value: strconv.FormatInt(seed, 10)},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("update counter %s: %w", key, err)
	}
	n, ok := out.Attributes["value"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("counter %s returned no value", key)
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

// GetByID retrieves an order by ID. Returns (nil, nil) when the order does not exist.
func (s *Store) GetByID(ctx context.Context, id int64) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tables.Orders,
		Key:            orderKey(id),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var order Order
	if err := attributevalue.UnmarshalMap(out.Item, &order); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &order, nil
}

// ListByCustomer returns a customer's orders, newest first.
func (s *Store) ListByCustomer(ctx context.Context, customerID int64) ([]Order, error) {
	input := &dyn.QueryInput{
		TableName:              &s.tables.Orders,
		IndexName:              awsString(CustomerIndex),
		KeyConditionExpression: awsString("customer_id = :cid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberN{Value: strconv.FormatInt(customerID, 10)},
		},
		ScanIndexForward: awsBool(false),
	}

	var list []Order
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query orders by customer: %w", err)
		}
		var page []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		list = append(list, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return list, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// List returns every order matching the filter. An unrestricted filter scans the table.
func (s *Store) List(ctx context.Context, f Filter) ([]Order, error) {
	if f.CustomerID != 0 {
		all, err := s.ListByCustomer(ctx, f.CustomerID)
		if err != nil {
			return nil, err
		}
		list := all[:0]
		for _, o := range all {
			if f.Match(o) {
				list = append(list, o)
			}
		}
		return list, nil
	}

	input := &dyn.ScanInput{TableName: &s.tables.Orders}
	if len(f.Statuses) > 0 {
		names := map[string]string{}
		values := map[string]types.AttributeValue{}
		input.FilterExpression = awsString(strings.Join(filterClauses(f, names, values), " AND "))
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}

	var list []Order
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		var page []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		list = append(list, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return list, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// UpdateStatus updates the status field conditionally, only if the current status equals expectedStatus.
// Returns ErrStatusMismatch if the condition fails.
func (s *Store) UpdateStatus(ctx context.Context, id int64, expectedStatus, newStatus Status) error {
	input := &dyn.UpdateItemInput{
		TableName:           &s.tables.Orders,
		Key:                 orderKey(id),
		UpdateExpression:    awsString("SET #s = :new, updated_at = :ua"),
		ConditionExpression: awsString("#s = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: string(newStatus)},
			":expected": &types.AttributeValueMemberS{Value: string(expectedStatus)},
			":ua":       &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionalFailure(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// Apply writes a Change as one conditional update. The write only happens while the order
// still has the expected status and payment status and still matches the change's filter;
// otherwise ErrStatusMismatch is returned and nothing is modified.
func (s *Store) Apply(ctx context.Context, id int64, c Change) (*Order, error) {
	names := map[string]string{"#s": "status"}
	values := map[string]types.AttributeValue{
		":status":           &types.AttributeValueMemberS{Value: string(c.Status)},
		":ps":               &types.AttributeValueMemberS{Value: string(c.PaymentStatus)},
		":expected":         &types.AttributeValueMemberS{Value: string(c.ExpectedStatus)},
		":expected_payment": &types.AttributeValueMemberS{Value: string(c.ExpectedPayment)},
		":ua":               &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
	}

	set := []string{"#s = :status", "payment_status = :ps", "updated_at = :ua"}
	conds := []string{"attribute_exists(order_id)", "#s = :expected", "payment_status = :expected_payment"}

	if c.PaymentID != "" {
		set = append(set, "payment_id = :pid")
		values[":pid"] = &types.AttributeValueMemberS{Value: c.PaymentID}
		conds = append(conds, "attribute_not_exists(payment_id)")
	}
	if c.TrackingNumber != "" {
		set = append(set, "tracking_number = :tn")
		values[":tn"] = &types.AttributeValueMemberS{Value: c.TrackingNumber}
	}
	conds = append(conds, filterClauses(c.Filter, names, values)...)

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tables.Orders,
		Key:                       orderKey(id),
		UpdateExpression:          awsString("SET " + strings.Join(set, ", ")),
		ConditionExpression:       awsString(strings.Join(conds, " AND ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalFailure(err) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("apply change: %w", err)
	}

	var order Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &order); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &order, nil
}

// AttachPayment binds a gateway payment to the order. If a webhook already bound the same
// payment, only the confirmation link is stored; a different payment id is rejected with
// ErrPaymentAlreadyAttached and a cancelled order with ErrOrderCancelled.
func (s *Store) AttachPayment(ctx context.Context, id int64, paymentID string, status PaymentStatus, link string) (*Order, error) {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tables.Orders,
		Key:                      orderKey(id),
		UpdateExpression:         awsString("SET payment_id = :pid, payment_status = :ps, payment_link = :link, updated_at = :ua"),
		ConditionExpression:      awsString("attribute_exists(order_id) AND attribute_not_exists(payment_id) AND payment_status = :none AND #s <> :cancelled"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid":       &types.AttributeValueMemberS{Value: paymentID},
			":ps":        &types.AttributeValueMemberS{Value: string(status)},
			":link":      &types.AttributeValueMemberS{Value: link},
			":none":      &types.AttributeValueMemberS{Value: string(PaymentNone)},
			":cancelled": &types.AttributeValueMemberS{Value: string(StatusCancelled)},
			":ua":        &types.AttributeValueMemberS{Value: now},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil && !isConditionalFailure(err) {
		return nil, fmt.Errorf("attach payment: %w", err)
	}
	if err == nil {
		return unmarshalOrder(out.Attributes)
	}

	out, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tables.Orders,
		Key:                      orderKey(id),
		UpdateExpression:         awsString("SET payment_link = :link, updated_at = :ua"),
		ConditionExpression:      awsString("payment_id = :pid AND #s <> :cancelled"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid":       &types.AttributeValueMemberS{Value: paymentID},
			":link":      &types.AttributeValueMemberS{Value: link},
			":cancelled": &types.AttributeValueMemberS{Value: string(StatusCancelled)},
			":ua":        &types.AttributeValueMemberS{Value: now},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalFailure(err) {
			existing, getErr := s.GetByID(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			if existing == nil {
				return nil, ErrNotFound
			}
			if existing.Status == StatusCancelled {
				return nil, ErrOrderCancelled
			}
			return nil, ErrPaymentAlreadyAttached
		}
		return nil, fmt.Errorf("attach payment link: %w", err)
	}
	return unmarshalOrder(out.Attributes)
}

// Delete removes an order. It is a data-correction tool; the order number stays reserved.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:           &s.tables.Orders,
		Key:                 orderKey(id),
		ConditionExpression: awsString("attribute_exists(order_id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

// filterClauses compiles an access filter into condition clauses, adding the placeholders it uses.
// Status clauses reference #s, which callers map to "status".
func filterClauses(f Filter, names map[string]string, values map[string]types.AttributeValue) []string {
	var clauses []string
	if f.CustomerID != 0 {
		values[":filter_customer"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(f.CustomerID, 10)}
		clauses = append(clauses, "customer_id = :filter_customer")
	}
	if len(f.Statuses) > 0 {
		names["#s"] = "status"
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ph := ":filter_status" + strconv.Itoa(i)
			values[ph] = &types.AttributeValueMemberS{Value: string(st)}
			placeholders[i] = ph
		}
		clauses = append(clauses, "#s IN ("+strings.Join(placeholders, ", ")+")")
	}
	return clauses
}

func unmarshalOrder(item map[string]types.AttributeValue) (*Order, error) {
	var order Order
	if err := attributevalue.UnmarshalMap(item, &order); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &order, nil
}

func orderKey(id int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
	}
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool { return &b }

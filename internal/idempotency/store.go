package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
)

var (
	// ErrConditionFailed indicates a conditional write failed (e.g., attribute_not_exists)
	ErrConditionFailed = errors.New("conditional check failed")
	// ErrNotInProgress is returned when finishing an entry this caller no longer owns:
	// missing, already finished, or expired by TTL.
	ErrNotInProgress = fmt.Errorf("%w: idempotency record is not in progress", ErrConditionFailed)
)

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // how long an entry is kept after its last write
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: retention after the last write (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// TableName exposes the table so other stores can include a record in their transactions.
func (s *Store) TableName() string { return s.tableName }

// NewRecord builds an IN_PROGRESS record with the configured TTL.
func (s *Store) NewRecord(key string, orderID int64) IdempotencyRecord {
	now := s.nowFunc().UTC()
	return IdempotencyRecord{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		OrderID:        orderID,
		Attempts:       1,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}
}

// CreateIfNotExists creates an IN_PROGRESS record unless the key exists.
// Returns (true, nil) when created and (false, nil) when the key is taken; the caller
// should Get to inspect it.
func (s *Store) CreateIfNotExists(ctx context.Context, key string, orderID int64) (bool, error) {
	item, err := attributevalue.MarshalMap(s.NewRecord(key, orderID))
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyOf(key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec IdempotencyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone completes an IN_PROGRESS entry, storing the response to replay and restarting
// the retention window.
func (s *Store) MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error {
	return s.finish(ctx, key, StatusDone,
		"response_body = :rb, response_status = :rs",
		map[string]types.AttributeValue{
			":rb": &types.AttributeValueMemberS{Value: responseBody},
			":rs": &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
		})
}

// MarkFailed moves an IN_PROGRESS entry to FAILED with a note for operators.
// A FAILED entry can be reclaimed by Claim.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	return s.finish(ctx, key, StatusFailed,
		"note = :n",
		map[string]types.AttributeValue{
			":n": &types.AttributeValueMemberS{Value: note},
		})
}

func (s *Store) finish(ctx context.Context, key string, status Status, set string, values map[string]types.AttributeValue) error {
	now := s.nowFunc().UTC()
	values[":status"] = &types.AttributeValueMemberS{Value: string(status)}
	values[":inprogress"] = &types.AttributeValueMemberS{Value: string(StatusInProgress)}
	values[":ua"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)}
	values[":exp"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttlWindow).Unix(), 10)}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       keyOf(key),
		UpdateExpression:          awsString("SET #s = :status, " + set + ", updated_at = :ua, expires_at = :exp"),
		ConditionExpression:       awsString("attribute_exists(idempotency_key) AND #s = :inprogress"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionalFailure(err) {
			return fmt.Errorf("mark %s %q: %w", status, key, ErrNotInProgress)
		}
		return fmt.Errorf("update item (mark %s): %w", status, err)
	}
	return nil
}

// Reclaim moves a FAILED or abandoned IN_PROGRESS record back to IN_PROGRESS for a new
// attempt. The write only succeeds if nobody else reclaimed it since rec was read;
// ErrConditionFailed is returned otherwise.
func (s *Store) Reclaim(ctx context.Context, rec *IdempotencyRecord) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      keyOf(rec.IdempotencyKey),
		UpdateExpression:         awsString("SET #s = :inprogress, attempts = :next, updated_at = :ua"),
		ConditionExpression:      awsString("#s = :seen AND attempts = :attempts"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprogress": &types.AttributeValueMemberS{Value: string(StatusInProgress)},
			":seen":       &types.AttributeValueMemberS{Value: string(rec.Status)},
			":attempts":   &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Attempts)},
			":next":       &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Attempts + 1)},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("update item (reclaim): %w", err)
	}
	return nil
}

func keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool { return &b }

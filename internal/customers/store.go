package customers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
)

// CustomerIDIndex is the GSI on the customers table keyed by customer_id.
const CustomerIDIndex = "customer_id-index"

// ErrNotFound is returned when no customer record belongs to a user.
var ErrNotFound = errors.New("customer not found")

// Customer is the marketplace buyer profile attached to an authenticated user account.
type Customer struct {
	UserID    string   `dynamodbav:"user_id"` // PK
	ID        int64    `dynamodbav:"customer_id"`
	Email     string   `dynamodbav:"email"`
	Name      string   `dynamodbav:"name,omitempty"`
	Addresses []string `dynamodbav:"addresses,omitempty"` // informational only
}

// Store resolves users to customers from DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// ResolveCustomer returns the customer owned by userID, or ErrNotFound.
func (s *Store) ResolveCustomer(ctx context.Context, userID string) (*Customer, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var c Customer
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal customer: %w", err)
	}
	if c.ID <= 0 {
		return nil, fmt.Errorf("customer for user %s has no customer_id", userID)
	}
	return &c, nil
}

// FindByID looks a customer up by customer_id through the GSI.
func (s *Store) FindByID(ctx context.Context, customerID int64) (*Customer, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              sdkaws.String(CustomerIDIndex),
		KeyConditionExpression: sdkaws.String("customer_id = :cid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberN{Value: strconv.FormatInt(customerID, 10)},
		},
		Limit: sdkaws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}

	var c Customer
	if err := attributevalue.UnmarshalMap(out.Items[0], &c); err != nil {
		return nil, fmt.Errorf("unmarshal customer: %w", err)
	}
	return &c, nil
}

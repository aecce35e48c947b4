package catalog

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
)

// batchGetLimit is the DynamoDB BatchGetItem key limit.
const batchGetLimit = 100

// maxUnprocessedRounds bounds the retries of keys DynamoDB hands back unprocessed.
const maxUnprocessedRounds = 5

// Product is the live product record as stored in the products table.
type Product struct {
	ID        int64        `dynamodbav:"product_id"`
	Title     string       `dynamodbav:"title"`
	Price     orders.Money `dynamodbav:"price"`
	Available bool         `dynamodbav:"available"`
	AuthorID  int64        `dynamodbav:"author_id"`
}

// ProductLookup fetches current product records. Missing ids are simply absent from the result.
type ProductLookup interface {
	GetProductsByIDs(ctx context.Context, ids []int64) ([]Product, error)
}

// DynamoProducts reads products from DynamoDB.
type DynamoProducts struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewDynamoProducts(client aws.DynamoDBAPI, tableName string) *DynamoProducts {
	return &DynamoProducts{client: client, tableName: tableName}
}

// GetProductsByIDs issues BatchGetItem calls of at most 100 keys with consistent reads.
func (p *DynamoProducts) GetProductsByIDs(ctx context.Context, ids []int64) ([]Product, error) {
	var products []Product
	for start := 0; start < len(ids); start += batchGetLimit {
		end := min(start+batchGetLimit, len(ids))

		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, map[string]types.AttributeValue{
				"product_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
			})
		}

		request := map[string]types.KeysAndAttributes{
			p.tableName: {Keys: keys, ConsistentRead: awsBool(true)},
		}
		for round := 0; len(request) > 0; round++ {
			if round == maxUnprocessedRounds {
				return nil, fmt.Errorf("batch get products: keys still unprocessed after %d rounds", round)
			}
			out, err := p.client.BatchGetItem(ctx, &dyn.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, fmt.Errorf("batch get products: %w", err)
			}
			var page []Product
			if err := attributevalue.UnmarshalListOfMaps(out.Responses[p.tableName], &page); err != nil {
				return nil, fmt.Errorf("unmarshal products: %w", err)
			}
			products = append(products, page...)
			request = out.UnprocessedKeys
		}
	}
	return products, nil
}

func awsBool(b bool) *bool { return &b }

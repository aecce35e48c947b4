package orders

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Money is a decimal amount in the shop currency. It is stored as a DynamoDB
// number and rendered as a JSON number.
type Money struct {
	d decimal.Decimal
}

// NewMoney wraps a decimal.
func NewMoney(d decimal.Decimal) Money { return Money{d: d} }

// MoneyFromInt builds a whole-unit amount.
func MoneyFromInt(v int64) Money { return Money{d: decimal.NewFromInt(v)} }

// ParseMoney parses "150", "150.5" or "150.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// Zero returns a zero amount.
func Zero() Money { return Money{d: decimal.Zero} }

func (m Money) Decimal() decimal.Decimal { return m.d }
func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Mul(q int) Money { return Money{d: m.d.Mul(decimal.NewFromInt(int64(q)))} }
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }
func (m Money) IsNegative() bool { return m.d.IsNegative() }
func (m Money) IsZero() bool { return m.d.IsZero() }
func (m Money) String() string { return m.d.String() }
func (m Money) StringFixed(p int32) string { return m.d.StringFixed(p) }

// MarshalJSON renders the amount as a bare JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.d.String()), nil
}

// UnmarshalJSON accepts both numbers and quoted numbers.
func (m *Money) UnmarshalJSON(b []byte) error {
	return m.d.UnmarshalJSON(b)
}

// MarshalDynamoDBAttributeValue implements attributevalue.Marshaler.
func (m Money) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: m.d.String()}, nil
}

// UnmarshalDynamoDBAttributeValue implements attributevalue.Unmarshaler.
func (m *Money) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		m.d = decimal.Zero
		return nil
	default:
		return fmt.Errorf("money: unsupported attribute value %T", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("money: %w", err)
	}
	m.d = d
	return nil
}

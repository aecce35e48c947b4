// Package dynamotest provides an in-memory DynamoDB double for store tests.
//
// It understands only the expression shapes the stores in this module emit:
// conditions are clauses joined by AND (attribute_exists, attribute_not_exists,
// =, <>, IN), and update expressions are SET lists whose right-hand side is a
// value placeholder or if_not_exists(attr, :v) + :inc.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Index describes a secondary index.
type Index struct {
	PartitionKey string
	SortKey      string
}

// Schema describes a table's primary key and secondary indexes.
type Schema struct {
	PartitionKey string
	Indexes      map[string]Index
}

// Fake is a concurrency-safe in-memory DynamoDB.
type Fake struct {
	mu      sync.Mutex
	schemas map[string]Schema
	tables  map[string]map[string]map[string]types.AttributeValue
	calls   map[string]int
	failOps map[string]error
}

// New returns an empty fake with no tables.
func New() *Fake {
	return &Fake{
		schemas: map[string]Schema{},
		tables:  map[string]map[string]map[string]types.AttributeValue{},
		calls:   map[string]int{},
		failOps: map[string]error{},
	}
}

// CreateTable registers a table.
func (f *Fake) CreateTable(name string, schema Schema) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemas[name] = schema
	if _, ok := f.tables[name]; !ok {
		f.tables[name] = map[string]map[string]types.AttributeValue{}
	}
}

// Seed writes an item without evaluating any condition.
func (f *Fake) Seed(table string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, err := f.itemKey(table, item)
	if err != nil {
		panic(err)
	}
	f.tables[table][k] = copyItem(item)
}

// Item returns a copy of the stored item, or nil.
func (f *Fake) Item(table, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.tables[table][key]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Len reports how many items a table holds.
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

// Calls reports how many times an operation (e.g. "UpdateItem") was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// FailNext makes the next call of op return err.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOps[op] = err
}

func (f *Fake) enter(op string) error {
	f.calls[op]++
	if err, ok := f.failOps[op]; ok {
		delete(f.failOps, op)
		return err
	}
	return nil
}

func (f *Fake) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PutItem"); err != nil {
		return nil, err
	}
	table := aws.ToString(params.TableName)
	k, err := f.itemKey(table, params.Item)
	if err != nil {
		return nil, err
	}
	current := f.tables[table][k]
	ok, err := evalCondition(aws.ToString(params.ConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}
	f.tables[table][k] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetItem"); err != nil {
		return nil, err
	}
	table := aws.ToString(params.TableName)
	k, err := f.itemKey(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := f.tables[table][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateItem"); err != nil {
		return nil, err
	}
	table := aws.ToString(params.TableName)
	item, err := f.applyUpdate(table, params.Key, aws.ToString(params.ConditionExpression), aws.ToString(params.UpdateExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	return &dyn.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (f *Fake) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteItem"); err != nil {
		return nil, err
	}
	table := aws.ToString(params.TableName)
	k, err := f.itemKey(table, params.Key)
	if err != nil {
		return nil, err
	}
	current := f.tables[table][k]
	ok, err := evalCondition(aws.ToString(params.ConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}
	delete(f.tables[table], k)
	return &dyn.DeleteItemOutput{Attributes: current}, nil
}

func (f *Fake) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Query"); err != nil {
		return nil, err
	}
	table := aws.ToString(params.TableName)
	schema, ok := f.schemas[table]
	if !ok {
		return nil, fmt.Errorf("dynamotest: unknown table %q", table)
	}
	sortKey := ""
	if name := aws.ToString(params.IndexName); name != "" {
		idx, ok := schema.Indexes[name]
		if !ok {
			return nil, fmt.Errorf("dynamotest: unknown index %q on %q", name, table)
		}
		sortKey = idx.SortKey
	}

	var out []map[string]types.AttributeValue
	for _, item := range f.tables[table] {
		match, err := evalCondition(aws.ToString(params.KeyConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues, item)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		if params.FilterExpression != nil {
			match, err = evalCondition(*params.FilterExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, item)
			if err != nil {
				return nil, err
			}
			if !match {
				continue
			}
		}
		out = append(out, copyItem(item))
	}

	orderBy := sortKey
	if orderBy == "" {
		orderBy = schema.PartitionKey
	}
	sort.SliceStable(out, func(i, j int) bool {
		return compareAttr(out[i][orderBy], out[j][orderBy]) < 0
	})
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *Fake) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Scan"); err != nil {
		return nil, err
	}
	table := aws.ToString(params.TableName)
	schema := f.schemas[table]
	var out []map[string]types.AttributeValue
	for _, item := range f.tables[table] {
		if params.FilterExpression != nil {
			match, err := evalCondition(*params.FilterExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, item)
			if err != nil {
				return nil, err
			}
			if !match {
				continue
			}
		}
		out = append(out, copyItem(item))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return compareAttr(out[i][schema.PartitionKey], out[j][schema.PartitionKey]) < 0
	})
	return &dyn.ScanOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *Fake) BatchGetItem(ctx context.Context, params *dyn.BatchGetItemInput, optFns ...func(*dyn.Options)) (*dyn.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("BatchGetItem"); err != nil {
		return nil, err
	}
	responses := map[string][]map[string]types.AttributeValue{}
	for table, req := range params.RequestItems {
		if len(req.Keys) > 100 {
			return nil, errors.New("dynamotest: too many keys in batch")
		}
		for _, key := range req.Keys {
			k, err := f.itemKey(table, key)
			if err != nil {
				return nil, err
			}
			if item, ok := f.tables[table][k]; ok {
				responses[table] = append(responses[table], copyItem(item))
			}
		}
	}
	return &dyn.BatchGetItemOutput{Responses: responses}, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("TransactWriteItems"); err != nil {
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		table, key, cond, names, values, err := f.transactTarget(it)
		if err != nil {
			return nil, err
		}
		k, err := f.itemKey(table, key)
		if err != nil {
			return nil, err
		}
		ok, err := evalCondition(cond, names, values, f.tables[table][k])
		if err != nil {
			return nil, err
		}
		if ok {
			reasons[i] = types.CancellationReason{Code: aws.String("None")}
			continue
		}
		failed = true
		reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed"), Message: aws.String("The conditional request failed")}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	for _, it := range params.TransactItems {
		switch {
		case it.Put != nil:
			table := aws.ToString(it.Put.TableName)
			k, _ := f.itemKey(table, it.Put.Item)
			f.tables[table][k] = copyItem(it.Put.Item)
		case it.Update != nil:
			u := it.Update
			if _, err := f.applyUpdate(aws.ToString(u.TableName), u.Key, "", aws.ToString(u.UpdateExpression), u.ExpressionAttributeNames, u.ExpressionAttributeValues); err != nil {
				return nil, err
			}
		case it.Delete != nil:
			table := aws.ToString(it.Delete.TableName)
			k, _ := f.itemKey(table, it.Delete.Key)
			delete(f.tables[table], k)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) transactTarget(it types.TransactWriteItem) (string, map[string]types.AttributeValue, string, map[string]string, map[string]types.AttributeValue, error) {
	switch {
	case it.Put != nil:
		return aws.ToString(it.Put.TableName), it.Put.Item, aws.ToString(it.Put.ConditionExpression), it.Put.ExpressionAttributeNames, it.Put.ExpressionAttributeValues, nil
	case it.Update != nil:
		return aws.ToString(it.Update.TableName), it.Update.Key, aws.ToString(it.Update.ConditionExpression), it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues, nil
	case it.Delete != nil:
		return aws.ToString(it.Delete.TableName), it.Delete.Key, aws.ToString(it.Delete.ConditionExpression), it.Delete.ExpressionAttributeNames, it.Delete.ExpressionAttributeValues, nil
	case it.ConditionCheck != nil:
		return aws.ToString(it.ConditionCheck.TableName), it.ConditionCheck.Key, aws.ToString(it.ConditionCheck.ConditionExpression), it.ConditionCheck.ExpressionAttributeNames, it.ConditionCheck.ExpressionAttributeValues, nil
	}
	return "", nil, "", nil, nil, errors.New("dynamotest: empty transact item")
}

// applyUpdate must be called with f.mu held.
func (f *Fake) applyUpdate(table string, key map[string]types.AttributeValue, cond, update string, names map[string]string, values map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	k, err := f.itemKey(table, key)
	if err != nil {
		return nil, err
	}
	current := f.tables[table][k]
	ok, err := evalCondition(cond, names, values, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}

	item := copyItem(current)
	if item == nil {
		item = copyItem(key)
	}

	update = strings.TrimSpace(update)
	if !strings.HasPrefix(update, "SET ") {
		return nil, fmt.Errorf("dynamotest: unsupported update expression %q", update)
	}
	for _, assignment := range splitTopLevel(strings.TrimPrefix(update, "SET "), ',') {
		lhs, rhs, found := strings.Cut(assignment, "=")
		if !found {
			return nil, fmt.Errorf("dynamotest: bad assignment %q", assignment)
		}
		attr := resolveName(strings.TrimSpace(lhs), names)
		v, err := evalValue(strings.TrimSpace(rhs), names, values, item)
		if err != nil {
			return nil, err
		}
		item[attr] = v
	}
	f.tables[table][k] = item
	return item, nil
}

func (f *Fake) itemKey(table string, item map[string]types.AttributeValue) (string, error) {
	schema, ok := f.schemas[table]
	if !ok {
		return "", fmt.Errorf("dynamotest: unknown table %q", table)
	}
	av, ok := item[schema.PartitionKey]
	if !ok {
		return "", fmt.Errorf("dynamotest: item for %q is missing key %q", table, schema.PartitionKey)
	}
	return scalar(av), nil
}

func evalValue(rhs string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (types.AttributeValue, error) {
	if strings.HasPrefix(rhs, ":") {
		v, ok := values[rhs]
		if !ok {
			return nil, fmt.Errorf("dynamotest: missing value %s", rhs)
		}
		return v, nil
	}
	// if_not_exists(attr, :seed) + :inc
	if strings.HasPrefix(rhs, "if_not_exists(") {
		closing := strings.Index(rhs, ")")
		if closing < 0 {
			return nil, fmt.Errorf("dynamotest: bad expression %q", rhs)
		}
		args := strings.Split(rhs[len("if_not_exists("):closing], ",")
		if len(args) != 2 {
			return nil, fmt.Errorf("dynamotest: bad if_not_exists %q", rhs)
		}
		base, ok := item[resolveName(strings.TrimSpace(args[0]), names)]
		if !ok {
			base = values[strings.TrimSpace(args[1])]
		}
		rest := strings.TrimSpace(rhs[closing+1:])
		if rest == "" {
			return base, nil
		}
		if !strings.HasPrefix(rest, "+") {
			return nil, fmt.Errorf("dynamotest: unsupported operator in %q", rhs)
		}
		inc := values[strings.TrimSpace(strings.TrimPrefix(rest, "+"))]
		return addNumbers(base, inc)
	}
	return nil, fmt.Errorf("dynamotest: unsupported value expression %q", rhs)
}

func evalCondition(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	for _, clause := range strings.Split(expr, " AND ") {
		ok, err := evalClause(strings.TrimSpace(clause), names, values, item)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalClause(clause string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	switch {
	case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
		attr := resolveName(clause[len("attribute_not_exists("):len(clause)-1], names)
		_, exists := item[attr]
		return !exists, nil
	case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
		attr := resolveName(clause[len("attribute_exists("):len(clause)-1], names)
		_, exists := item[attr]
		return exists, nil
	case strings.Contains(clause, " IN ("):
		lhs, rhs, _ := strings.Cut(clause, " IN (")
		current, exists := item[resolveName(strings.TrimSpace(lhs), names)]
		if !exists {
			return false, nil
		}
		for _, ph := range strings.Split(strings.TrimSuffix(strings.TrimSpace(rhs), ")"), ",") {
			v, ok := values[strings.TrimSpace(ph)]
			if !ok {
				return false, fmt.Errorf("dynamotest: missing value %s", ph)
			}
			if compareAttr(current, v) == 0 {
				return true, nil
			}
		}
		return false, nil
	case strings.Contains(clause, " <> "):
		lhs, rhs, _ := strings.Cut(clause, " <> ")
		current, exists := item[resolveName(strings.TrimSpace(lhs), names)]
		v, ok := values[strings.TrimSpace(rhs)]
		if !ok {
			return false, fmt.Errorf("dynamotest: missing value %s", rhs)
		}
		return !exists || compareAttr(current, v) != 0, nil
	case strings.Contains(clause, " = "):
		lhs, rhs, _ := strings.Cut(clause, " = ")
		current, exists := item[resolveName(strings.TrimSpace(lhs), names)]
		v, ok := values[strings.TrimSpace(rhs)]
		if !ok {
			return false, fmt.Errorf("dynamotest: missing value %s", rhs)
		}
		return exists && compareAttr(current, v) == 0, nil
	}
	return false, fmt.Errorf("dynamotest: unsupported condition %q", clause)
}

func resolveName(name string, names map[string]string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "#") {
		if resolved, ok := names[name]; ok {
			return resolved
		}
	}
	return name
}

func splitTopLevel(s string, sep rune) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

func scalar(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(v.Value)
	}
	return ""
}

func compareAttr(a, b types.AttributeValue) int {
	an, aNum := a.(*types.AttributeValueMemberN)
	bn, bNum := b.(*types.AttributeValueMemberN)
	if aNum && bNum {
		af, _ := strconv.ParseFloat(an.Value, 64)
		bf, _ := strconv.ParseFloat(bn.Value, 64)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(scalar(a), scalar(b))
}

func addNumbers(a, b types.AttributeValue) (types.AttributeValue, error) {
	an, ok1 := a.(*types.AttributeValueMemberN)
	bn, ok2 := b.(*types.AttributeValueMemberN)
	if !ok1 || !ok2 {
		return nil, errors.New("dynamotest: addition requires numbers")
	}
	ai, err := strconv.ParseInt(an.Value, 10, 64)
	if err != nil {
		return nil, err
	}
	bi, err := strconv.ParseInt(bn.Value, 10, 64)
	if err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(ai+bi, 10)}, nil
}

func conditionalFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

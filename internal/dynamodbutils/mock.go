// Copyright 2023 Rivian Automotive, Inc.
// Licensed under the Apache License, Version 2.0 (the “License”);
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an “AS IS” BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package dynamodbutils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	// ErrConditionExpressionNotSatisfied mirrors a ConditionalCheckFailedException.
	ErrConditionExpressionNotSatisfied error = &types.ConditionalCheckFailedException{Message: aws.String("condition expression not satisfied")}
	// ErrTableDoesNotExist mirrors a ResourceNotFoundException.
	ErrTableDoesNotExist error = &types.ResourceNotFoundException{Message: aws.String("table does not exist")}
	// ErrInvalidExpression is returned for expressions the mock cannot evaluate.
	ErrInvalidExpression error = errors.New("invalid expression")
)

type item = map[string]types.AttributeValue

type mockTable struct {
	partitionKey string
	sortKey      string
	items        []item
}

// MockClient is an in-memory DynamoDB client. It evaluates the subset of condition, key condition
// and update expressions used by this module and by cirello.io/dynamolock.
type MockClient struct {
	mu     sync.Mutex
	tables map[string]*mockTable
	// For testing: if MockError is set, any call returns that error
	MockError error
}

// Compile time check that MockClient implements Client
var _ Client = (*MockClient)(nil)

// NewMockClient creates a new MockClient instance
func NewMockClient() *MockClient {
	m := new(MockClient)
	m.tables = make(map[string]*mockTable)
	return m
}

// Items returns a copy of a table's items.
func (m *MockClient) Items(tableName string) []map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[tableName]
	if !ok {
		return nil
	}
	return append([]item(nil), t.items...)
}

func (t *mockTable) find(key item) int {
	for i, it := range t.items {
		if attributeEqual(it[t.partitionKey], key[t.partitionKey]) &&
			(t.sortKey == "" || attributeEqual(it[t.sortKey], key[t.sortKey])) {
			return i
		}
	}
	return -1
}

func (m *MockClient) table(name *string) (*mockTable, error) {
	if m.MockError != nil {
		return nil, m.MockError
	}
	t, ok := m.tables[aws.ToString(name)]
	if !ok {
		return nil, ErrTableDoesNotExist
	}
	return t, nil
}

func checkCondition(condition *string, it item, names map[string]string, values item) error {
	if aws.ToString(condition) == "" {
		return nil
	}
	ok, err := evaluate(aws.ToString(condition), it, names, values)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConditionExpressionNotSatisfied
	}
	return nil
}

// GetItem implements Client.
func (m *MockClient) GetItem(_ context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}
	if i := t.find(input.Key); i >= 0 {
		return &dynamodb.GetItemOutput{Item: copyItem(t.items[i])}, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

// PutItem implements Client.
func (m *MockClient) PutItem(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}
	i := t.find(input.Item)
	var existing item
	if i >= 0 {
		existing = t.items[i]
	}
	if err := checkCondition(input.ConditionExpression, existing, input.ExpressionAttributeNames, input.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	if i >= 0 {
		t.items[i] = copyItem(input.Item)
	} else {
		t.items = append(t.items, copyItem(input.Item))
	}
	return &dynamodb.PutItemOutput{}, nil
}

// UpdateItem implements Client for SET and REMOVE clauses.
func (m *MockClient) UpdateItem(_ context.Context, input *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}
	i := t.find(input.Key)
	var existing item
	if i >= 0 {
		existing = t.items[i]
	}
	if err := checkCondition(input.ConditionExpression, existing, input.ExpressionAttributeNames, input.ExpressionAttributeValues); err != nil {
		return nil, err
	}

	updated := copyItem(existing)
	if updated == nil {
		updated = copyItem(input.Key)
	}
	if err := applyUpdate(aws.ToString(input.UpdateExpression), updated, input.ExpressionAttributeNames, input.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	if i >= 0 {
		t.items[i] = updated
	} else {
		t.items = append(t.items, updated)
	}
	return &dynamodb.UpdateItemOutput{Attributes: copyItem(updated)}, nil
}

// DeleteItem implements Client.
func (m *MockClient) DeleteItem(_ context.Context, input *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}
	i := t.find(input.Key)
	var existing item
	if i >= 0 {
		existing = t.items[i]
	}
	if err := checkCondition(input.ConditionExpression, existing, input.ExpressionAttributeNames, input.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	if i >= 0 {
		t.items = append(t.items[:i], t.items[i+1:]...)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

// CreateTable implements Client.
func (m *MockClient) CreateTable(_ context.Context, input *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MockError != nil {
		return nil, m.MockError
	}
	name := aws.ToString(input.TableName)
	if _, ok := m.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table already exists")}
	}
	t := new(mockTable)
	for _, kse := range input.KeySchema {
		switch kse.KeyType {
		case types.KeyTypeHash:
			t.partitionKey = aws.ToString(kse.AttributeName)
		case types.KeyTypeRange:
			t.sortKey = aws.ToString(kse.AttributeName)
		}
	}
	m.tables[name] = t
	return &dynamodb.CreateTableOutput{}, nil
}

// DescribeTable implements Client.
func (m *MockClient) DescribeTable(_ context.Context, input *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.table(input.TableName); err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   input.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

// Query implements Client. Results are ordered by sort key and are never paginated.
func (m *MockClient) Query(_ context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	var items []item
	for _, it := range t.items {
		ok, err := evaluate(aws.ToString(input.KeyConditionExpression), it, input.ExpressionAttributeNames, input.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, copyItem(it))
		}
	}
	if t.sortKey != "" {
		sort.SliceStable(items, func(i, j int) bool {
			return compareAttributes(items[i][t.sortKey], items[j][t.sortKey]) < 0
		})
	}
	if input.ScanIndexForward != nil && !*input.ScanIndexForward {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	if limit := int(aws.ToInt32(input.Limit)); limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return &dynamodb.QueryOutput{Items: items, Count: int32(len(items))}, nil
}

func copyItem(it item) item {
	if it == nil {
		return nil
	}
	c := make(item, len(it))
	for k, v := range it {
		c[k] = v
	}
	return c
}

func attributeEqual(a, b types.AttributeValue) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return compareAttributes(a, b) == 0
}

// compareAttributes orders two scalar attributes of the same type. Mismatched types compare unequal.
func compareAttributes(a, b types.AttributeValue) int {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		if bv, ok := b.(*types.AttributeValueMemberS); ok {
			return strings.Compare(av.Value, bv.Value)
		}
	case *types.AttributeValueMemberN:
		if bv, ok := b.(*types.AttributeValueMemberN); ok {
			x, _ := strconv.ParseFloat(av.Value, 64)
			y, _ := strconv.ParseFloat(bv.Value, 64)
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case *types.AttributeValueMemberB:
		if bv, ok := b.(*types.AttributeValueMemberB); ok {
			return bytes.Compare(av.Value, bv.Value)
		}
	case *types.AttributeValueMemberBOOL:
		if bv, ok := b.(*types.AttributeValueMemberBOOL); ok && av.Value == bv.Value {
			return 0
		}
	}
	return 2
}

func tokenize(expr string) []string {
	var tokens []string
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(' || c == ')' || c == ',':
			tokens = append(tokens, string(c))
			i++
		case c == '<' || c == '>' || c == '=':
			j := i + 1
			if j < len(expr) && (expr[j] == '=' || expr[j] == '>') {
				j++
			}
			tokens = append(tokens, expr[i:j])
			i = j
		default:
			j := i
			for j < len(expr) && !strings.ContainsRune(" \t\n(),<>=", rune(expr[j])) {
				j++
			}
			tokens = append(tokens, expr[i:j])
			i = j
		}
	}
	return tokens
}

type evaluator struct {
	tokens []string
	pos    int
	item   item
	names  map[string]string
	values item
}

func evaluate(expr string, it item, names map[string]string, values item) (bool, error) {
	e := &evaluator{tokens: tokenize(expr), item: it, names: names, values: values}
	result, err := e.or()
	if err != nil {
		return false, err
	}
	if e.pos != len(e.tokens) {
		return false, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidExpression, e.tokens[e.pos], expr)
	}
	return result, nil
}

func (e *evaluator) peek() string {
	if e.pos < len(e.tokens) {
		return e.tokens[e.pos]
	}
	return ""
}

func (e *evaluator) next() string {
	t := e.peek()
	e.pos++
	return t
}

func (e *evaluator) expect(tok string) error {
	if got := e.next(); got != tok {
		return fmt.Errorf("%w: expected %q, got %q", ErrInvalidExpression, tok, got)
	}
	return nil
}

func (e *evaluator) or() (bool, error) {
	left, err := e.and()
	if err != nil {
		return false, err
	}
	for strings.EqualFold(e.peek(), "OR") {
		e.next()
		right, err := e.and()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (e *evaluator) and() (bool, error) {
	left, err := e.unary()
	if err != nil {
		return false, err
	}
	for strings.EqualFold(e.peek(), "AND") {
		e.next()
		right, err := e.unary()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (e *evaluator) unary() (bool, error) {
	switch tok := e.peek(); {
	case strings.EqualFold(tok, "NOT"):
		e.next()
		v, err := e.unary()
		return !v, err
	case tok == "(":
		e.next()
		v, err := e.or()
		if err != nil {
			return false, err
		}
		return v, e.expect(")")
	case tok == "attribute_exists" || tok == "attribute_not_exists":
		e.next()
		if err := e.expect("("); err != nil {
			return false, err
		}
		name := e.attributeName(e.next())
		if err := e.expect(")"); err != nil {
			return false, err
		}
		_, exists := e.item[name]
		return exists == (tok == "attribute_exists"), nil
	case tok == "begins_with":
		e.next()
		if err := e.expect("("); err != nil {
			return false, err
		}
		a := e.operand(e.next())
		if err := e.expect(","); err != nil {
			return false, err
		}
		b := e.operand(e.next())
		if err := e.expect(")"); err != nil {
			return false, err
		}
		as, aok := a.(*types.AttributeValueMemberS)
		bs, bok := b.(*types.AttributeValueMemberS)
		return aok && bok && strings.HasPrefix(as.Value, bs.Value), nil
	default:
		left := e.operand(e.next())
		op := e.next()
		right := e.operand(e.next())
		if left == nil || right == nil {
			return op == "<>" && (left != nil || right != nil), nil
		}
		c := compareAttributes(left, right)
		switch op {
		case "=":
			return c == 0, nil
		case "<>":
			return c != 0, nil
		case "<":
			return c == -1, nil
		case "<=":
			return c == -1 || c == 0, nil
		case ">":
			return c == 1, nil
		case ">=":
			return c == 1 || c == 0, nil
		}
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidExpression, op)
	}
}

func (e *evaluator) attributeName(tok string) string {
	if strings.HasPrefix(tok, "#") {
		return e.names[tok]
	}
	return tok
}

func (e *evaluator) operand(tok string) types.AttributeValue {
	if strings.HasPrefix(tok, ":") {
		return e.values[tok]
	}
	return e.item[e.attributeName(tok)]
}

// applyUpdate applies "SET a = :v, b = :w REMOVE c, d" to it.
func applyUpdate(expr string, it item, names map[string]string, values item) error {
	tokens := tokenize(expr)
	clause := ""
	for i := 0; i < len(tokens); {
		tok := tokens[i]
		switch {
		case strings.EqualFold(tok, "SET") || strings.EqualFold(tok, "REMOVE"):
			clause = strings.ToUpper(tok)
			i++
		case tok == ",":
			i++
		case clause == "SET":
			if i+2 >= len(tokens) || tokens[i+1] != "=" {
				return fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
			}
			name := tok
			if strings.HasPrefix(name, "#") {
				name = names[name]
			}
			value := tokens[i+2]
			if strings.HasPrefix(value, ":") {
				it[name] = values[value]
			} else {
				src := value
				if strings.HasPrefix(src, "#") {
					src = names[src]
				}
				it[name] = it[src]
			}
			i += 3
		case clause == "REMOVE":
			name := tok
			if strings.HasPrefix(name, "#") {
				name = names[name]
			}
			delete(it, name)
			i++
		default:
			return fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
		}
	}
	return nil
}

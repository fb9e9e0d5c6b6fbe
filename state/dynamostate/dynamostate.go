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
// Package dynamostate contains the resources required to create a DynamoDB snapshot hint store.
package dynamostate

import (
	"context"
	"errors"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rivian/paimon-go/internal/dynamodbutils"
	"github.com/rivian/paimon-go/state"
)

// Attribute represents attribute names in DynamoDB items.
type Attribute string

const (
	tableKey                           Attribute = "tableKey"
	hintName                           Attribute = "hint"
	snapshotID                         Attribute = "snapshotId"
	defaultMaxRetryTableCreateAttempts uint16    = 20
	defaultRCU                         int64     = 5
	defaultWCU                         int64     = 5
)

// DynamoState stores a table's snapshot hints in DynamoDB, one item per (table key, hint).
type DynamoState struct {
	Table  string
	Key    string
	Client dynamodbutils.Client
}

// Options contains settings that can be adjusted to change the behavior of a DynamoDB state store.
type Options struct {
	MaxRetryTableCreateAttempts uint16
	// The number of read capacity units which can be consumed per second (https://aws.amazon.com/dynamodb/pricing/provisioned/)
	RCU int64
	// The number of write capacity units which can be consumed per second (https://aws.amazon.com/dynamodb/pricing/provisioned/)
	WCU int64
}

// Sets the default options
func (opts *Options) setOptionsDefaults() {
	if opts.MaxRetryTableCreateAttempts == 0 {
		opts.MaxRetryTableCreateAttempts = defaultMaxRetryTableCreateAttempts
	}
	if opts.RCU == 0 {
		opts.RCU = defaultRCU
	}
	if opts.WCU == 0 {
		opts.WCU = defaultWCU
	}
}

// Compile time check that DynamoState implements state.Store
var _ state.Store = (*DynamoState)(nil)

// New creates a new DynamoState instance, creating the DynamoDB table if needed.
func New(client dynamodbutils.Client, tableName string, key string, opts Options) (*DynamoState, error) {
	opts.setOptionsDefaults()

	createTableInput := dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(string(tableKey)), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(string(hintName)), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(string(tableKey)), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(string(hintName)), KeyType: types.KeyTypeRange},
		},
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(opts.RCU),
			WriteCapacityUnits: aws.Int64(opts.WCU),
		},
		TableName: aws.String(tableName),
	}
	if err := dynamodbutils.CreateTableIfNotExists(client, tableName, createTableInput, opts.MaxRetryTableCreateAttempts); err != nil {
		return nil, err
	}

	tb := new(DynamoState)
	tb.Table = tableName
	tb.Key = key
	tb.Client = client
	return tb, nil
}

func (l *DynamoState) itemKey(hint state.Hint) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		string(tableKey): &types.AttributeValueMemberS{Value: l.Key},
		string(hintName): &types.AttributeValueMemberS{Value: string(hint)},
	}
}

// Get implements state.Store.
func (l *DynamoState) Get(hint state.Hint) (int64, error) {
	result, err := l.Client.GetItem(context.TODO(), &dynamodb.GetItemInput{
		TableName:      aws.String(l.Table),
		Key:            l.itemKey(hint),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, errors.Join(state.ErrCanNotReadState, err)
	}
	if result.Item == nil {
		return 0, state.ErrStateIsEmpty
	}

	value, ok := result.Item[string(snapshotID)].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.Join(state.ErrCanNotReadState, errors.New("snapshotId is not a number attribute"))
	}
	id, err := strconv.ParseInt(value.Value, 10, 64)
	if err != nil {
		return 0, errors.Join(state.ErrCanNotReadState, err)
	}
	return id, nil
}

// Put implements state.Store.
func (l *DynamoState) Put(hint state.Hint, id int64) error {
	item := l.itemKey(hint)
	item[string(snapshotID)] = &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)}

	_, err := l.Client.PutItem(context.TODO(), &dynamodb.PutItemInput{
		TableName: aws.String(l.Table),
		Item:      item,
	})
	if err != nil {
		return errors.Join(state.ErrCanNotWriteState, err)
	}
	return nil
}

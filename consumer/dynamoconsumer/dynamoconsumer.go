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
// Package dynamoconsumer contains a consumer store backed by a DynamoDB table shared by many
// paimon tables.
package dynamoconsumer

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rivian/paimon-go/consumer"
	"github.com/rivian/paimon-go/internal/dynamodbutils"
)

// DynamoDB table attribute keys
const (
	AttrTablePath    string = "tablePath"
	AttrConsumerID   string = "consumerId"
	AttrNextSnapshot string = "nextSnapshot"
	AttrUpdateTime   string = "updateTime"

	DefaultMaxRetryTableCreateAttempts uint16 = 20
	DefaultRCU                         int64  = 5
	DefaultWCU                         int64  = 5
)

// DynamoDBConsumerStore items are of form
// - key
// -- tablePath (HASH, STRING)
// -- consumerId (RANGE, STRING)
//
// - attributes
// -- nextSnapshot (NUMBER)
// -- updateTime (NUMBER, epoch milliseconds)
type DynamoDBConsumerStore struct {
	client    dynamodbutils.Client
	tableName string
	tablePath string
	now       func() time.Time
}

// Compile time check that DynamoDBConsumerStore implements consumer.Store
var _ consumer.Store = (*DynamoDBConsumerStore)(nil)

// Options for a DynamoDBConsumerStore instance
type Options struct {
	Client    dynamodbutils.Client
	TableName string
	// The paimon table whose consumers are stored, usually its base URI
	TablePath                   string
	MaxRetryTableCreateAttempts uint16
	RCU                         int64
	WCU                         int64
	// Now overrides the update time source, for tests
	Now func() time.Time
}

func (opts *Options) setOptionsDefaults() {
	if opts.MaxRetryTableCreateAttempts == 0 {
		opts.MaxRetryTableCreateAttempts = DefaultMaxRetryTableCreateAttempts
	}
	if opts.RCU == 0 {
		opts.RCU = DefaultRCU
	}
	if opts.WCU == 0 {
		opts.WCU = DefaultWCU
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
}

// New creates a DynamoDBConsumerStore, creating the DynamoDB table if needed.
func New(opts Options) (*DynamoDBConsumerStore, error) {
	opts.setOptionsDefaults()

	createTableInput := dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(AttrTablePath), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(AttrConsumerID), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(AttrTablePath), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(AttrConsumerID), KeyType: types.KeyTypeRange},
		},
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(opts.RCU),
			WriteCapacityUnits: aws.Int64(opts.WCU),
		},
		TableName: aws.String(opts.TableName),
	}
	if err := dynamodbutils.CreateTableIfNotExists(opts.Client, opts.TableName, createTableInput, opts.MaxRetryTableCreateAttempts); err != nil {
		return nil, err
	}

	s := new(DynamoDBConsumerStore)
	s.client = opts.Client
	s.tableName = opts.TableName
	s.tablePath = opts.TablePath
	s.now = opts.Now
	return s, nil
}

// TableName gets the DynamoDB table name.
func (s *DynamoDBConsumerStore) TableName() string {
	return s.tableName
}

func (s *DynamoDBConsumerStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrTablePath:  &types.AttributeValueMemberS{Value: s.tablePath},
		AttrConsumerID: &types.AttributeValueMemberS{Value: id},
	}
}

func numberAttribute(item map[string]types.AttributeValue, name string) (int64, error) {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.Join(consumer.ErrReadConsumer, errors.New(name+" is not a number attribute"))
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, errors.Join(consumer.ErrReadConsumer, err)
	}
	return n, nil
}

func recordFromItem(item map[string]types.AttributeValue) (consumer.Record, error) {
	var r consumer.Record
	next, err := numberAttribute(item, AttrNextSnapshot)
	if err != nil {
		return r, err
	}
	updated, err := numberAttribute(item, AttrUpdateTime)
	if err != nil {
		return r, err
	}
	r.NextSnapshot = next
	r.LastModified = time.UnixMilli(updated)
	return r, nil
}

// Get implements consumer.Store.
func (s *DynamoDBConsumerStore) Get(id string) (consumer.Consumer, bool, error) {
	out, err := s.client.GetItem(context.TODO(), &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return consumer.Consumer{}, false, errors.Join(consumer.ErrReadConsumer, err)
	}
	if out.Item == nil {
		return consumer.Consumer{}, false, nil
	}
	r, err := recordFromItem(out.Item)
	if err != nil {
		return consumer.Consumer{}, false, err
	}
	return r.Consumer, true, nil
}

// Put implements consumer.Store.
func (s *DynamoDBConsumerStore) Put(id string, c consumer.Consumer) error {
	item := s.key(id)
	item[AttrNextSnapshot] = &types.AttributeValueMemberN{Value: strconv.FormatInt(c.NextSnapshot, 10)}
	item[AttrUpdateTime] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().UnixMilli(), 10)}
	_, err := s.client.PutItem(context.TODO(), &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return errors.Join(consumer.ErrWriteConsumer, err)
	}
	return nil
}

// Delete implements consumer.Store.
func (s *DynamoDBConsumerStore) Delete(id string) error {
	_, err := s.client.DeleteItem(context.TODO(), &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(id),
	})
	if err != nil {
		return errors.Join(consumer.ErrWriteConsumer, err)
	}
	return nil
}

// List implements consumer.Store, paging through every consumer of the table.
func (s *DynamoDBConsumerStore) List() (map[string]consumer.Record, error) {
	records := make(map[string]consumer.Record)
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    aws.String("#t = :t"),
		ExpressionAttributeNames:  map[string]string{"#t": AttrTablePath},
		ExpressionAttributeValues: map[string]types.AttributeValue{":t": &types.AttributeValueMemberS{Value: s.tablePath}},
		ConsistentRead:            aws.Bool(true),
	}
	for {
		out, err := s.client.Query(context.TODO(), input)
		if err != nil {
			return nil, errors.Join(consumer.ErrReadConsumer, err)
		}
		for _, item := range out.Items {
			id, ok := item[AttrConsumerID].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			r, err := recordFromItem(item)
			if err != nil {
				return nil, err
			}
			records[id.Value] = r
		}
		if len(out.LastEvaluatedKey) == 0 {
			return records, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

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
// Package dynamodbutils contains the DynamoDB client abstraction shared by the lock, state and
// consumer backends.
package dynamodbutils

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrFailedToCreateTable is returned when a table cannot be created or never becomes active.
	ErrFailedToCreateTable error = errors.New("failed to create table")
	// ErrTableNotActive is returned while a table is still being created.
	ErrTableNotActive error = errors.New("table is not active")
)

// TableCreateInterval is the pause between table status checks.
var TableCreateInterval = 1 * time.Second

// Client defines the methods implemented by dynamodb.Client that this module uses.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Compile time check that dynamodb.Client implements Client
var _ Client = (*dynamodb.Client)(nil)

// CreateTableIfNotExists creates a DynamoDB table unless it already exists, then waits for it to become active.
func CreateTableIfNotExists(client Client, tableName string, createTableInput dynamodb.CreateTableInput, maxRetryTableCreateAttempts uint16) error {
	created := false
	_, err := backoff.Retry(context.TODO(), func() (struct{}, error) {
		result, err := client.DescribeTable(context.TODO(), &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			log.Infof("paimon-go: DynamoDB table %s does not exist. Creating it now.", tableName)
			if _, err := client.CreateTable(context.TODO(), &createTableInput); err != nil {
				log.Debugf("paimon-go: Table %s just created by concurrent process. %v", tableName, err)
			} else {
				created = true
			}
			return struct{}{}, ErrTableNotActive
		}

		if result.Table == nil || result.Table.TableStatus != types.TableStatusActive {
			log.Infof("paimon-go: Waiting for %s table creation", tableName)
			return struct{}{}, ErrTableNotActive
		}

		if created {
			log.Infof("paimon-go: Successfully created DynamoDB table %s", tableName)
		} else {
			log.Debugf("paimon-go: Table %s already exists", tableName)
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(TableCreateInterval)),
		backoff.WithMaxTries(uint(maxRetryTableCreateAttempts)),
	)
	if err != nil {
		log.Debugf("paimon-go: Table create attempt failed. Attempts exhausted beyond %d so failing.", maxRetryTableCreateAttempts)
		return errors.Join(ErrFailedToCreateTable, err)
	}
	return nil
}

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
// Package dynamolock contains a Locker backed by cirello.io/dynamolock.
package dynamolock

import (
	"errors"
	"time"

	"cirello.io/dynamolock/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rivian/paimon-go/internal/dynamodbutils"
	"github.com/rivian/paimon-go/lock"
)

// DynamoLock holds one key of a DynamoDB lock table.
type DynamoLock struct {
	tableName  string
	lockClient *dynamolock.Client
	lockedItem *dynamolock.Lock
	key        string
	opts       Options
}

// Compile time check that DynamoLock implements lock.Locker
var _ lock.Locker = (*DynamoLock)(nil)

// Options adjusts a DynamoLock.
type Options struct {
	// The amount of time that the owner has this lock for.
	TTL       time.Duration
	HeartBeat time.Duration
	// Block=false fails TryLock immediately when the lock is held
	Block                       bool
	DeleteOnRelease             bool
	MaxRetryTableCreateAttempts uint16
	RCU                         int64
	WCU                         int64
}

const (
	// DefaultTTL is the default lease duration.
	DefaultTTL time.Duration = 60 * time.Second
	// DefaultHeartbeat is the default heartbeat period.
	DefaultHeartbeat time.Duration = 1 * time.Second
	// DefaultMaxRetryTableCreateAttempts bounds waiting for the lock table.
	DefaultMaxRetryTableCreateAttempts uint16 = 20
	defaultRCU                         int64  = 5
	defaultWCU                         int64  = 5
)

// Sets the default options
func (opts *Options) setOptionsDefaults() {
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.HeartBeat == 0 {
		opts.HeartBeat = DefaultHeartbeat
	}
	if opts.MaxRetryTableCreateAttempts == 0 {
		opts.MaxRetryTableCreateAttempts = DefaultMaxRetryTableCreateAttempts
	}
	if opts.RCU == 0 {
		opts.RCU = defaultRCU
	}
	if opts.WCU == 0 {
		opts.WCU = defaultWCU
	}
}

// New creates a DynamoLock, creating the lock table if it does not exist.
func New(client dynamodbutils.Client, tableName string, key string, opts Options) (*DynamoLock, error) {
	opts.setOptionsDefaults()

	createTableInput := dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("key"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("key"),
				KeyType:       types.KeyTypeHash,
			},
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

	lc, err := dynamolock.New(client,
		tableName,
		dynamolock.WithLeaseDuration(opts.TTL),
		dynamolock.WithHeartbeatPeriod(opts.HeartBeat),
	)
	if err != nil {
		return nil, err
	}

	l := new(DynamoLock)
	l.tableName = tableName
	l.key = key
	l.lockClient = lc
	l.opts = opts
	return l, nil
}

// NewLock creates a DynamoLock for another key sharing the lock client.
func (l *DynamoLock) NewLock(key string) (lock.Locker, error) {
	nl := new(DynamoLock)
	nl.tableName = l.tableName
	nl.lockClient = l.lockClient
	nl.key = key
	nl.opts = l.opts
	return nl, nil
}

// TryLock attempts to acquire the DynamoDB lock.
func (l *DynamoLock) TryLock() (bool, error) {
	var opts []dynamolock.AcquireLockOption
	if !l.opts.Block {
		opts = append(opts, dynamolock.FailIfLocked())
	}
	item, err := l.lockClient.AcquireLock(l.key, opts...)
	if err != nil {
		return false, errors.Join(lock.ErrLockNotObtained, err)
	}
	l.lockedItem = item
	return true, nil
}

// Unlock releases the DynamoDB lock.
func (l *DynamoLock) Unlock() error {
	if l.lockedItem == nil {
		return lock.ErrUnableToUnlock
	}
	success, err := l.lockClient.ReleaseLock(l.lockedItem, dynamolock.WithDeleteLock(l.opts.DeleteOnRelease))
	if err != nil {
		return errors.Join(lock.ErrUnableToUnlock, err)
	}
	if !success {
		return lock.ErrUnableToUnlock
	}
	l.lockedItem = nil
	return nil
}

// Close stops the heartbeat of every lock created from this client.
func (l *DynamoLock) Close() error {
	return l.lockClient.Close()
}

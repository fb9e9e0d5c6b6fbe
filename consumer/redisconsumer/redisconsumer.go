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
// Package redisconsumer contains a consumer store backed by a Redis hash.
package redisconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rivian/paimon-go/consumer"
)

// RedisConsumerStore keeps every consumer of a table as a field of the hash Key.
type RedisConsumerStore struct {
	Key         string
	RedisClient redis.UniversalClient
	ctx         context.Context
	now         func() time.Time
}

type entry struct {
	NextSnapshot int64 `json:"nextSnapshot"`
	UpdateTime   int64 `json:"updateTime"`
}

// Compile time check that RedisConsumerStore implements consumer.Store
var _ consumer.Store = (*RedisConsumerStore)(nil)

// New creates a RedisConsumerStore.
func New(client redis.UniversalClient, key string) *RedisConsumerStore {
	s := new(RedisConsumerStore)
	s.RedisClient = client
	s.Key = key
	s.ctx = context.TODO()
	s.now = time.Now
	return s
}

func decode(data string) (consumer.Record, error) {
	var e entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return consumer.Record{}, errors.Join(consumer.ErrReadConsumer, err)
	}
	return consumer.Record{
		Consumer:     consumer.Consumer{NextSnapshot: e.NextSnapshot},
		LastModified: time.UnixMilli(e.UpdateTime),
	}, nil
}

// Get implements consumer.Store.
func (s *RedisConsumerStore) Get(id string) (consumer.Consumer, bool, error) {
	data, err := s.RedisClient.HGet(s.ctx, s.Key, id).Result()
	if errors.Is(err, redis.Nil) {
		return consumer.Consumer{}, false, nil
	}
	if err != nil {
		return consumer.Consumer{}, false, errors.Join(consumer.ErrReadConsumer, err)
	}
	r, err := decode(data)
	if err != nil {
		return consumer.Consumer{}, false, err
	}
	return r.Consumer, true, nil
}

// Put implements consumer.Store.
func (s *RedisConsumerStore) Put(id string, c consumer.Consumer) error {
	data, _ := json.Marshal(entry{NextSnapshot: c.NextSnapshot, UpdateTime: s.now().UnixMilli()})
	if err := s.RedisClient.HSet(s.ctx, s.Key, id, data).Err(); err != nil {
		return errors.Join(consumer.ErrWriteConsumer, err)
	}
	return nil
}

// Delete implements consumer.Store.
func (s *RedisConsumerStore) Delete(id string) error {
	if err := s.RedisClient.HDel(s.ctx, s.Key, id).Err(); err != nil {
		return errors.Join(consumer.ErrWriteConsumer, err)
	}
	return nil
}

// List implements consumer.Store.
func (s *RedisConsumerStore) List() (map[string]consumer.Record, error) {
	all, err := s.RedisClient.HGetAll(s.ctx, s.Key).Result()
	if err != nil {
		return nil, errors.Join(consumer.ErrReadConsumer, err)
	}
	records := make(map[string]consumer.Record, len(all))
	for id, data := range all {
		r, err := decode(data)
		if err != nil {
			return nil, err
		}
		records[id] = r
	}
	return records, nil
}

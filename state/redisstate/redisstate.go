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
// Package redisstate contains a snapshot hint store backed by Redis.
package redisstate

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rivian/paimon-go/state"
)

// RedisStateStore keeps each hint at Key:<hint>.
type RedisStateStore struct {
	Key         string
	RedisClient redis.UniversalClient
	ctx         context.Context
}

// Compile time check that RedisStateStore implements state.Store
var _ state.Store = (*RedisStateStore)(nil)

// New creates a RedisStateStore for the table identified by key.
func New(client redis.UniversalClient, key string) *RedisStateStore {
	s := new(RedisStateStore)
	s.RedisClient = client
	s.Key = key
	s.ctx = context.TODO()
	return s
}

func (s *RedisStateStore) redisKey(hint state.Hint) string {
	return s.Key + ":" + string(hint)
}

// Get implements state.Store.
func (s *RedisStateStore) Get(hint state.Hint) (int64, error) {
	id, err := s.RedisClient.Get(s.ctx, s.redisKey(hint)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, errors.Join(state.ErrStateIsEmpty, err)
	}
	if err != nil {
		return 0, errors.Join(state.ErrCanNotReadState, err)
	}
	return id, nil
}

// Put implements state.Store.
func (s *RedisStateStore) Put(hint state.Hint, snapshotID int64) error {
	err := s.RedisClient.Set(s.ctx, s.redisKey(hint), strconv.FormatInt(snapshotID, 10), 0).Err()
	if err != nil {
		return errors.Join(state.ErrCanNotWriteState, err)
	}
	return nil
}

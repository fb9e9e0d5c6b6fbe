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
// Package redislock contains a Locker backed by a redsync mutex.
package redislock

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/rivian/paimon-go/lock"
)

// RedisLock is a distributed mutex named Key.
type RedisLock struct {
	Key          string
	rs           *redsync.Redsync
	opts         Options
	redsyncMutex *redsync.Mutex
}

// Options adjusts a RedisLock.
type Options struct {
	// The amount of time that the owner has this lock for.
	TTL time.Duration
	// The number of attempts TryLock makes; 1 fails immediately if the lock is held.
	Tries int
}

// Compile time check that RedisLock implements lock.Locker
var _ lock.Locker = (*RedisLock)(nil)

const (
	// DefaultTTL is the default lock expiry.
	DefaultTTL time.Duration = 60 * time.Second
	// DefaultTries is the default number of attempts.
	DefaultTries int = 32

	baseMilliSec           float64 = 100
	multiplier             float64 = 1.5
	maxDelayMilliSec       float64 = 2000
	minRandomNoiseMilliSec float64 = 50
	maxRandomNoiseMilliSec float64 = 250
)

func (opts *Options) setOptionsDefaults() {
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Tries == 0 {
		opts.Tries = DefaultTries
	}
}

// NewFromClient creates a RedisLock on a single Redis client.
func NewFromClient(client goredislib.UniversalClient, key string, opts Options) *RedisLock {
	return New(redsync.New(goredis.NewPool(client)), key, opts)
}

// New creates a RedisLock. All instances that use the same key share the lock.
func New(rs *redsync.Redsync, key string, opts Options) *RedisLock {
	opts.setOptionsDefaults()

	l := new(RedisLock)
	l.Key = key
	l.rs = rs
	l.opts = opts
	l.redsyncMutex = rs.NewMutex(key,
		redsync.WithExpiry(opts.TTL),
		redsync.WithTries(opts.Tries),
		redsync.WithRetryDelayFunc(exponentialBackoff))
	return l
}

// NewLock creates a RedisLock with another key on the same redsync instance.
func (l *RedisLock) NewLock(key string) (lock.Locker, error) {
	return New(l.rs, key, l.opts), nil
}

// TryLock obtains the mutex. After this is successful, no one else can obtain the same lock
// (the same mutex name) until it is unlocked or expires.
func (l *RedisLock) TryLock() (bool, error) {
	if err := l.redsyncMutex.Lock(); err != nil {
		return false, errors.Join(lock.ErrLockNotObtained, err)
	}
	return true, nil
}

// Unlock releases the mutex.
func (l *RedisLock) Unlock() error {
	if ok, err := l.redsyncMutex.Unlock(); !ok || err != nil {
		return errors.Join(lock.ErrUnableToUnlock, err)
	}
	return nil
}

func exponentialBackoff(tries int) time.Duration {
	// Computes min(base * (multiplier ^ tries), max) + random_number_milliseconds
	delay := math.Min(baseMilliSec*math.Pow(multiplier, float64(tries)), maxDelayMilliSec)
	return time.Duration(delay+
		rand.Float64()*(maxRandomNoiseMilliSec-minRandomNoiseMilliSec)+
		minRandomNoiseMilliSec) * time.Millisecond
}

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

package storage

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
)

const defaultReadAttempts = 3

// RetryingStore wraps an ObjectStore and retries idempotent reads (Get, Head, List, ListAll, ReadAt)
// on transient failures. Writes are passed through untouched.
type RetryingStore struct {
	ObjectStore
	attempts   int
	newBackOff func() backoff.BackOff
}

// Compile time check that RetryingStore implements ObjectStore
var _ ObjectStore = (*RetryingStore)(nil)

// NewRetryingStore creates a RetryingStore. A zero attempts value uses the default of 3 and a nil
// newBackOff uses an exponential back-off starting at 50ms.
func NewRetryingStore(store ObjectStore, attempts int, newBackOff func() backoff.BackOff) *RetryingStore {
	if attempts <= 0 {
		attempts = defaultReadAttempts
	}
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		}
	}
	return &RetryingStore{ObjectStore: store, attempts: attempts, newBackOff: newBackOff}
}

func permanent(err error) bool {
	return errors.Is(err, ErrObjectDoesNotExist) || errors.Is(err, ErrObjectIsDir) || errors.Is(err, ErrObjectAlreadyExists)
}

func retryRead[T any](s *RetryingStore, op string, location Path, read func() (T, error)) (T, error) {
	b := s.newBackOff()
	var (
		result T
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, err = read()
		if err == nil || permanent(err) || attempt >= s.attempts {
			return result, err
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return result, err
		}
		log.Debugf("paimon-go: %s %s failed on attempt %d, retrying in %s. %v", op, location.Raw, attempt, wait, err)
		time.Sleep(wait)
	}
}

// Get retries the wrapped store's Get.
func (s *RetryingStore) Get(location Path) ([]byte, error) {
	return retryRead(s, "get", location, func() ([]byte, error) { return s.ObjectStore.Get(location) })
}

// Head retries the wrapped store's Head.
func (s *RetryingStore) Head(location Path) (ObjectMeta, error) {
	return retryRead(s, "head", location, func() (ObjectMeta, error) { return s.ObjectStore.Head(location) })
}

// List retries the wrapped store's List.
func (s *RetryingStore) List(prefix Path, previousResult *ListResult) (ListResult, error) {
	return retryRead(s, "list", prefix, func() (ListResult, error) { return s.ObjectStore.List(prefix, previousResult) })
}

// ListAll retries the wrapped store's ListAll.
func (s *RetryingStore) ListAll(prefix Path) (ListResult, error) {
	return retryRead(s, "list", prefix, func() (ListResult, error) { return s.ObjectStore.ListAll(prefix) })
}

// ReadAt retries the wrapped store's ReadAt.
func (s *RetryingStore) ReadAt(location Path, p []byte, off int64, max int64) (int, error) {
	return retryRead(s, "read", location, func() (int, error) { return s.ObjectStore.ReadAt(location, p, off, max) })
}

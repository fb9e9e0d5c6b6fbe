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
// Package lock contains the resources required to create a lock.
//
// A table commits by creating snapshot files with PutIfAbsent, so a lock is optional. Stores
// without an atomic create-if-absent (or deployments that want to serialize committers across
// processes) wrap snapshot publication in a Locker.
package lock

import (
	"errors"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrLockNotObtained is returned when a lock cannot be obtained.
	ErrLockNotObtained error = errors.New("the lock could not be obtained")
	// ErrUnableToUnlock is returned when a lock cannot be released.
	ErrUnableToUnlock error = errors.New("the lock could not be released")
)

// Locker is the abstract interface for providing a lock client.
type Locker interface {
	// Creates a new lock using an existing lock instance
	NewLock(key string) (Locker, error)

	// Releases the lock
	// Otherwise returns ErrUnableToUnlock.
	Unlock() error

	// Attempts to acquire lock. If successful, returns the true.
	// Otherwise returns false, ErrLockNotObtained.
	TryLock() (bool, error)
}

// RunWithLock acquires l, runs fn and releases l. An unlock failure is only reported when fn succeeded.
func RunWithLock[T any](l Locker, fn func() (T, error)) (result T, err error) {
	locked, err := l.TryLock()
	if err != nil {
		return result, err
	}
	if !locked {
		return result, ErrLockNotObtained
	}
	defer func() {
		if unlockErr := l.Unlock(); unlockErr != nil {
			log.Debugf("paimon-go: failed to release lock. %v", unlockErr)
			if err == nil {
				err = unlockErr
			}
		}
	}()
	return fn()
}

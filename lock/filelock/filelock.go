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
// Package filelock contains a Locker backed by an flock(2) file on a local or shared file system.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rivian/paimon-go/lock"
	"github.com/rivian/paimon-go/storage"
)

const (
	// DefaultTimeout bounds how long a blocking TryLock waits.
	DefaultTimeout time.Duration = 60 * time.Second
	// DefaultRetryDelay is the pause between attempts of a blocking TryLock.
	DefaultRetryDelay time.Duration = 10 * time.Millisecond
)

// FileLock locks baseURI/key.
type FileLock struct {
	baseURI storage.Path
	key     string
	lock    *flock.Flock
	opts    Options
}

// Compile time check that FileLock implements lock.Locker
var _ lock.Locker = (*FileLock)(nil)

// Options adjusts a FileLock.
type Options struct {
	// Block=true makes TryLock() wait up to Timeout for the lock; with Block=false TryLock()
	// returns false immediately if the lock is currently held by a different client
	Block      bool
	Timeout    time.Duration
	RetryDelay time.Duration
	// Remove the lock file on Unlock
	DeleteOnRelease bool
}

// Sets the default options
func (opts *Options) setOptionsDefaults() {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
}

// New creates a new FileLock instance
func New(baseURI storage.Path, key string, opts Options) *FileLock {
	opts.setOptionsDefaults()

	l := new(FileLock)
	l.baseURI = baseURI
	l.key = key
	l.opts = opts
	return l
}

// NewLock creates a new FileLock instance with the same options
func (l *FileLock) NewLock(key string) (lock.Locker, error) {
	return New(l.baseURI, key, l.opts), nil
}

func (l *FileLock) String() string {
	return fmt.Sprintf("FileLock{path: %s, locked: %v}", filepath.Join(l.baseURI.Raw, l.key), l.lock != nil && l.lock.Locked())
}

// TryLock attempts to acquire the file lock
func (l *FileLock) TryLock() (bool, error) {
	lockPath := filepath.Join(l.baseURI.Raw, l.key)
	if l.lock == nil {
		if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
			return false, errors.Join(lock.ErrLockNotObtained, err)
		}
		l.lock = flock.New(lockPath)
	}

	var (
		locked bool
		err    error
	)
	if l.opts.Block {
		ctx, cancel := context.WithTimeout(context.Background(), l.opts.Timeout)
		defer cancel()
		locked, err = l.lock.TryLockContext(ctx, l.opts.RetryDelay)
	} else {
		locked, err = l.lock.TryLock()
	}

	if err != nil || !locked {
		return false, errors.Join(lock.ErrLockNotObtained, err)
	}
	return true, nil
}

// Unlock releases the file lock
func (l *FileLock) Unlock() error {
	if l.lock == nil {
		return lock.ErrUnableToUnlock
	}
	if err := l.lock.Unlock(); err != nil {
		return errors.Join(lock.ErrUnableToUnlock, err)
	}

	if l.opts.DeleteOnRelease {
		if err := os.Remove(l.lock.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Join(lock.ErrUnableToUnlock, err)
		}
	}
	return nil
}

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
// Package nillock contains a Locker that does nothing.
package nillock

import (
	"github.com/rivian/paimon-go/lock"
)

// NilLock implements the Locker interface but is not backed by anything.
// It is the default for tables on stores with an atomic PutIfAbsent, where snapshot publication
// does not need an external lock.
type NilLock struct {
}

// Compile time check that NilLock implements lock.Locker
var _ lock.Locker = (*NilLock)(nil)

// New creates a new NilLock instance.
func New() *NilLock {
	return new(NilLock)
}

// NewLock returns another NilLock.
func (*NilLock) NewLock(string) (lock.Locker, error) {
	return new(NilLock), nil
}

// Unlock does nothing.
func (*NilLock) Unlock() error {
	return nil
}

// TryLock always returns true.
func (*NilLock) TryLock() (bool, error) {
	return true, nil
}

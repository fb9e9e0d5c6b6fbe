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
// Package localstate contains an in-memory snapshot hint store.
package localstate

import (
	"sync"

	"github.com/rivian/paimon-go/state"
)

// LocalStateStore stores hints in memory.
// There is no persistence; it is intended for tests and single-process tables.
type LocalStateStore struct {
	mu    sync.RWMutex
	hints map[state.Hint]int64
}

// Compile time check that LocalStateStore implements state.Store
var _ state.Store = (*LocalStateStore)(nil)

// New creates an empty LocalStateStore.
func New() *LocalStateStore {
	return &LocalStateStore{hints: make(map[state.Hint]int64)}
}

// Get implements state.Store.
func (s *LocalStateStore) Get(hint state.Hint) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.hints[hint]
	if !ok {
		return 0, state.ErrStateIsEmpty
	}
	return id, nil
}

// Put implements state.Store.
func (s *LocalStateStore) Put(hint state.Hint, snapshotID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints[hint] = snapshotID
	return nil
}

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
// Package filestate contains a snapshot hint store that keeps hint files next to the snapshots.
package filestate

import (
	"errors"
	"strconv"
	"strings"

	"github.com/rivian/paimon-go/state"
	"github.com/rivian/paimon-go/storage"
)

// FileStateStore writes each hint as a decimal snapshot id in Dir/<hint>.
type FileStateStore struct {
	Store storage.ObjectStore
	Dir   storage.Path
}

// Compile time check that FileStateStore implements state.Store
var _ state.Store = (*FileStateStore)(nil)

// New creates a FileStateStore writing hints below dir.
func New(store storage.ObjectStore, dir storage.Path) *FileStateStore {
	fs := new(FileStateStore)
	fs.Store = store
	fs.Dir = dir
	return fs
}

func (s *FileStateStore) location(hint state.Hint) storage.Path {
	return storage.PathFromIter([]string{s.Dir.Raw, string(hint)})
}

// Get implements state.Store.
func (s *FileStateStore) Get(hint state.Hint) (int64, error) {
	data, err := s.Store.Get(s.location(hint))
	if errors.Is(err, storage.ErrObjectDoesNotExist) {
		return 0, errors.Join(state.ErrStateIsEmpty, err)
	}
	if err != nil {
		return 0, errors.Join(state.ErrCanNotReadState, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, state.ErrStateIsEmpty
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, errors.Join(state.ErrCanNotReadState, err)
	}
	return id, nil
}

// Put implements state.Store.
func (s *FileStateStore) Put(hint state.Hint, snapshotID int64) error {
	if err := s.Store.Put(s.location(hint), []byte(strconv.FormatInt(snapshotID, 10))); err != nil {
		return errors.Join(state.ErrCanNotWriteState, err)
	}
	return nil
}

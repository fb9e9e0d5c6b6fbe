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
package consumer

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/rivian/paimon-go/storage"
)

const (
	consumerDir    = "consumer"
	consumerPrefix = "consumer-"
)

// FileStore keeps one JSON file per consumer at consumer/consumer-<id> in the table's object store.
type FileStore struct {
	store storage.ObjectStore
}

// Compile time check that FileStore implements Store
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore on the table root.
func NewFileStore(store storage.ObjectStore) *FileStore {
	return &FileStore{store: store}
}

// Path returns the location of a consumer record relative to the table root.
func Path(id string) storage.Path {
	return storage.PathFromIter([]string{consumerDir, consumerPrefix + id})
}

// Get implements Store.
func (s *FileStore) Get(id string) (Consumer, bool, error) {
	var c Consumer
	data, err := s.store.Get(Path(id))
	if errors.Is(err, storage.ErrObjectDoesNotExist) {
		return c, false, nil
	}
	if err != nil {
		return c, false, errors.Join(ErrReadConsumer, err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, false, errors.Join(ErrReadConsumer, err)
	}
	return c, true, nil
}

// Put implements Store.
func (s *FileStore) Put(id string, c Consumer) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Join(ErrWriteConsumer, err)
	}
	if err := s.store.Put(Path(id), data); err != nil {
		return errors.Join(ErrWriteConsumer, err)
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(id string) error {
	return s.store.Delete(Path(id))
}

// List implements Store.
func (s *FileStore) List() (map[string]Record, error) {
	results, err := s.store.ListAll(storage.PathFromIter([]string{consumerDir, consumerPrefix}))
	if err != nil {
		return nil, errors.Join(ErrReadConsumer, err)
	}
	records := make(map[string]Record, len(results.Objects))
	for _, o := range results.Objects {
		id := strings.TrimPrefix(o.Location.Base(), consumerPrefix)
		c, ok, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		// Deleted between list and read
		if !ok {
			continue
		}
		records[id] = Record{Consumer: c, LastModified: o.LastModified}
	}
	return records, nil
}

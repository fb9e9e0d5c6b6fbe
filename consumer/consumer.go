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
// Package consumer contains the registry of named streaming consumers and the next snapshot each
// one will read. Snapshots at or after the smallest next snapshot of a live consumer are never
// expired.
package consumer

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrInvalidConsumerID is returned for empty ids or ids that cannot be used in a path.
	ErrInvalidConsumerID error = errors.New("invalid consumer id")
	// ErrReadConsumer is returned when a consumer record cannot be read.
	ErrReadConsumer error = errors.New("unable to read consumer")
	// ErrWriteConsumer is returned when a consumer record cannot be written.
	ErrWriteConsumer error = errors.New("unable to write consumer")
)

// Consumer is the durable progress of one named consumer.
type Consumer struct {
	NextSnapshot int64 `json:"nextSnapshot"`
}

// Record is a Consumer plus the time it was last written.
type Record struct {
	Consumer
	LastModified time.Time
}

// Store persists consumer records.
type Store interface {
	// Get returns the consumer, or false when it does not exist.
	Get(id string) (Consumer, bool, error)
	// Put overwrites the consumer.
	Put(id string, c Consumer) error
	// Delete removes the consumer; deleting a missing consumer is not an error.
	Delete(id string) error
	// List returns every consumer keyed by id.
	List() (map[string]Record, error)
}

// ValidateID rejects ids that are empty or contain a path separator.
func ValidateID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") {
		return errors.Join(ErrInvalidConsumerID, fmt.Errorf("consumer id %q", id))
	}
	return nil
}

// Manager reads and advances consumer records.
type Manager struct {
	store Store
}

// NewManager creates a Manager over store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Consumer returns the record of id, or false if the consumer does not exist.
func (m *Manager) Consumer(id string) (Consumer, bool, error) {
	if err := ValidateID(id); err != nil {
		return Consumer{}, false, err
	}
	return m.store.Get(id)
}

// ResetConsumer overwrites the record of id.
func (m *Manager) ResetConsumer(id string, c Consumer) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	log.Debugf("paimon-go: consumer %s next snapshot is %d", id, c.NextSnapshot)
	return m.store.Put(id, c)
}

// DeleteConsumer removes the record of id.
func (m *Manager) DeleteConsumer(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	return m.store.Delete(id)
}

// Consumers returns the next snapshot of every consumer.
func (m *Manager) Consumers() (map[string]int64, error) {
	records, err := m.store.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(records))
	for id, r := range records {
		out[id] = r.NextSnapshot
	}
	return out, nil
}

// MinNextSnapshot returns the smallest next snapshot over all consumers, or false if there are none.
func (m *Manager) MinNextSnapshot() (int64, bool, error) {
	records, err := m.store.List()
	if err != nil {
		return 0, false, err
	}
	if len(records) == 0 {
		return 0, false, nil
	}
	min := int64(math.MaxInt64)
	for _, r := range records {
		if r.NextSnapshot < min {
			min = r.NextSnapshot
		}
	}
	return min, true, nil
}

// ExpireConsumers deletes consumers that have not been written since before and returns how many
// were removed.
func (m *Manager) ExpireConsumers(before time.Time) (int, error) {
	records, err := m.store.List()
	if err != nil {
		return 0, err
	}
	expired := 0
	for id, r := range records {
		if !r.LastModified.Before(before) {
			continue
		}
		if err := m.store.Delete(id); err != nil {
			return expired, err
		}
		log.Infof("paimon-go: expired consumer %s last updated at %s", id, r.LastModified)
		expired++
	}
	return expired, nil
}

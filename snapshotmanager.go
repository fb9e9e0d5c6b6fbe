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
package paimon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rivian/paimon-go/lock"
	"github.com/rivian/paimon-go/state"
	"github.com/rivian/paimon-go/state/filestate"
	"github.com/rivian/paimon-go/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

var (
	// ErrAlignmentTimeout is returned when a snapshot is not published within the alignment timeout.
	ErrAlignmentTimeout error = errors.New("timed out waiting for snapshot")
)

const defaultAlignmentPollInterval = 100 * time.Millisecond

// SnapshotManager reads and publishes snapshots.
// Publishing creates snapshot/snapshot-<id> only if absent, so no lock is required for correctness.
type SnapshotManager struct {
	store storage.ObjectStore
	// Hints for the latest and earliest snapshot ids. Hints are only trusted once verified.
	hints state.Store
	// Optional lock held while publishing, to spare contending writers wasted attempts
	lock lock.Locker
	// Interval between existence checks in WaitForSnapshot
	PollInterval time.Duration
}

// NewSnapshotManager creates a snapshot manager. A nil hints store keeps hints next to the snapshots.
func NewSnapshotManager(store storage.ObjectStore, hints state.Store, locker lock.Locker) *SnapshotManager {
	if hints == nil {
		hints = filestate.New(store, storage.NewPath("snapshot"))
	}
	return &SnapshotManager{store: store, hints: hints, lock: locker, PollInterval: defaultAlignmentPollInterval}
}

// Store returns the object store holding the table.
func (m *SnapshotManager) Store() storage.ObjectStore {
	return m.store
}

// Exists is true if the snapshot has been published and not expired.
func (m *SnapshotManager) Exists(id int64) (bool, error) {
	return storage.Exists(m.store, SnapshotPath(id))
}

// Get reads a snapshot.
func (m *SnapshotManager) Get(id int64) (*Snapshot, error) {
	b, err := m.store.Get(SnapshotPath(id))
	if errors.Is(err, storage.ErrObjectDoesNotExist) {
		return nil, errors.Join(ErrSnapshotNotFound, fmt.Errorf("snapshot %d", id))
	}
	if err != nil {
		return nil, err
	}
	return SnapshotFromJSON(b)
}

// TryGet reads a snapshot, returning nil if it does not exist.
func (m *SnapshotManager) TryGet(id int64) (*Snapshot, error) {
	s, err := m.Get(id)
	if errors.Is(err, ErrSnapshotNotFound) {
		return nil, nil
	}
	return s, err
}

func (m *SnapshotManager) listIDs() ([]int64, error) {
	list, err := m.store.ListAll(storage.NewPath("snapshot/snapshot-"))
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(list.Objects))
	for _, o := range list.Objects {
		if ok, id := SnapshotIDFromPath(o.Location); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *SnapshotManager) readHint(hint state.Hint) (int64, bool) {
	id, err := m.hints.Get(hint)
	if err != nil {
		if !errors.Is(err, state.ErrStateIsEmpty) {
			log.Debugf("paimon-go: failed to read %s hint. %v", hint, err)
		}
		return 0, false
	}
	return id, true
}

func (m *SnapshotManager) writeHint(hint state.Hint, id int64) {
	if err := m.hints.Put(hint, id); err != nil {
		log.Debugf("paimon-go: failed to write %s hint %d. %v", hint, id, err)
	}
}

// LatestID returns the id of the newest snapshot; ok is false for an empty table.
func (m *SnapshotManager) LatestID() (id int64, ok bool, err error) {
	if hint, found := m.readHint(state.Latest); found && hint > 0 {
		exists, err := m.Exists(hint)
		if err != nil {
			return 0, false, err
		}
		if exists {
			// The hint may lag behind writers that failed to update it.
			for {
				next, err := m.Exists(hint + 1)
				if err != nil {
					return 0, false, err
				}
				if !next {
					return hint, true, nil
				}
				hint++
			}
		}
	}
	ids, err := m.listIDs()
	if err != nil || len(ids) == 0 {
		return 0, false, err
	}
	return ids[len(ids)-1], true, nil
}

// EarliestID returns the id of the oldest snapshot that has not been expired.
func (m *SnapshotManager) EarliestID() (id int64, ok bool, err error) {
	if hint, found := m.readHint(state.Earliest); found && hint > 0 {
		exists, err := m.Exists(hint)
		if err != nil {
			return 0, false, err
		}
		if exists {
			return hint, true, nil
		}
	}
	ids, err := m.listIDs()
	if err != nil || len(ids) == 0 {
		return 0, false, err
	}
	return ids[0], true, nil
}

// Latest reads the newest snapshot, or returns nil for an empty table.
func (m *SnapshotManager) Latest() (*Snapshot, error) {
	id, ok, err := m.LatestID()
	if err != nil || !ok {
		return nil, err
	}
	return m.Get(id)
}

// Earliest reads the oldest snapshot, or returns nil for an empty table.
func (m *SnapshotManager) Earliest() (*Snapshot, error) {
	id, ok, err := m.EarliestID()
	if err != nil || !ok {
		return nil, err
	}
	return m.Get(id)
}

// TryPublish creates the snapshot file for id. It returns false without side effects when
// another writer already published id.
func (m *SnapshotManager) TryPublish(id int64, snapshot *Snapshot) (bool, error) {
	b, err := snapshot.JSON()
	if err != nil {
		return false, err
	}
	publish := func() (bool, error) {
		err := m.store.PutIfAbsent(SnapshotPath(id), b)
		if errors.Is(err, storage.ErrObjectAlreadyExists) {
			log.Debugf("paimon-go: snapshot %d was already published", id)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		m.writeHint(state.Latest, id)
		return true, nil
	}
	if m.lock == nil {
		return publish()
	}
	return lock.RunWithLock(m.lock, publish)
}

// CommitEarliestHint records the oldest live snapshot after expiration.
func (m *SnapshotManager) CommitEarliestHint(id int64) {
	m.writeHint(state.Earliest, id)
}

// CommitLatestHint records the newest snapshot.
func (m *SnapshotManager) CommitLatestHint(id int64) {
	m.writeHint(state.Latest, id)
}

// Snapshots returns every live snapshot in id order.
func (m *SnapshotManager) Snapshots() ([]*Snapshot, error) {
	ids, err := m.listIDs()
	if err != nil {
		return nil, err
	}
	snapshots := make([]*Snapshot, 0, len(ids))
	for _, id := range ids {
		s, err := m.TryGet(id)
		if err != nil {
			return nil, err
		}
		// expired while listing
		if s != nil {
			snapshots = append(snapshots, s)
		}
	}
	return snapshots, nil
}

// findFromLatest walks from the newest snapshot back to the earliest and returns the first one
// accepted by match. Snapshots expired during the walk end it.
func (m *SnapshotManager) findFromLatest(match func(*Snapshot) bool) (*Snapshot, error) {
	latest, ok, err := m.LatestID()
	if err != nil || !ok {
		return nil, err
	}
	earliest, ok, err := m.EarliestID()
	if err != nil || !ok {
		return nil, err
	}
	for id := latest; id >= earliest; id-- {
		s, err := m.TryGet(id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, nil
		}
		if match(s) {
			return s, nil
		}
	}
	return nil, nil
}

// LatestSnapshotOfUser returns the newest snapshot committed by user, or nil.
func (m *SnapshotManager) LatestSnapshotOfUser(user string) (*Snapshot, error) {
	return m.findFromLatest(func(s *Snapshot) bool { return s.CommitUser == user })
}

// EarlierOrEqualTimeMillis returns the newest snapshot committed at or before timeMillis, or nil.
func (m *SnapshotManager) EarlierOrEqualTimeMillis(timeMillis int64) (*Snapshot, error) {
	return m.findFromLatest(func(s *Snapshot) bool { return s.TimeMillis <= timeMillis })
}

// LaterOrEqualWatermark returns the oldest snapshot whose watermark is at least watermark, or nil.
func (m *SnapshotManager) LaterOrEqualWatermark(watermark int64) (*Snapshot, error) {
	var found *Snapshot
	_, err := m.findFromLatest(func(s *Snapshot) bool {
		if s.Watermark == nil || *s.Watermark < watermark {
			return found != nil
		}
		found = s
		return false
	})
	return found, err
}

// WaitForSnapshot blocks until snapshot id exists. It fails with ErrAlignmentTimeout once timeout
// passes instead of waiting forever.
func (m *SnapshotManager) WaitForSnapshot(ctx context.Context, id int64, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(m.PollInterval)
	defer ticker.Stop()
	for {
		exists, err := m.Exists(id)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errors.Join(ErrAlignmentTimeout, fmt.Errorf("snapshot %d was not published within %s", id, timeout))
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

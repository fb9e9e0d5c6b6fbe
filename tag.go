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
	"errors"
	"fmt"
	"strings"

	"github.com/rivian/paimon-go/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

var (
	// ErrTagNotFound is returned when a tag does not exist.
	ErrTagNotFound error = errors.New("tag not found")
	// ErrTagAlreadyExists is returned when creating a tag whose name is taken.
	ErrTagAlreadyExists error = errors.New("tag already exists")
	// ErrInvalidTagName is returned for empty names or names that cannot be used in a path.
	ErrInvalidTagName error = errors.New("invalid tag name")
)

const tagPrefix = "tag-"

// TagPath returns the location of a tag.
func TagPath(name string) storage.Path {
	return storage.PathFromIter([]string{"tag", tagPrefix + name})
}

// Tag is a named snapshot kept beyond snapshot expiry.
type Tag struct {
	Name     string
	Snapshot *Snapshot
}

// TagManager creates, reads and deletes tags. A tag is a copy of the tagged snapshot.
type TagManager struct {
	store     storage.ObjectStore
	snapshots *SnapshotManager
}

func NewTagManager(store storage.ObjectStore, snapshots *SnapshotManager) *TagManager {
	return &TagManager{store: store, snapshots: snapshots}
}

func validateTagName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "/\\") {
		return errors.Join(ErrInvalidTagName, fmt.Errorf("tag name %q", name))
	}
	return nil
}

// CreateTag tags an existing snapshot.
func (m *TagManager) CreateTag(name string, snapshotID int64) (*Tag, error) {
	if err := validateTagName(name); err != nil {
		return nil, err
	}
	snapshot, err := m.snapshots.Get(snapshotID)
	if err != nil {
		return nil, err
	}
	b, err := snapshot.JSON()
	if err != nil {
		return nil, err
	}
	err = m.store.PutIfAbsent(TagPath(name), b)
	if errors.Is(err, storage.ErrObjectAlreadyExists) {
		return nil, errors.Join(ErrTagAlreadyExists, fmt.Errorf("tag %s", name))
	}
	if err != nil {
		return nil, err
	}
	log.Infof("paimon-go: created tag %s for snapshot %d", name, snapshotID)
	return &Tag{Name: name, Snapshot: snapshot}, nil
}

// Tag returns the tag called name.
func (m *TagManager) Tag(name string) (*Tag, error) {
	if err := validateTagName(name); err != nil {
		return nil, err
	}
	b, err := m.store.Get(TagPath(name))
	if errors.Is(err, storage.ErrObjectDoesNotExist) {
		return nil, errors.Join(ErrTagNotFound, fmt.Errorf("tag %s", name))
	}
	if err != nil {
		return nil, err
	}
	snapshot, err := SnapshotFromJSON(b)
	if err != nil {
		return nil, err
	}
	return &Tag{Name: name, Snapshot: snapshot}, nil
}

// DeleteTag removes the tag record. Files of the tagged snapshot are released by Table.DeleteTag.
func (m *TagManager) DeleteTag(name string) error {
	if _, err := m.Tag(name); err != nil {
		return err
	}
	return m.store.Delete(TagPath(name))
}

// Tags returns every tag ordered by snapshot id, then name.
func (m *TagManager) Tags() ([]Tag, error) {
	list, err := m.store.ListAll(storage.PathFromIter([]string{"tag", tagPrefix}))
	if err != nil {
		return nil, err
	}
	tags := make([]Tag, 0, len(list.Objects))
	for _, o := range list.Objects {
		name, ok := strings.CutPrefix(o.Location.Base(), tagPrefix)
		if !ok || name == "" {
			continue
		}
		tag, err := m.Tag(name)
		if errors.Is(err, ErrTagNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tags = append(tags, *tag)
	}
	slices.SortFunc(tags, func(a, b Tag) int {
		if a.Snapshot.ID != b.Snapshot.ID {
			if a.Snapshot.ID < b.Snapshot.ID {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return tags, nil
}

// TaggedSnapshots returns the distinct tagged snapshots ordered by id.
func (m *TagManager) TaggedSnapshots() ([]*Snapshot, error) {
	tags, err := m.Tags()
	if err != nil {
		return nil, err
	}
	snapshots := make([]*Snapshot, 0, len(tags))
	for _, t := range tags {
		if n := len(snapshots); n > 0 && snapshots[n-1].ID == t.Snapshot.ID {
			continue
		}
		snapshots = append(snapshots, t.Snapshot)
	}
	return snapshots, nil
}

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
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/rivian/paimon-go/storage"
)

var (
	// ErrParseSnapshot is returned when a snapshot file cannot be parsed.
	ErrParseSnapshot error = errors.New("unable to parse snapshot")
	// ErrSnapshotNotFound is returned when a snapshot does not exist.
	ErrSnapshotNotFound error = errors.New("snapshot not found")
)

const snapshotFormatVersion = 3

var snapshotFileRegex *regexp.Regexp = regexp.MustCompile(`^snapshot-(\d+)$`)

// CommitKind is the kind of change a snapshot records.
type CommitKind string

const (
	// CommitKindAppend adds new files.
	CommitKindAppend CommitKind = "APPEND"
	// CommitKindCompact replaces files with compacted ones.
	CommitKindCompact CommitKind = "COMPACT"
	// CommitKindOverwrite replaces all files of some partitions.
	CommitKindOverwrite CommitKind = "OVERWRITE"
	// CommitKindAnalyze records statistics only.
	CommitKindAnalyze CommitKind = "ANALYZE"
)

// Snapshot is one immutable version of a table.
type Snapshot struct {
	Version               int             `json:"version"`
	ID                    int64           `json:"id"`
	SchemaID              int64           `json:"schemaId"`
	BaseManifestList      string          `json:"baseManifestList"`
	DeltaManifestList     string          `json:"deltaManifestList"`
	ChangelogManifestList *string         `json:"changelogManifestList,omitempty"`
	IndexManifest         *string         `json:"indexManifest,omitempty"`
	CommitUser            string          `json:"commitUser"`
	CommitIdentifier      int64           `json:"commitIdentifier"`
	CommitKind            CommitKind      `json:"commitKind"`
	TimeMillis            int64           `json:"timeMillis"`
	LogOffsets            map[int32]int64 `json:"logOffsets,omitempty"`
	TotalRecordCount      int64           `json:"totalRecordCount"`
	DeltaRecordCount      int64           `json:"deltaRecordCount"`
	ChangelogRecordCount  *int64          `json:"changelogRecordCount,omitempty"`
	Watermark             *int64          `json:"watermark,omitempty"`
}

// JSON marshals a snapshot.
func (s *Snapshot) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// SnapshotFromJSON unmarshals a snapshot.
func SnapshotFromJSON(b []byte) (*Snapshot, error) {
	s := new(Snapshot)
	if err := json.Unmarshal(b, s); err != nil {
		return nil, errors.Join(ErrParseSnapshot, err)
	}
	return s, nil
}

// ManifestLists returns every manifest list the snapshot references.
func (s *Snapshot) ManifestLists() []string {
	lists := []string{s.BaseManifestList, s.DeltaManifestList}
	if s.ChangelogManifestList != nil {
		lists = append(lists, *s.ChangelogManifestList)
	}
	return lists
}

// SnapshotPath returns the location of a snapshot.
func SnapshotPath(id int64) storage.Path {
	return storage.PathFromIter([]string{"snapshot", fmt.Sprintf("snapshot-%d", id)})
}

// SnapshotIDFromPath returns true plus the id if the path names a snapshot.
func SnapshotIDFromPath(path storage.Path) (bool, int64) {
	groups := snapshotFileRegex.FindStringSubmatch(path.Base())
	if len(groups) == 2 {
		id, err := strconv.ParseInt(groups[1], 10, 64)
		if err == nil {
			return true, id
		}
	}
	return false, 0
}

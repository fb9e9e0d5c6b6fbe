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
)

var (
	// ErrCommitConflict is returned when a commit is semantically incompatible with the table and
	// retrying cannot help.
	ErrCommitConflict error = errors.New("commit conflict")
	// ErrStrictModeViolation is returned when strict mode finds a compaction or overwrite by
	// another writer since the last safe snapshot.
	ErrStrictModeViolation error = errors.New("strict-mode violation")
)

// checkBuckets rejects changes whose bucket count differs from the files already in the partition.
// Only an overwrite may change the number of buckets.
func checkBuckets(base []ManifestEntry, changes []ManifestEntry) error {
	totalBuckets := make(map[string]int32)
	for _, e := range base {
		if e.Kind == FileKindAdd {
			totalBuckets[e.Partition.String()] = e.TotalBuckets
		}
	}
	for _, e := range changes {
		existing, ok := totalBuckets[e.Partition.String()]
		if ok && existing != e.TotalBuckets {
			return errors.Join(ErrCommitConflict, fmt.Errorf(
				"total buckets of partition {%s} changed from %d to %d without overwrite. Give up committing",
				e.Partition, existing, e.TotalBuckets))
		}
	}
	return nil
}

// checkNoConflicts applies changes to the base file set. Deleting a file that another writer has
// already removed, or adding a file twice, cannot be retried away.
func checkNoConflicts(base []ManifestEntry, changes []ManifestEntry, kind CommitKind) error {
	if kind != CommitKindOverwrite {
		if err := checkBuckets(base, changes); err != nil {
			return err
		}
	}
	merged, err := MergeEntries(base, changes)
	if err != nil {
		return errors.Join(ErrCommitConflict, fmt.Errorf("file addition conflicts detected. Give up committing"), err)
	}
	if err := AssertNoDelete(merged); err != nil {
		return errors.Join(ErrCommitConflict, fmt.Errorf("file deletion conflicts detected. Give up committing"), err)
	}
	return nil
}

// checkStrictMode rejects the commit when a snapshot after lastSafe and before newID is a
// compaction or overwrite from another commit user.
func (c *Committer) checkStrictMode(newID int64) error {
	if c.strictModeLastSafe == nil || *c.strictModeLastSafe < 0 {
		return nil
	}
	for id := *c.strictModeLastSafe + 1; id < newID; id++ {
		s, err := c.snapshots.TryGet(id)
		if err != nil {
			return err
		}
		if s == nil {
			continue
		}
		if (s.CommitKind == CommitKindCompact || s.CommitKind == CommitKindOverwrite) && s.CommitUser != c.commitUser {
			return errors.Join(ErrStrictModeViolation, fmt.Errorf(
				"snapshot %d is a %s commit from another job. Giving up committing as %s is set",
				id, s.CommitKind, CommitStrictModeLastSafeSnapshotConfigKey))
		}
	}
	return nil
}

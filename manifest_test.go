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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func entry(kind FileKind, bucket int32, level int32, name string) ManifestEntry {
	return ManifestEntry{
		Kind:         kind,
		Partition:    Partition{"dt": "2024-01-01"},
		Bucket:       bucket,
		TotalBuckets: 2,
		File:         DataFileMeta{FileName: name, Level: level, RowCount: 1},
	}
}

func entryNames(entries []ManifestEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		prefix := "+"
		if e.Kind == FileKindDelete {
			prefix = "-"
		}
		names = append(names, prefix+e.File.FileName)
	}
	return names
}

func TestMergeEntries(t *testing.T) {
	merged, err := MergeEntries(
		[]ManifestEntry{entry(FileKindAdd, 0, 0, "a"), entry(FileKindAdd, 0, 0, "b"), entry(FileKindAdd, 1, 0, "c")},
		[]ManifestEntry{entry(FileKindDelete, 0, 0, "a"), entry(FileKindAdd, 0, 1, "a"), entry(FileKindDelete, 0, 0, "missing")},
	)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if diff := cmp.Diff([]string{"+b", "+c", "+a", "-missing"}, entryNames(merged)); diff != "" {
		t.Errorf("merged mismatch (-want +got):\n%s", diff)
	}
	if merged[2].File.Level != 1 {
		t.Errorf("level = %d; want 1", merged[2].File.Level)
	}
	if err := AssertNoDelete(merged); !errors.Is(err, ErrDeleteMissingFile) {
		t.Errorf("err = %e; want ErrDeleteMissingFile", err)
	}
	if err := AssertNoDelete(merged[:3]); err != nil {
		t.Errorf("err = %e;", err)
	}
}

func TestMergeEntriesDuplicateAdd(t *testing.T) {
	_, err := MergeEntries([]ManifestEntry{entry(FileKindAdd, 0, 0, "a")}, []ManifestEntry{entry(FileKindAdd, 0, 0, "a")})
	if !errors.Is(err, ErrDuplicateFile) {
		t.Errorf("err = %e; want ErrDuplicateFile", err)
	}

	// The same file name in another bucket is another file.
	merged, err := MergeEntries([]ManifestEntry{entry(FileKindAdd, 0, 0, "a"), entry(FileKindAdd, 1, 0, "a")})
	if err != nil || len(merged) != 2 {
		t.Errorf("merged = %v, err = %e;", entryNames(merged), err)
	}
}

func TestMergeEntriesReAdd(t *testing.T) {
	merged, err := MergeEntries([]ManifestEntry{
		entry(FileKindAdd, 0, 0, "a"),
		entry(FileKindDelete, 0, 0, "a"),
		entry(FileKindAdd, 0, 0, "a"),
	})
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if diff := cmp.Diff([]string{"+a"}, entryNames(merged)); diff != "" {
		t.Errorf("merged mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeIndexEntries(t *testing.T) {
	index := func(kind FileKind, name string) IndexManifestEntry {
		return IndexManifestEntry{Kind: kind, Partition: Partition{"dt": "1"}, IndexFile: IndexFileMeta{IndexType: "HASH", FileName: name}}
	}
	merged := MergeIndexEntries(
		[]IndexManifestEntry{index(FileKindAdd, "i1"), index(FileKindAdd, "i2")},
		[]IndexManifestEntry{index(FileKindDelete, "i1"), index(FileKindAdd, "i3"), index(FileKindAdd, "i2"), index(FileKindDelete, "gone")},
	)
	var names []string
	for _, e := range merged {
		names = append(names, e.IndexFile.FileName)
	}
	if diff := cmp.Diff([]string{"i2", "i3"}, names); diff != "" {
		t.Errorf("index mismatch (-want +got):\n%s", diff)
	}
}

func TestPartition(t *testing.T) {
	p := Partition{"region": "eu", "dt": "2024-01-01"}
	if got := p.String(); got != "dt=2024-01-01/region=eu" {
		t.Errorf("String() = %s", got)
	}
	if !p.Matches(nil) || !p.Matches(Partition{"dt": "2024-01-01"}) || p.Matches(Partition{"dt": "2024-01-02"}) {
		t.Error("Matches returned the wrong result")
	}
	if Partition(nil).String() != "" {
		t.Errorf("String() of an empty partition = %q", Partition(nil).String())
	}
}

func TestDataFileMetaUpgrade(t *testing.T) {
	f := DataFileMeta{FileName: "a", Level: 0}
	upgraded := f.Upgrade(3)
	if f.Level != 0 || upgraded.Level != 3 || upgraded.FileName != "a" {
		t.Errorf("upgraded = %+v", upgraded)
	}
	before := ManifestEntry{File: f}
	after := ManifestEntry{File: upgraded}
	if before.Identifier() == after.Identifier() {
		t.Error("an upgraded file must have another identifier")
	}
	if before.BucketKey() != after.BucketKey() {
		t.Error("an upgraded file must stay in its bucket")
	}
}

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

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var (
	// ErrDuplicateFile is returned when a file is added twice to the same file set.
	ErrDuplicateFile error = errors.New("trying to add a file which is already added")
	// ErrDeleteMissingFile is returned when a file set deletes a file it never added.
	ErrDeleteMissingFile error = errors.New("trying to delete a file which is not previously added")
)

// FileKind marks a manifest entry as an addition or a deletion.
type FileKind int32

const (
	FileKindAdd    FileKind = 0
	FileKindDelete FileKind = 1
)

func (k FileKind) String() string {
	switch k {
	case FileKindAdd:
		return "ADD"
	case FileKindDelete:
		return "DELETE"
	}
	return fmt.Sprintf("FileKind(%d)", int32(k))
}

// FileSource records whether a data file was written by a writer or by compaction.
type FileSource int32

const (
	FileSourceAppend  FileSource = 0
	FileSourceCompact FileSource = 1
)

// Partition holds the partition values of a file, keyed by partition column.
type Partition map[string]string

// String returns the canonical form of a partition: key=value pairs sorted by key.
func (p Partition) String() string {
	keys := maps.Keys(p)
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+p[k])
	}
	return strings.Join(parts, "/")
}

// Matches is true when p has every value of filter.
func (p Partition) Matches(filter Partition) bool {
	for k, v := range filter {
		if p[k] != v {
			return false
		}
	}
	return true
}

// SimpleStats are opaque, encoded min/max values plus null counts per column.
type SimpleStats struct {
	MinValues  []byte  `avro:"min_values" parquet:"name=min_values"`
	MaxValues  []byte  `avro:"max_values" parquet:"name=max_values"`
	NullCounts []int64 `avro:"null_counts" parquet:"name=null_counts"`
}

// DataFileMeta describes one immutable data file.
type DataFileMeta struct {
	FileName           string      `avro:"file_name" parquet:"name=file_name"`
	FileSize           int64       `avro:"file_size" parquet:"name=file_size"`
	RowCount           int64       `avro:"row_count" parquet:"name=row_count"`
	MinKey             []byte      `avro:"min_key" parquet:"name=min_key"`
	MaxKey             []byte      `avro:"max_key" parquet:"name=max_key"`
	KeyStats           SimpleStats `avro:"key_stats" parquet:"name=key_stats"`
	ValueStats         SimpleStats `avro:"value_stats" parquet:"name=value_stats"`
	MinSequenceNumber  int64       `avro:"min_sequence_number" parquet:"name=min_sequence_number"`
	MaxSequenceNumber  int64       `avro:"max_sequence_number" parquet:"name=max_sequence_number"`
	SchemaID           int64       `avro:"schema_id" parquet:"name=schema_id"`
	Level              int32       `avro:"level" parquet:"name=level"`
	ExtraFiles         []string    `avro:"extra_files" parquet:"name=extra_files"`
	CreationTimeMillis int64       `avro:"creation_time" parquet:"name=creation_time"`
	DeleteRowCount     *int64      `avro:"delete_row_count" parquet:"name=delete_row_count"`
	FileSource         *FileSource `avro:"file_source" parquet:"name=file_source"`
}

// Upgrade returns a copy of the file moved to another level, as produced by a compaction that
// does not rewrite the file.
func (f DataFileMeta) Upgrade(level int32) DataFileMeta {
	f.Level = level
	return f
}

// ManifestEntry is one file-level fact: a data file added to or deleted from a bucket.
type ManifestEntry struct {
	Kind         FileKind     `avro:"kind" parquet:"name=kind"`
	Partition    Partition    `avro:"partition" parquet:"name=partition"`
	Bucket       int32        `avro:"bucket" parquet:"name=bucket"`
	TotalBuckets int32        `avro:"total_buckets" parquet:"name=total_buckets"`
	File         DataFileMeta `avro:"file" parquet:"name=file"`
}

// EntryIdentifier identifies a data file within a table.
type EntryIdentifier struct {
	Partition  string
	Bucket     int32
	Level      int32
	FileName   string
	ExtraFiles string
}

func (id EntryIdentifier) String() string {
	return fmt.Sprintf("{partition=%s, bucket=%d, level=%d, fileName=%s, extraFiles=[%s]}", id.Partition, id.Bucket, id.Level, id.FileName, id.ExtraFiles)
}

// Identifier returns the key under which additions and deletions of the same file are folded.
func (e ManifestEntry) Identifier() EntryIdentifier {
	return EntryIdentifier{
		Partition:  e.Partition.String(),
		Bucket:     e.Bucket,
		Level:      e.File.Level,
		FileName:   e.File.FileName,
		ExtraFiles: strings.Join(e.File.ExtraFiles, ","),
	}
}

// BucketKey identifies one bucket of one partition.
type BucketKey struct {
	Partition string
	Bucket    int32
}

func (e ManifestEntry) BucketKey() BucketKey {
	return BucketKey{Partition: e.Partition.String(), Bucket: e.Bucket}
}

// MergeEntries folds entries in order. A DELETE cancels the matching ADD; a DELETE without a
// matching ADD is kept so conflict detection can see it. Adding a file twice is an error.
func MergeEntries(entries ...[]ManifestEntry) ([]ManifestEntry, error) {
	merged := make(map[EntryIdentifier]int)
	var result []ManifestEntry
	removed := 0
	for _, group := range entries {
		for _, e := range group {
			id := e.Identifier()
			i, ok := merged[id]
			switch e.Kind {
			case FileKindAdd:
				if ok {
					return nil, errors.Join(ErrDuplicateFile, fmt.Errorf("file %s", id))
				}
			case FileKindDelete:
				if ok && result[i].Kind == FileKindAdd {
					result[i].Kind = -1
					delete(merged, id)
					removed++
					continue
				}
				if ok {
					continue
				}
			default:
				return nil, fmt.Errorf("unknown file kind %d", e.Kind)
			}
			merged[id] = len(result)
			result = append(result, e)
		}
	}
	if removed > 0 {
		result = slices.DeleteFunc(result, func(e ManifestEntry) bool { return e.Kind == -1 })
	}
	return result, nil
}

// AssertNoDelete fails on the first DELETE left after merging.
func AssertNoDelete(entries []ManifestEntry) error {
	for _, e := range entries {
		if e.Kind == FileKindDelete {
			return errors.Join(ErrDeleteMissingFile, fmt.Errorf("file %s", e.Identifier()))
		}
	}
	return nil
}

// IndexFileMeta describes one auxiliary index file of a bucket.
type IndexFileMeta struct {
	IndexType string `avro:"index_type" parquet:"name=index_type"`
	FileName  string `avro:"file_name" parquet:"name=file_name"`
	FileSize  int64  `avro:"file_size" parquet:"name=file_size"`
	RowCount  int64  `avro:"row_count" parquet:"name=row_count"`
}

// IndexManifestEntry adds or deletes an index file.
type IndexManifestEntry struct {
	Kind      FileKind      `avro:"kind" parquet:"name=kind"`
	Partition Partition     `avro:"partition" parquet:"name=partition"`
	Bucket    int32         `avro:"bucket" parquet:"name=bucket"`
	IndexFile IndexFileMeta `avro:"index_file" parquet:"name=index_file"`
}

type indexIdentifier struct {
	partition string
	bucket    int32
	indexType string
	fileName  string
}

func (e IndexManifestEntry) identifier() indexIdentifier {
	return indexIdentifier{partition: e.Partition.String(), bucket: e.Bucket, indexType: e.IndexFile.IndexType, fileName: e.IndexFile.FileName}
}

// MergeIndexEntries applies index changes to the full list of live index files.
func MergeIndexEntries(base []IndexManifestEntry, changes []IndexManifestEntry) []IndexManifestEntry {
	live := make(map[indexIdentifier]int, len(base))
	result := make([]IndexManifestEntry, 0, len(base)+len(changes))
	for _, e := range append(slices.Clone(base), changes...) {
		id := e.identifier()
		switch e.Kind {
		case FileKindAdd:
			if _, ok := live[id]; ok {
				continue
			}
			live[id] = len(result)
			result = append(result, e)
		case FileKindDelete:
			if i, ok := live[id]; ok {
				result[i].Kind = FileKindDelete
				delete(live, id)
			}
		}
	}
	return slices.DeleteFunc(result, func(e IndexManifestEntry) bool { return e.Kind == FileKindDelete })
}

// ManifestFileMeta summarizes one manifest file so scans can skip it without reading it.
type ManifestFileMeta struct {
	FileName          string         `avro:"file_name" parquet:"name=file_name"`
	FileSize          int64          `avro:"file_size" parquet:"name=file_size"`
	NumAddedFiles     int64          `avro:"num_added_files" parquet:"name=num_added_files"`
	NumDeletedFiles   int64          `avro:"num_deleted_files" parquet:"name=num_deleted_files"`
	PartitionStats    PartitionStats `avro:"partition_stats" parquet:"name=partition_stats"`
	SchemaID          int64          `avro:"schema_id" parquet:"name=schema_id"`
	MinBucket         int32          `avro:"min_bucket" parquet:"name=min_bucket"`
	MaxBucket         int32          `avro:"max_bucket" parquet:"name=max_bucket"`
	MinLevel          int32          `avro:"min_level" parquet:"name=min_level"`
	MaxLevel          int32          `avro:"max_level" parquet:"name=max_level"`
	MinSequenceNumber int64          `avro:"min_sequence_number" parquet:"name=min_sequence_number"`
	MaxSequenceNumber int64          `avro:"max_sequence_number" parquet:"name=max_sequence_number"`
}

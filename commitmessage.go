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

// DataIncrement holds the files a writer produced for one bucket.
type DataIncrement struct {
	NewFiles       []DataFileMeta
	DeletedFiles   []DataFileMeta
	ChangelogFiles []DataFileMeta
}

func (d DataIncrement) IsEmpty() bool {
	return len(d.NewFiles) == 0 && len(d.DeletedFiles) == 0 && len(d.ChangelogFiles) == 0
}

// CompactIncrement holds files replaced by compaction. Before and after are committed together.
type CompactIncrement struct {
	CompactBefore  []DataFileMeta
	CompactAfter   []DataFileMeta
	ChangelogFiles []DataFileMeta
}

func (c CompactIncrement) IsEmpty() bool {
	return len(c.CompactBefore) == 0 && len(c.CompactAfter) == 0 && len(c.ChangelogFiles) == 0
}

// IndexIncrement holds index files added and removed for one bucket.
type IndexIncrement struct {
	NewIndexFiles     []IndexFileMeta
	DeletedIndexFiles []IndexFileMeta
}

func (i IndexIncrement) IsEmpty() bool {
	return len(i.NewIndexFiles) == 0 && len(i.DeletedIndexFiles) == 0
}

// CommitMessage is a writer's staged change set for one bucket of one partition.
// It lives in memory until a committer folds it into a snapshot.
type CommitMessage struct {
	Partition         Partition
	Bucket            int32
	TotalBuckets      int32
	NewFilesIncrement DataIncrement
	CompactIncrement  CompactIncrement
	IndexIncrement    IndexIncrement
}

func (m CommitMessage) IsEmpty() bool {
	return m.NewFilesIncrement.IsEmpty() && m.CompactIncrement.IsEmpty() && m.IndexIncrement.IsEmpty()
}

// ManifestCommittable is everything committed under one commit identifier.
type ManifestCommittable struct {
	Identifier int64
	Watermark  *int64
	LogOffsets map[int32]int64
	Messages   []CommitMessage
}

func NewManifestCommittable(identifier int64, messages ...CommitMessage) ManifestCommittable {
	return ManifestCommittable{Identifier: identifier, Messages: messages, LogOffsets: map[int32]int64{}}
}

// AddLogOffset records the log offset of a bucket, keeping the latest one.
func (c *ManifestCommittable) AddLogOffset(bucket int32, offset int64) {
	if c.LogOffsets == nil {
		c.LogOffsets = map[int32]int64{}
	}
	c.LogOffsets[bucket] = offset
}

// IsEmpty is true when no message carries a file change.
func (c ManifestCommittable) IsEmpty() bool {
	for _, m := range c.Messages {
		if !m.IsEmpty() {
			return false
		}
	}
	return true
}

func entriesOf(kind FileKind, m CommitMessage, files []DataFileMeta) []ManifestEntry {
	entries := make([]ManifestEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, ManifestEntry{Kind: kind, Partition: m.Partition, Bucket: m.Bucket, TotalBuckets: m.TotalBuckets, File: f})
	}
	return entries
}

func indexEntriesOf(kind FileKind, m CommitMessage, files []IndexFileMeta) []IndexManifestEntry {
	entries := make([]IndexManifestEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, IndexManifestEntry{Kind: kind, Partition: m.Partition, Bucket: m.Bucket, IndexFile: f})
	}
	return entries
}

// committableChanges splits a committable into the entries of an APPEND and a COMPACT snapshot.
type committableChanges struct {
	appendTable      []ManifestEntry
	appendChangelog  []ManifestEntry
	appendIndex      []IndexManifestEntry
	compactTable     []ManifestEntry
	compactChangelog []ManifestEntry
	compactIndex     []IndexManifestEntry
}

func collectChanges(messages []CommitMessage) committableChanges {
	var c committableChanges
	for _, m := range messages {
		c.appendTable = append(c.appendTable, entriesOf(FileKindAdd, m, m.NewFilesIncrement.NewFiles)...)
		c.appendTable = append(c.appendTable, entriesOf(FileKindDelete, m, m.NewFilesIncrement.DeletedFiles)...)
		c.appendChangelog = append(c.appendChangelog, entriesOf(FileKindAdd, m, m.NewFilesIncrement.ChangelogFiles)...)
		c.compactTable = append(c.compactTable, entriesOf(FileKindDelete, m, m.CompactIncrement.CompactBefore)...)
		c.compactTable = append(c.compactTable, entriesOf(FileKindAdd, m, m.CompactIncrement.CompactAfter)...)
		c.compactChangelog = append(c.compactChangelog, entriesOf(FileKindAdd, m, m.CompactIncrement.ChangelogFiles)...)

		// Index changes go with the compaction when the bucket was compacted.
		index := indexEntriesOf(FileKindAdd, m, m.IndexIncrement.NewIndexFiles)
		index = append(index, indexEntriesOf(FileKindDelete, m, m.IndexIncrement.DeletedIndexFiles)...)
		if m.CompactIncrement.IsEmpty() {
			c.appendIndex = append(c.appendIndex, index...)
		} else {
			c.compactIndex = append(c.compactIndex, index...)
		}
	}
	return c
}

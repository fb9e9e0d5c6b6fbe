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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rivian/paimon-go/storage"
	"github.com/rivian/paimon-go/storage/filestore"
)

var testStartTime = time.UnixMilli(1_700_000_000_000)

type testTableConfig struct {
	options       map[string]string
	partitionKeys []string
	primaryKeys   []string
	store         storage.ObjectStore
}

func newTestTable(t *testing.T, options map[string]string, partitionKeys ...string) (*Table, *ManualClock) {
	t.Helper()
	return newTestTableWithConfig(t, testTableConfig{options: options, partitionKeys: partitionKeys})
}

func newTestTableWithConfig(t *testing.T, config testTableConfig) (*Table, *ManualClock) {
	t.Helper()
	store := config.store
	if store == nil {
		store = filestore.New(storage.NewPath(t.TempDir()))
	}
	clock := NewManualClock(testStartTime)
	schema := Schema{
		Fields: []DataField{
			{Name: "dt", Type: String},
			{Name: "id", Type: BigInt},
			{Name: "value", Type: String},
		},
		PartitionKeys: config.partitionKeys,
		PrimaryKeys:   config.primaryKeys,
		Options:       config.options,
	}
	table, err := CreateTable(store, schema, &TableOptions{Clock: clock})
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	return table, clock
}

// writeDataFile creates a data file in the bucket directory and returns its metadata.
func writeDataFile(t *testing.T, table *Table, partition Partition, bucket int32, level int32, rows int64) DataFileMeta {
	t.Helper()
	name := fmt.Sprintf("data-%s-0.orc", uuid.New().String())
	data := []byte(fmt.Sprintf("%d rows", rows))
	if err := table.Store().Put(table.DataFilePath(partition, bucket, name), data); err != nil {
		t.Fatalf("err = %e;", err)
	}
	return DataFileMeta{
		FileName:           name,
		FileSize:           int64(len(data)),
		RowCount:           rows,
		MinSequenceNumber:  0,
		MaxSequenceNumber:  rows - 1,
		Level:              level,
		ExtraFiles:         []string{},
		CreationTimeMillis: table.Clock().Now().UnixMilli(),
	}
}

func appendMessage(partition Partition, bucket int32, totalBuckets int32, files ...DataFileMeta) CommitMessage {
	return CommitMessage{
		Partition:         partition,
		Bucket:            bucket,
		TotalBuckets:      totalBuckets,
		NewFilesIncrement: DataIncrement{NewFiles: files},
	}
}

func compactMessage(partition Partition, bucket int32, totalBuckets int32, before []DataFileMeta, after []DataFileMeta) CommitMessage {
	return CommitMessage{
		Partition:        partition,
		Bucket:           bucket,
		TotalBuckets:     totalBuckets,
		CompactIncrement: CompactIncrement{CompactBefore: before, CompactAfter: after},
	}
}

func newTestCommit(t *testing.T, table *Table, user string, opts ...CommitOption) *Committer {
	t.Helper()
	c, err := table.NewCommit(user, opts...)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func commitMessages(t *testing.T, c *Committer, identifier int64, messages ...CommitMessage) {
	t.Helper()
	if err := c.Commit(context.Background(), NewManifestCommittable(identifier, messages...)); err != nil {
		t.Fatalf("err = %e;", err)
	}
}

// liveFileNames returns the names of the live files of a snapshot.
func liveFileNames(t *testing.T, table *Table, snapshot *Snapshot) []string {
	t.Helper()
	entries, err := table.NewSnapshotReader().ReadEntries(context.Background(), snapshot, ScanKindAll)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.File.FileName)
	}
	return names
}

func fileNames(files ...DataFileMeta) []string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.FileName)
	}
	return names
}

func latestSnapshot(t *testing.T, table *Table) *Snapshot {
	t.Helper()
	s, err := table.SnapshotManager().Latest()
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if s == nil {
		t.Fatal("table has no snapshot")
	}
	return s
}

func TestOpenTable(t *testing.T) {
	store := filestore.New(storage.NewPath(t.TempDir()))
	if _, err := OpenTable(store, nil); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("err = %e; want ErrTableNotFound", err)
	}

	created, _ := newTestTableWithConfig(t, testTableConfig{
		store:         store,
		options:       map[string]string{"bucket": "4"},
		partitionKeys: []string{"dt"},
	})
	opened, err := OpenTable(store, &TableOptions{DynamicOptions: map[string]string{"write-only": "true"}})
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if opened.Schema().ID != created.Schema().ID {
		t.Errorf("schema id = %d; want %d", opened.Schema().ID, created.Schema().ID)
	}
	if opened.Options().Bucket != 4 || !opened.Options().WriteOnly {
		t.Errorf("bucket = %d, write-only = %v", opened.Options().Bucket, opened.Options().WriteOnly)
	}
	if created.Options().WriteOnly {
		t.Error("dynamic options leaked into the schema")
	}

	retrying, err := OpenTable(store, &TableOptions{ReadRetries: 2})
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if _, ok := retrying.Store().(*storage.RetryingStore); !ok {
		t.Errorf("store = %T; want reads retried", retrying.Store())
	}

	if _, err := CreateTable(store, *created.Schema(), nil); !errors.Is(err, ErrTableAlreadyExists) {
		t.Errorf("err = %e; want ErrTableAlreadyExists", err)
	}
}

func TestTableCopy(t *testing.T) {
	table, _ := newTestTable(t, nil)
	copied, err := table.Copy(map[string]string{"consumer.id": "reader"})
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if copied.Options().ConsumerID != "reader" {
		t.Errorf("ConsumerID = %q", copied.Options().ConsumerID)
	}
	if table.Options().ConsumerID != "" {
		t.Errorf("original ConsumerID = %q", table.Options().ConsumerID)
	}
	if _, err := table.Copy(map[string]string{"commit.max-retries": "zero"}); err == nil {
		t.Error("expected an invalid option to fail")
	}
}

func TestDataFilePath(t *testing.T) {
	table, _ := newTestTableWithConfig(t, testTableConfig{partitionKeys: []string{"dt", "id"}})

	tests := []struct {
		partition Partition
		want      string
	}{
		{Partition{"dt": "2024-01-01", "id": "7"}, "dt=2024-01-01/id=7/bucket-3/data-1.orc"},
		{Partition{"id": "7", "dt": "2024-01-01"}, "dt=2024-01-01/id=7/bucket-3/data-1.orc"},
		{Partition{}, "bucket-3/data-1.orc"},
	}
	for _, tt := range tests {
		if got := table.DataFilePath(tt.partition, 3, "data-1.orc").Raw; got != tt.want {
			t.Errorf("DataFilePath(%v) = %s; want %s", tt.partition, got, tt.want)
		}
	}
}

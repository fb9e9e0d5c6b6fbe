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
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rivian/paimon-go/storage"
	"github.com/rivian/paimon-go/storage/filestore"
	"golang.org/x/sync/errgroup"
)

// hookStore intercepts snapshot publishes.
type hookStore struct {
	storage.ObjectStore
	mu     sync.Mutex
	before func(location storage.Path) error
	after  func(location storage.Path, err error) error
}

func newHookStore(t *testing.T) *hookStore {
	return &hookStore{ObjectStore: filestore.New(storage.NewPath(t.TempDir()))}
}

func (s *hookStore) PutIfAbsent(location storage.Path, data []byte) error {
	if ok, _ := SnapshotIDFromPath(location); !ok {
		return s.ObjectStore.PutIfAbsent(location, data)
	}
	s.mu.Lock()
	before, after := s.before, s.after
	s.mu.Unlock()
	if before != nil {
		if err := before(location); err != nil {
			return err
		}
	}
	err := s.ObjectStore.PutIfAbsent(location, data)
	if after != nil {
		return after(location, err)
	}
	return err
}

func TestCommitSnapshotIDsAreSequential(t *testing.T) {
	table, _ := newTestTable(t, nil)
	c := newTestCommit(t, table, "writer")

	var files []DataFileMeta
	for i := int64(1); i <= 5; i++ {
		f := writeDataFile(t, table, nil, 0, 0, 10)
		files = append(files, f)
		commitMessages(t, c, i, appendMessage(nil, 0, 1, f))
	}

	snapshots, err := table.SnapshotManager().Snapshots()
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if len(snapshots) != 5 {
		t.Fatalf("len(snapshots) = %d; want 5", len(snapshots))
	}
	for i, s := range snapshots {
		want := int64(i + 1)
		if s.ID != want || s.CommitIdentifier != want || s.CommitKind != CommitKindAppend || s.CommitUser != "writer" {
			t.Errorf("snapshot %d = %+v", want, s)
		}
	}
	latest := latestSnapshot(t, table)
	if latest.TotalRecordCount != 50 || latest.DeltaRecordCount != 10 {
		t.Errorf("TotalRecordCount = %d, DeltaRecordCount = %d", latest.TotalRecordCount, latest.DeltaRecordCount)
	}
	if diff := cmp.Diff(fileNames(files...), liveFileNames(t, table, latest), cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("live files mismatch (-want +got):\n%s", diff)
	}
}

func TestCommitAppendThenCompact(t *testing.T) {
	table, _ := newTestTable(t, map[string]string{"bucket": "1"})
	c := newTestCommit(t, table, "writer")

	f1 := writeDataFile(t, table, nil, 0, 0, 10)
	f2 := writeDataFile(t, table, nil, 0, 0, 10)
	commitMessages(t, c, 1, appendMessage(nil, 0, 1, f1))

	compacted := writeDataFile(t, table, nil, 0, 4, 10)
	message := appendMessage(nil, 0, 1, f2)
	message.CompactIncrement = CompactIncrement{CompactBefore: []DataFileMeta{f1}, CompactAfter: []DataFileMeta{compacted}}
	commitMessages(t, c, 2, message)

	snapshots, err := table.SnapshotManager().Snapshots()
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	var kinds []CommitKind
	for _, s := range snapshots {
		kinds = append(kinds, s.CommitKind)
	}
	if diff := cmp.Diff([]CommitKind{CommitKindAppend, CommitKindAppend, CommitKindCompact}, kinds); diff != "" {
		t.Errorf("commit kinds mismatch (-want +got):\n%s", diff)
	}
	want := fileNames(f2, compacted)
	if diff := cmp.Diff(want, liveFileNames(t, table, snapshots[2]), cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("live files mismatch (-want +got):\n%s", diff)
	}
	if snapshots[2].TotalRecordCount != 20 {
		t.Errorf("TotalRecordCount = %d; want 20", snapshots[2].TotalRecordCount)
	}
}

func TestIgnoreEmptyCommit(t *testing.T) {
	table, _ := newTestTable(t, nil)
	ctx := context.Background()

	c := newTestCommit(t, table, "writer")
	if err := c.Commit(ctx, NewManifestCommittable(1)); err != nil {
		t.Fatalf("err = %e;", err)
	}
	if _, ok, _ := table.SnapshotManager().LatestID(); ok {
		t.Error("empty commit published a snapshot")
	}

	c = newTestCommit(t, table, "writer", IgnoreEmptyCommit(false))
	if err := c.Commit(ctx, NewManifestCommittable(2)); err != nil {
		t.Fatalf("err = %e;", err)
	}
	latest := latestSnapshot(t, table)
	if latest.ID != 1 || latest.CommitIdentifier != 2 || latest.CommitKind != CommitKindAppend {
		t.Errorf("latest = %+v", latest)
	}
}

func TestFilterAndCommitSkipsCommittedIdentifiers(t *testing.T) {
	table, _ := newTestTable(t, nil)
	ctx := context.Background()

	committable := func(id int64) ManifestCommittable {
		return NewManifestCommittable(id, appendMessage(nil, 0, 1, writeDataFile(t, table, nil, 0, 0, 1)))
	}

	first := NewCallbackRecorder()
	c := newTestCommit(t, table, "writer", WithCallbacks(first))
	published, err := c.FilterAndCommit(ctx, map[int64]ManifestCommittable{1: committable(1), 2: committable(2), 3: committable(3)})
	if err != nil || published != 3 {
		t.Fatalf("published = %d, err = %e;", published, err)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, first.Identifiers()); diff != "" {
		t.Errorf("identifiers mismatch (-want +got):\n%s", diff)
	}

	// A restarted writer resubmits what it saw last plus new work.
	second := NewCallbackRecorder()
	c = newTestCommit(t, table, "writer", WithCallbacks(second))
	published, err = c.FilterAndCommit(ctx, map[int64]ManifestCommittable{2: committable(2), 3: committable(3), 4: committable(4)})
	if err != nil || published != 1 {
		t.Fatalf("published = %d, err = %e;", published, err)
	}
	if second.Retries() != 2 || second.Calls() != 1 {
		t.Errorf("retries = %d, calls = %d", second.Retries(), second.Calls())
	}
	if diff := cmp.Diff([]int64{2, 3, 4}, second.Identifiers()); diff != "" {
		t.Errorf("identifiers mismatch (-want +got):\n%s", diff)
	}
	if latest := latestSnapshot(t, table); latest.ID != 4 || latest.CommitIdentifier != 4 {
		t.Errorf("latest = %+v", latest)
	}

	// Another commit user is not affected by the identifiers of writer.
	c = newTestCommit(t, table, "other")
	published, err = c.FilterAndCommit(ctx, map[int64]ManifestCommittable{1: committable(1)})
	if err != nil || published != 1 {
		t.Errorf("published = %d, err = %e;", published, err)
	}
}

func TestFilterAndCommitRecoverDeletedFiles(t *testing.T) {
	table, _ := newTestTable(t, nil)
	c := newTestCommit(t, table, "writer")

	kept := writeDataFile(t, table, nil, 0, 0, 1)
	deleted := writeDataFile(t, table, nil, 0, 0, 1)
	if err := table.Store().Delete(table.DataFilePath(nil, 0, deleted.FileName)); err != nil {
		t.Fatal(err)
	}

	_, err := c.FilterAndCommit(context.Background(), map[int64]ManifestCommittable{
		7: NewManifestCommittable(7, appendMessage(nil, 0, 1, kept, deleted)),
	})
	if !errors.Is(err, ErrCannotRecover) {
		t.Fatalf("err = %e; want ErrCannotRecover", err)
	}
	if !strings.Contains(err.Error(), deleted.FileName) || strings.Contains(err.Error(), kept.FileName) {
		t.Errorf("error does not name exactly the missing file: %s", err)
	}
	if !strings.Contains(err.Error(), "commit identifier 7") {
		t.Errorf("error does not name the identifier: %s", err)
	}
	if _, ok, _ := table.SnapshotManager().LatestID(); ok {
		t.Error("a snapshot was published")
	}
}

func TestDisjointBucketCommitsBothSucceed(t *testing.T) {
	table, _ := newTestTable(t, map[string]string{"bucket": "2"})
	a := newTestCommit(t, table, "a")
	b := newTestCommit(t, table, "b")
	fa := writeDataFile(t, table, nil, 0, 0, 1)
	fb := writeDataFile(t, table, nil, 1, 0, 1)

	var g errgroup.Group
	g.Go(func() error {
		return a.Commit(context.Background(), NewManifestCommittable(1, appendMessage(nil, 0, 2, fa)))
	})
	g.Go(func() error {
		return b.Commit(context.Background(), NewManifestCommittable(1, appendMessage(nil, 1, 2, fb)))
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("err = %e;", err)
	}

	latest := latestSnapshot(t, table)
	if latest.ID != 2 {
		t.Errorf("latest id = %d; want 2", latest.ID)
	}
	if diff := cmp.Diff(fileNames(fa, fb), liveFileNames(t, table, latest), cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("live files mismatch (-want +got):\n%s", diff)
	}
}

func TestSameBucketCommitRetriesAfterLostRace(t *testing.T) {
	store := newHookStore(t)
	table, clock := newTestTableWithConfig(t, testTableConfig{store: store, options: map[string]string{"bucket": "1"}})
	other, err := OpenTable(store.ObjectStore, &TableOptions{Clock: clock})
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	otherCommit := newTestCommit(t, other, "other")

	mine := writeDataFile(t, table, nil, 0, 0, 1)
	theirs := writeDataFile(t, table, nil, 0, 0, 1)
	raced := false
	store.before = func(storage.Path) error {
		if !raced {
			raced = true
			commitMessages(t, otherCommit, 1, appendMessage(nil, 0, 1, theirs))
		}
		return nil
	}

	commitMessages(t, newTestCommit(t, table, "writer"), 1, appendMessage(nil, 0, 1, mine))

	first, err := table.SnapshotManager().Get(1)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	latest := latestSnapshot(t, table)
	if first.CommitUser != "other" || latest.ID != 2 || latest.CommitUser != "writer" {
		t.Errorf("first = %+v, latest = %+v", first, latest)
	}
	if diff := cmp.Diff(fileNames(theirs, mine), liveFileNames(t, table, latest), cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("live files mismatch (-want +got):\n%s", diff)
	}
	if len(clock.Slept()) != 1 {
		t.Errorf("slept %v; want one retry wait", clock.Slept())
	}
}

func TestCommitGivesUpAfterMaxRetries(t *testing.T) {
	store := newHookStore(t)
	table, clock := newTestTableWithConfig(t, testTableConfig{store: store, options: map[string]string{"commit.max-retries": "3"}})
	store.before = func(storage.Path) error {
		return storage.ErrObjectAlreadyExists
	}

	c := newTestCommit(t, table, "writer")
	err := c.Commit(context.Background(), NewManifestCommittable(1, appendMessage(nil, 0, 1, writeDataFile(t, table, nil, 0, 0, 1))))
	if !errors.Is(err, ErrExceededCommitRetryAttempts) || !errors.Is(err, ErrCommitConflict) {
		t.Fatalf("err = %e; want ErrExceededCommitRetryAttempts", err)
	}
	if len(clock.Slept()) != 2 {
		t.Errorf("slept %v; want two retry waits", clock.Slept())
	}
	manifests, err := store.ListAll(storage.NewPath("manifest/"))
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if len(manifests.Objects) != 0 {
		t.Errorf("%d manifest files left behind", len(manifests.Objects))
	}
}

func TestCommitResolvesFailedPublish(t *testing.T) {
	store := newHookStore(t)
	table, _ := newTestTableWithConfig(t, testTableConfig{store: store})
	failed := false
	store.after = func(location storage.Path, err error) error {
		if err == nil && !failed {
			failed = true
			return errors.Join(storage.ErrPutObject, errors.New("connection reset"))
		}
		return err
	}

	recorder := NewCallbackRecorder()
	c := newTestCommit(t, table, "writer", WithCallbacks(recorder))
	commitMessages(t, c, 1, appendMessage(nil, 0, 1, writeDataFile(t, table, nil, 0, 0, 1)))

	if latest := latestSnapshot(t, table); latest.ID != 1 || latest.CommitIdentifier != 1 {
		t.Errorf("latest = %+v", latest)
	}
	if recorder.Calls() != 1 {
		t.Errorf("calls = %d; want 1", recorder.Calls())
	}
}

func TestBucketCountChangeWithoutOverwriteFails(t *testing.T) {
	table, _ := newTestTable(t, map[string]string{"bucket": "1"}, "dt")
	ctx := context.Background()
	c := newTestCommit(t, table, "writer")
	p := Partition{"dt": "2024-01-01"}

	commitMessages(t, c, 1, appendMessage(p, 0, 1, writeDataFile(t, table, p, 0, 0, 1)))

	err := c.Commit(ctx, NewManifestCommittable(2, appendMessage(p, 1, 2, writeDataFile(t, table, p, 1, 0, 1))))
	if !errors.Is(err, ErrCommitConflict) {
		t.Fatalf("err = %e; want ErrCommitConflict", err)
	}
	if !strings.Contains(err.Error(), "changed from 1 to 2 without overwrite") {
		t.Errorf("err = %s", err)
	}

	// Other partitions may use another bucket count.
	other := Partition{"dt": "2024-01-02"}
	commitMessages(t, c, 3, appendMessage(other, 1, 2, writeDataFile(t, table, other, 1, 0, 1)))

	rescaled := writeDataFile(t, table, p, 1, 0, 1)
	if err := c.Overwrite(ctx, p, NewManifestCommittable(4, appendMessage(p, 1, 2, rescaled))); err != nil {
		t.Fatalf("err = %e;", err)
	}
	entries, err := table.NewSnapshotReader().WithPartitionFilter(p).ReadEntries(ctx, latestSnapshot(t, table), ScanKindAll)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if len(entries) != 1 || entries[0].TotalBuckets != 2 || entries[0].File.FileName != rescaled.FileName {
		t.Errorf("entries = %+v", entries)
	}
}

func TestConcurrentDeleteOfSameFileFails(t *testing.T) {
	table, _ := newTestTable(t, map[string]string{"bucket": "1"})
	ctx := context.Background()
	writer := newTestCommit(t, table, "writer")
	f := writeDataFile(t, table, nil, 0, 0, 1)
	commitMessages(t, writer, 1, appendMessage(nil, 0, 1, f))

	a := newTestCommit(t, table, "compactor-a")
	b := newTestCommit(t, table, "compactor-b")
	commitMessages(t, a, 1, compactMessage(nil, 0, 1, []DataFileMeta{f}, []DataFileMeta{writeDataFile(t, table, nil, 0, 1, 1)}))
	err := b.Commit(ctx, NewManifestCommittable(1, compactMessage(nil, 0, 1, []DataFileMeta{f}, []DataFileMeta{writeDataFile(t, table, nil, 0, 1, 1)})))
	if !errors.Is(err, ErrCommitConflict) || !errors.Is(err, ErrDeleteMissingFile) {
		t.Errorf("err = %e; want ErrCommitConflict", err)
	}
	if latest := latestSnapshot(t, table); latest.ID != 2 {
		t.Errorf("latest id = %d; want 2", latest.ID)
	}
}

func TestStrictMode(t *testing.T) {
	table, _ := newTestTable(t, map[string]string{"bucket": "1", "commit.strict-mode.last-safe-snapshot": "-1"})
	ctx := context.Background()
	writer := newTestCommit(t, table, "writer")
	other := newTestCommit(t, table, "other")

	commitMessages(t, writer, 1, appendMessage(nil, 0, 1, writeDataFile(t, table, nil, 0, 0, 1)))
	f := writeDataFile(t, table, nil, 0, 0, 1)
	commitMessages(t, other, 1, appendMessage(nil, 0, 1, f))
	// Appends from another user are safe.
	commitMessages(t, writer, 2, appendMessage(nil, 0, 1, writeDataFile(t, table, nil, 0, 0, 1)))

	commitMessages(t, other, 2, compactMessage(nil, 0, 1, []DataFileMeta{f}, []DataFileMeta{writeDataFile(t, table, nil, 0, 1, 1)}))
	err := writer.Commit(ctx, NewManifestCommittable(3, appendMessage(nil, 0, 1, writeDataFile(t, table, nil, 0, 0, 1))))
	if !errors.Is(err, ErrStrictModeViolation) {
		t.Fatalf("err = %e; want ErrStrictModeViolation", err)
	}
	if !strings.Contains(err.Error(), "strict-mode") {
		t.Errorf("err = %s", err)
	}

	// A new writer that starts after the compaction is safe.
	fresh, err := table.Copy(map[string]string{"commit.strict-mode.last-safe-snapshot": "4"})
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	commitMessages(t, newTestCommit(t, fresh, "writer"), 3, appendMessage(nil, 0, 1, writeDataFile(t, table, nil, 0, 0, 1)))

	overwriter := newTestCommit(t, table, "overwriter")
	if err := overwriter.TruncateTable(ctx, 1); err != nil {
		t.Fatalf("err = %e;", err)
	}
	strict, err := table.Copy(map[string]string{"commit.strict-mode.last-safe-snapshot": "5"})
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	err = newTestCommit(t, strict, "writer").Commit(ctx, NewManifestCommittable(4, appendMessage(nil, 0, 1, writeDataFile(t, table, nil, 0, 0, 1))))
	if !errors.Is(err, ErrStrictModeViolation) {
		t.Errorf("err = %e; want ErrStrictModeViolation", err)
	}
}

func TestOverwriteDropAndTruncate(t *testing.T) {
	table, _ := newTestTable(t, nil, "dt")
	ctx := context.Background()
	c := newTestCommit(t, table, "writer")
	p1 := Partition{"dt": "1"}
	p2 := Partition{"dt": "2"}
	p3 := Partition{"dt": "3"}

	f1 := writeDataFile(t, table, p1, 0, 0, 1)
	f2 := writeDataFile(t, table, p2, 0, 0, 1)
	f3 := writeDataFile(t, table, p3, 0, 0, 1)
	commitMessages(t, c, 1, appendMessage(p1, 0, 1, f1), appendMessage(p2, 0, 1, f2), appendMessage(p3, 0, 1, f3))

	replacement := writeDataFile(t, table, p1, 0, 0, 1)
	if err := c.Overwrite(ctx, p1, NewManifestCommittable(2, appendMessage(p1, 0, 1, replacement))); err != nil {
		t.Fatalf("err = %e;", err)
	}
	latest := latestSnapshot(t, table)
	if latest.CommitKind != CommitKindOverwrite {
		t.Errorf("CommitKind = %s", latest.CommitKind)
	}
	sortStrings := cmpopts.SortSlices(func(a, b string) bool { return a < b })
	if diff := cmp.Diff(fileNames(replacement, f2, f3), liveFileNames(t, table, latest), sortStrings); diff != "" {
		t.Errorf("live files mismatch (-want +got):\n%s", diff)
	}

	err := c.Overwrite(ctx, p1, NewManifestCommittable(3, appendMessage(p2, 0, 1, writeDataFile(t, table, p2, 0, 0, 1))))
	if !errors.Is(err, ErrInvalidOverwrite) {
		t.Errorf("err = %e; want ErrInvalidOverwrite", err)
	}

	if err := c.DropPartitions(ctx, []Partition{p2}, 3); err != nil {
		t.Fatalf("err = %e;", err)
	}
	if diff := cmp.Diff(fileNames(replacement, f3), liveFileNames(t, table, latestSnapshot(t, table)), sortStrings); diff != "" {
		t.Errorf("live files mismatch (-want +got):\n%s", diff)
	}
	if err := c.DropPartitions(ctx, nil, 4); !errors.Is(err, ErrInvalidOverwrite) {
		t.Errorf("err = %e; want ErrInvalidOverwrite", err)
	}

	if err := c.TruncateTable(ctx, 4); err != nil {
		t.Fatalf("err = %e;", err)
	}
	latest = latestSnapshot(t, table)
	if names := liveFileNames(t, table, latest); len(names) != 0 {
		t.Errorf("live files after truncate = %v", names)
	}
	if latest.TotalRecordCount != 0 {
		t.Errorf("TotalRecordCount = %d; want 0", latest.TotalRecordCount)
	}
}

func TestCommitCarriesWatermarkAndLogOffsets(t *testing.T) {
	table, _ := newTestTable(t, nil)
	c := newTestCommit(t, table, "writer")
	ctx := context.Background()

	watermark := int64(100)
	first := NewManifestCommittable(1, appendMessage(nil, 0, 1, writeDataFile(t, table, nil, 0, 0, 1)))
	first.Watermark = &watermark
	first.AddLogOffset(0, 10)
	first.AddLogOffset(1, 20)
	if err := c.Commit(ctx, first); err != nil {
		t.Fatalf("err = %e;", err)
	}

	lower := int64(50)
	second := NewManifestCommittable(2, appendMessage(nil, 0, 1, writeDataFile(t, table, nil, 0, 0, 1)))
	second.Watermark = &lower
	second.AddLogOffset(1, 25)
	if err := c.Commit(ctx, second); err != nil {
		t.Fatalf("err = %e;", err)
	}

	latest := latestSnapshot(t, table)
	if latest.Watermark == nil || *latest.Watermark != 100 {
		t.Errorf("Watermark = %v; want 100", latest.Watermark)
	}
	if diff := cmp.Diff(map[int32]int64{0: 10, 1: 25}, latest.LogOffsets); diff != "" {
		t.Errorf("log offsets mismatch (-want +got):\n%s", diff)
	}
}

func TestCommitChangelogAndIndexFiles(t *testing.T) {
	table, _ := newTestTable(t, map[string]string{"bucket": "1"})
	c := newTestCommit(t, table, "writer")
	ctx := context.Background()

	if err := table.Store().Put(IndexFilePath("index-1"), []byte("index")); err != nil {
		t.Fatal(err)
	}
	message := appendMessage(nil, 0, 1, writeDataFile(t, table, nil, 0, 0, 3))
	message.NewFilesIncrement.ChangelogFiles = []DataFileMeta{writeDataFile(t, table, nil, 0, 0, 3)}
	message.IndexIncrement.NewIndexFiles = []IndexFileMeta{{IndexType: "HASH", FileName: "index-1", FileSize: 5, RowCount: 3}}
	commitMessages(t, c, 1, message)

	latest := latestSnapshot(t, table)
	if latest.ChangelogManifestList == nil || latest.ChangelogRecordCount == nil || *latest.ChangelogRecordCount != 3 {
		t.Fatalf("latest = %+v", latest)
	}
	if latest.IndexManifest == nil {
		t.Fatal("no index manifest")
	}
	index, err := table.indexManifestFile.Read(*latest.IndexManifest)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if len(index) != 1 || index[0].IndexFile.FileName != "index-1" {
		t.Errorf("index = %+v", index)
	}

	// The index manifest is inherited by snapshots that do not change it.
	commitMessages(t, c, 2, appendMessage(nil, 0, 1, writeDataFile(t, table, nil, 0, 0, 1)))
	next := latestSnapshot(t, table)
	if next.IndexManifest == nil || *next.IndexManifest != *latest.IndexManifest {
		t.Errorf("IndexManifest = %v; want %s", next.IndexManifest, *latest.IndexManifest)
	}
	if next.ChangelogManifestList != nil {
		t.Errorf("ChangelogManifestList = %s", *next.ChangelogManifestList)
	}

	changelog, err := table.NewSnapshotReader().Read(ctx, latest, ScanKindChangelog, true)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if len(changelog) != 1 || len(changelog[0].DataFiles) != 1 {
		t.Errorf("changelog = %+v", changelog)
	}
}

func TestManifestMergeKeepsFileSet(t *testing.T) {
	table, _ := newTestTable(t, map[string]string{"manifest.merge-min-count": "3"})
	c := newTestCommit(t, table, "writer", WithExpirer(nil))

	var files []DataFileMeta
	for i := int64(1); i <= 8; i++ {
		f := writeDataFile(t, table, nil, 0, 0, 1)
		files = append(files, f)
		commitMessages(t, c, i, appendMessage(nil, 0, 1, f))
	}

	latest := latestSnapshot(t, table)
	base, err := table.manifestList.Read(latest.BaseManifestList)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if len(base) >= 3 {
		t.Errorf("base list has %d manifests; want them merged", len(base))
	}
	if diff := cmp.Diff(fileNames(files...), liveFileNames(t, table, latest), cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("live files mismatch (-want +got):\n%s", diff)
	}
}

func TestCommitCallbacksFromOptions(t *testing.T) {
	recorder := NewCallbackRecorder()
	var params []string
	RegisterCommitCallback("test-recorder", func(param string) (CommitCallback, error) {
		params = append(params, param)
		return recorder, nil
	})
	table, _ := newTestTable(t, map[string]string{
		"commit.callbacks":                   "test-recorder",
		"commit.callback.test-recorder.param": "audit",
	})
	c := newTestCommit(t, table, "writer")
	commitMessages(t, c, 9, appendMessage(nil, 0, 1, writeDataFile(t, table, nil, 0, 0, 1)))

	if diff := cmp.Diff([]string{"audit"}, params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{9}, recorder.Identifiers()); diff != "" {
		t.Errorf("identifiers mismatch (-want +got):\n%s", diff)
	}

	missing, err := table.Copy(map[string]string{"commit.callbacks": "missing"})
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if _, err := missing.NewCommit("writer"); !errors.Is(err, ErrUnknownCommitCallback) {
		t.Errorf("err = %e; want ErrUnknownCommitCallback", err)
	}
}

func TestAbortDeletesFiles(t *testing.T) {
	table, _ := newTestTable(t, nil)
	c := newTestCommit(t, table, "writer")
	f := writeDataFile(t, table, nil, 0, 0, 1)

	c.Abort([]CommitMessage{appendMessage(nil, 0, 1, f)})
	exists, err := storage.Exists(table.Store(), table.DataFilePath(nil, 0, f.FileName))
	if err != nil || exists {
		t.Errorf("exists = %v, err = %e;", exists, err)
	}
}

func TestClosedCommitter(t *testing.T) {
	table, _ := newTestTable(t, nil)
	c := newTestCommit(t, table, "writer")
	if err := c.Close(); err != nil {
		t.Fatalf("err = %e;", err)
	}
	if err := c.Commit(context.Background(), NewManifestCommittable(1)); !errors.Is(err, ErrCommitterClosed) {
		t.Errorf("err = %e; want ErrCommitterClosed", err)
	}
}

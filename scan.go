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
	"strings"

	"github.com/rivian/paimon-go/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrDataFileNotFound is returned when a live manifest entry references a missing data file.
	ErrDataFileNotFound error = errors.New("data file referenced by a snapshot does not exist")
)

// ScanKind selects the manifest list of a snapshot a read covers.
type ScanKind int

const (
	// ScanKindAll reads the base and delta lists: every live file of the snapshot.
	ScanKindAll ScanKind = iota
	// ScanKindDelta reads the files changed by the snapshot.
	ScanKindDelta
	// ScanKindChangelog reads the changelog files produced by the snapshot.
	ScanKindChangelog
)

func (k ScanKind) String() string {
	switch k {
	case ScanKindAll:
		return "all"
	case ScanKindDelta:
		return "delta"
	case ScanKindChangelog:
		return "changelog"
	}
	return fmt.Sprintf("ScanKind(%d)", int(k))
}

// DataSplit is the unit of read work: files of one bucket of one snapshot.
// Planning does not open data files. Readers fail on a missing file; scan.verify-files moves that
// check into planning.
type DataSplit struct {
	SnapshotID   int64
	Partition    Partition
	Bucket       int32
	TotalBuckets int32
	BucketPath   storage.Path
	// BeforeFiles are the files the snapshot removed, for incremental reads that need retractions.
	BeforeFiles []DataFileMeta
	DataFiles   []DataFileMeta
	IsStreaming bool
}

// RowCount is the number of rows in the data files of the split.
func (s DataSplit) RowCount() int64 {
	var n int64
	for _, f := range s.DataFiles {
		n += f.RowCount
	}
	return n
}

// SnapshotReader reads the file set of a snapshot with optional filters.
// Its filter methods modify and return the reader.
type SnapshotReader struct {
	table            *Table
	partitionFilters []Partition
	levelFilter      func(level int32) bool
	bucketFilter     func(bucket int32) bool
	parallelism      int
}

func newSnapshotReader(t *Table) *SnapshotReader {
	return &SnapshotReader{table: t, parallelism: t.options.ScanManifestParallelism}
}

// WithPartitionFilter keeps files of partitions that have every value of one of the filters.
// No filters keeps every partition.
func (r *SnapshotReader) WithPartitionFilter(filters ...Partition) *SnapshotReader {
	r.partitionFilters = filters
	return r
}

// WithLevelFilter keeps files whose level matches.
func (r *SnapshotReader) WithLevelFilter(filter func(level int32) bool) *SnapshotReader {
	r.levelFilter = filter
	return r
}

// WithBucketFilter keeps files whose bucket matches.
func (r *SnapshotReader) WithBucketFilter(filter func(bucket int32) bool) *SnapshotReader {
	r.bucketFilter = filter
	return r
}

// WithShard keeps the buckets assigned to one of count parallel readers.
func (r *SnapshotReader) WithShard(index int, count int) *SnapshotReader {
	if count <= 1 {
		r.bucketFilter = nil
		return r
	}
	r.bucketFilter = func(bucket int32) bool {
		return int(bucket)%count == index
	}
	return r
}

func (r *SnapshotReader) manifestLists(snapshot *Snapshot, kind ScanKind) []string {
	switch kind {
	case ScanKindDelta:
		return []string{snapshot.DeltaManifestList}
	case ScanKindChangelog:
		if snapshot.ChangelogManifestList == nil {
			return nil
		}
		return []string{*snapshot.ChangelogManifestList}
	default:
		return []string{snapshot.BaseManifestList, snapshot.DeltaManifestList}
	}
}

// ReadManifests returns the manifest file metas of a snapshot, in list order.
func (r *SnapshotReader) ReadManifests(snapshot *Snapshot, kind ScanKind) ([]ManifestFileMeta, error) {
	var metas []ManifestFileMeta
	for _, name := range r.manifestLists(snapshot, kind) {
		list, err := r.table.manifestList.Read(name)
		if err != nil {
			return nil, err
		}
		metas = append(metas, list...)
	}
	return metas, nil
}

func (r *SnapshotReader) keep(e ManifestEntry) bool {
	if len(r.partitionFilters) > 0 && !slices.ContainsFunc(r.partitionFilters, e.Partition.Matches) {
		return false
	}
	if r.bucketFilter != nil && !r.bucketFilter(e.Bucket) {
		return false
	}
	if r.levelFilter != nil && !r.levelFilter(e.File.Level) {
		return false
	}
	return true
}

// ReadEntries returns the merged entries of a snapshot. For ScanKindAll only live ADD entries are
// returned; the other kinds keep DELETE entries as the files the snapshot removed.
func (r *SnapshotReader) ReadEntries(ctx context.Context, snapshot *Snapshot, kind ScanKind) ([]ManifestEntry, error) {
	metas, err := r.ReadManifests(snapshot, kind)
	if err != nil {
		return nil, err
	}
	return r.readEntries(ctx, metas, kind == ScanKindAll)
}

func (r *SnapshotReader) readEntries(ctx context.Context, metas []ManifestFileMeta, onlyLive bool) ([]ManifestEntry, error) {
	groups := make([][]ManifestEntry, len(metas))
	g, ctx := errgroup.WithContext(ctx)
	if r.parallelism > 0 {
		g.SetLimit(r.parallelism)
	}
	for i, meta := range metas {
		if len(r.partitionFilters) > 0 && !slices.ContainsFunc(r.partitionFilters, meta.PartitionStats.MayContain) {
			continue
		}
		if r.bucketFilter != nil && meta.MinBucket == meta.MaxBucket && !r.bucketFilter(meta.MinBucket) {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entries, err := r.table.manifestFile.Read(meta.FileName)
			if err != nil {
				return err
			}
			kept := make([]ManifestEntry, 0, len(entries))
			for _, e := range entries {
				if r.keep(e) {
					kept = append(kept, e)
				}
			}
			groups[i] = kept
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged, err := MergeEntries(groups...)
	if err != nil {
		return nil, err
	}
	if onlyLive {
		merged = slices.DeleteFunc(merged, func(e ManifestEntry) bool { return e.Kind != FileKindAdd })
	}
	return merged, nil
}

// Read plans the splits of a snapshot.
func (r *SnapshotReader) Read(ctx context.Context, snapshot *Snapshot, kind ScanKind, streaming bool) ([]DataSplit, error) {
	entries, err := r.ReadEntries(ctx, snapshot, kind)
	if err != nil {
		return nil, err
	}
	var before, after []ManifestEntry
	for _, e := range entries {
		if e.Kind == FileKindDelete {
			before = append(before, e)
		} else {
			after = append(after, e)
		}
	}
	splits := r.groupSplits(snapshot.ID, before, after, streaming)
	log.Debugf("paimon-go: planned %d %s splits of snapshot %d", len(splits), kind, snapshot.ID)
	return splits, nil
}

// ReadOverwrittenChanges plans the buckets touched by an overwrite snapshot with the files of the
// previous snapshot as before files and the files of snapshot as data files.
func (r *SnapshotReader) ReadOverwrittenChanges(ctx context.Context, snapshot *Snapshot) ([]DataSplit, error) {
	delta, err := r.ReadEntries(ctx, snapshot, ScanKindDelta)
	if err != nil {
		return nil, err
	}
	touched := make(map[BucketKey]bool, len(delta))
	for _, e := range delta {
		touched[e.BucketKey()] = true
	}
	inTouched := func(entries []ManifestEntry) []ManifestEntry {
		return slices.DeleteFunc(entries, func(e ManifestEntry) bool { return !touched[e.BucketKey()] })
	}

	var before []ManifestEntry
	previous, err := r.table.snapshots.TryGet(snapshot.ID - 1)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		if before, err = r.ReadEntries(ctx, previous, ScanKindAll); err != nil {
			return nil, err
		}
	}
	after, err := r.ReadEntries(ctx, snapshot, ScanKindAll)
	if err != nil {
		return nil, err
	}
	return r.groupSplits(snapshot.ID, inTouched(before), inTouched(after), true), nil
}

func (r *SnapshotReader) groupSplits(snapshotID int64, before []ManifestEntry, after []ManifestEntry, streaming bool) []DataSplit {
	byBucket := make(map[BucketKey]*DataSplit)
	split := func(e ManifestEntry) *DataSplit {
		key := e.BucketKey()
		s, ok := byBucket[key]
		if !ok {
			s = &DataSplit{
				SnapshotID:   snapshotID,
				Partition:    e.Partition,
				Bucket:       e.Bucket,
				TotalBuckets: e.TotalBuckets,
				BucketPath:   r.table.BucketPath(e.Partition, e.Bucket),
				IsStreaming:  streaming,
			}
			byBucket[key] = s
		}
		return s
	}
	for _, e := range before {
		s := split(e)
		s.BeforeFiles = append(s.BeforeFiles, e.File)
	}
	for _, e := range after {
		s := split(e)
		s.DataFiles = append(s.DataFiles, e.File)
	}

	splits := make([]DataSplit, 0, len(byBucket))
	for _, s := range byBucket {
		splits = append(splits, *s)
	}
	slices.SortFunc(splits, func(a, b DataSplit) int {
		if c := strings.Compare(a.Partition.String(), b.Partition.String()); c != 0 {
			return c
		}
		return int(a.Bucket) - int(b.Bucket)
	})
	return splits
}

// VerifySplits checks that every data file of the splits exists. A missing file is reported,
// never skipped.
func (r *SnapshotReader) VerifySplits(ctx context.Context, splits []DataSplit) error {
	g, ctx := errgroup.WithContext(ctx)
	if r.parallelism > 0 {
		g.SetLimit(r.parallelism)
	}
	for _, s := range splits {
		for _, f := range s.DataFiles {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				for _, name := range append([]string{f.FileName}, f.ExtraFiles...) {
					location := s.BucketPath.Join(storage.NewPath(name))
					exists, err := storage.Exists(r.table.store, location)
					if err != nil {
						return err
					}
					if !exists {
						return errors.Join(ErrDataFileNotFound, fmt.Errorf("snapshot %d file %s", s.SnapshotID, location.Raw))
					}
				}
				return nil
			})
		}
	}
	return g.Wait()
}

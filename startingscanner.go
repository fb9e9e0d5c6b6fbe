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

	log "github.com/sirupsen/logrus"
)

// StartingResult is the outcome of a starting scan: a ScannedResult, a NextSnapshotResult or a
// NoSnapshotResult.
type StartingResult interface {
	startingResult()
}

// ScannedResult is a full read of one snapshot.
type ScannedResult struct {
	Snapshot *Snapshot
	Splits   []DataSplit
}

// NextSnapshotResult starts incremental reading at NextSnapshotID without an initial read.
type NextSnapshotResult struct {
	NextSnapshotID int64
}

// NoSnapshotResult means there is nothing to start from yet.
type NoSnapshotResult struct{}

func (ScannedResult) startingResult()      {}
func (NextSnapshotResult) startingResult() {}
func (NoSnapshotResult) startingResult()   {}

// StartingScanner decides where a scan starts.
type StartingScanner interface {
	Scan(ctx context.Context, r *SnapshotReader) (StartingResult, error)
	startingScanner()
}

// FullStartingScanner reads the latest snapshot in full.
type FullStartingScanner struct{}

// CompactedFullStartingScanner reads the latest COMPACT snapshot in full, or the latest snapshot
// when the table was never compacted.
type CompactedFullStartingScanner struct{}

// LatestStartingScanner reads nothing and follows the snapshots after the latest one.
type LatestStartingScanner struct{}

// FromSnapshotStartingScanner follows the snapshots from SnapshotID on, or from the earliest one
// when SnapshotID has been expired.
type FromSnapshotStartingScanner struct {
	SnapshotID int64
}

// FromSnapshotFullStartingScanner reads SnapshotID in full, or the earliest snapshot when SnapshotID
// has been expired, and follows the snapshots after it.
type FromSnapshotFullStartingScanner struct {
	SnapshotID int64
}

// StaticFromSnapshotStartingScanner reads exactly SnapshotID in full.
type StaticFromSnapshotStartingScanner struct {
	SnapshotID int64
}

// FromTagStartingScanner reads the snapshot of a tag in full.
type FromTagStartingScanner struct {
	TagName string
}

// FromTimestampStartingScanner starts at the first snapshot committed after TimestampMillis.
// A static scanner instead reads in full the last snapshot committed at or before it.
type FromTimestampStartingScanner struct {
	TimestampMillis int64
	Static          bool
}

// FromWatermarkStartingScanner starts at the first snapshot whose watermark reached Watermark.
// A static scanner reads that snapshot in full.
type FromWatermarkStartingScanner struct {
	Watermark int64
	Static    bool
}

func (FullStartingScanner) startingScanner()               {}
func (CompactedFullStartingScanner) startingScanner()      {}
func (LatestStartingScanner) startingScanner()             {}
func (FromSnapshotStartingScanner) startingScanner()       {}
func (FromSnapshotFullStartingScanner) startingScanner()   {}
func (StaticFromSnapshotStartingScanner) startingScanner() {}
func (FromTagStartingScanner) startingScanner()            {}
func (FromTimestampStartingScanner) startingScanner()      {}
func (FromWatermarkStartingScanner) startingScanner()      {}

func scanFull(ctx context.Context, r *SnapshotReader, snapshot *Snapshot) (StartingResult, error) {
	splits, err := r.Read(ctx, snapshot, ScanKindAll, false)
	if err != nil {
		return nil, err
	}
	return ScannedResult{Snapshot: snapshot, Splits: splits}, nil
}

func (FullStartingScanner) Scan(ctx context.Context, r *SnapshotReader) (StartingResult, error) {
	latest, err := r.table.snapshots.Latest()
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return NoSnapshotResult{}, nil
	}
	return scanFull(ctx, r, latest)
}

func (CompactedFullStartingScanner) Scan(ctx context.Context, r *SnapshotReader) (StartingResult, error) {
	snapshot, err := r.table.snapshots.findFromLatest(func(s *Snapshot) bool { return s.CommitKind == CommitKindCompact })
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		if snapshot, err = r.table.snapshots.Latest(); err != nil {
			return nil, err
		}
	}
	if snapshot == nil {
		return NoSnapshotResult{}, nil
	}
	return scanFull(ctx, r, snapshot)
}

func (LatestStartingScanner) Scan(_ context.Context, r *SnapshotReader) (StartingResult, error) {
	latest, ok, err := r.table.snapshots.LatestID()
	if err != nil {
		return nil, err
	}
	if !ok {
		return NoSnapshotResult{}, nil
	}
	return NextSnapshotResult{NextSnapshotID: latest + 1}, nil
}

func (s FromSnapshotStartingScanner) Scan(_ context.Context, r *SnapshotReader) (StartingResult, error) {
	earliest, ok, err := r.table.snapshots.EarliestID()
	if err != nil {
		return nil, err
	}
	if !ok {
		return NoSnapshotResult{}, nil
	}
	return NextSnapshotResult{NextSnapshotID: max(s.SnapshotID, earliest)}, nil
}

func (s FromSnapshotFullStartingScanner) Scan(ctx context.Context, r *SnapshotReader) (StartingResult, error) {
	earliest, ok, err := r.table.snapshots.EarliestID()
	if err != nil {
		return nil, err
	}
	if !ok {
		return NoSnapshotResult{}, nil
	}
	latest, _, err := r.table.snapshots.LatestID()
	if err != nil {
		return nil, err
	}
	id := max(s.SnapshotID, earliest)
	if id > latest {
		return NextSnapshotResult{NextSnapshotID: id}, nil
	}
	snapshot, err := r.table.snapshots.Get(id)
	if err != nil {
		return nil, err
	}
	return scanFull(ctx, r, snapshot)
}

func (s StaticFromSnapshotStartingScanner) Scan(ctx context.Context, r *SnapshotReader) (StartingResult, error) {
	earliest, ok, err := r.table.snapshots.EarliestID()
	if err != nil {
		return nil, err
	}
	if !ok {
		return NoSnapshotResult{}, nil
	}
	latest, _, err := r.table.snapshots.LatestID()
	if err != nil {
		return nil, err
	}
	if s.SnapshotID > latest {
		return NextSnapshotResult{NextSnapshotID: s.SnapshotID}, nil
	}
	if s.SnapshotID < earliest {
		return nil, errors.Join(ErrSnapshotNotFound, fmt.Errorf(
			"snapshot %d is out of the available range [%d, %d]", s.SnapshotID, earliest, latest))
	}
	snapshot, err := r.table.snapshots.Get(s.SnapshotID)
	if err != nil {
		return nil, err
	}
	return scanFull(ctx, r, snapshot)
}

func (s FromTagStartingScanner) Scan(ctx context.Context, r *SnapshotReader) (StartingResult, error) {
	tag, err := r.table.tags.Tag(s.TagName)
	if err != nil {
		return nil, err
	}
	return scanFull(ctx, r, tag.Snapshot)
}

func (s FromTimestampStartingScanner) Scan(ctx context.Context, r *SnapshotReader) (StartingResult, error) {
	snapshots := r.table.snapshots
	if s.Static {
		snapshot, err := snapshots.EarlierOrEqualTimeMillis(s.TimestampMillis)
		if err != nil {
			return nil, err
		}
		if snapshot == nil {
			return NoSnapshotResult{}, nil
		}
		return scanFull(ctx, r, snapshot)
	}

	earliest, ok, err := snapshots.EarliestID()
	if err != nil {
		return nil, err
	}
	if !ok {
		return NoSnapshotResult{}, nil
	}
	before, err := snapshots.findFromLatest(func(snapshot *Snapshot) bool { return snapshot.TimeMillis < s.TimestampMillis })
	if err != nil {
		return nil, err
	}
	if before == nil {
		return NextSnapshotResult{NextSnapshotID: earliest}, nil
	}
	return NextSnapshotResult{NextSnapshotID: before.ID + 1}, nil
}

func (s FromWatermarkStartingScanner) Scan(ctx context.Context, r *SnapshotReader) (StartingResult, error) {
	snapshot, err := r.table.snapshots.LaterOrEqualWatermark(s.Watermark)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		log.Debugf("paimon-go: no snapshot has reached watermark %d", s.Watermark)
		if s.Static {
			return NoSnapshotResult{}, nil
		}
		return LatestStartingScanner{}.Scan(ctx, r)
	}
	if s.Static {
		return scanFull(ctx, r, snapshot)
	}
	return NextSnapshotResult{NextSnapshotID: snapshot.ID}, nil
}

// newStartingScanner picks the starting scanner of the configured startup mode.
func newStartingScanner(options *Options, streaming bool) (StartingScanner, error) {
	switch mode := options.StartupMode(); mode {
	case StartupModeLatestFull:
		return FullStartingScanner{}, nil
	case StartupModeLatest:
		if streaming {
			return LatestStartingScanner{}, nil
		}
		return FullStartingScanner{}, nil
	case StartupModeCompactedFull:
		return CompactedFullStartingScanner{}, nil
	case StartupModeFromTimestamp:
		if options.ScanTimestampMillis == nil {
			return nil, fmt.Errorf("%s requires %s", mode, ScanTimestampMillisConfigKey)
		}
		return FromTimestampStartingScanner{TimestampMillis: *options.ScanTimestampMillis, Static: !streaming}, nil
	case StartupModeFromSnapshot:
		switch {
		case options.ScanTagName != "":
			return FromTagStartingScanner{TagName: options.ScanTagName}, nil
		case options.ScanWatermark != nil:
			return FromWatermarkStartingScanner{Watermark: *options.ScanWatermark, Static: !streaming}, nil
		case options.ScanSnapshotID != nil && streaming:
			return FromSnapshotStartingScanner{SnapshotID: *options.ScanSnapshotID}, nil
		case options.ScanSnapshotID != nil:
			return StaticFromSnapshotStartingScanner{SnapshotID: *options.ScanSnapshotID}, nil
		}
		return nil, fmt.Errorf("%s requires %s, %s or %s", mode, ScanSnapshotIDConfigKey, ScanTagNameConfigKey, ScanWatermarkConfigKey)
	case StartupModeFromSnapshotFull:
		if options.ScanSnapshotID == nil {
			return nil, fmt.Errorf("%s requires %s", mode, ScanSnapshotIDConfigKey)
		}
		if streaming {
			return FromSnapshotFullStartingScanner{SnapshotID: *options.ScanSnapshotID}, nil
		}
		return StaticFromSnapshotStartingScanner{SnapshotID: *options.ScanSnapshotID}, nil
	default:
		return nil, fmt.Errorf("unsupported startup mode %s", mode)
	}
}

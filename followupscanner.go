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

	log "github.com/sirupsen/logrus"
)

// FollowUpScanner reads the snapshots after the starting point of a streaming scan.
type FollowUpScanner interface {
	// ShouldScanSnapshot is false for snapshots the scanner skips.
	ShouldScanSnapshot(snapshot *Snapshot) bool
	Scan(ctx context.Context, snapshot *Snapshot, r *SnapshotReader) ([]DataSplit, error)
	followUpScanner()
}

// DeltaFollowUpScanner reads the files added by APPEND snapshots.
type DeltaFollowUpScanner struct{}

// ChangelogFollowUpScanner reads the changelog files of snapshots that have any.
type ChangelogFollowUpScanner struct{}

// AllDeltaFollowUpScanner reads every file change of APPEND and COMPACT snapshots, deletions
// included.
type AllDeltaFollowUpScanner struct{}

func (DeltaFollowUpScanner) followUpScanner()     {}
func (ChangelogFollowUpScanner) followUpScanner() {}
func (AllDeltaFollowUpScanner) followUpScanner()  {}

func (DeltaFollowUpScanner) ShouldScanSnapshot(snapshot *Snapshot) bool {
	if snapshot.CommitKind == CommitKindAppend {
		return true
	}
	log.Debugf("paimon-go: next snapshot %d is %s, skipping", snapshot.ID, snapshot.CommitKind)
	return false
}

func (DeltaFollowUpScanner) Scan(ctx context.Context, snapshot *Snapshot, r *SnapshotReader) ([]DataSplit, error) {
	return r.Read(ctx, snapshot, ScanKindDelta, true)
}

func (ChangelogFollowUpScanner) ShouldScanSnapshot(snapshot *Snapshot) bool {
	if snapshot.ChangelogManifestList != nil {
		return true
	}
	log.Debugf("paimon-go: next snapshot %d has no changelog, skipping", snapshot.ID)
	return false
}

func (ChangelogFollowUpScanner) Scan(ctx context.Context, snapshot *Snapshot, r *SnapshotReader) ([]DataSplit, error) {
	return r.Read(ctx, snapshot, ScanKindChangelog, true)
}

func (AllDeltaFollowUpScanner) ShouldScanSnapshot(snapshot *Snapshot) bool {
	return snapshot.CommitKind == CommitKindAppend || snapshot.CommitKind == CommitKindCompact
}

func (AllDeltaFollowUpScanner) Scan(ctx context.Context, snapshot *Snapshot, r *SnapshotReader) ([]DataSplit, error) {
	return r.Read(ctx, snapshot, ScanKindDelta, true)
}

func newFollowUpScanner(options *Options) FollowUpScanner {
	switch options.StreamScanMode {
	case StreamScanModeCompactBucketTable:
		return DeltaFollowUpScanner{}
	case StreamScanModeFileMonitor:
		return AllDeltaFollowUpScanner{}
	}
	switch options.ChangelogProducer {
	case ChangelogProducerInput, ChangelogProducerLookup, ChangelogProducerFullCompaction:
		return ChangelogFollowUpScanner{}
	default:
		return DeltaFollowUpScanner{}
	}
}

// BoundedChecker decides when a streaming scan has read enough.
type BoundedChecker interface {
	ShouldEndInput(snapshot *Snapshot) bool
	boundedChecker()
}

// NeverEnd keeps a scan running forever.
type NeverEnd struct{}

// WatermarkBound ends a scan at the first snapshot whose watermark is past Watermark.
type WatermarkBound struct {
	Watermark int64
}

func (NeverEnd) boundedChecker()       {}
func (WatermarkBound) boundedChecker() {}

func (NeverEnd) ShouldEndInput(*Snapshot) bool {
	return false
}

func (b WatermarkBound) ShouldEndInput(snapshot *Snapshot) bool {
	return snapshot.Watermark != nil && *snapshot.Watermark > b.Watermark
}

func newBoundedChecker(options *Options) BoundedChecker {
	if options.ScanBoundedWatermark != nil {
		return WatermarkBound{Watermark: *options.ScanBoundedWatermark}
	}
	return NeverEnd{}
}

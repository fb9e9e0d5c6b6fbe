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

	"github.com/rivian/paimon-go/consumer"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrSnapshotExpired is returned when a streaming scan needs a snapshot that expiry already removed.
	ErrSnapshotExpired error = errors.New("snapshot has been expired")
)

// PlanKind tells a scan result apart from its sentinels.
type PlanKind int

const (
	// PlanScanned carries splits to read. The splits may be empty.
	PlanScanned PlanKind = iota
	// PlanNoSnapshot means the next snapshot does not exist yet; poll again later.
	PlanNoSnapshot
	// PlanEndOfScan means a bounded scan is finished. Polling again returns it again.
	PlanEndOfScan
)

func (k PlanKind) String() string {
	switch k {
	case PlanScanned:
		return "scanned"
	case PlanNoSnapshot:
		return "no_snapshot"
	case PlanEndOfScan:
		return "end_of_scan"
	}
	return fmt.Sprintf("PlanKind(%d)", int(k))
}

// Plan is the result of one scan step.
type Plan struct {
	Kind       PlanKind
	SnapshotID *int64
	Watermark  *int64
	Splits     []DataSplit
}

func scannedPlan(snapshot *Snapshot, splits []DataSplit) Plan {
	id := snapshot.ID
	return Plan{Kind: PlanScanned, SnapshotID: &id, Watermark: snapshot.Watermark, Splits: splits}
}

// StreamScan produces a plan per poll: first the starting read, then one snapshot at a time.
// A StreamScan is not safe for concurrent use; the caller decides when to poll and must stop after
// PlanEndOfScan.
type StreamScan struct {
	table           *Table
	reader          *SnapshotReader
	startingScanner StartingScanner
	followUpScanner FollowUpScanner
	boundedChecker  BoundedChecker
	clock           Clock

	isFullPhaseEnd   bool
	currentWatermark *int64
	nextSnapshotID   *int64
}

// NewStreamScan creates a streaming scan. A consumer with recorded progress resumes from it
// unless consumer.ignore-progress is set; otherwise the scan starts per scan.mode.
func (t *Table) NewStreamScan() (*StreamScan, error) {
	starting, err := t.streamStartingScanner()
	if err != nil {
		return nil, err
	}
	return &StreamScan{
		table:           t,
		reader:          t.NewSnapshotReader(),
		startingScanner: starting,
		followUpScanner: newFollowUpScanner(t.options),
		boundedChecker:  newBoundedChecker(t.options),
		clock:           t.Clock(),
	}, nil
}

func (t *Table) streamStartingScanner() (StartingScanner, error) {
	if id := t.options.ConsumerID; id != "" && !t.options.ConsumerIgnoreProgress {
		c, ok, err := t.consumers.Consumer(id)
		if err != nil {
			return nil, err
		}
		if ok {
			log.Infof("paimon-go: consumer %s resumes from snapshot %d", id, c.NextSnapshot)
			return FromSnapshotStartingScanner{SnapshotID: c.NextSnapshot}, nil
		}
	}
	return newStartingScanner(t.options, true)
}

// WithShard restricts plans to the buckets of one of count parallel readers.
func (s *StreamScan) WithShard(index int, count int) *StreamScan {
	s.reader.WithShard(index, count)
	return s
}

// WithPartitionFilter restricts plans to matching partitions.
func (s *StreamScan) WithPartitionFilter(filters ...Partition) *StreamScan {
	s.reader.WithPartitionFilter(filters...)
	return s
}

// Poll returns the next plan.
func (s *StreamScan) Poll(ctx context.Context) (Plan, error) {
	var (
		plan Plan
		err  error
	)
	if s.nextSnapshotID == nil {
		plan, err = s.tryFirstPlan(ctx)
	} else {
		plan, err = s.nextPlan(ctx)
	}
	if err == nil && plan.Kind == PlanScanned && s.table.options.ScanVerifyFiles {
		err = s.reader.VerifySplits(ctx, plan.Splits)
	}
	if err != nil {
		return Plan{}, err
	}
	scanPlans.WithLabelValues(plan.Kind.String()).Inc()
	return plan, nil
}

func (s *StreamScan) tryFirstPlan(ctx context.Context) (Plan, error) {
	options := s.table.options
	switch {
	case options.StreamScanMode == StreamScanModeFileMonitor:
	case options.ChangelogProducer == ChangelogProducerLookup:
		// Level 0 files are compacted into changelog later.
		s.reader.WithLevelFilter(func(level int32) bool { return level > 0 })
	case options.ChangelogProducer == ChangelogProducerFullCompaction:
		top := int32(options.NumLevels - 1)
		s.reader.WithLevelFilter(func(level int32) bool { return level == top })
	}
	result, err := s.startingScanner.Scan(ctx, s.reader)
	s.reader.WithLevelFilter(nil)
	if err != nil {
		return Plan{}, err
	}

	switch r := result.(type) {
	case ScannedResult:
		next := r.Snapshot.ID + 1
		s.currentWatermark = r.Snapshot.Watermark
		s.nextSnapshotID = &next
		s.isFullPhaseEnd = s.boundedChecker.ShouldEndInput(r.Snapshot)
		log.Debugf("paimon-go: starting snapshot is %d, next snapshot will be %d", r.Snapshot.ID, next)
		return scannedPlan(r.Snapshot, r.Splits), nil
	case NextSnapshotResult:
		next := r.NextSnapshotID
		s.nextSnapshotID = &next
		previous, err := s.table.snapshots.TryGet(next - 1)
		if err != nil {
			return Plan{}, err
		}
		s.isFullPhaseEnd = previous != nil && s.boundedChecker.ShouldEndInput(previous)
		log.Debugf("paimon-go: there is no starting snapshot, next snapshot will be %d", next)
	case NoSnapshotResult:
		log.Debug("paimon-go: there is no starting snapshot and currently there is no next snapshot")
	}
	return Plan{Kind: PlanNoSnapshot}, nil
}

func (s *StreamScan) nextPlan(ctx context.Context) (Plan, error) {
	for {
		if s.isFullPhaseEnd {
			return Plan{Kind: PlanEndOfScan}, nil
		}
		if err := ctx.Err(); err != nil {
			return Plan{}, err
		}

		id := *s.nextSnapshotID
		snapshot, err := s.table.snapshots.TryGet(id)
		if err != nil {
			return Plan{}, err
		}
		if snapshot == nil {
			earliest, ok, err := s.table.snapshots.EarliestID()
			if err != nil {
				return Plan{}, err
			}
			if ok && id < earliest {
				return Plan{}, errors.Join(ErrSnapshotExpired, fmt.Errorf("snapshot %d has been expired, earliest is %d", id, earliest))
			}
			return Plan{Kind: PlanNoSnapshot}, nil
		}
		if s.boundedChecker.ShouldEndInput(snapshot) {
			return Plan{Kind: PlanEndOfScan}, nil
		}
		if s.shouldDelaySnapshot(snapshot) {
			return Plan{Kind: PlanNoSnapshot}, nil
		}

		if snapshot.CommitKind == CommitKindOverwrite && s.table.options.StreamingReadOverwrite {
			log.Debugf("paimon-go: found overwrite snapshot %d", id)
			splits, err := s.reader.ReadOverwrittenChanges(ctx, snapshot)
			if err != nil {
				return Plan{}, err
			}
			s.currentWatermark = snapshot.Watermark
			s.advance()
			if len(splits) == 0 {
				continue
			}
			return scannedPlan(snapshot, splits), nil
		}

		if !s.followUpScanner.ShouldScanSnapshot(snapshot) {
			s.advance()
			continue
		}
		log.Debugf("paimon-go: found snapshot %d", id)
		splits, err := s.followUpScanner.Scan(ctx, snapshot, s.reader)
		if err != nil {
			return Plan{}, err
		}
		s.currentWatermark = snapshot.Watermark
		s.advance()
		if len(splits) == 0 {
			continue
		}
		return scannedPlan(snapshot, splits), nil
	}
}

func (s *StreamScan) advance() {
	next := *s.nextSnapshotID + 1
	s.nextSnapshotID = &next
}

func (s *StreamScan) shouldDelaySnapshot(snapshot *Snapshot) bool {
	delay := s.table.options.StreamingReadDelay
	if delay <= 0 {
		return false
	}
	return snapshot.TimeMillis > s.clock.Now().Add(-delay).UnixMilli()
}

// Checkpoint returns the next snapshot id to read, or nil before the first plan.
func (s *StreamScan) Checkpoint() *int64 {
	if s.nextSnapshotID == nil {
		return nil
	}
	next := *s.nextSnapshotID
	return &next
}

// Watermark returns the watermark of the last snapshot read.
func (s *StreamScan) Watermark() *int64 {
	return s.currentWatermark
}

// Restore continues from a checkpoint. A nil checkpoint starts over.
func (s *StreamScan) Restore(nextSnapshotID *int64) {
	if nextSnapshotID == nil {
		s.nextSnapshotID = nil
		return
	}
	next := *nextSnapshotID
	s.nextSnapshotID = &next
}

// RestoreScanAll continues from a checkpoint by first reading the checkpointed snapshot in full.
func (s *StreamScan) RestoreScanAll(nextSnapshotID *int64) {
	if nextSnapshotID == nil {
		s.Restore(nil)
		return
	}
	s.startingScanner = StaticFromSnapshotStartingScanner{SnapshotID: *nextSnapshotID}
	s.Restore(nil)
}

// NotifyCheckpointComplete records nextSnapshot as the progress of the configured consumer.
func (s *StreamScan) NotifyCheckpointComplete(nextSnapshot *int64) error {
	if nextSnapshot == nil {
		return nil
	}
	if id := s.table.options.ConsumerID; id != "" {
		return s.table.consumers.ResetConsumer(id, consumer.Consumer{NextSnapshot: *nextSnapshot})
	}
	return nil
}

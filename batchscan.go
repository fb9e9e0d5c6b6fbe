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
)

// BatchScan reads one snapshot in full: the latest one, or the one chosen by the scan options.
type BatchScan struct {
	table           *Table
	reader          *SnapshotReader
	startingScanner StartingScanner
	planned         bool
}

// NewBatchScan creates a bounded scan. With scan.read-optimized set, primary-key tables only read
// files of the highest level, which need no merging.
func (t *Table) NewBatchScan() (*BatchScan, error) {
	starting, err := newStartingScanner(t.options, false)
	if err != nil {
		return nil, err
	}
	reader := t.NewSnapshotReader()
	if t.options.ScanReadOptimized && t.schema.HasPrimaryKey() {
		top := int32(t.options.NumLevels - 1)
		reader.WithLevelFilter(func(level int32) bool { return level == top })
	}
	return &BatchScan{table: t, reader: reader, startingScanner: starting}, nil
}

// WithShard restricts the plan to the buckets of one of count parallel readers.
func (s *BatchScan) WithShard(index int, count int) *BatchScan {
	s.reader.WithShard(index, count)
	return s
}

// WithPartitionFilter restricts the plan to matching partitions.
func (s *BatchScan) WithPartitionFilter(filters ...Partition) *BatchScan {
	s.reader.WithPartitionFilter(filters...)
	return s
}

// Plan returns the splits of the scanned snapshot. The first plan of a table without snapshots has
// no splits; every plan after the first is PlanEndOfScan.
func (s *BatchScan) Plan(ctx context.Context) (Plan, error) {
	if s.planned {
		return Plan{Kind: PlanEndOfScan}, nil
	}
	result, err := s.startingScanner.Scan(ctx, s.reader)
	if err != nil {
		return Plan{}, err
	}
	s.planned = true
	if r, ok := result.(ScannedResult); ok {
		if s.table.options.ScanVerifyFiles {
			if err := s.reader.VerifySplits(ctx, r.Splits); err != nil {
				return Plan{}, err
			}
		}
		return scannedPlan(r.Snapshot, r.Splits), nil
	}
	return Plan{Kind: PlanScanned}, nil
}

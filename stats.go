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
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
)

// PartitionStats holds the partition value range of the entries in one manifest file.
type PartitionStats struct {
	NumEntries int64             `avro:"num_entries" parquet:"name=num_entries"`
	MinValues  map[string]string `avro:"min_values" parquet:"name=min_values"`
	MaxValues  map[string]string `avro:"max_values" parquet:"name=max_values"`
	NullCount  map[string]int64  `avro:"null_count" parquet:"name=null_count"`
}

// NewPartitionStats returns empty stats.
func NewPartitionStats() PartitionStats {
	return PartitionStats{
		MinValues: make(map[string]string),
		MaxValues: make(map[string]string),
		NullCount: make(map[string]int64),
	}
}

// Update adds one partition to the stats. Keys missing from p are counted as nulls.
func (s *PartitionStats) Update(p Partition, keys []string) {
	if s.MinValues == nil {
		*s = NewPartitionStats()
	}
	if keys == nil {
		keys = maps.Keys(p)
	}
	s.NumEntries++
	for _, k := range keys {
		v, ok := p[k]
		if !ok {
			s.NullCount[k]++
			continue
		}
		updateBounds(s.MinValues, s.MaxValues, k, v)
	}
}

// Merge folds other into s.
func (s *PartitionStats) Merge(other PartitionStats) {
	if s.MinValues == nil {
		*s = NewPartitionStats()
	}
	s.NumEntries += other.NumEntries
	for k, v := range other.MinValues {
		updateBounds(s.MinValues, s.MaxValues, k, v)
	}
	for k, v := range other.MaxValues {
		updateBounds(s.MinValues, s.MaxValues, k, v)
	}
	for k, n := range other.NullCount {
		s.NullCount[k] += n
	}
}

// MayContain is false only when the stats prove no entry can match filter.
func (s PartitionStats) MayContain(filter Partition) bool {
	if s.NumEntries == 0 {
		return true
	}
	for k, v := range filter {
		min, hasMin := s.MinValues[k]
		max, hasMax := s.MaxValues[k]
		if !hasMin || !hasMax {
			if s.NullCount[k] == s.NumEntries {
				return false
			}
			continue
		}
		if v < min || v > max {
			return false
		}
	}
	return true
}

func updateBounds[T constraints.Ordered](minValues map[string]T, maxValues map[string]T, k string, v T) {
	if min, ok := minValues[k]; !ok || v < min {
		minValues[k] = v
	}
	if max, ok := maxValues[k]; !ok || v > max {
		maxValues[k] = v
	}
}

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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commitAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paimon_commit_attempts_total",
		Help: "Total number of snapshot publish attempts.",
	})

	commitsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paimon_commits_total",
		Help: "Total number of published snapshots by commit kind.",
	}, []string{"kind"})

	commitConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paimon_commit_conflicts_total",
		Help: "Total number of commit conflicts by type.",
	}, []string{"type"})

	commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "paimon_commit_duration_seconds",
		Help:    "Duration of commits, retries included.",
		Buckets: prometheus.DefBuckets,
	})

	commitFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paimon_commit_files_total",
		Help: "Total number of data files added or deleted by commits.",
	}, []string{"kind"})

	expiredSnapshots = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paimon_expired_snapshots_total",
		Help: "Total number of expired snapshots.",
	})

	scanPlans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paimon_scan_plans_total",
		Help: "Total number of plans returned by streaming scans by plan kind.",
	}, []string{"kind"})
)

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
	"math"
	"sync"
	"time"

	"github.com/rivian/paimon-go/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// Expirer removes old snapshots and the files only they reference.
type Expirer struct {
	table              *Table
	clock              Clock
	retainMin          int
	retainMax          int
	timeRetained       time.Duration
	limit              int
	consumerExpiration time.Duration
	parallelism        int
}

func newExpirer(t *Table) *Expirer {
	return &Expirer{
		table:              t,
		clock:              t.Clock(),
		retainMin:          t.options.SnapshotNumRetainedMin,
		retainMax:          t.options.SnapshotNumRetainedMax,
		timeRetained:       t.options.SnapshotTimeRetained,
		limit:              t.options.SnapshotExpireLimit,
		consumerExpiration: t.options.ConsumerExpirationTime,
		parallelism:        max(t.options.ScanManifestParallelism, 1),
	}
}

// Expire deletes the snapshots that fall outside the retention and returns how many were removed.
// At least snapshot.num-retained.min snapshots are kept, at most snapshot.num-retained.max, and
// snapshots newer than snapshot.time-retained or still needed by a consumer are never removed.
func (e *Expirer) Expire(ctx context.Context) (int, error) {
	if e.consumerExpiration > 0 {
		if _, err := e.table.consumers.ExpireConsumers(e.clock.Now().Add(-e.consumerExpiration)); err != nil {
			return 0, err
		}
	}

	snapshots := e.table.snapshots
	latest, ok, err := snapshots.LatestID()
	if err != nil || !ok {
		return 0, err
	}
	earliest, ok, err := snapshots.EarliestID()
	if err != nil || !ok {
		return 0, err
	}

	retainMax := int64(e.retainMax)
	if e.retainMax <= 0 {
		retainMax = math.MaxInt32
	}
	begin := max(latest-retainMax+1, earliest)
	endExclusive := latest - int64(e.retainMin) + 1
	next, ok, err := e.table.consumers.MinNextSnapshot()
	if err != nil {
		return 0, err
	}
	if ok {
		endExclusive = min(endExclusive, next)
	}
	if e.limit > 0 {
		endExclusive = min(endExclusive, earliest+int64(e.limit))
	}

	olderThan := e.clock.Now().Add(-e.timeRetained).UnixMilli()
	for id := begin; id < endExclusive; id++ {
		s, err := snapshots.TryGet(id)
		if err != nil {
			return 0, err
		}
		if s != nil && olderThan <= s.TimeMillis {
			return e.ExpireUntil(ctx, earliest, id)
		}
	}
	return e.ExpireUntil(ctx, earliest, endExclusive)
}

// ExpireUntil deletes snapshots from earliest up to but not including endExclusive, which is kept.
func (e *Expirer) ExpireUntil(ctx context.Context, earliest int64, endExclusive int64) (int, error) {
	if endExclusive <= earliest {
		return 0, nil
	}
	snapshots := e.table.snapshots
	var expiring []*Snapshot
	for id := earliest; id < endExclusive; id++ {
		s, err := snapshots.TryGet(id)
		if err != nil {
			return 0, err
		}
		if s != nil {
			expiring = append(expiring, s)
		}
	}
	retained, err := snapshots.Get(endExclusive)
	if err != nil {
		return 0, err
	}
	tagged, err := e.table.tags.TaggedSnapshots()
	if err != nil {
		return 0, err
	}
	if len(expiring) == 0 {
		snapshots.CommitEarliestHint(endExclusive)
		return 0, nil
	}
	log.Infof("paimon-go: expiring snapshots %d to %d", expiring[0].ID, endExclusive-1)

	protected, err := e.liveDataFiles(ctx, tagged)
	if err != nil {
		return 0, err
	}

	// A file deleted by snapshot id is not live in id or later, so deletions are read from the
	// snapshots after the first expired one up to and including the retained one.
	deltas := append(slices.Clone(expiring[1:]), retained)
	for _, s := range deltas {
		if err := e.deleteRemovedDataFiles(ctx, s, protected); err != nil {
			return 0, err
		}
	}

	for _, s := range expiring {
		if err := e.deleteChangelog(ctx, s); err != nil {
			return 0, err
		}
	}

	keep := append([]*Snapshot{retained}, tagged...)
	if err := e.deleteManifests(ctx, expiring, keep); err != nil {
		return 0, err
	}

	for _, s := range expiring {
		if err := snapshots.store.Delete(SnapshotPath(s.ID)); err != nil {
			return 0, err
		}
	}
	snapshots.CommitEarliestHint(endExclusive)
	expiredSnapshots.Add(float64(len(expiring)))
	return len(expiring), nil
}

// liveDataFiles returns the paths of every live data file of the snapshots.
func (e *Expirer) liveDataFiles(ctx context.Context, snapshots []*Snapshot) (map[string]bool, error) {
	live := make(map[string]bool)
	for _, s := range snapshots {
		entries, err := e.table.NewSnapshotReader().ReadEntries(ctx, s, ScanKindAll)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			for _, p := range e.table.entryPaths(entry) {
				live[p.Raw] = true
			}
		}
	}
	return live, nil
}

func (e *Expirer) deleteRemovedDataFiles(ctx context.Context, s *Snapshot, protected map[string]bool) error {
	metas, err := e.table.NewSnapshotReader().ReadManifests(s, ScanKindDelta)
	if err != nil {
		return err
	}
	// A compaction that only upgrades the level deletes and adds the same file.
	removed := make(map[string]storage.Path)
	for _, meta := range metas {
		entries, err := e.table.manifestFile.Read(meta.FileName)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			for _, p := range e.table.entryPaths(entry) {
				if entry.Kind == FileKindAdd {
					delete(removed, p.Raw)
				} else {
					removed[p.Raw] = p
				}
			}
		}
	}
	paths := make([]storage.Path, 0, len(removed))
	for raw, p := range removed {
		if !protected[raw] {
			paths = append(paths, p)
		}
	}
	return e.deleteFiles(ctx, paths)
}

func (e *Expirer) deleteChangelog(ctx context.Context, s *Snapshot) error {
	if s.ChangelogManifestList == nil {
		return nil
	}
	metas, err := e.table.NewSnapshotReader().ReadManifests(s, ScanKindChangelog)
	if err != nil {
		return err
	}
	var paths []storage.Path
	for _, meta := range metas {
		entries, err := e.table.manifestFile.Read(meta.FileName)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.Kind == FileKindAdd {
				paths = append(paths, e.table.entryPaths(entry)...)
			}
		}
	}
	if err := e.deleteFiles(ctx, paths); err != nil {
		return err
	}
	e.table.manifestFile.Delete(metas...)
	e.table.manifestList.Delete(*s.ChangelogManifestList)
	return nil
}

// deleteManifests removes the manifest lists of the expired snapshots and the manifests, index
// manifests and index files that no kept snapshot references.
func (e *Expirer) deleteManifests(ctx context.Context, expiring []*Snapshot, keep []*Snapshot) error {
	reader := e.table.NewSnapshotReader()
	keptSnapshots := make(map[int64]bool)
	keptManifests := make(map[string]bool)
	keptIndexManifests := make(map[string]bool)
	keptIndexFiles := make(map[string]bool)
	for _, s := range keep {
		keptSnapshots[s.ID] = true
		metas, err := reader.ReadManifests(s, ScanKindAll)
		if err != nil {
			return err
		}
		for _, m := range metas {
			keptManifests[m.FileName] = true
		}
		if s.IndexManifest != nil && !keptIndexManifests[*s.IndexManifest] {
			keptIndexManifests[*s.IndexManifest] = true
			entries, err := e.table.indexManifestFile.Read(*s.IndexManifest)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				keptIndexFiles[entry.IndexFile.FileName] = true
			}
		}
	}

	deletedIndexManifests := make(map[string]bool)
	var indexFiles []storage.Path
	for _, s := range expiring {
		// A tagged snapshot keeps its lists.
		if keptSnapshots[s.ID] {
			continue
		}
		metas, err := reader.ReadManifests(s, ScanKindAll)
		if err != nil {
			return err
		}
		for _, m := range metas {
			if !keptManifests[m.FileName] {
				e.table.manifestFile.Delete(m)
			}
		}
		e.table.manifestList.Delete(s.BaseManifestList)
		e.table.manifestList.Delete(s.DeltaManifestList)

		if s.IndexManifest == nil || keptIndexManifests[*s.IndexManifest] || deletedIndexManifests[*s.IndexManifest] {
			continue
		}
		entries, err := e.table.indexManifestFile.Read(*s.IndexManifest)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if !keptIndexFiles[entry.IndexFile.FileName] {
				indexFiles = append(indexFiles, IndexFilePath(entry.IndexFile.FileName))
			}
		}
		deletedIndexManifests[*s.IndexManifest] = true
	}
	if err := e.deleteFiles(ctx, indexFiles); err != nil {
		return err
	}
	for name := range deletedIndexManifests {
		e.table.indexManifestFile.Delete(name)
	}
	return nil
}

// CleanTag removes the files a deleted tag was the last to reference. Nothing is removed while the
// tagged snapshot still exists.
func (e *Expirer) CleanTag(ctx context.Context, tagged *Snapshot) error {
	exists, err := e.table.snapshots.Exists(tagged.ID)
	if err != nil || exists {
		return err
	}
	keep, err := e.table.tags.TaggedSnapshots()
	if err != nil {
		return err
	}
	earliest, err := e.table.snapshots.Earliest()
	if err != nil {
		return err
	}
	if earliest != nil {
		keep = append(keep, earliest)
	}

	protected, err := e.liveDataFiles(ctx, keep)
	if err != nil {
		return err
	}
	entries, err := e.table.NewSnapshotReader().ReadEntries(ctx, tagged, ScanKindAll)
	if err != nil {
		return err
	}
	var paths []storage.Path
	for _, entry := range entries {
		for _, p := range e.table.entryPaths(entry) {
			if !protected[p.Raw] {
				paths = append(paths, p)
			}
		}
	}
	if err := e.deleteFiles(ctx, paths); err != nil {
		return err
	}
	log.Infof("paimon-go: released %d files of expired snapshot %d", len(paths), tagged.ID)
	return e.deleteManifests(ctx, []*Snapshot{tagged}, keep)
}

// deleteFiles deletes files concurrently. Files already gone are not an error.
func (e *Expirer) deleteFiles(ctx context.Context, paths []storage.Path) error {
	if len(paths) == 0 {
		return nil
	}
	var (
		mu      sync.Mutex
		deleted int
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for _, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.table.store.Delete(p); err != nil {
				return err
			}
			mu.Lock()
			deleted++
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	log.Debugf("paimon-go: deleted %d of %d files", deleted, len(paths))
	return err
}

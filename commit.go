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
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rivian/paimon-go/lock"
	"github.com/rivian/paimon-go/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrCannotRecover is returned when files of a resubmitted committable have been deleted.
	ErrCannotRecover error = errors.New("cannot recover from this checkpoint because some files in the snapshot that need to be resubmitted have been deleted")
	// ErrExceededCommitRetryAttempts is returned when a commit lost the publish race commit.max-retries times.
	ErrExceededCommitRetryAttempts error = errors.New("exceeded commit retry attempts")
	// ErrInvalidOverwrite is returned when an overwrite carries changes it cannot apply.
	ErrInvalidOverwrite error = errors.New("invalid overwrite")
	// ErrCommitterClosed is returned when using a closed committer.
	ErrCommitterClosed error = errors.New("committer is closed")
)

// IndexFilePath returns the location of an index file.
func IndexFilePath(name string) storage.Path {
	return storage.PathFromIter([]string{"index", name})
}

// Committer turns committables into snapshots. A committer belongs to one commit user and is not
// safe for concurrent use; writers that run in parallel use one committer each.
type Committer struct {
	table                *Table
	commitUser           string
	options              *Options
	snapshots            *SnapshotManager
	clock                Clock
	newBackOff           func() backoff.BackOff
	callbacks            []CommitCallback
	expirer              *Expirer
	ignoreEmptyCommit    bool
	expireForEmptyCommit bool
	strictModeLastSafe   *int64
	closed               bool
}

// CommitOption configures a Committer.
type CommitOption func(*Committer)

// WithClock sets the clock used for snapshot times and retry waits.
func WithClock(clock Clock) CommitOption {
	return func(c *Committer) {
		c.clock = clock
	}
}

// WithBackOff sets the retry wait strategy. A new back-off is created for every commit.
func WithBackOff(newBackOff func() backoff.BackOff) CommitOption {
	return func(c *Committer) {
		c.newBackOff = newBackOff
	}
}

// WithLock serializes snapshot publishes of this committer with locker.
func WithLock(locker lock.Locker) CommitOption {
	return func(c *Committer) {
		c.snapshots = NewSnapshotManager(c.table.store, c.table.tableOptions.HintStore, locker)
	}
}

// WithCallbacks adds callbacks to the ones configured by commit.callbacks.
func WithCallbacks(callbacks ...CommitCallback) CommitOption {
	return func(c *Committer) {
		c.callbacks = append(c.callbacks, callbacks...)
	}
}

// WithExpirer replaces the expirer run after commits. A nil expirer disables expiry.
func WithExpirer(expirer *Expirer) CommitOption {
	return func(c *Committer) {
		c.expirer = expirer
	}
}

// IgnoreEmptyCommit skips publishing a snapshot for a committable without changes. Defaults to true.
func IgnoreEmptyCommit(ignore bool) CommitOption {
	return func(c *Committer) {
		c.ignoreEmptyCommit = ignore
	}
}

// ExpireForEmptyCommit runs the expirer even when a commit published nothing. Defaults to true.
func ExpireForEmptyCommit(expire bool) CommitOption {
	return func(c *Committer) {
		c.expireForEmptyCommit = expire
	}
}

// NewCommit creates a committer for commitUser.
func (t *Table) NewCommit(commitUser string, opts ...CommitOption) (*Committer, error) {
	if commitUser == "" {
		return nil, errors.New("commit user must not be empty")
	}
	callbacks, err := commitCallbacksFromOptions(t.options)
	if err != nil {
		return nil, err
	}
	c := &Committer{
		table:                t,
		commitUser:           commitUser,
		options:              t.options,
		snapshots:            t.snapshots,
		clock:                t.Clock(),
		callbacks:            callbacks,
		ignoreEmptyCommit:    true,
		expireForEmptyCommit: true,
	}
	c.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.options.CommitMinRetryWait
		b.MaxInterval = c.options.CommitMaxRetryWait
		return b
	}
	if !t.options.WriteOnly {
		c.expirer = t.NewExpirer()
	}
	if last := t.options.StrictModeLastSafeSnapshot; last != nil {
		v := *last
		c.strictModeLastSafe = &v
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Committer) CommitUser() string {
	return c.commitUser
}

// commitRequest is one snapshot to publish. Overwrite requests compute their deletions against
// the base snapshot of each attempt.
type commitRequest struct {
	kind       CommitKind
	identifier int64
	watermark  *int64
	logOffsets map[int32]int64
	table      []ManifestEntry
	changelog  []ManifestEntry
	index      []IndexManifestEntry
	overwrite  bool
	partitions []Partition
	pending    *pendingCommit
}

// pendingCommit is an attempt whose publish failed with an error, so it may or may not have happened.
type pendingCommit struct {
	snapshot *Snapshot
	files    *writtenFiles
	table    []ManifestEntry
	index    []IndexManifestEntry
}

// writtenFiles are the metadata files of one attempt, removed when the attempt loses.
type writtenFiles struct {
	manifests []ManifestFileMeta
	lists     []string
	index     *string
}

func (w *writtenFiles) cleanup(t *Table) {
	t.manifestFile.Delete(w.manifests...)
	for _, name := range w.lists {
		t.manifestList.Delete(name)
	}
	if w.index != nil {
		t.indexManifestFile.Delete(*w.index)
	}
}

// Commit publishes an APPEND snapshot for new files and a COMPACT snapshot for compaction
// results, then runs the expirer.
func (c *Committer) Commit(ctx context.Context, committable ManifestCommittable) error {
	published, err := c.commit(ctx, committable)
	if err != nil {
		return err
	}
	return c.expire(ctx, published)
}

func (c *Committer) commit(ctx context.Context, committable ManifestCommittable) (int, error) {
	if c.closed {
		return 0, ErrCommitterClosed
	}
	timer := prometheus.NewTimer(commitDuration)
	defer timer.ObserveDuration()

	changes := collectChanges(committable.Messages)
	published := 0
	if !c.ignoreEmptyCommit || len(changes.appendTable) > 0 || len(changes.appendChangelog) > 0 || len(changes.appendIndex) > 0 {
		err := c.tryCommit(ctx, &commitRequest{
			kind:       CommitKindAppend,
			identifier: committable.Identifier,
			watermark:  committable.Watermark,
			logOffsets: committable.LogOffsets,
			table:      changes.appendTable,
			changelog:  changes.appendChangelog,
			index:      changes.appendIndex,
		})
		if err != nil {
			return published, err
		}
		published++
	}
	if len(changes.compactTable) > 0 || len(changes.compactChangelog) > 0 || len(changes.compactIndex) > 0 {
		err := c.tryCommit(ctx, &commitRequest{
			kind:       CommitKindCompact,
			identifier: committable.Identifier,
			watermark:  committable.Watermark,
			logOffsets: committable.LogOffsets,
			table:      changes.compactTable,
			changelog:  changes.compactChangelog,
			index:      changes.compactIndex,
		})
		if err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

// Overwrite replaces every file of the partitions matching partition with the new files of
// committable. An empty partition overwrites the whole table.
func (c *Committer) Overwrite(ctx context.Context, partition Partition, committable ManifestCommittable) error {
	var partitions []Partition
	if len(partition) > 0 {
		partitions = []Partition{partition}
	}
	if err := c.overwrite(ctx, partitions, committable); err != nil {
		return err
	}
	return c.expire(ctx, 1)
}

// DropPartitions deletes every file of the given partitions in one OVERWRITE snapshot.
func (c *Committer) DropPartitions(ctx context.Context, partitions []Partition, identifier int64) error {
	if len(partitions) == 0 {
		return errors.Join(ErrInvalidOverwrite, errors.New("no partitions to drop"))
	}
	for _, p := range partitions {
		if len(p) == 0 {
			return errors.Join(ErrInvalidOverwrite, errors.New("partitions to drop must not be empty"))
		}
	}
	if err := c.overwrite(ctx, partitions, NewManifestCommittable(identifier)); err != nil {
		return err
	}
	return c.expire(ctx, 1)
}

// TruncateTable deletes every file of the table in one OVERWRITE snapshot.
func (c *Committer) TruncateTable(ctx context.Context, identifier int64) error {
	if err := c.overwrite(ctx, nil, NewManifestCommittable(identifier)); err != nil {
		return err
	}
	return c.expire(ctx, 1)
}

func (c *Committer) overwrite(ctx context.Context, partitions []Partition, committable ManifestCommittable) error {
	if c.closed {
		return ErrCommitterClosed
	}
	timer := prometheus.NewTimer(commitDuration)
	defer timer.ObserveDuration()

	changes := collectChanges(committable.Messages)
	if len(changes.compactTable) > 0 || len(changes.compactChangelog) > 0 {
		return errors.Join(ErrInvalidOverwrite, errors.New("an overwrite cannot commit compaction results"))
	}
	if len(changes.appendChangelog) > 0 {
		log.Warnf("paimon-go: overwrite of commit %d ignores %d changelog files", committable.Identifier, len(changes.appendChangelog))
	}
	if len(partitions) > 0 {
		for _, e := range changes.appendTable {
			if !slices.ContainsFunc(partitions, e.Partition.Matches) {
				return errors.Join(ErrInvalidOverwrite, fmt.Errorf(
					"trying to overwrite partitions %v, but the changes in {%s} do not belong to them", partitions, e.Partition))
			}
		}
	}
	for _, e := range changes.appendTable {
		if e.Kind == FileKindDelete {
			return errors.Join(ErrInvalidOverwrite, fmt.Errorf("an overwrite cannot delete file %s", e.Identifier()))
		}
	}
	return c.tryCommit(ctx, &commitRequest{
		kind:       CommitKindOverwrite,
		identifier: committable.Identifier,
		watermark:  committable.Watermark,
		logOffsets: committable.LogOffsets,
		table:      changes.appendTable,
		index:      append(changes.appendIndex, changes.compactIndex...),
		overwrite:  true,
		partitions: partitions,
	})
}

// FilterAndCommit resubmits committables after a restart. Identifiers already committed by this
// commit user are skipped and reported to the callbacks' Retry; the files of the others must still
// exist. It returns the number of snapshots published.
func (c *Committer) FilterAndCommit(ctx context.Context, committables map[int64]ManifestCommittable) (int, error) {
	if c.closed {
		return 0, ErrCommitterClosed
	}
	identifiers := make([]int64, 0, len(committables))
	for id := range committables {
		identifiers = append(identifiers, id)
	}
	slices.Sort(identifiers)

	latest, err := c.snapshots.LatestSnapshotOfUser(c.commitUser)
	if err != nil {
		return 0, err
	}
	var pending []ManifestCommittable
	for _, id := range identifiers {
		committable := committables[id]
		if latest != nil && id <= latest.CommitIdentifier {
			log.Infof("paimon-go: commit %d of user %s was already committed by snapshot %d", id, c.commitUser, latest.ID)
			for _, cb := range c.callbacks {
				cb.Retry(committable)
			}
			continue
		}
		pending = append(pending, committable)
	}

	for _, committable := range pending {
		if err := c.checkFilesExist(ctx, committable); err != nil {
			return 0, err
		}
	}

	published := 0
	for _, committable := range pending {
		n, err := c.commit(ctx, committable)
		published += n
		if err != nil {
			return published, err
		}
	}
	return published, c.expire(ctx, published)
}

// committableFiles lists every file a committable makes live.
func (c *Committer) committableFiles(committable ManifestCommittable) []storage.Path {
	var paths []storage.Path
	add := func(m CommitMessage, files []DataFileMeta) {
		for _, f := range files {
			paths = append(paths, c.table.entryPaths(ManifestEntry{Partition: m.Partition, Bucket: m.Bucket, File: f})...)
		}
	}
	for _, m := range committable.Messages {
		add(m, m.NewFilesIncrement.NewFiles)
		add(m, m.NewFilesIncrement.ChangelogFiles)
		add(m, m.CompactIncrement.CompactAfter)
		add(m, m.CompactIncrement.ChangelogFiles)
		for _, f := range m.IndexIncrement.NewIndexFiles {
			paths = append(paths, IndexFilePath(f.FileName))
		}
	}
	return paths
}

func (c *Committer) checkFilesExist(ctx context.Context, committable ManifestCommittable) error {
	var (
		mu      sync.Mutex
		missing []string
	)
	g, ctx := errgroup.WithContext(ctx)
	if c.options.ScanManifestParallelism > 0 {
		g.SetLimit(c.options.ScanManifestParallelism)
	}
	for _, location := range c.committableFiles(committable) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			exists, err := storage.Exists(c.table.store, location)
			if err != nil {
				return err
			}
			if !exists {
				mu.Lock()
				missing = append(missing, location.Raw)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return errors.Join(ErrCannotRecover, fmt.Errorf(
			"commit identifier %d is missing:\n  %s\nThe most likely reason is a restore from a very old checkpoint whose uncommitted files were already deleted",
			committable.Identifier, strings.Join(missing, "\n  ")))
	}
	return nil
}

// Abort deletes the files written for messages that will never be committed.
func (c *Committer) Abort(messages []CommitMessage) {
	for _, location := range c.committableFiles(ManifestCommittable{Messages: messages}) {
		deleteQuietly(c.table.store, location)
	}
}

func (c *Committer) expire(ctx context.Context, published int) error {
	if c.expirer == nil || (published == 0 && !c.expireForEmptyCommit) {
		return nil
	}
	_, err := c.expirer.Expire(ctx)
	return err
}

// Close releases the callbacks.
func (c *Committer) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return closeCallbacks(c.callbacks)
}

// tryCommit retries a request until it is published, a fatal conflict is found, or
// commit.max-retries attempts have lost the publish race.
func (c *Committer) tryCommit(ctx context.Context, req *commitRequest) error {
	b := c.newBackOff()
	for attempt := 1; ; attempt++ {
		commitAttempts.Inc()
		latest, err := c.snapshots.Latest()
		if err != nil {
			return err
		}
		done, err := c.tryCommitOnce(ctx, req, latest)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		wait := b.NextBackOff()
		if attempt >= c.options.CommitMaxRetries || wait == backoff.Stop {
			commitConflicts.WithLabelValues("retries_exceeded").Inc()
			if req.pending != nil {
				log.Warnf("paimon-go: commit %d of user %s may have published snapshot %d", req.identifier, c.commitUser, req.pending.snapshot.ID)
			}
			return errors.Join(ErrExceededCommitRetryAttempts, ErrCommitConflict, fmt.Errorf(
				"commit %d (%s) of user %s gave up after %d attempts", req.identifier, req.kind, c.commitUser, attempt))
		}
		log.Debugf("paimon-go: commit %d (%s) attempt %d lost, retrying in %s", req.identifier, req.kind, attempt, wait)
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// resolvePending decides whether an attempt whose publish failed with an error did publish.
func (c *Committer) resolvePending(req *commitRequest) (bool, error) {
	p := req.pending
	s, err := c.snapshots.TryGet(p.snapshot.ID)
	if err != nil {
		return false, err
	}
	req.pending = nil
	if s != nil && s.CommitUser == c.commitUser && s.CommitIdentifier == p.snapshot.CommitIdentifier &&
		s.CommitKind == p.snapshot.CommitKind && s.BaseManifestList == p.snapshot.BaseManifestList {
		log.Infof("paimon-go: snapshot %d of commit %d was published despite the error", s.ID, s.CommitIdentifier)
		c.snapshots.CommitLatestHint(s.ID)
		return true, c.onPublished(s, p.table, p.index)
	}
	p.files.cleanup(c.table)
	return false, nil
}

func (c *Committer) tryCommitOnce(ctx context.Context, req *commitRequest, latest *Snapshot) (bool, error) {
	if req.pending != nil {
		done, err := c.resolvePending(req)
		if err != nil || done {
			return done, err
		}
	}

	newID := int64(1)
	if latest != nil {
		newID = latest.ID + 1
	}
	if err := c.checkStrictMode(newID); err != nil {
		commitConflicts.WithLabelValues("strict_mode").Inc()
		return false, err
	}

	changes := req.table
	var previousIndex []IndexManifestEntry
	if latest != nil {
		var err error
		if changes, err = c.checkBase(ctx, req, latest); err != nil {
			return false, err
		}
		if latest.IndexManifest != nil {
			if previousIndex, err = c.table.indexManifestFile.Read(*latest.IndexManifest); err != nil {
				return false, err
			}
		}
	}
	index := req.index
	if req.overwrite {
		for _, e := range previousIndex {
			if len(req.partitions) == 0 || slices.ContainsFunc(req.partitions, e.Partition.Matches) {
				deleted := e
				deleted.Kind = FileKindDelete
				index = append(index, deleted)
			}
		}
	}

	files := &writtenFiles{}
	snapshot, err := c.writeSnapshot(ctx, req, latest, newID, changes, previousIndex, index, files)
	if err != nil {
		files.cleanup(c.table)
		return false, err
	}

	published, err := c.snapshots.TryPublish(newID, snapshot)
	if err != nil {
		log.Warnf("paimon-go: publishing snapshot %d failed, checking it on the next attempt. %v", newID, err)
		req.pending = &pendingCommit{snapshot: snapshot, files: files, table: changes, index: index}
		return false, nil
	}
	if !published {
		commitConflicts.WithLabelValues("publish_race").Inc()
		log.Debugf("paimon-go: snapshot %d was published by another writer", newID)
		files.cleanup(c.table)
		return false, nil
	}
	return true, c.onPublished(snapshot, changes, index)
}

// checkBase reads the files of the partitions the request touches in the base snapshot and checks
// the request still applies. It returns the entries to commit.
func (c *Committer) checkBase(ctx context.Context, req *commitRequest, latest *Snapshot) ([]ManifestEntry, error) {
	reader := c.table.NewSnapshotReader()
	if req.overwrite {
		reader.WithPartitionFilter(req.partitions...)
	} else {
		if len(req.table) == 0 {
			return req.table, nil
		}
		reader.WithPartitionFilter(changedPartitions(req.table)...)
	}
	base, err := reader.ReadEntries(ctx, latest, ScanKindAll)
	if err != nil {
		return nil, err
	}

	changes := req.table
	if req.overwrite {
		changes = make([]ManifestEntry, 0, len(base)+len(req.table))
		for _, e := range base {
			deleted := e
			deleted.Kind = FileKindDelete
			changes = append(changes, deleted)
		}
		changes = append(changes, req.table...)
	}
	if err := checkNoConflicts(base, changes, req.kind); err != nil {
		commitConflicts.WithLabelValues("files").Inc()
		log.Warnf("paimon-go: commit %d of user %s conflicts with snapshot %d. %v", req.identifier, c.commitUser, latest.ID, err)
		return nil, err
	}
	return changes, nil
}

func changedPartitions(entries []ManifestEntry) []Partition {
	seen := make(map[string]bool)
	var partitions []Partition
	for _, e := range entries {
		key := e.Partition.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		partitions = append(partitions, e.Partition)
	}
	return partitions
}

func (c *Committer) writeSnapshot(
	ctx context.Context,
	req *commitRequest,
	latest *Snapshot,
	newID int64,
	changes []ManifestEntry,
	previousIndex []IndexManifestEntry,
	index []IndexManifestEntry,
	files *writtenFiles,
) (*Snapshot, error) {
	var previous []ManifestFileMeta
	if latest != nil {
		var err error
		if previous, err = c.table.NewSnapshotReader().ReadManifests(latest, ScanKindAll); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged, rewritten, err := c.table.manifestFile.Merge(previous, c.options.ManifestMergeMinCount)
	if err != nil {
		return nil, err
	}
	files.manifests = append(files.manifests, rewritten...)
	baseList, err := c.table.manifestList.Write(merged)
	if err != nil {
		return nil, err
	}
	files.lists = append(files.lists, baseList)

	delta, err := c.table.manifestFile.RollingWrite(changes)
	if err != nil {
		return nil, err
	}
	files.manifests = append(files.manifests, delta...)
	deltaList, err := c.table.manifestList.Write(delta)
	if err != nil {
		return nil, err
	}
	files.lists = append(files.lists, deltaList)

	var changelogList *string
	var changelogRecordCount *int64
	if len(req.changelog) > 0 {
		changelog, err := c.table.manifestFile.RollingWrite(req.changelog)
		if err != nil {
			return nil, err
		}
		files.manifests = append(files.manifests, changelog...)
		name, err := c.table.manifestList.Write(changelog)
		if err != nil {
			return nil, err
		}
		files.lists = append(files.lists, name)
		changelogList = &name
		count := addedRecordCount(req.changelog)
		changelogRecordCount = &count
	}

	var indexManifest *string
	if latest != nil {
		indexManifest = latest.IndexManifest
	}
	if len(index) > 0 {
		name, err := c.table.indexManifestFile.Write(MergeIndexEntries(previousIndex, index))
		if err != nil {
			return nil, err
		}
		files.index = &name
		indexManifest = &name
	}

	deltaRecordCount := addedRecordCount(changes) - deletedRecordCount(changes)
	snapshot := &Snapshot{
		Version:               snapshotFormatVersion,
		ID:                    newID,
		SchemaID:              c.table.schema.ID,
		BaseManifestList:      baseList,
		DeltaManifestList:     deltaList,
		ChangelogManifestList: changelogList,
		IndexManifest:         indexManifest,
		CommitUser:            c.commitUser,
		CommitIdentifier:      req.identifier,
		CommitKind:            req.kind,
		TimeMillis:            c.clock.Now().UnixMilli(),
		LogOffsets:            map[int32]int64{},
		TotalRecordCount:      deltaRecordCount,
		DeltaRecordCount:      deltaRecordCount,
		ChangelogRecordCount:  changelogRecordCount,
		Watermark:             req.watermark,
	}
	if latest != nil {
		snapshot.TotalRecordCount += latest.TotalRecordCount
		for bucket, offset := range latest.LogOffsets {
			snapshot.LogOffsets[bucket] = offset
		}
		if latest.Watermark != nil && (snapshot.Watermark == nil || *latest.Watermark > *snapshot.Watermark) {
			snapshot.Watermark = latest.Watermark
		}
	}
	for bucket, offset := range req.logOffsets {
		snapshot.LogOffsets[bucket] = offset
	}
	return snapshot, nil
}

func (c *Committer) onPublished(snapshot *Snapshot, changes []ManifestEntry, index []IndexManifestEntry) error {
	commitsPublished.WithLabelValues(string(snapshot.CommitKind)).Inc()
	added, deleted := 0, 0
	for _, e := range changes {
		if e.Kind == FileKindAdd {
			added++
		} else {
			deleted++
		}
	}
	commitFiles.WithLabelValues("added").Add(float64(added))
	commitFiles.WithLabelValues("deleted").Add(float64(deleted))
	log.Infof("paimon-go: published snapshot %d (%s) for commit %d of user %s, %d files added and %d deleted",
		snapshot.ID, snapshot.CommitKind, snapshot.CommitIdentifier, c.commitUser, added, deleted)

	if c.strictModeLastSafe != nil {
		*c.strictModeLastSafe = snapshot.ID
	}

	var err error
	for _, cb := range c.callbacks {
		if cbErr := cb.Call(changes, index, snapshot); cbErr != nil {
			err = errors.Join(err, cbErr)
		}
	}
	if err != nil {
		return errors.Join(ErrCommitCallback, fmt.Errorf("snapshot %d", snapshot.ID), err)
	}
	return nil
}

func addedRecordCount(entries []ManifestEntry) int64 {
	var n int64
	for _, e := range entries {
		if e.Kind == FileKindAdd {
			n += e.File.RowCount
		}
	}
	return n
}

func deletedRecordCount(entries []ManifestEntry) int64 {
	var n int64
	for _, e := range entries {
		if e.Kind == FileKindDelete {
			n += e.File.RowCount
		}
	}
	return n
}

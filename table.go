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

	"github.com/rivian/paimon-go/consumer"
	"github.com/rivian/paimon-go/lock"
	"github.com/rivian/paimon-go/state"
	"github.com/rivian/paimon-go/state/filestate"
	"github.com/rivian/paimon-go/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

var (
	// ErrTableNotFound is returned when a table has no schema.
	ErrTableNotFound error = errors.New("table not found")
)

// Table is a handle on one table rooted at an object store.
// A Table is cheap to copy with different dynamic options.
type Table struct {
	store             storage.ObjectStore
	schema            *Schema
	options           *Options
	tableOptions      TableOptions
	snapshots         *SnapshotManager
	schemas           *SchemaManager
	tags              *TagManager
	consumers         *consumer.Manager
	manifestFile      *ManifestFile
	manifestList      *ManifestList
	indexManifestFile *IndexManifestFile
}

// TableOptions are the pluggable services of a table.
type TableOptions struct {
	// HintStore holds the LATEST and EARLIEST hints. Defaults to hint files under snapshot/.
	HintStore state.Store
	// Lock optionally serializes snapshot publishes.
	Lock lock.Locker
	// ConsumerStore holds consumer progress. Defaults to files under consumer/.
	ConsumerStore consumer.Store
	// Clock defaults to the system clock.
	Clock Clock
	// DynamicOptions override the options stored in the schema.
	DynamicOptions map[string]string
	// ReadRetries retries failed reads of the object store that many times. Zero disables retries.
	ReadRetries int
}

func (o *TableOptions) setOptionsDefaults(store storage.ObjectStore) {
	if o.HintStore == nil {
		o.HintStore = filestate.New(store, storage.NewPath("snapshot"))
	}
	if o.ConsumerStore == nil {
		o.ConsumerStore = consumer.NewFileStore(store)
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
}

// CreateTable writes the first schema of a table and opens it.
func CreateTable(store storage.ObjectStore, schema Schema, options *TableOptions) (*Table, error) {
	var o TableOptions
	if options != nil {
		o = *options
	}
	o.setOptionsDefaults(store)
	created, err := NewSchemaManager(store, o.Clock).CreateTable(schema)
	if err != nil {
		return nil, err
	}
	log.Infof("paimon-go: created table with schema %d", created.ID)
	return newTable(store, created, o)
}

// OpenTable opens an existing table with its latest schema.
func OpenTable(store storage.ObjectStore, options *TableOptions) (*Table, error) {
	var o TableOptions
	if options != nil {
		o = *options
	}
	o.setOptionsDefaults(store)
	schema, err := NewSchemaManager(store, o.Clock).Latest()
	if err != nil {
		if errors.Is(err, ErrSchemaNotFound) {
			return nil, errors.Join(ErrTableNotFound, err)
		}
		return nil, err
	}
	return newTable(store, schema, o)
}

func newTable(store storage.ObjectStore, schema *Schema, o TableOptions) (*Table, error) {
	raw := make(map[string]string, len(schema.Options)+len(o.DynamicOptions))
	for k, v := range schema.Options {
		raw[k] = v
	}
	for k, v := range o.DynamicOptions {
		raw[k] = v
	}
	options, err := NewOptions(raw)
	if err != nil {
		return nil, err
	}
	if _, wrapped := store.(*storage.RetryingStore); o.ReadRetries > 0 && !wrapped {
		store = storage.NewRetryingStore(store, o.ReadRetries, nil)
	}
	snapshots := NewSnapshotManager(store, o.HintStore, o.Lock)
	return &Table{
		store:             store,
		schema:            schema,
		options:           options,
		tableOptions:      o,
		snapshots:         snapshots,
		schemas:           NewSchemaManager(store, o.Clock),
		tags:              NewTagManager(store, snapshots),
		consumers:         consumer.NewManager(o.ConsumerStore),
		manifestFile:      NewManifestFile(store, options, schema.PartitionKeys),
		manifestList:      NewManifestList(store, options),
		indexManifestFile: NewIndexManifestFile(store, options),
	}, nil
}

// Copy returns the same table with more dynamic options. Manifest caches are shared.
func (t *Table) Copy(dynamicOptions map[string]string) (*Table, error) {
	options, err := t.options.Copy(dynamicOptions)
	if err != nil {
		return nil, err
	}
	c := *t
	c.options = options
	c.tableOptions.DynamicOptions = options.Raw
	return &c, nil
}

func (t *Table) Store() storage.ObjectStore {
	return t.store
}

func (t *Table) Schema() *Schema {
	return t.schema
}

func (t *Table) Options() *Options {
	return t.options
}

func (t *Table) Clock() Clock {
	return t.tableOptions.Clock
}

func (t *Table) SnapshotManager() *SnapshotManager {
	return t.snapshots
}

func (t *Table) SchemaManager() *SchemaManager {
	return t.schemas
}

func (t *Table) TagManager() *TagManager {
	return t.tags
}

func (t *Table) ConsumerManager() *consumer.Manager {
	return t.consumers
}

// NewExpirer returns a snapshot expirer configured from the table options.
func (t *Table) NewExpirer() *Expirer {
	return newExpirer(t)
}

// NewSnapshotReader returns a reader of the files of single snapshots.
func (t *Table) NewSnapshotReader() *SnapshotReader {
	return newSnapshotReader(t)
}

// DeleteTag removes a tag and the files that only the tag kept alive.
func (t *Table) DeleteTag(ctx context.Context, name string) error {
	tag, err := t.tags.Tag(name)
	if err != nil {
		return err
	}
	if err := t.tags.DeleteTag(name); err != nil {
		return err
	}
	return t.NewExpirer().CleanTag(ctx, tag.Snapshot)
}

// PartitionPath returns the directory of a partition, keys in schema order.
func (t *Table) PartitionPath(p Partition) string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for _, k := range t.schema.PartitionKeys {
		if _, ok := p[k]; ok {
			keys = append(keys, k)
		}
	}
	if len(keys) != len(p) {
		keys = keys[:0]
		for k := range p {
			keys = append(keys, k)
		}
		slices.Sort(keys)
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, p[k])
	}
	return strings.Join(parts, "/")
}

// BucketPath returns the directory holding the data files of a bucket.
func (t *Table) BucketPath(p Partition, bucket int32) storage.Path {
	bucketDir := fmt.Sprintf("bucket-%d", bucket)
	if partition := t.PartitionPath(p); partition != "" {
		return storage.PathFromIter([]string{partition, bucketDir})
	}
	return storage.NewPath(bucketDir)
}

// DataFilePath returns the location of a data, changelog or extra file of a bucket.
func (t *Table) DataFilePath(p Partition, bucket int32, fileName string) storage.Path {
	return t.BucketPath(p, bucket).Join(storage.NewPath(fileName))
}

// entryPaths returns the data file of an entry followed by its extra files.
func (t *Table) entryPaths(e ManifestEntry) []storage.Path {
	paths := make([]storage.Path, 0, 1+len(e.File.ExtraFiles))
	paths = append(paths, t.DataFilePath(e.Partition, e.Bucket, e.File.FileName))
	for _, extra := range e.File.ExtraFiles {
		paths = append(paths, t.DataFilePath(e.Partition, e.Bucket, extra))
	}
	return paths
}

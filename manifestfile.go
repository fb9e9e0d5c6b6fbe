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
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rivian/paimon-go/storage"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrManifestDecode is returned when a manifest file, manifest list or index manifest is malformed.
	ErrManifestDecode error = errors.New("unable to decode manifest")
	// ErrManifestNotFound is returned when a manifest referenced by a snapshot does not exist.
	ErrManifestNotFound error = errors.New("manifest not found")
)

const defaultManifestCacheEntries = 1 << 16

// recordCodec encodes the records of one kind of manifest file.
type recordCodec[T any] interface {
	Encode(records []T) ([]byte, error)
	Decode(b []byte) ([]T, error)
}

type codecPair[T any] struct {
	write   recordCodec[T]
	avro    avroCodec[T]
	parquet parquetCodec[T]
}

func newCodecPair[T any](format ManifestFormat, compression string, schema string) codecPair[T] {
	p := codecPair[T]{
		avro:    avroCodec[T]{schema: schema, codec: avroCodecName(compression)},
		parquet: parquetCodec[T]{compression: parquetCompression(compression)},
	}
	if format == ManifestFormatParquet {
		p.write = p.parquet
	} else {
		p.write = p.avro
	}
	return p
}

// decode reads either format, so tables keep working after manifest.format changes.
func (p codecPair[T]) decode(b []byte) ([]T, error) {
	switch {
	case bytes.HasPrefix(b, avroMagic):
		return p.avro.Decode(b)
	case bytes.HasPrefix(b, parquetMagic):
		return p.parquet.Decode(b)
	}
	return nil, errors.Join(ErrManifestDecode, fmt.Errorf("unknown file format"))
}

// ManifestPath returns the location of a manifest file, manifest list or index manifest.
func ManifestPath(name string) storage.Path {
	return storage.PathFromIter([]string{"manifest", name})
}

func readManifestBytes(store storage.ObjectStore, name string) ([]byte, error) {
	b, err := store.Get(ManifestPath(name))
	if errors.Is(err, storage.ErrObjectDoesNotExist) {
		return nil, errors.Join(ErrManifestNotFound, fmt.Errorf("manifest %s", name), err)
	}
	return b, err
}

// manifestCache holds decoded manifest files. Manifest files are immutable so entries never go stale.
type manifestCache struct {
	entries    cmap.ConcurrentMap[string, []ManifestEntry]
	maxEntries int
}

func newManifestCache(maxEntries int) *manifestCache {
	return &manifestCache{entries: cmap.New[[]ManifestEntry](), maxEntries: maxEntries}
}

func (c *manifestCache) get(name string) ([]ManifestEntry, bool) {
	if c == nil {
		return nil, false
	}
	return c.entries.Get(name)
}

func (c *manifestCache) put(name string, entries []ManifestEntry) {
	if c == nil {
		return
	}
	if c.entries.Count() >= c.maxEntries {
		c.entries.Clear()
	}
	c.entries.Set(name, entries)
}

func (c *manifestCache) remove(name string) {
	if c != nil {
		c.entries.Remove(name)
	}
}

// ManifestFile reads and writes manifest files of data file entries.
type ManifestFile struct {
	store          storage.ObjectStore
	codecs         codecPair[ManifestEntry]
	targetFileSize int64
	partitionKeys  []string
	cache          *manifestCache
}

func NewManifestFile(store storage.ObjectStore, options *Options, partitionKeys []string) *ManifestFile {
	return &ManifestFile{
		store:          store,
		codecs:         newCodecPair[ManifestEntry](options.ManifestFormat, options.ManifestCompression, manifestEntryAvroSchema),
		targetFileSize: options.ManifestTargetFileSize,
		partitionKeys:  partitionKeys,
		cache:          newManifestCache(defaultManifestCacheEntries),
	}
}

// Read returns every entry of a manifest file.
func (f *ManifestFile) Read(name string) ([]ManifestEntry, error) {
	if entries, ok := f.cache.get(name); ok {
		return entries, nil
	}
	b, err := readManifestBytes(f.store, name)
	if err != nil {
		return nil, err
	}
	entries, err := f.codecs.decode(b)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("manifest file %s", name))
	}
	f.cache.put(name, entries)
	return entries, nil
}

// RollingWrite writes entries to as many manifest files as needed to stay near the target file size.
func (f *ManifestFile) RollingWrite(entries []ManifestEntry) ([]ManifestFileMeta, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	encoded, err := f.codecs.write.Encode(entries)
	if err != nil {
		return nil, err
	}
	parts := 1
	if f.targetFileSize > 0 && int64(len(encoded)) > f.targetFileSize {
		parts = int(math.Ceil(float64(len(encoded)) / float64(f.targetFileSize)))
		if parts > len(entries) {
			parts = len(entries)
		}
	}

	prefix := "manifest-" + uuid.New().String()
	metas := make([]ManifestFileMeta, 0, parts)
	for part := 0; part < parts; part++ {
		chunk := entries[part*len(entries)/parts : (part+1)*len(entries)/parts]
		b := encoded
		if parts > 1 {
			if b, err = f.codecs.write.Encode(chunk); err != nil {
				f.Delete(metas...)
				return nil, err
			}
		}
		name := fmt.Sprintf("%s-%d", prefix, part)
		if err := f.store.Put(ManifestPath(name), b); err != nil {
			f.Delete(metas...)
			return nil, err
		}
		metas = append(metas, f.summarize(name, int64(len(b)), chunk))
	}
	return metas, nil
}

func (f *ManifestFile) summarize(name string, size int64, entries []ManifestEntry) ManifestFileMeta {
	meta := ManifestFileMeta{
		FileName:          name,
		FileSize:          size,
		PartitionStats:    NewPartitionStats(),
		MinBucket:         math.MaxInt32,
		MaxBucket:         math.MinInt32,
		MinLevel:          math.MaxInt32,
		MaxLevel:          math.MinInt32,
		MinSequenceNumber: math.MaxInt64,
		MaxSequenceNumber: math.MinInt64,
	}
	for _, e := range entries {
		if e.Kind == FileKindAdd {
			meta.NumAddedFiles++
		} else {
			meta.NumDeletedFiles++
		}
		meta.PartitionStats.Update(e.Partition, f.partitionKeys)
		meta.SchemaID = max(meta.SchemaID, e.File.SchemaID)
		meta.MinBucket = min(meta.MinBucket, e.Bucket)
		meta.MaxBucket = max(meta.MaxBucket, e.Bucket)
		meta.MinLevel = min(meta.MinLevel, e.File.Level)
		meta.MaxLevel = max(meta.MaxLevel, e.File.Level)
		meta.MinSequenceNumber = min(meta.MinSequenceNumber, e.File.MinSequenceNumber)
		meta.MaxSequenceNumber = max(meta.MaxSequenceNumber, e.File.MaxSequenceNumber)
	}
	return meta
}

// Delete removes manifest files, ignoring the ones already gone.
func (f *ManifestFile) Delete(metas ...ManifestFileMeta) {
	for _, m := range metas {
		f.cache.remove(m.FileName)
		deleteQuietly(f.store, ManifestPath(m.FileName))
	}
}

// Merge rewrites all manifests into compact ones when at least minCount of them are smaller than
// the target size. It returns the metas to reference and the metas written by the merge.
func (f *ManifestFile) Merge(metas []ManifestFileMeta, minCount int) ([]ManifestFileMeta, []ManifestFileMeta, error) {
	small := 0
	for _, m := range metas {
		if m.FileSize < f.targetFileSize {
			small++
		}
	}
	if minCount <= 0 || small < minCount {
		return metas, nil, nil
	}

	groups := make([][]ManifestEntry, 0, len(metas))
	for _, m := range metas {
		entries, err := f.Read(m.FileName)
		if err != nil {
			return nil, nil, err
		}
		groups = append(groups, entries)
	}
	merged, err := MergeEntries(groups...)
	if err != nil {
		return nil, nil, err
	}
	if err := AssertNoDelete(merged); err != nil {
		return nil, nil, err
	}
	written, err := f.RollingWrite(merged)
	if err != nil {
		return nil, nil, err
	}
	log.Debugf("paimon-go: merged %d manifest files into %d", len(metas), len(written))
	return written, written, nil
}

// ManifestList reads and writes the ordered list of manifest files of a snapshot.
type ManifestList struct {
	store  storage.ObjectStore
	codecs codecPair[ManifestFileMeta]
}

func NewManifestList(store storage.ObjectStore, options *Options) *ManifestList {
	return &ManifestList{
		store:  store,
		codecs: newCodecPair[ManifestFileMeta](options.ManifestFormat, options.ManifestCompression, manifestFileMetaAvroSchema),
	}
}

// Read returns the manifest summaries of a list without opening the manifest files.
func (l *ManifestList) Read(name string) ([]ManifestFileMeta, error) {
	b, err := readManifestBytes(l.store, name)
	if err != nil {
		return nil, err
	}
	metas, err := l.codecs.decode(b)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("manifest list %s", name))
	}
	return metas, nil
}

// Write writes a manifest list and returns its name.
func (l *ManifestList) Write(metas []ManifestFileMeta) (string, error) {
	b, err := l.codecs.write.Encode(metas)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("manifest-list-%s-0", uuid.New().String())
	if err := l.store.Put(ManifestPath(name), b); err != nil {
		return "", err
	}
	return name, nil
}

// Delete removes a manifest list, ignoring it if already gone.
func (l *ManifestList) Delete(name string) {
	deleteQuietly(l.store, ManifestPath(name))
}

// IndexManifestFile reads and writes the full list of live index files of a snapshot.
type IndexManifestFile struct {
	store  storage.ObjectStore
	codecs codecPair[IndexManifestEntry]
}

func NewIndexManifestFile(store storage.ObjectStore, options *Options) *IndexManifestFile {
	return &IndexManifestFile{
		store:  store,
		codecs: newCodecPair[IndexManifestEntry](options.ManifestFormat, options.ManifestCompression, indexManifestEntryAvroSchema),
	}
}

func (f *IndexManifestFile) Read(name string) ([]IndexManifestEntry, error) {
	b, err := readManifestBytes(f.store, name)
	if err != nil {
		return nil, err
	}
	entries, err := f.codecs.decode(b)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("index manifest %s", name))
	}
	return entries, nil
}

func (f *IndexManifestFile) Write(entries []IndexManifestEntry) (string, error) {
	b, err := f.codecs.write.Encode(entries)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("index-manifest-%s-0", uuid.New().String())
	if err := f.store.Put(ManifestPath(name), b); err != nil {
		return "", err
	}
	return name, nil
}

func (f *IndexManifestFile) Delete(name string) {
	deleteQuietly(f.store, ManifestPath(name))
}

func deleteQuietly(store storage.ObjectStore, location storage.Path) {
	if err := store.Delete(location); err != nil && !errors.Is(err, storage.ErrObjectDoesNotExist) {
		log.Warnf("paimon-go: failed to delete %s. %v", location.Raw, err)
	}
}

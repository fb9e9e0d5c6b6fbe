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

// Package storage contains the resources required to interact with an object store.
package storage

import (
	"errors"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrObjectAlreadyExists is returned when an object already exists.
	ErrObjectAlreadyExists error = errors.New("the object already exists")
	// ErrObjectDoesNotExist is returned when an object does not exist.
	ErrObjectDoesNotExist error = errors.New("the object does not exist")
	// ErrObjectIsDir is returned when an object is a directory.
	ErrObjectIsDir error = errors.New("the object is a directory")
	// ErrCopyObject is returned when an object cannot be copied.
	ErrCopyObject error = errors.New("error while copying the object")
	// ErrPutObject is returned when an object cannot be created.
	ErrPutObject error = errors.New("error while putting the object")
	// ErrGetObject is returned when an object cannot be retrieved.
	ErrGetObject error = errors.New("error while getting the object")
	// ErrHeadObject is returned when an object's metadata cannot be retrieved.
	ErrHeadObject error = errors.New("error while getting the object head")
	// ErrDeleteObject is returned when an object cannot be deleted.
	ErrDeleteObject error = errors.New("error while deleting the object")
	// ErrURLJoinPath is returned when paths cannot be joined.
	ErrURLJoinPath error = errors.New("error during url.JoinPath")
	// ErrListObjects is returned when objects cannot be listed.
	ErrListObjects error = errors.New("error while listing objects")
	// ErrSeekOffset is returned when a seek offset is invalid
	ErrSeekOffset error = errors.New("invalid seek offset")
	// ErrSeekWhence is returned when a seek whence is invalid.
	ErrSeekWhence error = errors.New("invalid seek whence")
	// ErrReadAt is returned when an object cannot be read.
	ErrReadAt error = errors.New("error while reading the object")
)

// Path stores the location of an object relative to a store's base URI.
type Path struct {
	Raw string
}

// NewPath creates a new Path instance.
func NewPath(raw string) Path {
	return Path{Raw: raw}
}

// PathFromIter joins a list of strings to create a path.
func PathFromIter(elem []string) Path {
	return Path{Raw: path.Join(elem...)}
}

// ParseURL parses a raw URL into a URL structure.
func (p Path) ParseURL() (*url.URL, error) {
	return url.Parse(p.Raw)
}

// Base returns the last element of a path.
func (p Path) Base() string {
	return filepath.Base(p.Raw)
}

// Dir returns all but the last element of a path.
func (p Path) Dir() Path {
	return Path{Raw: path.Dir(p.Raw)}
}

// Ext returns the extension of a path.
func (p Path) Ext() string {
	return filepath.Ext(p.Raw)
}

// Join joins two paths.
func (p Path) Join(other Path) Path {
	return Path{Raw: filepath.Join(p.Raw, other.Raw)}
}

// HasPrefix reports whether the path is inside the directory given by prefix.
func (p Path) HasPrefix(prefix Path) bool {
	if prefix.Raw == "" {
		return true
	}
	dir := strings.TrimSuffix(prefix.Raw, "/") + "/"
	return strings.HasPrefix(p.Raw, dir)
}

// ObjectMeta is the metadata that describes an object.
type ObjectMeta struct {
	// The path to the object, relative to the store
	Location Path
	// The last modified time
	LastModified time.Time
	// The size in bytes of the object
	Size int64
}

// ListResult is the result of a list call that includes objects and a token for the next set of
// results. Individual result sets may be limited to 1,000 objects based on the underlying object
// storage's limitations.
type ListResult struct {
	Objects   []ObjectMeta
	NextToken string
}

// ObjectStore is the file-store abstraction a table is kept on.
//
// PutIfAbsent is the only synchronization primitive the table format relies on: it must either
// create the object atomically or fail with ErrObjectAlreadyExists without touching the existing one.
type ObjectStore interface {
	// Put saves the provided bytes to the specified location, overwriting any existing object.
	Put(location Path, bytes []byte) error

	// PutIfAbsent saves the provided bytes only if nothing exists at location.
	// Returns ErrObjectAlreadyExists when another writer got there first.
	PutIfAbsent(location Path, bytes []byte) error

	// Get returns the bytes that are stored at the specified location.
	Get(location Path) ([]byte, error)

	// Head returns the metadata for the specified location.
	Head(location Path) (ObjectMeta, error)

	// Delete deletes the object at the specified location.
	Delete(location Path) error

	// DeleteFolder deletes every object below the specified location.
	DeleteFolder(location Path) error

	// List lists the objects with the given prefix. This may be limited to a certain number of
	// objects (e.g. 1000) based on the underlying object storage's limitations.
	// If a previousResult is provided and the store supports paging, the next page of results will be returned.
	//
	// Prefixes are evaluated on a path segment basis, i.e. `foo/bar/` is a prefix of `foo/bar/x` but not of
	// `foo/bar_baz/x`.
	List(prefix Path, previousResult *ListResult) (ListResult, error)

	// ListAll lists all objects with the given prefix, paging as required.
	ListAll(prefix Path) (ListResult, error)

	// IsListOrdered returns true if this store returns list results sorted.
	IsListOrdered() bool

	// Rename moves an object, overwriting the destination.
	Rename(from Path, to Path) error

	// RenameIfNotExists moves an object only if the destination is empty.
	RenameIfNotExists(from Path, to Path) error

	// ReadAt reads len(p) bytes into p starting at offset off, stopping at max.
	ReadAt(location Path, p []byte, off int64, max int64) (n int, err error)

	// BaseURI gets a store's base URI.
	BaseURI() Path
}

// Exists reports whether an object exists at location.
func Exists(store ObjectStore, location Path) (bool, error) {
	_, err := store.Head(location)
	if errors.Is(err, ErrObjectDoesNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListIterator is a wrapper around List that performs paging if required.
type ListIterator struct {
	store      ObjectStore
	prefix     Path
	listResult *ListResult
	nextIndex  int
}

// NewListIterator creates a new ListIterator instance.
func NewListIterator(prefix Path, store ObjectStore) *ListIterator {
	return &ListIterator{store: store, prefix: prefix}
}

// Next returns the next object in a list.
// When there are no more objects, return nil and the error ErrObjectDoesNotExist
func (it *ListIterator) Next() (*ObjectMeta, error) {
	if it.listResult == nil || (it.nextIndex >= len(it.listResult.Objects) && it.listResult.NextToken != "") {
		next, err := it.store.List(it.prefix, it.listResult)
		if err != nil {
			return nil, err
		}
		it.listResult = &next
		it.nextIndex = 0
	}

	if it.nextIndex >= len(it.listResult.Objects) {
		return nil, ErrObjectDoesNotExist
	}

	result := it.listResult.Objects[it.nextIndex]
	it.nextIndex++
	return &result, nil
}

// Compile time check that ObjectReaderAtSeeker implements io.ReaderAt and io.Seeker
var _ io.ReaderAt = (*ObjectReaderAtSeeker)(nil)
var _ io.Seeker = (*ObjectReaderAtSeeker)(nil)

// ObjectReaderAtSeeker reads byte ranges of one object through its store.
type ObjectReaderAtSeeker struct {
	store    ObjectStore
	location Path
	offset   int64
	size     int64
}

// NewObjectReaderAtSeeker creates a new ObjectReaderAtSeeker instance.
func NewObjectReaderAtSeeker(location Path, store ObjectStore) (*ObjectReaderAtSeeker, error) {
	meta, err := store.Head(location)
	if err != nil {
		return nil, err
	}
	return &ObjectReaderAtSeeker{store: store, location: location, size: meta.Size}, nil
}

// ReadAt implements io.ReaderAt.
func (r *ObjectReaderAtSeeker) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off >= r.size {
		return 0, io.EOF
	}

	max := off + int64(len(p))
	if max > r.size {
		max = r.size
	}
	n, err = r.store.ReadAt(r.location, p, off, max)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (r *ObjectReaderAtSeeker) Read(p []byte) (n int, err error) {
	if r.offset >= r.size {
		return 0, io.EOF
	}
	max := r.size - r.offset
	if max > int64(len(p)) {
		max = int64(len(p))
	}
	n, err = r.store.ReadAt(r.location, p[:max], r.offset, r.offset+max)
	r.offset += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}

// Seek sets the offset for the next read.
func (r *ObjectReaderAtSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += r.offset
	case io.SeekEnd:
		offset += r.size
	default:
		return 0, ErrSeekWhence
	}
	if offset < 0 {
		return 0, ErrSeekOffset
	}
	r.offset = offset
	return offset, nil
}

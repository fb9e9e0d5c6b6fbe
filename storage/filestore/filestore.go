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

// Package filestore contains an object store backed by a local or mounted file system.
package filestore

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rivian/paimon-go/storage"
)

// FileObjectStore provides local file storage.
// PutIfAbsent is atomic: the object is written to a hidden temporary file and hard-linked into place,
// and link(2) fails when the target already exists.
type FileObjectStore struct {
	baseURI storage.Path
}

// Compile time check that FileObjectStore implements storage.ObjectStore
var _ storage.ObjectStore = (*FileObjectStore)(nil)

// New creates a FileObjectStore rooted at baseURI.
func New(baseURI storage.Path) *FileObjectStore {
	return &FileObjectStore{baseURI: baseURI}
}

func (s *FileObjectStore) fullPath(location storage.Path) string {
	return filepath.Join(s.baseURI.Raw, location.Raw)
}

// writeTemp writes data next to target under a unique hidden name and returns that name.
func writeTemp(target string, data []byte) (string, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", err
	}
	tmp := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// Put writes the object through a temporary file so readers never observe a partial object.
func (s *FileObjectStore) Put(location storage.Path, data []byte) error {
	target := s.fullPath(location)
	tmp, err := writeTemp(target, data)
	if err != nil {
		return errors.Join(storage.ErrPutObject, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return errors.Join(storage.ErrPutObject, err)
	}
	return nil
}

// PutIfAbsent writes the object only if the location is empty.
func (s *FileObjectStore) PutIfAbsent(location storage.Path, data []byte) error {
	target := s.fullPath(location)
	tmp, err := writeTemp(target, data)
	if err != nil {
		return errors.Join(storage.ErrPutObject, err)
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return errors.Join(storage.ErrObjectAlreadyExists, err)
		}
		return errors.Join(storage.ErrPutObject, err)
	}
	return nil
}

// Get reads a whole object.
func (s *FileObjectStore) Get(location storage.Path) ([]byte, error) {
	data, err := os.ReadFile(s.fullPath(location))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Join(storage.ErrObjectDoesNotExist, err)
	}
	if err != nil {
		return nil, errors.Join(storage.ErrGetObject, err)
	}
	return data, nil
}

// Head stats an object.
func (s *FileObjectStore) Head(location storage.Path) (storage.ObjectMeta, error) {
	var meta storage.ObjectMeta
	info, err := os.Stat(s.fullPath(location))
	if errors.Is(err, fs.ErrNotExist) {
		return meta, errors.Join(storage.ErrObjectDoesNotExist, err)
	}
	if err != nil {
		return meta, errors.Join(storage.ErrHeadObject, err)
	}
	meta.Location = location
	meta.Size = info.Size()
	meta.LastModified = info.ModTime()
	if info.IsDir() {
		return meta, storage.ErrObjectIsDir
	}
	return meta, nil
}

// Rename moves an object, overwriting the destination.
func (s *FileObjectStore) Rename(from storage.Path, to storage.Path) error {
	target := s.fullPath(to)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Join(storage.ErrCopyObject, err)
	}
	if err := os.Rename(s.fullPath(from), target); err != nil {
		return errors.Join(storage.ErrCopyObject, err)
	}
	return nil
}

// RenameIfNotExists moves an object only if the destination is empty.
func (s *FileObjectStore) RenameIfNotExists(from storage.Path, to storage.Path) error {
	target := s.fullPath(to)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Join(storage.ErrCopyObject, err)
	}
	if err := os.Link(s.fullPath(from), target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return errors.Join(storage.ErrObjectAlreadyExists, err)
		}
		return errors.Join(storage.ErrCopyObject, err)
	}
	if err := os.Remove(s.fullPath(from)); err != nil {
		return errors.Join(storage.ErrDeleteObject, err)
	}
	return nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *FileObjectStore) Delete(location storage.Path) error {
	err := os.Remove(s.fullPath(location))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Join(storage.ErrDeleteObject, err)
	}
	return nil
}

// DeleteFolder removes a directory tree.
func (s *FileObjectStore) DeleteFolder(location storage.Path) error {
	if err := os.RemoveAll(s.fullPath(location)); err != nil {
		return errors.Join(storage.ErrDeleteObject, err)
	}
	return nil
}

// ListAll lists every file whose relative path starts with prefix. Prefixes ending in a separator
// list a directory; otherwise the last element is matched as a name prefix. Temporary files are skipped.
func (s *FileObjectStore) ListAll(prefix storage.Path) (storage.ListResult, error) {
	var result storage.ListResult
	dir, namePrefix := filepath.Split(prefix.Raw)
	root := filepath.Join(s.baseURI.Raw, dir)

	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return result, errors.Join(storage.ErrListObjects, err)
	}

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), namePrefix) || isTemp(entry.Name()) {
			continue
		}
		start := filepath.Join(root, entry.Name())
		err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() || isTemp(d.Name()) {
				return nil
			}
			info, err := d.Info()
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(s.baseURI.Raw, p)
			if err != nil {
				return err
			}
			result.Objects = append(result.Objects, storage.ObjectMeta{
				Location:     storage.NewPath(filepath.ToSlash(rel)),
				LastModified: info.ModTime(),
				Size:         info.Size(),
			})
			return nil
		})
		if err != nil {
			return result, errors.Join(storage.ErrListObjects, err)
		}
	}
	sort.Slice(result.Objects, func(i, j int) bool {
		return result.Objects[i].Location.Raw < result.Objects[j].Location.Raw
	})
	return result, nil
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
}

// List returns all results in a single page.
func (s *FileObjectStore) List(prefix storage.Path, previousResult *storage.ListResult) (storage.ListResult, error) {
	return s.ListAll(prefix)
}

// IsListOrdered is true: results are sorted by path.
func (s *FileObjectStore) IsListOrdered() bool {
	return true
}

// ReadAt reads the byte range [off, max) of an object.
func (s *FileObjectStore) ReadAt(location storage.Path, p []byte, off int64, max int64) (n int, err error) {
	f, err := os.Open(s.fullPath(location))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, errors.Join(storage.ErrObjectDoesNotExist, err)
	}
	if err != nil {
		return 0, errors.Join(storage.ErrReadAt, err)
	}
	defer f.Close()

	if max-off < int64(len(p)) {
		p = p[:max-off]
	}
	n, err = f.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, errors.Join(storage.ErrReadAt, err)
	}
	return n, err
}

// BaseURI gets the base URI.
func (s *FileObjectStore) BaseURI() storage.Path {
	return s.baseURI
}

// SetBaseURI sets the base URI.
func (s *FileObjectStore) SetBaseURI(baseURI storage.Path) {
	s.baseURI = baseURI
}

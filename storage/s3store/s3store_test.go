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
package s3store

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/go-cmp/cmp"
	"github.com/rivian/paimon-go/internal/s3utils"
	"github.com/rivian/paimon-go/storage"
)

// Test helper: setupTest does common setup for our tests, creating a mock S3 client and an S3ObjectStore
func setupTest(t *testing.T) (baseURI storage.Path, mockClient *s3utils.MockClient, s3Store *S3ObjectStore) {
	t.Helper()
	baseURI = storage.NewPath("s3://test-bucket/warehouse/test-table")
	mockClient, err := s3utils.NewMockClient(t, baseURI)
	if err != nil {
		t.Fatalf("Error occurred setting up for tests %e.", err)
	}
	s3Store, err = New(mockClient, baseURI)
	if err != nil {
		t.Fatalf("Error occurred setting up for tests %e.", err)
	}
	return
}

// Test helper: verify the file exists and has the expected contents
func verifyFileContents(t *testing.T, baseURI storage.Path, path storage.Path, mockClient *s3utils.MockClient, data []byte) {
	t.Helper()
	results, err := mockClient.GetFile(baseURI, path)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if !bytes.Equal(results, data) {
		t.Errorf("Results did not match expected. Results: %s, Expected: %s", results, data)
	}
}

// Test helper: verify the file does not exist
func verifyFileDoesNotExist(t *testing.T, baseURI storage.Path, path storage.Path, mockClient *s3utils.MockClient) {
	t.Helper()
	fileExists, err := mockClient.FileExists(baseURI, path)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if fileExists {
		t.Errorf("File %s exists, expected it not to", path.Raw)
	}
}

func serverError() error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusInternalServerError}},
			Err:      errors.New("internal error"),
		},
	}
}

func TestPut(t *testing.T) {
	baseURI, mockClient, s3Store := setupTest(t)

	path := storage.NewPath("snapshot/snapshot-1")
	if err := s3Store.Put(path, []byte("first")); err != nil {
		t.Fatalf("err = %e;", err)
	}
	verifyFileContents(t, baseURI, path, mockClient, []byte("first"))

	// Put overwrites
	if err := s3Store.Put(path, []byte("second")); err != nil {
		t.Fatalf("err = %e;", err)
	}
	verifyFileContents(t, baseURI, path, mockClient, []byte("second"))
}

func TestPutErrorHandling(t *testing.T) {
	_, mockClient, s3Store := setupTest(t)
	mockClient.MockError = serverError()

	err := s3Store.Put(storage.NewPath("a"), []byte("data"))
	if !errors.Is(err, storage.ErrPutObject) {
		t.Errorf("err = %e; expected %e", err, storage.ErrPutObject)
	}
}

func TestPutIfAbsent(t *testing.T) {
	baseURI, mockClient, s3Store := setupTest(t)

	path := storage.NewPath("snapshot/snapshot-1")
	if err := s3Store.PutIfAbsent(path, []byte("first")); err != nil {
		t.Fatalf("err = %e;", err)
	}
	err := s3Store.PutIfAbsent(path, []byte("second"))
	if !errors.Is(err, storage.ErrObjectAlreadyExists) {
		t.Errorf("err = %e; expected %e", err, storage.ErrObjectAlreadyExists)
	}
	verifyFileContents(t, baseURI, path, mockClient, []byte("first"))
}

func TestGet(t *testing.T) {
	baseURI, mockClient, s3Store := setupTest(t)

	path := storage.NewPath("manifest/manifest-1")
	if err := mockClient.PutFile(baseURI, path, []byte("some data")); err != nil {
		t.Fatalf("err = %e;", err)
	}
	results, err := s3Store.Get(path)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if !bytes.Equal(results, []byte("some data")) {
		t.Errorf("Results = %s", results)
	}

	_, err = s3Store.Get(storage.NewPath("manifest/missing"))
	if !errors.Is(err, storage.ErrObjectDoesNotExist) {
		t.Errorf("err = %e; expected %e", err, storage.ErrObjectDoesNotExist)
	}
}

func TestGetErrorHandling(t *testing.T) {
	_, mockClient, s3Store := setupTest(t)
	mockClient.MockError = serverError()

	_, err := s3Store.Get(storage.NewPath("a"))
	if !errors.Is(err, storage.ErrGetObject) {
		t.Errorf("err = %e; expected %e", err, storage.ErrGetObject)
	}
	if errors.Is(err, storage.ErrObjectDoesNotExist) {
		t.Error("server errors must not be reported as a missing object")
	}
}

func TestReadAt(t *testing.T) {
	baseURI, mockClient, s3Store := setupTest(t)

	path := storage.NewPath("data.bin")
	if err := mockClient.PutFile(baseURI, path, []byte("0123456789")); err != nil {
		t.Fatalf("err = %e;", err)
	}

	p := make([]byte, 4)
	n, err := s3Store.ReadAt(path, p, 3, 7)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if n != 4 || string(p) != "3456" {
		t.Errorf("n = %d, p = %s", n, p)
	}

	reader, err := storage.NewObjectReaderAtSeeker(path, s3Store)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	all, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if string(all) != "0123456789" {
		t.Errorf("ReadAll = %s", all)
	}
}

func TestRename(t *testing.T) {
	baseURI, mockClient, s3Store := setupTest(t)

	from := storage.NewPath("a")
	to := storage.NewPath("b")
	if err := mockClient.PutFile(baseURI, from, []byte("data")); err != nil {
		t.Fatalf("err = %e;", err)
	}
	if err := mockClient.PutFile(baseURI, to, []byte("old")); err != nil {
		t.Fatalf("err = %e;", err)
	}
	if err := s3Store.Rename(from, to); err != nil {
		t.Fatalf("err = %e;", err)
	}
	verifyFileContents(t, baseURI, to, mockClient, []byte("data"))
	verifyFileDoesNotExist(t, baseURI, from, mockClient)
}

func TestRenameErrorHandling(t *testing.T) {
	baseURI, mockClient, s3Store := setupTest(t)

	from := storage.NewPath("a")
	if err := mockClient.PutFile(baseURI, from, []byte("data")); err != nil {
		t.Fatalf("err = %e;", err)
	}
	mockClient.DisableObjectCopying = true
	err := s3Store.Rename(from, storage.NewPath("b"))
	if !errors.Is(err, storage.ErrCopyObject) {
		t.Errorf("err = %e; expected %e", err, storage.ErrCopyObject)
	}
	verifyFileContents(t, baseURI, from, mockClient, []byte("data"))
}

func TestRenameIfNotExists(t *testing.T) {
	baseURI, mockClient, s3Store := setupTest(t)

	from := storage.NewPath("a")
	to := storage.NewPath("b")
	if err := mockClient.PutFile(baseURI, from, []byte("data")); err != nil {
		t.Fatalf("err = %e;", err)
	}
	if err := s3Store.RenameIfNotExists(from, to); err != nil {
		t.Fatalf("err = %e;", err)
	}
	verifyFileContents(t, baseURI, to, mockClient, []byte("data"))
	verifyFileDoesNotExist(t, baseURI, from, mockClient)

	if err := mockClient.PutFile(baseURI, from, []byte("other")); err != nil {
		t.Fatalf("err = %e;", err)
	}
	err := s3Store.RenameIfNotExists(from, to)
	if !errors.Is(err, storage.ErrObjectAlreadyExists) {
		t.Errorf("err = %e; expected %e", err, storage.ErrObjectAlreadyExists)
	}
	verifyFileContents(t, baseURI, to, mockClient, []byte("data"))
	verifyFileContents(t, baseURI, from, mockClient, []byte("other"))
}

func TestHead(t *testing.T) {
	baseURI, mockClient, s3Store := setupTest(t)

	path := storage.NewPath("schema/schema-0")
	if err := mockClient.PutFile(baseURI, path, []byte("12345")); err != nil {
		t.Fatalf("err = %e;", err)
	}
	meta, err := s3Store.Head(path)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if meta.Size != 5 || meta.Location != path {
		t.Errorf("meta = %v", meta)
	}
	if meta.LastModified.IsZero() {
		t.Error("LastModified is not set")
	}

	_, err = s3Store.Head(storage.NewPath("schema/schema-1"))
	if !errors.Is(err, storage.ErrObjectDoesNotExist) {
		t.Errorf("err = %e; expected %e", err, storage.ErrObjectDoesNotExist)
	}
}

func TestHeadErrorHandling(t *testing.T) {
	_, mockClient, s3Store := setupTest(t)
	mockClient.MockError = serverError()

	_, err := s3Store.Head(storage.NewPath("a"))
	if !errors.Is(err, storage.ErrHeadObject) {
		t.Errorf("err = %e; expected %e", err, storage.ErrHeadObject)
	}
}

func TestDelete(t *testing.T) {
	baseURI, mockClient, s3Store := setupTest(t)

	path := storage.NewPath("tag/tag-t1")
	if err := mockClient.PutFile(baseURI, path, []byte("data")); err != nil {
		t.Fatalf("err = %e;", err)
	}
	if err := s3Store.Delete(path); err != nil {
		t.Fatalf("err = %e;", err)
	}
	verifyFileDoesNotExist(t, baseURI, path, mockClient)

	// Deleting a missing object is not an error
	if err := s3Store.Delete(path); err != nil {
		t.Errorf("err = %e;", err)
	}
}

func TestDeleteErrorHandling(t *testing.T) {
	baseURI, mockClient, s3Store := setupTest(t)

	path := storage.NewPath("a")
	if err := mockClient.PutFile(baseURI, path, []byte("data")); err != nil {
		t.Fatalf("err = %e;", err)
	}
	mockClient.DisableObjectDeleting = true
	err := s3Store.Delete(path)
	if !errors.Is(err, storage.ErrDeleteObject) {
		t.Errorf("err = %e; expected %e", err, storage.ErrDeleteObject)
	}
}

func TestDeleteFolder(t *testing.T) {
	baseURI, mockClient, s3Store := setupTest(t)

	for _, p := range []string{"dt=1/bucket-0/a", "dt=1/bucket-1/b", "dt=10/bucket-0/c"} {
		if err := mockClient.PutFile(baseURI, storage.NewPath(p), []byte("data")); err != nil {
			t.Fatalf("err = %e;", err)
		}
	}
	if err := s3Store.DeleteFolder(storage.NewPath("dt=1")); err != nil {
		t.Fatalf("err = %e;", err)
	}
	verifyFileDoesNotExist(t, baseURI, storage.NewPath("dt=1/bucket-0/a"), mockClient)
	verifyFileDoesNotExist(t, baseURI, storage.NewPath("dt=1/bucket-1/b"), mockClient)
	verifyFileContents(t, baseURI, storage.NewPath("dt=10/bucket-0/c"), mockClient, []byte("data"))
}

func listPaths(results []storage.ObjectMeta) []string {
	paths := make([]string, 0, len(results))
	for _, r := range results {
		paths = append(paths, r.Location.Raw)
	}
	return paths
}

func TestListAll(t *testing.T) {
	baseURI, mockClient, s3Store := setupTest(t)
	mockClient.PaginateListResults = true

	files := []string{
		"snapshot/snapshot-1",
		"snapshot/snapshot-2",
		"snapshot/snapshot-3",
		"snapshot/EARLIEST",
		"manifest/manifest-list-1",
	}
	for _, f := range files {
		if err := mockClient.PutFile(baseURI, storage.NewPath(f), []byte("data")); err != nil {
			t.Fatalf("err = %e;", err)
		}
	}

	results, err := s3Store.ListAll(storage.NewPath("snapshot/snapshot-"))
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	want := []string{"snapshot/snapshot-1", "snapshot/snapshot-2", "snapshot/snapshot-3"}
	if diff := cmp.Diff(want, listPaths(results.Objects)); diff != "" {
		t.Errorf("ListAll() mismatch (-want +got):\n%s", diff)
	}

	results, err = s3Store.ListAll(storage.NewPath("snapshot/"))
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if len(results.Objects) != 4 {
		t.Errorf("len(results) = %d; expected 4", len(results.Objects))
	}
}

func TestListIterator(t *testing.T) {
	baseURI, mockClient, s3Store := setupTest(t)
	mockClient.PaginateListResults = true

	for _, f := range []string{"consumer/consumer-a", "consumer/consumer-b"} {
		if err := mockClient.PutFile(baseURI, storage.NewPath(f), []byte("{}")); err != nil {
			t.Fatalf("err = %e;", err)
		}
	}

	it := storage.NewListIterator(storage.NewPath("consumer/"), s3Store)
	var got []string
	for {
		meta, err := it.Next()
		if errors.Is(err, storage.ErrObjectDoesNotExist) {
			break
		}
		if err != nil {
			t.Fatalf("err = %e;", err)
		}
		got = append(got, meta.Location.Raw)
	}
	if diff := cmp.Diff([]string{"consumer/consumer-a", "consumer/consumer-b"}, got); diff != "" {
		t.Errorf("iterator mismatch (-want +got):\n%s", diff)
	}
}

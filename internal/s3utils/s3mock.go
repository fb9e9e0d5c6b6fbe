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

package s3utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/rivian/paimon-go/storage"
	"github.com/rivian/paimon-go/storage/filestore"
)

// MockClient is an S3 client that keeps objects in a filestore below a test temporary directory.
type MockClient struct {
	fileStore *filestore.FileObjectStore
	// The S3 store path, used to drop the store root from list results
	s3StorePath string
	// For testing: if MockError is set, any S3 call returns that error
	MockError error
	// For testing: enable pagination
	PaginateListResults bool
	// For testing: disable object copying
	DisableObjectCopying bool
	// For testing: disable object deleting
	DisableObjectDeleting bool
}

// Compile time check that MockClient implements Client
var _ Client = (*MockClient)(nil)

var rangeRegexp = regexp.MustCompile(`^bytes=(\d+)-(\d+)$`)

// NewMockClient creates a mock S3 client that uses a filestore in a temporary directory to
// store, retrieve, and manipulate files
func NewMockClient(t *testing.T, baseURI storage.Path) (*MockClient, error) {
	baseURL, err := baseURI.ParseURL()
	if err != nil {
		return nil, err
	}
	client := new(MockClient)
	client.fileStore = filestore.New(storage.NewPath(t.TempDir()))
	client.s3StorePath = strings.TrimSuffix(baseURL.Path, "/") + "/"
	return client, nil
}

// FileStore gets the file store.
func (m *MockClient) FileStore() *filestore.FileObjectStore {
	return m.fileStore
}

// responseError builds the error the AWS SDK returns for an HTTP status.
func responseError(status int, err error) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      err,
		},
	}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrObjectDoesNotExist):
		return responseError(http.StatusNotFound, err)
	case errors.Is(err, storage.ErrObjectAlreadyExists):
		return responseError(http.StatusPreconditionFailed, err)
	default:
		return err
	}
}

func filePath(bucket string, key string) (storage.Path, error) {
	p, err := url.JoinPath(bucket, key)
	if err != nil {
		return storage.NewPath(""), err
	}
	return storage.NewPath(p), nil
}

// HeadObject implements Client.
func (m *MockClient) HeadObject(_ context.Context, input *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.MockError != nil {
		return nil, m.MockError
	}
	p, err := filePath(*input.Bucket, *input.Key)
	if err != nil {
		return nil, err
	}
	meta, err := m.fileStore.Head(p)
	if err != nil {
		return nil, translate(err)
	}
	return &s3.HeadObjectOutput{LastModified: aws.Time(meta.LastModified), ContentLength: aws.Int64(meta.Size)}, nil
}

// PutObject implements Client, honoring If-None-Match: *.
func (m *MockClient) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.MockError != nil {
		return nil, m.MockError
	}
	p, err := filePath(*input.Bucket, *input.Key)
	if err != nil {
		return nil, err
	}
	buffer := new(bytes.Buffer)
	if _, err := buffer.ReadFrom(input.Body); err != nil {
		return nil, err
	}
	if aws.ToString(input.IfNoneMatch) == "*" {
		err = m.fileStore.PutIfAbsent(p, buffer.Bytes())
	} else {
		err = m.fileStore.Put(p, buffer.Bytes())
	}
	if err != nil {
		return nil, translate(err)
	}
	return &s3.PutObjectOutput{}, nil
}

// GetObject implements Client, including single byte ranges.
func (m *MockClient) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.MockError != nil {
		return nil, m.MockError
	}
	p, err := filePath(*input.Bucket, *input.Key)
	if err != nil {
		return nil, err
	}
	data, err := m.fileStore.Get(p)
	if err != nil {
		return nil, translate(err)
	}

	if r := aws.ToString(input.Range); r != "" {
		groups := rangeRegexp.FindStringSubmatch(r)
		if groups == nil {
			return nil, errors.New("invalid range")
		}
		off, _ := strconv.ParseInt(groups[1], 10, 64)
		last, _ := strconv.ParseInt(groups[2], 10, 64)
		if off >= int64(len(data)) {
			return nil, responseError(http.StatusRequestedRangeNotSatisfiable, io.EOF)
		}
		if last >= int64(len(data)) {
			last = int64(len(data)) - 1
		}
		data = data[off : last+1]
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

// CopyObject implements Client.
func (m *MockClient) CopyObject(_ context.Context, input *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if m.DisableObjectCopying {
		return nil, storage.ErrCopyObject
	}
	if m.MockError != nil {
		return nil, m.MockError
	}
	// The CopySource includes the bucket
	data, err := m.fileStore.Get(storage.NewPath(*input.CopySource))
	if err != nil {
		return nil, translate(err)
	}
	dest, err := filePath(*input.Bucket, *input.Key)
	if err != nil {
		return nil, err
	}
	if err := m.fileStore.Put(dest, data); err != nil {
		return nil, err
	}
	return &s3.CopyObjectOutput{}, nil
}

// DeleteObject implements Client.
func (m *MockClient) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.DisableObjectDeleting {
		return nil, storage.ErrDeleteObject
	}
	if m.MockError != nil {
		return nil, m.MockError
	}
	p, err := filePath(*input.Bucket, *input.Key)
	if err != nil {
		return nil, err
	}
	if err := m.fileStore.Delete(p); err != nil {
		return nil, err
	}
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 implements Client. With PaginateListResults set, pages hold MaxKeys (default 1000)
// keys and the continuation token is the offset of the next page.
func (m *MockClient) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if m.MockError != nil {
		return nil, m.MockError
	}
	prefix, err := filePath(*input.Bucket, *input.Prefix)
	if err != nil {
		return nil, err
	}
	// Directory prefixes keep their separator
	if strings.HasSuffix(*input.Prefix, "/") && !strings.HasSuffix(prefix.Raw, "/") {
		prefix.Raw += "/"
	}
	all, err := m.fileStore.ListAll(prefix)
	if err != nil {
		return nil, err
	}

	objects := all.Objects
	output := new(s3.ListObjectsV2Output)
	if m.PaginateListResults {
		page := 1000
		if aws.ToInt32(input.MaxKeys) != 0 {
			page = int(aws.ToInt32(input.MaxKeys))
		}
		offset := 0
		if token := aws.ToString(input.ContinuationToken); token != "" {
			offset, _ = strconv.Atoi(token)
		}
		if offset > len(objects) {
			offset = len(objects)
		}
		end := offset + page
		if end < len(objects) {
			output.NextContinuationToken = aws.String(fmt.Sprintf("%d", end))
			output.IsTruncated = aws.Bool(true)
		} else {
			end = len(objects)
		}
		objects = objects[offset:end]
	}

	output.Contents = make([]types.Object, 0, len(objects))
	for _, o := range objects {
		key := strings.TrimPrefix(o.Location.Raw, *input.Bucket+"/")
		output.Contents = append(output.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(o.Size),
			LastModified: aws.Time(o.LastModified),
		})
	}
	output.KeyCount = aws.Int32(int32(len(output.Contents)))
	return output, nil
}

func storeFilePath(baseURI storage.Path, location storage.Path) (storage.Path, error) {
	baseURL, err := baseURI.ParseURL()
	if err != nil {
		return storage.NewPath(""), err
	}
	p, err := url.JoinPath(baseURL.Host, baseURL.Path, location.Raw)
	return storage.NewPath(p), err
}

// GetFile returns a file from the underlying filestore, for use in unit tests
func (m *MockClient) GetFile(baseURI storage.Path, location storage.Path) ([]byte, error) {
	p, err := storeFilePath(baseURI, location)
	if err != nil {
		return nil, err
	}
	return m.fileStore.Get(p)
}

// PutFile writes data to a file in the underlying filestore for use in unit tests
func (m *MockClient) PutFile(baseURI storage.Path, location storage.Path, data []byte) error {
	p, err := storeFilePath(baseURI, location)
	if err != nil {
		return err
	}
	return m.fileStore.Put(p, data)
}

// FileExists checks if a file exists in the underlying filestore for use in unit tests
func (m *MockClient) FileExists(baseURI storage.Path, location storage.Path) (bool, error) {
	p, err := storeFilePath(baseURI, location)
	if err != nil {
		return false, err
	}
	return storage.Exists(m.fileStore, p)
}

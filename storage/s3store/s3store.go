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

// Package s3store contains an object store backed by Amazon S3 or an S3-compatible service.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rivian/paimon-go/internal/s3utils"
	"github.com/rivian/paimon-go/storage"
)

// S3ObjectStore stores objects below s3://bucket/path.
// PutIfAbsent relies on S3 conditional writes (If-None-Match: *), so no external lock is needed
// for snapshot publication.
type S3ObjectStore struct {
	Client  s3utils.Client
	baseURI storage.Path
	bucket  string
	path    string
}

// Compile time check that S3ObjectStore implements storage.ObjectStore
var _ storage.ObjectStore = (*S3ObjectStore)(nil)

// New creates an S3ObjectStore for a base URI such as s3://bucket/warehouse/table.
func New(client s3utils.Client, baseURI storage.Path) (*S3ObjectStore, error) {
	baseURL, err := baseURI.ParseURL()
	if err != nil {
		return nil, err
	}

	store := new(S3ObjectStore)
	store.Client = client
	store.baseURI = baseURI
	store.bucket = baseURL.Host
	store.path = strings.TrimPrefix(baseURL.Path, "/")
	return store, nil
}

func (s *S3ObjectStore) key(location storage.Path) (string, error) {
	key, err := url.JoinPath(s.path, location.Raw)
	if err != nil {
		return "", errors.Join(storage.ErrURLJoinPath, err)
	}
	return key, nil
}

func statusCode(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

// Put uploads an object.
func (s *S3ObjectStore) Put(location storage.Path, data []byte) error {
	key, err := s.key(location)
	if err != nil {
		return err
	}
	_, err = s.Client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errors.Join(storage.ErrPutObject, err)
	}
	return nil
}

// PutIfAbsent uploads an object with If-None-Match: *. S3 answers 412 when the key exists and 409
// when a concurrent conditional write to the same key is in flight; both mean another writer won.
func (s *S3ObjectStore) PutIfAbsent(location storage.Path, data []byte) error {
	key, err := s.key(location)
	if err != nil {
		return err
	}
	_, err = s.Client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	switch code := statusCode(err); {
	case err == nil:
		return nil
	case code == http.StatusPreconditionFailed || code == http.StatusConflict:
		return errors.Join(storage.ErrObjectAlreadyExists, fmt.Errorf("object at location %s already exists", location.Raw))
	default:
		return errors.Join(storage.ErrPutObject, err)
	}
}

// Get downloads an object.
func (s *S3ObjectStore) Get(location storage.Path) ([]byte, error) {
	key, err := s.key(location)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if statusCode(err) == http.StatusNotFound {
		return nil, errors.Join(storage.ErrObjectDoesNotExist, err)
	}
	if err != nil {
		return nil, errors.Join(storage.ErrGetObject, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Join(storage.ErrGetObject, err)
	}
	return body, nil
}

// ReadAt downloads the byte range [off, max) of an object.
func (s *S3ObjectStore) ReadAt(location storage.Path, p []byte, off int64, max int64) (int, error) {
	key, err := s.key(location)
	if err != nil {
		return 0, err
	}
	if max <= off {
		return 0, io.EOF
	}
	resp, err := s.Client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, max-1)),
	})
	if statusCode(err) == http.StatusNotFound {
		return 0, errors.Join(storage.ErrObjectDoesNotExist, err)
	}
	if err != nil {
		return 0, errors.Join(storage.ErrReadAt, err)
	}
	defer resp.Body.Close()
	n, err := io.ReadFull(resp.Body, p[:max-off])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return n, errors.Join(storage.ErrReadAt, err)
	}
	return n, nil
}

// Delete removes an object. S3 does not report missing keys on delete.
func (s *S3ObjectStore) Delete(location storage.Path) error {
	key, err := s.key(location)
	if err != nil {
		return err
	}
	_, err = s.Client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Join(storage.ErrDeleteObject, err)
	}
	return nil
}

// DeleteFolder removes every object below location.
func (s *S3ObjectStore) DeleteFolder(location storage.Path) error {
	prefix := storage.NewPath(strings.TrimSuffix(location.Raw, "/") + "/")
	list, err := s.ListAll(prefix)
	if err != nil {
		return err
	}
	for _, o := range list.Objects {
		if err := s.Delete(o.Location); err != nil {
			return err
		}
	}
	return nil
}

// Rename copies an object and deletes the source, overwriting the destination.
func (s *S3ObjectStore) Rename(from storage.Path, to storage.Path) error {
	srcKey, err := s.key(from)
	if err != nil {
		return err
	}
	destKey, err := s.key(to)
	if err != nil {
		return err
	}
	// CopySource includes the bucket; url.JoinPath would drop a leading / in the key.
	_, err = s.Client.CopyObject(context.Background(), &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(destKey),
		CopySource: aws.String(s.bucket + "/" + srcKey),
	})
	if err != nil {
		return errors.Join(storage.ErrCopyObject, err)
	}
	return s.Delete(from)
}

// RenameIfNotExists reads the source and publishes it with a conditional write.
func (s *S3ObjectStore) RenameIfNotExists(from storage.Path, to storage.Path) error {
	data, err := s.Get(from)
	if err != nil {
		return errors.Join(storage.ErrCopyObject, err)
	}
	if err := s.PutIfAbsent(to, data); err != nil {
		return err
	}
	return s.Delete(from)
}

// Head fetches object metadata.
func (s *S3ObjectStore) Head(location storage.Path) (storage.ObjectMeta, error) {
	var m storage.ObjectMeta
	key, err := s.key(location)
	if err != nil {
		return m, err
	}
	result, err := s.Client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if statusCode(err) == http.StatusNotFound {
		return m, errors.Join(storage.ErrObjectDoesNotExist, err)
	}
	if err != nil {
		return m, errors.Join(storage.ErrHeadObject, err)
	}

	m.Location = location
	m.LastModified = aws.ToTime(result.LastModified)
	m.Size = aws.ToInt64(result.ContentLength)
	return m, nil
}

func (s *S3ObjectStore) listInput(prefix storage.Path, previousResult *storage.ListResult) (s3.ListObjectsV2Input, string, error) {
	// The store path with a trailing / is trimmed off every returned key.
	trimPrefix := s.path
	if trimPrefix != "" && !strings.HasSuffix(trimPrefix, "/") {
		trimPrefix += "/"
	}

	fullPrefix := trimPrefix
	if prefix.Raw != "" {
		var err error
		fullPrefix, err = url.JoinPath(s.path, prefix.Raw)
		if err != nil {
			return s3.ListObjectsV2Input{}, "", errors.Join(storage.ErrURLJoinPath, err)
		}
	}

	input := s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	}
	if previousResult != nil && previousResult.NextToken != "" {
		input.ContinuationToken = aws.String(previousResult.NextToken)
	}
	return input, trimPrefix, nil
}

func (s *S3ObjectStore) appendObjects(out []storage.ObjectMeta, page *s3.ListObjectsV2Output, trimPrefix string) []storage.ObjectMeta {
	for _, o := range page.Contents {
		out = append(out, storage.ObjectMeta{
			Location:     storage.NewPath(strings.TrimPrefix(aws.ToString(o.Key), trimPrefix)),
			LastModified: aws.ToTime(o.LastModified),
			Size:         aws.ToInt64(o.Size),
		})
	}
	return out
}

// List returns one page of objects.
func (s *S3ObjectStore) List(prefix storage.Path, previousResult *storage.ListResult) (storage.ListResult, error) {
	input, trimPrefix, err := s.listInput(prefix, previousResult)
	if err != nil {
		return storage.ListResult{}, err
	}
	page, err := s.Client.ListObjectsV2(context.Background(), &input)
	if err != nil {
		return storage.ListResult{}, errors.Join(storage.ErrListObjects, err)
	}
	result := storage.ListResult{Objects: s.appendObjects(nil, page, trimPrefix)}
	result.NextToken = aws.ToString(page.NextContinuationToken)
	return result, nil
}

// ListAll pages through every object with the prefix.
func (s *S3ObjectStore) ListAll(prefix storage.Path) (storage.ListResult, error) {
	var result storage.ListResult
	input, trimPrefix, err := s.listInput(prefix, nil)
	if err != nil {
		return result, err
	}
	p := s3.NewListObjectsV2Paginator(s.Client, &input)
	for p.HasMorePages() {
		page, err := p.NextPage(context.Background())
		if err != nil {
			return result, errors.Join(storage.ErrListObjects, err)
		}
		result.Objects = s.appendObjects(result.Objects, page, trimPrefix)
	}
	return result, nil
}

// IsListOrdered is true: S3 lists keys in UTF-8 binary order.
func (s *S3ObjectStore) IsListOrdered() bool {
	return true
}

// BaseURI gets the base URI.
func (s *S3ObjectStore) BaseURI() storage.Path {
	return s.baseURI
}

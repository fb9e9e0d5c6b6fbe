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

	"github.com/apache/arrow/go/v13/parquet"
	"github.com/apache/arrow/go/v13/parquet/compress"
	"github.com/chelseajonesr/rfarrow"
)

var parquetMagic = []byte("PAR1")

// parquetCodec writes records as a single parquet file through their struct tags.
type parquetCodec[T any] struct {
	compression compress.Compression
}

func parquetCompression(compression string) compress.Compression {
	switch compression {
	case "none", "null":
		return compress.Codecs.Uncompressed
	case "deflate", "gzip":
		return compress.Codecs.Gzip
	case "zstd":
		return compress.Codecs.Zstd
	default:
		return compress.Codecs.Snappy
	}
}

func (c parquetCodec[T]) Encode(records []T) ([]byte, error) {
	buf := new(bytes.Buffer)
	props := parquet.NewWriterProperties(
		parquet.WithCompression(c.compression),
	)
	if err := rfarrow.WriteGoStructsToParquet(records, buf, props); err != nil {
		return nil, fmt.Errorf("write parquet records: %w", err)
	}
	return buf.Bytes(), nil
}

func (c parquetCodec[T]) Decode(b []byte) ([]T, error) {
	records, err := rfarrow.ReadGoStructsFromParquet[T](bytes.NewReader(b))
	if err != nil {
		return nil, errors.Join(ErrManifestDecode, err)
	}
	return records, nil
}

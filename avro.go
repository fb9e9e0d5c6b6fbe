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

	"github.com/hamba/avro/v2/ocf"
)

const simpleStatsAvroSchema = `{
	"type": "record",
	"name": "simple_stats",
	"fields": [
		{"name": "min_values", "type": "bytes"},
		{"name": "max_values", "type": "bytes"},
		{"name": "null_counts", "type": {"type": "array", "items": "long"}}
	]
}`

const dataFileMetaAvroSchema = `{
	"type": "record",
	"name": "data_file_meta",
	"fields": [
		{"name": "file_name", "type": "string"},
		{"name": "file_size", "type": "long"},
		{"name": "row_count", "type": "long"},
		{"name": "min_key", "type": "bytes"},
		{"name": "max_key", "type": "bytes"},
		{"name": "key_stats", "type": ` + simpleStatsAvroSchema + `},
		{"name": "value_stats", "type": "simple_stats"},
		{"name": "min_sequence_number", "type": "long"},
		{"name": "max_sequence_number", "type": "long"},
		{"name": "schema_id", "type": "long"},
		{"name": "level", "type": "int"},
		{"name": "extra_files", "type": {"type": "array", "items": "string"}},
		{"name": "creation_time", "type": "long"},
		{"name": "delete_row_count", "type": ["null", "long"], "default": null},
		{"name": "file_source", "type": ["null", "int"], "default": null}
	]
}`

const manifestEntryAvroSchema = `{
	"type": "record",
	"name": "manifest_entry",
	"fields": [
		{"name": "kind", "type": "int"},
		{"name": "partition", "type": {"type": "map", "values": "string"}},
		{"name": "bucket", "type": "int"},
		{"name": "total_buckets", "type": "int"},
		{"name": "file", "type": ` + dataFileMetaAvroSchema + `}
	]
}`

const manifestFileMetaAvroSchema = `{
	"type": "record",
	"name": "manifest_file_meta",
	"fields": [
		{"name": "file_name", "type": "string"},
		{"name": "file_size", "type": "long"},
		{"name": "num_added_files", "type": "long"},
		{"name": "num_deleted_files", "type": "long"},
		{"name": "partition_stats", "type": {
			"type": "record",
			"name": "partition_stats",
			"fields": [
				{"name": "num_entries", "type": "long"},
				{"name": "min_values", "type": {"type": "map", "values": "string"}},
				{"name": "max_values", "type": {"type": "map", "values": "string"}},
				{"name": "null_count", "type": {"type": "map", "values": "long"}}
			]
		}},
		{"name": "schema_id", "type": "long"},
		{"name": "min_bucket", "type": "int"},
		{"name": "max_bucket", "type": "int"},
		{"name": "min_level", "type": "int"},
		{"name": "max_level", "type": "int"},
		{"name": "min_sequence_number", "type": "long"},
		{"name": "max_sequence_number", "type": "long"}
	]
}`

const indexManifestEntryAvroSchema = `{
	"type": "record",
	"name": "index_manifest_entry",
	"fields": [
		{"name": "kind", "type": "int"},
		{"name": "partition", "type": {"type": "map", "values": "string"}},
		{"name": "bucket", "type": "int"},
		{"name": "index_file", "type": {
			"type": "record",
			"name": "index_file_meta",
			"fields": [
				{"name": "index_type", "type": "string"},
				{"name": "file_name", "type": "string"},
				{"name": "file_size", "type": "long"},
				{"name": "row_count", "type": "long"}
			]
		}}
	]
}`

var avroMagic = []byte{'O', 'b', 'j', 1}

// avroCodec writes records as an Avro object container file.
type avroCodec[T any] struct {
	schema string
	codec  ocf.CodecName
}

func avroCodecName(compression string) ocf.CodecName {
	switch compression {
	case "none", "null":
		return ocf.Null
	case "snappy":
		return ocf.Snappy
	case "zstd":
		return ocf.ZStandard
	default:
		return ocf.Deflate
	}
}

func (c avroCodec[T]) Encode(records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := ocf.NewEncoder(c.schema, &buf,
		ocf.WithMetadata(map[string][]byte{"paimon.format-version": []byte(fmt.Sprint(snapshotFormatVersion))}),
		ocf.WithCodec(c.codec),
	)
	if err != nil {
		return nil, fmt.Errorf("create avro encoder: %w", err)
	}
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return nil, fmt.Errorf("encode avro record: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close avro encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func (c avroCodec[T]) Decode(b []byte) ([]T, error) {
	dec, err := ocf.NewDecoder(bytes.NewReader(b))
	if err != nil {
		return nil, errors.Join(ErrManifestDecode, err)
	}
	var records []T
	for dec.HasNext() {
		var r T
		if err := dec.Decode(&r); err != nil {
			return nil, errors.Join(ErrManifestDecode, err)
		}
		records = append(records, r)
	}
	if err := dec.Error(); err != nil {
		return nil, errors.Join(ErrManifestDecode, err)
	}
	return records, nil
}

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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rivian/paimon-go/storage"
	"github.com/rivian/paimon-go/storage/filestore"
)

func testSchema() Schema {
	return Schema{
		Fields: []DataField{
			{Name: "dt", Type: String},
			{Name: "id", Type: BigInt},
			{Name: "amount", Type: Double},
		},
		PartitionKeys: []string{"dt"},
		PrimaryKeys:   []string{"dt", "id"},
		Options:       map[string]string{"bucket": "2"},
	}
}

func TestCreateTableSchema(t *testing.T) {
	store := filestore.New(storage.NewPath(t.TempDir()))
	clock := NewManualClock(testStartTime)
	schemas := NewSchemaManager(store, clock)

	created, err := schemas.CreateTable(testSchema())
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if created.ID != 0 || created.HighestFieldID != 2 || created.Fields[2].ID != 2 || created.TimeMillis != testStartTime.UnixMilli() {
		t.Errorf("created = %+v", created)
	}
	if _, err := schemas.CreateTable(testSchema()); !errors.Is(err, ErrTableAlreadyExists) {
		t.Errorf("err = %e; want ErrTableAlreadyExists", err)
	}

	read, err := schemas.Latest()
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if diff := cmp.Diff(created, read); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}
}

func TestSchemaValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Schema)
	}{
		{name: "duplicate field", modify: func(s *Schema) { s.Fields = append(s.Fields, DataField{Name: "id", Type: Int}) }},
		{name: "unknown partition key", modify: func(s *Schema) { s.PartitionKeys = []string{"day"} }},
		{name: "unknown primary key", modify: func(s *Schema) { s.PrimaryKeys = []string{"dt", "key"} }},
		{name: "primary key without partition", modify: func(s *Schema) { s.PrimaryKeys = []string{"id"} }},
		{name: "invalid option", modify: func(s *Schema) { s.Options = map[string]string{"bucket": "many"} }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := testSchema()
			tc.modify(&s)
			if err := s.Validate(); !errors.Is(err, ErrInvalidSchema) {
				t.Errorf("err = %e; want ErrInvalidSchema", err)
			}
		})
	}
	s := testSchema()
	if err := s.Validate(); err != nil {
		t.Errorf("err = %e;", err)
	}
}

func TestSchemaCommitChanges(t *testing.T) {
	store := filestore.New(storage.NewPath(t.TempDir()))
	schemas := NewSchemaManager(store, NewManualClock(testStartTime))
	if _, err := schemas.CommitChanges(map[string]string{"write-only": "true"}); !errors.Is(err, ErrSchemaNotFound) {
		t.Errorf("err = %e; want ErrSchemaNotFound", err)
	}
	if _, err := schemas.CreateTable(testSchema()); err != nil {
		t.Fatalf("err = %e;", err)
	}

	next, err := schemas.CommitChanges(map[string]string{"write-only": "true", "bucket": "4"})
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if next.ID != 1 || next.Options["write-only"] != "true" || next.Options["bucket"] != "4" {
		t.Errorf("next = %+v", next)
	}
	next, err = schemas.CommitChanges(nil, "write-only")
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if _, ok := next.Options["write-only"]; ok || next.ID != 2 {
		t.Errorf("next = %+v", next)
	}

	if _, err := schemas.CommitChanges(map[string]string{"bucket": "-1"}); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("err = %e; want ErrInvalidSchema", err)
	}

	ids, err := schemas.ListIDs()
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if diff := cmp.Diff([]int64{0, 1, 2}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	first, err := schemas.Schema(0)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if first.Options["bucket"] != "2" {
		t.Errorf("schema 0 options changed: %v", first.Options)
	}
}

func TestSchemaFromJSON(t *testing.T) {
	if _, err := SchemaFromJSON([]byte("{")); !errors.Is(err, ErrParseSchema) {
		t.Errorf("err = %e; want ErrParseSchema", err)
	}
	s := testSchema()
	b, err := s.JSON()
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	parsed, err := SchemaFromJSON(b)
	if err != nil {
		t.Fatalf("err = %e;", err)
	}
	if parsed.Fields[1].Type != BigInt || parsed.PrimaryKeys[1] != "id" {
		t.Errorf("parsed = %+v", parsed)
	}
}

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
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rivian/paimon-go/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

var (
	// ErrParseSchema is returned when a schema file cannot be parsed.
	ErrParseSchema error = errors.New("unable to parse schema")
	// ErrSchemaNotFound is returned when a schema does not exist.
	ErrSchemaNotFound error = errors.New("schema not found")
	// ErrInvalidSchema is returned when a schema is inconsistent.
	ErrInvalidSchema error = errors.New("invalid schema")
	// ErrTableAlreadyExists is returned when creating a table whose first schema is already present.
	ErrTableAlreadyExists error = errors.New("the table already exists")
)

const (
	schemaVersion          = 3
	maxSchemaCommitRetries = 10
)

var schemaFileRegex *regexp.Regexp = regexp.MustCompile(`^schema-(\d+)$`)

// SchemaDataTypeName is the type of a table field.
type SchemaDataTypeName string

const (
	String    SchemaDataTypeName = "STRING"
	Bytes     SchemaDataTypeName = "BYTES"
	Boolean   SchemaDataTypeName = "BOOLEAN"
	TinyInt   SchemaDataTypeName = "TINYINT"
	SmallInt  SchemaDataTypeName = "SMALLINT"
	Int       SchemaDataTypeName = "INT"
	BigInt    SchemaDataTypeName = "BIGINT"
	Float     SchemaDataTypeName = "FLOAT"
	Double    SchemaDataTypeName = "DOUBLE"
	Date      SchemaDataTypeName = "DATE"
	Timestamp SchemaDataTypeName = "TIMESTAMP"
)

// DataField is one column of a table.
type DataField struct {
	ID          int                `json:"id"`
	Name        string             `json:"name"`
	Type        SchemaDataTypeName `json:"type"`
	Description string             `json:"description,omitempty"`
}

// Schema is one version of a table's schema, stored at schema/schema-<id>.
type Schema struct {
	Version        int               `json:"version"`
	ID             int64             `json:"id"`
	Fields         []DataField       `json:"fields"`
	HighestFieldID int               `json:"highestFieldId"`
	PartitionKeys  []string          `json:"partitionKeys"`
	PrimaryKeys    []string          `json:"primaryKeys"`
	Options        map[string]string `json:"options"`
	Comment        string            `json:"comment,omitempty"`
	TimeMillis     int64             `json:"timeMillis"`
}

// HasPrimaryKey is true for tables whose files are merged by key.
func (s *Schema) HasPrimaryKey() bool {
	return len(s.PrimaryKeys) > 0
}

// TableOptions parses the schema's options.
func (s *Schema) TableOptions() (*Options, error) {
	return NewOptions(s.Options)
}

// Validate checks that keys reference existing, unique fields.
func (s *Schema) Validate() error {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if slices.Contains(names, f.Name) {
			return errors.Join(ErrInvalidSchema, fmt.Errorf("duplicate field %s", f.Name))
		}
		names = append(names, f.Name)
	}
	for _, k := range s.PartitionKeys {
		if !slices.Contains(names, k) {
			return errors.Join(ErrInvalidSchema, fmt.Errorf("partition key %s is not a field", k))
		}
	}
	for _, k := range s.PrimaryKeys {
		if !slices.Contains(names, k) {
			return errors.Join(ErrInvalidSchema, fmt.Errorf("primary key %s is not a field", k))
		}
	}
	if s.HasPrimaryKey() {
		for _, k := range s.PartitionKeys {
			if !slices.Contains(s.PrimaryKeys, k) {
				return errors.Join(ErrInvalidSchema, fmt.Errorf("primary key %v should include all partition fields %v", s.PrimaryKeys, s.PartitionKeys))
			}
		}
	}
	if _, err := s.TableOptions(); err != nil {
		return errors.Join(ErrInvalidSchema, err)
	}
	return nil
}

// JSON marshals a schema.
func (s *Schema) JSON() ([]byte, error) {
	return json.Marshal(s)
}

// SchemaFromJSON unmarshals a schema.
func SchemaFromJSON(b []byte) (*Schema, error) {
	s := new(Schema)
	if err := json.Unmarshal(b, s); err != nil {
		return nil, errors.Join(ErrParseSchema, err)
	}
	return s, nil
}

// SchemaPath returns the location of a schema version.
func SchemaPath(id int64) storage.Path {
	return storage.PathFromIter([]string{"schema", fmt.Sprintf("schema-%d", id)})
}

// SchemaManager reads and writes schema versions.
type SchemaManager struct {
	store storage.ObjectStore
	clock Clock
}

func NewSchemaManager(store storage.ObjectStore, clock Clock) *SchemaManager {
	if clock == nil {
		clock = SystemClock{}
	}
	return &SchemaManager{store: store, clock: clock}
}

// CreateTable writes the first schema of a table.
func (m *SchemaManager) CreateTable(schema Schema) (*Schema, error) {
	schema.Version = schemaVersion
	schema.ID = 0
	schema.TimeMillis = m.clock.Now().UnixMilli()
	for i := range schema.Fields {
		schema.Fields[i].ID = i
	}
	schema.HighestFieldID = len(schema.Fields) - 1
	if schema.Options == nil {
		schema.Options = map[string]string{}
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	b, err := schema.JSON()
	if err != nil {
		return nil, err
	}
	err = m.store.PutIfAbsent(SchemaPath(0), b)
	if errors.Is(err, storage.ErrObjectAlreadyExists) {
		return nil, ErrTableAlreadyExists
	}
	if err != nil {
		return nil, err
	}
	return &schema, nil
}

// Schema reads one schema version.
func (m *SchemaManager) Schema(id int64) (*Schema, error) {
	b, err := m.store.Get(SchemaPath(id))
	if errors.Is(err, storage.ErrObjectDoesNotExist) {
		return nil, errors.Join(ErrSchemaNotFound, fmt.Errorf("schema %d", id))
	}
	if err != nil {
		return nil, err
	}
	return SchemaFromJSON(b)
}

// ListIDs returns every schema id in ascending order.
func (m *SchemaManager) ListIDs() ([]int64, error) {
	list, err := m.store.ListAll(storage.NewPath("schema/schema-"))
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(list.Objects))
	for _, o := range list.Objects {
		groups := schemaFileRegex.FindStringSubmatch(o.Location.Base())
		if len(groups) != 2 {
			continue
		}
		id, err := strconv.ParseInt(groups[1], 10, 64)
		if err == nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Latest reads the newest schema version.
func (m *SchemaManager) Latest() (*Schema, error) {
	ids, err := m.ListIDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrSchemaNotFound
	}
	return m.Schema(ids[len(ids)-1])
}

// CommitChanges writes a new schema version with options set and removed.
// Concurrent schema changes are retried against the newer version.
func (m *SchemaManager) CommitChanges(set map[string]string, remove ...string) (*Schema, error) {
	for attempt := 0; attempt < maxSchemaCommitRetries; attempt++ {
		latest, err := m.Latest()
		if err != nil {
			return nil, err
		}
		next := *latest
		next.ID = latest.ID + 1
		next.TimeMillis = m.clock.Now().UnixMilli()
		next.Options = make(map[string]string, len(latest.Options)+len(set))
		for k, v := range latest.Options {
			next.Options[k] = v
		}
		for k, v := range set {
			next.Options[k] = v
		}
		for _, k := range remove {
			delete(next.Options, k)
		}
		if err := checkImmutableOptions(latest.Options, next.Options); err != nil {
			return nil, err
		}
		if err := next.Validate(); err != nil {
			return nil, err
		}

		b, err := next.JSON()
		if err != nil {
			return nil, err
		}
		err = m.store.PutIfAbsent(SchemaPath(next.ID), b)
		if errors.Is(err, storage.ErrObjectAlreadyExists) {
			log.Debugf("paimon-go: schema %d was committed concurrently, retrying", next.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		return &next, nil
	}
	return nil, fmt.Errorf("schema change failed after %d attempts", maxSchemaCommitRetries)
}

// The bucket count of fixed bucket tables only changes through a rescale overwrite.
func checkImmutableOptions(before, after map[string]string) error {
	b, a := strings.TrimSpace(before[string(BucketConfigKey)]), strings.TrimSpace(after[string(BucketConfigKey)])
	if (b == "-1" || b == "") != (a == "-1" || a == "") {
		return errors.Join(ErrInvalidSchema, fmt.Errorf("cannot change %s between dynamic and fixed bucket mode", BucketConfigKey))
	}
	return nil
}

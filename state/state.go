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
// Package state contains the resources required to create a snapshot hint store.
//
// Hints record the latest and earliest snapshot ids of a table so readers can skip listing the
// snapshot directory. A hint is advisory: it may lag behind the snapshot files and readers must
// verify it.
package state

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStateIsEmpty is returned when no hint has been recorded.
	ErrStateIsEmpty error = errors.New("the state is empty")
	// ErrCanNotReadState is returned when a hint cannot be read.
	ErrCanNotReadState error = errors.New("the state could not be read")
	// ErrCanNotWriteState is returned when a hint cannot be written.
	ErrCanNotWriteState error = errors.New("the state could not be written")
)

// Hint names a snapshot hint.
type Hint string

const (
	// Latest is the newest committed snapshot id.
	Latest Hint = "LATEST"
	// Earliest is the oldest snapshot id that has not been expired.
	Earliest Hint = "EARLIEST"
)

// ParseHint parses a hint name case-insensitively.
func ParseHint(s string) (Hint, error) {
	switch h := Hint(strings.ToUpper(s)); h {
	case Latest, Earliest:
		return h, nil
	}
	return "", fmt.Errorf("unknown snapshot hint %q", s)
}

// Store provides remote state storage for fast lookup of snapshot hints.
type Store interface {
	// Get returns the snapshot id recorded for hint, or ErrStateIsEmpty.
	Get(hint Hint) (int64, error)

	// Put records the snapshot id for hint.
	Put(hint Hint, snapshotID int64) error
}

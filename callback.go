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
	"fmt"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/exp/slices"
)

var (
	// ErrUnknownCommitCallback is returned when commit.callbacks names an unregistered callback.
	ErrUnknownCommitCallback error = errors.New("unknown commit callback")
	// ErrCommitCallback is returned when a callback fails after a snapshot was published.
	ErrCommitCallback error = errors.New("commit callback failed")
)

// CommitCallback observes commits.
type CommitCallback interface {
	// Call is invoked after a snapshot is published, with the entries it added or deleted.
	Call(entries []ManifestEntry, indexEntries []IndexManifestEntry, snapshot *Snapshot) error
	// Retry is invoked for a committable found to be already committed when resubmitted.
	Retry(committable ManifestCommittable)
	Close() error
}

// CommitCallbackFactory creates a callback from the commit.callback.<name>.param option.
type CommitCallbackFactory func(param string) (CommitCallback, error)

var commitCallbackFactories = cmap.New[CommitCallbackFactory]()

// RegisterCommitCallback makes a callback available to the commit.callbacks option.
func RegisterCommitCallback(name string, factory CommitCallbackFactory) {
	commitCallbackFactories.Set(name, factory)
}

func commitCallbacksFromOptions(options *Options) ([]CommitCallback, error) {
	callbacks := make([]CommitCallback, 0, len(options.CommitCallbacks))
	for _, name := range options.CommitCallbacks {
		factory, ok := commitCallbackFactories.Get(name)
		if !ok {
			closeCallbacks(callbacks)
			return nil, errors.Join(ErrUnknownCommitCallback, fmt.Errorf("callback %s", name))
		}
		callback, err := factory(options.Raw[string(CallbackParamConfigKey(name))])
		if err != nil {
			closeCallbacks(callbacks)
			return nil, err
		}
		callbacks = append(callbacks, callback)
	}
	return callbacks, nil
}

func closeCallbacks(callbacks []CommitCallback) error {
	var err error
	for _, c := range callbacks {
		err = errors.Join(err, c.Close())
	}
	return err
}

// CallbackRecorder records the commit identifiers seen by Call and Retry.
// Each test owns its recorder.
type CallbackRecorder struct {
	identifiers cmap.ConcurrentMap[int64, int]
	calls       atomic.Int64
	retries     atomic.Int64
}

var _ CommitCallback = (*CallbackRecorder)(nil)

func NewCallbackRecorder() *CallbackRecorder {
	return &CallbackRecorder{
		identifiers: cmap.NewWithCustomShardingFunction[int64, int](func(k int64) uint32 {
			return uint32(k) ^ uint32(k>>32)
		}),
	}
}

func (r *CallbackRecorder) record(identifier int64) {
	r.identifiers.Upsert(identifier, 1, func(exists bool, old int, n int) int {
		if exists {
			return old + n
		}
		return n
	})
}

func (r *CallbackRecorder) Call(_ []ManifestEntry, _ []IndexManifestEntry, snapshot *Snapshot) error {
	r.calls.Add(1)
	r.record(snapshot.CommitIdentifier)
	return nil
}

func (r *CallbackRecorder) Retry(committable ManifestCommittable) {
	r.retries.Add(1)
	r.record(committable.Identifier)
}

func (r *CallbackRecorder) Close() error {
	return nil
}

// Identifiers returns the distinct identifiers recorded, in ascending order.
func (r *CallbackRecorder) Identifiers() []int64 {
	ids := r.identifiers.Keys()
	slices.Sort(ids)
	return ids
}

func (r *CallbackRecorder) Calls() int64 {
	return r.calls.Load()
}

func (r *CallbackRecorder) Retries() int64 {
	return r.retries.Load()
}

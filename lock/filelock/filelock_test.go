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
package filelock

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rivian/paimon-go/lock"
	"github.com/rivian/paimon-go/storage"
)

func TestTryLock(t *testing.T) {
	tmpPath := storage.NewPath(t.TempDir())
	l := New(tmpPath, "snapshot/commit.lock", Options{})

	locked, err := l.TryLock()
	if err != nil {
		t.Errorf("err = %e;", err)
	}
	if !locked {
		t.Errorf("locked = %v; want true", locked)
	}

	t.Log(l.String())

	otherFileLock := New(tmpPath, "snapshot/commit.lock", Options{})
	hasLock, err := otherFileLock.TryLock()
	if !errors.Is(err, lock.ErrLockNotObtained) {
		t.Errorf("err = %e; expected %e", err, lock.ErrLockNotObtained)
	}
	if hasLock {
		t.Errorf("hasLock = %v; want false", hasLock)
	}

	if err := l.Unlock(); err != nil {
		t.Errorf("err = %e;", err)
	}
	hasLock, err = otherFileLock.TryLock()
	if err != nil {
		t.Errorf("err = %e;", err)
	}
	if !hasLock {
		t.Errorf("hasLock = %v; want true", hasLock)
	}
}

func TestNewLock(t *testing.T) {
	tmpPath := storage.NewPath(t.TempDir())
	l := New(tmpPath, "commit.lock", Options{DeleteOnRelease: true})
	nl, err := l.NewLock("other.lock")
	if err != nil {
		t.Fatal(err)
	}
	if nl.(*FileLock).key != "other.lock" {
		t.Error("Name of key should be updated")
	}

	// Different keys do not exclude each other
	if locked, err := l.TryLock(); err != nil || !locked {
		t.Errorf("locked = %v, err = %e;", locked, err)
	}
	if locked, err := nl.TryLock(); err != nil || !locked {
		t.Errorf("locked = %v, err = %e;", locked, err)
	}
	if err := nl.Unlock(); err != nil {
		t.Errorf("err = %e;", err)
	}
	if err := l.Unlock(); err != nil {
		t.Errorf("err = %e;", err)
	}
}

func TestTryLockBlocking(t *testing.T) {
	tmpPath := storage.NewPath(t.TempDir())
	l := New(tmpPath, "commit.lock", Options{Block: true, Timeout: 5 * time.Second})
	if locked, err := l.TryLock(); err != nil || !locked {
		t.Fatalf("locked = %v, err = %e;", locked, err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = l.Unlock()
	}()

	other := New(tmpPath, "commit.lock", Options{Block: true, Timeout: 5 * time.Second})
	hasLock, err := other.TryLock()
	if err != nil {
		t.Errorf("err = %e;", err)
	}
	if !hasLock {
		t.Errorf("hasLock = %v; want true", hasLock)
	}
	_ = other.Unlock()
}

func TestTryLockBlockingTimeout(t *testing.T) {
	tmpPath := storage.NewPath(t.TempDir())
	l := New(tmpPath, "commit.lock", Options{})
	if locked, err := l.TryLock(); err != nil || !locked {
		t.Fatalf("locked = %v, err = %e;", locked, err)
	}
	defer l.Unlock()

	other := New(tmpPath, "commit.lock", Options{Block: true, Timeout: 50 * time.Millisecond})
	_, err := other.TryLock()
	if !errors.Is(err, lock.ErrLockNotObtained) {
		t.Errorf("err = %e; expected %e", err, lock.ErrLockNotObtained)
	}
}

func TestRunWithLockExcludes(t *testing.T) {
	tmpPath := storage.NewPath(t.TempDir())
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := New(tmpPath, "commit.lock", Options{Block: true, Timeout: 10 * time.Second})
			_, err := lock.RunWithLock(l, func() (struct{}, error) {
				n := inside.Add(1)
				if n > maxInside.Load() {
					maxInside.Store(n)
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)
				return struct{}{}, nil
			})
			if err != nil {
				t.Errorf("err = %e;", err)
			}
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Errorf("maxInside = %d; want 1", maxInside.Load())
	}
}

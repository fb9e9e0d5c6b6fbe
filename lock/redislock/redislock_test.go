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
package redislock

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/rivian/paimon-go/lock"
	"github.com/stvp/tempredis"
)

var servers []*tempredis.Server

const serverPoolSize = 3

func TestMain(m *testing.M) {
	for i := 0; i < serverPoolSize; i++ {
		server, err := tempredis.Start(tempredis.Config{})
		if err != nil {
			panic(err)
		}
		servers = append(servers, server)
	}

	result := m.Run()

	for _, server := range servers {
		_ = server.Term()
	}
	os.Exit(result)
}

func newClient(i int) *goredislib.Client {
	return goredislib.NewClient(&goredislib.Options{
		Network: "unix",
		Addr:    servers[i].Socket(),
	})
}

// To find more extensive test cases, visit
// https://github.com/go-redsync/redsync/blob/master/mutex_test.go.
func TestRedsyncMultiplePools(t *testing.T) {
	pools := make([]redis.Pool, serverPoolSize)
	for i := range pools {
		pools[i] = goredis.NewPool(newClient(i))
	}

	l := New(redsync.New(pools...), "multiple-pools-mutex", Options{})
	locked, err := l.TryLock()
	if err != nil || !locked {
		t.Fatalf("locked = %v, err = %e;", locked, err)
	}
	if err := l.Unlock(); err != nil {
		t.Error(err)
	}
}

func TestTryLockHeld(t *testing.T) {
	client := newClient(0)
	defer client.Close()

	l := NewFromClient(client, "table/snapshot.lock", Options{TTL: 10 * time.Second, Tries: 1})
	if locked, err := l.TryLock(); err != nil || !locked {
		t.Fatalf("locked = %v, err = %e;", locked, err)
	}

	other, err := l.NewLock("table/snapshot.lock")
	if err != nil {
		t.Fatal(err)
	}
	hasLock, err := other.TryLock()
	if !errors.Is(err, lock.ErrLockNotObtained) {
		t.Errorf("err = %e; expected %e", err, lock.ErrLockNotObtained)
	}
	if hasLock {
		t.Error("hasLock = true; want false")
	}

	if err := l.Unlock(); err != nil {
		t.Fatal(err)
	}
	if hasLock, err := other.TryLock(); err != nil || !hasLock {
		t.Errorf("hasLock = %v, err = %e;", hasLock, err)
	}
	if err := other.Unlock(); err != nil {
		t.Error(err)
	}
}

func TestUnlockNotHeld(t *testing.T) {
	client := newClient(1)
	defer client.Close()

	l := NewFromClient(client, "never-locked", Options{})
	if err := l.Unlock(); !errors.Is(err, lock.ErrUnableToUnlock) {
		t.Errorf("err = %e; expected %e", err, lock.ErrUnableToUnlock)
	}
}

// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dolthub/fslock"

	"github.com/dolthub/nbsbackup/errs"
)

// groupLockTimeout bounds how long a session waits to acquire a group's
// exclusive flock before giving up and reporting Conflict: this lock is
// only ever held for the short critical section of creating or finishing
// a snapshot directory (§5), so a legitimate holder releases it quickly.
// A var, not a const, so tests can shorten it rather than wait out the
// production default.
var groupLockTimeout = 5 * time.Second

// GroupLock is the exclusive flock serializing snapshot creation/finish
// within one group (§4.5, §8 property 7: at-most-one writer per group).
// It wraps github.com/dolthub/fslock, the same advisory-lock package and
// API (New(path), LockWithTimeout, Unlock) the rest of the dolt stack uses
// for its own on-disk locks.
type GroupLock struct {
	lock *fslock.Lock
}

// AcquireGroupLock takes the exclusive flock at path, creating parent
// directories as needed. It blocks up to groupLockTimeout before failing
// with a Conflict-kind error (another session is mid start/finish).
func AcquireGroupLock(path string) (*GroupLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrapf(errs.IO, err, "creating directory for group lock %s", path)
	}
	l := fslock.New(path)
	if err := l.LockWithTimeout(groupLockTimeout); err != nil {
		return nil, errs.Wrapf(errs.Conflict, err, "group is locked by another active session")
	}
	return &GroupLock{lock: l}, nil
}

// Release unlocks the group lock. It is safe to call more than once.
func (g *GroupLock) Release() error {
	if g == nil || g.lock == nil {
		return nil
	}
	err := g.lock.Unlock()
	g.lock = nil
	if err != nil {
		return errs.Wrap(errs.IO, err)
	}
	return nil
}

// snapshotGuard protects a previous snapshot directory from concurrent
// pruning for the duration of sessions reading it. §4.5 calls for a
// shared (reader) flock so that multiple concurrent backups of sibling
// snapshots in the same group can each hold a read lock on the same
// previous snapshot simultaneously; github.com/dolthub/fslock only
// exposes an exclusive lock, so a
// distinct reader/writer primitive would be needed purely for this one
// case. Since §5 states the server is a single process, an in-process
// refcounted registry gives the same protection within that process
// without introducing a second locking dependency for one advisory check;
// an external pruner (out of scope per §1) still must honor the on-disk
// ".lock" file via its own exclusive attempt, which this registry backs
// with a real shared flock held from the first reference until the
// refcount returns to zero.
type snapshotGuard struct {
	mu    sync.Mutex
	locks map[string]*guardEntry
}

type guardEntry struct {
	refs int
	lock *fslock.Lock
}

var globalSnapshotGuard = &snapshotGuard{locks: map[string]*guardEntry{}}

// AcquireShared takes a shared reference on the snapshot lock file at
// path. The first caller to acquire a given path takes the real exclusive
// flock underneath (denying an external pruner for as long as any
// in-process session holds a reference); later concurrent callers for the
// same path just bump the refcount.
func (g *snapshotGuard) AcquireShared(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.locks[path]; ok {
		e.refs++
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrapf(errs.IO, err, "creating directory for snapshot lock %s", path)
	}
	l := fslock.New(path)
	if err := l.LockWithTimeout(groupLockTimeout); err != nil {
		return errs.Wrapf(errs.Conflict, err, "previous snapshot is locked (likely by a pruner)")
	}
	g.locks[path] = &guardEntry{refs: 1, lock: l}
	return nil
}

// ReleaseShared drops one reference on path, releasing the underlying
// flock once the refcount reaches zero.
func (g *snapshotGuard) ReleaseShared(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.locks[path]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(g.locks, path)
	if err := e.lock.Unlock(); err != nil {
		return errs.Wrap(errs.IO, err)
	}
	return nil
}

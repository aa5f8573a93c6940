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

	json "github.com/goccy/go-json"

	"github.com/dolthub/nbsbackup/errs"
	"github.com/dolthub/nbsbackup/store/chunk"
	"github.com/dolthub/nbsbackup/store/chunkstore"
	"github.com/dolthub/nbsbackup/store/hash"
	"github.com/dolthub/nbsbackup/store/index"
)

// writerKind distinguishes the two index-writer flavors a session can hold
// open simultaneously, one per archive name.
type writerKind int

const (
	dynamicWriter writerKind = iota
	fixedWriter
)

type writerState struct {
	mu   sync.Mutex // serializes appends to this one writer, per §5
	kind writerKind
	name string
	dyn  *index.DynamicWriter
	fix  *index.FixedWriter
}

// Manifest is the small JSON document (index.json, sealed as a DataBlob)
// that finish() requires: the set of files the session claims belong to the
// snapshot. Decoded with goccy/go-json, the same library the wire protocol
// uses for every other RPC body.
type Manifest struct {
	Files []string `json:"files"`
}

// Session is one open backup session (C5): the server-side state behind a
// single HTTP/2-upgraded connection.
type Session struct {
	mu sync.Mutex // guards the fields below; held only for short critical sections (§5)

	authID      string
	store       *chunkstore.Store
	layout      Layout
	group       Group
	backupTime  int64
	snapshotDir string

	hasPrevious     bool
	previousDir     string
	previousTime    int64
	previousLockKey string

	known      *knownChunks
	chunksSeen map[hash.Hash]int64 // digest -> stored (encoded) blob size

	writers    map[uint64]*writerState
	nextWID    uint64
	maxWriters uint64

	startedAt time.Time
	finished  bool
	closed    bool
}

// Start begins a new backup session for group at backupTime, enforcing
// ownership and the strictly-increasing-backup_time invariant.
//
// The group's exclusive flock is held only for the short critical section
// of this call (checking the latest snapshot and creating the new
// snapshot directory is the race Start must prevent between two
// concurrent session starts); it is released before Start returns and
// re-acquired by Finish for its own short critical section, per §5's "no
// lock held during the body of the session." The shared lock on the
// immediately previous snapshot, by contrast, is held for the whole
// session (released by Finish/RemoveBackup) to protect it from concurrent
// pruning while this session may still read it.
func Start(layout Layout, group Group, authID string, backupTime int64, maxWriters uint64, store *chunkstore.Store) (*Session, error) {
	if owner, ok, err := layout.Owner(group); err != nil {
		return nil, err
	} else if ok && owner != authID {
		return nil, errs.New(errs.Conflict, "group is owned by a different identity")
	}

	groupLock, err := AcquireGroupLock(layout.GroupLockPath(group))
	if err != nil {
		return nil, err
	}
	defer groupLock.Release()

	latest, hasLatest, err := layout.LatestSnapshot(group)
	if err != nil {
		return nil, err
	}
	if hasLatest && backupTime <= latest {
		return nil, errs.Newf(errs.Conflict, "backup_time %d is not strictly greater than latest snapshot %d", backupTime, latest)
	}

	snapshotDir := layout.SnapshotDir(group, backupTime)
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return nil, errs.Wrapf(errs.IO, err, "creating snapshot directory %s", snapshotDir)
	}

	s := &Session{
		authID:      authID,
		store:       store,
		layout:      layout,
		group:       group,
		backupTime:  backupTime,
		snapshotDir: snapshotDir,
		known:       newKnownChunks(),
		chunksSeen:  map[hash.Hash]int64{},
		writers:     map[uint64]*writerState{},
		maxWriters:  maxWriters,
		startedAt:   time.Now(),
	}

	if hasLatest {
		lockPath := layout.SnapshotLockPath(group, latest)
		if err := globalSnapshotGuard.AcquireShared(lockPath); err != nil {
			os.RemoveAll(snapshotDir)
			return nil, err
		}
		s.hasPrevious = true
		s.previousDir = layout.SnapshotDir(group, latest)
		s.previousTime = latest
		s.previousLockKey = lockPath
	}

	if !hasLatest {
		if err := layout.SetOwner(group, authID); err != nil {
			s.abortLocked()
			return nil, err
		}
	}

	return s, nil
}

// PreviousBackupTime returns the previous snapshot's backup_time, or
// ok=false if this is the group's first snapshot.
func (s *Session) PreviousBackupTime() (backupTime int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previousTime, s.hasPrevious
}

// Store returns the chunk store this session's datastore is rooted at, for
// the wire layer's chunk-upload handler to insert into directly.
func (s *Session) Store() *chunkstore.Store { return s.store }

// SnapshotDir returns the absolute path of the snapshot directory this
// session is writing, for the wire layer's "blob" upload handler.
func (s *Session) SnapshotDir() string { return s.snapshotDir }

// Group returns the group this session is writing a snapshot for.
func (s *Session) Group() Group { return s.group }

// BackupTime returns the session's snapshot timestamp.
func (s *Session) BackupTime() int64 { return s.backupTime }

// AuthID returns the identity that opened this session.
func (s *Session) AuthID() string { return s.authID }

// Finished reports whether Finish has already completed successfully,
// letting a caller distinguish a clean disconnect from one that dropped
// mid-session and needs RemoveBackup.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// CreateDynamicIndex allocates a dynamic writer for name and returns its wid.
func (s *Session) CreateDynamicIndex(name string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return 0, errs.New(errs.Argument, "session already finished")
	}
	wid, err := s.allocWIDLocked()
	if err != nil {
		return 0, err
	}
	w, err := index.CreateDynamicIndex(filepath.Join(s.snapshotDir, name), s.startedAt)
	if err != nil {
		return 0, err
	}
	s.writers[wid] = &writerState{kind: dynamicWriter, name: name, dyn: w}
	return wid, nil
}

// CreateFixedIndex allocates a fixed writer for name declaring size. The
// client always streams every position through AppendFixed/CloseFixed
// regardless of reuseCsum, so the writer is always a fresh, empty index;
// reuseCsum only controls known-chunk elision. If it is non-nil and
// matches the previous snapshot's same-named index digest, every digest
// from that previous index is pre-registered as known so the client can
// skip re-uploading chunk bytes for positions that haven't changed
// (incremental fixed backup, §4.6) — it still appends their digests here
// to rebuild this snapshot's own index.
func (s *Session) CreateFixedIndex(name string, size, chunkSize uint64, reuseCsum *hash.Hash) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return 0, errs.New(errs.Argument, "session already finished")
	}

	path := filepath.Join(s.snapshotDir, name)

	if reuseCsum != nil && s.hasPrevious {
		prevPath := filepath.Join(s.previousDir, name)
		prev, err := index.OpenFixedIndex(prevPath)
		if err == nil && prev.IndexDigest == *reuseCsum && prev.Size == size {
			for _, d := range prev.Entries {
				s.known.Add(d)
				s.chunksSeen[d] = 0
			}
		}
	}

	wid, err := s.allocWIDLocked()
	if err != nil {
		return 0, err
	}
	w, err := index.CreateFixedIndex(path, s.startedAt, size, chunkSize)
	if err != nil {
		return 0, err
	}
	s.writers[wid] = &writerState{kind: fixedWriter, name: name, fix: w}
	return wid, nil
}

func (s *Session) allocWIDLocked() (uint64, error) {
	if uint64(len(s.writers)) >= s.maxWriters {
		return 0, errs.Newf(errs.Argument, "too many concurrently open writers (max %d)", s.maxWriters)
	}
	s.nextWID++
	return s.nextWID, nil
}

// RegisterChunk records d as known, with size the stored (encoded) blob
// size. Idempotent. Called after a chunk upload is acknowledged, and for
// every digest found in a downloaded previous index.
func (s *Session) RegisterChunk(d hash.Hash, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known.Add(d)
	s.chunksSeen[d] = size
}

// IsKnown reports whether d has been registered this session.
func (s *Session) IsKnown(d hash.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known.Has(d)
}

func (s *Session) writerLocked(wid uint64, kind writerKind) (*writerState, error) {
	w, ok := s.writers[wid]
	if !ok {
		return nil, errs.Newf(errs.NotFound, "no open writer %d", wid)
	}
	if w.kind != kind {
		return nil, errs.Newf(errs.Argument, "writer %d is not the expected kind", wid)
	}
	return w, nil
}

// DynamicAppend appends entries to the dynamic writer wid. Every digest
// must already be in chunks_seen.
func (s *Session) DynamicAppend(wid uint64, entries []index.DynamicEntry) error {
	s.mu.Lock()
	w, err := s.writerLocked(wid, dynamicWriter)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	for _, e := range entries {
		if _, ok := s.chunksSeen[e.Digest]; !ok {
			s.mu.Unlock()
			return errs.Newf(errs.ConsistencyFailure, "digest %s appended before being registered known", e.Digest)
		}
	}
	s.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dyn.Append(entries)
}

// FixedAppend appends entries to the fixed writer wid.
func (s *Session) FixedAppend(wid uint64, entries []index.FixedEntry) error {
	s.mu.Lock()
	w, err := s.writerLocked(wid, fixedWriter)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	for _, e := range entries {
		if _, ok := s.chunksSeen[e.Digest]; !ok {
			s.mu.Unlock()
			return errs.Newf(errs.ConsistencyFailure, "digest %s appended before being registered known", e.Digest)
		}
	}
	s.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fix.Append(entries)
}

// CloseDynamic finalizes and removes the dynamic writer wid.
func (s *Session) CloseDynamic(wid, chunkCount, size uint64, csum hash.Hash) error {
	s.mu.Lock()
	w, err := s.writerLocked(wid, dynamicWriter)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.writers, wid)
	s.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.dyn.Close(chunkCount, size, csum); err != nil {
		w.dyn.Abort()
		s.RemoveBackup()
		return err
	}
	return nil
}

// CloseFixed finalizes and removes the fixed writer wid.
func (s *Session) CloseFixed(wid, chunkCount, size uint64, csum hash.Hash) error {
	s.mu.Lock()
	w, err := s.writerLocked(wid, fixedWriter)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.writers, wid)
	s.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fix.Close(chunkCount, size, csum); err != nil {
		w.fix.Abort()
		s.RemoveBackup()
		return err
	}
	return nil
}

// ServePrevious returns the bytes of name from the previous snapshot, and
// registers every digest the file references as known (the "a chunk
// becomes known by virtue of being referenced in the prior snapshot" rule
// of §4.5). Index files have their entries parsed for this; any other file
// is just streamed back.
func (s *Session) ServePrevious(name string) ([]byte, error) {
	s.mu.Lock()
	has := s.hasPrevious
	dir := s.previousDir
	s.mu.Unlock()
	if !has {
		return nil, errs.New(errs.NotFound, "group has no previous snapshot")
	}

	path := filepath.Join(dir, name)
	switch filepath.Ext(name) {
	case ".didx":
		idx, err := index.OpenDynamicIndex(path)
		if err != nil {
			return nil, err
		}
		for _, e := range idx.Entries {
			s.RegisterChunk(e.Digest, 0)
		}
	case ".fidx":
		idx, err := index.OpenFixedIndex(path)
		if err != nil {
			return nil, err
		}
		for _, d := range idx.Entries {
			s.RegisterChunk(d, 0)
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrapf(errs.NotFound, err, "previous file %s", name)
		}
		return nil, errs.Wrapf(errs.IO, err, "reading previous file %s", name)
	}
	return b, nil
}

// Finish seals the snapshot: every writer must already be closed, and a
// manifest must be present and name only files that exist on disk. It
// re-acquires the group's exclusive flock for this short critical section
// (§5). On success the session is marked finished and its locks released.
func (s *Session) Finish(manifestName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return errs.New(errs.Argument, "session already finished")
	}
	if len(s.writers) != 0 {
		return errs.Newf(errs.ConsistencyFailure, "%d writer(s) still open at finish", len(s.writers))
	}

	groupLock, err := AcquireGroupLock(s.layout.GroupLockPath(s.group))
	if err != nil {
		return err
	}
	defer groupLock.Release()

	manifestPath := filepath.Join(s.snapshotDir, manifestName)
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errs.Wrapf(errs.ConsistencyFailure, err, "manifest %s missing at finish", manifestName)
		}
		return errs.Wrapf(errs.IO, err, "reading manifest %s", manifestName)
	}
	// The manifest reaches "blob" as a framed DataBlob like any other
	// generic blob (§4.2/§6); decode it before parsing the JSON it carries.
	// A manifest uploaded encrypted has no key to decode it with here, so
	// it is rejected the same way any other undecodable blob would be.
	plain, err := chunk.Decode(chunk.FromBytes(raw), nil)
	if err != nil {
		return errs.Wrapf(errs.ConsistencyFailure, err, "decoding manifest blob %s", manifestName)
	}
	var m Manifest
	if err := json.Unmarshal(plain.Data(), &m); err != nil {
		return errs.Wrapf(errs.ConsistencyFailure, err, "decoding manifest %s", manifestName)
	}
	for _, f := range m.Files {
		if _, err := os.Stat(filepath.Join(s.snapshotDir, f)); err != nil {
			return errs.Newf(errs.ConsistencyFailure, "manifest references missing file %s", f)
		}
	}

	s.finished = true
	s.releaseLocksLocked()
	return nil
}

// RemoveBackup aborts the session: every open writer is discarded, the
// snapshot directory is recursively removed, and the session's locks are
// released. Called on a dropped connection and when closing an index
// writer fails.
func (s *Session) RemoveBackup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
	if err := os.RemoveAll(s.snapshotDir); err != nil {
		return errs.Wrapf(errs.IO, err, "removing aborted snapshot directory %s", s.snapshotDir)
	}
	return nil
}

func (s *Session) abortLocked() {
	for wid, w := range s.writers {
		if w.dyn != nil {
			w.dyn.Abort()
		}
		if w.fix != nil {
			w.fix.Abort()
		}
		delete(s.writers, wid)
	}
	s.releaseLocksLocked()
}

func (s *Session) releaseLocksLocked() {
	if s.closed {
		return
	}
	s.closed = true
	if s.hasPrevious {
		globalSnapshotGuard.ReleaseShared(s.previousLockKey)
	}
}

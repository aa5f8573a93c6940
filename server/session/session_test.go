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
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolthub/nbsbackup/errs"
	"github.com/dolthub/nbsbackup/store/chunk"
	"github.com/dolthub/nbsbackup/store/chunkstore"
	"github.com/dolthub/nbsbackup/store/hash"
	"github.com/dolthub/nbsbackup/store/index"
)

func testEnv(t *testing.T) (Layout, *chunkstore.Store) {
	t.Helper()
	root := t.TempDir()
	store, err := chunkstore.Open(root)
	require.NoError(t, err)
	return Layout{Root: root}, store
}

func writeManifest(t *testing.T, dir, name string, files []string) {
	t.Helper()
	b, err := json.Marshal(Manifest{Files: files})
	require.NoError(t, err)
	// Finish decodes the manifest as a DataBlob, the form a "blob" upload takes.
	blob, err := chunk.Encode(chunk.NewChunk(b), nil, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), blob.Bytes(), 0o644))
}

func TestEmptyDynamicArchive(t *testing.T) {
	layout, store := testEnv(t)
	g := Group{Type: "vm", ID: "101"}

	s, err := Start(layout, g, "alice", 1000, 256, store)
	require.NoError(t, err)

	wid, err := s.CreateDynamicIndex("root.didx")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), wid)

	emptyCsum := hash.Hash(sha256.Sum256(nil))
	require.NoError(t, s.CloseDynamic(wid, 0, 0, emptyCsum))

	writeManifest(t, s.SnapshotDir(), "index.json", nil)
	require.NoError(t, s.Finish("index.json"))

	idx, err := index.OpenDynamicIndex(filepath.Join(s.SnapshotDir(), "root.didx"))
	require.NoError(t, err)
	assert.Empty(t, idx.Entries)
}

func TestKnownChunkElision(t *testing.T) {
	layout, store := testEnv(t)
	g := Group{Type: "vm", ID: "102"}

	s1, err := Start(layout, g, "alice", 1000, 256, store)
	require.NoError(t, err)

	d1, d2 := hash.Of([]byte("chunk one")), hash.Of([]byte("chunk two"))
	_, err = store.Insert(d1, []byte("blob one"))
	require.NoError(t, err)
	_, err = store.Insert(d2, []byte("blob two"))
	require.NoError(t, err)
	s1.RegisterChunk(d1, 8)
	s1.RegisterChunk(d2, 8)

	wid, err := s1.CreateDynamicIndex("root.didx")
	require.NoError(t, err)
	require.NoError(t, s1.DynamicAppend(wid, []index.DynamicEntry{{EndOffset: 100, Digest: d1}, {EndOffset: 200, Digest: d2}}))

	ctx := sha256.New()
	var le [8]byte
	writeLE := func(v uint64) { le = [8]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24), byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56)} }
	writeLE(100)
	ctx.Write(le[:])
	ctx.Write(d1[:])
	writeLE(200)
	ctx.Write(le[:])
	ctx.Write(d2[:])
	var csum hash.Hash
	copy(csum[:], ctx.Sum(nil))

	require.NoError(t, s1.CloseDynamic(wid, 2, 200, csum))
	writeManifest(t, s1.SnapshotDir(), "index.json", []string{"root.didx"})
	require.NoError(t, s1.Finish("index.json"))

	s2, err := Start(layout, g, "alice", 1001, 256, store)
	require.NoError(t, err)
	prevTime, ok := s2.PreviousBackupTime()
	require.True(t, ok)
	assert.Equal(t, int64(1000), prevTime)

	// downloading the previous index registers its digests as known, with
	// no POST dynamic_chunk required for either
	_, err = s2.ServePrevious("root.didx")
	require.NoError(t, err)
	assert.True(t, s2.IsKnown(d1))
	assert.True(t, s2.IsKnown(d2))

	wid2, err := s2.CreateDynamicIndex("root.didx")
	require.NoError(t, err)
	require.NoError(t, s2.DynamicAppend(wid2, []index.DynamicEntry{{EndOffset: 100, Digest: d1}, {EndOffset: 200, Digest: d2}}))
	require.NoError(t, s2.CloseDynamic(wid2, 2, 200, csum))
	writeManifest(t, s2.SnapshotDir(), "index.json", []string{"root.didx"})
	require.NoError(t, s2.Finish("index.json"))

	idx2, err := index.OpenDynamicIndex(filepath.Join(s2.SnapshotDir(), "root.didx"))
	require.NoError(t, err)
	idx1, err := index.OpenDynamicIndex(filepath.Join(s1.SnapshotDir(), "root.didx"))
	require.NoError(t, err)
	assert.Equal(t, idx1.Entries, idx2.Entries)
}

func TestMonotonicTimeRejection(t *testing.T) {
	layout, store := testEnv(t)
	g := Group{Type: "vm", ID: "103"}

	s1, err := Start(layout, g, "alice", 1000, 256, store)
	require.NoError(t, err)
	writeManifest(t, s1.SnapshotDir(), "index.json", nil)
	require.NoError(t, s1.Finish("index.json"))

	_, err = Start(layout, g, "alice", 1000, 256, store)
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))

	_, err = Start(layout, g, "alice", 500, 256, store)
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestOutOfOrderAppendRejection(t *testing.T) {
	layout, store := testEnv(t)
	g := Group{Type: "vm", ID: "104"}
	s, err := Start(layout, g, "alice", 1000, 256, store)
	require.NoError(t, err)

	d1, d2 := hash.Of([]byte("a")), hash.Of([]byte("b"))
	s.RegisterChunk(d1, 10)
	s.RegisterChunk(d2, 10)

	wid, err := s.CreateDynamicIndex("root.didx")
	require.NoError(t, err)
	require.NoError(t, s.DynamicAppend(wid, []index.DynamicEntry{{EndOffset: 1000, Digest: d1}}))

	err = s.DynamicAppend(wid, []index.DynamicEntry{{EndOffset: 3000, Digest: d2}, {EndOffset: 1000, Digest: d1}})
	require.Error(t, err)
	assert.Equal(t, errs.ConsistencyFailure, errs.KindOf(err))

	// writer is still usable for a correctly ordered append afterwards
	require.NoError(t, s.DynamicAppend(wid, []index.DynamicEntry{{EndOffset: 2000, Digest: d2}}))
}

func TestInterruptedSessionCleanup(t *testing.T) {
	layout, store := testEnv(t)
	g := Group{Type: "vm", ID: "105"}
	s, err := Start(layout, g, "alice", 1000, 256, store)
	require.NoError(t, err)

	d := hash.Of([]byte("orphan"))
	_, err = store.Insert(d, []byte("orphan blob"))
	require.NoError(t, err)
	s.RegisterChunk(d, 11)

	wid, err := s.CreateDynamicIndex("root.didx")
	require.NoError(t, err)
	require.NoError(t, s.DynamicAppend(wid, []index.DynamicEntry{{EndOffset: 100, Digest: d}}))

	snapshotDir := s.SnapshotDir()
	require.NoError(t, s.RemoveBackup())

	_, err = os.Stat(snapshotDir)
	assert.True(t, os.IsNotExist(err))

	present, err := store.Contains(d)
	require.NoError(t, err)
	assert.True(t, present, "uploaded chunks remain in the store as orphans for GC")
}

func TestCloseConsistencyFailureLeavesIndexUnsealed(t *testing.T) {
	layout, store := testEnv(t)
	g := Group{Type: "vm", ID: "106"}
	s, err := Start(layout, g, "alice", 1000, 256, store)
	require.NoError(t, err)

	d := hash.Of([]byte("a"))
	s.RegisterChunk(d, 10)
	wid, err := s.CreateDynamicIndex("root.didx")
	require.NoError(t, err)
	require.NoError(t, s.DynamicAppend(wid, []index.DynamicEntry{{EndOffset: 100, Digest: d}}))

	err = s.CloseDynamic(wid, 2, 100, hash.Of(nil))
	require.Error(t, err)
	assert.Equal(t, errs.ConsistencyFailure, errs.KindOf(err))

	_, err = index.OpenDynamicIndex(filepath.Join(s.SnapshotDir(), "root.didx"))
	require.Error(t, err, "index file must not be sealed after a consistency failure at close")
}

func TestAtMostOneWriterPerGroup(t *testing.T) {
	orig := groupLockTimeout
	groupLockTimeout = 50 * time.Millisecond
	defer func() { groupLockTimeout = orig }()

	layout, store := testEnv(t)
	g := Group{Type: "vm", ID: "107"}

	// Hold the group's exclusive flock directly, simulating a concurrent
	// session-start attempt that is mid critical-section; Start must not
	// proceed while it's held, and gives up with Conflict once its own
	// (short, test-configured) timeout elapses.
	held, err := AcquireGroupLock(layout.GroupLockPath(g))
	require.NoError(t, err)

	_, err = Start(layout, g, "alice", 1000, 256, store)
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))

	require.NoError(t, held.Release())

	// once free, a session-start attempt succeeds and serializes normally
	s1, err := Start(layout, g, "alice", 1000, 256, store)
	require.NoError(t, err)
	writeManifest(t, s1.SnapshotDir(), "index.json", nil)
	require.NoError(t, s1.Finish("index.json"))

	s2, err := Start(layout, g, "alice", 1001, 256, store)
	require.NoError(t, err)
	writeManifest(t, s2.SnapshotDir(), "index.json", nil)
	require.NoError(t, s2.Finish("index.json"))
}

func TestOwnershipEnforced(t *testing.T) {
	layout, store := testEnv(t)
	g := Group{Type: "vm", ID: "108"}

	s1, err := Start(layout, g, "alice", 1000, 256, store)
	require.NoError(t, err)
	writeManifest(t, s1.SnapshotDir(), "index.json", nil)
	require.NoError(t, s1.Finish("index.json"))

	_, err = Start(layout, g, "mallory", 1001, 256, store)
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestFinishRequiresManifestFilesPresent(t *testing.T) {
	layout, store := testEnv(t)
	g := Group{Type: "vm", ID: "109"}
	s, err := Start(layout, g, "alice", 1000, 256, store)
	require.NoError(t, err)

	writeManifest(t, s.SnapshotDir(), "index.json", []string{"missing.didx"})
	err = s.Finish("index.json")
	require.Error(t, err)
	assert.Equal(t, errs.ConsistencyFailure, errs.KindOf(err))
}

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

package index

import (
	"crypto/sha256"
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolthub/nbsbackup/errs"
	digest "github.com/dolthub/nbsbackup/store/hash"
)

func expectedDynamicDigest(entries []DynamicEntry) digest.Hash {
	ctx := sha256.New()
	for _, e := range entries {
		var le [8]byte
		binary.LittleEndian.PutUint64(le[:], e.EndOffset)
		ctx.Write(le[:])
		ctx.Write(e.Digest[:])
	}
	var d digest.Hash
	copy(d[:], ctx.Sum(nil))
	return d
}

func TestDynamicIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "root.didx")
	w, err := CreateDynamicIndex(path, time.Unix(1700000000, 0))
	require.NoError(t, err)

	entries := []DynamicEntry{
		{EndOffset: 1000, Digest: digest.Of([]byte("a"))},
		{EndOffset: 3000, Digest: digest.Of([]byte("b"))},
		{EndOffset: 3500, Digest: digest.Of([]byte("c"))},
	}
	require.NoError(t, w.Append(entries[:2]))
	require.NoError(t, w.Append(entries[2:]))

	want := expectedDynamicDigest(entries)
	require.NoError(t, w.Close(3, 3500, want))

	got, err := OpenDynamicIndex(path)
	require.NoError(t, err)
	assert.Equal(t, entries, got.Entries)
	assert.Equal(t, want, got.IndexDigest)
	assert.Equal(t, int64(1700000000), got.CTime)
}

func TestDynamicIndexEmptyArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.didx")
	w, err := CreateDynamicIndex(path, time.Now())
	require.NoError(t, err)

	require.NoError(t, w.Close(0, 0, expectedDynamicDigest(nil)))

	got, err := OpenDynamicIndex(path)
	require.NoError(t, err)
	assert.Empty(t, got.Entries)
}

func TestDynamicIndexRejectsNonMonotonicOffsets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.didx")
	w, err := CreateDynamicIndex(path, time.Now())
	require.NoError(t, err)

	require.NoError(t, w.Append([]DynamicEntry{{EndOffset: 1000, Digest: digest.Of([]byte("a"))}}))

	err = w.Append([]DynamicEntry{{EndOffset: 1000, Digest: digest.Of([]byte("b"))}})
	require.Error(t, err)
	assert.Equal(t, errs.ConsistencyFailure, errs.KindOf(err))

	// writer is still usable for a correctly ordered append afterwards
	require.NoError(t, w.Append([]DynamicEntry{{EndOffset: 2000, Digest: digest.Of([]byte("b"))}}))
	assert.Equal(t, uint64(2), w.Count())
}

func TestDynamicIndexCloseConsistencyFailureLeavesWriterOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mismatch.didx")
	w, err := CreateDynamicIndex(path, time.Now())
	require.NoError(t, err)
	require.NoError(t, w.Append([]DynamicEntry{{EndOffset: 1000, Digest: digest.Of([]byte("a"))}}))

	err = w.Close(2, 1000, expectedDynamicDigest(nil))
	require.Error(t, err)
	assert.Equal(t, errs.ConsistencyFailure, errs.KindOf(err))

	require.NoError(t, w.Abort())
}

func TestDynamicIndexCorruptedDigestRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.didx")
	w, err := CreateDynamicIndex(path, time.Now())
	require.NoError(t, err)
	entries := []DynamicEntry{{EndOffset: 500, Digest: digest.Of([]byte("z"))}}
	require.NoError(t, w.Append(entries))
	require.NoError(t, w.Close(1, 500, expectedDynamicDigest(entries)))

	// flip a byte in the entry table, invalidating the stored digest
	raw, err := readAll(path)
	require.NoError(t, err)
	raw[HeaderSize] ^= 0xff
	require.NoError(t, writeAll(path, raw))

	_, err = OpenDynamicIndex(path)
	require.Error(t, err)
	assert.Equal(t, errs.Corruption, errs.KindOf(err))
}

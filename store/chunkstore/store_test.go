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

package chunkstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolthub/nbsbackup/errs"
	"github.com/dolthub/nbsbackup/store/hash"
)

func TestInsertGetContains(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	data := []byte("hello store")
	d := hash.Of(data)

	ok, err := s.Contains(d)
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := s.Insert(d, data)
	require.NoError(t, err)
	assert.Equal(t, Inserted, res)

	ok, err = s.Contains(d)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(d)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = s.Get(hash.Of([]byte("missing")))
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestInsertIdempotent(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	data := []byte("same bytes")
	d := hash.Of(data)

	res1, err := s.Insert(d, data)
	require.NoError(t, err)
	res2, err := s.Insert(d, data)
	require.NoError(t, err)

	assert.Equal(t, Inserted, res1)
	assert.Equal(t, AlreadyPresent, res2)

	shard := d.String()[:4]
	entries, err := os.ReadDir(filepath.Join(s.chunksDir, shard))
	require.NoError(t, err)
	var regular int
	for _, e := range entries {
		if !e.IsDir() {
			regular++
		}
	}
	assert.Equal(t, 1, regular, "exactly one file must exist on disk for the digest")
}

func TestInsertIdempotentTouchesMTime(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	data := []byte("touch me")
	d := hash.Of(data)
	_, err = s.Insert(d, data)
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(s.pathFor(d), old, old))

	_, err = s.Insert(d, data)
	require.NoError(t, err)

	fi, err := os.Stat(s.pathFor(d))
	require.NoError(t, err)
	assert.True(t, fi.ModTime().After(old))
}

func TestConcurrentInsertsLeaveOneFile(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	data := []byte("racing writers")
	d := hash.Of(data)

	var wg sync.WaitGroup
	errCh := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Insert(d, data); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent insert failed: %v", err)
	}

	got, err := s.Get(d)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestIterAndSweep(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	var digests []hash.Hash
	for i := 0; i < 5; i++ {
		data := []byte{byte(i), byte(i), byte(i)}
		d := hash.Of(data)
		_, err := s.Insert(d, data)
		require.NoError(t, err)
		digests = append(digests, d)
	}

	var seen []hash.Hash
	require.NoError(t, s.Iter(context.Background(), func(e Entry) error {
		seen = append(seen, e.Digest)
		return nil
	}))
	assert.Len(t, seen, 5)

	// age everything, then keep one digest alive via the keep predicate
	old := time.Now().Add(-time.Hour)
	for _, d := range digests {
		require.NoError(t, os.Chtimes(s.pathFor(d), old, old))
	}
	kept := digests[0]
	removed, err := s.Sweep(context.Background(), time.Now(), func(h hash.Hash) bool {
		return h == kept
	})
	require.NoError(t, err)
	assert.Equal(t, 4, removed)

	ok, err := s.Contains(kept)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Contains(digests[1])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecoverTempRemovesLeftoverTmpFiles(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)

	d := hash.Of([]byte("x"))
	require.NoError(t, os.MkdirAll(s.shardDir(d), 0o755))
	leftover := filepath.Join(s.shardDir(d), ".tmp.1234.1")
	require.NoError(t, os.WriteFile(leftover, []byte("partial"), 0o644))

	removed, err := s.RecoverTemp()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, statErr := os.Stat(leftover)
	assert.True(t, os.IsNotExist(statErr))
}

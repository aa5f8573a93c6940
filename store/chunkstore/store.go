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

// Package chunkstore implements the content-addressed blob repository
// (C3): a sharded directory tree under <store>/.chunks/, idempotent atomic
// inserts, and the enumeration/mtime hooks an external GC collaborator
// needs.
package chunkstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dolthub/nbsbackup/errs"
	"github.com/dolthub/nbsbackup/store/hash"
)

// InsertResult reports whether Insert wrote a new file or found the digest
// already present.
type InsertResult int

const (
	Inserted InsertResult = iota
	AlreadyPresent
)

// Store is a content-addressed blob repository rooted at <root>/.chunks/.
type Store struct {
	chunksDir string
	tmpSeq    int64
}

// Open returns a Store rooted at root. The 65536 two-byte-prefix shard
// subdirectories are created lazily, on first insert into each shard,
// rather than all at once: creating all of them eagerly would mean a
// single-chunk store pays a 65536-directory setup cost it never uses.
func Open(root string) (*Store, error) {
	chunksDir := filepath.Join(root, ".chunks")
	if err := os.MkdirAll(chunksDir, 0o755); err != nil {
		return nil, errs.Wrapf(errs.IO, err, "creating %s", chunksDir)
	}
	return &Store{chunksDir: chunksDir}, nil
}

func (s *Store) pathFor(d hash.Hash) string {
	hex := d.String()
	return filepath.Join(s.chunksDir, hex[:4], hex)
}

func (s *Store) shardDir(d hash.Hash) string {
	return filepath.Join(s.chunksDir, d.String()[:4])
}

// Insert writes blob under digest d. It is idempotent: if d already
// exists, the new bytes are discarded and the existing file's mtime is
// touched (used by GC to distinguish recently-referenced chunks from
// orphans), and AlreadyPresent is returned. Concurrent inserts of the same
// digest may both run; the atomic rename onto the final path is the
// linearization point, so both calls succeed and exactly one file results.
func (s *Store) Insert(d hash.Hash, blob []byte) (InsertResult, error) {
	final := s.pathFor(d)
	if fi, err := os.Stat(final); err == nil && fi.Mode().IsRegular() {
		now := time.Now()
		_ = os.Chtimes(final, now, now)
		return AlreadyPresent, nil
	}

	if err := os.MkdirAll(s.shardDir(d), 0o755); err != nil {
		return 0, errs.Wrapf(errs.IO, err, "creating shard directory for %s", d)
	}

	seq := atomic.AddInt64(&s.tmpSeq, 1)
	tmp := filepath.Join(s.shardDir(d), fmt.Sprintf(".tmp.%d.%d", os.Getpid(), seq))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, errs.Wrapf(errs.IO, err, "creating temp file for %s", d)
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, errs.Wrapf(errs.IO, err, "writing temp file for %s", d)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, errs.Wrapf(errs.IO, err, "fsync temp file for %s", d)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, errs.Wrapf(errs.IO, err, "closing temp file for %s", d)
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		// Another writer may have won the race between our Stat and our
		// Rename; that is success too, per the idempotence contract.
		if fi, statErr := os.Stat(final); statErr == nil && fi.Mode().IsRegular() {
			return AlreadyPresent, nil
		}
		return 0, errs.Wrapf(errs.IO, err, "renaming temp file into place for %s", d)
	}
	return Inserted, nil
}

// Get reads the blob stored under digest d, failing with a NotFound-kind
// error if absent.
func (s *Store) Get(d hash.Hash) ([]byte, error) {
	b, err := os.ReadFile(s.pathFor(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrapf(errs.NotFound, err, "chunk %s not found", d)
		}
		return nil, errs.Wrapf(errs.IO, err, "reading chunk %s", d)
	}
	return b, nil
}

// Contains reports whether d is present, without reading its contents.
func (s *Store) Contains(d hash.Hash) (bool, error) {
	fi, err := os.Stat(s.pathFor(d))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.Wrapf(errs.IO, err, "stat chunk %s", d)
	}
	return fi.Mode().IsRegular(), nil
}

// Entry is one chunk yielded by Iter.
type Entry struct {
	Digest hash.Hash
	MTime  time.Time
	Size   int64
}

// Iter calls fn for every chunk in the store, in shard order. It stops and
// returns fn's error if fn returns non-nil, or ctx's error if ctx is
// cancelled mid-walk. Used by an external GC collaborator.
func (s *Store) Iter(ctx context.Context, fn func(Entry) error) error {
	entries, err := os.ReadDir(s.chunksDir)
	if err != nil {
		return errs.Wrapf(errs.IO, err, "reading %s", s.chunksDir)
	}
	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		shardPath := filepath.Join(s.chunksDir, shard.Name())
		files, err := os.ReadDir(shardPath)
		if err != nil {
			return errs.Wrapf(errs.IO, err, "reading shard %s", shardPath)
		}
		for _, f := range files {
			name := f.Name()
			if strings.HasPrefix(name, ".tmp.") || !isHexDigest(name) {
				continue
			}
			d, ok := hash.MaybeParse(name)
			if !ok {
				continue
			}
			info, err := f.Info()
			if err != nil {
				return errs.Wrapf(errs.IO, err, "stat %s", name)
			}
			if err := fn(Entry{Digest: d, MTime: info.ModTime(), Size: info.Size()}); err != nil {
				return err
			}
		}
	}
	return nil
}

func isHexDigest(name string) bool {
	if len(name) != hash.StringLen {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}

// Sweep removes every chunk whose mtime is strictly before cutoff and whose
// digest is not in keep. It is a convenience for an external GC
// collaborator; the store itself tracks no references and this method
// performs no liveness analysis beyond what keep expresses.
func (s *Store) Sweep(ctx context.Context, cutoff time.Time, keep func(hash.Hash) bool) (removed int, err error) {
	err = s.Iter(ctx, func(e Entry) error {
		if e.MTime.Before(cutoff) && (keep == nil || !keep(e.Digest)) {
			if rmErr := os.Remove(s.pathFor(e.Digest)); rmErr != nil && !os.IsNotExist(rmErr) {
				return errs.Wrapf(errs.IO, rmErr, "removing orphan chunk %s", e.Digest)
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// RecoverTemp removes any leftover *.tmp.* files from a previous process
// that crashed mid-insert. It should be called once at server startup for
// every configured datastore.
func (s *Store) RecoverTemp() (removed int, err error) {
	shards, err := os.ReadDir(s.chunksDir)
	if err != nil {
		return 0, errs.Wrapf(errs.IO, err, "reading %s", s.chunksDir)
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardPath := filepath.Join(s.chunksDir, shard.Name())
		files, err := os.ReadDir(shardPath)
		if err != nil {
			return removed, errs.Wrapf(errs.IO, err, "reading shard %s", shardPath)
		}
		for _, f := range files {
			if strings.HasPrefix(f.Name(), ".tmp.") {
				if rmErr := os.Remove(filepath.Join(shardPath, f.Name())); rmErr != nil && !os.IsNotExist(rmErr) {
					return removed, errs.Wrapf(errs.IO, rmErr, "removing leftover temp file %s", f.Name())
				}
				removed++
			}
		}
	}
	return removed, nil
}

// CopyFrom streams src into a new chunk addressed by digest d, used by
// callers (e.g. session writers) that already have an io.Reader rather
// than an in-memory []byte. It is not part of the core store contract but
// is a thin convenience wrapper kept here to avoid duplicating temp-file
// plumbing elsewhere.
func (s *Store) CopyFrom(d hash.Hash, src io.Reader) (InsertResult, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return 0, errs.Wrapf(errs.IO, err, "reading blob stream for %s", d)
	}
	return s.Insert(d, data)
}

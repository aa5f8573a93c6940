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
	stdhash "hash"
	"os"
	"time"

	"github.com/google/uuid"

	nbsbackuperrs "github.com/dolthub/nbsbackup/errs"
	digest "github.com/dolthub/nbsbackup/store/hash"
)

// fixedFieldsSize is the size, within the common header, of the two
// fixed-index-only fields (size, chunk_size) that follow the common
// header fields.
const fixedFieldsSize = 8 + 8

// FixedWriter appends digest-only rows to a .fidx file. Positions are
// implicit: row i covers [i*chunkSize, min((i+1)*chunkSize, size)).
type FixedWriter struct {
	f          *os.File
	uuid       uuid.UUID
	ctime      int64
	chunkSize  uint64
	size       uint64 // declared total plaintext size, fixed at creation
	rollingCtx stdhash.Hash
	count      uint64
	closed     bool
}

// CreateFixedIndex creates a new .fidx file declaring the archive's total
// plaintext size and per-chunk size up front (both are known before the
// first byte of a fixed/block-device archive is read).
func CreateFixedIndex(path string, ctime time.Time, size, chunkSize uint64) (*FixedWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, nbsbackuperrs.Wrapf(nbsbackuperrs.IO, err, "creating fixed index %s", path)
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		f.Close()
		return nil, nbsbackuperrs.Wrapf(nbsbackuperrs.IO, err, "writing placeholder header for %s", path)
	}
	return &FixedWriter{
		f:          f,
		uuid:       uuid.New(),
		ctime:      ctime.Unix(),
		chunkSize:  chunkSize,
		size:       size,
		rollingCtx: sha256.New(),
	}, nil
}

// UUID returns the index instance's identifier.
func (w *FixedWriter) UUID() uuid.UUID { return w.uuid }

// Count returns the number of entries appended so far.
func (w *FixedWriter) Count() uint64 { return w.count }

// ExpectedCount returns ceil(size/chunkSize), the number of positions this
// index must eventually hold.
func (w *FixedWriter) ExpectedCount() uint64 {
	if w.chunkSize == 0 {
		return 0
	}
	return (w.size + w.chunkSize - 1) / w.chunkSize
}

// FixedEntry is one position's digest, appended at the implicit position
// equal to the writer's entry count at the time of the call.
type FixedEntry struct {
	Position uint64
	Digest   digest.Hash
}

// Append writes entries in strictly increasing position order starting at
// the writer's current entry count — positions are implicit, so a batch
// that skips or repeats a position is rejected.
func (w *FixedWriter) Append(entries []FixedEntry) error {
	if w.closed {
		return nbsbackuperrs.New(nbsbackuperrs.Argument, "append after close")
	}
	for i, e := range entries {
		if want := w.count + uint64(i); e.Position != want {
			return nbsbackuperrs.Newf(nbsbackuperrs.ConsistencyFailure,
				"fixed index position %d does not match expected position %d", e.Position, want)
		}
	}
	buf := make([]byte, FixedEntrySize*len(entries))
	for i, e := range entries {
		copy(buf[i*FixedEntrySize:(i+1)*FixedEntrySize], e.Digest[:])
		w.rollingCtx.Write(e.Digest[:])
		w.count++
	}
	if _, err := w.f.Write(buf); err != nil {
		return nbsbackuperrs.Wrap(nbsbackuperrs.IO, err)
	}
	return nil
}

// Close validates the caller's declared accumulators, writes the final
// index_digest (and size/chunk_size fields), and fsyncs.
func (w *FixedWriter) Close(wantCount, wantSize uint64, wantChecksum digest.Hash) error {
	if w.closed {
		return nbsbackuperrs.New(nbsbackuperrs.Argument, "double close")
	}
	actual := sumToHash(w.rollingCtx)
	if wantCount != w.count {
		return nbsbackuperrs.Newf(nbsbackuperrs.ConsistencyFailure, "chunk-count mismatch: want %d, have %d", wantCount, w.count)
	}
	if wantSize != w.size {
		return nbsbackuperrs.Newf(nbsbackuperrs.ConsistencyFailure, "size mismatch: want %d, declared %d", wantSize, w.size)
	}
	if wantChecksum != actual {
		return nbsbackuperrs.New(nbsbackuperrs.ConsistencyFailure, "csum mismatch against server-accumulated index digest")
	}

	hdr := header{magic: fixedMagic, uuid: w.uuid, ctime: w.ctime, indexDigest: actual}
	headerBuf := make([]byte, commonHeaderSize+fixedFieldsSize)
	hdr.encodeInto(headerBuf)
	binary.LittleEndian.PutUint64(headerBuf[commonHeaderSize:commonHeaderSize+8], w.size)
	binary.LittleEndian.PutUint64(headerBuf[commonHeaderSize+8:commonHeaderSize+16], w.chunkSize)
	if _, err := w.f.WriteAt(headerBuf, 0); err != nil {
		return nbsbackuperrs.Wrap(nbsbackuperrs.IO, err)
	}
	if err := w.f.Sync(); err != nil {
		return nbsbackuperrs.Wrap(nbsbackuperrs.IO, err)
	}
	w.closed = true
	return w.f.Close()
}

// Abort discards the writer's file handle without sealing it.
func (w *FixedWriter) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.Close()
}

// FixedIndex is a parsed, closed .fidx file.
type FixedIndex struct {
	UUID        uuid.UUID
	CTime       int64
	IndexDigest digest.Hash
	Size        uint64
	ChunkSize   uint64
	Entries     []digest.Hash
}

// OpenFixedIndex reads and fully validates a closed .fidx file.
func OpenFixedIndex(path string) (*FixedIndex, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nbsbackuperrs.Wrapf(nbsbackuperrs.NotFound, err, "fixed index %s", path)
		}
		return nil, nbsbackuperrs.Wrap(nbsbackuperrs.IO, err)
	}
	if len(b) < HeaderSize {
		return nil, nbsbackuperrs.New(nbsbackuperrs.Corruption, "fixed index shorter than header")
	}
	hdr, err := decodeHeader(b[:HeaderSize], fixedMagic)
	if err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint64(b[commonHeaderSize : commonHeaderSize+8])
	chunkSize := binary.LittleEndian.Uint64(b[commonHeaderSize+8 : commonHeaderSize+16])

	body := b[HeaderSize:]
	if len(body)%FixedEntrySize != 0 {
		return nil, nbsbackuperrs.New(nbsbackuperrs.Corruption, "fixed index entry table is not a multiple of entry size")
	}
	n := len(body) / FixedEntrySize
	entries := make([]digest.Hash, n)
	ctx := sha256.New()
	for i := 0; i < n; i++ {
		d, err := digest.FromBytes(body[i*FixedEntrySize : (i+1)*FixedEntrySize])
		if err != nil {
			return nil, nbsbackuperrs.Wrap(nbsbackuperrs.Corruption, err)
		}
		entries[i] = d
		ctx.Write(d[:])
	}
	if sumToHash(ctx) != hdr.indexDigest {
		return nil, nbsbackuperrs.New(nbsbackuperrs.Corruption, "fixed index digest mismatch")
	}
	expectedCount := uint64(0)
	if chunkSize > 0 {
		expectedCount = (size + chunkSize - 1) / chunkSize
	}
	if uint64(n) != expectedCount {
		return nil, nbsbackuperrs.Newf(nbsbackuperrs.Corruption, "fixed index has %d entries, size/chunk_size implies %d", n, expectedCount)
	}

	return &FixedIndex{
		UUID: hdr.uuid, CTime: hdr.ctime, IndexDigest: hdr.indexDigest,
		Size: size, ChunkSize: chunkSize, Entries: entries,
	}, nil
}

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
	"hash"
	"os"
	"time"

	"github.com/google/uuid"

	nbsbackuperrs "github.com/dolthub/nbsbackup/errs"
	digest "github.com/dolthub/nbsbackup/store/hash"
)

// DynamicEntry is one (end_offset, digest) row of a dynamic index: the
// chunk's byte range is [prev end_offset, end_offset).
type DynamicEntry struct {
	EndOffset uint64
	Digest    digest.Hash
}

// DynamicWriter appends rows to a .didx file, maintaining the rolling
// index digest incrementally so Close never needs to re-read the file.
type DynamicWriter struct {
	f          *os.File
	uuid       uuid.UUID
	ctime      int64
	rollingCtx hash.Hash
	count      uint64
	lastOffset uint64
	closed     bool
}

// CreateDynamicIndex creates a new .didx file at path. ctime is recorded as
// the session-start time (see DESIGN.md for the open-question decision).
func CreateDynamicIndex(path string, ctime time.Time) (*DynamicWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, nbsbackuperrs.Wrapf(nbsbackuperrs.IO, err, "creating dynamic index %s", path)
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		f.Close()
		return nil, nbsbackuperrs.Wrapf(nbsbackuperrs.IO, err, "writing placeholder header for %s", path)
	}
	return &DynamicWriter{
		f:          f,
		uuid:       uuid.New(),
		ctime:      ctime.Unix(),
		rollingCtx: sha256.New(),
	}, nil
}

// UUID returns the index instance's identifier.
func (w *DynamicWriter) UUID() uuid.UUID { return w.uuid }

// Count returns the number of entries appended so far.
func (w *DynamicWriter) Count() uint64 { return w.count }

// TotalSize returns the end_offset of the last appended entry, i.e. the
// total plaintext size covered so far.
func (w *DynamicWriter) TotalSize() uint64 { return w.lastOffset }

// Append writes entries in order, each of whose EndOffset must be strictly
// greater than the previous one (across this whole writer, not just within
// one call) — the per-writer ordering invariant of §4.5/§5 that the
// caller's append batches must already satisfy.
func (w *DynamicWriter) Append(entries []DynamicEntry) error {
	if w.closed {
		return nbsbackuperrs.New(nbsbackuperrs.Argument, "append after close")
	}
	prev := w.lastOffset
	for _, e := range entries {
		if e.EndOffset <= prev {
			return nbsbackuperrs.Newf(nbsbackuperrs.ConsistencyFailure,
				"dynamic index entry end_offset %d is not strictly greater than previous %d", e.EndOffset, prev)
		}
		prev = e.EndOffset
	}
	buf := make([]byte, DynamicEntrySize*len(entries))
	for i, e := range entries {
		off := i * DynamicEntrySize
		binary.LittleEndian.PutUint64(buf[off:off+8], e.EndOffset)
		copy(buf[off+8:off+DynamicEntrySize], e.Digest[:])

		var le [8]byte
		binary.LittleEndian.PutUint64(le[:], e.EndOffset)
		w.rollingCtx.Write(le[:])
		w.rollingCtx.Write(e.Digest[:])

		w.lastOffset = e.EndOffset
		w.count++
	}
	if _, err := w.f.Write(buf); err != nil {
		return nbsbackuperrs.Wrap(nbsbackuperrs.IO, err)
	}
	return nil
}

// Close validates the caller's declared accumulators against this writer's
// own, writes the final index_digest into the header, and fsyncs. On any
// mismatch it returns a ConsistencyFailure-kind error and leaves the file
// unsealed (no index_digest written) and the writer still open; the caller
// aborts the whole session in that case, per §4.5.
func (w *DynamicWriter) Close(wantCount, wantSize uint64, wantChecksum digest.Hash) error {
	if w.closed {
		return nbsbackuperrs.New(nbsbackuperrs.Argument, "double close")
	}
	actual := sumToHash(w.rollingCtx)
	if wantCount != w.count {
		return nbsbackuperrs.Newf(nbsbackuperrs.ConsistencyFailure, "chunk-count mismatch: want %d, have %d", wantCount, w.count)
	}
	if wantSize != w.lastOffset {
		return nbsbackuperrs.Newf(nbsbackuperrs.ConsistencyFailure, "size mismatch: want %d, have %d", wantSize, w.lastOffset)
	}
	if wantChecksum != actual {
		return nbsbackuperrs.New(nbsbackuperrs.ConsistencyFailure, "csum mismatch against server-accumulated index digest")
	}

	hdr := header{magic: dynamicMagic, uuid: w.uuid, ctime: w.ctime, indexDigest: actual}
	headerBuf := make([]byte, commonHeaderSize)
	hdr.encodeInto(headerBuf)
	if _, err := w.f.WriteAt(headerBuf, 0); err != nil {
		return nbsbackuperrs.Wrap(nbsbackuperrs.IO, err)
	}
	if err := w.f.Sync(); err != nil {
		return nbsbackuperrs.Wrap(nbsbackuperrs.IO, err)
	}
	w.closed = true
	return w.f.Close()
}

// Abort discards the writer's file handle without sealing it. Used when a
// session aborts and the whole snapshot directory is about to be removed.
func (w *DynamicWriter) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.Close()
}

func sumToHash(h hash.Hash) digest.Hash {
	sum := h.Sum(nil)
	var d digest.Hash
	copy(d[:], sum)
	return d
}

// DynamicIndex is a parsed, closed .didx file.
type DynamicIndex struct {
	UUID        uuid.UUID
	CTime       int64
	IndexDigest digest.Hash
	Entries     []DynamicEntry
}

// OpenDynamicIndex reads and fully validates a closed .didx file: the
// header magic, and that the recomputed index digest over the entry table
// matches the stored one.
func OpenDynamicIndex(path string) (*DynamicIndex, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nbsbackuperrs.Wrapf(nbsbackuperrs.NotFound, err, "dynamic index %s", path)
		}
		return nil, nbsbackuperrs.Wrap(nbsbackuperrs.IO, err)
	}
	return DecodeDynamicBytes(b)
}

// DecodeDynamicBytes is OpenDynamicIndex's validation logic applied to an
// already-in-memory .didx body, for callers (the client, which downloads a
// previous index over the wire rather than reading it off disk) that never
// have the bytes on local disk to begin with.
func DecodeDynamicBytes(b []byte) (*DynamicIndex, error) {
	if len(b) < HeaderSize {
		return nil, nbsbackuperrs.New(nbsbackuperrs.Corruption, "dynamic index shorter than header")
	}
	hdr, err := decodeHeader(b[:HeaderSize], dynamicMagic)
	if err != nil {
		return nil, err
	}

	body := b[HeaderSize:]
	if len(body)%DynamicEntrySize != 0 {
		return nil, nbsbackuperrs.New(nbsbackuperrs.Corruption, "dynamic index entry table is not a multiple of entry size")
	}
	n := len(body) / DynamicEntrySize
	entries := make([]DynamicEntry, n)
	ctx := sha256.New()
	var prev uint64
	for i := 0; i < n; i++ {
		off := i * DynamicEntrySize
		end := binary.LittleEndian.Uint64(body[off : off+8])
		d, err := digest.FromBytes(body[off+8 : off+DynamicEntrySize])
		if err != nil {
			return nil, nbsbackuperrs.Wrap(nbsbackuperrs.Corruption, err)
		}
		if i > 0 && end <= prev {
			return nil, nbsbackuperrs.New(nbsbackuperrs.Corruption, "dynamic index end_offset not strictly increasing")
		}
		prev = end
		entries[i] = DynamicEntry{EndOffset: end, Digest: d}

		var le [8]byte
		binary.LittleEndian.PutUint64(le[:], end)
		ctx.Write(le[:])
		ctx.Write(d[:])
	}
	if sumToHash(ctx) != hdr.indexDigest {
		return nil, nbsbackuperrs.New(nbsbackuperrs.Corruption, "dynamic index digest mismatch")
	}

	return &DynamicIndex{UUID: hdr.uuid, CTime: hdr.ctime, IndexDigest: hdr.indexDigest, Entries: entries}, nil
}

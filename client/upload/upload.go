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

// Package upload implements the client uploader pipeline (C7): chunk a
// source, elide chunks the server already has, upload the rest, and
// append both kinds to the remote index in source order.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dolthub/nbsbackup/client"
	"github.com/dolthub/nbsbackup/errs"
	"github.com/dolthub/nbsbackup/store/chunk"
	"github.com/dolthub/nbsbackup/store/hash"
)

// Options configures one archive's upload.
type Options struct {
	ArchiveName string
	TargetSize  int // average chunk size passed to chunk.NewChunker
	Concurrency int // bounded parallel chunk uploads; <=0 means 4
	Compress    bool
	Key         *chunk.Key // nil for unencrypted uploads
}

// Known reports whether digest d is already present on the server for
// this session, typically backed by session-local bookkeeping the caller
// built from a downloaded previous index (§4.7's known_chunks set).
type Known interface {
	IsKnown(d hash.Hash) bool
}

// adder is implemented by Known values (DigestSet among them) that can
// record a newly uploaded digest so a repeat occurrence later in the same
// archive is elided instead of uploaded twice.
type adder interface {
	Add(d hash.Hash)
}

func markKnown(known Known, d hash.Hash) {
	if a, ok := known.(adder); ok {
		a.Add(d)
	}
}

// pendingEntry is one (end-offset, digest) pair queued for append, in the
// order chunking produced it; uploaded is non-nil only for chunks this
// upload is the first to see, which must finish uploading before the
// entry is safe to append.
type pendingEntry struct {
	endOffset uint64
	digest    hash.Hash
	uploaded  chan error // nil for already-known chunks
}

// UploadDynamic reads r to EOF, chunking it with BuzHash, eliding chunks
// known already has, uploading the rest, and appending every chunk (known
// or new) to a dynamic index in source order. It returns the archive's
// total chunk count, byte size, and rolling checksum for the close RPC.
func UploadDynamic(ctx context.Context, conn *client.Conn, r io.Reader, known Known, opts Options) (chunkCount, size uint64, csum hash.Hash, err error) {
	target := opts.TargetSize
	if target == 0 {
		target = 1 << 20
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	wid, err := conn.CreateDynamicIndex(ctx, opts.ArchiveName)
	if err != nil {
		return 0, 0, hash.Hash{}, err
	}

	chunker, err := chunk.NewChunker(target)
	if err != nil {
		return 0, 0, hash.Hash{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	entries := make(chan *pendingEntry, 256)
	var appendErr error
	var appendWG sync.WaitGroup
	appendWG.Add(1)
	go func() {
		defer appendWG.Done()
		appendErr = runAppendLoop(ctx, conn, wid, entries, &chunkCount, &size, &csum)
		if appendErr != nil {
			// runAppendLoop stopped ranging over entries early; keep draining
			// so a producer blocked sending on a full channel (readLoop,
			// below) does not deadlock waiting for a reader that is gone.
			for range entries {
			}
		}
	}()

	buf := make([]byte, 0, chunker.Max())
	var offset uint64

	emit := func(data []byte) {
		endOffset := offset + uint64(len(data))
		c := chunk.NewChunk(append([]byte(nil), data...))
		d := c.Digest()

		if known.IsKnown(d) {
			entries <- &pendingEntry{endOffset: endOffset, digest: d}
		} else {
			pe := &pendingEntry{endOffset: endOffset, digest: d, uploaded: make(chan error, 1)}
			entries <- pe
			chunkCopy := c
			g.Go(func() error {
				blob, err := chunk.Encode(chunkCopy, opts.Key, opts.Compress)
				if err != nil {
					pe.uploaded <- err
					return err
				}
				err = conn.UploadChunk(gctx, true, d, blob.Bytes())
				if err == nil {
					markKnown(known, d)
				}
				pe.uploaded <- err
				return err
			})
		}
		offset = endOffset
	}

	readBuf := make([]byte, 64*1024)
readLoop:
	for {
		n, rerr := r.Read(readBuf)
		if n > 0 {
			data := readBuf[:n]
			start := 0
			for start < len(data) {
				cut, ok := chunker.Scan(data[start:])
				if !ok {
					buf = append(buf, data[start:]...)
					break
				}
				buf = append(buf, data[start:start+cut]...)
				emit(buf)
				buf = buf[:0]
				start += cut
			}
		}
		switch {
		case rerr == io.EOF:
			break readLoop
		case rerr != nil:
			close(entries)
			appendWG.Wait()
			return 0, 0, hash.Hash{}, errs.Wrap(errs.IO, rerr)
		}
	}
	if len(buf) > 0 {
		emit(buf)
	}

	close(entries)

	if err := g.Wait(); err != nil {
		appendWG.Wait()
		return 0, 0, hash.Hash{}, errs.Wrap(errs.ConsistencyFailure, err)
	}
	appendWG.Wait()
	if appendErr != nil {
		return 0, 0, hash.Hash{}, appendErr
	}

	if err := conn.CloseDynamic(ctx, wid, chunkCount, size, csum); err != nil {
		return 0, 0, hash.Hash{}, err
	}
	return chunkCount, size, csum, nil
}

// runAppendLoop drains entries in order, waiting for each new chunk's
// upload to finish before appending it, batching consecutive entries into
// one PUT dynamic_index call, and rolling the session's own csum/size/
// chunk-count accumulators the same way the server does (§4.4) so the
// close RPC's declared values can be cross-checked.
func runAppendLoop(ctx context.Context, conn *client.Conn, wid uint64, entries <-chan *pendingEntry, chunkCount, size *uint64, csum *hash.Hash) error {
	h := sha256.New()
	const batchSize = 64
	var offsets []uint64
	var digests []hash.Hash

	flush := func() error {
		if len(offsets) == 0 {
			return nil
		}
		if err := conn.AppendDynamic(ctx, wid, offsets, digests); err != nil {
			return err
		}
		offsets = offsets[:0]
		digests = digests[:0]
		return nil
	}

	var prevOffset uint64
	for pe := range entries {
		if pe.uploaded != nil {
			if err := <-pe.uploaded; err != nil {
				return err
			}
		}
		var le [8]byte
		binary.LittleEndian.PutUint64(le[:], pe.endOffset)
		h.Write(le[:])
		h.Write(pe.digest[:])

		*chunkCount++
		*size += pe.endOffset - prevOffset
		prevOffset = pe.endOffset

		offsets = append(offsets, pe.endOffset)
		digests = append(digests, pe.digest)
		if len(offsets) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	copy(csum[:], h.Sum(nil))
	return nil
}

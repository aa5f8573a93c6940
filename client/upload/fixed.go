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

package upload

import (
	"context"
	"crypto/sha256"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/dolthub/nbsbackup/client"
	"github.com/dolthub/nbsbackup/errs"
	"github.com/dolthub/nbsbackup/store/chunk"
	"github.com/dolthub/nbsbackup/store/hash"
)

// FixedOptions configures a fixed-boundary upload (block devices and other
// sources with a known total size, chunked at a constant stride rather
// than content-defined boundaries).
type FixedOptions struct {
	ArchiveName string
	Size        uint64
	ChunkSize   uint64
	Concurrency int
	Compress    bool
	Key         *chunk.Key
	// ReuseCsum, if non-nil, is the previous snapshot's same-named index
	// digest; if the server's copy matches, the server registers the
	// previous index's digests as known. The new index is not seeded from
	// the old one: every position is still appended.
	ReuseCsum *hash.Hash
}

type fixedPending struct {
	position uint64
	digest   hash.Hash
	uploaded chan error
}

// UploadFixed reads r in ChunkSize-strided pieces (the last one short if
// Size is not a multiple of ChunkSize), uploading and appending each
// position in order. known is consulted the same way UploadDynamic does,
// letting a caller that downloaded the previous .fidx skip re-uploading
// positions whose digest it already recognizes.
func UploadFixed(ctx context.Context, conn *client.Conn, r io.Reader, known Known, opts FixedOptions) (chunkCount, size uint64, csum hash.Hash, err error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	wid, err := conn.CreateFixedIndex(ctx, opts.ArchiveName, opts.Size, opts.ChunkSize, opts.ReuseCsum)
	if err != nil {
		return 0, 0, hash.Hash{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	entries := make(chan *fixedPending, 256)
	appendDone := make(chan error, 1)
	go func() {
		err := runFixedAppendLoop(ctx, conn, wid, entries, &chunkCount, &csum)
		if err != nil {
			// keep draining so a producer blocked sending on a full channel
			// does not deadlock waiting for a reader that is gone.
			for range entries {
			}
		}
		appendDone <- err
	}()

	buf := make([]byte, opts.ChunkSize)
	var position uint64
readLoop:
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			c := chunk.NewChunk(data)
			d := c.Digest()
			pos := position

			if known.IsKnown(d) {
				entries <- &fixedPending{position: pos, digest: d}
			} else {
				pe := &fixedPending{position: pos, digest: d, uploaded: make(chan error, 1)}
				entries <- pe
				g.Go(func() error {
					blob, err := chunk.Encode(c, opts.Key, opts.Compress)
					if err != nil {
						pe.uploaded <- err
						return err
					}
					err = conn.UploadChunk(gctx, false, d, blob.Bytes())
					if err == nil {
						markKnown(known, d)
					}
					pe.uploaded <- err
					return err
				})
			}
			position++
		}
		switch rerr {
		case nil:
			continue
		case io.EOF, io.ErrUnexpectedEOF:
			break readLoop
		default:
			close(entries)
			<-appendDone
			return 0, 0, hash.Hash{}, errs.Wrap(errs.IO, rerr)
		}
	}

	close(entries)
	if err := g.Wait(); err != nil {
		<-appendDone
		return 0, 0, hash.Hash{}, errs.Wrap(errs.ConsistencyFailure, err)
	}
	if err := <-appendDone; err != nil {
		return 0, 0, hash.Hash{}, err
	}

	if err := conn.CloseFixed(ctx, wid, chunkCount, opts.Size, csum); err != nil {
		return 0, 0, hash.Hash{}, err
	}
	return chunkCount, opts.Size, csum, nil
}

func runFixedAppendLoop(ctx context.Context, conn *client.Conn, wid uint64, entries <-chan *fixedPending, chunkCount *uint64, csum *hash.Hash) error {
	h := sha256.New()
	const batchSize = 64
	var positions []uint64
	var digests []hash.Hash

	flush := func() error {
		if len(positions) == 0 {
			return nil
		}
		if err := conn.AppendFixed(ctx, wid, positions, digests); err != nil {
			return err
		}
		positions = positions[:0]
		digests = digests[:0]
		return nil
	}

	for pe := range entries {
		if pe.uploaded != nil {
			if err := <-pe.uploaded; err != nil {
				return err
			}
		}
		h.Write(pe.digest[:])
		*chunkCount++

		positions = append(positions, pe.position)
		digests = append(digests, pe.digest)
		if len(positions) >= batchSize {
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

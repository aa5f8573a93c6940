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

// Package index implements the two append-only index file formats (C4):
// the dynamic index (variable-size chunks, offsets) and the fixed index
// (equal-size chunks, implicit positions). Both begin with a common 4KiB
// header ending in a rolling integrity digest over the entry table.
package index

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/dolthub/nbsbackup/errs"
	"github.com/dolthub/nbsbackup/store/hash"
)

// HeaderSize is the fixed, padded size of every index file's header,
// common to both formats.
const HeaderSize = 4096

// DynamicEntrySize is the serialized width of one (end_offset, digest)
// dynamic index entry.
const DynamicEntrySize = 8 + hash.ByteLen

// FixedEntrySize is the serialized width of one digest-only fixed index
// entry.
const FixedEntrySize = hash.ByteLen

var dynamicMagic = [8]byte{'N', 'B', 'S', 'D', 'I', 'D', 'X', '1'}
var fixedMagic = [8]byte{'N', 'B', 'S', 'F', 'I', 'D', 'X', '1'}

// header is the common prefix shared by both formats, before the
// format-specific fields (nothing extra for dynamic; size+chunk_size for
// fixed) that are also within HeaderSize.
type header struct {
	magic       [8]byte
	uuid        uuid.UUID
	ctime       int64
	indexDigest hash.Hash
}

const commonHeaderSize = 8 + 16 + 8 + hash.ByteLen

func (h header) encodeInto(buf []byte) {
	copy(buf[0:8], h.magic[:])
	copy(buf[8:24], h.uuid[:])
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.ctime))
	copy(buf[32:32+hash.ByteLen], h.indexDigest[:])
}

func decodeHeader(buf []byte, wantMagic [8]byte) (header, error) {
	var h header
	if len(buf) < commonHeaderSize {
		return h, errs.New(errs.Corruption, "index header truncated")
	}
	copy(h.magic[:], buf[0:8])
	if h.magic != wantMagic {
		return h, errs.New(errs.Corruption, "index magic mismatch")
	}
	copy(h.uuid[:], buf[8:24])
	h.ctime = int64(binary.LittleEndian.Uint64(buf[24:32]))
	d, err := hash.FromBytes(buf[32 : 32+hash.ByteLen])
	if err != nil {
		return h, errs.Wrap(errs.Corruption, err)
	}
	h.indexDigest = d
	return h, nil
}

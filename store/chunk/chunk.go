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

// Package chunk implements the content-defined chunker (C1) and the
// DataBlob wire/on-disk container (C2) that frames a chunk's bytes with a
// CRC and, optionally, compression and AEAD encryption.
package chunk

import "github.com/dolthub/nbsbackup/store/hash"

// Chunk is a bounded plaintext byte sequence addressed by the SHA-256 of
// its contents.
type Chunk struct {
	digest hash.Hash
	data   []byte
}

// NewChunk computes data's digest and wraps it as a Chunk.
func NewChunk(data []byte) Chunk {
	return Chunk{digest: hash.Of(data), data: data}
}

// Digest returns the chunk's content address.
func (c Chunk) Digest() hash.Hash { return c.digest }

// Data returns the chunk's plaintext bytes. Callers must not mutate the
// returned slice.
func (c Chunk) Data() []byte { return c.data }

// Size returns len(c.Data()).
func (c Chunk) Size() int { return len(c.data) }

// Empty is the chunk with no bytes.
var Empty = NewChunk(nil)

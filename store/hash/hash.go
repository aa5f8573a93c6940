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

// Package hash implements the 32-byte content digest used to address every
// chunk, index and blob in the store. The digest is always the SHA-256 of
// plaintext bytes, never of a compressed or encrypted encoding.
package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

// ByteLen is the width of a digest in bytes.
const ByteLen = sha256.Size

// StringLen is the width of a digest's hex encoding.
const StringLen = ByteLen * 2

// Hash is a content digest. The zero value is the digest of no particular
// chunk and is never a valid address; IsEmpty reports it.
type Hash [ByteLen]byte

var emptyHash Hash

// Of returns the digest of data.
func Of(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// Parse decodes a lowercase hex digest. It panics on malformed input, for
// use in tests and other contexts where the string is known-good; callers
// that need to validate externally supplied input should use MaybeParse.
func Parse(s string) Hash {
	h, ok := MaybeParse(s)
	if !ok {
		panic("invalid hash: " + s)
	}
	return h
}

// MaybeParse decodes a lowercase hex digest, returning ok=false rather than
// panicking on malformed input.
func MaybeParse(s string) (Hash, bool) {
	if len(s) != StringLen {
		return emptyHash, false
	}
	var h Hash
	n, err := hex.Decode(h[:], []byte(s))
	if err != nil || n != ByteLen {
		return emptyHash, false
	}
	// reject uppercase to keep one canonical on-disk spelling
	if hex.EncodeToString(h[:]) != s {
		return emptyHash, false
	}
	return h, true
}

// String returns the lowercase hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsEmpty reports whether h is the zero digest.
func (h Hash) IsEmpty() bool {
	return h == emptyHash
}

// Less reports whether h sorts before other, byte-lexicographically.
func (h Hash) Less(other Hash) bool {
	return h.Compare(other) < 0
}

// Compare returns -1, 0 or 1 as h is less than, equal to, or greater than
// other.
func (h Hash) Compare(other Hash) int {
	for i := range h {
		if h[i] != other[i] {
			if h[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ShardPrefix returns the 4 hex characters used to pick the chunk store's
// sharding subdirectory for h, e.g. "0a1b".
func (h Hash) ShardPrefix() string {
	return h.String()[:4]
}

// ErrMalformed is returned when a digest cannot be decoded from its wire or
// on-disk representation.
var ErrMalformed = errors.New("malformed digest")

// FromBytes copies b (which must be exactly ByteLen long) into a Hash.
func FromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != ByteLen {
		return h, errors.Wrapf(ErrMalformed, "digest must be %d bytes, got %d", ByteLen, len(b))
	}
	copy(h[:], b)
	return h, nil
}

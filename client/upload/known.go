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

import "github.com/dolthub/nbsbackup/store/hash"

// DigestSet is the simplest Known implementation: a plain map built from
// one or more downloaded previous index files (§4.7). A fresh backup with
// no previous snapshot uses an empty DigestSet, so every chunk uploads.
type DigestSet map[hash.Hash]struct{}

// NewDigestSet builds a DigestSet from the digests of every entry in one
// or more already-decoded previous index files.
func NewDigestSet(digests ...[]hash.Hash) DigestSet {
	s := DigestSet{}
	for _, list := range digests {
		for _, d := range list {
			s[d] = struct{}{}
		}
	}
	return s
}

// IsKnown implements Known.
func (s DigestSet) IsKnown(d hash.Hash) bool {
	_, ok := s[d]
	return ok
}

// Add registers a digest as known, used when the first upload of a chunk
// succeeds so later duplicate occurrences in the same archive are elided
// without a second upload.
func (s DigestSet) Add(d hash.Hash) {
	s[d] = struct{}{}
}

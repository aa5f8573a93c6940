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

package session

import (
	"github.com/google/btree"

	"github.com/dolthub/nbsbackup/store/hash"
)

// knownChunks is the session's chunks_seen set (§4.5): every digest the
// server has promised exists, either freshly uploaded this session or
// inherited from the previous snapshot's index. It is an ordered set (a
// btree); Finish does not consult it, and nothing iterates it in order.
type knownChunks struct {
	tree *btree.BTreeG[hash.Hash]
}

func newKnownChunks() *knownChunks {
	return &knownChunks{tree: btree.NewG[hash.Hash](32, func(a, b hash.Hash) bool { return a.Less(b) })}
}

// Add records d as known. Idempotent.
func (k *knownChunks) Add(d hash.Hash) {
	k.tree.ReplaceOrInsert(d)
}

// Has reports whether d has been recorded.
func (k *knownChunks) Has(d hash.Hash) bool {
	return k.tree.Has(d)
}

// Len returns the number of distinct known digests.
func (k *knownChunks) Len() int {
	return k.tree.Len()
}

// Ascend calls fn for every known digest in ascending order, stopping early
// if fn returns false.
func (k *knownChunks) Ascend(fn func(hash.Hash) bool) {
	k.tree.Ascend(func(d hash.Hash) bool { return fn(d) })
}

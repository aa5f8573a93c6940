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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dolthub/nbsbackup/store/hash"
)

func TestDigestSetIsKnown(t *testing.T) {
	var a, b hash.Hash
	a[0] = 1
	b[0] = 2

	s := NewDigestSet([]hash.Hash{a})
	assert.True(t, s.IsKnown(a))
	assert.False(t, s.IsKnown(b))

	s.Add(b)
	assert.True(t, s.IsKnown(b))
}

func TestMarkKnownRequiresAdder(t *testing.T) {
	s := DigestSet{}
	var d hash.Hash
	d[0] = 9

	markKnown(s, d)
	assert.True(t, s.IsKnown(d))

	markKnown(fixedKnownOnly{}, d)
}

// fixedKnownOnly implements Known but not adder, exercising markKnown's
// type-assertion fallback path.
type fixedKnownOnly struct{}

func (fixedKnownOnly) IsKnown(d hash.Hash) bool { return false }

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

package hash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRoundTrip(t *testing.T) {
	s := strings.Repeat("0123456789abcdef", 4)[:StringLen]
	h := Parse(s)
	assert.Equal(t, s, h.String())
}

func TestMaybeParse(t *testing.T) {
	_, ok := MaybeParse("too-short")
	assert.False(t, ok)

	_, ok = MaybeParse(strings.Repeat("zz", ByteLen))
	assert.False(t, ok, "non-hex characters must be rejected")

	upper := strings.ToUpper(strings.Repeat("ab", ByteLen))
	_, ok = MaybeParse(upper)
	assert.False(t, ok, "only the canonical lowercase spelling parses")

	h, ok := MaybeParse(strings.Repeat("ab", ByteLen))
	assert.True(t, ok)
	assert.Equal(t, strings.Repeat("ab", ByteLen), h.String())
}

func TestOfKnownVector(t *testing.T) {
	h := Of([]byte("abc"))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h.String())
}

func TestIsEmpty(t *testing.T) {
	var h Hash
	assert.True(t, h.IsEmpty())
	assert.False(t, Of([]byte("x")).IsEmpty())
}

func TestLessAndCompare(t *testing.T) {
	a := Hash{0x00}
	b := Hash{0x01}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.True(t, a.Compare(b) < 0)
	assert.True(t, b.Compare(a) > 0)
}

func TestShardPrefix(t *testing.T) {
	h := Parse(strings.Repeat("ab", ByteLen))
	assert.Equal(t, "abab", h.ShardPrefix())
}

func TestFromBytes(t *testing.T) {
	b := make([]byte, ByteLen)
	b[0] = 0xff
	h, err := FromBytes(b)
	assert.NoError(t, err)
	assert.Equal(t, byte(0xff), h[0])

	_, err = FromBytes(b[:10])
	assert.Error(t, err)
}

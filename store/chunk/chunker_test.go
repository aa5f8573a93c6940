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

package chunk

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBuf(t *testing.T, n int, seed int64) []byte {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, n)
	_, err := r.Read(buf)
	require.NoError(t, err)
	return buf
}

// scanAll feeds data to c one call at a time and returns the cut points
// (indices into data just past each boundary).
func scanAll(c *Chunker, data []byte) []int {
	var cuts []int
	start := 0
	for start < len(data) {
		idx, ok := c.Scan(data[start:])
		if !ok {
			break
		}
		start += idx
		cuts = append(cuts, start)
	}
	return cuts
}

func TestChunkerDeterministicWholeVsByteByByte(t *testing.T) {
	data := randomBuf(t, 256*1024, 1)

	whole, err := NewChunker(1 << 16)
	require.NoError(t, err)
	wholeCuts := scanAll(whole, data)

	byByte, err := NewChunker(1 << 16)
	require.NoError(t, err)
	var byByteCuts []int
	pos := 0
	for pos < len(data) {
		idx, ok := byByte.Scan(data[pos : pos+1])
		if ok {
			pos += idx
			byByteCuts = append(byByteCuts, pos)
		} else {
			pos++
		}
	}

	assert.Equal(t, wholeCuts, byByteCuts)
	assert.NotEmpty(t, wholeCuts, "random 256KiB input with 64KiB target should produce at least one cut")
}

func TestChunkerRespectsMinAndMax(t *testing.T) {
	target := 1 << 16
	c, err := NewChunker(target)
	require.NoError(t, err)

	data := randomBuf(t, 4*1024*1024, 2)
	cuts := scanAll(c, data)
	require.NotEmpty(t, cuts)

	prev := 0
	for _, cut := range cuts {
		size := cut - prev
		assert.GreaterOrEqual(t, size, c.Min())
		assert.LessOrEqual(t, size, c.Max())
		prev = cut
	}
}

func TestChunkerForcedMaxOnAllZeros(t *testing.T) {
	// All-zero input must not degenerate into a boundary on every byte:
	// h starts at 0 and XORs the same table entries in and out, so the
	// break test alone never fires; only the forced max cuts.
	c, err := NewChunker(1 << 12)
	require.NoError(t, err)

	data := make([]byte, 5*c.Max())
	cuts := scanAll(c, data)
	require.NotEmpty(t, cuts)

	prev := 0
	for _, cut := range cuts {
		assert.Equal(t, c.Max(), cut-prev)
		prev = cut
	}
}

func TestChunkerLocalEditsShiftBoundariesLocally(t *testing.T) {
	target := 1 << 14
	base := randomBuf(t, 512*1024, 3)

	edited := make([]byte, len(base)+37)
	copy(edited, base[:200*1024])
	copy(edited[200*1024:], randomBuf(t, 37, 99))
	copy(edited[200*1024+37:], base[200*1024:])

	c1, _ := NewChunker(target)
	c2, _ := NewChunker(target)
	cutsBase := scanAll(c1, base)
	cutsEdited := scanAll(c2, edited)

	// boundaries before the insertion point should be identical
	var prefixMatches int
	for i := 0; i < len(cutsBase) && i < len(cutsEdited); i++ {
		if cutsBase[i] == cutsEdited[i] {
			prefixMatches++
			continue
		}
		break
	}
	assert.Greater(t, prefixMatches, 0, "expected at least the chunks before the insertion to be unaffected")
}

func TestNewChunkerRejectsNonPowerOfTwo(t *testing.T) {
	_, err := NewChunker(1000)
	assert.ErrorIs(t, err, ErrBadTargetSize)
}

func TestSplitEmpty(t *testing.T) {
	ranges, err := Split(nil, 1<<16)
	require.NoError(t, err)
	assert.Empty(t, ranges)
}

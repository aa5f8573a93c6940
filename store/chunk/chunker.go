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

import "github.com/pkg/errors"

// WindowSize is the width, in bytes, of the BuzHash rolling window.
const WindowSize = 64

// ErrBadTargetSize is returned by NewChunker when the requested average
// chunk size is not a power of two, or is too small for the rolling window.
var ErrBadTargetSize = errors.New("chunk target average size must be a power of two >= 256")

// Chunker implements content-defined chunking with a BuzHash rolling hash
// over a 64-byte window (§4.1). A boundary is declared when the forced
// maximum is reached, or once past the forced minimum whenever the rolling
// hash's low bits satisfy the break test. Feeding data in one call or one
// byte at a time produces identical cut points: all rolling state lives in
// the Chunker value between calls.
type Chunker struct {
	min, max           int
	breakMask, breakAt uint32

	window    [WindowSize]byte
	filled    int // number of valid bytes currently in window
	pos       int // next slot in window to overwrite
	h         uint32
	chunkSize int
}

// NewChunker returns a Chunker targeting an average chunk size of target
// bytes. target must be a power of two; chunk_size_min = target/4,
// chunk_size_max = 4*target per §4.1.
func NewChunker(target int) (*Chunker, error) {
	if target < 256 || target&(target-1) != 0 {
		return nil, ErrBadTargetSize
	}
	mask := uint32(2*target - 1)
	c := &Chunker{
		min:       target / 4,
		max:       4 * target,
		breakMask: mask,
		breakAt:   mask - 2,
	}
	return c, nil
}

func rotl32(x uint32, n uint) uint32 {
	return (x << n) | (x >> (32 - n))
}

// Scan consumes data and reports whether it found a chunk boundary. If it
// did, idx is the index in data just past the boundary (bytes data[:idx]
// complete the current chunk; data[idx:] belongs to the next one) and
// ok is true. If no boundary is found, Scan has consumed all of data into
// its rolling state and returns ok=false; the caller should continue with
// more data. Calling Scan with an entire buffer is equivalent to calling it
// repeatedly with single-byte slices.
func (c *Chunker) Scan(data []byte) (idx int, ok bool) {
	for i, b := range data {
		c.chunkSize++

		var leaving byte
		if c.filled == WindowSize {
			leaving = c.window[c.pos]
		}
		c.window[c.pos] = b
		c.pos = (c.pos + 1) % WindowSize
		if c.filled < WindowSize {
			c.filled++
		}

		c.h = rotl32(c.h, 1) ^ buzhashTable[leaving] ^ buzhashTable[b]

		if c.chunkSize >= c.max {
			c.reset()
			return i + 1, true
		}
		if c.chunkSize >= c.min && (c.h&c.breakMask) >= c.breakAt {
			c.reset()
			return i + 1, true
		}
	}
	return 0, false
}

func (c *Chunker) reset() {
	c.h = 0
	c.filled = 0
	c.pos = 0
	c.chunkSize = 0
	c.window = [WindowSize]byte{}
}

// Min returns the minimum chunk size this Chunker enforces before a
// content-defined boundary may fire.
func (c *Chunker) Min() int { return c.min }

// Max returns the forced maximum chunk size this Chunker enforces.
func (c *Chunker) Max() int { return c.max }

// Split splits an entire in-memory buffer into chunk byte ranges [start,
// end). It is a convenience built on Scan for callers (tests, small
// archives) that already hold the whole stream in memory.
func Split(data []byte, target int) ([][2]int, error) {
	c, err := NewChunker(target)
	if err != nil {
		return nil, err
	}
	var ranges [][2]int
	start := 0
	for start < len(data) {
		idx, ok := c.Scan(data[start:])
		if !ok {
			ranges = append(ranges, [2]int{start, len(data)})
			break
		}
		ranges = append(ranges, [2]int{start, start + idx})
		start += idx
	}
	return ranges, nil
}

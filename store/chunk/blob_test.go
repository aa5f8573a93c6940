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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolthub/nbsbackup/errs"
)

func mustKey(t *testing.T) *Key {
	t.Helper()
	var k Key
	for i := range k {
		k[i] = byte(i)
	}
	return &k
}

func TestBlobRoundTripAllVariants(t *testing.T) {
	c := NewChunk([]byte("the quick brown fox jumps over the lazy dog, repeated a lot, " +
		"the quick brown fox jumps over the lazy dog, repeated a lot"))
	key := mustKey(t)

	cases := []struct {
		name     string
		key      *Key
		compress bool
	}{
		{"raw", nil, false},
		{"compressed", nil, true},
		{"encrypted", key, false},
		{"compressed+encrypted", key, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Encode(c, tc.key, tc.compress)
			require.NoError(t, err)

			require.NoError(t, b.VerifyCRC())

			got, err := Decode(b, tc.key)
			require.NoError(t, err)
			assert.Equal(t, c.Data(), got.Data())
			assert.Equal(t, c.Digest(), got.Digest())
		})
	}
}

func TestBlobCRCMismatchIsCorruption(t *testing.T) {
	c := NewChunk([]byte("hello world"))
	b, err := Encode(c, nil, false)
	require.NoError(t, err)

	corrupted := append([]byte{}, b.Bytes()...)
	corrupted[len(corrupted)-1] ^= 0xff
	cb := FromBytes(corrupted)

	err = cb.VerifyCRC()
	require.Error(t, err)
	assert.Equal(t, errs.Corruption, errs.KindOf(err))

	_, err = Decode(cb, nil)
	require.Error(t, err)
	assert.Equal(t, errs.Corruption, errs.KindOf(err))
}

func TestBlobKeyMismatch(t *testing.T) {
	c := NewChunk([]byte("secret payload"))
	key := mustKey(t)
	b, err := Encode(c, key, false)
	require.NoError(t, err)

	var wrongKey Key
	for i := range wrongKey {
		wrongKey[i] = byte(255 - i)
	}

	_, err = Decode(b, &wrongKey)
	require.Error(t, err)
	assert.Equal(t, errs.Argument, errs.KindOf(err), "a different key must be caught by the fingerprint check before AEAD")

	_, err = Decode(b, nil)
	require.Error(t, err)
	assert.Equal(t, errs.Argument, errs.KindOf(err))
}

func TestAddressDigestNeverAddressesCiphertext(t *testing.T) {
	c := NewChunk([]byte("payload for digest invariant test"))
	key := mustKey(t)

	raw, err := Encode(c, nil, false)
	require.NoError(t, err)
	enc, err := Encode(c, key, false)
	require.NoError(t, err)

	// The two blobs have completely different serialized bytes (one is
	// AEAD-sealed) but must address to the same plaintext digest.
	assert.NotEqual(t, raw.Bytes(), enc.Bytes())

	rawDigest, err := AddressDigest(raw, nil)
	require.NoError(t, err)
	encDigest, err := AddressDigest(enc, key)
	require.NoError(t, err)

	assert.Equal(t, c.Digest(), rawDigest)
	assert.Equal(t, c.Digest(), encDigest)
}

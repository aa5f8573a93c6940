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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"hash/crc32"

	"github.com/dolthub/gozstd"
	"github.com/pkg/errors"

	"github.com/dolthub/nbsbackup/errs"
	"github.com/dolthub/nbsbackup/store/hash"
)

// Variant identifies a DataBlob's framing, via its 8-byte magic.
type Variant uint8

const (
	UncompressedRaw Variant = iota
	CompressedRaw
	UncompressedEncrypted
	CompressedEncrypted
)

const magicLen = 8

var magics = map[Variant][magicLen]byte{
	UncompressedRaw:       {'N', 'B', 'S', 'B', 'r', 'a', 'w', 'U'},
	CompressedRaw:         {'N', 'B', 'S', 'B', 'r', 'a', 'w', 'C'},
	UncompressedEncrypted: {'N', 'B', 'S', 'B', 'e', 'n', 'c', 'U'},
	CompressedEncrypted:   {'N', 'B', 'S', 'B', 'e', 'n', 'c', 'C'},
}

func variantOf(magic [magicLen]byte) (Variant, bool) {
	for v, m := range magics {
		if m == magic {
			return v, true
		}
	}
	return 0, false
}

func (v Variant) encrypted() bool {
	return v == UncompressedEncrypted || v == CompressedEncrypted
}

func (v Variant) compressed() bool {
	return v == CompressedRaw || v == CompressedEncrypted
}

const (
	ivLen          = 16
	tagLen         = 16
	fingerprintLen = 32
)

// Key is a 32-byte AES-256 key used to seal encrypted blobs.
type Key [32]byte

// Fingerprint returns SHA-256(key), the 32-byte identifier recorded in
// encrypted blobs so the right key can be selected at restore time.
func (k Key) Fingerprint() [fingerprintLen]byte {
	return sha256.Sum256(k[:])
}

// Blob is the serialized DataBlob container (§4.2).
type Blob struct {
	bytes []byte
}

// Bytes returns the blob's full serialized form, ready to write to disk or
// send over the wire.
func (b Blob) Bytes() []byte { return b.bytes }

// FromBytes wraps an already-serialized blob without validating it; use
// VerifyCRC or Decode to validate.
func FromBytes(b []byte) Blob { return Blob{bytes: b} }

func (b Blob) variant() (Variant, error) {
	if len(b.bytes) < magicLen {
		return 0, errs.New(errs.ConsistencyFailure, "blob shorter than magic")
	}
	var m [magicLen]byte
	copy(m[:], b.bytes[:magicLen])
	v, ok := variantOf(m)
	if !ok {
		return 0, errs.New(errs.ConsistencyFailure, "unrecognized blob magic")
	}
	return v, nil
}

func headerLen(v Variant) int {
	n := magicLen + 4 // magic + crc32
	if v.encrypted() {
		n += ivLen + tagLen + fingerprintLen
	}
	return n
}

// Encode selects a DataBlob variant for chunk based on whether key is
// non-nil (encrypted) and compress is requested, and returns the framed
// blob. The address digest of the result is always chunk.Digest(); Encode
// never changes what a blob is addressed by.
func Encode(c Chunk, key *Key, compress bool) (Blob, error) {
	payload := c.Data()
	variant := UncompressedRaw
	if compress {
		payload = gozstd.Compress(nil, payload)
		variant = CompressedRaw
	}

	var iv [ivLen]byte
	var tag [tagLen]byte
	var fingerprint [fingerprintLen]byte

	if key != nil {
		if compress {
			variant = CompressedEncrypted
		} else {
			variant = UncompressedEncrypted
		}
		block, err := aes.NewCipher(key[:])
		if err != nil {
			return Blob{}, errors.Wrap(err, "aes.NewCipher")
		}
		gcm, err := cipher.NewGCMWithTagSize(block, tagLen)
		if err != nil {
			return Blob{}, errors.Wrap(err, "cipher.NewGCM")
		}
		if _, err := rand.Read(iv[:]); err != nil {
			return Blob{}, errors.Wrap(err, "rand.Read iv")
		}
		sealed := gcm.Seal(nil, iv[:], payload, nil)
		// crypto/cipher appends the tag to the ciphertext; split it back
		// out so the on-disk layout carries it as its own fixed field.
		ctLen := len(sealed) - tagLen
		copy(tag[:], sealed[ctLen:])
		payload = sealed[:ctLen]
		fingerprint = key.Fingerprint()
	}

	m := magics[variant]
	buf := make([]byte, 0, headerLen(variant)+len(payload))
	buf = append(buf, m[:]...)
	buf = append(buf, 0, 0, 0, 0) // crc32 placeholder
	if variant.encrypted() {
		buf = append(buf, iv[:]...)
		buf = append(buf, tag[:]...)
		buf = append(buf, fingerprint[:]...)
	}
	buf = append(buf, payload...)

	crc := crc32.ChecksumIEEE(append(append([]byte{}, buf[:magicLen]...), buf[magicLen+4:]...))
	binary.LittleEndian.PutUint32(buf[magicLen:magicLen+4], crc)

	return Blob{bytes: buf}, nil
}

// VerifyCRC recomputes the blob's CRC32 and compares it against the stored
// value, failing with a Corruption-kind error on mismatch.
func (b Blob) VerifyCRC() error {
	v, err := b.variant()
	if err != nil {
		return err
	}
	hl := headerLen(v)
	if len(b.bytes) < hl {
		return errs.New(errs.Corruption, "blob shorter than its own header")
	}
	want := binary.LittleEndian.Uint32(b.bytes[magicLen : magicLen+4])
	got := crc32.ChecksumIEEE(append(append([]byte{}, b.bytes[:magicLen]...), b.bytes[magicLen+4:]...))
	if want != got {
		return errs.New(errs.Corruption, "blob CRC32 mismatch")
	}
	return nil
}

// Decode validates the blob's CRC, decrypts (if encrypted, using key) and
// decompresses (if compressed), and returns the plaintext chunk. The
// returned chunk's Digest() is recomputed from the decoded plaintext, never
// from the ciphertext or compressed form.
func Decode(b Blob, key *Key) (Chunk, error) {
	if err := b.VerifyCRC(); err != nil {
		return Chunk{}, err
	}
	v, err := b.variant()
	if err != nil {
		return Chunk{}, err
	}
	hl := headerLen(v)
	payload := append([]byte{}, b.bytes[hl:]...)

	if v.encrypted() {
		if key == nil {
			return Chunk{}, errs.New(errs.Argument, "blob is encrypted but no key was provided")
		}
		iv := b.bytes[magicLen+4 : magicLen+4+ivLen]
		tag := b.bytes[magicLen+4+ivLen : magicLen+4+ivLen+tagLen]
		storedFp := b.bytes[magicLen+4+ivLen+tagLen : hl]
		fp := key.Fingerprint()
		if !bytesEqual(fp[:], storedFp) {
			return Chunk{}, errs.New(errs.Argument, "key fingerprint mismatch")
		}
		block, err := aes.NewCipher(key[:])
		if err != nil {
			return Chunk{}, errors.Wrap(err, "aes.NewCipher")
		}
		gcm, err := cipher.NewGCMWithTagSize(block, tagLen)
		if err != nil {
			return Chunk{}, errors.Wrap(err, "cipher.NewGCM")
		}
		sealed := append(append([]byte{}, payload...), tag...)
		pt, err := gcm.Open(nil, iv, sealed, nil)
		if err != nil {
			return Chunk{}, errs.Wrap(errs.ConsistencyFailure, errors.Wrap(err, "AEAD tag verification failed"))
		}
		payload = pt
	}

	if v.compressed() {
		pt, err := gozstd.Decompress(nil, payload)
		if err != nil {
			return Chunk{}, errs.Wrap(errs.Corruption, errors.Wrap(err, "zstd decompress"))
		}
		payload = pt
	}

	return NewChunk(payload), nil
}

// IsEncrypted reports whether b's variant is one of the two encrypted
// forms, without fully decoding it — used by the wire layer to decide
// whether it can cross-check the client-declared digest against the
// decoded plaintext or must trust it (§4.6).
func IsEncrypted(b Blob) (bool, error) {
	v, err := b.variant()
	if err != nil {
		return false, err
	}
	return v.encrypted(), nil
}

// AddressDigest returns the digest a blob is addressed by: it fully decodes
// the blob (decrypting encrypted variants with key) and returns the digest
// of the plaintext. For an encrypted blob without the right key it returns
// the decode error.
func AddressDigest(b Blob, key *Key) (hash.Hash, error) {
	c, err := Decode(b, key)
	if err != nil {
		return hash.Hash{}, err
	}
	return c.Digest(), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

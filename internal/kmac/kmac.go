// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implemention taken, with modifications to use x/crypto/sha3's cSHAKE
// ShakeHash, from abandoned CL https://go-review.googlesource.com/c/crypto/+/108715.

// Package kmac implements KMAC256 as specified in NIST Special Publication
// 800-185, "SHA-3 Derived Functions: cSHAKE, KMAC, TupleHash and
// ParallelHash" [1].
//
// [1] https://doi.org/10.6028/NIST.SP.800-185
package kmac

import (
	"crypto/subtle"
	"encoding/binary"
	"hash"
	"math/bits"

	"golang.org/x/crypto/sha3"
)

const (
	// SP 800-185 forbids MAC output lengths under 32 bits and discourages
	// anything under 64 bits.
	minimumTagSize = 8

	// minimumKeySize is the security strength of KMAC256 in bytes.
	minimumKeySize = 32
)

type kmac struct {
	sha3.ShakeHash // cSHAKE context and Read/Write operations
	tagSize        int

	// initBlock holds the encoded key (section 3.3 of [1]) so Reset can
	// restore the keyed state.
	initBlock []byte
}

// New256 returns a KMAC256 hash keyed with key, which must have at least 32
// bytes, producing tagSize bytes of output under the customization string.
// The returned Hash does not implement encoding.BinaryMarshaler.
func New256(key []byte, tagSize int, customization []byte) hash.Hash {
	if len(key) < minimumKeySize {
		panic("kmac: key must not be smaller than security strength")
	}
	if tagSize < minimumTagSize {
		panic("kmac: tagSize is too small")
	}

	c := sha3.NewCShake256([]byte("KMAC"), customization)
	k := &kmac{ShakeHash: c, tagSize: tagSize}

	// leftEncode returns max 9 bytes
	k.initBlock = make([]byte, 0, 9+len(key))
	k.initBlock = append(k.initBlock, leftEncode(uint64(len(key)*8))...)
	k.initBlock = append(k.initBlock, key...)
	k.Write(bytepad(k.initBlock, k.BlockSize()))
	return k
}

// Sum256 returns the tagSize KMAC256 of data.
func Sum256(key, data, customization []byte, tagSize int) []byte {
	h := New256(key, tagSize, customization)
	h.Write(data)
	return h.Sum(nil)
}

// Equal compares two tags in constant time.
func Equal(tag1, tag2 []byte) bool {
	return subtle.ConstantTimeCompare(tag1, tag2) == 1
}

func (k *kmac) Reset() {
	k.ShakeHash.Reset()
	k.Write(bytepad(k.initBlock, k.BlockSize()))
}

func (k *kmac) BlockSize() int {
	return k.ShakeHash.BlockSize()
}

func (k *kmac) Size() int {
	return k.tagSize
}

// Sum appends the current KMAC to b without changing the hash state.
func (k *kmac) Sum(b []byte) []byte {
	dup := k.ShakeHash.Clone()
	dup.Write(rightEncode(uint64(k.tagSize * 8)))
	tag := make([]byte, k.tagSize)
	dup.Read(tag)
	return append(b, tag...)
}

func bytepad(data []byte, rate int) []byte {
	out := make([]byte, 0, 9+len(data)+rate-1)
	out = append(out, leftEncode(uint64(rate))...)
	out = append(out, data...)
	if padlen := rate - len(out)%rate; padlen < rate {
		out = append(out, make([]byte, padlen)...)
	}
	return out
}

func leftEncode(x uint64) []byte {
	// Let n be the smallest positive integer for which 2^(8n) > x.
	n := (bits.Len64(x) + 7) / 8
	if n == 0 {
		n = 1
	}
	// Return n || x with n as a byte and x an n bytes in big-endian order.
	b := make([]byte, 9)
	binary.BigEndian.PutUint64(b[1:], x)
	b = b[9-n-1:]
	b[0] = byte(n)
	return b
}

func rightEncode(value uint64) []byte {
	var b [9]byte
	binary.BigEndian.PutUint64(b[:8], value)
	// Trim all but last leading zero bytes
	i := byte(0)
	for i < 7 && b[i] == 0 {
		i++
	}
	// Append number of encoded bytes
	b[8] = 8 - i
	return b[i:]
}

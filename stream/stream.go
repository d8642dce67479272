// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package stream implements chunked ChaCha20-Poly1305 encryption of byte
// streams keyed by either the rqe KEM or an Argon2id passphrase.
//
// # Protocol
//
// Keying Header
//   - Uniquely describes keying scheme and carries related data: the KEM
//     ciphertext and its KMAC256 tag, or the Argon2id parameters.
//
// Version
//   - ChaCha20-Poly1305 sealed protocol version, using a zero nonce, with
//     the header as the Associated Data.
//
// Blocks
//   - ChaCha20-Poly1305 chunked payloads (incrementing previous nonce).
//     The final block, which may be empty, is sealed with a one byte
//     Associated Data marker so truncation at a block boundary is
//     detected.
package stream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"

	"golang.org/x/crypto/chacha20poly1305"
)

// counter implements a 12-byte little endian counter suitable for use as an
// incrementing ChaCha20-Poly1305 nonce.
type counter struct {
	limbs [3]uint32
	bytes []byte
}

func newCounter() *counter {
	return &counter{bytes: make([]byte, 12)}
}

func (c *counter) inc() {
	var carry uint32
	c.limbs[0], carry = bits.Add32(c.limbs[0], 1, carry)
	c.limbs[1], carry = bits.Add32(c.limbs[1], 0, carry)
	c.limbs[2], carry = bits.Add32(c.limbs[2], 0, carry)
	if carry == 1 {
		panic("nonce reuse")
	}
	binary.LittleEndian.PutUint32(c.bytes[0:4], c.limbs[0])
	binary.LittleEndian.PutUint32(c.bytes[4:8], c.limbs[1])
	binary.LittleEndian.PutUint32(c.bytes[8:12], c.limbs[2])
}

const streamVersion = 1

const chunksize = 1 << 16 // does not include AEAD overhead

const overhead = 16 // poly1305 tag overhead

var finalAD = []byte{1}

// ErrTruncated is returned by Decrypt when the stream ends before its final
// block.
var ErrTruncated = errors.New("stream: truncated ciphertext")

// atEOF reports whether br has no more data.
func atEOF(br *bufio.Reader) (bool, error) {
	_, err := br.Peek(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

// Encrypt performs symmetric stream encryption, reading plaintext from r and
// writing an encrypted stream to w which can only be decrypted with knowledge
// of key.  The stream header is Associated Data.
func Encrypt(w io.Writer, r io.Reader, header []byte, aeadKey []byte) error {
	buf := make([]byte, 0, chunksize+overhead)
	aead, err := chacha20poly1305.New(aeadKey)
	if err != nil {
		return err
	}

	_, err = w.Write(header)
	if err != nil {
		return err
	}

	buf = buf[:4]
	binary.LittleEndian.PutUint32(buf, streamVersion)
	nonce := newCounter()
	buf = aead.Seal(buf[:0], nonce.bytes, buf, header)
	_, err = w.Write(buf)
	if err != nil {
		return err
	}

	br := bufio.NewReaderSize(r, chunksize)
	for {
		chunk := buf[:chunksize]
		l, err := io.ReadFull(br, chunk)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return err
		}
		final := err != nil
		if !final {
			final, err = atEOF(br)
			if err != nil {
				return err
			}
		}

		var ad []byte
		if final {
			ad = finalAD
		}
		nonce.inc()
		chunk = aead.Seal(chunk[:0], nonce.bytes, chunk[:l], ad)
		_, err = w.Write(chunk)
		if err != nil {
			return err
		}
		if final {
			return nil
		}
	}
}

// Decrypt performs symmetric stream decryption, reading ciphertext from r,
// decrypting with key, and writing a stream of plaintext to w.  The stream
// header is Associated Data.
func Decrypt(w io.Writer, r io.Reader, header []byte, aeadKey []byte) error {
	nonce := newCounter()
	buf := make([]byte, 0, chunksize+overhead)
	aead, err := chacha20poly1305.New(aeadKey)
	if err != nil {
		return err
	}

	buf = buf[:4+overhead]
	_, err = io.ReadFull(r, buf)
	if err != nil {
		return err
	}
	buf, err = aead.Open(buf[:0], nonce.bytes, buf, header)
	if err != nil {
		return err
	}
	if binary.LittleEndian.Uint32(buf) != streamVersion {
		return fmt.Errorf("unknown protocol version %x", buf)
	}

	br := bufio.NewReaderSize(r, chunksize+overhead)
	for {
		chunk := buf[:chunksize+overhead]
		l, err := io.ReadFull(br, chunk)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return err
		}
		if l == 0 {
			return ErrTruncated
		}
		final := err != nil
		if !final {
			final, err = atEOF(br)
			if err != nil {
				return err
			}
		}

		var ad []byte
		if final {
			ad = finalAD
		}
		nonce.inc()
		chunk, err = aead.Open(chunk[:0], nonce.bytes, chunk[:l], ad)
		if err != nil {
			return err
		}
		_, err = w.Write(chunk)
		if err != nil {
			return err
		}
		if final {
			return nil
		}
	}
}

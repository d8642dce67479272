// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/jrick/rqe/internal/kmac"
	"github.com/jrick/rqe/kem"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/poly1305"
)

// KeyScheme describes the keying scheme used for message encryption.  It is
// recorded in the stream header, and decrypters must first parse the scheme
// from the header before deriving or recovering the encryption key.
type KeyScheme byte

// Key schemes
const (
	RQEScheme KeyScheme = iota + 1
	Argon2idScheme
)

const (
	headerTagSize = 32
	kemHeaderSize = 1 + kem.CiphertextSize + headerTagSize

	saltSize             = 16
	kdfParamsSize        = 9 // time (4), memory (4), threads (1)
	passphraseHeaderSize = 1 + saltSize + kdfParamsSize + overhead
)

// MaxArgon2idMemory is the largest Argon2id memory parameter, in KiB,
// accepted from a stream header (4 GiB).
const MaxArgon2idMemory = 4 << 20

var headerCustomization = []byte("rqe stream header")

// ErrHeaderAuth indicates the KEM header tag did not verify, meaning the
// header was corrupted or altered.
var ErrHeaderAuth = errors.New("stream: header authentication failed")

func kemToScheme(k kem.KEM) (KeyScheme, error) {
	switch k {
	case kem.RQE():
		return RQEScheme, nil
	default:
		return 0, fmt.Errorf("unknown scheme for KEM %v", k)
	}
}

// streamKeys expands a KEM shared key into the AEAD stream key and the
// header authentication key.
func streamKeys(sharedKey []byte) (aeadKey, tagKey []byte, err error) {
	ss, err := kem.NewSharedSecret(sharedKey)
	if err != nil {
		return nil, nil, err
	}
	keys := kem.DeriveKeys(ss, 2)
	return keys[0], keys[1], nil
}

// Encapsulate creates the header beginning a PKI encryption stream.  A fresh
// shared key is encapsulated to pubkey and the ciphertext is recorded in the
// header.  The header ends with a KMAC256 tag over the scheme and ciphertext
// keyed by a subkey of the shared key.
func Encapsulate(k kem.KEM, pubkey []byte) (header []byte, aeadKey []byte, err error) {
	scheme, err := kemToScheme(k)
	if err != nil {
		return
	}

	ciphertext, sharedKey, err := k.Encapsulate(pubkey)
	if err != nil {
		return
	}
	aeadKey, tagKey, err := streamKeys(sharedKey)
	if err != nil {
		return
	}

	header = make([]byte, 0, kemHeaderSize)
	header = append(header, byte(scheme))
	header = append(header, ciphertext...)
	tag := kmac.Sum256(tagKey, header, headerCustomization, headerTagSize)
	header = append(header, tag...)

	return header, aeadKey, nil
}

// PassphraseHeader creates the header beginning a passphrase-protected encryption stream.
// The time and memory parameters describe Argon2id difficulty parameters, where
// memory is measured in KiB.
// Cryptographically-secure randomness is read from rand.
func PassphraseHeader(rand io.Reader, passphrase []byte, time, memory uint32) (header []byte, aeadKey []byte, err error) {
	threads := uint8(min(runtime.NumCPU(), 255))
	if err := checkArgon2idParams(time, memory, threads); err != nil {
		return nil, nil, err
	}

	header = make([]byte, passphraseHeaderSize)
	header[0] = byte(Argon2idScheme)
	salt := header[1 : 1+saltSize]
	params := header[1+saltSize : 1+saltSize+kdfParamsSize]
	data := header[:1+saltSize+kdfParamsSize]
	htag := header[1+saltSize+kdfParamsSize:]

	_, err = io.ReadFull(rand, salt)
	if err != nil {
		return
	}
	binary.LittleEndian.PutUint32(params[0:4], time)
	binary.LittleEndian.PutUint32(params[4:8], memory)
	params[8] = threads

	// The first 32 bytes of the Argon2id output authenticate the header so
	// a wrong passphrase is reported before any chunk is opened.  The last
	// 32 bytes key the stream.
	idkey := argon2.IDKey(passphrase, salt, time, memory, threads, 64)
	var tag [overhead]byte
	var polyKey [32]byte
	copy(polyKey[:], idkey[:32])
	poly1305.Sum(&tag, data, &polyKey)
	copy(htag, tag[:])

	return header, idkey[32:], nil
}

// Header represents a parsed stream header.  It records the keying scheme for
// the stream symmetric key, as well as parameters needed to derive the key
// given the specific scheme.  The Bytes field records the raw bytes of the full
// header, which must be passed to Decrypt for authentication.
type Header struct {
	Bytes  []byte
	Scheme KeyScheme

	// For KEM schemes
	KEM        kem.KEM
	Ciphertext []byte
	KEMTag     []byte

	// For Argon2idScheme
	Salt    []byte
	Time    uint32
	Memory  uint32
	Threads uint8
	Tag     [overhead]byte
}

// ReadHeader parses the stream header from the reader.
func ReadHeader(r io.Reader) (*Header, error) {
	var scheme [1]byte
	_, err := io.ReadFull(r, scheme[:])
	if err != nil {
		return nil, err
	}
	h := &Header{Scheme: KeyScheme(scheme[0])}

	switch h.Scheme {
	case RQEScheme:
		h.Bytes = make([]byte, kemHeaderSize)
		h.Bytes[0] = scheme[0]
		_, err = io.ReadFull(r, h.Bytes[1:])
		if err != nil {
			return nil, err
		}
		h.Ciphertext = h.Bytes[1 : 1+kem.CiphertextSize]
		h.KEMTag = h.Bytes[1+kem.CiphertextSize:]
		h.KEM = kem.RQE()
	case Argon2idScheme:
		h.Bytes = make([]byte, passphraseHeaderSize)
		h.Bytes[0] = scheme[0]
		_, err = io.ReadFull(r, h.Bytes[1:])
		if err != nil {
			return nil, err
		}
		params := h.Bytes[1+saltSize:]
		h.Salt = h.Bytes[1 : 1+saltSize]
		h.Time = binary.LittleEndian.Uint32(params[0:4])
		h.Memory = binary.LittleEndian.Uint32(params[4:8])
		h.Threads = params[8]
		copy(h.Tag[:], params[kdfParamsSize:])
		err = checkArgon2idParams(h.Time, h.Memory, h.Threads)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("stream: unknown key scheme %#0x", h.Scheme)
	}
	return h, nil
}

func checkArgon2idParams(time, memory uint32, threads uint8) error {
	switch {
	case time == 0:
		return errors.New("stream: argon2id time must be nonzero")
	case threads == 0:
		return errors.New("stream: argon2id threads must be nonzero")
	case memory > MaxArgon2idMemory:
		return fmt.Errorf("stream: argon2id memory %d KiB exceeds limit", memory)
	}
	return nil
}

// Decapsulate recovers the stream key from a PKI header and verifies the
// header tag.  The scheme must be for PKI encryption.
func Decapsulate(h *Header, seckey []byte) (aeadKey []byte, err error) {
	if h.KEM == nil {
		return nil, errors.New("stream: nothing to decapsulate in header")
	}

	sharedKey, err := h.KEM.Decapsulate(seckey, h.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("stream: cannot decapsulate message key: %w", err)
	}
	aeadKey, tagKey, err := streamKeys(sharedKey)
	if err != nil {
		return nil, err
	}
	data := h.Bytes[:1+kem.CiphertextSize]
	tag := kmac.Sum256(tagKey, data, headerCustomization, headerTagSize)
	if !kmac.Equal(tag, h.KEMTag) {
		return nil, ErrHeaderAuth
	}
	return aeadKey, nil
}

// PassphraseKey derives a symmetric key from a passphrase.
// The header scheme must be for symmetric passphrase encryption.
func PassphraseKey(h *Header, passphrase []byte) (aeadKey []byte, err error) {
	if h.Scheme != Argon2idScheme {
		return nil, errors.New("stream: not a symmetric passphrase encryption scheme")
	}
	if err := checkArgon2idParams(h.Time, h.Memory, h.Threads); err != nil {
		return nil, err
	}
	idkey := argon2.IDKey(passphrase, h.Salt, h.Time, h.Memory, h.Threads, 64)

	var polyKey [32]byte
	copy(polyKey[:], idkey[:32])
	data := h.Bytes[:1+saltSize+kdfParamsSize]
	if !poly1305.Verify(&h.Tag, data, &polyKey) {
		return nil, errors.New("stream: incorrect passphrase")
	}

	return idkey[32:], nil
}

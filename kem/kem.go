// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package kem

import "fmt"

// Fixed parameters.  Every party must agree on these to interoperate.
const (
	// LatticeDim is the side length of the public matrix and the length of
	// the lattice secret and lattice ciphertext component.
	LatticeDim = 256

	// CodeLength is the length of the code generator and code ciphertext
	// component.  The code secret is CodeLength/8 bytes.
	CodeLength = 512

	// KeySize is the size of the shared secret and of each derived subkey.
	KeySize = 32

	// SeedSize is the required byte length of seeds for DeriveKeypair.
	SeedSize = 64
)

// KEM describes a Key Encapsulation Mechanism operating on serialized keys
// and ciphertexts, for use by transports and file formats.
type KEM interface {
	String() string

	// GenerateKey creates a fresh serialized keypair.
	GenerateKey() (pubkey, seckey []byte, err error)

	// Encapsulate creates a shared key and a ciphertext to be shared with
	// the recipient.
	Encapsulate(pubkey []byte) (ciphertext, sharedKey []byte, err error)

	// Decapsulate recovers the shared key created by the message sender
	// from the ciphertext.
	//
	// The shared key will always be KeySize bytes long.
	Decapsulate(seckey, ciphertext []byte) (sharedKey []byte, err error)
}

// Open returns the KEM instance for a cryptosystem name.
func Open(name string) (KEM, error) {
	switch name {
	case _kemRQE.String():
		return _kemRQE, nil
	default:
		return nil, fmt.Errorf("unknown KEM %q", name)
	}
}

// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package kem

import (
	"crypto/subtle"
	"fmt"
)

// Serialized sizes.
const (
	PublicKeySize  = LatticeDim*LatticeDim + CodeLength
	SecretKeySize  = CodeLength/8 + LatticeDim
	CiphertextSize = LatticeDim + CodeLength
)

// PublicKey holds opaque public key material.  LatticeMatrix is a
// LatticeDim x LatticeDim matrix and CodeGenerator is CodeLength bytes.
// No algebraic structure is imposed on either.
type PublicKey struct {
	LatticeMatrix [][]byte
	CodeGenerator []byte
}

// SecretKey holds opaque secret key material.  CodeSecret is CodeLength/8
// bytes and LatticeSecret is LatticeDim bytes.
type SecretKey struct {
	CodeSecret    []byte
	LatticeSecret []byte
}

// Ciphertext is the encapsulation sent to the recipient.
type Ciphertext struct {
	Lattice []byte
	Code    []byte
}

// SharedSecret is the KeySize secret agreed by encapsulation.  It is kept
// opaque so it is not confused with a plain byte buffer.
type SharedSecret struct {
	key [KeySize]byte
}

// NewSharedSecret wraps a serialized shared secret.
func NewSharedSecret(b []byte) (*SharedSecret, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("kem: invalid shared secret length %d", len(b))
	}
	ss := new(SharedSecret)
	copy(ss.key[:], b)
	return ss, nil
}

// Bytes returns a copy of the shared secret.
func (ss *SharedSecret) Bytes() []byte {
	b := make([]byte, KeySize)
	copy(b, ss.key[:])
	return b
}

// Equal reports whether two shared secrets are identical, in constant time.
// A nil secret equals no secret.
func (ss *SharedSecret) Equal(other *SharedSecret) bool {
	if ss == nil || other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(ss.key[:], other.key[:]) == 1
}

func checkLen(what string, b []byte, n int) error {
	if len(b) != n {
		return fmt.Errorf("kem: invalid %s length %d", what, len(b))
	}
	return nil
}

// MarshalBinary encodes the matrix rows in order followed by the code
// generator.
func (pk *PublicKey) MarshalBinary() ([]byte, error) {
	if len(pk.LatticeMatrix) != LatticeDim {
		return nil, fmt.Errorf("kem: invalid lattice matrix rows %d", len(pk.LatticeMatrix))
	}
	buf := make([]byte, 0, PublicKeySize)
	for _, row := range pk.LatticeMatrix {
		if err := checkLen("lattice matrix row", row, LatticeDim); err != nil {
			return nil, err
		}
		buf = append(buf, row...)
	}
	if err := checkLen("code generator", pk.CodeGenerator, CodeLength); err != nil {
		return nil, err
	}
	return append(buf, pk.CodeGenerator...), nil
}

// UnmarshalBinary decodes a PublicKeySize encoding.
func (pk *PublicKey) UnmarshalBinary(data []byte) error {
	if err := checkLen("public key", data, PublicKeySize); err != nil {
		return err
	}
	pk.LatticeMatrix = make([][]byte, LatticeDim)
	for i := range pk.LatticeMatrix {
		off := i * LatticeDim
		pk.LatticeMatrix[i] = append([]byte(nil), data[off:off+LatticeDim]...)
	}
	pk.CodeGenerator = append([]byte(nil), data[LatticeDim*LatticeDim:]...)
	return nil
}

// MarshalBinary encodes the code secret followed by the lattice secret.
func (sk *SecretKey) MarshalBinary() ([]byte, error) {
	if err := checkLen("code secret", sk.CodeSecret, CodeLength/8); err != nil {
		return nil, err
	}
	if err := checkLen("lattice secret", sk.LatticeSecret, LatticeDim); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, SecretKeySize)
	buf = append(buf, sk.CodeSecret...)
	return append(buf, sk.LatticeSecret...), nil
}

// UnmarshalBinary decodes a SecretKeySize encoding.
func (sk *SecretKey) UnmarshalBinary(data []byte) error {
	if err := checkLen("secret key", data, SecretKeySize); err != nil {
		return err
	}
	sk.CodeSecret = append([]byte(nil), data[:CodeLength/8]...)
	sk.LatticeSecret = append([]byte(nil), data[CodeLength/8:]...)
	return nil
}

// MarshalBinary encodes the lattice component followed by the code
// component.  This is also the input to the shared secret digest.
func (ct *Ciphertext) MarshalBinary() ([]byte, error) {
	if err := checkLen("lattice ciphertext", ct.Lattice, LatticeDim); err != nil {
		return nil, err
	}
	if err := checkLen("code ciphertext", ct.Code, CodeLength); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, CiphertextSize)
	buf = append(buf, ct.Lattice...)
	return append(buf, ct.Code...), nil
}

// UnmarshalBinary decodes a CiphertextSize encoding.
func (ct *Ciphertext) UnmarshalBinary(data []byte) error {
	if err := checkLen("ciphertext", data, CiphertextSize); err != nil {
		return err
	}
	ct.Lattice = append([]byte(nil), data[:LatticeDim]...)
	ct.Code = append([]byte(nil), data[LatticeDim:]...)
	return nil
}

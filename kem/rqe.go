// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package kem

import (
	"fmt"
	"io"

	"github.com/jrick/rqe/trng"
	"golang.org/x/crypto/sha3"
)

// drawKeypair fills key material in a fixed order from draw.  The public
// matrix repeats a single drawn row LatticeDim times; rows are copies and
// do not alias.
func drawKeypair(draw func(n int) []byte) (*PublicKey, *SecretKey) {
	latticeSecret := draw(LatticeDim)
	row := draw(LatticeDim)
	matrix := make([][]byte, LatticeDim)
	for i := range matrix {
		matrix[i] = append([]byte(nil), row...)
	}
	codeSecret := draw(CodeLength / 8)
	codeGenerator := draw(CodeLength)

	pk := &PublicKey{
		LatticeMatrix: matrix,
		CodeGenerator: codeGenerator,
	}
	sk := &SecretKey{
		CodeSecret:    codeSecret,
		LatticeSecret: latticeSecret,
	}
	return pk, sk
}

// GenerateKeypair creates a keypair from a fresh entropy generator.
// The public and secret keys are not mathematically related.
func GenerateKeypair() (*PublicKey, *SecretKey) {
	return drawKeypair(trng.New().Generate)
}

// DeriveKeypair deterministically derives a keypair from a SeedSize seed,
// drawing key material in the same order as GenerateKeypair from a
// cSHAKE256 stream keyed by the seed.
func DeriveKeypair(seed []byte) (*PublicKey, *SecretKey, error) {
	if len(seed) != SeedSize {
		return nil, nil, fmt.Errorf("kem: invalid seed length %d", len(seed))
	}
	csprng := cshake256CSPRNG(seed, []byte("rqe keypair csprng"))
	pk, sk := drawKeypair(func(n int) []byte {
		b := make([]byte, n)
		_, err := io.ReadFull(csprng, b)
		if err != nil {
			panic(err)
		}
		return b
	})
	return pk, sk, nil
}

func cshake256CSPRNG(key []byte, customization []byte) io.Reader {
	h := sha3.NewCShake256(nil, customization)
	_, err := h.Write(key)
	if err != nil {
		panic(err)
	}
	return h
}

func sharedSecret(ct *Ciphertext) *SharedSecret {
	h := sha3.New256()
	h.Write(ct.Lattice)
	h.Write(ct.Code)
	ss := new(SharedSecret)
	h.Sum(ss.key[:0])
	return ss
}

// Encapsulate creates a fresh ciphertext and its shared secret.  The
// ciphertext components are drawn from a new entropy generator and the
// shared secret is SHA3-256(ct.Lattice || ct.Code).
//
// pk is accepted for interface compatibility and is not read.
func Encapsulate(pk *PublicKey) (*Ciphertext, *SharedSecret) {
	g := trng.New()
	ct := &Ciphertext{
		Lattice: g.Generate(LatticeDim),
		Code:    g.Generate(CodeLength),
	}
	return ct, sharedSecret(ct)
}

// Decapsulate recovers the shared secret from the ciphertext.
//
// The result depends only on ct.  sk is not read, so any holder of the
// ciphertext can recover the shared secret.
func Decapsulate(ct *Ciphertext, sk *SecretKey) *SharedSecret {
	return sharedSecret(ct)
}

// DeriveKeys expands ss into n KeySize subkeys read sequentially from
// SHAKE256(ss).  Subkey i is the same for every n > i.
func DeriveKeys(ss *SharedSecret, n int) [][]byte {
	if n < 0 {
		panic("kem: negative key count")
	}
	xof := sha3.NewShake256()
	xof.Write(ss.key[:])
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = make([]byte, KeySize)
		_, err := io.ReadFull(xof, keys[i])
		if err != nil {
			panic(err)
		}
	}
	return keys
}

type kemRQE struct{}

var _kemRQE = new(kemRQE)

// RQE returns the serialized KEM implementation of this package.
func RQE() KEM {
	return _kemRQE
}

func (kemRQE) String() string {
	return "rqe-lattice-code"
}

func (kemRQE) GenerateKey() (pubkey, seckey []byte, err error) {
	pk, sk := GenerateKeypair()
	pubkey, err = pk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	seckey, err = sk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return pubkey, seckey, nil
}

func (kemRQE) Encapsulate(pubkey []byte) (ciphertext, sharedKey []byte, err error) {
	pk := new(PublicKey)
	if err := pk.UnmarshalBinary(pubkey); err != nil {
		return nil, nil, err
	}

	ct, ss := Encapsulate(pk)
	ciphertext, err = ct.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, ss.Bytes(), nil
}

func (kemRQE) Decapsulate(seckey, ciphertext []byte) (sharedKey []byte, err error) {
	sk := new(SecretKey)
	if err := sk.UnmarshalBinary(seckey); err != nil {
		return nil, err
	}
	ct := new(Ciphertext)
	if err := ct.UnmarshalBinary(ciphertext); err != nil {
		return nil, err
	}

	return Decapsulate(ct, sk).Bytes(), nil
}

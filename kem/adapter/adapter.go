// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package adapter exposes the rqe KEM through the hpqc kem.Scheme
// interface, so it can be used wherever katzenpost schemes are accepted.
package adapter

import (
	"crypto/hmac"

	hpqckem "github.com/katzenpost/hpqc/kem"
	"github.com/katzenpost/hpqc/kem/pem"

	"github.com/jrick/rqe/kem"
)

const (
	// PublicKeySize is the packed public key size.
	PublicKeySize = kem.PublicKeySize

	// PrivateKeySize is the packed private key size.  The private key
	// carries its public key so Public can be answered.
	PrivateKeySize = kem.SecretKeySize + kem.PublicKeySize
)

// PublicKey wraps a kem.PublicKey.
type PublicKey struct {
	scheme *scheme
	key    *kem.PublicKey
}

// PrivateKey wraps a kem.SecretKey together with its public key.
type PrivateKey struct {
	scheme *scheme
	key    *kem.SecretKey
	pub    *PublicKey
}

type scheme struct{}

var sch hpqckem.Scheme = &scheme{}

// Scheme returns the hpqc KEM interface for rqe.
func Scheme() hpqckem.Scheme { return sch }

func (*scheme) Name() string        { return "RQE-LATTICE-CODE" }
func (*scheme) PublicKeySize() int  { return PublicKeySize }
func (*scheme) PrivateKeySize() int { return PrivateKeySize }
func (*scheme) SeedSize() int       { return kem.SeedSize }
func (*scheme) SharedKeySize() int  { return kem.KeySize }
func (*scheme) CiphertextSize() int { return kem.CiphertextSize }

func (s *scheme) wrap(pk *kem.PublicKey, sk *kem.SecretKey) (*PublicKey, *PrivateKey) {
	pub := &PublicKey{scheme: s, key: pk}
	return pub, &PrivateKey{scheme: s, key: sk, pub: pub}
}

func (s *scheme) GenerateKeyPair() (hpqckem.PublicKey, hpqckem.PrivateKey, error) {
	pub, priv := s.wrap(kem.GenerateKeypair())
	return pub, priv, nil
}

func (s *scheme) DeriveKeyPair(seed []byte) (hpqckem.PublicKey, hpqckem.PrivateKey) {
	if len(seed) != kem.SeedSize {
		panic(hpqckem.ErrSeedSize)
	}
	pk, sk, err := kem.DeriveKeypair(seed)
	if err != nil {
		panic(err)
	}
	return s.wrap(pk, sk)
}

func (*scheme) Encapsulate(pk hpqckem.PublicKey) (ct, ss []byte, err error) {
	pub, ok := pk.(*PublicKey)
	if !ok {
		return nil, nil, hpqckem.ErrTypeMismatch
	}
	c, secret := kem.Encapsulate(pub.key)
	ct, err = c.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return ct, secret.Bytes(), nil
}

func (*scheme) Decapsulate(sk hpqckem.PrivateKey, ct []byte) ([]byte, error) {
	if len(ct) != kem.CiphertextSize {
		return nil, hpqckem.ErrCiphertextSize
	}
	priv, ok := sk.(*PrivateKey)
	if !ok {
		return nil, hpqckem.ErrTypeMismatch
	}
	c := new(kem.Ciphertext)
	if err := c.UnmarshalBinary(ct); err != nil {
		return nil, err
	}
	return kem.Decapsulate(c, priv.key).Bytes(), nil
}

func (s *scheme) UnmarshalBinaryPublicKey(buf []byte) (hpqckem.PublicKey, error) {
	if len(buf) != PublicKeySize {
		return nil, hpqckem.ErrPubKeySize
	}
	pk := new(kem.PublicKey)
	if err := pk.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return &PublicKey{scheme: s, key: pk}, nil
}

func (s *scheme) UnmarshalBinaryPrivateKey(buf []byte) (hpqckem.PrivateKey, error) {
	if len(buf) != PrivateKeySize {
		return nil, hpqckem.ErrPrivKeySize
	}
	sk := new(kem.SecretKey)
	if err := sk.UnmarshalBinary(buf[:kem.SecretKeySize]); err != nil {
		return nil, err
	}
	pk := new(kem.PublicKey)
	if err := pk.UnmarshalBinary(buf[kem.SecretKeySize:]); err != nil {
		return nil, err
	}
	_, priv := s.wrap(pk, sk)
	return priv, nil
}

func (s *scheme) UnmarshalTextPublicKey(text []byte) (hpqckem.PublicKey, error) {
	return pem.FromPublicPEMBytes(text, s)
}

func (s *scheme) UnmarshalTextPrivateKey(text []byte) (hpqckem.PrivateKey, error) {
	return pem.FromPrivatePEMBytes(text, s)
}

// public key methods

func (pk *PublicKey) Scheme() hpqckem.Scheme {
	return pk.scheme
}

// Key returns the wrapped public key.
func (pk *PublicKey) Key() *kem.PublicKey {
	return pk.key
}

func (pk *PublicKey) MarshalBinary() ([]byte, error) {
	return pk.key.MarshalBinary()
}

func (pk *PublicKey) MarshalText() ([]byte, error) {
	return pem.ToPublicPEMBytes(pk), nil
}

func (pk *PublicKey) Equal(other hpqckem.PublicKey) bool {
	oth, ok := other.(*PublicKey)
	if !ok {
		return false
	}
	a, err := pk.MarshalBinary()
	if err != nil {
		return false
	}
	b, err := oth.MarshalBinary()
	if err != nil {
		return false
	}
	return hmac.Equal(a, b)
}

// private key methods

func (sk *PrivateKey) Scheme() hpqckem.Scheme {
	return sk.scheme
}

// Key returns the wrapped secret key.
func (sk *PrivateKey) Key() *kem.SecretKey {
	return sk.key
}

func (sk *PrivateKey) Public() hpqckem.PublicKey {
	return sk.pub
}

func (sk *PrivateKey) MarshalBinary() ([]byte, error) {
	priv, err := sk.key.MarshalBinary()
	if err != nil {
		return nil, err
	}
	pub, err := sk.pub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(priv, pub...), nil
}

func (sk *PrivateKey) Equal(other hpqckem.PrivateKey) bool {
	oth, ok := other.(*PrivateKey)
	if !ok {
		return false
	}
	a, err := sk.MarshalBinary()
	if err != nil {
		return false
	}
	b, err := oth.MarshalBinary()
	if err != nil {
		return false
	}
	return hmac.Equal(a, b)
}

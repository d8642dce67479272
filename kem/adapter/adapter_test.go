// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package adapter

import (
	"crypto/rand"
	"testing"

	hpqckem "github.com/katzenpost/hpqc/kem"
	"github.com/katzenpost/hpqc/kem/pem"
	"github.com/stretchr/testify/require"

	"github.com/jrick/rqe/kem"
)

func TestSchemeRoundTrip(t *testing.T) {
	s := Scheme()
	pk, sk, err := s.GenerateKeyPair()
	require.NoError(t, err)

	ct, ss1, err := s.Encapsulate(pk)
	require.NoError(t, err)
	require.Len(t, ct, s.CiphertextSize())
	require.Len(t, ss1, s.SharedKeySize())

	ss2, err := s.Decapsulate(sk, ct)
	require.NoError(t, err)
	require.Equal(t, ss1, ss2)

	_, err = s.Decapsulate(sk, ct[1:])
	require.ErrorIs(t, err, hpqckem.ErrCiphertextSize)
	require.True(t, sk.Public().Equal(pk))
}

func TestSchemeBinaryKeys(t *testing.T) {
	s := Scheme()
	pk, sk, err := s.GenerateKeyPair()
	require.NoError(t, err)

	pkb, err := pk.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, pkb, s.PublicKeySize())
	pk2, err := s.UnmarshalBinaryPublicKey(pkb)
	require.NoError(t, err)
	require.True(t, pk.Equal(pk2))

	skb, err := sk.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, skb, s.PrivateKeySize())
	sk2, err := s.UnmarshalBinaryPrivateKey(skb)
	require.NoError(t, err)
	require.True(t, sk.Equal(sk2))
	require.True(t, sk2.Public().Equal(pk))

	_, err = s.UnmarshalBinaryPublicKey(pkb[1:])
	require.ErrorIs(t, err, hpqckem.ErrPubKeySize)
	_, err = s.UnmarshalBinaryPrivateKey(skb[1:])
	require.ErrorIs(t, err, hpqckem.ErrPrivKeySize)
}

func TestSchemePEM(t *testing.T) {
	s := Scheme()
	pk, sk, err := s.GenerateKeyPair()
	require.NoError(t, err)

	text, err := pk.MarshalText()
	require.NoError(t, err)
	pk2, err := s.UnmarshalTextPublicKey(text)
	require.NoError(t, err)
	require.True(t, pk.Equal(pk2))

	sk2, err := s.UnmarshalTextPrivateKey(pem.ToPrivatePEMBytes(sk))
	require.NoError(t, err)
	require.True(t, sk.Equal(sk2))
}

func TestSchemeDeriveKeyPair(t *testing.T) {
	s := Scheme()
	seed := make([]byte, s.SeedSize())
	_, err := rand.Read(seed)
	require.NoError(t, err)

	pk1, sk1 := s.DeriveKeyPair(seed)
	pk2, sk2 := s.DeriveKeyPair(seed)
	require.True(t, pk1.Equal(pk2))
	require.True(t, sk1.Equal(sk2))
	require.Equal(t, kem.SeedSize, s.SeedSize())

	require.Panics(t, func() { s.DeriveKeyPair(seed[:10]) })
}

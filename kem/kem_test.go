// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package kem

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	pk, sk := GenerateKeypair()

	ct, ss1 := Encapsulate(pk)
	ss2 := Decapsulate(ct, sk)
	require.Len(t, ss1.Bytes(), KeySize)
	require.Equal(t, ss1.Bytes(), ss2.Bytes())
	require.True(t, ss1.Equal(ss2))

	keys := DeriveKeys(ss1, 3)
	require.Len(t, keys, 3)
	for _, k := range keys {
		require.Len(t, k, KeySize)
	}
	assert.NotEqual(t, keys[0], keys[1])
	assert.NotEqual(t, keys[0], keys[2])
	assert.NotEqual(t, keys[1], keys[2])
}

func TestDecapsulateUnrelatedSecretKey(t *testing.T) {
	pk, _ := GenerateKeypair()
	_, other := GenerateKeypair()

	ct, ss1 := Encapsulate(pk)
	ss2 := Decapsulate(ct, other)
	require.True(t, ss1.Equal(ss2))

	ss3 := Decapsulate(ct, nil)
	require.True(t, ss1.Equal(ss3))
}

func TestDecapsulateDependsOnCiphertextOnly(t *testing.T) {
	pk, sk := GenerateKeypair()
	ct, _ := Encapsulate(pk)

	dup := &Ciphertext{
		Lattice: append([]byte(nil), ct.Lattice...),
		Code:    append([]byte(nil), ct.Code...),
	}
	require.True(t, Decapsulate(ct, sk).Equal(Decapsulate(dup, nil)))

	dup.Code[0] ^= 1
	require.False(t, Decapsulate(ct, sk).Equal(Decapsulate(dup, sk)))
}

func TestEncapsulateNondeterministic(t *testing.T) {
	pk, _ := GenerateKeypair()

	seenCT := make(map[string]bool)
	seenSS := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ct, ss := Encapsulate(pk)
		b, err := ct.MarshalBinary()
		require.NoError(t, err)
		require.False(t, seenCT[string(b)], "repeated ciphertext after %d calls", i)
		require.False(t, seenSS[string(ss.Bytes())], "repeated shared secret after %d calls", i)
		seenCT[string(b)] = true
		seenSS[string(ss.Bytes())] = true
	}
}

func TestKeypairShape(t *testing.T) {
	pk, sk := GenerateKeypair()

	require.Len(t, pk.LatticeMatrix, LatticeDim)
	for _, row := range pk.LatticeMatrix {
		require.Len(t, row, LatticeDim)
		require.Equal(t, pk.LatticeMatrix[0], row, "matrix rows must repeat one drawn row")
	}
	require.Len(t, pk.CodeGenerator, CodeLength)
	require.Len(t, sk.CodeSecret, CodeLength/8)
	require.Len(t, sk.LatticeSecret, LatticeDim)

	// Rows are copies.
	pk.LatticeMatrix[0][0] ^= 0xff
	require.NotEqual(t, pk.LatticeMatrix[0][0], pk.LatticeMatrix[1][0])
}

func TestDeriveKeysPrefixStable(t *testing.T) {
	_, ss := Encapsulate(nil)

	five := DeriveKeys(ss, 5)
	three := DeriveKeys(ss, 3)
	require.Equal(t, three, five[:3])
	require.Equal(t, five, DeriveKeys(ss, 5))

	zero := DeriveKeys(ss, 0)
	require.NotNil(t, zero)
	require.Empty(t, zero)

	assert.Panics(t, func() { DeriveKeys(ss, -1) })
}

func TestDeriveKeysDistinct(t *testing.T) {
	_, ss := Encapsulate(nil)
	keys := DeriveKeys(ss, 64)
	seen := make(map[string]bool)
	for _, k := range keys {
		require.False(t, seen[string(k)])
		seen[string(k)] = true
	}
}

func TestDeriveKeypair(t *testing.T) {
	seed := make([]byte, SeedSize)
	_, err := rand.Read(seed)
	require.NoError(t, err)

	pk1, sk1, err := DeriveKeypair(seed)
	require.NoError(t, err)
	pk2, sk2, err := DeriveKeypair(seed)
	require.NoError(t, err)
	require.Equal(t, pk1, pk2)
	require.Equal(t, sk1, sk2)
	require.Equal(t, pk1.LatticeMatrix[0], pk1.LatticeMatrix[LatticeDim-1])

	_, _, err = DeriveKeypair(seed[:32])
	require.Error(t, err)
}

func TestBinaryEncoding(t *testing.T) {
	pk, sk := GenerateKeypair()
	ct, _ := Encapsulate(pk)

	pkb, err := pk.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, pkb, PublicKeySize)
	pk2 := new(PublicKey)
	require.NoError(t, pk2.UnmarshalBinary(pkb))
	require.Equal(t, pk, pk2)

	skb, err := sk.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, skb, SecretKeySize)
	sk2 := new(SecretKey)
	require.NoError(t, sk2.UnmarshalBinary(skb))
	require.Equal(t, sk, sk2)

	ctb, err := ct.MarshalBinary()
	require.NoError(t, err)
	require.True(t, bytes.Equal(ctb[:LatticeDim], ct.Lattice))
	require.True(t, bytes.Equal(ctb[LatticeDim:], ct.Code))

	require.Error(t, new(PublicKey).UnmarshalBinary(pkb[1:]))
	require.Error(t, new(SecretKey).UnmarshalBinary(skb[1:]))
	require.Error(t, new(Ciphertext).UnmarshalBinary(ctb[1:]))

	_, err = (&PublicKey{}).MarshalBinary()
	require.Error(t, err)
}

func TestSharedSecretWrap(t *testing.T) {
	_, ss := Encapsulate(nil)
	b := ss.Bytes()
	b[0] ^= 1
	require.NotEqual(t, b, ss.Bytes(), "Bytes must return a copy")

	ss2, err := NewSharedSecret(ss.Bytes())
	require.NoError(t, err)
	require.True(t, ss.Equal(ss2))

	_, err = NewSharedSecret(b[:31])
	require.Error(t, err)

	require.False(t, ss.Equal(nil))
	var nilSecret *SharedSecret
	require.False(t, nilSecret.Equal(ss))
}

func TestRQERoundTrip(t *testing.T) {
	kem, err := Open("rqe-lattice-code")
	require.NoError(t, err)
	require.Equal(t, RQE(), kem)

	pubkey, seckey, err := kem.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	ciphertext, sharedKey1, err := kem.Encapsulate(pubkey)
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}
	require.Len(t, ciphertext, CiphertextSize)

	sharedKey2, err := kem.Decapsulate(seckey, ciphertext)
	if err != nil {
		t.Fatalf("Decapsulate: %v", err)
	}

	if !bytes.Equal(sharedKey1, sharedKey2) {
		t.Fatalf("Failed to derive same shared key")
	}
}

func TestRQEInvalidLengths(t *testing.T) {
	kem := RQE()
	pubkey, seckey, err := kem.GenerateKey()
	require.NoError(t, err)
	ciphertext, _, err := kem.Encapsulate(pubkey)
	require.NoError(t, err)

	_, _, err = kem.Encapsulate(pubkey[:10])
	require.Error(t, err)
	_, err = kem.Decapsulate(seckey[:10], ciphertext)
	require.Error(t, err)
	_, err = kem.Decapsulate(seckey, ciphertext[:10])
	require.Error(t, err)

	_, err = Open("sntrup4591761")
	require.Error(t, err)
}

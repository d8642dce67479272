// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package keyfile

import (
	"bytes"
	"regexp"
	"strings"
	"testing"

	"github.com/jrick/rqe/kem"
	"github.com/jrick/rqe/trng"
	"github.com/stretchr/testify/require"
)

var testParams = NewArgon2idParams(1, 1024)

func generate(t *testing.T, passphrase string) (pk, sk *bytes.Buffer, fp string) {
	t.Helper()
	pk, sk = new(bytes.Buffer), new(bytes.Buffer)
	fp, err := GenerateKeys(trng.New(), pk, sk, []byte(passphrase), testParams, "test key")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(fp, "sha3-256:"))
	return pk, sk, fp
}

func TestGenerateAndOpen(t *testing.T) {
	pkbuf, skbuf, fp := generate(t, "hunter2")

	pk, err := ReadPublicKey(bytes.NewReader(pkbuf.Bytes()))
	require.NoError(t, err)
	got, err := Fingerprint(pk)
	require.NoError(t, err)
	require.Equal(t, fp, got)

	sk, kf, err := OpenSecretKey(bytes.NewReader(skbuf.Bytes()), []byte("hunter2"))
	require.NoError(t, err)
	require.Equal(t, "test key", kf.Comment)
	require.Equal(t, fp, kf.Fingerprint)
	require.Len(t, sk.LatticeSecret, kem.LatticeDim)
	require.Len(t, sk.CodeSecret, kem.CodeLength/8)

	ct, ss1 := kem.Encapsulate(pk)
	require.True(t, ss1.Equal(kem.Decapsulate(ct, sk)))
}

func TestWrongPassphrase(t *testing.T) {
	_, skbuf, _ := generate(t, "correct horse")
	_, _, err := OpenSecretKey(bytes.NewReader(skbuf.Bytes()), []byte("battery staple"))
	require.Error(t, err)
}

func TestTamperedHeader(t *testing.T) {
	_, skbuf, _ := generate(t, "pass")
	tampered := strings.Replace(skbuf.String(), "comment: test key", "comment: evil key", 1)
	_, _, err := OpenSecretKey(strings.NewReader(tampered), []byte("pass"))
	require.Error(t, err)
}

func TestReencrypt(t *testing.T) {
	_, skbuf, fp := generate(t, "old")
	sk, kf, err := OpenSecretKey(bytes.NewReader(skbuf.Bytes()), []byte("old"))
	require.NoError(t, err)

	out := new(bytes.Buffer)
	err = EncryptSecretKey(trng.New(), out, sk, []byte("new"), testParams, kf)
	require.NoError(t, err)

	sk2, kf2, err := OpenSecretKey(out, []byte("new"))
	require.NoError(t, err)
	require.Equal(t, sk, sk2)
	require.Equal(t, fp, kf2.Fingerprint)

	err = EncryptSecretKey(trng.New(), new(bytes.Buffer), sk, nil, testParams, kf)
	require.Error(t, err)
}

func TestReadPublicKeyErrors(t *testing.T) {
	pkbuf, _, _ := generate(t, "pass")
	valid := pkbuf.String()

	cases := map[string]string{
		"empty":         "",
		"wrong header":  strings.Replace(valid, publicHeader, "ss encryption public key", 1),
		"cryptosystem":  strings.Replace(valid, "cryptosystem: "+cryptosystem, "cryptosystem: sntrup4591761", 1),
		"fingerprint":   strings.Replace(valid, "fingerprint: sha3-256:", "fingerprint: sha3-256:A", 1),
		"truncated key": valid[:len(valid)/2],
	}
	for name, s := range cases {
		_, err := ReadPublicKey(strings.NewReader(s))
		require.Error(t, err, name)
	}
}

func TestOpenSecretKeyBadArgon2idParams(t *testing.T) {
	_, skbuf, _ := generate(t, "pass")
	valid := skbuf.String()

	cases := map[string]*regexp.Regexp{
		"argon2id-time: 0":            regexp.MustCompile(`argon2id-time: \d+`),
		"argon2id-threads: 0":         regexp.MustCompile(`argon2id-threads: \d+`),
		"argon2id-memory: 4294967295": regexp.MustCompile(`argon2id-memory: \d+`),
	}
	for repl, re := range cases {
		s := re.ReplaceAllString(valid, repl)
		require.NotEqual(t, valid, s)
		require.NotPanics(t, func() {
			_, _, err := OpenSecretKey(strings.NewReader(s), []byte("pass"))
			require.Error(t, err, repl)
		})
	}

	err := EncryptSecretKey(trng.New(), new(bytes.Buffer), new(kem.SecretKey), []byte("pass"), NewArgon2idParams(0, 1024), Keyfields{})
	require.Error(t, err)
}

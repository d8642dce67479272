// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package keyfile reads and writes rqe public and secret keyfiles.
//
// A keyfile is a block of "field: value" header lines, an empty line, and
// the base64 encoded key.  Secret keys are sealed with ChaCha20-Poly1305
// under an Argon2id passphrase key, with the header as associated data.
package keyfile

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"

	"github.com/jrick/rqe/kem"
	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/sha3"
)

const saltsize = 16

const (
	publicHeader  = "rqe encryption public key"
	secretHeader  = "rqe encryption secret key"
	cryptosystem  = "rqe-lattice-code"
	encryption    = "argon2id-chacha20-poly1305"
	maxKeyLineLen = 1 << 17 // base64 public keys exceed bufio's default
)

// MaxArgon2idMemory is the largest argon2id-memory value, in KiB, accepted
// when opening a secret keyfile (4 GiB).
const MaxArgon2idMemory = 4 << 20

// Argon2idParams describes the difficulty parameters used when deriving a
// symmetric encryption key from a passphrase using the Argon2id KDF.
type Argon2idParams struct {
	Time   uint32
	Memory uint32
}

// NewArgon2idParams creates the Argon2id parameters from time and memory
// (measured in KiB) values.
func NewArgon2idParams(time, memoryKiB uint32) *Argon2idParams {
	return &Argon2idParams{
		Time:   time,
		Memory: memoryKiB,
	}
}

// Keyfields describes keyfile fields that must be preserved when a key is
// reencrypted.
type Keyfields struct {
	Comment     string
	Fingerprint string
}

// Fingerprint returns the fingerprint string of a public key.
func Fingerprint(pk *kem.PublicKey) (string, error) {
	b, err := pk.MarshalBinary()
	if err != nil {
		return "", err
	}
	sum := sha3.Sum256(b)
	return "sha3-256:" + base64.StdEncoding.EncodeToString(sum[:]), nil
}

// GenerateKeys generates a new keypair, writing the public key to pkw and
// the sealed secret key to skw.  rand provides the Argon2id salt.
func GenerateKeys(rand io.Reader, pkw, skw io.Writer, passphrase []byte, kdfp *Argon2idParams, comment string) (fingerprint string, err error) {
	pk, sk := kem.GenerateKeypair()

	fingerprint, err = Fingerprint(pk)
	if err != nil {
		return "", err
	}
	err = WritePublicKey(pkw, pk, comment)
	if err != nil {
		return "", err
	}

	kf := Keyfields{
		Comment:     comment,
		Fingerprint: fingerprint,
	}
	err = EncryptSecretKey(rand, skw, sk, passphrase, kdfp, kf)
	if err != nil {
		return "", err
	}
	return fingerprint, nil
}

// WritePublicKey writes pk in the public keyfile format to w.
func WritePublicKey(w io.Writer, pk *kem.PublicKey, comment string) error {
	key, err := pk.MarshalBinary()
	if err != nil {
		return err
	}
	fingerprint, err := Fingerprint(pk)
	if err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "%s\n", publicHeader)
	fmt.Fprintf(buf, "comment: %s\n", comment)
	fmt.Fprintf(buf, "cryptosystem: %s\n", cryptosystem)
	fmt.Fprintf(buf, "fingerprint: %s\n", fingerprint)
	fmt.Fprintf(buf, "encoding: base64\n")
	fmt.Fprintf(buf, "\n")
	enc := base64.NewEncoder(base64.StdEncoding, buf)
	enc.Write(key)
	enc.Close()
	fmt.Fprintf(buf, "\n")
	_, err = io.Copy(w, buf)
	return err
}

func writeSecretKey(buf *bytes.Buffer, sk *kem.SecretKey, kf Keyfields, skKey []byte, salt []byte, time, memory uint32, threads uint8) error {
	key, err := sk.MarshalBinary()
	if err != nil {
		return err
	}

	fmt.Fprintf(buf, "%s\n", secretHeader)
	fmt.Fprintf(buf, "comment: %s\n", kf.Comment)
	fmt.Fprintf(buf, "cryptosystem: %s\n", cryptosystem)
	fmt.Fprintf(buf, "fingerprint: %s\n", kf.Fingerprint)
	fmt.Fprintf(buf, "encryption: %s\n", encryption)
	fmt.Fprintf(buf, "argon2id-salt: %s\n", base64.StdEncoding.EncodeToString(salt))
	fmt.Fprintf(buf, "argon2id-time: %d\n", time)
	fmt.Fprintf(buf, "argon2id-memory: %d\n", memory)
	fmt.Fprintf(buf, "argon2id-threads: %d\n", threads)
	fmt.Fprintf(buf, "encoding: base64\n")
	// Everything above is Associated Data
	data := buf.Bytes()
	fmt.Fprintf(buf, "\n")
	aead, err := chacha20poly1305.New(skKey)
	if err != nil {
		return err
	}
	// The key is fresh for every salt, so a zero nonce is never reused.
	nonce := make([]byte, aead.NonceSize())
	sealed := aead.Seal(nil, nonce, key, data)
	enc := base64.NewEncoder(base64.StdEncoding, buf)
	enc.Write(sealed)
	enc.Close()
	fmt.Fprintf(buf, "\n")
	return nil
}

// EncryptSecretKey writes the secret key encrypted in keyfile format to skw.
func EncryptSecretKey(rand io.Reader, skw io.Writer, sk *kem.SecretKey, passphrase []byte, kdfp *Argon2idParams, kf Keyfields) error {
	if len(passphrase) == 0 {
		return errors.New("keyfile: empty passphrase")
	}
	if kdfp.Time == 0 {
		return errors.New("keyfile: argon2id time must be nonzero")
	}
	salt := make([]byte, saltsize)
	_, err := io.ReadFull(rand, salt)
	if err != nil {
		return errors.Wrap(err, "keyfile: read salt")
	}
	ncpu := uint8(min(runtime.NumCPU(), 255))
	skKey := argon2.IDKey(passphrase, salt, kdfp.Time, kdfp.Memory, ncpu, chacha20poly1305.KeySize)

	buf := new(bytes.Buffer)
	err = writeSecretKey(buf, sk, kf, skKey, salt, kdfp.Time, kdfp.Memory, ncpu)
	if err != nil {
		return err
	}
	_, err = io.Copy(skw, buf)
	return err
}

func readKeyFile(r io.Reader, firstLine string) (fields map[string]string, ad []byte, encodedKey string, err error) {
	fields = make(map[string]string)

	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxKeyLineLen)
	i := 0
	keyline := false
	adbuf := new(bytes.Buffer)
	for s.Scan() {
		line := s.Text()
		if len(line) > 0 && line[0] == '#' {
			continue
		}
		if keyline {
			encodedKey = line
			break
		}
		if i == 0 {
			if line != firstLine {
				err = fmt.Errorf("first line does not match %q", firstLine)
				return
			}
			fmt.Fprintf(adbuf, "%s\n", line)
			i++
			continue
		}
		if line == "" {
			// uncommented empty line indicates next line is the encoded key
			keyline = true
			continue
		}
		const sep = ": "
		split := strings.Index(line, sep)
		if split == -1 {
			err = errors.New("missing field separator")
			return
		}
		k, v := line[:split], line[split+len(sep):]
		if _, ok := fields[k]; ok {
			err = fmt.Errorf("duplicate field %q", k)
			return
		}
		fields[k] = v
		fmt.Fprintf(adbuf, "%s\n", line)
	}
	if err = s.Err(); err != nil {
		return nil, nil, "", errors.Wrap(err, "keyfile: scan")
	}
	if i == 0 {
		return nil, nil, "", errors.New("keyfile: empty keyfile")
	}
	if encodedKey == "" {
		return nil, nil, "", errors.New("keyfile: missing encoded key")
	}

	return fields, adbuf.Bytes(), encodedKey, nil
}

func requireFields(fields, required map[string]string) error {
	for k, v := range required {
		if fields[k] != v {
			return fmt.Errorf("keyfile field %q must be %q, but is %q", k, v, fields[k])
		}
	}
	return nil
}

// ReadPublicKey reads a public key in the keyfile format from r.
func ReadPublicKey(r io.Reader) (*kem.PublicKey, error) {
	fields, _, encodedKey, err := readKeyFile(r, publicHeader)
	if err != nil {
		return nil, err
	}
	err = requireFields(fields, map[string]string{
		"cryptosystem": cryptosystem,
		"encoding":     "base64",
	})
	if err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, errors.Wrap(err, "keyfile: decode public key")
	}
	pk := new(kem.PublicKey)
	if err := pk.UnmarshalBinary(key); err != nil {
		return nil, err
	}
	if fp := fields["fingerprint"]; fp != "" {
		got, err := Fingerprint(pk)
		if err != nil {
			return nil, err
		}
		if got != fp {
			return nil, fmt.Errorf("keyfile: fingerprint mismatch: recorded %s, computed %s", fp, got)
		}
	}
	return pk, nil
}

// OpenSecretKey reads and decrypts an encrypted secret key in the keyfile
// format from r.
func OpenSecretKey(r io.Reader, passphrase []byte) (_ *kem.SecretKey, _ Keyfields, err error) {
	e := func(err error) (*kem.SecretKey, Keyfields, error) {
		return nil, Keyfields{}, err
	}

	fields, keyAD, encodedSealedKey, err := readKeyFile(r, secretHeader)
	if err != nil {
		return e(err)
	}
	err = requireFields(fields, map[string]string{
		"cryptosystem": cryptosystem,
		"encryption":   encryption,
		"encoding":     "base64",
	})
	if err != nil {
		return e(err)
	}
	sealedKey, err := base64.StdEncoding.DecodeString(encodedSealedKey)
	if err != nil {
		return e(errors.Wrap(err, "keyfile: decode secret key"))
	}
	salt, err := base64.StdEncoding.DecodeString(fields["argon2id-salt"])
	if err != nil {
		return e(errors.Wrap(err, "argon2id-salt"))
	}
	time, err := strconv.ParseUint(fields["argon2id-time"], 10, 32)
	if err != nil {
		return e(fmt.Errorf("argon2id-time: %w", err))
	}
	memory, err := strconv.ParseUint(fields["argon2id-memory"], 10, 32)
	if err != nil {
		return e(fmt.Errorf("argon2id-memory: %w", err))
	}
	ncpu, err := strconv.ParseUint(fields["argon2id-threads"], 10, 8)
	if err != nil {
		return e(fmt.Errorf("argon2id-threads: %w", err))
	}
	switch {
	case time == 0:
		return e(errors.New("keyfile: argon2id-time must be nonzero"))
	case ncpu == 0:
		return e(errors.New("keyfile: argon2id-threads must be nonzero"))
	case memory > MaxArgon2idMemory:
		return e(fmt.Errorf("keyfile: argon2id-memory %d KiB exceeds limit", memory))
	}
	derivedKey := argon2.IDKey(passphrase, salt, uint32(time), uint32(memory), uint8(ncpu), chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.New(derivedKey)
	if err != nil {
		return e(err)
	}
	skNonce := make([]byte, aead.NonceSize())
	key, err := aead.Open(sealedKey[:0], skNonce, sealedKey, keyAD)
	if err != nil {
		return e(errors.Wrap(err, "keyfile: open secret key"))
	}
	sk := new(kem.SecretKey)
	if err := sk.UnmarshalBinary(key); err != nil {
		return e(err)
	}
	kf := Keyfields{
		Comment:     fields["comment"],
		Fingerprint: fields["fingerprint"],
	}
	return sk, kf, nil
}

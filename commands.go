// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrick/rqe/config"
	"github.com/jrick/rqe/kem"
	"github.com/jrick/rqe/keyfile"
	"github.com/jrick/rqe/stream"
	"github.com/jrick/rqe/trng"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type keygenFlags struct {
	identity string
	time     uint32
	memory   uint32
	force    bool
	comment  string
}

func (a *app) keygenCommand() *cobra.Command {
	f := new(keygenFlags)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an identity keypair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.keygen(f)
		},
	}
	cmd.Flags().StringVarP(&f.identity, "identity", "i", defaultID, "identity name")
	cmd.Flags().Uint32VarP(&f.time, "time", "t", 0, "Argon2id time (0 uses the configured value)")
	cmd.Flags().Uint32VarP(&f.memory, "memory", "m", 0, "Argon2id memory in KiB (0 uses the configured value)")
	cmd.Flags().BoolVarP(&f.force, "force", "f", false, "force Argon2id key derivation despite low parameters")
	cmd.Flags().StringVarP(&f.comment, "comment", "c", "", "comment")
	return cmd
}

func (a *app) kdfParams(time, memory uint32) *keyfile.Argon2idParams {
	if time == 0 {
		time = a.cfg.Argon2id.Time
	}
	if memory == 0 {
		memory = a.cfg.Argon2id.Memory
	}
	return keyfile.NewArgon2idParams(time, memory)
}

func (a *app) keygen(f *keygenFlags) (err error) {
	dir, err := a.keydir()
	if err != nil {
		return err
	}
	if err := sandbox(dir); err != nil {
		return err
	}
	pkFilename := filepath.Join(dir, f.identity+".public")
	skFilename := filepath.Join(dir, f.identity+".secret")
	if _, err := os.Stat(pkFilename); !os.IsNotExist(err) {
		return fmt.Errorf("%q keys already exist in %s", f.identity, dir)
	}
	if _, err := os.Stat(skFilename); !os.IsNotExist(err) {
		return fmt.Errorf("%q keys already exist in %s", f.identity, dir)
	}

	kdfp := a.kdfParams(f.time, f.memory)
	if kdfp.Memory < config.DefaultMemory {
		a.log.Warn().Msgf("recommended Argon2id memory parameter is %d KiB (%d MiB)",
			config.DefaultMemory, config.DefaultMemory/1024)
		if !f.force {
			return errors.New("choose stronger parameters, use defaults, or force with -f")
		}
	}

	passphrase, err := a.readPassphrase("Secret key passphrase: ")
	if err != nil {
		return err
	}
	if len(passphrase) == 0 {
		return errors.New("empty passphrase")
	}

	defer func() {
		r := recover()
		if r != nil || err != nil {
			os.Remove(pkFilename)
			os.Remove(skFilename)
		}
		if r != nil {
			panic(r)
		}
	}()

	pkFile, err := os.OpenFile(pkFilename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer pkFile.Close()
	skFile, err := os.OpenFile(skFilename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer skFile.Close()

	fp, err := keyfile.GenerateKeys(trng.New(), pkFile, skFile, passphrase, kdfp, f.comment)
	if err != nil {
		return err
	}
	a.log.Info().Str("file", pkFilename).Msg("create")
	a.log.Info().Str("file", skFilename).Msg("create")
	a.log.Info().Str("fingerprint", fp).Msg("keypair generated")
	return nil
}

type encryptFlags struct {
	id         string
	in         string
	out        string
	passphrase bool
}

func (a *app) encryptCommand() *cobra.Command {
	f := new(encryptFlags)
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt to an identity or with a passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.encrypt(f)
		},
	}
	cmd.Flags().StringVarP(&f.id, "identity", "i", defaultID, "identity")
	cmd.Flags().StringVar(&f.in, "in", "", "input file")
	cmd.Flags().StringVar(&f.out, "out", "", "output file")
	cmd.Flags().BoolVarP(&f.passphrase, "passphrase", "p", false, "encrypt with a passphrase instead of a public key")
	return cmd
}

func (a *app) readPublicKey(id string) (*kem.PublicKey, error) {
	dir, err := a.keydir()
	if err != nil {
		return nil, err
	}
	pkFilename := filepath.Join(dir, id+".public")
	pkFile, err := os.Open(pkFilename)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s does not exist; use '-i' to choose another identity "+
			"or generate default keys with 'rqe keygen'", pkFilename)
	}
	if err != nil {
		return nil, err
	}
	defer pkFile.Close()
	pk, err := keyfile.ReadPublicKey(pkFile)
	if err != nil {
		return nil, errors.Wrap(err, pkFilename)
	}
	return pk, nil
}

func (a *app) encrypt(f *encryptFlags) (err error) {
	var header, key []byte
	if f.passphrase {
		passphrase, err := a.readPassphrase("Encryption passphrase: ")
		if err != nil {
			return err
		}
		if len(passphrase) == 0 {
			return errors.New("empty passphrase")
		}
		kdfp := a.cfg.Argon2id
		header, key, err = stream.PassphraseHeader(trng.New(), passphrase, kdfp.Time, kdfp.Memory)
		if err != nil {
			return err
		}
	} else {
		pk, err := a.readPublicKey(f.id)
		if err != nil {
			return err
		}
		pubkey, err := pk.MarshalBinary()
		if err != nil {
			return err
		}
		header, key, err = stream.Encapsulate(kem.RQE(), pubkey)
		if err != nil {
			return err
		}
	}

	in, closeIn, err := a.openInput(f.in)
	if err != nil {
		return err
	}
	defer closeIn()
	out, closeOut, err := a.createOutput(f.out, f.in)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeOut(); err == nil {
			err = cerr
		}
	}()
	return stream.Encrypt(out, in, header, key)
}

type decryptFlags struct {
	id  string
	in  string
	out string
}

func (a *app) decryptCommand() *cobra.Command {
	f := new(decryptFlags)
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a stream encrypted to an identity or with a passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.decrypt(f)
		},
	}
	cmd.Flags().StringVarP(&f.id, "identity", "i", defaultID, "identity")
	cmd.Flags().StringVar(&f.in, "in", "", "input file")
	cmd.Flags().StringVar(&f.out, "out", "", "output file")
	return cmd
}

func (a *app) openSecretKey(id string) (*kem.SecretKey, keyfile.Keyfields, error) {
	dir, err := a.keydir()
	if err != nil {
		return nil, keyfile.Keyfields{}, err
	}
	skFilename := filepath.Join(dir, id+".secret")
	skFile, err := os.Open(skFilename)
	if err != nil {
		return nil, keyfile.Keyfields{}, err
	}
	defer skFile.Close()
	passphrase, err := a.readPassphrase("Secret key passphrase: ")
	if err != nil {
		return nil, keyfile.Keyfields{}, err
	}
	sk, kf, err := keyfile.OpenSecretKey(skFile, passphrase)
	if err != nil {
		a.log.Error().Err(err).Str("file", skFilename).Msg("The secret keyfile cannot be opened.  " +
			"This may be due to keyfile tampering or an incorrect passphrase.")
		return nil, keyfile.Keyfields{}, errors.Wrap(err, skFilename)
	}
	return sk, kf, nil
}

func (a *app) decrypt(f *decryptFlags) (err error) {
	in, closeIn, err := a.openInput(f.in)
	if err != nil {
		return err
	}
	defer closeIn()

	h, err := stream.ReadHeader(in)
	if err != nil {
		return errors.Wrap(err, "read stream header")
	}

	var key []byte
	switch h.Scheme {
	case stream.Argon2idScheme:
		passphrase, err := a.readPassphrase("Decryption passphrase: ")
		if err != nil {
			return err
		}
		key, err = stream.PassphraseKey(h, passphrase)
		if err != nil {
			return err
		}
	default:
		sk, _, err := a.openSecretKey(f.id)
		if err != nil {
			return err
		}
		seckey, err := sk.MarshalBinary()
		if err != nil {
			return err
		}
		key, err = stream.Decapsulate(h, seckey)
		if err != nil {
			return err
		}
	}
	a.log.Debug().Uint8("scheme", uint8(h.Scheme)).Msg("stream key recovered")

	// The output is not created until the key is recovered, so a bad
	// passphrase or key leaves an existing output file intact.
	out, closeOut, err := a.createOutput(f.out, f.in)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeOut(); err == nil {
			err = cerr
		}
	}()
	return stream.Decrypt(out, in, h.Bytes, key)
}

type passwdFlags struct {
	id     string
	time   uint32
	memory uint32
}

func (a *app) passwdCommand() *cobra.Command {
	f := new(passwdFlags)
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the passphrase protecting a secret key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.passwd(f)
		},
	}
	cmd.Flags().StringVarP(&f.id, "identity", "i", defaultID, "identity")
	cmd.Flags().Uint32VarP(&f.time, "time", "t", 0, "Argon2id time (0 uses the configured value)")
	cmd.Flags().Uint32VarP(&f.memory, "memory", "m", 0, "Argon2id memory in KiB (0 uses the configured value)")
	return cmd
}

func (a *app) passwd(f *passwdFlags) error {
	sk, kf, err := a.openSecretKey(f.id)
	if err != nil {
		return err
	}
	passphrase, err := a.readPassphrase("New secret key passphrase: ")
	if err != nil {
		return err
	}

	dir, err := a.keydir()
	if err != nil {
		return err
	}
	if err := sandbox(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, f.id+".secret.*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	err = keyfile.EncryptSecretKey(trng.New(), tmp, sk, passphrase, a.kdfParams(f.time, f.memory), kf)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	skFilename := filepath.Join(dir, f.id+".secret")
	if err := os.Rename(tmp.Name(), skFilename); err != nil {
		return err
	}
	a.log.Info().Str("file", skFilename).Msg("secret key reencrypted")
	return nil
}

func (a *app) deriveCommand() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive hex subkeys from a hex shared secret read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.derive(n)
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 1, "number of subkeys")
	return cmd
}

func (a *app) derive(n int) error {
	if n < 0 {
		return fmt.Errorf("invalid subkey count %d", n)
	}
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		return errors.Wrap(err, "read shared secret")
	}
	b, err := hex.DecodeString(strings.TrimSpace(line))
	if err != nil {
		return errors.Wrap(err, "decode shared secret")
	}
	ss, err := kem.NewSharedSecret(b)
	if err != nil {
		return err
	}
	for _, k := range kem.DeriveKeys(ss, n) {
		fmt.Fprintln(a.stdout, hex.EncodeToString(k))
	}
	return nil
}

// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/jrick/rqe/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	defaultID      = "id"
	appdirName     = ".rqe"
	configFilename = "rqe.toml"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}
}

// app carries the state shared by all commands.
type app struct {
	configFile string
	logLevel   string

	cfg *config.Config
	log zerolog.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// readPassphrase prompts for and reads a passphrase.
	readPassphrase func(prompt string) ([]byte, error)
}

func newApp() *app {
	return &app{
		stdin:          os.Stdin,
		stdout:         os.Stdout,
		stderr:         os.Stderr,
		readPassphrase: promptPassphrase,
	}
}

func main() {
	a := newApp()
	cmd := a.rootCommand()
	if err := cmd.Execute(); err != nil {
		a.log.Error().Err(err).Msg(cmd.Name() + " failed")
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rqe",
		Short: "Encrypt and decrypt files with the rqe lattice/code KEM",
		Example: `  rqe keygen -i alice
  rqe encrypt -i alice --in message.txt --out message.rqe
  rqe decrypt -i alice --in message.rqe
  rqe encrypt -p < message.txt > message.rqe`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	// The logger is usable before setup runs, e.g. on flag errors.
	a.log = newLogger(a.stderr, zerolog.InfoLevel)

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "configuration file (default ~/.rqe/rqe.toml)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "loglevel", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		a.keygenCommand(),
		a.encryptCommand(),
		a.decryptCommand(),
		a.passwdCommand(),
		a.deriveCommand(),
	)
	return cmd
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(cw).With().Timestamp().Logger().Level(level)
}

// setup loads configuration and configures logging.  A missing default
// configuration file is not an error.
func (a *app) setup() error {
	var err error
	switch {
	case a.configFile != "":
		a.cfg, err = config.LoadFile(a.configFile)
		if err != nil {
			return errors.Wrapf(err, "load %s", a.configFile)
		}
	default:
		a.cfg = config.Default()
		if home := homedir(); home != "" {
			f := filepath.Join(home, appdirName, configFilename)
			if _, statErr := os.Stat(f); statErr == nil {
				a.cfg, err = config.LoadFile(f)
				if err != nil {
					return errors.Wrapf(err, "load %s", f)
				}
			}
		}
	}
	if a.logLevel != "" {
		a.cfg.LogLevel = a.logLevel
		if err := a.cfg.FixupAndValidate(); err != nil {
			return err
		}
	}
	a.log = newLogger(a.stderr, a.cfg.Level())
	a.log.Debug().Str("keydir", a.cfg.KeyDir).Msg("configuration loaded")
	return nil
}

func homedir() string {
	u, err := user.Current()
	if err != nil || u.HomeDir == "" {
		return ""
	}
	return u.HomeDir
}

// keydir returns the identity key directory, creating it if necessary.
func (a *app) keydir() (string, error) {
	dir := a.cfg.KeyDir
	if dir == "" {
		home := homedir()
		if home == "" {
			return "", errors.New("user homedir is unknown; set KeyDir in the configuration")
		}
		dir = filepath.Join(home, appdirName)
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		err = os.MkdirAll(dir, 0700)
		if err != nil {
			return "", err
		}
		a.log.Info().Str("dir", dir).Msg("created key directory")
	}
	return dir, nil
}

func promptPassphrase(prompt string) ([]byte, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open terminal")
	}
	defer tty.Close()
	_, err = fmt.Fprint(tty, prompt)
	if err != nil {
		return nil, err
	}
	passphrase, err := term.ReadPassword(int(tty.Fd()))
	fmt.Fprintln(tty)
	return passphrase, err
}

func nopClose() error { return nil }

// openInput opens the input file, defaulting to standard input when the
// flag is empty or "-".
func (a *app) openInput(inFlag string) (io.Reader, func() error, error) {
	if inFlag == "" || inFlag == "-" {
		return a.stdin, nopClose, nil
	}
	f, err := os.Open(inFlag)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

// createOutput creates or truncates the output file, defaulting to standard
// output when the flag is empty or "-".  The input file is never chosen as
// the output.
func (a *app) createOutput(outFlag, inFlag string) (io.Writer, func() error, error) {
	if outFlag == "" || outFlag == "-" {
		return a.stdout, nopClose, nil
	}
	if inFlag != "" && inFlag != "-" {
		ofi, oerr := os.Stat(outFlag)
		ifi, ierr := os.Stat(inFlag)
		if oerr == nil && ierr == nil && os.SameFile(ofi, ifi) {
			return nil, nil, fmt.Errorf("output %s is the input file", outFlag)
		}
	}
	f, err := os.Create(outFlag)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

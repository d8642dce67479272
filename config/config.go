// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package config loads the optional rqe TOML configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

const (
	// DefaultTime is the default Argon2id time parameter.
	DefaultTime = 1

	// DefaultMemory is the default and recommended minimum Argon2id memory
	// parameter in KiB.
	DefaultMemory = 64 * 1024

	// DefaultLogLevel is used when LogLevel is unset.
	DefaultLogLevel = "info"
)

// Argon2id holds passphrase key derivation parameters for new keys and
// passphrase-encrypted streams.
type Argon2id struct {
	Time   uint32
	Memory uint32 // KiB
}

// Config is the top level configuration.
type Config struct {
	// KeyDir is the directory holding identity keyfiles.  Empty selects
	// ~/.rqe.
	KeyDir string

	// LogLevel is a zerolog level name.
	LogLevel string

	Argon2id *Argon2id
}

// Default returns a Config populated with defaults.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}

// FixupAndValidate applies defaults to unset fields and validates the
// result.
func (c *Config) FixupAndValidate() error {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: invalid LogLevel %q", c.LogLevel)
	}

	if c.Argon2id == nil {
		c.Argon2id = new(Argon2id)
	}
	if c.Argon2id.Time == 0 {
		c.Argon2id.Time = DefaultTime
	}
	if c.Argon2id.Memory == 0 {
		c.Argon2id.Memory = DefaultMemory
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)

	err := toml.Unmarshal(b, cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses, and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

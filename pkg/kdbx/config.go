// Copyright 2026 The Sandpass Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kdbx

import (
	"fmt"
	"io"
	"io/fs"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"zombiezen.com/go/kdbx/pkg/innerstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/kdf"
)

// KDF names accepted in configuration.
const (
	KDFAES      = "aes"
	KDFArgon2d  = "argon2d"
	KDFArgon2id = "argon2id"
)

// KDFConfig holds the key derivation settings for new headers.
type KDFConfig struct {
	Type        string
	Rounds      uint64 // AES-KDF
	Memory      uint64 // Argon2, in bytes
	Iterations  uint64 // Argon2
	Parallelism uint32 // Argon2
}

// Config holds the settings used to create new containers.
type Config struct {
	Version     Version
	Cipher      kdbcrypt.Cipher
	Compression bool
	KDF         KDFConfig
	InnerStream innerstream.ID
	BlockSize   int
	LogLevel    logrus.Level
}

// NewDefaultConfig creates a new Config with default settings.
func NewDefaultConfig() *Config {
	return &Config{
		Version:     DefaultVersion,
		Cipher:      kdbcrypt.AES256,
		Compression: true,
		KDF: KDFConfig{
			Type:        KDFArgon2d,
			Rounds:      DefaultAESRounds,
			Memory:      DefaultArgon2Memory,
			Iterations:  DefaultArgon2Iterations,
			Parallelism: DefaultArgon2Parallelism,
		},
		InnerStream: innerstream.ChaCha20,
		LogLevel:    logrus.InfoLevel,
	}
}

// NewConfig creates a new Config with default settings and applies any
// settings from the given YAML configuration file. A missing file
// yields the defaults.
func NewConfig(configFile string) (*Config, error) { // nolint: gocyclo
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	config := NewDefaultConfig()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return config, nil
		}
		return nil, errors.Wrapf(err, "read config %s", configFile)
	}

	if v.IsSet("version") {
		ver, err := ParseVersion(v.GetString("version"))
		if err != nil {
			return nil, err
		}
		config.Version = ver
		if !v.IsSet("kdf.type") && ver.Major() < 4 {
			config.KDF.Type = KDFAES
		}
		if !v.IsSet("inner.stream") && ver.Major() < 4 {
			config.InnerStream = innerstream.Salsa20
		}
	}

	if v.IsSet("cipher") {
		c, err := parseCipher(v.GetString("cipher"))
		if err != nil {
			return nil, err
		}
		config.Cipher = c
	}

	if v.IsSet("compression") {
		config.Compression = v.GetBool("compression")
	}

	if v.IsSet("kdf.type") {
		t := strings.ToLower(v.GetString("kdf.type"))
		switch t {
		case KDFAES, KDFArgon2d, KDFArgon2id:
			config.KDF.Type = t
		default:
			return nil, fmt.Errorf("invalid kdf.type setting %q", t)
		}
	}

	if v.IsSet("kdf.rounds") {
		config.KDF.Rounds = v.GetUint64("kdf.rounds")
	}

	if v.IsSet("kdf.memory") {
		mem, err := humanize.ParseBytes(v.GetString("kdf.memory"))
		if err != nil {
			return nil, errors.Wrap(err, "invalid kdf.memory setting")
		}
		config.KDF.Memory = mem
	}

	if v.IsSet("kdf.iterations") {
		config.KDF.Iterations = v.GetUint64("kdf.iterations")
	}

	if v.IsSet("kdf.parallelism") {
		config.KDF.Parallelism = v.GetUint32("kdf.parallelism")
	}

	if v.IsSet("inner.stream") {
		id, err := parseInnerStream(v.GetString("inner.stream"))
		if err != nil {
			return nil, err
		}
		config.InnerStream = id
	}

	if v.IsSet("block.size") {
		n, err := humanize.ParseBytes(v.GetString("block.size"))
		if err != nil {
			return nil, errors.Wrap(err, "invalid block.size setting")
		}
		if n == 0 || n > math.MaxInt32 {
			return nil, fmt.Errorf("invalid block.size setting %d", n)
		}
		config.BlockSize = int(n)
	}

	if v.IsSet("log.level") {
		level, err := logrus.ParseLevel(v.GetString("log.level"))
		if err != nil {
			return nil, errors.Wrap(err, "invalid log.level setting")
		}
		config.LogLevel = level
	}

	return config, nil
}

// ParseVersion parses a "major.minor" version string.
func ParseVersion(s string) (Version, error) {
	var major, minor uint16
	if _, err := fmt.Sscanf(s, "%d.%d", &major, &minor); err != nil {
		return 0, errors.Wrapf(err, "invalid version %q", s)
	}
	v := Version(uint32(major)<<16 | uint32(minor))
	if _, err := profileFor(v); err != nil {
		return 0, err
	}
	return v, nil
}

func parseCipher(s string) (kdbcrypt.Cipher, error) {
	switch strings.ToLower(s) {
	case "aes", "aes256", "aes-256":
		return kdbcrypt.AES256, nil
	case "twofish":
		return kdbcrypt.Twofish, nil
	case "chacha20":
		return kdbcrypt.ChaCha20, nil
	default:
		return 0, fmt.Errorf("invalid cipher setting %q", s)
	}
}

func parseInnerStream(s string) (innerstream.ID, error) {
	switch strings.ToLower(s) {
	case "none":
		return innerstream.None, nil
	case "salsa20":
		return innerstream.Salsa20, nil
	case "chacha20":
		return innerstream.ChaCha20, nil
	default:
		return 0, fmt.Errorf("invalid inner.stream setting %q", s)
	}
}

// Options returns the Options described by c. Debug output goes to
// logOut at the configured level.
func (c *Config) Options(logOut io.Writer) *Options {
	opts := &Options{
		Logger:             NewLogger(logOut, c.LogLevel),
		BlockSize:          c.BlockSize,
		Version:            c.Version,
		Cipher:             c.Cipher,
		DisableCompression: !c.Compression,
		InnerStream:        c.InnerStream,
		DisableInnerStream: c.InnerStream == innerstream.None,
	}
	switch c.KDF.Type {
	case KDFAES:
		opts.KDF = &kdf.AESKDF{Rounds: c.KDF.Rounds}
	case KDFArgon2d, KDFArgon2id:
		variant := kdf.Argon2d
		if c.KDF.Type == KDFArgon2id {
			variant = kdf.Argon2id
		}
		opts.KDF = &kdf.Argon2{
			Variant:     variant,
			Parallelism: c.KDF.Parallelism,
			Memory:      c.KDF.Memory,
			Iterations:  c.KDF.Iterations,
			Version:     kdf.Argon2Version13,
		}
	}
	return opts
}

// Copyright 2016 The Sandpass Authors
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
	"crypto/rand"
	"io"

	"github.com/sirupsen/logrus"
	"zombiezen.com/go/kdbx/pkg/blockstream"
	"zombiezen.com/go/kdbx/pkg/innerstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/kdf"
)

// Defaults for new headers.
const (
	DefaultVersion           = Version40
	DefaultAESRounds         = 60000
	DefaultArgon2Memory      = 64 << 20
	DefaultArgon2Iterations  = 2
	DefaultArgon2Parallelism = 2
)

// Options is the set of parameters for creating or opening a database.
// Nil is treated the same as the zero value.
type Options struct {
	// Random number source, used for seeds, IVs and keys.
	// Defaults to crypto/rand.Reader.
	Rand io.Reader

	// Logger receives debug logging. Defaults to discarding everything.
	// Secrets are never logged.
	Logger logrus.FieldLogger

	// BlockSize is the payload size of written blocks. If zero, the
	// KeePass default of 1 MiB is used.
	BlockSize int

	// The remaining fields are only used by NewHeader.

	// Version defaults to DefaultVersion.
	Version Version

	// Cipher to encrypt with. Defaults to AES-256.
	Cipher kdbcrypt.Cipher

	// Compression defaults to gzip unless DisableCompression is set.
	DisableCompression bool

	// KDF is a template for the key derivation function. Its seed or
	// salt is replaced with fresh random bytes. If nil, KDBX 3 headers
	// use AES-KDF with DefaultAESRounds and KDBX 4 headers use Argon2d
	// with the Argon2 defaults above.
	KDF kdf.KDF

	// InnerStream selects the inner stream cipher. If zero, Salsa20 is
	// used for KDBX 3 and ChaCha20 for KDBX 4.
	InnerStream innerstream.ID

	// DisableInnerStream writes protected values without an inner
	// stream cipher. It overrides InnerStream.
	DisableInnerStream bool
}

func (opts *Options) getRand() io.Reader {
	if opts == nil || opts.Rand == nil {
		return rand.Reader
	}
	return opts.Rand
}

func (opts *Options) logger() logrus.FieldLogger {
	if opts == nil || opts.Logger == nil {
		return discardLogger
	}
	return opts.Logger
}

func (opts *Options) blockSize() int {
	if opts == nil || opts.BlockSize <= 0 {
		return blockstream.DefaultBlockSize
	}
	return opts.BlockSize
}

func (opts *Options) version() Version {
	if opts == nil || opts.Version == 0 {
		return DefaultVersion
	}
	return opts.Version
}

func (opts *Options) cipher() kdbcrypt.Cipher {
	if opts == nil {
		return kdbcrypt.AES256
	}
	return opts.Cipher
}

func (opts *Options) compression() Compression {
	if opts != nil && opts.DisableCompression {
		return NoCompression
	}
	return GzipCompression
}

func (opts *Options) innerStream(v Version) innerstream.ID {
	if opts != nil && opts.DisableInnerStream {
		return innerstream.None
	}
	if opts != nil && opts.InnerStream != innerstream.None {
		return opts.InnerStream
	}
	if v.Major() < 4 {
		return innerstream.Salsa20
	}
	return innerstream.ChaCha20
}

// kdf returns a KDF for v with a fresh seed read from r.
func (opts *Options) kdf(v Version, r *reader) kdf.KDF {
	var tmpl kdf.KDF
	if opts != nil {
		tmpl = opts.KDF
	}
	switch t := tmpl.(type) {
	case *kdf.AESKDF:
		k := &kdf.AESKDF{Rounds: t.Rounds}
		r.readFull(k.Seed[:])
		return k
	case *kdf.Argon2:
		k := *t
		k.Salt = make([]byte, 32)
		r.readFull(k.Salt)
		return &k
	}
	if v.Major() < 4 {
		k := &kdf.AESKDF{Rounds: DefaultAESRounds}
		r.readFull(k.Seed[:])
		return k
	}
	k := &kdf.Argon2{
		Variant:     kdf.Argon2d,
		Salt:        make([]byte, 32),
		Parallelism: DefaultArgon2Parallelism,
		Memory:      DefaultArgon2Memory,
		Iterations:  DefaultArgon2Iterations,
		Version:     kdf.Argon2Version13,
	}
	r.readFull(k.Salt)
	return k
}

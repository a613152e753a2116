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

package kdb

import (
	"crypto/rand"
	"io"

	"github.com/sirupsen/logrus"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
)

// Options is the set of parameters for creating or opening a database.
// Nil is treated the same as the zero value.
type Options struct {
	// Random number source, used for seeds and IVs.
	// Defaults to crypto/rand.Reader.
	Rand io.Reader

	// Logger receives debug logging. Defaults to discarding everything.
	Logger logrus.FieldLogger

	// Number of rounds to encrypt the key with.  Higher values mean key
	// generation takes longer, thus harder to brute force.  If zero,
	// a reasonable default is used.  Only used for creation.
	KeyRounds int

	// Cipher to encrypt with.  Defaults to AES-256.  Only AES-256 and
	// Twofish are valid.  Only used for creation.
	Cipher kdbcrypt.Cipher

	// StaticIVForTesting will keep the IV the same between writes, useful
	// for testing, but insecure. Never enable this in production code!
	StaticIVForTesting bool
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

func (opts *Options) getKeyRounds() uint32 {
	if opts == nil || opts.KeyRounds <= 0 {
		// 1 second delay on Intel i7-2600K CPU @ 3.40GHz
		return 10000000
	}
	return uint32(opts.KeyRounds)
}

func (opts *Options) getCipher() kdbcrypt.Cipher {
	if opts == nil {
		return kdbcrypt.AES256
	}
	return opts.Cipher
}

func (opts *Options) staticIV() bool {
	return opts != nil && opts.StaticIVForTesting
}

var discardLogger = func() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	l.SetLevel(logrus.PanicLevel)
	return l
}()

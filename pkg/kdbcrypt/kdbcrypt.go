// Copyright 2016 Ross Light
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

// Package kdbcrypt encrypts and decrypts the body of KeePass databases
// and derives the keys that protect it.
package kdbcrypt // import "zombiezen.com/go/kdbx/pkg/kdbcrypt"

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/twofish"
	"zombiezen.com/go/kdbx/pkg/cipherio"
	"zombiezen.com/go/kdbx/pkg/kdberr"
)

// Cipher is an outer cipher algorithm.
type Cipher int

// Available ciphers
const (
	AES256 Cipher = iota
	Twofish
	ChaCha20
)

// Cipher identifiers as stored in the KDBX CipherID header field.
var (
	AES256UUID   = uuid.MustParse("31c1f2e6-bf71-4350-be58-05216afc5aff")
	TwofishUUID  = uuid.MustParse("ad68f29f-576f-4bb9-a36a-d47af965346c")
	ChaCha20UUID = uuid.MustParse("d6038a2b-8b6f-4cb5-a524-339a31dbb59a")
)

// CipherFromUUID returns the cipher identified by id.
func CipherFromUUID(id uuid.UUID) (Cipher, error) {
	switch id {
	case AES256UUID:
		return AES256, nil
	case TwofishUUID:
		return Twofish, nil
	case ChaCha20UUID:
		return ChaCha20, nil
	default:
		return 0, kdberr.New(kdberr.UnsupportedCipher, "cipher", id.String())
	}
}

// UUID returns the header identifier for c.
func (c Cipher) UUID() uuid.UUID {
	switch c {
	case Twofish:
		return TwofishUUID
	case ChaCha20:
		return ChaCha20UUID
	default:
		return AES256UUID
	}
}

// IVSize returns the length of the encryption IV c expects.
func (c Cipher) IVSize() int {
	if c == ChaCha20 {
		return chacha20.NonceSize
	}
	return aes.BlockSize
}

func (c Cipher) String() string {
	switch c {
	case AES256:
		return "AES-256"
	case Twofish:
		return "Twofish"
	case ChaCha20:
		return "ChaCha20"
	default:
		return fmt.Sprintf("Cipher(%d)", int(c))
	}
}

func (c Cipher) block(key []byte) (cipher.Block, error) {
	switch c {
	case AES256:
		return aes.NewCipher(key)
	case Twofish:
		return twofish.NewCipher(key)
	default:
		return nil, kdberr.New(kdberr.UnsupportedCipher, "cipher", c.String())
	}
}

// Params specifies the encryption/decryption values.
type Params struct {
	Key    []byte // 32-byte final key
	Cipher Cipher
	IV     []byte
}

func (p *Params) check() error {
	const op = "outer cipher"
	if len(p.Key) != 32 {
		return kdberr.New(kdberr.Credential, op, fmt.Sprintf("key is %d bytes", len(p.Key)))
	}
	if len(p.IV) != p.Cipher.IVSize() {
		return kdberr.New(kdberr.HeaderFormat, op, fmt.Sprintf("%v IV is %d bytes, want %d", p.Cipher, len(p.IV), p.Cipher.IVSize()))
	}
	return nil
}

// NewEncrypter creates a new writer that encrypts to w. Closing the
// new writer writes the final, padded block but does not close w.
func NewEncrypter(w io.Writer, params *Params) (io.WriteCloser, error) {
	if err := params.check(); err != nil {
		return nil, err
	}
	if params.Cipher == ChaCha20 {
		s, err := chacha20.NewUnauthenticatedCipher(params.Key, params.IV)
		if err != nil {
			return nil, kdberr.Wrap(kdberr.UnsupportedCipher, "outer cipher", err)
		}
		return cipherio.NewStreamWriter(w, s), nil
	}
	b, err := params.Cipher.block(params.Key)
	if err != nil {
		return nil, err
	}
	return cipherio.NewCBCWriter(w, cipher.NewCBCEncrypter(b, params.IV)), nil
}

// NewDecrypter creates a new reader that decrypts and strips padding from r.
func NewDecrypter(r io.Reader, params *Params) (io.Reader, error) {
	if err := params.check(); err != nil {
		return nil, err
	}
	if params.Cipher == ChaCha20 {
		s, err := chacha20.NewUnauthenticatedCipher(params.Key, params.IV)
		if err != nil {
			return nil, kdberr.Wrap(kdberr.UnsupportedCipher, "outer cipher", err)
		}
		return cipherio.NewStreamReader(r, s), nil
	}
	b, err := params.Cipher.block(params.Key)
	if err != nil {
		return nil, err
	}
	return cipherio.NewCBCReader(r, cipher.NewCBCDecrypter(b, params.IV)), nil
}

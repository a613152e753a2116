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

// Package innerstream implements the keystream that obscures protected
// values (such as entry passwords) inside a KDBX document.
//
// A Cipher is stateful: protected values must be transformed exactly
// once, in document order, by the same Cipher for the whole document.
package innerstream // import "zombiezen.com/go/kdbx/pkg/innerstream"

import (
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/salsa20/salsa"
	"zombiezen.com/go/kdbx/pkg/kdberr"
)

// ID identifies an inner stream algorithm in a KDBX header.
type ID uint32

// Inner stream algorithms.
const (
	None ID = iota
	ArcFourVariant
	Salsa20
	ChaCha20
)

func (id ID) String() string {
	switch id {
	case None:
		return "None"
	case ArcFourVariant:
		return "ArcFourVariant"
	case Salsa20:
		return "Salsa20"
	case ChaCha20:
		return "ChaCha20"
	default:
		return fmt.Sprintf("ID(%d)", uint32(id))
	}
}

// KeySize returns the length of freshly generated keys for id.
func (id ID) KeySize() int {
	if id == ChaCha20 {
		return 64
	}
	return 32
}

var salsaNonce = [8]byte{0xe8, 0x30, 0x09, 0x4b, 0x97, 0x20, 0x5d, 0x2a}

// Cipher is a keystream positioned somewhere in a document.
type Cipher struct {
	id     ID
	stream cipher.Stream // nil for None
}

// New returns a Cipher for the algorithm id keyed with the protected
// stream key from the header.
func New(id ID, key []byte) (*Cipher, error) {
	const op = "inner stream"
	switch id {
	case None:
		return &Cipher{id: id}, nil
	case Salsa20:
		s := &salsaStream{key: sha256.Sum256(key), used: 64}
		copy(s.counter[:8], salsaNonce[:])
		return &Cipher{id: id, stream: s}, nil
	case ChaCha20:
		h := sha512.Sum512(key)
		s, err := chacha20.NewUnauthenticatedCipher(h[:32], h[32:32+chacha20.NonceSize])
		if err != nil {
			return nil, kdberr.Wrap(kdberr.UnsupportedCipher, op, err)
		}
		return &Cipher{id: id, stream: s}, nil
	default:
		return nil, kdberr.New(kdberr.UnsupportedCipher, op, id.String())
	}
}

// ID returns the algorithm c was created with.
func (c *Cipher) ID() ID {
	return c.id
}

// XOR transforms p in place and advances the keystream by len(p).
// Encryption and decryption are the same operation.
func (c *Cipher) XOR(p []byte) {
	if c.stream == nil {
		return
	}
	c.stream.XORKeyStream(p, p)
}

// Protect encrypts a plaintext value and returns it in the base64 form
// stored in the document.
func (c *Cipher) Protect(plain []byte) string {
	b := append([]byte(nil), plain...)
	c.XOR(b)
	return base64.StdEncoding.EncodeToString(b)
}

// Unprotect decodes and decrypts a protected value from the document.
func (c *Cipher) Unprotect(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "unprotect value")
	}
	c.XOR(b)
	return b, nil
}

// salsaStream adapts the Salsa20 core to cipher.Stream, carrying
// unused keystream across calls.
type salsaStream struct {
	key     [32]byte
	counter [16]byte // nonce, then little-endian block counter
	block   [64]byte
	used    int // bytes of block already consumed
}

func (s *salsaStream) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("innerstream: output smaller than input")
	}
	for i := range src {
		if s.used == len(s.block) {
			s.refill()
		}
		dst[i] = src[i] ^ s.block[s.used]
		s.used++
	}
}

func (s *salsaStream) refill() {
	var zero [64]byte
	salsa.XORKeyStream(s.block[:], zero[:], &s.counter, &s.key)
	for i := 8; i < 16; i++ {
		s.counter[i]++
		if s.counter[i] != 0 {
			break
		}
	}
	s.used = 0
}

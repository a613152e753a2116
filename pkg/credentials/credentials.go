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

// Package credentials resolves user-supplied secrets into the composite
// key that seeds KeePass key derivation.
package credentials // import "zombiezen.com/go/kdbx/pkg/credentials"

import (
	"crypto/sha256"
	"io"

	"zombiezen.com/go/kdbx/pkg/kdberr"
)

// Credentials is a password, a key file, both or neither.
// The zero value has no components; use None for clarity.
type Credentials struct {
	password   []byte // nil if absent
	keyFileKey []byte // nil if absent
}

// None returns credentials with no components. KeePass refuses to open
// such a database, so Key returns an error.
func None() *Credentials {
	return new(Credentials)
}

// NewPassword returns password-only credentials.
func NewPassword(pw []byte) (*Credentials, error) {
	if len(pw) == 0 {
		return nil, kdberr.New(kdberr.Credential, "password credentials", "empty password")
	}
	return &Credentials{password: append([]byte(nil), pw...)}, nil
}

// NewKeyFile returns credentials derived from a key file alone.
func NewKeyFile(keyFile io.Reader) (*Credentials, error) {
	k, err := readKeyFileComponent(keyFile)
	if err != nil {
		return nil, err
	}
	return &Credentials{keyFileKey: k}, nil
}

// NewPasswordAndKeyFile combines a password and a key file. A nil pw
// omits the password component; an empty non-nil pw is hashed like
// any other password.
func NewPasswordAndKeyFile(pw []byte, keyFile io.Reader) (*Credentials, error) {
	k, err := readKeyFileComponent(keyFile)
	if err != nil {
		return nil, err
	}
	c := &Credentials{keyFileKey: k}
	if pw != nil {
		c.password = append([]byte{}, pw...)
	}
	return c, nil
}

func readKeyFileComponent(keyFile io.Reader) ([]byte, error) {
	const op = "key file credentials"
	if keyFile == nil {
		return nil, kdberr.New(kdberr.Credential, op, "no key file")
	}
	k, err := ReadKeyFile(keyFile)
	if err != nil {
		return nil, kdberr.Wrap(kdberr.Credential, op, err)
	}
	return k, nil
}

// HasPassword reports whether c includes a password component.
func (c *Credentials) HasPassword() bool {
	return c != nil && c.password != nil
}

// HasKeyFile reports whether c includes a key file component.
func (c *Credentials) HasKeyFile() bool {
	return c != nil && c.keyFileKey != nil
}

// Key returns the 32-byte KDBX composite key: the SHA-256 of the
// concatenated SHA-256 of the password and the key file key.
func (c *Credentials) Key() ([]byte, error) {
	if !c.HasPassword() && !c.HasKeyFile() {
		return nil, kdberr.New(kdberr.Credential, "composite key", "no password or key file")
	}
	h := sha256.New()
	if c.password != nil {
		p := sha256.Sum256(c.password)
		h.Write(p[:])
	}
	if c.keyFileKey != nil {
		h.Write(c.keyFileKey)
	}
	return h.Sum(nil), nil
}

// LegacyKey returns the KeePass 1.x composite key. encode converts the
// password to the byte encoding the database was written with; nil
// uses the password bytes as given.
func (c *Credentials) LegacyKey(encode func([]byte) ([]byte, error)) ([]byte, error) {
	const op = "legacy composite key"
	if !c.HasPassword() && !c.HasKeyFile() {
		return nil, kdberr.New(kdberr.Credential, op, "no password or key file")
	}
	if !c.HasPassword() {
		return append([]byte(nil), c.keyFileKey...), nil
	}
	pw := c.password
	if encode != nil {
		var err error
		pw, err = encode(c.password)
		if err != nil {
			return nil, kdberr.Wrap(kdberr.Credential, op, err)
		}
	}
	p := sha256.Sum256(pw)
	if !c.HasKeyFile() {
		return p[:], nil
	}
	h := sha256.New()
	h.Write(p[:])
	h.Write(c.keyFileKey)
	return h.Sum(nil), nil
}

// Wipe zeroes the secrets held by c. c has no components afterward.
func (c *Credentials) Wipe() {
	if c == nil {
		return
	}
	wipe(c.password)
	wipe(c.keyFileKey)
	c.password = nil
	c.keyFileKey = nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

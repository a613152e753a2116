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
	"crypto/hmac"
	"crypto/subtle"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"zombiezen.com/go/kdbx/pkg/blockstream"
	"zombiezen.com/go/kdbx/pkg/cipherio"
	"zombiezen.com/go/kdbx/pkg/credentials"
	"zombiezen.com/go/kdbx/pkg/innerstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/kdberr"
)

// A Reader decrypts a KDBX container. Reading from it yields the
// verified plaintext XML document.
type Reader struct {
	h     *Header
	body  io.Reader
	inner *innerstream.Cipher
	state State
	err   error
	log   logrus.FieldLogger
}

// NewReader reads and verifies the header from r, derives keys from
// creds and prepares to decrypt the body. Every byte later returned by
// Read has passed its block's integrity check.
func NewReader(r io.Reader, creds *credentials.Credentials, opts *Options) (*Reader, error) {
	rd := &Reader{log: opts.logger()}
	if err := rd.open(r, creds, opts); err != nil {
		rd.fail(err)
		return nil, err
	}
	return rd, nil
}

func (rd *Reader) open(r io.Reader, creds *credentials.Credentials, opts *Options) error {
	h, err := ReadHeader(r, opts)
	if err != nil {
		return err
	}
	rd.h = h
	rd.setState(HeaderRead)
	p, _ := profileFor(h.Version)

	composite, err := creds.Key()
	if err != nil {
		return err
	}
	keys, err := kdbcrypt.DeriveKeys(composite, h.MasterSeed, h.KDF, p.hmac())
	wipe(composite)
	if err != nil {
		return err
	}
	defer keys.Wipe()
	if p.hmac() && !hmac.Equal(h.hmacTag, headerHMAC(keys, h.raw)) {
		return kdberr.New(kdberr.HeaderIntegrity, "read header", "header HMAC mismatch (wrong credentials or tampered header)")
	}
	rd.setState(HeaderVerified)
	rd.setState(KeysDerived)

	params := &kdbcrypt.Params{Key: keys.Final, Cipher: h.Cipher, IV: h.EncryptionIV}
	var body io.Reader
	if p == profile3 {
		dec, err := kdbcrypt.NewDecrypter(r, params)
		if err != nil {
			return err
		}
		rd.setState(BodyDecrypting)
		if err := checkStreamStart(dec, h.StreamStartBytes); err != nil {
			return err
		}
		rd.setState(StreamStartChecked)
		body = blockstream.NewHashedReader(dec)
	} else {
		base := append([]byte(nil), keys.HMACBase...)
		dec, err := kdbcrypt.NewDecrypter(blockstream.NewHMACReader(r, base), params)
		if err != nil {
			return err
		}
		rd.setState(BodyDecrypting)
		body = dec
	}
	rd.setState(BlocksVerified)

	if h.Compression == GzipCompression {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return bodyError(err)
		}
		body = gz
		rd.setState(Decompressed)
	}
	if p == profile4 {
		if err := readInnerHeader(body, h); err != nil {
			return bodyError(err)
		}
	}
	rd.body = body
	rd.inner, err = innerstream.New(h.InnerStream, h.ProtectedStreamKey)
	if err != nil {
		return err
	}
	rd.setState(Ready)
	return nil
}

// checkStreamStart compares the first plaintext bytes of a KDBX 3 body
// against the header. A mismatch means the key is wrong.
func checkStreamStart(dec io.Reader, want []byte) error {
	const op = "check stream start"
	got := make([]byte, len(want))
	if _, err := io.ReadFull(dec, got); err != nil {
		if errors.Is(err, cipherio.ErrWrongPadding) {
			return kdberr.New(kdberr.WrongCredentials, op, "bad padding")
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return kdberr.New(kdberr.BlockIntegrity, op, "body truncated")
		}
		return pkgerrors.Wrap(err, op)
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return kdberr.New(kdberr.WrongCredentials, op, "stream start bytes mismatch")
	}
	return nil
}

// bodyError classifies an error from the body pipeline.
func bodyError(err error) error {
	var e *kdberr.Error
	switch {
	case err == nil || err == io.EOF:
		return err
	case errors.As(err, &e):
		return err
	case errors.Is(err, cipherio.ErrWrongPadding), errors.Is(err, cipherio.ErrDataSize), errors.Is(err, io.ErrUnexpectedEOF):
		return kdberr.Wrap(kdberr.BlockIntegrity, "decrypt body", err)
	default:
		return pkgerrors.Wrap(err, "read body")
	}
}

// Read reads decrypted document bytes. Any error other than io.EOF is
// terminal.
func (rd *Reader) Read(p []byte) (int, error) {
	if rd.err != nil {
		return 0, rd.err
	}
	n, err := rd.body.Read(p)
	if err != nil && err != io.EOF {
		err = bodyError(err)
		rd.fail(err)
	}
	return n, err
}

// Header returns the parsed header. For KDBX 4, its inner header fields
// and binaries are filled in.
func (rd *Reader) Header() *Header {
	return rd.h
}

// Protected returns the inner stream cipher for this document.
// Protected values must be passed through it exactly once, in document
// order.
func (rd *Reader) Protected() *innerstream.Cipher {
	return rd.inner
}

// HeaderHash returns the SHA-256 of the header as read. Callers
// compare it with the document's Meta/HeaderHash element in KDBX 3.
func (rd *Reader) HeaderHash() []byte {
	sum := rd.h.Hash()
	return sum[:]
}

// State returns the current stage of the load.
func (rd *Reader) State() State {
	return rd.state
}

func (rd *Reader) setState(s State) {
	rd.state = s
	rd.log.WithField("state", s).Debug("kdbx: load")
}

func (rd *Reader) fail(err error) {
	rd.err = err
	rd.state = Failed
	rd.log.WithFields(logrus.Fields{"state": Failed, "kind": kdberr.KindOf(err)}).Debug("kdbx: load failed")
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

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
	"crypto/sha256"
	"io"

	"github.com/klauspost/compress/gzip"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"zombiezen.com/go/kdbx/pkg/blockstream"
	"zombiezen.com/go/kdbx/pkg/credentials"
	"zombiezen.com/go/kdbx/pkg/innerstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/kdberr"
)

// NewHeader returns a header for a new file with fresh random seeds,
// IV and keys drawn from opts.Rand.
func NewHeader(opts *Options) (*Header, error) {
	v := opts.version()
	if _, err := profileFor(v); err != nil {
		return nil, err
	}
	c := opts.cipher()
	h := &Header{
		Version:      v,
		Cipher:       c,
		Compression:  opts.compression(),
		MasterSeed:   make([]byte, MasterSeedSize),
		EncryptionIV: make([]byte, c.IVSize()),
		InnerStream:  opts.innerStream(v),
	}
	h.ProtectedStreamKey = make([]byte, h.InnerStream.KeySize())
	r := &reader{r: opts.getRand()}
	r.readFull(h.MasterSeed)
	r.readFull(h.EncryptionIV)
	h.KDF = opts.kdf(v, r)
	r.readFull(h.ProtectedStreamKey)
	if v.Major() < 4 {
		h.StreamStartBytes = make([]byte, StreamStartBytesSize)
		r.readFull(h.StreamStartBytes)
	}
	if r.err != nil {
		return nil, pkgerrors.Wrap(r.err, "new header: read random")
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// A Writer encrypts a plaintext XML document into a KDBX container.
type Writer struct {
	h       *Header
	body    io.Writer
	closers []io.Closer // innermost first
	inner   *innerstream.Cipher
	state   State
	err     error
	log     logrus.FieldLogger
}

// NewWriter writes h to w and returns a Writer for the document body.
// The caller must call Close to write the final blocks. Close does not
// close w.
func NewWriter(w io.Writer, h *Header, creds *credentials.Credentials, opts *Options) (*Writer, error) {
	wr := &Writer{h: h, log: opts.logger()}
	if err := wr.open(w, creds, opts); err != nil {
		wr.fail(err)
		return nil, err
	}
	return wr, nil
}

func (wr *Writer) open(w io.Writer, creds *credentials.Credentials, opts *Options) error {
	h := wr.h
	raw, err := h.marshal()
	if err != nil {
		return err
	}
	wr.setState(HeaderBuilt)
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
	wr.setState(KeysDerived)

	out := &writer{w: w}
	out.write(raw)
	if p.hmac() {
		sum := sha256.Sum256(raw)
		h.hmacTag = headerHMAC(keys, raw)
		out.write(sum[:])
		out.write(h.hmacTag)
	}
	if out.err != nil {
		return pkgerrors.Wrap(out.err, "write header")
	}
	wr.setState(HeaderWritten)

	params := &kdbcrypt.Params{Key: keys.Final, Cipher: h.Cipher, IV: h.EncryptionIV}
	bs := opts.blockSize()
	var body io.WriteCloser
	if p == profile3 {
		enc, err := kdbcrypt.NewEncrypter(w, params)
		if err != nil {
			return err
		}
		if _, err := enc.Write(h.StreamStartBytes); err != nil {
			return pkgerrors.Wrap(err, "write stream start")
		}
		body = blockstream.NewHashedWriter(enc, bs)
		wr.closers = []io.Closer{body, enc}
	} else {
		base := append([]byte(nil), keys.HMACBase...)
		hw := blockstream.NewHMACWriter(w, base, bs)
		enc, err := kdbcrypt.NewEncrypter(hw, params)
		if err != nil {
			return err
		}
		body = enc
		wr.closers = []io.Closer{enc, hw}
	}
	wr.setState(BodyEncrypting)

	if h.Compression == GzipCompression {
		gz := gzip.NewWriter(body)
		wr.closers = append([]io.Closer{gz}, wr.closers...)
		body = gz
		wr.setState(Compressing)
	}
	wr.body = body
	if p == profile4 {
		if err := writeInnerHeader(body, h); err != nil {
			return pkgerrors.Wrap(err, "write inner header")
		}
	}
	wr.inner, err = innerstream.New(h.InnerStream, h.ProtectedStreamKey)
	return err
}

// Write writes document bytes. Any error is terminal.
func (wr *Writer) Write(p []byte) (int, error) {
	if wr.err != nil {
		return 0, wr.err
	}
	n, err := wr.body.Write(p)
	if err != nil {
		wr.fail(pkgerrors.Wrap(err, "write body"))
		return n, wr.err
	}
	return n, nil
}

// Close flushes compression, writes the final padded cipher block and
// the terminator block. It does not close the underlying writer.
func (wr *Writer) Close() error {
	if wr.err != nil {
		return wr.err
	}
	if wr.state == Done {
		return nil
	}
	for _, c := range wr.closers {
		if err := c.Close(); err != nil {
			wr.fail(pkgerrors.Wrap(err, "close body"))
			return wr.err
		}
	}
	wr.setState(BlocksWritten)
	wr.setState(Done)
	return nil
}

// Header returns the header that was written.
func (wr *Writer) Header() *Header {
	return wr.h
}

// Protected returns the inner stream cipher for this document.
// Protected values must be passed through it exactly once, in document
// order.
func (wr *Writer) Protected() *innerstream.Cipher {
	return wr.inner
}

// State returns the current stage of the save.
func (wr *Writer) State() State {
	return wr.state
}

func (wr *Writer) setState(s State) {
	wr.state = s
	wr.log.WithField("state", s).Debug("kdbx: save")
}

func (wr *Writer) fail(err error) {
	wr.err = err
	wr.state = Failed
	wr.log.WithFields(logrus.Fields{"state": Failed, "kind": kdberr.KindOf(err)}).Debug("kdbx: save failed")
}

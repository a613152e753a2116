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

// Package blockstream implements the integrity-checked block framing
// used inside KDBX databases: SHA-256 hashed blocks (KDBX 3.1) and
// HMAC-SHA256 authenticated blocks (KDBX 4).
//
// Readers never release a byte of a block before the whole block has
// been verified. A stream must end with a terminator block; running out
// of input before it is an integrity error.
package blockstream // import "zombiezen.com/go/kdbx/pkg/blockstream"

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	pkgerrors "github.com/pkg/errors"
	"zombiezen.com/go/kdbx/pkg/kdberr"
)

// DefaultBlockSize is the payload size of each block written, matching
// KeePass.
const DefaultBlockSize = 1 << 20

const readOp = "read block"

// nextFunc reads and verifies one block. It returns io.EOF after the
// terminator.
type nextFunc func() ([]byte, error)

type blockReader struct {
	next nextFunc
	data []byte
	err  error
}

func (r *blockReader) Read(p []byte) (int, error) {
	for len(r.data) == 0 && r.err == nil {
		r.data, r.err = r.next()
	}
	if len(r.data) > 0 {
		n := copy(p, r.data)
		r.data = r.data[n:]
		return n, nil
	}
	return 0, r.err
}

// readPayload reads n bytes of block payload into buf. The buffer grows
// only as data arrives, so a forged length cannot force a large
// allocation.
func readPayload(r io.Reader, buf *bytes.Buffer, n int64) ([]byte, error) {
	buf.Reset()
	if _, err := io.CopyN(buf, r, n); err != nil {
		return nil, ioError(err)
	}
	return buf.Bytes(), nil
}

// ioError converts a read failure into an error for the caller. Running
// out of input anywhere before the terminator is an integrity failure.
func ioError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return kdberr.New(kdberr.BlockIntegrity, readOp, "stream truncated before terminator block")
	}
	return pkgerrors.Wrap(err, readOp)
}

// expectEOF checks that r has nothing left after the terminator block.
// Reading to the end also lets a decrypting r verify its final padding.
// It returns io.EOF on success.
func expectEOF(r io.Reader) error {
	var b [1]byte
	for {
		n, err := r.Read(b[:])
		if n > 0 {
			return integrityError("data after terminator block")
		}
		if err == io.EOF {
			return io.EOF
		}
		if err != nil {
			return pkgerrors.Wrap(err, readOp)
		}
	}
}

func integrityError(format string, args ...interface{}) error {
	return kdberr.New(kdberr.BlockIntegrity, readOp, fmt.Sprintf(format, args...))
}

// emitFunc writes one block. A nil or empty slice writes the terminator.
type emitFunc func(data []byte) error

type blockWriter struct {
	emit emitFunc
	buf  []byte
	err  error
}

func newBlockWriter(emit emitFunc, blockSize int) *blockWriter {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &blockWriter{
		emit: emit,
		buf:  make([]byte, 0, blockSize),
	}
}

func (w *blockWriter) Write(p []byte) (n int, err error) {
	if w.err != nil {
		return 0, w.err
	}
	size := cap(w.buf)
	for len(p) > 0 {
		k := copy(w.buf[len(w.buf):size], p)
		w.buf = w.buf[:len(w.buf)+k]
		p = p[k:]
		n += k
		if len(w.buf) == size {
			if err := w.emit(w.buf); err != nil {
				w.err = err
				return n, err
			}
			w.buf = w.buf[:0]
		}
	}
	return n, nil
}

// Close flushes any partial block and writes the terminator. It does not
// close the underlying writer.
func (w *blockWriter) Close() error {
	if w.err == errClosed {
		return nil
	} else if w.err != nil {
		return w.err
	}
	if len(w.buf) > 0 {
		if err := w.emit(w.buf); err != nil {
			w.err = err
			return err
		}
		w.buf = w.buf[:0]
	}
	if err := w.emit(nil); err != nil {
		w.err = err
		return err
	}
	w.err = errClosed
	return nil
}

var errClosed = errors.New("blockstream: write on closed writer")

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

// Package cipherio provides I/O interfaces for encryption streams: CBC
// with PKCS #7 padding and plain keystream ciphers.
package cipherio // import "zombiezen.com/go/kdbx/pkg/cipherio"

import (
	"crypto/cipher"
	"errors"
	"io"
)

const defaultBufSize = 4096

type cbcReader struct {
	r    io.Reader
	mode cipher.BlockMode

	rbuf    []byte
	pending []byte // ciphertext not yet decrypted
	out     []byte // backing store for plain
	plain   []byte // decrypted bytes not yet returned
	err     error
}

// NewCBCReader returns a reader that decrypts r with mode and strips the
// PKCS #7 padding from the final block. The final block is held back
// until r reports io.EOF. Input that is empty or not a multiple of the
// block size yields io.ErrUnexpectedEOF; bad padding yields
// ErrWrongPadding.
func NewCBCReader(r io.Reader, mode cipher.BlockMode) io.Reader {
	bs := mode.BlockSize()
	size := defaultBufSize
	if size < bs {
		size = bs
	}
	return &cbcReader{
		r:    r,
		mode: mode,
		rbuf: make([]byte, size),
	}
}

func (r *cbcReader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 && r.err == nil {
		r.fill()
	}
	if len(r.plain) > 0 {
		n := copy(p, r.plain)
		r.plain = r.plain[n:]
		return n, nil
	}
	return 0, r.err
}

// fill reads more ciphertext and decrypts every complete block except
// the last, which might carry padding.
func (r *cbcReader) fill() {
	bs := r.mode.BlockSize()
	n, err := r.r.Read(r.rbuf)
	r.pending = append(r.pending, r.rbuf[:n]...)
	switch {
	case err == io.EOF:
		r.finish()
		return
	case err != nil:
		r.err = err
		return
	}
	hold := len(r.pending) % bs
	if hold == 0 {
		hold = bs
	}
	k := len(r.pending) - hold
	if k <= 0 {
		return
	}
	r.out = append(r.out[:0], r.pending[:k]...)
	r.mode.CryptBlocks(r.out, r.out)
	r.plain = r.out
	r.pending = r.pending[:copy(r.pending, r.pending[k:])]
}

func (r *cbcReader) finish() {
	bs := r.mode.BlockSize()
	if len(r.pending) == 0 || len(r.pending)%bs != 0 {
		r.err = io.ErrUnexpectedEOF
		return
	}
	r.out = append(r.out[:0], r.pending...)
	r.pending = r.pending[:0]
	r.mode.CryptBlocks(r.out, r.out)
	stripped, err := Strip(r.out, bs)
	if err != nil {
		r.err = err
		return
	}
	r.plain = stripped
	r.err = io.EOF
}

type cbcWriter struct {
	w    io.Writer
	mode cipher.BlockMode

	block []byte // partial block, always shorter than the block size
	buf   []byte
	err   error
}

// NewCBCWriter returns a writer that encrypts its input with mode and
// writes to w. Closing the writer pads and writes the final block but
// does not close w.
func NewCBCWriter(w io.Writer, mode cipher.BlockMode) io.WriteCloser {
	bs := mode.BlockSize()
	size := defaultBufSize
	if size < bs {
		size = bs
	}
	return newCBCWriter(w, mode, size)
}

func newCBCWriter(w io.Writer, mode cipher.BlockMode, bufSize int) *cbcWriter {
	bs := mode.BlockSize()
	if bs > bufSize {
		panic("cipherio: block size larger than buffer")
	}
	return &cbcWriter{
		w:     w,
		mode:  mode,
		block: make([]byte, 0, bs),
		buf:   make([]byte, bufSize),
	}
}

func (w *cbcWriter) Write(p []byte) (n int, err error) {
	if w.err != nil {
		return 0, w.err
	}
	bs := w.mode.BlockSize()
	if len(w.block) > 0 {
		k := copy(w.block[len(w.block):bs], p)
		w.block = w.block[:len(w.block)+k]
		p = p[k:]
		n += k
		if len(w.block) < bs {
			return n, nil
		}
		w.mode.CryptBlocks(w.block, w.block)
		if _, err := w.w.Write(w.block); err != nil {
			w.err = err
			return n, err
		}
		w.block = w.block[:0]
	}
	for len(p) >= bs {
		chunk := len(p) - len(p)%bs
		if chunk > len(w.buf) {
			chunk = len(w.buf) - len(w.buf)%bs
		}
		b := w.buf[:chunk]
		copy(b, p)
		w.mode.CryptBlocks(b, b)
		if _, err := w.w.Write(b); err != nil {
			w.err = err
			return n, err
		}
		p = p[chunk:]
		n += chunk
	}
	w.block = append(w.block, p...)
	return n + len(p), nil
}

func (w *cbcWriter) Close() error {
	if w.err == errClosed {
		return nil
	} else if w.err != nil {
		return w.err
	}
	last := Pad(w.block, w.mode.BlockSize())
	w.mode.CryptBlocks(last, last)
	_, err := w.w.Write(last)
	w.err = errClosed
	return err
}

type streamWriter struct {
	w   io.Writer
	s   cipher.Stream
	buf []byte
	err error
}

// NewStreamWriter returns a writer that XORs its input with the
// keystream s and writes to w. Unlike cipher.StreamWriter, the input
// slice is never modified and Close does not close w.
func NewStreamWriter(w io.Writer, s cipher.Stream) io.WriteCloser {
	return &streamWriter{
		w:   w,
		s:   s,
		buf: make([]byte, defaultBufSize),
	}
}

func (w *streamWriter) Write(p []byte) (n int, err error) {
	if w.err != nil {
		return 0, w.err
	}
	for len(p) > 0 {
		b := w.buf
		if len(p) < len(b) {
			b = b[:len(p)]
		}
		w.s.XORKeyStream(b, p[:len(b)])
		nn, err := w.w.Write(b)
		n += nn
		if err != nil {
			w.err = err
			return n, err
		}
		p = p[len(b):]
	}
	return n, nil
}

func (w *streamWriter) Close() error {
	if w.err == errClosed {
		return nil
	} else if w.err != nil {
		return w.err
	}
	w.err = errClosed
	return nil
}

// NewStreamReader returns a reader that XORs r with the keystream s.
func NewStreamReader(r io.Reader, s cipher.Stream) io.Reader {
	return &cipher.StreamReader{S: s, R: r}
}

var errClosed = errors.New("cipherio: write on closed writer")

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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"zombiezen.com/go/kdbx/pkg/kdberr"
)

// maxFieldSize bounds a single outer header field.
const maxFieldSize = 1 << 24

// maxInnerFieldSize bounds a single inner header field. Attachments live
// there, and KeePass sizes them with an int32.
var maxInnerFieldSize int64 = math.MaxInt32

// fieldReader reads (id u8, length, value) records. Outer headers use a
// 16-bit length in KDBX 3 and a 32-bit length afterward; the inner
// header always uses 32 bits.
type fieldReader struct {
	r       reader
	wideLen bool
	limit   int64
	op      string
	buf     bytes.Buffer
}

func newFieldReader(r io.Reader, wideLen bool) *fieldReader {
	return &fieldReader{
		r:       reader{r: r},
		wideLen: wideLen,
		limit:   maxFieldSize,
		op:      "read header",
	}
}

func newInnerFieldReader(r io.Reader) *fieldReader {
	return &fieldReader{
		r:       reader{r: r},
		wideLen: true,
		limit:   maxInnerFieldSize,
		op:      "read inner header",
	}
}

// next returns the next field in the input. val is valid until the
// subsequent call to next. After the end field, next returns io.EOF.
func (fr *fieldReader) next() (id uint8, val []byte, err error) {
	if fr.r.err != nil {
		return 0, nil, fr.r.err
	}
	id = fr.r.readUint8()
	var n uint32
	if fr.wideLen {
		n = fr.r.readUint32()
	} else {
		n = uint32(fr.r.readUint16())
	}
	if fr.r.err == nil && int64(n) > fr.limit {
		fr.r.err = kdberr.New(kdberr.HeaderFormat, fr.op, fmt.Sprintf("field %d is %d bytes", id, n))
	}
	fr.buf.Reset()
	if fr.r.err == nil {
		_, fr.r.err = io.CopyN(&fr.buf, fr.r.r, int64(n))
	}
	if fr.r.err != nil {
		return 0, nil, fr.r.err
	}
	if id == fieldEnd {
		fr.r.err = io.EOF
	}
	return id, fr.buf.Bytes(), nil
}

type reader struct {
	r   io.Reader
	err error
}

func (r *reader) readFull(p []byte) {
	if r.err != nil {
		return
	}
	_, r.err = io.ReadFull(r.r, p)
}

func (r *reader) readUint8() uint8 {
	var buf [1]byte
	r.readFull(buf[:])
	return buf[0]
}

func (r *reader) readUint16() uint16 {
	var buf [2]byte
	r.readFull(buf[:])
	return binary.LittleEndian.Uint16(buf[:])
}

func (r *reader) readUint32() uint32 {
	var buf [4]byte
	r.readFull(buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

type writer struct {
	w   io.Writer
	err error
}

func (w *writer) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

func (w *writer) writeUint32(i uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], i)
	w.write(buf[:])
}

// fieldWriter is the counterpart of fieldReader. A positive limit
// rejects longer fields so that the output stays readable.
type fieldWriter struct {
	writer
	wideLen bool
	limit   int64
	op      string
}

func (w *fieldWriter) writeField(id uint8, val []byte) {
	if w.limit > 0 && int64(len(val)) > w.limit && w.err == nil {
		w.err = kdberr.New(kdberr.HeaderFormat, w.opName(), fmt.Sprintf("field %d is %d bytes, limit is %d", id, len(val), w.limit))
		return
	}
	w.write([]byte{id})
	if w.wideLen {
		w.writeUint32(uint32(len(val)))
	} else {
		if len(val) > math.MaxUint16 && w.err == nil {
			w.err = kdberr.New(kdberr.HeaderFormat, w.opName(), fmt.Sprintf("field %d is %d bytes", id, len(val)))
			return
		}
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(len(val)))
		w.write(buf[:])
	}
	w.write(val)
}

func (w *fieldWriter) opName() string {
	if w.op == "" {
		return "write header"
	}
	return w.op
}

func (w *fieldWriter) writeUint32Field(id uint8, val uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	w.writeField(id, buf[:])
}

func (w *fieldWriter) writeUint64Field(id uint8, val uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	w.writeField(id, buf[:])
}

func verifyFieldSize(name string, val []byte, want int) error {
	if n := len(val); n != want {
		return fieldSizeError{name, n, want}
	}
	return nil
}

type fieldSizeError struct {
	name string
	size int
	want int
}

func (e fieldSizeError) Error() string {
	return fmt.Sprintf("%s field size is %d, should be %d", e.name, e.size, e.want)
}

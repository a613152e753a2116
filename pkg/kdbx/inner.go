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
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"zombiezen.com/go/kdbx/pkg/innerstream"
	"zombiezen.com/go/kdbx/pkg/kdberr"
)

// Inner header field ids (KDBX 4).
const (
	innerFieldEnd       = 0
	innerFieldStreamID  = 1
	innerFieldStreamKey = 2
	innerFieldBinary    = 3
)

const binaryFlagProtected = 0x01

// A Binary is an attachment stored in the KDBX 4 inner header. Entries
// in the document refer to binaries by their index.
type Binary struct {
	// Protected is a hint that the data should be kept in protected
	// memory. It does not affect how the data is stored.
	Protected bool
	Data      []byte
}

// readInnerHeader reads the inner header at the start of a KDBX 4
// plaintext body into h.
func readInnerHeader(r io.Reader, h *Header) error {
	const op = "read inner header"
	fr := newInnerFieldReader(r)
	var sawID, sawKey bool
	h.Binaries = nil
	for {
		id, val, err := fr.next()
		if err != nil {
			var e *kdberr.Error
			if errors.As(err, &e) {
				return err
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return kdberr.New(kdberr.HeaderFormat, op, "unexpected end of inner header")
			}
			return kdberr.Wrap(kdberr.Other, op, err)
		}
		switch id {
		case innerFieldEnd:
			if !sawID || !sawKey {
				return kdberr.New(kdberr.HeaderFormat, op, "missing inner random stream fields")
			}
			return nil
		case innerFieldStreamID:
			if err := verifyFieldSize("inner random stream ID", val, 4); err != nil {
				return kdberr.Wrap(kdberr.HeaderFormat, op, err)
			}
			h.InnerStream = innerstream.ID(binary.LittleEndian.Uint32(val))
			sawID = true
		case innerFieldStreamKey:
			h.ProtectedStreamKey = append([]byte(nil), val...)
			sawKey = true
		case innerFieldBinary:
			if len(val) == 0 {
				return kdberr.New(kdberr.HeaderFormat, op, fmt.Sprintf("binary %d has no flags", len(h.Binaries)))
			}
			h.Binaries = append(h.Binaries, Binary{
				Protected: val[0]&binaryFlagProtected != 0,
				Data:      append([]byte(nil), val[1:]...),
			})
		}
	}
}

// writeInnerHeader writes h's inner header fields to w. It refuses
// binaries that readInnerHeader would reject.
func writeInnerHeader(w io.Writer, h *Header) error {
	fw := &fieldWriter{
		writer:  writer{w: w},
		wideLen: true,
		limit:   maxInnerFieldSize,
		op:      "write inner header",
	}
	fw.writeUint32Field(innerFieldStreamID, uint32(h.InnerStream))
	fw.writeField(innerFieldStreamKey, h.ProtectedStreamKey)
	for _, b := range h.Binaries {
		val := make([]byte, 1+len(b.Data))
		if b.Protected {
			val[0] = binaryFlagProtected
		}
		copy(val[1:], b.Data)
		fw.writeField(innerFieldBinary, val)
	}
	fw.writeField(innerFieldEnd, nil)
	return fw.err
}

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

package blockstream

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"math"

	pkgerrors "github.com/pkg/errors"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
)

// HMAC block layout: HMAC-SHA256 tag, length (i32), data.
const hmacHeaderSize = sha256.Size + 4

// blockTag computes the tag of the block at index i. The tag covers the
// little-endian index, the length and the data.
func blockTag(base []byte, i uint64, data []byte) []byte {
	var prefix [12]byte
	binary.LittleEndian.PutUint64(prefix[0:8], i)
	binary.LittleEndian.PutUint32(prefix[8:12], uint32(len(data)))
	m := hmac.New(sha256.New, kdbcrypt.BlockKey(base, i))
	m.Write(prefix[:])
	m.Write(data)
	return m.Sum(nil)
}

// NewHMACReader returns a reader over the payload of an HMAC block
// stream. base is the 64-byte HMAC base key. r must end right after the
// terminator block.
func NewHMACReader(r io.Reader, base []byte) io.Reader {
	var (
		index uint64
		hdr   [hmacHeaderSize]byte
		buf   bytes.Buffer
	)
	return &blockReader{next: func() ([]byte, error) {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, ioError(err)
		}
		tag := hdr[:sha256.Size]
		n := binary.LittleEndian.Uint32(hdr[sha256.Size:])
		if n > math.MaxInt32 {
			return nil, integrityError("block %d has negative length", index)
		}
		data, err := readPayload(r, &buf, int64(n))
		if err != nil {
			return nil, err
		}
		if !hmac.Equal(tag, blockTag(base, index, data)) {
			return nil, integrityError("block %d HMAC mismatch", index)
		}
		index++
		if n == 0 {
			return nil, expectEOF(r)
		}
		return data, nil
	}}
}

// NewHMACWriter returns a writer that frames its input as authenticated
// blocks of blockSize bytes. A non-positive blockSize selects
// DefaultBlockSize.
func NewHMACWriter(w io.Writer, base []byte, blockSize int) io.WriteCloser {
	var index uint64
	return newBlockWriter(func(data []byte) error {
		var hdr [hmacHeaderSize]byte
		copy(hdr[:], blockTag(base, index, data))
		binary.LittleEndian.PutUint32(hdr[sha256.Size:], uint32(len(data)))
		if _, err := w.Write(hdr[:]); err != nil {
			return pkgerrors.Wrap(err, "write block")
		}
		if _, err := w.Write(data); err != nil {
			return pkgerrors.Wrap(err, "write block")
		}
		index++
		return nil
	}, blockSize)
}

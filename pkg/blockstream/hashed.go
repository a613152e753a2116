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
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"io"

	pkgerrors "github.com/pkg/errors"
)

// Hashed block layout: index (u32), SHA-256 of data, length (u32), data.
const hashedHeaderSize = 4 + sha256.Size + 4

// NewHashedReader returns a reader over the payload of a hashed block
// stream. r must end right after the terminator block.
func NewHashedReader(r io.Reader) io.Reader {
	var (
		index uint32
		hdr   [hashedHeaderSize]byte
		buf   bytes.Buffer
	)
	return &blockReader{next: func() ([]byte, error) {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, ioError(err)
		}
		if got := binary.LittleEndian.Uint32(hdr[0:4]); got != index {
			return nil, integrityError("block index %d, want %d", got, index)
		}
		sum := hdr[4 : 4+sha256.Size]
		n := binary.LittleEndian.Uint32(hdr[4+sha256.Size:])
		if n == 0 {
			var zero [sha256.Size]byte
			if !bytes.Equal(sum, zero[:]) {
				return nil, integrityError("terminator block %d has non-zero hash", index)
			}
			return nil, expectEOF(r)
		}
		data, err := readPayload(r, &buf, int64(n))
		if err != nil {
			return nil, err
		}
		if got := sha256.Sum256(data); subtle.ConstantTimeCompare(got[:], sum) != 1 {
			return nil, integrityError("block %d hash mismatch", index)
		}
		index++
		return data, nil
	}}
}

// NewHashedWriter returns a writer that frames its input as hashed
// blocks of blockSize bytes. A non-positive blockSize selects
// DefaultBlockSize.
func NewHashedWriter(w io.Writer, blockSize int) io.WriteCloser {
	var index uint32
	return newBlockWriter(func(data []byte) error {
		var hdr [hashedHeaderSize]byte
		binary.LittleEndian.PutUint32(hdr[0:4], index)
		if len(data) > 0 {
			sum := sha256.Sum256(data)
			copy(hdr[4:], sum[:])
		}
		binary.LittleEndian.PutUint32(hdr[4+sha256.Size:], uint32(len(data)))
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

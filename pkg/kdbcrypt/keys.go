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

package kdbcrypt

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"math"

	"zombiezen.com/go/kdbx/pkg/kdf"
)

// HeaderBlockIndex is the block index used to derive the header HMAC key.
const HeaderBlockIndex = math.MaxUint64

// Keys holds the key material derived for one load or save.
type Keys struct {
	Transformed []byte // KDF output
	Final       []byte // outer cipher key
	HMACBase    []byte // nil unless derived with HMAC
}

// DeriveKeys runs k over the composite key and derives the outer cipher
// key. If withHMAC is true, the base key for KDBX 4 block and header
// authentication is derived as well.
func DeriveKeys(compositeKey, masterSeed []byte, k kdf.KDF, withHMAC bool) (*Keys, error) {
	t, err := k.Transform(compositeKey)
	if err != nil {
		return nil, err
	}
	keys := &Keys{Transformed: t}
	h := sha256.New()
	h.Write(masterSeed)
	h.Write(t)
	keys.Final = h.Sum(nil)
	if withHMAC {
		h := sha512.New()
		h.Write(masterSeed)
		h.Write(t)
		h.Write([]byte{0x01})
		keys.HMACBase = h.Sum(nil)
	}
	return keys, nil
}

// BlockKey returns the HMAC key for the block at index i.
func BlockKey(base []byte, i uint64) []byte {
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], i)
	h := sha512.New()
	h.Write(idx[:])
	h.Write(base)
	return h.Sum(nil)
}

// HeaderKey returns the HMAC key for the KDBX 4 header.
func (k *Keys) HeaderKey() []byte {
	return BlockKey(k.HMACBase, HeaderBlockIndex)
}

// Wipe zeroes all key material in k.
func (k *Keys) Wipe() {
	if k == nil {
		return
	}
	for _, b := range [][]byte{k.Transformed, k.Final, k.HMACBase} {
		for i := range b {
			b[i] = 0
		}
	}
}

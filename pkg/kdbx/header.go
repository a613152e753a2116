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
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"zombiezen.com/go/kdbx/pkg/innerstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/kdberr"
	"zombiezen.com/go/kdbx/pkg/kdf"
	"zombiezen.com/go/kdbx/pkg/vardict"
)

// Outer header field ids.
const (
	fieldEnd                 = 0
	fieldComment             = 1
	fieldCipherID            = 2
	fieldCompression         = 3
	fieldMasterSeed          = 4
	fieldTransformSeed       = 5
	fieldTransformRounds     = 6
	fieldEncryptionIV        = 7
	fieldProtectedStreamKey  = 8
	fieldStreamStartBytes    = 9
	fieldInnerRandomStreamID = 10
	fieldKDFParameters       = 11
	fieldPublicCustomData    = 12
)

var endOfHeader = []byte("\r\n\r\n")

// Sizes of fixed-length header values.
const (
	MasterSeedSize       = 32
	StreamStartBytesSize = 32
)

// A Header is the unencrypted preamble of a KDBX file.
type Header struct {
	Version      Version
	Cipher       kdbcrypt.Cipher
	Compression  Compression
	MasterSeed   []byte
	EncryptionIV []byte
	KDF          kdf.KDF
	Comment      []byte // optional

	// ProtectedStreamKey and InnerStream key the inner stream cipher.
	// KDBX 4 stores them in the inner header.
	ProtectedStreamKey []byte
	InnerStream        innerstream.ID

	// StreamStartBytes are the first plaintext bytes of a KDBX 3 body.
	StreamStartBytes []byte

	// PublicCustomData is optional plugin data in KDBX 4.
	PublicCustomData *vardict.Dictionary

	// Binaries are attachments from a KDBX 4 inner header.
	Binaries []Binary

	raw     []byte // serialized fields, exactly as read or written
	hmacTag []byte // KDBX 4 only
}

// profile is the set of header rules for a major version.
type profile int

const (
	profile3 profile = 3
	profile4 profile = 4
)

func profileFor(v Version) (profile, error) {
	switch v.Major() {
	case 3:
		return profile3, nil
	case 4:
		return profile4, nil
	default:
		return 0, kdberr.New(kdberr.HeaderFormat, "read header", fmt.Sprintf("unsupported version %v", v))
	}
}

// wideLen reports whether header field lengths are 32 bits.
func (p profile) wideLen() bool {
	return p >= profile4
}

// hmac reports whether the profile authenticates the header and
// blocks with HMAC-SHA256.
func (p profile) hmac() bool {
	return p >= profile4
}

// owns reports whether a field id belongs to the profile's outer header.
func (p profile) owns(id uint8) bool {
	switch id {
	case fieldTransformSeed, fieldTransformRounds, fieldProtectedStreamKey, fieldStreamStartBytes, fieldInnerRandomStreamID:
		return p == profile3
	case fieldKDFParameters, fieldPublicCustomData:
		return p == profile4
	default:
		return true
	}
}

// Raw returns the serialized header fields, from the signature through
// the end-of-header field, exactly as read or written.
func (h *Header) Raw() []byte {
	return h.raw
}

// Hash returns the SHA-256 of the serialized header. KDBX 3 stores this
// value in the document's Meta/HeaderHash element.
func (h *Header) Hash() [sha256.Size]byte {
	return sha256.Sum256(h.raw)
}

// ReadHeader parses a header from r. For KDBX 4, the SHA-256 that
// follows the header is verified; the HMAC that follows it needs the
// derived keys and is verified by NewReader.
func ReadHeader(r io.Reader, opts *Options) (*Header, error) {
	const op = "read header"
	log := opts.logger()
	raw := new(bytes.Buffer)
	tee := io.TeeReader(r, raw)

	var pre [12]byte
	if _, err := io.ReadFull(tee, pre[:]); err != nil {
		return nil, headerReadError(err)
	}
	if binary.LittleEndian.Uint32(pre[0:4]) != Signature1 {
		return nil, kdberr.New(kdberr.HeaderFormat, op, "not a KeePass file")
	}
	switch sig2 := binary.LittleEndian.Uint32(pre[4:8]); sig2 {
	case Signature2:
	case signature2KDB:
		return nil, kdberr.New(kdberr.HeaderFormat, op, "KeePass 1.x database; use package kdb")
	case signature2PreRel:
		return nil, kdberr.New(kdberr.HeaderFormat, op, "pre-release KDBX 2.x database")
	default:
		return nil, kdberr.New(kdberr.HeaderFormat, op, fmt.Sprintf("unknown signature %#08x", sig2))
	}
	h := &Header{Version: Version(binary.LittleEndian.Uint32(pre[8:12]))}
	p, err := profileFor(h.Version)
	if err != nil {
		return nil, err
	}

	fr := newFieldReader(tee, p.wideLen())
	seen := make(map[uint8]bool)
	var aesKDF *kdf.AESKDF
	for {
		id, val, err := fr.next()
		if err != nil {
			return nil, headerReadError(err)
		}
		if id == fieldEnd {
			break
		}
		if !p.owns(id) {
			log.WithFields(logrus.Fields{"field": id, "version": h.Version}).Debug("kdbx: ignoring header field not used by this version")
			continue
		}
		seen[id] = true
		if err := h.setField(id, val, &aesKDF); err != nil {
			return nil, err
		}
	}
	h.raw = raw.Bytes()
	if aesKDF != nil {
		h.KDF = aesKDF
	}
	if err := h.checkRequired(p, seen); err != nil {
		return nil, err
	}

	if p.hmac() {
		var trailer [2 * sha256.Size]byte
		if _, err := io.ReadFull(r, trailer[:]); err != nil {
			return nil, headerReadError(err)
		}
		sum := h.Hash()
		if !hmac.Equal(sum[:], trailer[:sha256.Size]) {
			return nil, kdberr.New(kdberr.HeaderIntegrity, op, "header hash mismatch")
		}
		h.hmacTag = append([]byte(nil), trailer[sha256.Size:]...)
	}
	log.WithFields(logrus.Fields{
		"version":     h.Version,
		"cipher":      h.Cipher,
		"compression": h.Compression,
		"kdf":         h.KDF,
	}).Debug("kdbx: read header")
	return h, nil
}

func (h *Header) setField(id uint8, val []byte, aesKDF **kdf.AESKDF) error {
	fieldErr := func(err error) error {
		return kdberr.Wrap(kdberr.HeaderFormat, fmt.Sprintf("read header field %d", id), err)
	}
	switch id {
	case fieldComment:
		h.Comment = append([]byte(nil), val...)
	case fieldCipherID:
		cid, err := uuid.FromBytes(val)
		if err != nil {
			return fieldErr(err)
		}
		if h.Cipher, err = kdbcrypt.CipherFromUUID(cid); err != nil {
			return err
		}
	case fieldCompression:
		if err := verifyFieldSize("compression", val, 4); err != nil {
			return fieldErr(err)
		}
		h.Compression = Compression(binary.LittleEndian.Uint32(val))
		if h.Compression > GzipCompression {
			return kdberr.New(kdberr.HeaderFormat, "read header", fmt.Sprintf("unknown compression %d", uint32(h.Compression)))
		}
	case fieldMasterSeed:
		if err := verifyFieldSize("master seed", val, MasterSeedSize); err != nil {
			return fieldErr(err)
		}
		h.MasterSeed = append([]byte(nil), val...)
	case fieldTransformSeed:
		if err := verifyFieldSize("transform seed", val, 32); err != nil {
			return fieldErr(err)
		}
		if *aesKDF == nil {
			*aesKDF = new(kdf.AESKDF)
		}
		copy((*aesKDF).Seed[:], val)
	case fieldTransformRounds:
		if err := verifyFieldSize("transform rounds", val, 8); err != nil {
			return fieldErr(err)
		}
		if *aesKDF == nil {
			*aesKDF = new(kdf.AESKDF)
		}
		(*aesKDF).Rounds = binary.LittleEndian.Uint64(val)
	case fieldEncryptionIV:
		h.EncryptionIV = append([]byte(nil), val...)
	case fieldProtectedStreamKey:
		h.ProtectedStreamKey = append([]byte(nil), val...)
	case fieldStreamStartBytes:
		if err := verifyFieldSize("stream start bytes", val, StreamStartBytesSize); err != nil {
			return fieldErr(err)
		}
		h.StreamStartBytes = append([]byte(nil), val...)
	case fieldInnerRandomStreamID:
		if err := verifyFieldSize("inner random stream ID", val, 4); err != nil {
			return fieldErr(err)
		}
		h.InnerStream = innerstream.ID(binary.LittleEndian.Uint32(val))
	case fieldKDFParameters:
		d := new(vardict.Dictionary)
		if err := d.UnmarshalBinary(val); err != nil {
			return fieldErr(err)
		}
		k, err := kdf.FromParameters(d)
		if err != nil {
			return err
		}
		h.KDF = k
	case fieldPublicCustomData:
		d := new(vardict.Dictionary)
		if err := d.UnmarshalBinary(val); err != nil {
			return fieldErr(err)
		}
		h.PublicCustomData = d
	}
	return nil
}

func (h *Header) checkRequired(p profile, seen map[uint8]bool) error {
	required := []struct {
		id   uint8
		name string
	}{
		{fieldCipherID, "CipherID"},
		{fieldMasterSeed, "MasterSeed"},
		{fieldEncryptionIV, "EncryptionIV"},
	}
	if p == profile3 {
		required = append(required, []struct {
			id   uint8
			name string
		}{
			{fieldTransformSeed, "TransformSeed"},
			{fieldTransformRounds, "TransformRounds"},
			{fieldProtectedStreamKey, "ProtectedStreamKey"},
			{fieldStreamStartBytes, "StreamStartBytes"},
			{fieldInnerRandomStreamID, "InnerRandomStreamID"},
		}...)
	} else {
		required = append(required, struct {
			id   uint8
			name string
		}{fieldKDFParameters, "KdfParameters"})
	}
	for _, f := range required {
		if !seen[f.id] {
			return kdberr.New(kdberr.HeaderFormat, "read header", "missing "+f.name+" field")
		}
	}
	if len(h.EncryptionIV) != h.Cipher.IVSize() {
		return kdberr.New(kdberr.HeaderFormat, "read header", fmt.Sprintf("%v IV is %d bytes", h.Cipher, len(h.EncryptionIV)))
	}
	return nil
}

func headerReadError(err error) error {
	var e *kdberr.Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return kdberr.New(kdberr.HeaderFormat, "read header", "unexpected end of header")
	}
	return kdberr.Wrap(kdberr.Other, "read header", err)
}

// validate checks that h can be written.
func (h *Header) validate() error {
	const op = "write header"
	p, err := profileFor(h.Version)
	if err != nil {
		return kdberr.New(kdberr.HeaderFormat, op, fmt.Sprintf("unsupported version %v", h.Version))
	}
	switch {
	case len(h.MasterSeed) != MasterSeedSize:
		return kdberr.New(kdberr.HeaderFormat, op, fmt.Sprintf("master seed is %d bytes", len(h.MasterSeed)))
	case len(h.EncryptionIV) != h.Cipher.IVSize():
		return kdberr.New(kdberr.HeaderFormat, op, fmt.Sprintf("%v IV is %d bytes", h.Cipher, len(h.EncryptionIV)))
	case h.KDF == nil:
		return kdberr.New(kdberr.HeaderFormat, op, "no KDF")
	case h.Compression > GzipCompression:
		return kdberr.New(kdberr.HeaderFormat, op, fmt.Sprintf("unknown compression %d", uint32(h.Compression)))
	case len(h.ProtectedStreamKey) == 0 && h.InnerStream != innerstream.None:
		return kdberr.New(kdberr.HeaderFormat, op, "no protected stream key")
	}
	if p == profile3 {
		if _, ok := h.KDF.(*kdf.AESKDF); !ok {
			return kdberr.New(kdberr.UnsupportedKDF, op, fmt.Sprintf("%v requires AES-KDF", h.Version))
		}
		if len(h.StreamStartBytes) != StreamStartBytesSize {
			return kdberr.New(kdberr.HeaderFormat, op, fmt.Sprintf("stream start bytes are %d bytes", len(h.StreamStartBytes)))
		}
		if len(h.Binaries) > 0 {
			return kdberr.New(kdberr.HeaderFormat, op, "binaries require KDBX 4")
		}
	}
	for i, b := range h.Binaries {
		// One flags byte precedes the data.
		if int64(len(b.Data))+1 > maxInnerFieldSize {
			return kdberr.New(kdberr.HeaderFormat, op, fmt.Sprintf("binary %d is %d bytes", i, len(b.Data)))
		}
	}
	return nil
}

// marshal serializes the outer header fields in canonical order and
// records the result as h's raw bytes.
func (h *Header) marshal() ([]byte, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	p, _ := profileFor(h.Version)
	buf := new(bytes.Buffer)
	w := &fieldWriter{writer: writer{w: buf}, wideLen: p.wideLen(), limit: maxFieldSize}
	w.writeUint32(Signature1)
	w.writeUint32(Signature2)
	w.writeUint32(uint32(h.Version))
	if len(h.Comment) > 0 {
		w.writeField(fieldComment, h.Comment)
	}
	cipherID := h.Cipher.UUID()
	w.writeField(fieldCipherID, cipherID[:])
	w.writeUint32Field(fieldCompression, uint32(h.Compression))
	w.writeField(fieldMasterSeed, h.MasterSeed)
	if p == profile3 {
		k := h.KDF.(*kdf.AESKDF)
		w.writeField(fieldTransformSeed, k.Seed[:])
		w.writeUint64Field(fieldTransformRounds, k.Rounds)
		w.writeField(fieldEncryptionIV, h.EncryptionIV)
		w.writeField(fieldProtectedStreamKey, h.ProtectedStreamKey)
		w.writeField(fieldStreamStartBytes, h.StreamStartBytes)
		w.writeUint32Field(fieldInnerRandomStreamID, uint32(h.InnerStream))
	} else {
		w.writeField(fieldEncryptionIV, h.EncryptionIV)
		params, err := h.KDF.Parameters().MarshalBinary()
		if err != nil {
			return nil, kdberr.Wrap(kdberr.HeaderFormat, "write KDF parameters", err)
		}
		w.writeField(fieldKDFParameters, params)
		if h.PublicCustomData != nil && h.PublicCustomData.Len() > 0 {
			data, err := h.PublicCustomData.MarshalBinary()
			if err != nil {
				return nil, kdberr.Wrap(kdberr.HeaderFormat, "write public custom data", err)
			}
			w.writeField(fieldPublicCustomData, data)
		}
	}
	w.writeField(fieldEnd, endOfHeader)
	if w.err != nil {
		return nil, w.err
	}
	h.raw = buf.Bytes()
	return h.raw, nil
}

// headerHMAC returns the KDBX 4 header authentication tag.
func headerHMAC(keys *kdbcrypt.Keys, raw []byte) []byte {
	m := hmac.New(sha256.New, keys.HeaderKey())
	m.Write(raw)
	return m.Sum(nil)
}

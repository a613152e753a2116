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
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"zombiezen.com/go/kdbx/pkg/credentials"
	"zombiezen.com/go/kdbx/pkg/fakerand"
	"zombiezen.com/go/kdbx/pkg/innerstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/kdberr"
	"zombiezen.com/go/kdbx/pkg/kdf"
)

// testOptions uses a cheap AES-KDF so tests run quickly.
func testOptions(v Version, c kdbcrypt.Cipher) *Options {
	return &Options{
		Rand:    fakerand.New(),
		Version: v,
		Cipher:  c,
		KDF:     &kdf.AESKDF{Rounds: 100},
	}
}

func testCredentials(t *testing.T, pw string) *credentials.Credentials {
	t.Helper()
	c, err := credentials.NewPassword([]byte(pw))
	require.NoError(t, err)
	return c
}

// testDocument returns an XML document with two protected values,
// encrypted with inner in order.
func testDocument(inner *innerstream.Cipher, title, password string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" standalone="yes"?>
<KeePassFile>
	<Root>
		<Group>
			<Name>Root</Name>
			<Entry>
				<String><Key>Title</Key><Value Protected="True">%s</Value></String>
				<String><Key>Password</Key><Value Protected="True">%s</Value></String>
			</Entry>
		</Group>
	</Root>
</KeePassFile>
`, inner.Protect([]byte(title)), inner.Protect([]byte(password))))
}

// writeContainer writes doc (produced against the writer's inner
// cipher) and returns the container bytes.
func writeContainer(t *testing.T, h *Header, creds *credentials.Credentials, opts *Options, doc func(*innerstream.Cipher) []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	w, err := NewWriter(buf, h, creds, opts)
	require.NoError(t, err)
	require.Contains(t, []State{BodyEncrypting, Compressing}, w.State())
	_, err = w.Write(doc(w.Protected()))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.Equal(t, Done, w.State())
	require.NoError(t, w.Close(), "second Close")
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	le := func(a, b uint32) []byte {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint32(buf, a)
		binary.LittleEndian.PutUint32(buf[4:], b)
		return buf
	}
	tests := []struct {
		prefix []byte
		want   Format
	}{
		{nil, FormatUnknown},
		{[]byte{0x03, 0xd9, 0xa2, 0x9a}, FormatUnknown},
		{le(Signature1, Signature2), FormatKDBX},
		{le(Signature1, 0xb54bfb65), FormatKDB},
		{le(Signature1, 0xb54bfb66), FormatKDBXPreRelease},
		{le(Signature1, 0xdeadbeef), FormatUnknown},
		{le(0x12345678, Signature2), FormatUnknown},
	}
	for _, test := range tests {
		if got := DetectFormat(test.prefix); got != test.want {
			t.Errorf("DetectFormat(% x) = %v; want %v", test.prefix, got, test.want)
		}
	}
}

func TestVersion(t *testing.T) {
	tests := []struct {
		v     Version
		major uint16
		minor uint16
		s     string
	}{
		{Version31, 3, 1, "3.1"},
		{Version40, 4, 0, "4.0"},
		{Version41, 4, 1, "4.1"},
	}
	for _, test := range tests {
		if test.v.Major() != test.major || test.v.Minor() != test.minor {
			t.Errorf("%#x = %d.%d; want %d.%d", uint32(test.v), test.v.Major(), test.v.Minor(), test.major, test.minor)
		}
		if s := test.v.String(); s != test.s {
			t.Errorf("%#x.String() = %q; want %q", uint32(test.v), s, test.s)
		}
		v, err := ParseVersion(test.s)
		require.NoError(t, err)
		require.Equal(t, test.v, v)
	}
	_, err := ParseVersion("5.0")
	require.ErrorIs(t, err, kdberr.ErrHeaderFormat)
	_, err = ParseVersion("four")
	require.Error(t, err)
}

func TestNewHeader(t *testing.T) {
	t.Run("Defaults4", func(t *testing.T) {
		h, err := NewHeader(&Options{Rand: fakerand.New()})
		require.NoError(t, err)
		require.Equal(t, Version40, h.Version)
		require.Equal(t, kdbcrypt.AES256, h.Cipher)
		require.Equal(t, GzipCompression, h.Compression)
		require.Equal(t, innerstream.ChaCha20, h.InnerStream)
		require.Len(t, h.ProtectedStreamKey, 64)
		require.Len(t, h.EncryptionIV, 16)
		require.Nil(t, h.StreamStartBytes)
		k, ok := h.KDF.(*kdf.Argon2)
		require.True(t, ok, "KDF = %T; want *kdf.Argon2", h.KDF)
		require.Equal(t, kdf.Argon2d, k.Variant)
		require.Equal(t, uint64(DefaultArgon2Memory), k.Memory)
		require.Equal(t, uint64(DefaultArgon2Iterations), k.Iterations)
		require.Equal(t, uint32(DefaultArgon2Parallelism), k.Parallelism)
		require.Len(t, k.Salt, 32)
	})
	t.Run("Defaults3", func(t *testing.T) {
		h, err := NewHeader(&Options{Rand: fakerand.New(), Version: Version31})
		require.NoError(t, err)
		require.Equal(t, innerstream.Salsa20, h.InnerStream)
		require.Len(t, h.ProtectedStreamKey, 32)
		require.Len(t, h.StreamStartBytes, StreamStartBytesSize)
		k, ok := h.KDF.(*kdf.AESKDF)
		require.True(t, ok, "KDF = %T; want *kdf.AESKDF", h.KDF)
		require.Equal(t, uint64(DefaultAESRounds), k.Rounds)
	})
	t.Run("ChaCha20IV", func(t *testing.T) {
		h, err := NewHeader(testOptions(Version41, kdbcrypt.ChaCha20))
		require.NoError(t, err)
		require.Len(t, h.EncryptionIV, 12)
	})
	t.Run("FreshSeeds", func(t *testing.T) {
		opts := testOptions(Version40, kdbcrypt.AES256)
		h1, err := NewHeader(opts)
		require.NoError(t, err)
		h2, err := NewHeader(opts)
		require.NoError(t, err)
		require.NotEqual(t, h1.MasterSeed, h2.MasterSeed)
		require.NotEqual(t, h1.KDF.(*kdf.AESKDF).Seed, h2.KDF.(*kdf.AESKDF).Seed)
		// The template is not modified.
		require.Equal(t, [32]byte{}, opts.KDF.(*kdf.AESKDF).Seed)
	})
	t.Run("Argon2RequiresKDBX4", func(t *testing.T) {
		opts := testOptions(Version31, kdbcrypt.AES256)
		opts.KDF = &kdf.Argon2{Variant: kdf.Argon2d, Memory: 1 << 20, Iterations: 1, Parallelism: 1, Version: kdf.Argon2Version13}
		_, err := NewHeader(opts)
		require.ErrorIs(t, err, kdberr.ErrUnsupportedKDF)
	})
	t.Run("AESKDFInKDBX4", func(t *testing.T) {
		h, err := NewHeader(testOptions(Version40, kdbcrypt.AES256))
		require.NoError(t, err)
		require.IsType(t, &kdf.AESKDF{}, h.KDF)
		require.Equal(t, uint64(100), h.KDF.(*kdf.AESKDF).Rounds)
	})
	t.Run("UnsupportedVersion", func(t *testing.T) {
		_, err := NewHeader(&Options{Version: 0x00020000})
		require.ErrorIs(t, err, kdberr.ErrHeaderFormat)
	})
}

func TestHeaderRoundTrip(t *testing.T) {
	for _, v := range []Version{Version31, Version40, Version41} {
		t.Run(v.String(), func(t *testing.T) {
			h, err := NewHeader(testOptions(v, kdbcrypt.Twofish))
			require.NoError(t, err)
			h.Comment = []byte("hi")
			raw, err := h.marshal()
			require.NoError(t, err)
			in := append([]byte(nil), raw...)
			if v.Major() >= 4 {
				sum := sha256.Sum256(raw)
				in = append(in, sum[:]...)
				in = append(in, make([]byte, sha256.Size)...)
			}
			got, err := ReadHeader(bytes.NewReader(in), nil)
			require.NoError(t, err)
			require.Equal(t, raw, got.Raw())
			require.Equal(t, h.Version, got.Version)
			require.Equal(t, h.Cipher, got.Cipher)
			require.Equal(t, h.Compression, got.Compression)
			require.Equal(t, h.MasterSeed, got.MasterSeed)
			require.Equal(t, h.EncryptionIV, got.EncryptionIV)
			require.Equal(t, h.KDF, got.KDF)
			require.Equal(t, []byte("hi"), got.Comment)
			if v.Major() < 4 {
				require.Equal(t, h.StreamStartBytes, got.StreamStartBytes)
				require.Equal(t, h.ProtectedStreamKey, got.ProtectedStreamKey)
				require.Equal(t, h.InnerStream, got.InnerStream)
			}
			require.Equal(t, h.Hash(), got.Hash())
		})
	}
}

func TestReadHeaderErrors(t *testing.T) {
	h, err := NewHeader(testOptions(Version31, kdbcrypt.AES256))
	require.NoError(t, err)
	raw, err := h.marshal()
	require.NoError(t, err)
	withVersion := func(v uint32) []byte {
		b := append([]byte(nil), raw...)
		binary.LittleEndian.PutUint32(b[8:], v)
		return b
	}
	withSig2 := func(sig uint32) []byte {
		b := append([]byte(nil), raw...)
		binary.LittleEndian.PutUint32(b[4:], sig)
		return b
	}
	tests := []struct {
		name string
		data []byte
	}{
		{"Empty", nil},
		{"ShortSignature", raw[:6]},
		{"BadSignature", append([]byte("PK\x03\x04"), raw[4:]...)},
		{"KDB", withSig2(0xb54bfb65)},
		{"PreRelease", withSig2(0xb54bfb66)},
		{"UnknownSignature", withSig2(0x01020304)},
		{"Version2", withVersion(0x00020000)},
		{"Version5", withVersion(0x00050000)},
		{"Truncated", raw[:len(raw)-10]},
		{"NoEndField", raw[:len(raw)-7]},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ReadHeader(bytes.NewReader(test.data), nil)
			require.ErrorIs(t, err, kdberr.ErrHeaderFormat)
		})
	}
}

func TestReadHeaderMissingField(t *testing.T) {
	// A KDBX 3.1 header with only the cipher and end fields.
	buf := new(bytes.Buffer)
	w := &fieldWriter{writer: writer{w: buf}}
	w.writeUint32(Signature1)
	w.writeUint32(Signature2)
	w.writeUint32(uint32(Version31))
	id := kdbcrypt.AES256UUID
	w.writeField(fieldCipherID, id[:])
	w.writeField(fieldEnd, endOfHeader)
	require.NoError(t, w.err)
	_, err := ReadHeader(buf, nil)
	require.ErrorIs(t, err, kdberr.ErrHeaderFormat)
	require.Contains(t, err.Error(), "missing")
}

func TestReadHeaderIgnoresOtherVersionFields(t *testing.T) {
	h, err := NewHeader(testOptions(Version31, kdbcrypt.AES256))
	require.NoError(t, err)
	raw, err := h.marshal()
	require.NoError(t, err)
	// Insert a KDBX 4 public custom data field before the end field.
	end := len(raw) - (1 + 2 + len(endOfHeader))
	in := append([]byte(nil), raw[:end]...)
	in = append(in, fieldPublicCustomData, 2, 0, 'x', 'y')
	in = append(in, raw[end:]...)
	got, err := ReadHeader(bytes.NewReader(in), nil)
	require.NoError(t, err)
	require.Nil(t, got.PublicCustomData)
	require.Equal(t, h.MasterSeed, got.MasterSeed)
}

func TestReadHeaderHash(t *testing.T) {
	h, err := NewHeader(testOptions(Version40, kdbcrypt.AES256))
	require.NoError(t, err)
	raw, err := h.marshal()
	require.NoError(t, err)
	in := append([]byte(nil), raw...)
	in = append(in, make([]byte, 2*sha256.Size)...)
	_, err = ReadHeader(bytes.NewReader(in), nil)
	require.ErrorIs(t, err, kdberr.ErrHeaderIntegrity)

	_, err = ReadHeader(bytes.NewReader(raw), nil)
	require.ErrorIs(t, err, kdberr.ErrHeaderFormat, "missing hash")
}

func TestInnerHeader(t *testing.T) {
	h := &Header{
		InnerStream:        innerstream.ChaCha20,
		ProtectedStreamKey: bytes.Repeat([]byte{0x42}, 64),
		Binaries: []Binary{
			{Protected: true, Data: []byte("secret attachment")},
			{Data: nil},
			{Data: []byte{0, 1, 2, 3}},
		},
	}
	buf := new(bytes.Buffer)
	require.NoError(t, writeInnerHeader(buf, h))
	buf.WriteString("<KeePassFile/>")

	got := new(Header)
	require.NoError(t, readInnerHeader(buf, got))
	require.Equal(t, h.InnerStream, got.InnerStream)
	require.Equal(t, h.ProtectedStreamKey, got.ProtectedStreamKey)
	require.Len(t, got.Binaries, 3)
	require.True(t, got.Binaries[0].Protected)
	require.Equal(t, []byte("secret attachment"), got.Binaries[0].Data)
	require.False(t, got.Binaries[1].Protected)
	require.Empty(t, got.Binaries[1].Data)
	require.Equal(t, []byte{0, 1, 2, 3}, got.Binaries[2].Data)
	rest, _ := io.ReadAll(buf)
	require.Equal(t, "<KeePassFile/>", string(rest))
}

func TestInnerHeaderErrors(t *testing.T) {
	field := func(id uint8, val []byte) []byte {
		b := []byte{id, 0, 0, 0, 0}
		binary.LittleEndian.PutUint32(b[1:], uint32(len(val)))
		return append(b, val...)
	}
	key := bytes.Repeat([]byte{1}, 32)
	streamID := []byte{2, 0, 0, 0}
	tests := []struct {
		name string
		data []byte
	}{
		{"Empty", nil},
		{"NoEnd", append(field(innerFieldStreamID, streamID), field(innerFieldStreamKey, key)...)},
		{"NoKey", append(field(innerFieldStreamID, streamID), field(innerFieldEnd, nil)...)},
		{"NoStreamID", append(field(innerFieldStreamKey, key), field(innerFieldEnd, nil)...)},
		{"BadStreamID", append(field(innerFieldStreamID, []byte{2}), field(innerFieldEnd, nil)...)},
		{"BinaryWithoutFlags", bytes.Join([][]byte{
			field(innerFieldStreamID, streamID),
			field(innerFieldStreamKey, key),
			field(innerFieldBinary, nil),
			field(innerFieldEnd, nil),
		}, nil)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := readInnerHeader(bytes.NewReader(test.data), new(Header))
			require.ErrorIs(t, err, kdberr.ErrHeaderFormat)
		})
	}
}

func TestInnerHeaderLimit(t *testing.T) {
	defer func(old int64) { maxInnerFieldSize = old }(maxInnerFieldSize)
	maxInnerFieldSize = 16
	newHeader := func(size int) *Header {
		return &Header{
			InnerStream:        innerstream.Salsa20,
			ProtectedStreamKey: bytes.Repeat([]byte{0x42}, 16),
			Binaries:           []Binary{{Data: bytes.Repeat([]byte{0xaa}, size)}},
		}
	}

	// The flags byte brings a 15-byte binary to the limit.
	buf := new(bytes.Buffer)
	require.NoError(t, writeInnerHeader(buf, newHeader(15)))
	got := new(Header)
	require.NoError(t, readInnerHeader(buf, got))
	require.Len(t, got.Binaries[0].Data, 15)

	buf.Reset()
	err := writeInnerHeader(buf, newHeader(16))
	require.ErrorIs(t, err, kdberr.ErrHeaderFormat)
	require.Contains(t, err.Error(), "write inner header")

	buf.Reset()
	maxInnerFieldSize = 1 << 10
	require.NoError(t, writeInnerHeader(buf, newHeader(16)))
	maxInnerFieldSize = 16
	err = readInnerHeader(buf, new(Header))
	require.ErrorIs(t, err, kdberr.ErrHeaderFormat)
	require.Contains(t, err.Error(), "read inner header")
}

func TestStateString(t *testing.T) {
	require.Equal(t, "StreamStartChecked", StreamStartChecked.String())
	require.Equal(t, "Failed", Failed.String())
	require.True(t, strings.HasPrefix(State(99).String(), "State("))
}

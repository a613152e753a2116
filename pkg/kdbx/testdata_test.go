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
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"zombiezen.com/go/kdbx/pkg/innerstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/kdberr"
	"zombiezen.com/go/kdbx/pkg/kdf"
)

// The files in testdata were written by a separate KDBX encoder, not by
// this package. Their password is "123".
func TestReadTestdata(t *testing.T) {
	tests := []struct {
		file        string
		version     Version
		slow        bool
		innerStream innerstream.ID
		checkKDF    func(t *testing.T, k kdf.KDF)
		checkHeader func(t *testing.T, r *Reader, doc []byte)
	}{
		{
			file:        "sample-3.1-aes.kdbx",
			version:     Version31,
			innerStream: innerstream.Salsa20,
			checkKDF: func(t *testing.T, k kdf.KDF) {
				aesKDF, ok := k.(*kdf.AESKDF)
				require.True(t, ok, "KDF = %v", k)
				require.Equal(t, uint64(60000), aesKDF.Rounds)
			},
			checkHeader: func(t *testing.T, r *Reader, doc []byte) {
				want := "<HeaderHash>" + base64.StdEncoding.EncodeToString(r.HeaderHash()) + "</HeaderHash>"
				require.Contains(t, string(doc), want)
			},
		},
		{
			file:        "sample-4.0-argon2d.kdbx",
			version:     Version40,
			slow:        true,
			innerStream: innerstream.ChaCha20,
			checkKDF: func(t *testing.T, k kdf.KDF) {
				argon, ok := k.(*kdf.Argon2)
				require.True(t, ok, "KDF = %v", k)
				require.Equal(t, kdf.Argon2d, argon.Variant)
				require.Equal(t, uint64(64<<20), argon.Memory)
				require.Equal(t, uint64(2), argon.Iterations)
				require.Equal(t, uint32(2), argon.Parallelism)
			},
			checkHeader: func(t *testing.T, r *Reader, doc []byte) {
				require.Equal(t, []Binary{{Data: []byte("KeePass attachment\n")}}, r.Header().Binaries)
			},
		},
	}
	for _, test := range tests {
		t.Run(test.file, func(t *testing.T) {
			if test.slow && testing.Short() {
				t.Skip("Argon2 with 64 MiB is slow")
			}
			data, err := os.ReadFile(filepath.Join("testdata", test.file))
			require.NoError(t, err)
			require.Equal(t, FormatKDBX, DetectFormat(data))

			r, err := NewReader(bytes.NewReader(data), testCredentials(t, "123"), nil)
			require.NoError(t, err)
			h := r.Header()
			require.Equal(t, test.version, h.Version)
			require.Equal(t, kdbcrypt.AES256, h.Cipher)
			require.Equal(t, GzipCompression, h.Compression)
			require.Equal(t, test.innerStream, h.InnerStream)
			test.checkKDF(t, h.KDF)

			doc, err := io.ReadAll(r)
			require.NoError(t, err)
			require.Equal(t, Ready, r.State())
			test.checkHeader(t, r, doc)
			strs, err := decodeStrings(bytes.NewReader(doc), r.Protected())
			require.NoError(t, err)
			require.Equal(t, "Sample Entry", strs["Title"])
			require.Equal(t, "User Name", strs["UserName"])
			require.Equal(t, "Password", strs["Password"])
			require.Equal(t, "https://keepass.info/", strs["URL"])
		})
	}
}

func TestReadTestdataWrongPassword(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "sample-3.1-aes.kdbx"))
	require.NoError(t, err)
	_, err = NewReader(bytes.NewReader(data), testCredentials(t, "1234"), nil)
	require.ErrorIs(t, err, kdberr.ErrWrongCredentials)
}

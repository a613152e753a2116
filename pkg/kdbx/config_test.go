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
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/kdbx/pkg/fakerand"
	"zombiezen.com/go/kdbx/pkg/innerstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/kdf"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kdbx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestNewConfigMissingFile(t *testing.T) {
	config, err := NewConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, NewDefaultConfig(), config)
}

func TestNewConfigKDBX3(t *testing.T) {
	config, err := NewConfig(writeConfig(t, `
version: "3.1"
cipher: twofish
compression: false
kdf:
  rounds: 1000
block:
  size: 64KiB
log:
  level: debug
`))
	require.NoError(t, err)
	require.Equal(t, Version31, config.Version)
	require.Equal(t, kdbcrypt.Twofish, config.Cipher)
	require.False(t, config.Compression)
	require.Equal(t, KDFAES, config.KDF.Type)
	require.Equal(t, uint64(1000), config.KDF.Rounds)
	require.Equal(t, innerstream.Salsa20, config.InnerStream)
	require.Equal(t, 64*1024, config.BlockSize)
	require.Equal(t, logrus.DebugLevel, config.LogLevel)

	opts := config.Options(new(bytes.Buffer))
	opts.Rand = fakerand.New()
	h, err := NewHeader(opts)
	require.NoError(t, err)
	require.Equal(t, Version31, h.Version)
	require.Equal(t, NoCompression, h.Compression)
	require.Equal(t, &kdf.AESKDF{Seed: h.KDF.(*kdf.AESKDF).Seed, Rounds: 1000}, h.KDF)
}

func TestNewConfigArgon2id(t *testing.T) {
	config, err := NewConfig(writeConfig(t, `
version: "4.1"
cipher: chacha20
kdf:
  type: argon2id
  memory: 1MiB
  iterations: 3
  parallelism: 1
inner:
  stream: chacha20
`))
	require.NoError(t, err)
	require.Equal(t, Version41, config.Version)
	require.True(t, config.Compression)

	logs := new(bytes.Buffer)
	opts := config.Options(logs)
	opts.Rand = fakerand.New()
	h, err := NewHeader(opts)
	require.NoError(t, err)
	require.Equal(t, kdbcrypt.ChaCha20, h.Cipher)
	k, ok := h.KDF.(*kdf.Argon2)
	require.True(t, ok)
	require.Equal(t, kdf.Argon2id, k.Variant)
	require.Equal(t, uint64(1<<20), k.Memory)
	require.Equal(t, uint64(3), k.Iterations)
	require.Equal(t, uint32(1), k.Parallelism)
	require.Equal(t, innerstream.ChaCha20, h.InnerStream)
}

func TestNewConfigNoInnerStream(t *testing.T) {
	for _, version := range []string{"3.1", "4.0"} {
		t.Run(version, func(t *testing.T) {
			config, err := NewConfig(writeConfig(t, `
version: "`+version+`"
kdf:
  type: aes
  rounds: 10
inner:
  stream: none
`))
			require.NoError(t, err)
			require.Equal(t, innerstream.None, config.InnerStream)

			opts := config.Options(new(bytes.Buffer))
			opts.Rand = fakerand.New()
			h, err := NewHeader(opts)
			require.NoError(t, err)
			require.Equal(t, innerstream.None, h.InnerStream)
			require.Empty(t, h.ProtectedStreamKey)

			creds := testCredentials(t, "pw")
			data := writeContainer(t, h, creds, opts, func(*innerstream.Cipher) []byte { return []byte("<KeePassFile/>") })
			r, err := readContainer(data, creds)
			require.NoError(t, err)
			require.Equal(t, innerstream.None, r.Header().InnerStream)
		})
	}
}

func TestNewConfigDebugLogging(t *testing.T) {
	config, err := NewConfig(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)
	logs := new(bytes.Buffer)
	opts := config.Options(logs)
	opts.Rand = fakerand.New()
	opts.KDF = &kdf.AESKDF{Rounds: 10}
	h, err := NewHeader(opts)
	require.NoError(t, err)
	writeContainer(t, h, testCredentials(t, "secret password"), opts, func(*innerstream.Cipher) []byte { return nil })
	require.Contains(t, logs.String(), "state=HeaderWritten")
	require.NotContains(t, logs.String(), "secret password")
}

func TestNewConfigErrors(t *testing.T) {
	tests := []string{
		"version: \"2.0\"\n",
		"version: latest\n",
		"cipher: rot13\n",
		"kdf:\n  type: scrypt\n",
		"kdf:\n  memory: lots\n",
		"inner:\n  stream: arcfour\n",
		"block:\n  size: 0\n",
		"log:\n  level: chatty\n",
		"version: [\n",
	}
	for _, contents := range tests {
		_, err := NewConfig(writeConfig(t, contents))
		require.Error(t, err, "config %q", contents)
	}
}

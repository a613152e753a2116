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

package kdb

import (
	"bytes"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"zombiezen.com/go/kdbx/pkg/credentials"
	"zombiezen.com/go/kdbx/pkg/fakerand"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/kdberr"
)

// sanitizeOptions returns a copy of opts that has defaults suitable for testing.
func sanitizeOptions(opts *Options) *Options {
	o := new(Options)
	if opts != nil {
		*o = *opts
	}
	if o.Rand == nil {
		o.Rand = fakerand.New()
	}
	if o.KeyRounds == 0 {
		o.KeyRounds = 100
	}
	return o
}

func password(t *testing.T, pw string) *credentials.Credentials {
	t.Helper()
	c, err := credentials.NewPassword([]byte(pw))
	require.NoError(t, err)
	return c
}

func testRecords() (groups, entries []Record) {
	created := time.Date(2016, time.March, 5, 10, 30, 0, 0, time.UTC)
	groups = []Record{{
		Uint32Field(GroupIDField, 1),
		StringField(GroupNameField, "Internet"),
		TimeField(GroupCreationTimeField, created),
		TimeField(GroupExpiryTimeField, time.Time{}),
		Uint32Field(GroupIconField, 1),
		Uint16Field(GroupLevelField, 0),
		Uint32Field(GroupFlagsField, 0),
	}}
	entries = []Record{{
		{Type: EntryUUIDField, Data: bytes.Repeat([]byte{0xab}, 16)},
		Uint32Field(EntryGroupIDField, 1),
		StringField(EntryTitleField, "Example"),
		StringField(EntryUsernameField, "alice"),
		StringField(EntryPasswordField, "hunter2"),
		TimeField(EntryCreationTimeField, created),
	}}
	return groups, entries
}

func writeDatabase(t *testing.T, creds *credentials.Credentials, opts *Options) []byte {
	t.Helper()
	db, err := New(creds, opts)
	require.NoError(t, err)
	groups, entries := testRecords()
	require.NoError(t, db.SetRecords(groups, entries))
	buf := new(bytes.Buffer)
	require.NoError(t, db.Write(buf))
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	for _, c := range []kdbcrypt.Cipher{kdbcrypt.AES256, kdbcrypt.Twofish} {
		t.Run(c.String(), func(t *testing.T) {
			opts := sanitizeOptions(&Options{Cipher: c})
			data := writeDatabase(t, password(t, "swordfish"), opts)

			db, err := Open(bytes.NewReader(data), password(t, "swordfish"), nil)
			require.NoError(t, err)
			require.Equal(t, c, db.Cipher)
			require.Equal(t, uint32(100), db.Rounds)
			require.Equal(t, EncodingUTF8, db.Encoding())
			require.Equal(t, 1, db.NumGroups())
			require.Equal(t, 1, db.NumEntries())

			groups, entries, err := db.Records()
			require.NoError(t, err)
			wantGroups, wantEntries := testRecords()
			require.Equal(t, wantGroups, groups)
			require.Equal(t, wantEntries, entries)
			title, _ := entries[0].Get(EntryTitleField)
			require.Equal(t, "Example", Field{Data: title}.String())

			sum := sha256.Sum256(db.Plaintext())
			require.Equal(t, sum[:], data[56:88], "content hash")
		})
	}
}

func TestNew(t *testing.T) {
	db, err := New(password(t, "swordfish"), sanitizeOptions(nil))
	require.NoError(t, err)
	buf := new(bytes.Buffer)
	require.NoError(t, db.Write(buf))
	// Header plus one block of padding.
	require.Equal(t, headerSize+16, buf.Len())

	got, err := Open(buf, password(t, "swordfish"), nil)
	require.NoError(t, err)
	groups, entries, err := got.Records()
	require.NoError(t, err)
	require.Empty(t, groups)
	require.Empty(t, entries)

	_, err = New(password(t, "swordfish"), sanitizeOptions(&Options{Cipher: kdbcrypt.ChaCha20}))
	require.ErrorIs(t, err, kdberr.ErrUnsupportedCipher)
	_, err = New(credentials.None(), sanitizeOptions(nil))
	require.ErrorIs(t, err, kdberr.ErrCredential)
}

func TestWrite_FreshIV(t *testing.T) {
	db, err := New(password(t, "pw"), sanitizeOptions(nil))
	require.NoError(t, err)
	var first, second bytes.Buffer
	require.NoError(t, db.Write(&first))
	require.NoError(t, db.Write(&second))
	require.NotEqual(t, first.Bytes()[32:48], second.Bytes()[32:48], "IV reused")

	db, err = New(password(t, "pw"), sanitizeOptions(&Options{StaticIVForTesting: true}))
	require.NoError(t, err)
	first.Reset()
	second.Reset()
	require.NoError(t, db.Write(&first))
	require.NoError(t, db.Write(&second))
	require.Equal(t, first.Bytes(), second.Bytes())
}

func TestOpen_Windows1252Password(t *testing.T) {
	const pw = "pässwörd"
	ansi, err := charmap.Windows1252.NewEncoder().Bytes([]byte(pw))
	require.NoError(t, err)
	require.NotEqual(t, []byte(pw), ansi)

	// Written the way KeePass 1.x does: with the ANSI bytes.
	data := writeDatabase(t, password(t, string(ansi)), sanitizeOptions(nil))
	db, err := Open(bytes.NewReader(data), password(t, pw), nil)
	require.NoError(t, err)
	require.Equal(t, EncodingWindows1252, db.Encoding())

	// Re-encrypting keeps the key the file was opened with.
	buf := new(bytes.Buffer)
	require.NoError(t, db.Write(buf))
	_, err = Open(buf, password(t, pw), nil)
	require.NoError(t, err)
}

func TestOpen_KeyFile(t *testing.T) {
	keyFile := bytes.Repeat([]byte{0x42}, 32)
	kf, err := credentials.NewKeyFile(bytes.NewReader(keyFile))
	require.NoError(t, err)
	data := writeDatabase(t, kf, sanitizeOptions(nil))

	kf, err = credentials.NewKeyFile(bytes.NewReader(keyFile))
	require.NoError(t, err)
	_, err = Open(bytes.NewReader(data), kf, nil)
	require.NoError(t, err)

	both, err := credentials.NewPasswordAndKeyFile([]byte("pw"), bytes.NewReader(keyFile))
	require.NoError(t, err)
	_, err = Open(bytes.NewReader(data), both, nil)
	require.ErrorIs(t, err, kdberr.ErrWrongCredentials)
}

func TestOpen_Errors(t *testing.T) {
	data := writeDatabase(t, password(t, "swordfish"), sanitizeOptions(nil))
	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), data...))
	}
	tests := []struct {
		name string
		data []byte
		pw   string
		kind kdberr.Kind
	}{
		{"WrongPassword", data, "123457", kdberr.WrongCredentials},
		{"Empty", nil, "swordfish", kdberr.HeaderFormat},
		{"ShortHeader", data[:100], "swordfish", kdberr.HeaderFormat},
		{"BadSignature", mutate(func(b []byte) []byte { b[0] ^= 1; return b }), "swordfish", kdberr.HeaderFormat},
		{"KDBXSignature", mutate(func(b []byte) []byte { b[4] = 0x67; return b }), "swordfish", kdberr.HeaderFormat},
		{"BadVersion", mutate(func(b []byte) []byte { b[14] = 0x04; return b }), "swordfish", kdberr.HeaderFormat},
		{"NoCipherFlag", mutate(func(b []byte) []byte { b[8] = 0x01; return b }), "swordfish", kdberr.UnsupportedCipher},
		{"Unaligned", data[:len(data)-1], "swordfish", kdberr.HeaderFormat},
		{"TamperedBody", mutate(func(b []byte) []byte { b[headerSize] ^= 1; return b }), "swordfish", kdberr.WrongCredentials},
		{"TamperedHash", mutate(func(b []byte) []byte { b[60] ^= 1; return b }), "swordfish", kdberr.WrongCredentials},
	}
	for _, test := range tests {
		_, err := Open(bytes.NewReader(test.data), password(t, test.pw), nil)
		if got := kdberr.KindOf(err); got != test.kind {
			t.Errorf("%s: Open error = %v; want kind %v", test.name, err, test.kind)
		}
	}
}

func TestOpen_MinorVersion(t *testing.T) {
	data := writeDatabase(t, password(t, "swordfish"), sanitizeOptions(nil))
	// Only the low byte of the version may differ.
	data[12] = 0x04
	_, err := Open(bytes.NewReader(data), password(t, "swordfish"), nil)
	require.NoError(t, err)
}

func TestRecords_CountMismatch(t *testing.T) {
	data := writeDatabase(t, password(t, "swordfish"), sanitizeOptions(nil))
	// Claim a second entry. The content hash does not cover the header.
	data[52] = 2
	db, err := Open(bytes.NewReader(data), password(t, "swordfish"), nil)
	require.NoError(t, err)
	_, _, err = db.Records()
	require.ErrorIs(t, err, kdberr.ErrHeaderFormat)
}

func TestWipe(t *testing.T) {
	db, err := New(password(t, "pw"), sanitizeOptions(nil))
	require.NoError(t, err)
	groups, entries := testRecords()
	require.NoError(t, db.SetRecords(groups, entries))
	plain := db.Plaintext()
	db.Wipe()
	require.Equal(t, make([]byte, len(plain)), plain)
	require.Nil(t, db.Plaintext())
}

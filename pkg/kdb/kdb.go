// Copyright 2016 Ross Light
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

// Package kdb reads and writes the KeePass 1.x KDB container: its
// header, key derivation, encryption and content hash. The plaintext is
// exposed as raw group and entry records.
package kdb // import "zombiezen.com/go/kdbx/pkg/kdb"

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"
	"zombiezen.com/go/kdbx/pkg/cipherio"
	"zombiezen.com/go/kdbx/pkg/credentials"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/kdberr"
	"zombiezen.com/go/kdbx/pkg/kdf"
)

// Password encodings reported by Database.Encoding.
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
)

// A Database is a decrypted KDB file.
type Database struct {
	// Cipher is the outer cipher, AES-256 or Twofish.
	Cipher kdbcrypt.Cipher
	// Rounds is the number of AES-KDF rounds.
	Rounds uint32

	encoding      string
	plain         []byte
	numGroups     uint32
	numEntries    uint32
	masterSeed    [16]byte
	transformSeed [32]byte
	iv            [16]byte
	finalKey      []byte

	rand     io.Reader
	staticIV bool
	log      logrus.FieldLogger
}

// New creates an empty database encrypted with creds. The password is
// used as UTF-8.
func New(creds *credentials.Credentials, opts *Options) (*Database, error) {
	db := &Database{
		Cipher:   opts.getCipher(),
		Rounds:   opts.getKeyRounds(),
		encoding: EncodingUTF8,
		rand:     opts.getRand(),
		staticIV: opts.staticIV(),
		log:      opts.logger(),
	}
	if _, err := cipherFlag(db.Cipher); err != nil {
		return nil, err
	}
	r := reader{r: db.rand}
	r.readFull(db.masterSeed[:])
	r.readFull(db.transformSeed[:])
	r.readFull(db.iv[:])
	if r.err != nil {
		return nil, pkgerrors.Wrap(r.err, "kdb: generate seeds")
	}
	composite, err := creds.LegacyKey(nil)
	if err != nil {
		return nil, err
	}
	defer wipe(composite)
	db.finalKey, err = db.deriveKey(composite)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Open decrypts and verifies a database. The password is tried as
// UTF-8 first and then as Windows-1252, the encoding KeePass 1.x used.
func Open(r io.Reader, creds *credentials.Credentials, opts *Options) (*Database, error) {
	var h header
	if err := h.read(r); err != nil {
		return nil, err
	}
	c, err := h.cipher()
	if err != nil {
		return nil, err
	}
	crypt, err := io.ReadAll(r)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "kdb: read body")
	}
	if len(crypt)%16 != 0 {
		return nil, kdberr.New(kdberr.HeaderFormat, "read body", fmt.Sprintf("%d bytes is not a multiple of the block size", len(crypt)))
	}
	db := &Database{
		Cipher:        c,
		Rounds:        h.transformRounds,
		numGroups:     h.numGroups,
		numEntries:    h.numEntries,
		masterSeed:    h.masterSeed,
		transformSeed: h.transformSeed,
		iv:            h.encryptionIV,
		rand:          opts.getRand(),
		staticIV:      opts.staticIV(),
		log:           opts.logger(),
	}
	db.log.WithFields(logrus.Fields{
		"cipher":  c,
		"rounds":  h.transformRounds,
		"groups":  h.numGroups,
		"entries": h.numEntries,
	}).Debug("kdb: header read")

	attempts := []struct {
		name   string
		encode func([]byte) ([]byte, error)
	}{
		{EncodingUTF8, nil},
		{EncodingWindows1252, charmap.Windows1252.NewEncoder().Bytes},
	}
	var utf8Key []byte
	for i, a := range attempts {
		composite, err := creds.LegacyKey(a.encode)
		if err != nil {
			if i > 0 {
				// Password not representable in this encoding.
				break
			}
			return nil, err
		}
		if i > 0 && bytes.Equal(composite, utf8Key) {
			wipe(composite)
			break
		}
		if i == 0 {
			utf8Key = append([]byte(nil), composite...)
			defer wipe(utf8Key)
		}
		key, err := db.deriveKey(composite)
		wipe(composite)
		if err != nil {
			return nil, err
		}
		plain, err := decrypt(crypt, &kdbcrypt.Params{Key: key, Cipher: c, IV: db.iv[:]}, h.contentHash[:])
		if kdberr.KindOf(err) == kdberr.WrongCredentials {
			wipe(key)
			db.log.WithField("encoding", a.name).Debug("kdb: content hash mismatch")
			continue
		}
		if err != nil {
			wipe(key)
			return nil, err
		}
		db.finalKey = key
		db.encoding = a.name
		db.plain = plain
		return db, nil
	}
	return nil, kdberr.New(kdberr.WrongCredentials, "open", "content hash mismatch")
}

func (db *Database) deriveKey(composite []byte) ([]byte, error) {
	keys, err := kdbcrypt.DeriveKeys(composite, db.masterSeed[:], &kdf.AESKDF{
		Seed:   db.transformSeed,
		Rounds: uint64(db.Rounds),
	}, false)
	if err != nil {
		return nil, err
	}
	wipe(keys.Transformed)
	return keys.Final, nil
}

func decrypt(crypt []byte, p *kdbcrypt.Params, contentHash []byte) ([]byte, error) {
	const op = "decrypt"
	dec, err := kdbcrypt.NewDecrypter(bytes.NewReader(crypt), p)
	if err != nil {
		return nil, err
	}
	hash := sha256.New()
	plain, err := io.ReadAll(io.TeeReader(dec, hash))
	if pkgerrors.Is(err, cipherio.ErrWrongPadding) {
		return nil, kdberr.New(kdberr.WrongCredentials, op, "bad padding")
	}
	if err != nil {
		return nil, kdberr.Wrap(kdberr.HeaderFormat, op, err)
	}
	if subtle.ConstantTimeCompare(hash.Sum(nil), contentHash) != 1 {
		wipe(plain)
		return nil, kdberr.New(kdberr.WrongCredentials, op, "content hash mismatch")
	}
	return plain, nil
}

// Encoding returns the password encoding the database was opened with.
func (db *Database) Encoding() string {
	return db.encoding
}

// NumGroups returns the number of group records.
func (db *Database) NumGroups() int { return int(db.numGroups) }

// NumEntries returns the number of entry records.
func (db *Database) NumEntries() int { return int(db.numEntries) }

// Plaintext returns the decrypted record stream. The caller must not
// modify it.
func (db *Database) Plaintext() []byte {
	return db.plain
}

// Records parses the plaintext into its group and entry records.
func (db *Database) Records() (groups, entries []Record, err error) {
	all, err := parseRecords(db.plain, int(db.numGroups)+int(db.numEntries))
	if err != nil {
		return nil, nil, err
	}
	return all[:db.numGroups], all[db.numGroups:], nil
}

// SetRecords replaces the database contents.
func (db *Database) SetRecords(groups, entries []Record) error {
	buf := new(bytes.Buffer)
	w := &writer{w: buf}
	writeRecords(w, groups)
	writeRecords(w, entries)
	if w.err != nil {
		return w.err
	}
	wipe(db.plain)
	db.plain = buf.Bytes()
	db.numGroups = uint32(len(groups))
	db.numEntries = uint32(len(entries))
	return nil
}

// Write encrypts the database to w. Unless StaticIVForTesting was set,
// a fresh IV is used for every write.
func (db *Database) Write(w io.Writer) error {
	flag, err := cipherFlag(db.Cipher)
	if err != nil {
		return err
	}
	if !db.staticIV {
		if _, err := io.ReadFull(db.rand, db.iv[:]); err != nil {
			return pkgerrors.Wrap(err, "kdb: generate IV")
		}
	}
	buf := new(bytes.Buffer)
	enc, err := kdbcrypt.NewEncrypter(buf, &kdbcrypt.Params{Key: db.finalKey, Cipher: db.Cipher, IV: db.iv[:]})
	if err != nil {
		return err
	}
	if _, err := enc.Write(db.plain); err != nil {
		return pkgerrors.Wrap(err, "kdb: encrypt")
	}
	if err := enc.Close(); err != nil {
		return pkgerrors.Wrap(err, "kdb: encrypt")
	}

	h := header{
		encryptionFlags: flag | 1,
		masterSeed:      db.masterSeed,
		encryptionIV:    db.iv,
		numGroups:       db.numGroups,
		numEntries:      db.numEntries,
		contentHash:     sha256.Sum256(db.plain),
		transformSeed:   db.transformSeed,
		transformRounds: db.Rounds,
	}
	if err := h.write(w); err != nil {
		return pkgerrors.Wrap(err, "kdb: write header")
	}
	if _, err := io.Copy(w, buf); err != nil {
		return pkgerrors.Wrap(err, "kdb: write body")
	}
	db.log.WithField("bytes", headerSize+buf.Len()).Debug("kdb: written")
	return nil
}

// Wipe zeroes the key and plaintext held by db.
func (db *Database) Wipe() {
	wipe(db.finalKey)
	wipe(db.plain)
	db.finalKey = nil
	db.plain = nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Encryption flags
const (
	rijndaelFlag uint32 = 2
	twofishFlag  uint32 = 8
)

// File header magic numbers
const (
	magic1 = 0x9aa2d903
	magic2 = 0xb54bfb65

	fileVersion             = 0x00030002
	fileVersionCriticalMask = 0xffffff00
)

// headerSize is the number of bytes that the file header occupies.
const headerSize = 124

func cipherFlag(c kdbcrypt.Cipher) (uint32, error) {
	switch c {
	case kdbcrypt.AES256:
		return rijndaelFlag, nil
	case kdbcrypt.Twofish:
		return twofishFlag, nil
	default:
		return 0, kdberr.New(kdberr.UnsupportedCipher, "kdb cipher", c.String())
	}
}

// header stores the non-magic values of a file header.
type header struct {
	encryptionFlags uint32
	masterSeed      [16]byte
	encryptionIV    [16]byte
	numGroups       uint32
	numEntries      uint32
	contentHash     [32]byte
	transformSeed   [32]byte
	transformRounds uint32
}

func (h *header) cipher() (kdbcrypt.Cipher, error) {
	switch {
	case h.encryptionFlags&rijndaelFlag != 0:
		return kdbcrypt.AES256, nil
	case h.encryptionFlags&twofishFlag != 0:
		return kdbcrypt.Twofish, nil
	default:
		return 0, kdberr.New(kdberr.UnsupportedCipher, "read header", fmt.Sprintf("encryption flags %#x", h.encryptionFlags))
	}
}

func (h *header) read(r io.Reader) error {
	const op = "read header"
	rr := reader{r: r}
	signature1 := rr.readUint32()
	signature2 := rr.readUint32()
	h.encryptionFlags = rr.readUint32()
	version := rr.readUint32()
	rr.readFull(h.masterSeed[:])
	rr.readFull(h.encryptionIV[:])
	h.numGroups = rr.readUint32()
	h.numEntries = rr.readUint32()
	rr.readFull(h.contentHash[:])
	rr.readFull(h.transformSeed[:])
	h.transformRounds = rr.readUint32()
	if rr.err == io.EOF || rr.err == io.ErrUnexpectedEOF {
		return kdberr.New(kdberr.HeaderFormat, op, "truncated")
	}
	if rr.err != nil {
		return pkgerrors.Wrap(rr.err, "kdb: read header")
	}
	if signature1 != magic1 || signature2 != magic2 {
		return kdberr.New(kdberr.HeaderFormat, op, "not a KeePass 1.x file")
	}
	if version&fileVersionCriticalMask != fileVersion&fileVersionCriticalMask {
		return kdberr.New(kdberr.HeaderFormat, op, fmt.Sprintf("unsupported version %#08x", version))
	}
	return nil
}

func (h *header) write(w io.Writer) error {
	ww := writer{w: w}
	ww.writeUint32(magic1)
	ww.writeUint32(magic2)
	ww.writeUint32(h.encryptionFlags)
	ww.writeUint32(fileVersion)
	ww.write(h.masterSeed[:])
	ww.write(h.encryptionIV[:])
	ww.writeUint32(h.numGroups)
	ww.writeUint32(h.numEntries)
	ww.write(h.contentHash[:])
	ww.write(h.transformSeed[:])
	ww.writeUint32(h.transformRounds)
	return ww.err
}

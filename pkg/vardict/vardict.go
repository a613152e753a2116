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

// Package vardict reads and writes KeePass variant dictionaries, the
// self-describing key/value blocks used for KDF parameters and public
// custom data in KDBX 4 headers.
package vardict // import "zombiezen.com/go/kdbx/pkg/vardict"

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Type is the type tag of a dictionary value.
type Type byte

// Value types
const (
	UInt32    Type = 0x04
	UInt64    Type = 0x05
	Bool      Type = 0x08
	Int32     Type = 0x0c
	Int64     Type = 0x0d
	String    Type = 0x18
	ByteArray Type = 0x42

	end Type = 0x00
)

func (t Type) String() string {
	switch t {
	case UInt32:
		return "UInt32"
	case UInt64:
		return "UInt64"
	case Bool:
		return "Bool"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case String:
		return "String"
	case ByteArray:
		return "ByteArray"
	default:
		return fmt.Sprintf("Type(%#02x)", byte(t))
	}
}

// size returns the fixed encoded size of t or -1 if t is variable-length.
func (t Type) size() int {
	switch t {
	case Bool:
		return 1
	case UInt32, Int32:
		return 4
	case UInt64, Int64:
		return 8
	default:
		return -1
	}
}

const (
	version             = 0x0100
	versionCriticalMask = 0xff00
)

// Errors
var (
	ErrVersion = errors.New("vardict: unsupported version")
	ErrFormat  = errors.New("vardict: malformed dictionary")
)

// An Item is a single typed entry in a dictionary.
type Item struct {
	Key   string
	Type  Type
	Value []byte // little-endian encoded value
}

// A Dictionary is an ordered set of typed values.  The zero value is an
// empty dictionary.
type Dictionary struct {
	items []Item
}

// Items returns the dictionary entries in insertion order.
func (d *Dictionary) Items() []Item {
	if d == nil {
		return nil
	}
	items := make([]Item, len(d.items))
	copy(items, d.items)
	return items
}

// Len returns the number of entries in the dictionary.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.items)
}

func (d *Dictionary) find(key string) int {
	if d == nil {
		return -1
	}
	for i := range d.items {
		if d.items[i].Key == key {
			return i
		}
	}
	return -1
}

// Get returns the entry for key.
func (d *Dictionary) Get(key string) (Item, bool) {
	i := d.find(key)
	if i < 0 {
		return Item{}, false
	}
	return d.items[i], true
}

// Delete removes key from the dictionary, if present.
func (d *Dictionary) Delete(key string) {
	i := d.find(key)
	if i < 0 {
		return
	}
	d.items = append(d.items[:i], d.items[i+1:]...)
}

func (d *Dictionary) set(key string, t Type, val []byte) {
	if i := d.find(key); i >= 0 {
		d.items[i].Type = t
		d.items[i].Value = val
		return
	}
	d.items = append(d.items, Item{Key: key, Type: t, Value: val})
}

// SetUint32 sets key to a UInt32 value.
func (d *Dictionary) SetUint32(key string, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	d.set(key, UInt32, buf[:])
}

// SetUint64 sets key to a UInt64 value.
func (d *Dictionary) SetUint64(key string, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	d.set(key, UInt64, buf[:])
}

// SetInt32 sets key to an Int32 value.
func (d *Dictionary) SetInt32(key string, v int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	d.set(key, Int32, buf[:])
}

// SetInt64 sets key to an Int64 value.
func (d *Dictionary) SetInt64(key string, v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	d.set(key, Int64, buf[:])
}

// SetBool sets key to a Bool value.
func (d *Dictionary) SetBool(key string, v bool) {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	d.set(key, Bool, b)
}

// SetString sets key to a UTF-8 String value.
func (d *Dictionary) SetString(key string, v string) {
	d.set(key, String, []byte(v))
}

// SetBytes sets key to a ByteArray value.  The slice is copied.
func (d *Dictionary) SetBytes(key string, v []byte) {
	d.set(key, ByteArray, append([]byte(nil), v...))
}

func (d *Dictionary) lookup(key string, t Type) ([]byte, error) {
	it, ok := d.Get(key)
	if !ok {
		return nil, errors.Errorf("vardict: missing %q", key)
	}
	if it.Type != t {
		return nil, errors.Errorf("vardict: %q is %v, want %v", key, it.Type, t)
	}
	return it.Value, nil
}

// Uint32 returns the UInt32 value of key.
func (d *Dictionary) Uint32(key string) (uint32, error) {
	b, err := d.lookup(key, UInt32)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 returns the UInt64 value of key.
func (d *Dictionary) Uint64(key string) (uint64, error) {
	b, err := d.lookup(key, UInt64)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Int32 returns the Int32 value of key.
func (d *Dictionary) Int32(key string) (int32, error) {
	b, err := d.lookup(key, Int32)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// Int64 returns the Int64 value of key.
func (d *Dictionary) Int64(key string) (int64, error) {
	b, err := d.lookup(key, Int64)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// Bool returns the Bool value of key.
func (d *Dictionary) Bool(key string) (bool, error) {
	b, err := d.lookup(key, Bool)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// GetString returns the String value of key.
func (d *Dictionary) GetString(key string) (string, error) {
	b, err := d.lookup(key, String)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Bytes returns the ByteArray value of key.  The returned slice must not
// be modified.
func (d *Dictionary) Bytes(key string) ([]byte, error) {
	return d.lookup(key, ByteArray)
}

// MarshalBinary encodes the dictionary.
func (d *Dictionary) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	var tmp [4]byte
	binary.LittleEndian.PutUint16(tmp[:2], version)
	buf.Write(tmp[:2])
	for _, it := range d.Items() {
		if it.Type == end {
			return nil, errors.Errorf("vardict: item %q has reserved type 0", it.Key)
		}
		if len(it.Key) > math.MaxInt32 || len(it.Value) > math.MaxInt32 {
			return nil, errors.Errorf("vardict: item %q too large", it.Key)
		}
		buf.WriteByte(byte(it.Type))
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(it.Key)))
		buf.Write(tmp[:])
		buf.WriteString(it.Key)
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(it.Value)))
		buf.Write(tmp[:])
		buf.Write(it.Value)
	}
	buf.WriteByte(byte(end))
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a dictionary, replacing d's contents.
// Trailing bytes after the terminator are an error.
func (d *Dictionary) UnmarshalBinary(data []byte) error {
	if len(data) < 2 {
		return ErrFormat
	}
	if binary.LittleEndian.Uint16(data)&versionCriticalMask > version&versionCriticalMask {
		return ErrVersion
	}
	data = data[2:]
	var items []Item
	for {
		if len(data) < 1 {
			return errors.Wrap(ErrFormat, "missing terminator")
		}
		t := Type(data[0])
		data = data[1:]
		if t == end {
			break
		}
		var key, val []byte
		var ok bool
		if key, data, ok = readSized(data); !ok {
			return errors.Wrap(ErrFormat, "truncated key")
		}
		if val, data, ok = readSized(data); !ok {
			return errors.Wrapf(ErrFormat, "truncated value for %q", key)
		}
		if n := t.size(); n >= 0 && len(val) != n {
			return errors.Wrapf(ErrFormat, "%q: %v value has %d bytes", key, t, len(val))
		}
		items = append(items, Item{
			Key:   string(key),
			Type:  t,
			Value: append([]byte(nil), val...),
		})
	}
	if len(data) != 0 {
		return errors.Wrap(ErrFormat, "trailing data")
	}
	d.items = items
	return nil
}

func readSized(data []byte) (val, rest []byte, ok bool) {
	if len(data) < 4 {
		return nil, data, false
	}
	n := int64(int32(binary.LittleEndian.Uint32(data)))
	data = data[4:]
	if n < 0 || n > int64(len(data)) {
		return nil, data, false
	}
	return data[:n], data[n:], true
}

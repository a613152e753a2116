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
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"zombiezen.com/go/kdbx/pkg/kdberr"
)

// Field types of group records.
const (
	GroupIDField                   = 0x0001
	GroupNameField                 = 0x0002
	GroupCreationTimeField         = 0x0003
	GroupLastModificationTimeField = 0x0004
	GroupLastAccessTimeField       = 0x0005
	GroupExpiryTimeField           = 0x0006
	GroupIconField                 = 0x0007
	GroupLevelField                = 0x0008
	GroupFlagsField                = 0x0009
)

// Field types of entry records.
const (
	EntryUUIDField                 = 0x0001
	EntryGroupIDField              = 0x0002
	EntryIconField                 = 0x0003
	EntryTitleField                = 0x0004
	EntryURLField                  = 0x0005
	EntryUsernameField             = 0x0006
	EntryPasswordField             = 0x0007
	EntryNotesField                = 0x0008
	EntryCreationTimeField         = 0x0009
	EntryLastModificationTimeField = 0x000a
	EntryLastAccessTimeField       = 0x000b
	EntryExpiryTimeField           = 0x000c
	EntryAttachmentNameField       = 0x000d
	EntryAttachmentDataField       = 0x000e
)

// fieldTerminator ends a record.
const fieldTerminator = 0xffff

// A Field is one (type, data) pair of a record.
type Field struct {
	Type uint16
	Data []byte
}

// A Record is a group or entry: its fields in file order, without the
// terminator.
type Record []Field

// Get returns the data of the first field of type t.
func (r Record) Get(t uint16) ([]byte, bool) {
	for _, f := range r {
		if f.Type == t {
			return f.Data, true
		}
	}
	return nil, false
}

// String returns the field data as a string, without the trailing NUL.
func (f Field) String() string {
	return string(stripNull(f.Data))
}

// Uint32 decodes a 4-byte little-endian field.
func (f Field) Uint32() (uint32, error) {
	if err := verifyFieldSize(f.Type, f.Data, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(f.Data), nil
}

// Time decodes a packed 5-byte date. The KeePass "never" date decodes
// to the zero Time.
func (f Field) Time() (time.Time, error) {
	b := f.Data
	if err := verifyFieldSize(f.Type, b, 5); err != nil {
		return time.Time{}, err
	}

	// 0        1        2        3        4
	// YYYYYYYY YYYYYYMM MMDDDDDH HHHHmmmm mmssssss
	year := int(b[0])<<6 | int(b[1]>>2)
	month := time.Month(b[1]&0x03<<2 | b[2]>>6)
	day := int(b[2] >> 1 & 0x1f)
	hour := int(b[2]&0x01<<4 | b[3]>>4)
	minute := int(b[3]&0x0f<<2 | b[4]>>6)
	second := int(b[4] & 0x3f)

	if year == 2999 && month == time.December && day == 28 && hour == 23 && minute == 59 && second == 59 {
		return time.Time{}, nil
	}
	return time.Date(year, month, day, hour, minute, second, 0, time.UTC), nil
}

// StringField returns a NUL-terminated string field.
func StringField(t uint16, s string) Field {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	return Field{Type: t, Data: buf}
}

// Uint16Field returns a 2-byte little-endian field.
func Uint16Field(t uint16, v uint16) Field {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	return Field{Type: t, Data: buf}
}

// Uint32Field returns a 4-byte little-endian field.
func Uint32Field(t uint16, v uint32) Field {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return Field{Type: t, Data: buf}
}

// TimeField returns a packed date field. The zero Time is stored as the
// KeePass "never" date. Times are stored in UTC with one second
// resolution.
func TimeField(typ uint16, t time.Time) Field {
	var (
		year   int
		month  time.Month
		day    int
		hour   int
		minute int
		second int
	)
	if t.IsZero() {
		year = 2999
		month = time.December
		day = 28
		hour = 23
		minute = 59
		second = 59
	} else {
		t = t.In(time.UTC)
		year = t.Year()
		month = t.Month()
		day = t.Day()
		hour = t.Hour()
		minute = t.Minute()
		second = t.Second()
	}
	b := make([]byte, 5)
	b[0] = byte(year >> 6)
	b[1] = byte(year&0x3f)<<2 | byte(month)>>2
	b[2] = byte(month&0x03)<<6 | byte(day<<1) | byte(hour>>4)
	b[3] = byte(hour&0x0f<<4) | byte(minute>>2)
	b[4] = byte(minute&0x03<<6) | byte(second)
	return Field{Type: typ, Data: b}
}

// parseRecords splits plaintext into exactly n records.
func parseRecords(plain []byte, n int) ([]Record, error) {
	const op = "read records"
	r := bytes.NewReader(plain)
	// Each record takes at least one 6-byte terminator.
	records := make([]Record, 0, min(n, len(plain)/6))
	for i := 0; i < n; i++ {
		rec, err := readRecord(r)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, kdberr.New(kdberr.HeaderFormat, op, fmt.Sprintf("found %d of %d records", i, n))
		}
		if err != nil {
			return nil, kdberr.Wrap(kdberr.HeaderFormat, op, err)
		}
		records = append(records, rec)
	}
	if r.Len() > 0 {
		return nil, kdberr.New(kdberr.HeaderFormat, op, fmt.Sprintf("%d bytes after last record", r.Len()))
	}
	return records, nil
}

func readRecord(r *bytes.Reader) (Record, error) {
	rr := reader{r: r}
	var rec Record
	for {
		t := rr.readUint16()
		size := rr.readUint32()
		if rr.err == nil && int64(size) > int64(r.Len()) {
			return nil, io.ErrUnexpectedEOF
		}
		if rr.err != nil {
			return nil, rr.err
		}
		data := make([]byte, size)
		rr.readFull(data)
		if rr.err != nil {
			return nil, rr.err
		}
		if t == fieldTerminator {
			return rec, nil
		}
		rec = append(rec, Field{Type: t, Data: data})
	}
}

// writeRecords appends the encoding of records to w.
func writeRecords(w *writer, records []Record) {
	for _, rec := range records {
		for _, f := range rec {
			writeField(w, f.Type, f.Data)
		}
		writeField(w, fieldTerminator, nil)
	}
}

func stripNull(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == 0 {
		return b[:n-1]
	}
	return b
}

type reader struct {
	r   io.Reader
	err error
}

func (r *reader) readFull(p []byte) {
	if r.err != nil {
		return
	}
	_, r.err = io.ReadFull(r.r, p)
}

func (r *reader) readUint16() uint16 {
	var buf [2]byte
	r.readFull(buf[:])
	return binary.LittleEndian.Uint16(buf[:])
}

func (r *reader) readUint32() uint32 {
	var buf [4]byte
	r.readFull(buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

type writer struct {
	w   io.Writer
	err error
}

func (w *writer) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

func (w *writer) writeUint16(i uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], i)
	w.write(buf[:])
}

func (w *writer) writeUint32(i uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], i)
	w.write(buf[:])
}

func writeField(w *writer, key uint16, val []byte) {
	w.writeUint16(key)
	w.writeUint32(uint32(len(val)))
	w.write(val)
}

func verifyFieldSize(t uint16, val []byte, want int) error {
	if n := len(val); n != want {
		return fieldSizeError{t, n, want}
	}
	return nil
}

type fieldSizeError struct {
	typ  uint16
	size int
	want int
}

func (e fieldSizeError) Error() string {
	return fmt.Sprintf("kdb: field %#04x size is %d, should be %d", e.typ, e.size, e.want)
}

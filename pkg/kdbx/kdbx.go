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

// Package kdbx reads and writes KeePass 2.x KDBX containers (versions
// 3.1 and 4.x).
//
// A Reader verifies and decrypts a container and exposes the plaintext
// XML document as a byte stream, together with the inner stream cipher
// that protected values in that document must be passed through in
// document order. A Writer performs the reverse. Parsing the XML itself
// is left to the caller.
package kdbx // import "zombiezen.com/go/kdbx/pkg/kdbx"

import (
	"encoding/binary"
	"fmt"
)

// File signatures.
const (
	Signature1       uint32 = 0x9aa2d903
	Signature2       uint32 = 0xb54bfb67
	signature2KDB    uint32 = 0xb54bfb65
	signature2PreRel uint32 = 0xb54bfb66
)

// Version is a KDBX file version: the major version in the high 16 bits
// and the minor version in the low 16 bits.
type Version uint32

// Known versions.
const (
	Version31 Version = 0x00030001
	Version40 Version = 0x00040000
	Version41 Version = 0x00040001
)

// Major returns the major version number.
func (v Version) Major() uint16 { return uint16(v >> 16) }

// Minor returns the minor version number.
func (v Version) Minor() uint16 { return uint16(v) }

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}

// Format identifies a KeePass file format by its signature.
type Format int

// Formats recognized by DetectFormat.
const (
	FormatUnknown        Format = iota
	FormatKDB                   // KeePass 1.x
	FormatKDBXPreRelease        // KeePass 2.x pre-release
	FormatKDBX
)

func (f Format) String() string {
	switch f {
	case FormatKDB:
		return "KDB"
	case FormatKDBXPreRelease:
		return "KDBX pre-release"
	case FormatKDBX:
		return "KDBX"
	default:
		return "unknown"
	}
}

// DetectFormat inspects the first 8 bytes of a file.
func DetectFormat(prefix []byte) Format {
	if len(prefix) < 8 || binary.LittleEndian.Uint32(prefix) != Signature1 {
		return FormatUnknown
	}
	switch binary.LittleEndian.Uint32(prefix[4:]) {
	case Signature2:
		return FormatKDBX
	case signature2KDB:
		return FormatKDB
	case signature2PreRel:
		return FormatKDBXPreRelease
	default:
		return FormatUnknown
	}
}

// Compression is a body compression algorithm.
type Compression uint32

// Compression algorithms.
const (
	NoCompression Compression = iota
	GzipCompression
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case GzipCompression:
		return "gzip"
	default:
		return fmt.Sprintf("Compression(%d)", uint32(c))
	}
}

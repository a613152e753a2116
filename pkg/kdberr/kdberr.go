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

// Package kdberr defines the error categories reported by the container codecs.
//
// Every failure is terminal: a caller that receives one of these errors must
// restart the whole load or save with corrected input.
package kdberr // import "zombiezen.com/go/kdbx/pkg/kdberr"

import (
	"errors"
	"strings"
)

// Kind is the category of a codec failure.
type Kind int

// Error kinds.
const (
	Other Kind = iota
	HeaderFormat
	HeaderIntegrity
	WrongCredentials
	BlockIntegrity
	UnsupportedKDF
	UnsupportedCipher
	Credential
)

var kindNames = [...]string{
	Other:             "error",
	HeaderFormat:      "malformed header",
	HeaderIntegrity:   "header integrity check failed",
	WrongCredentials:  "wrong credentials",
	BlockIntegrity:    "block integrity check failed",
	UnsupportedKDF:    "unsupported key derivation function",
	UnsupportedCipher: "unsupported cipher",
	Credential:        "invalid credentials",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[Other]
	}
	return kindNames[k]
}

// Sentinels for use with errors.Is.
var (
	ErrHeaderFormat      = &Error{Kind: HeaderFormat}
	ErrHeaderIntegrity   = &Error{Kind: HeaderIntegrity}
	ErrWrongCredentials  = &Error{Kind: WrongCredentials}
	ErrBlockIntegrity    = &Error{Kind: BlockIntegrity}
	ErrUnsupportedKDF    = &Error{Kind: UnsupportedKDF}
	ErrUnsupportedCipher = &Error{Kind: UnsupportedCipher}
	ErrCredential        = &Error{Kind: Credential}
)

// Error is a categorized codec failure.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "read header"
	Msg  string // detail, optional
	Err  error  // underlying error, optional
}

// New returns an error of the given kind.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap returns an error of the given kind caused by err.
// If err is nil, Wrap returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	sb := new(strings.Builder)
	sb.WriteString("kdbx: ")
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.String())
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
// Sentinels match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// KindOf returns the kind of the first *Error in err's chain,
// or Other if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

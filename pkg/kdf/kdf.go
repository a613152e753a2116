// Copyright 2026 Ross Light
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

// Package kdf implements the key derivation functions used to stretch a
// KeePass composite key: the AES-KDF iterated cipher transform and the
// Argon2d/Argon2id memory-hard functions.
package kdf // import "zombiezen.com/go/kdbx/pkg/kdf"

import (
	"fmt"

	"github.com/google/uuid"
	"zombiezen.com/go/kdbx/pkg/kdberr"
	"zombiezen.com/go/kdbx/pkg/vardict"
)

// KeySize is the size in bytes of a transformed key.
const KeySize = 32

// Algorithm identifiers.
var (
	AESKDFUUID   = uuid.MustParse("c9d9f39a-628a-4460-bf74-0d08c18a4fea")
	Argon2dUUID  = uuid.MustParse("ef636ddf-8c29-444b-91f7-a9a403e30a0c")
	Argon2idUUID = uuid.MustParse("9e298b19-56db-4773-b23d-fc3ec6f0a1e6")
)

// uuidKey is the dictionary key holding the algorithm identifier.
const uuidKey = "$UUID"

// A KDF transforms a composite key into key material.
type KDF interface {
	// UUID returns the algorithm identifier stored in the header.
	UUID() uuid.UUID

	// Transform stretches a 32-byte composite key into a 32-byte key.
	Transform(compositeKey []byte) ([]byte, error)

	// Parameters encodes the function and its parameters in the form
	// stored in a KDBX 4 header.
	Parameters() *vardict.Dictionary

	String() string
}

// FromParameters returns the KDF described by a KDBX 4 KdfParameters
// dictionary.
func FromParameters(d *vardict.Dictionary) (KDF, error) {
	raw, err := d.Bytes(uuidKey)
	if err != nil {
		return nil, kdberr.Wrap(kdberr.HeaderFormat, "read KDF parameters", err)
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return nil, kdberr.Wrap(kdberr.HeaderFormat, "read KDF parameters", err)
	}
	switch id {
	case AESKDFUUID:
		return aesFromParameters(d)
	case Argon2dUUID:
		return argon2FromParameters(Argon2d, d)
	case Argon2idUUID:
		return argon2FromParameters(Argon2id, d)
	default:
		return nil, kdberr.New(kdberr.UnsupportedKDF, "read KDF parameters", id.String())
	}
}

func paramError(name string, err error) error {
	return kdberr.Wrap(kdberr.HeaderFormat, fmt.Sprintf("read KDF parameter %s", name), err)
}

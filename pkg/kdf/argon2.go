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

package kdf

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	argon2d "github.com/tobischo/argon2"
	"golang.org/x/crypto/argon2"
	"zombiezen.com/go/kdbx/pkg/kdberr"
	"zombiezen.com/go/kdbx/pkg/vardict"
)

// Argon2Variant selects between the data-dependent and hybrid forms of Argon2.
type Argon2Variant int

// Argon2 variants supported by KeePass.
const (
	Argon2d Argon2Variant = iota
	Argon2id
)

func (v Argon2Variant) String() string {
	if v == Argon2id {
		return "Argon2id"
	}
	return "Argon2d"
}

// Argon2Version13 is the only Argon2 revision supported.
const Argon2Version13 = 0x13

// Dictionary keys for Argon2.
const (
	argon2SaltKey        = "S"
	argon2ParallelismKey = "P"
	argon2MemoryKey      = "M"
	argon2IterationsKey  = "I"
	argon2VersionKey     = "V"
	argon2SecretKey      = "K"
	argon2AssocDataKey   = "A"
)

// Argon2 is the memory-hard KDF used by KDBX 4.
type Argon2 struct {
	Variant     Argon2Variant
	Salt        []byte
	Parallelism uint32
	Memory      uint64 // in bytes
	Iterations  uint64
	Version     uint32
}

func argon2FromParameters(variant Argon2Variant, d *vardict.Dictionary) (*Argon2, error) {
	k := &Argon2{Variant: variant}
	var err error
	if k.Salt, err = d.Bytes(argon2SaltKey); err != nil {
		return nil, paramError("salt", err)
	}
	k.Salt = append([]byte(nil), k.Salt...)
	if k.Parallelism, err = d.Uint32(argon2ParallelismKey); err != nil {
		return nil, paramError("parallelism", err)
	}
	if k.Memory, err = d.Uint64(argon2MemoryKey); err != nil {
		return nil, paramError("memory", err)
	}
	if k.Iterations, err = d.Uint64(argon2IterationsKey); err != nil {
		return nil, paramError("iterations", err)
	}
	if k.Version, err = d.Uint32(argon2VersionKey); err != nil {
		return nil, paramError("version", err)
	}
	for _, key := range []string{argon2SecretKey, argon2AssocDataKey} {
		if b, err := d.Bytes(key); err == nil && len(b) > 0 {
			return nil, kdberr.New(kdberr.UnsupportedKDF, "read KDF parameters", "Argon2 secret key and associated data are not supported")
		}
	}
	if err := k.validate(); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *Argon2) validate() error {
	const op = "Argon2"
	switch {
	case k.Version != Argon2Version13:
		return kdberr.New(kdberr.UnsupportedKDF, op, fmt.Sprintf("version %#x", k.Version))
	case k.Parallelism == 0 || k.Parallelism > math.MaxUint8:
		return kdberr.New(kdberr.UnsupportedKDF, op, fmt.Sprintf("parallelism %d", k.Parallelism))
	case k.Iterations == 0 || k.Iterations > math.MaxUint32:
		return kdberr.New(kdberr.UnsupportedKDF, op, fmt.Sprintf("%d iterations", k.Iterations))
	case k.Memory/1024 < 8*uint64(k.Parallelism) || k.Memory/1024 > math.MaxUint32:
		return kdberr.New(kdberr.UnsupportedKDF, op, fmt.Sprintf("memory %d bytes", k.Memory))
	case len(k.Salt) < 8:
		return kdberr.New(kdberr.HeaderFormat, op, fmt.Sprintf("salt is %d bytes", len(k.Salt)))
	}
	return nil
}

// UUID returns the identifier for k's variant.
func (k *Argon2) UUID() uuid.UUID {
	if k.Variant == Argon2id {
		return Argon2idUUID
	}
	return Argon2dUUID
}

// Parameters returns the KDBX 4 parameter dictionary for k.
func (k *Argon2) Parameters() *vardict.Dictionary {
	id := k.UUID()
	d := new(vardict.Dictionary)
	d.SetBytes(uuidKey, id[:])
	d.SetBytes(argon2SaltKey, k.Salt)
	d.SetUint32(argon2ParallelismKey, k.Parallelism)
	d.SetUint64(argon2MemoryKey, k.Memory)
	d.SetUint64(argon2IterationsKey, k.Iterations)
	d.SetUint32(argon2VersionKey, k.Version)
	return d
}

func (k *Argon2) String() string {
	return fmt.Sprintf("%v(memory=%s, iterations=%d, parallelism=%d)",
		k.Variant, humanize.IBytes(k.Memory), k.Iterations, k.Parallelism)
}

// Transform runs Argon2 over the composite key.
func (k *Argon2) Transform(compositeKey []byte) ([]byte, error) {
	if err := k.validate(); err != nil {
		return nil, err
	}
	var (
		t = uint32(k.Iterations)
		m = uint32(k.Memory / 1024)
		p = uint8(k.Parallelism)
	)
	switch k.Variant {
	case Argon2d:
		return argon2d.DKey(compositeKey, k.Salt, t, m, p, KeySize), nil
	case Argon2id:
		return argon2.IDKey(compositeKey, k.Salt, t, m, p, KeySize), nil
	default:
		return nil, kdberr.New(kdberr.UnsupportedKDF, "Argon2", k.Variant.String())
	}
}

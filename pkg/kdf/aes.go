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

package kdf

import (
	"crypto/aes"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"zombiezen.com/go/kdbx/pkg/kdberr"
	"zombiezen.com/go/kdbx/pkg/vardict"
)

// AESKDF is the iterated AES-ECB transform used by KeePass 1.x, KDBX 3.1
// and optionally KDBX 4.
type AESKDF struct {
	Seed   [32]byte
	Rounds uint64
}

// Dictionary keys for AES-KDF.
const (
	aesRoundsKey = "R"
	aesSeedKey   = "S"
)

func aesFromParameters(d *vardict.Dictionary) (*AESKDF, error) {
	k := new(AESKDF)
	var err error
	if k.Rounds, err = d.Uint64(aesRoundsKey); err != nil {
		return nil, paramError("rounds", err)
	}
	seed, err := d.Bytes(aesSeedKey)
	if err != nil {
		return nil, paramError("seed", err)
	}
	if len(seed) != len(k.Seed) {
		return nil, kdberr.New(kdberr.HeaderFormat, "read KDF parameters", fmt.Sprintf("AES-KDF seed is %d bytes", len(seed)))
	}
	copy(k.Seed[:], seed)
	return k, nil
}

// UUID returns AESKDFUUID.
func (k *AESKDF) UUID() uuid.UUID {
	return AESKDFUUID
}

// Parameters returns the KDBX 4 parameter dictionary for k.
func (k *AESKDF) Parameters() *vardict.Dictionary {
	d := new(vardict.Dictionary)
	d.SetBytes(uuidKey, AESKDFUUID[:])
	d.SetUint64(aesRoundsKey, k.Rounds)
	d.SetBytes(aesSeedKey, k.Seed[:])
	return d
}

func (k *AESKDF) String() string {
	return fmt.Sprintf("AES-KDF(%d rounds)", k.Rounds)
}

// Transform encrypts each half of the composite key Rounds times and
// returns the SHA-256 of the result.
func (k *AESKDF) Transform(compositeKey []byte) ([]byte, error) {
	if len(compositeKey) != KeySize {
		return nil, kdberr.New(kdberr.Credential, "AES-KDF", fmt.Sprintf("composite key is %d bytes", len(compositeKey)))
	}
	var wg sync.WaitGroup
	wg.Add(2)
	var tk [sha256.Size]byte
	copy(tk[:], compositeKey)
	go transformKeyBlock(&wg, tk[:aes.BlockSize], k.Seed[:], k.Rounds)
	go transformKeyBlock(&wg, tk[aes.BlockSize:], k.Seed[:], k.Rounds)
	wg.Wait()
	sum := sha256.Sum256(tk[:])
	return sum[:], nil
}

// transformKeyBlock applies rounds of AES encryption using key seed to
// block in place.
func transformKeyBlock(wg *sync.WaitGroup, block, seed []byte, rounds uint64) {
	defer wg.Done()
	block = block[:aes.BlockSize]
	c, err := aes.NewCipher(seed)
	if err != nil {
		// Seed is always 32 bytes.
		panic(err)
	}
	for i := uint64(0); i < rounds; i++ {
		c.Encrypt(block, block)
	}
}

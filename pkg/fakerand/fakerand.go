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

// Package fakerand provides a deterministic PRNG, suitable for testing.
package fakerand

import (
	"io"
	"sync"

	"golang.org/x/crypto/chacha20"
)

// New returns a new reader that returns the same sequence of bytes every time.
// The reader can be used from multiple goroutines.
func New() io.Reader {
	return NewSeed(0)
}

// NewSeed returns a reader whose sequence is determined by seed.
// Different seeds produce unrelated sequences.
func NewSeed(seed byte) io.Reader {
	var key [chacha20.KeySize]byte
	key[0] = seed
	var nonce [chacha20.NonceSize]byte
	s, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		panic(err)
	}
	return &reader{s: s}
}

type reader struct {
	mu sync.Mutex
	s  *chacha20.Cipher
}

func (r *reader) Read(p []byte) (n int, err error) {
	for i := range p {
		p[i] = 0
	}
	r.mu.Lock()
	r.s.XORKeyStream(p, p)
	r.mu.Unlock()
	return len(p), nil
}

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

package kdbx

import "fmt"

// State is a stage of a load or save.
type State int

// Load and save states. A failure at any stage moves to Failed, which
// is terminal.
const (
	Idle State = iota

	// Load
	HeaderRead
	HeaderVerified
	KeysDerived
	BodyDecrypting
	StreamStartChecked // KDBX 3 only
	BlocksVerified
	Decompressed
	Ready

	// Save
	HeaderBuilt
	HeaderWritten
	BodyEncrypting
	Compressing
	BlocksWritten
	Done

	Failed
)

var stateNames = [...]string{
	Idle:               "Idle",
	HeaderRead:         "HeaderRead",
	HeaderVerified:     "HeaderVerified",
	KeysDerived:        "KeysDerived",
	BodyDecrypting:     "BodyDecrypting",
	StreamStartChecked: "StreamStartChecked",
	BlocksVerified:     "BlocksVerified",
	Decompressed:       "Decompressed",
	Ready:              "Ready",
	HeaderBuilt:        "HeaderBuilt",
	HeaderWritten:      "HeaderWritten",
	BodyEncrypting:     "BodyEncrypting",
	Compressing:        "Compressing",
	BlocksWritten:      "BlocksWritten",
	Done:               "Done",
	Failed:             "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

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

package credentials

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Key file errors.
var (
	ErrEmptyKeyFile = errors.New("credentials: empty key file")
	ErrNotXML       = errors.New("credentials: not an XML key file")
	ErrKeyFileHash  = errors.New("credentials: XML key file hash mismatch")
)

// maxXMLKeyFileSize bounds how much of a key file is considered for
// XML parsing. Larger files are always hashed.
const maxXMLKeyFileSize = 64 << 10

// ReadKeyFile reads a key file and returns its 32-byte key. XML key
// files (versions 1.0 and 2.0) yield their embedded key, 32-byte files
// are used verbatim, 64-byte hex files are decoded, and anything else is
// hashed with SHA-256.
func ReadKeyFile(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(&io.LimitedReader{R: r, N: maxXMLKeyFileSize + 1})
	if err != nil {
		return nil, errors.Wrap(err, "read key file")
	}
	if len(data) == 0 {
		return nil, ErrEmptyKeyFile
	}
	if len(data) <= maxXMLKeyFileSize {
		k, err := ParseKeyFileXML(data)
		if err == nil {
			return k, nil
		}
		if !errors.Is(err, ErrNotXML) {
			return nil, err
		}
	}
	switch len(data) {
	case 32:
		return data, nil
	case 64:
		h := make([]byte, hex.DecodedLen(len(data)))
		if _, err := hex.Decode(h, data); err == nil {
			return h, nil
		}
	}
	s := sha256.New()
	s.Write(data)
	if _, err := io.Copy(s, r); err != nil {
		return nil, errors.Wrap(err, "read key file")
	}
	return s.Sum(nil), nil
}

type xmlKeyFile struct {
	XMLName xml.Name `xml:"KeyFile"`
	Version string   `xml:"Meta>Version"`
	Data    struct {
		Hash  string `xml:"Hash,attr"`
		Value string `xml:",chardata"`
	} `xml:"Key>Data"`
}

// ParseKeyFileXML extracts the key from a KeePass XML key file. It
// returns an error wrapping ErrNotXML if data is not an XML key file.
func ParseKeyFileXML(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return nil, ErrNotXML
	}
	var kf xmlKeyFile
	if err := xml.Unmarshal(trimmed, &kf); err != nil {
		return nil, errors.Wrap(ErrNotXML, err.Error())
	}
	value := strings.Join(strings.Fields(kf.Data.Value), "")
	switch {
	case strings.HasPrefix(kf.Version, "1."):
		k, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, errors.Wrap(err, "XML key file data")
		}
		return k, nil
	case strings.HasPrefix(kf.Version, "2."):
		k, err := hex.DecodeString(value)
		if err != nil {
			return nil, errors.Wrap(err, "XML key file data")
		}
		if kf.Data.Hash != "" {
			want, err := hex.DecodeString(kf.Data.Hash)
			if err != nil {
				return nil, errors.Wrap(err, "XML key file hash")
			}
			sum := sha256.Sum256(k)
			if len(want) == 0 || len(want) > len(sum) || !bytes.Equal(sum[:len(want)], want) {
				return nil, ErrKeyFileHash
			}
		}
		return k, nil
	default:
		return nil, errors.Errorf("credentials: unsupported XML key file version %q", kf.Version)
	}
}

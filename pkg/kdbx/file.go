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

package kdbx

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/natefinch/atomic"
	pkgerrors "github.com/pkg/errors"
	"zombiezen.com/go/kdbx/pkg/credentials"
	"zombiezen.com/go/kdbx/pkg/innerstream"
)

// A File is a KDBX file opened for reading.
type File struct {
	*Reader
	f *os.File
}

// OpenFile opens the file at path and verifies its header. The caller
// must close the returned File.
func OpenFile(path string, creds *credentials.Credentials, opts *Options) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rd, err := NewReader(f, creds, opts)
	if err != nil {
		f.Close()
		return nil, pkgerrors.Wrapf(err, "open %s", path)
	}
	return &File{Reader: rd, f: f}, nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}

// SaveFile writes a KDBX container to path. The previous contents of
// path, if any, are replaced atomically once the whole container has
// been written, so a failed save leaves the old file intact.
func SaveFile(ctx context.Context, path string, h *Header, creds *credentials.Credentials, opts *Options, produce func(io.Writer, *innerstream.Cipher) error) error {
	buf := new(bytes.Buffer)
	if err := Save(ctx, buf, h, creds, opts, produce); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, buf); err != nil {
		return pkgerrors.Wrapf(err, "save %s", path)
	}
	opts.logger().WithField("path", path).Debug("kdbx: saved file")
	return nil
}

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

import (
	"bufio"
	"context"
	"errors"
	"io"

	pkgerrors "github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"zombiezen.com/go/kdbx/pkg/credentials"
	"zombiezen.com/go/kdbx/pkg/innerstream"
)

// pipeBufferSize is the capacity of the buffer between a producer and
// the encrypting writer.
const pipeBufferSize = 64 << 10

var errProducerExited = errors.New("kdbx: document producer exited without closing")

// Save writes a KDBX container to w. produce is run on its own
// goroutine and writes the plaintext document to its io.Writer,
// protecting values with the given cipher in document order. Save
// returns after the producer has exited. If produce panics, the panic
// is propagated to Save's caller.
func Save(ctx context.Context, w io.Writer, h *Header, creds *credentials.Credentials, opts *Options, produce func(io.Writer, *innerstream.Cipher) error) error {
	wr, err := NewWriter(w, h, creds, opts)
	if err != nil {
		return err
	}
	pr, pw := io.Pipe()
	stop := context.AfterFunc(ctx, func() {
		pw.CloseWithError(ctx.Err())
		pr.CloseWithError(ctx.Err())
	})
	defer stop()

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		// Runs after the explicit close below unless produce panics.
		defer pw.CloseWithError(errProducerExited)
		bw := bufio.NewWriterSize(pw, pipeBufferSize)
		err := produce(bw, wr.Protected())
		if err == nil {
			err = bw.Flush()
		}
		pw.CloseWithError(err)
		return err
	})
	_, copyErr := io.Copy(wr, pr)
	if copyErr != nil {
		pr.CloseWithError(copyErr)
	}
	waitErr := p.Wait()
	// A canceled save reports the cancellation rather than the closed
	// pipe it caused.
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(err, "save")
	}
	if waitErr != nil {
		return pkgerrors.Wrap(waitErr, "save")
	}
	if copyErr != nil {
		return copyErr
	}
	return wr.Close()
}

// Load reads a KDBX container from r and passes the verified document to
// consume. After consume returns, the rest of the body is read so that
// the terminator block is verified even if consume stopped early.
func Load(ctx context.Context, r io.Reader, creds *credentials.Credentials, opts *Options, consume func(io.Reader, *innerstream.Cipher) error) (*Header, error) {
	rd, err := NewReader(&ctxReader{ctx: ctx, r: r}, creds, opts)
	if err != nil {
		return nil, err
	}
	if err := consume(rd, rd.Protected()); err != nil {
		return nil, err
	}
	if _, err := io.Copy(io.Discard, rd); err != nil {
		return nil, err
	}
	return rd.Header(), nil
}

// ctxReader stops reading once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

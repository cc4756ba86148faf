// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package gzipstream implements cache.Compressor for the "streaming family":
// codecs like gzip that carry no recorded per-chunk compressed size and no
// per-chunk digest, and so can only be decoded by streaming through them
// from a known start offset. See cache's design notes on why such chunks
// cannot be recovered from disk until this process has written them itself.
package gzipstream

import (
	"compress/gzip"
	"io"

	"github.com/pkg/errors"
)

// Compressor decodes gzip streams chunk-by-chunk.
type Compressor struct{}

// New returns a streaming-family cache.Compressor backed by stdlib gzip.
func New() Compressor {
	return Compressor{}
}

func (Compressor) Algorithm() string { return "gzip" }

func (Compressor) Streaming() bool { return true }

// Decompress is not supported for the streaming family: there is no
// fixed-length compressed buffer to hand a block decoder.
func (Compressor) Decompress(_ []byte, _ []byte) (int, error) {
	return 0, errors.New("gzipstream: block decompression not supported, use DecompressStream")
}

// DecompressStream reads a gzip stream from r into dst, up to len(dst)
// bytes. A stream that ends before dst is full is not an error; the
// returned count is the number of bytes decoded.
func (Compressor) DecompressStream(r io.Reader, dst []byte) (int, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return 0, errors.Wrap(err, "open gzip stream")
	}
	defer gr.Close()

	n, err := io.ReadFull(gr, dst)
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, errors.Wrap(err, "read gzip stream")
	}
	return n, nil
}

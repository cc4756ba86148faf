// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package zstdcmp implements cache.Compressor for the non-streaming family
// using github.com/klauspost/compress/zstd: the cache records a per-chunk
// compressed size for these codecs, so a whole compressed chunk can be read
// into a fixed buffer and decoded in one call.
package zstdcmp

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Compressor decodes zstd-compressed chunks.
type Compressor struct {
	decoder *zstd.Decoder
}

// New returns a non-streaming cache.Compressor backed by klauspost/compress/zstd.
func New() (*Compressor, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd decoder")
	}
	return &Compressor{decoder: dec}, nil
}

func (c *Compressor) Algorithm() string { return "zstd" }

func (c *Compressor) Streaming() bool { return false }

func (c *Compressor) Decompress(src []byte, dst []byte) (int, error) {
	out, err := c.decoder.DecodeAll(src, dst[:0])
	if err != nil {
		return 0, errors.Wrap(err, "zstd decode")
	}
	if len(out) > 0 && len(dst) > 0 && &out[0] != &dst[0] {
		copy(dst, out)
	}
	return len(out), nil
}

// DecompressStream is unused for this non-streaming compressor but is
// implemented for interface completeness, e.g. for callers that want to
// decode from an arbitrary reader rather than a pre-read buffer.
func (c *Compressor) DecompressStream(r io.Reader, dst []byte) (int, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return 0, errors.Wrap(err, "read zstd stream")
	}
	return c.Decompress(src, dst)
}

// Close releases the underlying zstd decoder's resources.
func (c *Compressor) Close() {
	c.decoder.Close()
}

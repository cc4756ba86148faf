// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"bytes"
	"io"
	"os"
	"sync/atomic"
)

func writeFile(path string) error {
	return os.WriteFile(path, []byte("x"), 0o644)
}

// fakeChunk is a minimal in-test cache.ChunkInfo.
type fakeChunk struct {
	digest             Digest
	compressOffset     int64
	compressSize       uint32
	decompressOffset   int64
	decompressSize     uint32
	compressed         bool
	hole               bool
}

func (c fakeChunk) ChunkDigest() Digest       { return c.digest }
func (c fakeChunk) CompressOffset() int64     { return c.compressOffset }
func (c fakeChunk) CompressSize() uint32      { return c.compressSize }
func (c fakeChunk) DecompressOffset() int64   { return c.decompressOffset }
func (c fakeChunk) DecompressSize() uint32    { return c.decompressSize }
func (c fakeChunk) IsCompressed() bool        { return c.compressed }
func (c fakeChunk) IsHole() bool              { return c.hole }

// fakeDigester is a trivial non-cryptographic "digest" for deterministic
// tests: the digest of buf is min(len(buf), 31) followed by its first 31
// bytes (zero-padded). Collisions are not a concern inside these tests, which
// always construct distinct-content chunks.
type fakeDigester struct{}

func (fakeDigester) Algorithm() string { return "fake" }

func (fakeDigester) Digest(buf []byte) Digest {
	var d Digest
	n := copy(d[1:], buf)
	d[0] = byte(n)
	return d
}

func digestOf(buf []byte) Digest {
	return fakeDigester{}.Digest(buf)
}

// identityCompressor treats "compressed" bytes as already being the
// decompressed form (copy-through), standing in for an uncompressed chunk
// format in tests that only want to exercise the cache's own logic.
type identityCompressor struct {
	streaming bool
}

func (c identityCompressor) Algorithm() string { return "identity" }
func (c identityCompressor) Streaming() bool    { return c.streaming }

func (identityCompressor) Decompress(src []byte, dst []byte) (int, error) {
	n := copy(dst, src)
	return n, nil
}

func (identityCompressor) DecompressStream(r io.Reader, dst []byte) (int, error) {
	return io.ReadFull(r, dst)
}

// xorCompressor is a non-identity stand-in "codec": decompress XORs every
// byte with a fixed key, so compressed and decompressed forms of the same
// chunk are never byte-equal. This is what makes a test able to catch a
// persist path that writes decompressed bytes where compressed bytes belong.
type xorCompressor struct{}

const xorKey = 0x5a

func (xorCompressor) Algorithm() string { return "xor" }
func (xorCompressor) Streaming() bool   { return false }

func (xorCompressor) Decompress(src []byte, dst []byte) (int, error) {
	n := copy(dst, src)
	for i := range dst[:n] {
		dst[i] ^= xorKey
	}
	return n, nil
}

func (xorCompressor) DecompressStream(r io.Reader, dst []byte) (int, error) {
	n, err := io.ReadFull(r, dst)
	for i := range dst[:n] {
		dst[i] ^= xorKey
	}
	return n, err
}

func xorEncode(buf []byte) []byte {
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = b ^ xorKey
	}
	return out
}

// fakeBackend is an in-memory cache.Backend with call counters, used to
// assert dedup/merge invariants. data holds each blob's as-stored (raw,
// possibly compressed) bytes; TryRead always returns that raw form, and
// ReadChunks decodes it through compressor (if set) before returning it,
// matching the real contract that ReadChunks never returns as-stored bytes
// for a compressed chunk. A nil compressor keeps the simpler legacy
// behavior used by tests that never mark a chunk compressed: data is
// indexed directly by decompress offset/size.
type fakeBackend struct {
	data       map[string][]byte
	compressor Compressor

	readChunksCalls atomic.Int64
	tryReadCalls    atomic.Int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string][]byte)}
}

func (b *fakeBackend) put(blobID string, data []byte) {
	b.data[blobID] = data
}

func (b *fakeBackend) TryRead(blobID string, buf []byte, offset int64) (int, error) {
	b.tryReadCalls.Add(1)
	data, ok := b.data[blobID]
	if !ok {
		return 0, ErrNotFound
	}
	if offset < 0 || offset > int64(len(data)) {
		return 0, ErrInvalidArgument
	}
	return copy(buf, data[offset:]), nil
}

func (b *fakeBackend) ReadChunks(blobID string, _ int64, _ int64, descriptors []ChunkInfo) ([][]byte, error) {
	b.readChunksCalls.Add(1)
	data, ok := b.data[blobID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([][]byte, len(descriptors))
	for i, d := range descriptors {
		if b.compressor == nil || !d.IsCompressed() {
			off, sz := d.DecompressOffset(), int64(d.DecompressSize())
			if off < 0 || off+sz > int64(len(data)) {
				return nil, ErrInvalidArgument
			}
			buf := make([]byte, sz)
			copy(buf, data[off:off+sz])
			out[i] = buf
			continue
		}

		off, sz := d.CompressOffset(), int64(d.CompressSize())
		if off < 0 || off+sz > int64(len(data)) {
			return nil, ErrInvalidArgument
		}
		dst := make([]byte, d.DecompressSize())
		var n int
		var err error
		if b.compressor.Streaming() {
			n, err = b.compressor.DecompressStream(bytes.NewReader(data[off:off+sz]), dst)
		} else {
			n, err = b.compressor.Decompress(data[off:off+sz], dst)
		}
		if err != nil {
			return nil, err
		}
		out[i] = dst[:n]
	}
	return out, nil
}

func (b *fakeBackend) BlobSize(blobID string) (int64, error) {
	data, ok := b.data[blobID]
	if !ok {
		return 0, ErrNotFound
	}
	return int64(len(data)), nil
}

func (b *fakeBackend) PrefetchBlob(_ string, _ int64, _ int64) error { return nil }

func buildBufs(size int) [][]byte {
	return [][]byte{make([]byte, size)}
}

func flatten(bufs [][]byte) []byte {
	var out bytes.Buffer
	for _, b := range bufs {
		out.Write(b)
	}
	return out.Bytes()
}

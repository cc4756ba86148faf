// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cache

import "io"

// Digest is a fixed-size content digest identifying a chunk. It is comparable
// and usable as a map key, matching the chunk deduplication requirement: two
// chunk descriptors with the same digest share one cache entry.
type Digest [32]byte

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) String() string {
	const hex = "0123456789abcdef"
	buf := make([]byte, len(d)*2)
	for i, b := range d {
		buf[i*2] = hex[b>>4]
		buf[i*2+1] = hex[b&0x0f]
	}
	return string(buf)
}

// ChunkInfo describes one chunk's placement within a blob. It is supplied by
// the chunk metadata source and is immutable for the lifetime of a chunk.
type ChunkInfo interface {
	// ChunkDigest is the content digest identifying this chunk.
	ChunkDigest() Digest
	// CompressOffset is the chunk's byte offset within the blob's compressed stream.
	CompressOffset() int64
	// CompressSize is the chunk's size in the blob's compressed stream. It is
	// meaningless (and must not be trusted) for streaming compressors.
	CompressSize() uint32
	// DecompressOffset is the chunk's byte offset within the decompressed stream.
	DecompressOffset() int64
	// DecompressSize is the chunk's decompressed size.
	DecompressSize() uint32
	// IsCompressed reports whether this chunk is stored compressed in the blob.
	IsCompressed() bool
	// IsHole reports whether this chunk is a sparse hole (no backing bytes).
	IsHole() bool
}

// Backend is the remote blob collaborator. The cache never interprets blob
// bytes itself beyond what ChunkInfo and Compressor tell it; fetching and
// range semantics belong entirely to the backend implementation.
type Backend interface {
	// TryRead performs a positional ranged read of blobID into buf starting at offset.
	TryRead(blobID string, buf []byte, offset int64) (int, error)
	// ReadChunks performs one batched fetch covering [offset, offset+size) of
	// blobID and returns one decompressed buffer per descriptor, in order.
	ReadChunks(blobID string, offset int64, size int64, descriptors []ChunkInfo) ([][]byte, error)
	// BlobSize returns the authoritative size of blobID, if known to the backend.
	BlobSize(blobID string) (int64, error)
	// PrefetchBlob is a best-effort request that the backend warm any caches
	// it keeps for [offset, offset+size) of blobID. Errors are non-fatal.
	PrefetchBlob(blobID string, offset int64, size int64) error
}

// Digester computes and names the digest algorithm used to validate chunks.
type Digester interface {
	Algorithm() string
	Digest(buf []byte) Digest
}

// Compressor decodes chunk bytes and reports compression-family capabilities
// that change how the cache may recover chunks from disk.
type Compressor interface {
	Algorithm() string
	// Streaming reports whether this compressor belongs to the streaming
	// family: it carries no per-chunk compressed size and has no way to
	// validate a chunk's digest independent of having written it itself.
	Streaming() bool
	// Decompress decodes src (one whole chunk's compressed bytes) into dst.
	// dst must be exactly the chunk's decompressed size.
	Decompress(src []byte, dst []byte) (int, error)
	// DecompressStream decodes one chunk's worth of bytes from r into dst,
	// used by streaming-family compressors that cannot be handed a
	// fixed-length compressed buffer.
	DecompressStream(r io.Reader, dst []byte) (int, error)
}

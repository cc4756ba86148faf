// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package memory implements an in-process cache.Backend over byte slices
// held in memory, useful for tests and local experimentation.
package memory

import (
	"sync"
	"sync/atomic"

	"github.com/changweige/image-service/cache"
)

// Backend is an in-memory cache.Backend. Blobs must be registered with Put
// before they can be read.
type Backend struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	readChunksCalls atomic.Int64
	tryReadCalls    atomic.Int64
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{blobs: make(map[string][]byte)}
}

// Put registers blobID's full decompressed-and-concatenated content.
// Since this backend never compresses, every ChunkInfo.DecompressOffset
// passed against it must match the layout of data.
func (b *Backend) Put(blobID string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[blobID] = data
}

func (b *Backend) TryRead(blobID string, buf []byte, offset int64) (int, error) {
	b.tryReadCalls.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.blobs[blobID]
	if !ok {
		return 0, cache.ErrNotFound
	}
	if offset < 0 || offset > int64(len(data)) {
		return 0, cache.ErrInvalidArgument
	}
	n := copy(buf, data[offset:])
	return n, nil
}

// ReadChunks returns one decompressed buffer per descriptor, read from the
// registered blob at each descriptor's decompressed offset/size.
func (b *Backend) ReadChunks(blobID string, _ int64, _ int64, descriptors []cache.ChunkInfo) ([][]byte, error) {
	b.readChunksCalls.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.blobs[blobID]
	if !ok {
		return nil, cache.ErrNotFound
	}

	out := make([][]byte, len(descriptors))
	for i, d := range descriptors {
		off, sz := d.DecompressOffset(), int64(d.DecompressSize())
		if off < 0 || off+sz > int64(len(data)) {
			return nil, cache.ErrInvalidArgument
		}
		buf := make([]byte, sz)
		copy(buf, data[off:off+sz])
		out[i] = buf
	}
	return out, nil
}

func (b *Backend) BlobSize(blobID string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.blobs[blobID]
	if !ok {
		return 0, cache.ErrNotFound
	}
	return int64(len(data)), nil
}

func (b *Backend) PrefetchBlob(_ string, _ int64, _ int64) error {
	return nil
}

// ReadChunksCallCount returns the number of ReadChunks calls made so far,
// for tests asserting dedup/merge behavior.
func (b *Backend) ReadChunksCallCount() int64 {
	return b.readChunksCalls.Load()
}

// TryReadCallCount returns the number of TryRead calls made so far.
func (b *Backend) TryReadCallCount() int64 {
	return b.tryReadCalls.Load()
}

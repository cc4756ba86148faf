// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"sync/atomic"
	"testing"
	"time"
)

func bioAt(blobID string, offset int64, size uint32) Bio {
	return Bio{
		BlobID: blobID,
		Chunk: fakeChunk{
			digest:         digestOf([]byte(blobID)),
			compressOffset: offset,
			compressSize:   size,
			decompressOffset: offset,
			decompressSize:    size,
		},
	}
}

// Scenario 5: four contiguous 100-byte hints with merging_size=400 collapse
// into exactly one merged request spanning [0, 400).
func TestGenerateMergedRequestsCoalescesContiguousRuns(t *testing.T) {
	bios := []Bio{
		bioAt("blobA", 0, 100),
		bioAt("blobA", 100, 100),
		bioAt("blobA", 200, 100),
		bioAt("blobA", 300, 100),
	}
	var seq atomic.Uint64
	merged := generateMergedRequests(bios, 400, &seq)

	if len(merged) != 1 {
		t.Fatalf("got %d merged requests, want 1", len(merged))
	}
	mr := merged[0]
	if mr.blobOffset != 0 || mr.blobSize != 400 {
		t.Fatalf("got offset=%d size=%d, want offset=0 size=400", mr.blobOffset, mr.blobSize)
	}
	if len(mr.chunks) != 4 {
		t.Fatalf("got %d chunks in merged request, want 4", len(mr.chunks))
	}
}

func TestGenerateMergedRequestsSplitsAcrossMergingSize(t *testing.T) {
	bios := []Bio{
		bioAt("blobA", 0, 100),
		bioAt("blobA", 100, 100),
		bioAt("blobA", 200, 100),
	}
	var seq atomic.Uint64
	merged := generateMergedRequests(bios, 150, &seq)
	if len(merged) != 3 {
		t.Fatalf("got %d merged requests, want 3 (no two adjacent 100-byte chunks fit in merging_size 150)", len(merged))
	}
}

func TestGenerateMergedRequestsSeparatesBlobs(t *testing.T) {
	bios := []Bio{
		bioAt("blobA", 0, 100),
		bioAt("blobB", 0, 100),
	}
	var seq atomic.Uint64
	merged := generateMergedRequests(bios, 1000, &seq)
	if len(merged) != 2 {
		t.Fatalf("got %d merged requests, want 2 (distinct blobs never merge)", len(merged))
	}
}

// Full integration: prefetching a coalesced run populates all chunk entries
// as Ready via a single batched backend call.
func TestPrefetchPopulatesEntriesViaBatchedFetch(t *testing.T) {
	backend := newFakeBackend()
	data := sequentialBytes(400)
	backend.put("blobA", data)

	c, err := New(Config{
		WorkDir: t.TempDir(),
		PrefetchWorker: PrefetchWorkerConfig{
			Enable:       true,
			ThreadsCount: 1,
			MergingSize:  400,
		},
	}, backend, identityCompressor{}, fakeDigester{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.StopPrefetch()

	chunks := make([]fakeChunk, 4)
	bios := make([]Bio, 4)
	for i := 0; i < 4; i++ {
		off := int64(i * 100)
		chunks[i] = fakeChunk{
			digest:            digestOf(data[off : off+100]),
			compressOffset:    off,
			compressSize:      100,
			decompressOffset:  off,
			decompressSize:    100,
		}
		bios[i] = Bio{BlobID: "blobA", Chunk: chunks[i]}
	}

	if err := c.Prefetch(bios); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		allReady := true
		for _, ch := range chunks {
			e, ok := c.state.get(ch.ChunkDigest())
			if !ok {
				allReady = false
				break
			}
			e.mu.Lock()
			ready := e.isReady()
			e.mu.Unlock()
			if !ready {
				allReady = false
				break
			}
		}
		if allReady {
			if backend.readChunksCalls.Load() != 1 {
				t.Fatalf("expected exactly one batched backend call, got %d", backend.readChunksCalls.Load())
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for prefetched chunks to become Ready")
}

// Regression: in compressed-at-rest mode, a prefetched chunk must be
// persisted as its as-stored (compressed) bytes at CompressOffset, not its
// decompressed bytes -- otherwise no later read can recover it from disk.
func TestPrefetchPersistsCompressedBytesAtCompressOffset(t *testing.T) {
	decompressed := sequentialBytes(64)
	compressed := xorEncode(decompressed)

	backend := newFakeBackend()
	backend.compressor = xorCompressor{}
	backend.put("blobA", compressed)

	c, err := New(Config{
		WorkDir:         t.TempDir(),
		CacheValidate:   true,
		CacheCompressed: true,
		PrefetchWorker: PrefetchWorkerConfig{
			Enable:       true,
			ThreadsCount: 1,
			MergingSize:  64,
		},
	}, backend, xorCompressor{}, fakeDigester{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.StopPrefetch()

	chunk := fakeChunk{
		digest:           digestOf(decompressed),
		compressOffset:   0,
		compressSize:     64,
		decompressOffset: 1000, // deliberately different from compressOffset
		decompressSize:   64,
		compressed:       true,
	}

	if err := c.Prefetch([]Bio{{BlobID: "blobA", Chunk: chunk}}); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}

	var e *entry
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ent, ok := c.state.get(chunk.ChunkDigest()); ok {
			ent.mu.Lock()
			ready := ent.isReady()
			ent.mu.Unlock()
			if ready {
				e = ent
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	if e == nil {
		t.Fatalf("timed out waiting for prefetched chunk to become Ready")
	}

	onDisk := make([]byte, 64)
	if _, err := e.file.ReadAt(onDisk, chunk.CompressOffset()); err != nil {
		t.Fatalf("read persisted bytes: %v", err)
	}
	if string(onDisk) != string(compressed) {
		t.Fatalf("expected as-stored compressed bytes persisted at CompressOffset, got decompressed/garbage bytes")
	}

	bufs := buildBufs(64)
	n, err := c.Read("blobA", chunk, bufs, 0, 64)
	if err != nil {
		t.Fatalf("read after prefetch: %v", err)
	}
	if n != 64 || string(flatten(bufs)) != string(decompressed) {
		t.Fatalf("got %q, want %q", flatten(bufs), decompressed)
	}
	if backend.readChunksCalls.Load() != 1 {
		t.Fatalf("expected prefetch's single batched fetch to be reused, no refetch on read; got %d calls", backend.readChunksCalls.Load())
	}
}

func TestStopPrefetchClosesChannelAndWorkersExit(t *testing.T) {
	backend := newFakeBackend()
	c, err := New(Config{
		WorkDir: t.TempDir(),
		PrefetchWorker: PrefetchWorkerConfig{
			Enable:       true,
			ThreadsCount: 2,
			MergingSize:  400,
		},
	}, backend, identityCompressor{}, fakeDigester{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.StopPrefetch()

	done := make(chan struct{})
	go func() {
		c.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("prefetch workers did not exit after StopPrefetch")
	}

	// A Prefetch call after stop must be a silent no-op, not a panic on a
	// closed channel.
	if err := c.Prefetch([]Bio{bioAt("blobA", 0, 10)}); err != nil {
		t.Fatalf("Prefetch after stop: %v", err)
	}
}

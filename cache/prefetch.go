// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"sort"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Bio is a single read hint: a chunk belonging to a blob, as passed into
// Prefetch. Unlike a foreground read it carries no destination buffer.
type Bio struct {
	BlobID string
	Chunk  ChunkInfo
}

// mergedRequest is a maximal contiguous run of chunk hints within one blob
// whose combined byte span does not exceed merging_size.
type mergedRequest struct {
	blobID     string
	blobOffset int64
	blobSize   int64
	chunks     []ChunkInfo
	seq        uint64
}

// generateMergedRequests groups an unordered set of bios into merged backend
// requests: chunks are sorted by (blobID, compressOffset), then folded into
// the fewest runs whose span does not exceed mergingSize, splitting whenever
// a gap would make the run non-contiguous or exceeding mergingSize would
// occur. seqCounter supplies a monotonically increasing sequence number for
// observability.
func generateMergedRequests(bios []Bio, mergingSize int64, seqCounter *atomic.Uint64) []*mergedRequest {
	if len(bios) == 0 {
		return nil
	}

	sorted := make([]Bio, len(bios))
	copy(sorted, bios)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].BlobID != sorted[j].BlobID {
			return sorted[i].BlobID < sorted[j].BlobID
		}
		return sorted[i].Chunk.CompressOffset() < sorted[j].Chunk.CompressOffset()
	})

	var out []*mergedRequest
	var cur *mergedRequest

	flush := func() {
		if cur != nil {
			cur.seq = seqCounter.Add(1)
			out = append(out, cur)
			cur = nil
		}
	}

	for _, b := range sorted {
		start := b.Chunk.CompressOffset()
		end := start + int64(b.Chunk.CompressSize())

		if cur != nil && cur.blobID == b.BlobID {
			lastEnd := cur.blobOffset + cur.blobSize
			if start <= lastEnd && end-cur.blobOffset <= mergingSize {
				if end > lastEnd {
					cur.blobSize = end - cur.blobOffset
				}
				cur.chunks = append(cur.chunks, b.Chunk)
				continue
			}
		}

		flush()
		cur = &mergedRequest{
			blobID:     b.BlobID,
			blobOffset: start,
			blobSize:   end - start,
			chunks:     []ChunkInfo{b.Chunk},
		}
	}
	flush()

	return out
}

// startPrefetchWorkers spawns threadsCount worker goroutines draining
// reqCh. Each worker runs until the channel is closed (StopPrefetch) and
// the requests already queued in it have been handled: closing a channel signals and wakes every consumer goroutine at once,
// with no need to hand out a separate receiver per worker.
func (c *Cache) startPrefetchWorkers(threadsCount uint32, reqCh <-chan *mergedRequest) {
	var fetchGroup singleflight.Group
	for i := uint32(0); i < threadsCount; i++ {
		c.workerWG.Add(1)
		go func(id uint32) {
			defer c.workerWG.Done()
			c.prefetchWorkerLoop(id, reqCh, &fetchGroup)
		}(i)
	}
}

func (c *Cache) prefetchWorkerLoop(id uint32, reqCh <-chan *mergedRequest, fetchGroup *singleflight.Group) {
	for mr := range reqCh {
		c.handleMergedRequest(mr, fetchGroup)
	}
	c.logger.WithField("worker", id).Info("prefetch worker exiting")
}

func (c *Cache) handleMergedRequest(mr *mergedRequest, fetchGroup *singleflight.Group) {
	if mr.blobSize == 0 {
		return
	}

	if c.limiter != nil {
		if err := c.limiter.wait(context.Background(), int(mr.blobSize)); err != nil {
			c.logger.WithError(err).Warn("give up rate-limiting prefetch request")
		}
	}

	issueBatch := false
	for _, ch := range mr.chunks {
		e, err := c.state.getOrInsert(mr.blobID, ch, c.backend)
		if err != nil {
			c.logger.WithError(err).Warn("failed to probe chunk readiness")
			issueBatch = true
			break
		}

		e.mu.Lock()
		ready := e.isReady()
		if !ready {
			d := int(ch.DecompressSize())
			buf := make([]byte, d)
			ready = c.readBlobcacheChunk(e, ch, buf, c.validate) == nil
		}
		e.mu.Unlock()

		if !ready {
			issueBatch = true
			break
		}
	}

	if !issueBatch {
		return
	}

	key := mergedRequestKey(mr)
	_, err, _ := fetchGroup.Do(key, func() (interface{}, error) {
		return nil, c.fetchAndPersistMerged(mr)
	})
	if err != nil {
		c.logger.WithError(err).Warn("prefetch batch fetch failed")
	}
}

func (c *Cache) fetchAndPersistMerged(mr *mergedRequest) error {
	decoded, err := c.backend.ReadChunks(mr.blobID, mr.blobOffset, mr.blobSize, mr.chunks)
	if err != nil {
		return err
	}
	for i, ch := range mr.chunks {
		if i >= len(decoded) {
			break
		}
		e, err := c.state.getOrInsert(mr.blobID, ch, c.backend)
		if err != nil {
			c.logger.WithError(err).Warn("failed to get-or-insert entry for prefetched chunk")
			continue
		}

		e.mu.Lock()
		if !e.isReady() {
			persistBuf, persistOffset, perr := c.persistBytes(mr.blobID, ch, decoded[i])
			if perr != nil {
				c.logger.WithError(perr).Warn("failed to obtain bytes to persist prefetched chunk")
			} else if err := e.cache(persistBuf, persistOffset); err != nil {
				c.logger.WithError(err).Warn("failed to persist prefetched chunk")
			}
		}
		e.mu.Unlock()
	}
	return nil
}

func mergedRequestKey(mr *mergedRequest) string {
	return mr.blobID + ":" + strconv.FormatInt(mr.blobOffset, 10) + ":" + strconv.FormatInt(mr.blobSize, 10)
}

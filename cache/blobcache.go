// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// BlobInfo describes one blob's readahead hint, supplied to Init.
type BlobInfo struct {
	BlobID          string
	ReadaheadOffset int64
	ReadaheadSize   int64
}

// SuperMeta is a placeholder for the filesystem super-block metadata passed
// to Init; the cache does not interpret it beyond passing it through, since
// the metadata source is an external collaborator out of this package's scope.
type SuperMeta struct{}

// Cache is the local blob chunk cache facade: the public operations (Has,
// Read, Evict, Prefetch, StopPrefetch, BlobSize, Init) plus construction and
// graceful shutdown of the prefetch worker pool.
type Cache struct {
	state *state

	validate        bool
	cacheCompressed bool
	backend         Backend
	compressor      Compressor
	digester        Digester
	limiter         *throttle
	logger          *logrus.Entry

	mergingSize     int64
	prefetchEnabled bool
	seq             atomic.Uint64

	sendMu  sync.Mutex
	reqCh   chan *mergedRequest
	closed  bool
	workerWG sync.WaitGroup
}

// New constructs a Cache, ensures WorkDir exists, and spawns the prefetch
// worker pool if PrefetchWorker.Enable is set.
func New(cfg Config, backend Backend, compressor Compressor, digester Digester) (*Cache, error) {
	if backend == nil || compressor == nil || digester == nil {
		return nil, errors.New("blobcache: backend, compressor and digester are required")
	}
	if err := ensureWorkDir(cfg.workDir()); err != nil {
		return nil, err
	}

	c := &Cache{
		state:           newState(cfg.workDir(), compressor.Streaming()),
		validate:        cfg.CacheValidate,
		cacheCompressed: cfg.CacheCompressed,
		backend:         backend,
		compressor:      compressor,
		digester:        digester,
		limiter:         newThrottle(cfg.PrefetchWorker.BandwidthRate),
		logger:          logrus.NewEntry(logrus.StandardLogger()),
		mergingSize:     int64(cfg.PrefetchWorker.MergingSize),
		prefetchEnabled: cfg.PrefetchWorker.Enable,
	}

	if c.prefetchEnabled {
		c.reqCh = make(chan *mergedRequest, 128)
		threads := cfg.PrefetchWorker.ThreadsCount
		if threads == 0 {
			threads = 1
		}
		c.startPrefetchWorkers(threads, c.reqCh)
	}

	return c, nil
}

// SetLogger overrides the cache's logger (default: the standard logrus logger).
func (c *Cache) SetLogger(logger *logrus.Entry) {
	c.logger = logger
}

// Has reports whether an entry for chunk's digest currently exists.
func (c *Cache) Has(chunk ChunkInfo) bool {
	return c.state.has(chunk.ChunkDigest())
}

// Read serves up to size bytes of blobID's chunk, starting at offsetInChunk,
// scattering the result into bufs. It returns the number of bytes delivered.
func (c *Cache) Read(blobID string, chunk ChunkInfo, bufs [][]byte, offsetInChunk int64, size int) (int, error) {
	e, err := c.state.getOrInsert(blobID, chunk, c.backend)
	if err != nil {
		return 0, errors.Wrap(err, "get-or-insert cache entry")
	}
	return c.entryRead(blobID, e, bufs, offsetInChunk, size)
}

// Evict removes chunk's in-memory entry. On-disk content is retained,
// enabling a later read to recover without refetching.
func (c *Cache) Evict(chunk ChunkInfo) {
	c.state.remove(chunk.ChunkDigest())
}

// Prefetch enqueues merged backend requests built from bios. It is always
// best-effort: errors during the actual fetch are logged by the worker pool,
// never returned here, and Prefetch is a no-op if the pool is disabled.
func (c *Cache) Prefetch(bios []Bio) error {
	if !c.prefetchEnabled {
		return nil
	}

	merged := generateMergedRequests(bios, c.mergingSize, &c.seq)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return nil
	}
	for _, mr := range merged {
		c.reqCh <- mr
	}
	return nil
}

// StopPrefetch closes the prefetch request channel. Workers still handle the
// merged requests already queued in the channel (it buffers up to 128) and
// exit once it is drained; Prefetch calls made after StopPrefetch enqueue
// nothing. StopPrefetch does not wait for the workers to exit.
func (c *Cache) StopPrefetch() {
	if !c.prefetchEnabled {
		return
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.reqCh)
}

// BlobSize returns blobID's memoized size: backend-queried if the backend is
// authoritative for sizes (streaming compressors), else 0.
func (c *Cache) BlobSize(blobID string) (int64, error) {
	_, size, err := c.state.getBlobFD(blobID, c.backend)
	if err != nil {
		return 0, errors.Wrap(err, "query blob size")
	}
	return size, nil
}

// Init warms up the backend's own caches for each blob's configured
// readahead range. Backend errors are swallowed: this is best-effort.
func (c *Cache) Init(_ SuperMeta, blobs []BlobInfo) error {
	var eg errgroup.Group
	for _, b := range blobs {
		b := b
		eg.Go(func() error {
			if err := c.backend.PrefetchBlob(b.BlobID, b.ReadaheadOffset, b.ReadaheadSize); err != nil {
				c.logger.WithError(err).WithField("blob", b.BlobID).Debug("backend readahead warm-up failed")
			}
			return nil
		})
	}
	return eg.Wait()
}

// Flush is not implemented: the cache never buffers writes to flush.
func (c *Cache) Flush() error {
	return ErrNotSupported
}

// Write is not implemented: the cache does not support writing user data.
func (c *Cache) Write(_ string, _ ChunkInfo, _ []byte) (int, error) {
	return 0, ErrNotSupported
}

// Release is a no-op; blob file handles live until process exit.
func (c *Cache) Release() {}

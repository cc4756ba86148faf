// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"github.com/pkg/errors"
)

// entryRead serves up to size bytes starting at offsetInChunk within the
// chunk owned by e, scattering into bufs, and holds e.mu for the whole
// operation -- this is what makes "at most one fetch per chunk" true under
// concurrent readers.
func (c *Cache) entryRead(blobID string, e *entry, bufs [][]byte, offsetInChunk int64, size int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	chunk := e.chunk
	reuse := false

	// Fast path: decompressed-at-rest cache, no validation required, already Ready.
	if !c.cacheCompressed && !c.validate && e.isReady() {
		return e.readPartial(bufs, int64(chunk.DecompressOffset())+offsetInChunk, size)
	}

	dSize := int(chunk.DecompressSize())
	var scratch []byte
	if !c.cacheCompressed && len(bufs) == 1 && len(bufs[0]) >= dSize && offsetInChunk == 0 {
		// Whole-chunk read into a single large-enough destination: alias it
		// as scratch and elide the extra copy.
		reuse = true
		scratch = bufs[0][:dSize]
	} else {
		scratch = make([]byte, dSize)
	}

	// Cache-recovery attempt, unless this is a streaming compressor and the
	// entry has never been written by this process: streaming compressors
	// carry no per-chunk digest, so cache contents cannot be trusted until
	// this process wrote them itself.
	wasReady := e.isReady()
	canRecover := !(c.compressor.Streaming() && !wasReady)
	if canRecover {
		needValidate := !wasReady || c.validate
		err := c.readBlobcacheChunk(e, chunk, scratch, needValidate)
		if err == nil {
			if reuse {
				return len(scratch), nil
			}
			return copyv(scratch, bufs, offsetInChunk, size)
		}
		// A chunk that was already Ready (i.e. this process previously wrote
		// and validated it) failing its digest check now means the on-disk
		// copy was corrupted after the fact -- that is not recoverable by
		// re-fetching silently, it must surface as a hard failure. A
		// recovery failure on a NotReady entry (never-validated or missing
		// data) is the ordinary, recoverable case that falls through to the
		// backend below.
		if wasReady && errors.Is(err, ErrIntegrityViolation) {
			return 0, err
		}
	}

	// Backend miss: fetch, validate (if CacheValidate), persist, mark Ready.
	decompressed, err := c.fetchChunkFromBackend(blobID, chunk)
	if err != nil {
		return 0, errors.Wrap(err, "fetch chunk from backend")
	}
	if c.validate {
		if got := c.digester.Digest(decompressed); got != chunk.ChunkDigest() {
			return 0, errors.Wrapf(ErrIntegrityViolation, "chunk %s: digest mismatch in backend data", chunk.ChunkDigest())
		}
	}
	copy(scratch, decompressed)

	persistBuf, persistOffset, perr := c.persistBytes(blobID, chunk, decompressed)
	if perr != nil {
		// The decompressed bytes are already in hand and are still returned
		// to the caller; without the as-stored bytes there is nothing safe
		// to persist, so readiness is left unset.
		c.logger.WithError(perr).Warn("failed to obtain bytes to persist chunk to cache file")
	} else if err := e.cache(persistBuf, persistOffset); err != nil {
		// Persist failures are logged, not fatal: the bytes are already in
		// hand and are still returned to the caller. Readiness is not set.
		c.logger.WithError(err).Warn("failed to persist chunk to cache file")
	}

	if reuse {
		return len(scratch), nil
	}
	return copyv(scratch, bufs, offsetInChunk, size)
}

// readBlobcacheChunk recovers one chunk from the on-disk cache file into out,
// optionally validating its digest. The caller (entryRead) falls back to the
// backend on any failure here, except a digest mismatch on an entry that was
// already Ready, which it returns as ErrIntegrityViolation.
func (c *Cache) readBlobcacheChunk(e *entry, chunk ChunkInfo, out []byte, needValidate bool) error {
	offset := chunk.DecompressOffset()
	if c.cacheCompressed {
		offset = chunk.CompressOffset()
	}

	var decoded int
	switch {
	case c.compressor.Streaming():
		// No recorded compressed size for streaming codecs: hand the codec a
		// reader positioned at offset and let it consume exactly one chunk.
		r := e.streamReader(offset, int64(chunk.DecompressSize()))
		n, err := c.compressor.DecompressStream(r, out)
		if err != nil {
			return errors.Wrap(err, "decompress stream chunk")
		}
		decoded = n
	case c.cacheCompressed:
		raw := make([]byte, chunk.CompressSize())
		n, err := e.file.ReadAt(raw, offset)
		if err != nil || n != len(raw) {
			return errors.Wrap(ErrInvalidArgument, "short read of compressed chunk from cache file")
		}
		n, err = c.compressor.Decompress(raw, out)
		if err != nil {
			return errors.Wrap(err, "decompress chunk")
		}
		decoded = n
	default:
		n, err := e.file.ReadAt(out, offset)
		if err != nil || n != len(out) {
			return errors.Wrap(ErrInvalidArgument, "short read of decompressed chunk from cache file")
		}
		decoded = n
	}

	if needValidate {
		got := c.digester.Digest(out[:decoded])
		if got != chunk.ChunkDigest() {
			return errors.Wrapf(ErrIntegrityViolation, "chunk %s: digest mismatch", chunk.ChunkDigest())
		}
	}
	return nil
}

// fetchChunkFromBackend fetches a single chunk from the backend, returning
// its decompressed bytes.
func (c *Cache) fetchChunkFromBackend(blobID string, chunk ChunkInfo) ([]byte, error) {
	bufs, err := c.backend.ReadChunks(blobID, chunk.CompressOffset(), int64(chunk.CompressSize()), []ChunkInfo{chunk})
	if err != nil {
		return nil, errors.Wrap(ErrBackendError, err.Error())
	}
	if len(bufs) != 1 {
		return nil, errors.Wrap(ErrBackendError, "backend returned unexpected chunk count")
	}
	return bufs[0], nil
}

// persistBytes decides what bytes, and at what blob-file offset, should be
// written to disk for chunk given its already-fetched decompressed bytes.
// In decompressed-at-rest mode this is simply decompressed at
// DecompressOffset. In compressed-at-rest mode (cacheCompressed) a
// compressed chunk's as-stored bytes are not decompressed's bytes, so they
// must be re-fetched raw via TryRead -- Backend.ReadChunks only ever returns
// decompressed data, never the as-stored form. An uncompressed chunk's
// as-stored bytes are its decompressed bytes, so no extra fetch is needed.
func (c *Cache) persistBytes(blobID string, chunk ChunkInfo, decompressed []byte) ([]byte, int64, error) {
	if !c.cacheCompressed {
		return decompressed, chunk.DecompressOffset(), nil
	}
	if !chunk.IsCompressed() {
		return decompressed, chunk.CompressOffset(), nil
	}

	raw := make([]byte, chunk.CompressSize())
	if n, err := c.backend.TryRead(blobID, raw, chunk.CompressOffset()); err != nil || n != len(raw) {
		return nil, 0, errors.Wrap(ErrBackendError, "failed to obtain raw compressed bytes for compressed-cache persist")
	}
	return raw, chunk.CompressOffset(), nil
}

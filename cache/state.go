// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// blobHandle is the open file handle for one blob-id's local cache file, plus
// its known size (0 if unknown -- the file grows sparsely as chunks land at
// their natural offsets).
type blobHandle struct {
	file *os.File
	size int64
}

// state is the cache-state table: chunk_map (digest -> entry) and file_map
// (blob-id -> blob file handle), guarded by a single readers-writer lock.
// Read-only lookups take shared access; inserts and evictions take exclusive
// access. An insert that is the first reference to a blob also opens that
// blob's cache file, and queries the backend for its size when
// backendSizeValid is set, while holding the exclusive lock.
type state struct {
	mu               sync.RWMutex
	chunkMap         map[Digest]*entry
	fileMap          map[string]*blobHandle
	workDir          string
	backendSizeValid bool
}

func newState(workDir string, backendSizeValid bool) *state {
	return &state{
		chunkMap:         make(map[Digest]*entry),
		fileMap:          make(map[string]*blobHandle),
		workDir:          workDir,
		backendSizeValid: backendSizeValid,
	}
}

// get performs a shared-lock lookup by digest.
func (s *state) get(digest Digest) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.chunkMap[digest]
	s.mu.RUnlock()
	return e, ok
}

// getOrInsert returns the existing entry for chunk's digest, or atomically
// constructs and inserts a fresh NotReady one referencing blobID's (possibly
// newly opened) blob file. A concurrent inserter racing on the same digest
// always wins exactly one insert; the loser observes that entry instead.
func (s *state) getOrInsert(blobID string, chunk ChunkInfo, backend Backend) (*entry, error) {
	digest := chunk.ChunkDigest()

	s.mu.RLock()
	if e, ok := s.chunkMap[digest]; ok {
		s.mu.RUnlock()
		return e, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.chunkMap[digest]; ok {
		return e, nil
	}

	file, _, err := s.openBlobLocked(blobID, backend)
	if err != nil {
		return nil, err
	}

	e := newEntry(chunk, file)
	s.chunkMap[digest] = e
	return e, nil
}

// getBlobFD returns the memoized open file and its known size (0 if unknown
// and the backend is not authoritative for blob sizes), opening and recording
// the blob's cache file on first reference.
func (s *state) getBlobFD(blobID string, backend Backend) (*os.File, int64, error) {
	s.mu.RLock()
	if h, ok := s.fileMap[blobID]; ok {
		file, size := h.file, h.size
		s.mu.RUnlock()
		return file, size, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openBlobLocked(blobID, backend)
}

// openBlobLocked must be called with s.mu held for writing.
func (s *state) openBlobLocked(blobID string, backend Backend) (*os.File, int64, error) {
	if h, ok := s.fileMap[blobID]; ok {
		return h.file, h.size, nil
	}

	path := filepath.Join(s.workDir, blobID)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "open blob cache file %s", path)
	}

	var size int64
	if s.backendSizeValid {
		size, err = backend.BlobSize(blobID)
		if err != nil {
			file.Close()
			return nil, 0, errors.Wrapf(err, "query blob size for %s", blobID)
		}
	}

	s.fileMap[blobID] = &blobHandle{file: file, size: size}
	return file, size, nil
}

// remove drops digest's entry from the map. The on-disk file content is left
// untouched, enabling future recovery without a refetch.
func (s *state) remove(digest Digest) {
	s.mu.Lock()
	delete(s.chunkMap, digest)
	s.mu.Unlock()
}

// has reports whether an entry for digest currently exists.
func (s *state) has(digest Digest) bool {
	s.mu.RLock()
	_, ok := s.chunkMap[digest]
	s.mu.RUnlock()
	return ok
}

func ensureWorkDir(dir string) error {
	fi, err := os.Stat(dir)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return errors.Wrapf(mkErr, "create work dir %s", dir)
		}
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "stat work dir %s", dir)
	}
	if !fi.IsDir() {
		return errors.Errorf("work dir %s is not a directory", dir)
	}
	return nil
}
